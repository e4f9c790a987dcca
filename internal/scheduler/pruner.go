/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/store"
)

const defaultRetentionDays = 30

// HistoryPruner periodically removes old execution records. The retention
// period is re-read from system config on every pass so operators can change
// it without a restart.
type HistoryPruner struct {
	store    store.Store
	log      logr.Logger
	interval time.Duration
	stopCh   chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewHistoryPruner creates a new history pruner
func NewHistoryPruner(st store.Store, log logr.Logger) *HistoryPruner {
	return &HistoryPruner{
		store:    st,
		log:      log.WithName("pruner"),
		interval: 6 * time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the pruner loop
func (p *HistoryPruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	p.log.Info("starting history pruner", "interval", p.interval)

	// Run immediately on start
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

// Stop halts the pruner
func (p *HistoryPruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		close(p.stopCh)
		p.running = false
	}
}

// SetInterval changes the prune interval
func (p *HistoryPruner) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

func (p *HistoryPruner) prune(ctx context.Context) {
	retentionDays := p.retentionDays(ctx)
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	count, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.log.Error(err, "failed to prune history")
		return
	}

	if count > 0 {
		p.log.Info("pruned execution history", "recordsDeleted", count, "cutoff", cutoff)
	}
}

func (p *HistoryPruner) retentionDays(ctx context.Context) int {
	raw, err := p.store.GetConfig(ctx, store.ConfigLogRetentionDays)
	if err != nil || raw == "" {
		return defaultRetentionDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return defaultRetentionDays
	}
	return days
}
