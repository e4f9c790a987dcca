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
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/pinchyhq/pinchy/internal/metrics"
)

// Engine wraps a cron runner with a keyed registry. Registering a key that
// already exists replaces the prior trigger atomically; the old trigger never
// fires again once Register returns.
type Engine struct {
	cron *cron.Cron
	log  logr.Logger

	mu      sync.Mutex
	entries map[string]engineEntry
}

type engineEntry struct {
	id   cron.EntryID
	kind string
}

// NewEngine creates an Engine evaluating cron expressions in the given
// location. Expressions may carry an optional leading seconds field.
func NewEngine(loc *time.Location, log logr.Logger) *Engine {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Engine{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		log:     log.WithName("cron"),
		entries: make(map[string]engineEntry),
	}
}

// Start begins firing registered triggers
func (e *Engine) Start() {
	e.cron.Start()
}

// Stop halts firing and waits for in-flight jobs started by the cron runner
func (e *Engine) Stop() {
	<-e.cron.Stop().Done()
}

// Register schedules fn under the key, replacing any prior registration
func (e *Engine) Register(key, kind, spec string, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.cron.AddFunc(spec, fn)
	if err != nil {
		return err
	}

	if prev, ok := e.entries[key]; ok {
		e.cron.Remove(prev.id)
		metrics.CronEntriesRegistered.WithLabelValues(prev.kind).Dec()
	}
	e.entries[key] = engineEntry{id: id, kind: kind}
	metrics.CronEntriesRegistered.WithLabelValues(kind).Inc()

	e.log.V(1).Info("registered trigger", "key", key, "spec", spec)
	return nil
}

// Remove drops a registration. Unknown keys are ignored.
func (e *Engine) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[key]
	if !ok {
		return
	}
	e.cron.Remove(entry.id)
	delete(e.entries, key)
	metrics.CronEntriesRegistered.WithLabelValues(entry.kind).Dec()

	e.log.V(1).Info("removed trigger", "key", key)
}

// Has reports whether a key is registered
func (e *Engine) Has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[key]
	return ok
}

// Keys returns all registered keys
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	return keys
}
