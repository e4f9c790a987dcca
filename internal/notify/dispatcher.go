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

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/pinchyhq/pinchy/internal/store"
)

type dispatcher struct {
	store store.Store
	log   logr.Logger

	channelMu     sync.RWMutex
	channels      map[string]Channel // name -> channel
	globalLimiter *rate.Limiter
}

// NewDispatcher creates a Notifier whose channels are built from the store's
// notification_channels table. Call Reload after channel rows change.
func NewDispatcher(st store.Store, log logr.Logger) Notifier {
	return &dispatcher{
		store:         st,
		log:           log.WithName("notify"),
		channels:      make(map[string]Channel),
		globalLimiter: rate.NewLimiter(rate.Limit(50.0/60.0), 10), // 50/min, burst 10
	}
}

// Reload rebuilds the channel registry from the store
func (d *dispatcher) Reload(ctx context.Context) error {
	rows, err := d.store.ListNotificationChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notification channels: %w", err)
	}

	channels := make(map[string]Channel, len(rows))
	for i := range rows {
		row := &rows[i]
		if !row.Active {
			continue
		}
		ch, err := buildChannel(row)
		if err != nil {
			d.log.Error(err, "skipping misconfigured channel", "channel", row.Name, "type", row.Type)
			continue
		}
		channels[row.Name] = ch
	}

	d.channelMu.Lock()
	d.channels = channels
	d.channelMu.Unlock()

	d.log.Info("notification channels loaded", "count", len(channels))
	return nil
}

func buildChannel(row *store.NotificationChannel) (Channel, error) {
	switch row.Type {
	case "webhook":
		return NewWebhookChannel(row.Name, row.Config)
	case "email":
		return NewEmailChannel(row.Name, row.Config)
	default:
		return nil, fmt.Errorf("unknown channel type: %s", row.Type)
	}
}

// Send delivers a message through the named channel
func (d *dispatcher) Send(ctx context.Context, channelName string, msg Message) error {
	if channelName == "" {
		return nil
	}

	d.channelMu.RLock()
	ch, ok := d.channels[channelName]
	d.channelMu.RUnlock()

	if !ok {
		// Channel rows can change without a Reload in between; try once more
		// against the store before giving up.
		if err := d.Reload(ctx); err != nil {
			return err
		}
		d.channelMu.RLock()
		ch, ok = d.channels[channelName]
		d.channelMu.RUnlock()
		if !ok {
			d.log.Info("notification channel not configured, skipping", "channel", channelName)
			return nil
		}
	}

	if !d.globalLimiter.Allow() {
		d.log.Info("notification rate limited", "channel", channelName, "title", msg.Title)
		return fmt.Errorf("global rate limit exceeded")
	}

	if err := ch.Send(ctx, msg); err != nil {
		d.log.Error(err, "notification delivery failed", "channel", channelName, "type", ch.Type())
		return err
	}

	d.log.V(1).Info("notification sent", "channel", channelName, "type", ch.Type(), "title", msg.Title)
	return nil
}

// TestChannel sends a test message through a specific channel
func (d *dispatcher) TestChannel(ctx context.Context, channelName string) error {
	d.channelMu.RLock()
	ch, ok := d.channels[channelName]
	d.channelMu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return ch.Test(ctx)
}
