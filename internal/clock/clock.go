// Package clock resolves "now" in the operator-configured timezone. The
// timezone lives in the runtime config table so it can be changed without a
// restart; lookups are cached briefly to keep hot paths off the database.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/store"
)

// DefaultTimezone is used when the config table has no timezone set.
const DefaultTimezone = "Asia/Shanghai"

const cacheTTL = 30 * time.Second

// Clock returns the current time in the configured timezone
type Clock struct {
	store store.Store
	log   logr.Logger

	mu       sync.Mutex
	loc      *time.Location
	loadedAt time.Time
}

// New creates a Clock backed by the given store
func New(st store.Store, log logr.Logger) *Clock {
	return &Clock{store: st, log: log.WithName("clock")}
}

// Now returns the current time in the configured timezone
func (c *Clock) Now(ctx context.Context) time.Time {
	return time.Now().In(c.Location(ctx))
}

// Location returns the configured timezone, falling back to UTC when the
// configured name cannot be loaded
func (c *Clock) Location(ctx context.Context) *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loc != nil && time.Since(c.loadedAt) < cacheTTL {
		return c.loc
	}

	name, err := c.store.GetConfig(ctx, store.ConfigTimezone)
	if err != nil {
		c.log.Error(err, "failed to read timezone config")
		if c.loc != nil {
			return c.loc
		}
		return time.UTC
	}
	if name == "" {
		name = DefaultTimezone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		c.log.Error(err, "invalid timezone, falling back to UTC", "timezone", name)
		loc = time.UTC
	}

	c.loc = loc
	c.loadedAt = time.Now()
	return c.loc
}

// Invalidate drops the cached location so the next call re-reads the config
func (c *Clock) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loc = nil
}

// Format renders t in the configured timezone using the platform's
// conventional layout
func (c *Clock) Format(ctx context.Context, t time.Time) string {
	return t.In(c.Location(ctx)).Format("2006-01-02 15:04:05")
}

// StartOfDay returns midnight of the current day in the configured timezone
func (c *Clock) StartOfDay(ctx context.Context) time.Time {
	now := c.Now(ctx)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
