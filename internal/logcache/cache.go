// Package logcache keeps the live stdout/stderr of running tasks in memory so
// WebSocket clients that join mid-run can replay what they missed. Entries
// linger for a short grace period after the task reaches a terminal state.
package logcache

import (
	"sync"
	"time"
)

// RetainAfterExit is how long a finished task's entry stays replayable.
const RetainAfterExit = 5 * time.Minute

// Entry is the replayable buffer for one task execution
type Entry struct {
	LogID       int64
	OutputLines []string
	ErrorLines  []string
	StartTime   time.Time
}

type record struct {
	entry   Entry
	timer   *time.Timer
	expired bool
}

// Cache holds one live-log entry per task
type Cache struct {
	mu      sync.Mutex
	entries map[int64]*record
	retain  time.Duration
}

// New creates a Cache with the default post-exit retention
func New() *Cache {
	return NewWithRetention(RetainAfterExit)
}

// NewWithRetention creates a Cache with a custom post-exit retention
func NewWithRetention(retain time.Duration) *Cache {
	return &Cache{
		entries: make(map[int64]*record),
		retain:  retain,
	}
}

// Begin starts a fresh entry for a task, replacing any previous one
func (c *Cache) Begin(taskID, logID int64, startTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[taskID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	c.entries[taskID] = &record{
		entry: Entry{LogID: logID, StartTime: startTime},
	}
}

// AppendOutput appends a stdout line to the task's entry
func (c *Cache) AppendOutput(taskID int64, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[taskID]; ok {
		rec.entry.OutputLines = append(rec.entry.OutputLines, line)
	}
}

// AppendError appends a stderr line to the task's entry
func (c *Cache) AppendError(taskID int64, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[taskID]; ok {
		rec.entry.ErrorLines = append(rec.entry.ErrorLines, line)
	}
}

// Finish marks the task terminal and arms the eviction timer
func (c *Cache) Finish(taskID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[taskID]
	if !ok || rec.expired {
		return
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.expired = true
	rec.timer = time.AfterFunc(c.retain, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A new run may have replaced the record in the meantime
		if cur, ok := c.entries[taskID]; ok && cur == rec {
			delete(c.entries, taskID)
		}
	})
}

// Get returns a copy of the task's entry, nil when absent
func (c *Cache) Get(taskID int64) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[taskID]
	if !ok {
		return nil
	}
	out := Entry{
		LogID:       rec.entry.LogID,
		OutputLines: append([]string(nil), rec.entry.OutputLines...),
		ErrorLines:  append([]string(nil), rec.entry.ErrorLines...),
		StartTime:   rec.entry.StartTime,
	}
	return &out
}

// Clear drops the task's entry immediately
func (c *Cache) Clear(taskID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[taskID]; ok {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(c.entries, taskID)
	}
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
