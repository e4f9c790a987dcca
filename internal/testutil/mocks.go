// Package testutil provides shared test utilities and mock implementations
// for use across the pinchy test suites.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/store"
)

// NewMemoryStore opens an in-memory sqlite store, migrated and cleaned up
// with the test.
func NewMemoryStore(t *testing.T) *store.GormStore {
	t.Helper()

	st, err := store.NewGormStore("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// RecordingNotifier is a notify.Notifier that records every call.
// Thread-safe; all fields are optional error injections.
type RecordingNotifier struct {
	mu       sync.Mutex
	channels []string
	messages []notify.Message
	reloads  int

	// Error injection
	SendError error
	TestError error
}

var _ notify.Notifier = (*RecordingNotifier)(nil)

// Send implements notify.Notifier
func (n *RecordingNotifier) Send(_ context.Context, channel string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.SendError != nil {
		return n.SendError
	}
	n.channels = append(n.channels, channel)
	n.messages = append(n.messages, msg)
	return nil
}

// TestChannel implements notify.Notifier
func (n *RecordingNotifier) TestChannel(context.Context, string) error {
	return n.TestError
}

// Reload implements notify.Notifier
func (n *RecordingNotifier) Reload(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reloads++
	return nil
}

// Count returns the number of successfully sent messages
func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// Messages returns a copy of the sent messages
func (n *RecordingNotifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

// Channels returns a copy of the channel names sent to
func (n *RecordingNotifier) Channels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.channels...)
}

// Reloads returns how many times Reload was called
func (n *RecordingNotifier) Reloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloads
}
