package notify

import (
	"context"
	"time"
)

// Message is a rendered notification ready for delivery
type Message struct {
	Title     string
	Body      string
	Timestamp time.Time
}

// Channel represents a notification delivery channel
type Channel interface {
	// Name returns the channel name
	Name() string

	// Type returns the channel type (webhook, email)
	Type() string

	// Send delivers a message
	Send(ctx context.Context, msg Message) error

	// Test sends a test message
	Test(ctx context.Context) error
}

// Notifier routes messages to named channels
type Notifier interface {
	// Send delivers a message through the named channel. Unknown or inactive
	// channels are skipped without error.
	Send(ctx context.Context, channelName string, msg Message) error

	// TestChannel sends a test message through a specific channel
	TestChannel(ctx context.Context, channelName string) error

	// Reload rebuilds the channel registry from the store
	Reload(ctx context.Context) error
}
