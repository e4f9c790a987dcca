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
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type emailChannel struct {
	name        string
	host        string
	port        string
	username    string
	password    string
	from        string
	to          []string
	rateLimiter *rate.Limiter

	// injectable for tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel from a channel config map.
// Recognized keys: smtp_host (required), smtp_port, username, password,
// from (required), to (comma-separated, required).
func NewEmailChannel(name string, config map[string]string) (Channel, error) {
	host := config["smtp_host"]
	if host == "" {
		return nil, fmt.Errorf("smtp_host required for email channel")
	}
	from := config["from"]
	if from == "" {
		return nil, fmt.Errorf("from required for email channel")
	}
	var to []string
	for _, addr := range strings.Split(config["to"], ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("to required for email channel")
	}

	port := config["smtp_port"]
	if port == "" {
		port = "587"
	}

	return &emailChannel{
		name:        name,
		host:        host,
		port:        port,
		username:    config["username"],
		password:    config["password"],
		from:        from,
		to:          to,
		rateLimiter: rate.NewLimiter(rate.Limit(100.0/3600), 10), // 100/hour, burst 10
		sendMail:    smtp.SendMail,
	}, nil
}

// Name returns the channel name
func (e *emailChannel) Name() string {
	return e.name
}

// Type returns the channel type
func (e *emailChannel) Type() string {
	return "email"
}

// Send delivers a message via SMTP
func (e *emailChannel) Send(ctx context.Context, msg Message) error {
	if !e.rateLimiter.Allow() {
		return fmt.Errorf("rate limit exceeded for channel %s", e.name)
	}

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(e.host+":"+e.port, auth, e.from, e.to, []byte(b.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Test sends a test message
func (e *emailChannel) Test(ctx context.Context) error {
	return e.Send(ctx, Message{
		Title:     "Pinchy测试通知",
		Body:      "这是一条测试通知，收到即表示渠道配置正确。",
		Timestamp: time.Now(),
	})
}
