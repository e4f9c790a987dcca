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
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"
)

type webhookChannel struct {
	name        string
	url         string
	method      string
	headers     map[string]string
	template    *template.Template
	rateLimiter *rate.Limiter
	httpClient  *http.Client
}

// NewWebhookChannel creates a webhook channel from a channel config map.
// Recognized keys: url (required), method, payload_template, header.<Name>.
func NewWebhookChannel(name string, config map[string]string) (Channel, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("url required for webhook channel")
	}

	wc := &webhookChannel{
		name:    name,
		url:     url,
		method:  config["method"],
		headers: make(map[string]string),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if wc.method == "" {
		wc.method = "POST"
	}
	for k, v := range config {
		if h, ok := strings.CutPrefix(k, "header."); ok {
			wc.headers[h] = v
		}
	}

	tmplStr := defaultWebhookTemplate
	if config["payload_template"] != "" {
		tmplStr = config["payload_template"]
	}
	tmpl, err := template.New("webhook").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	wc.template = tmpl

	wc.rateLimiter = rate.NewLimiter(rate.Limit(100.0/3600), 10) // 100/hour, burst 10

	return wc, nil
}

// Name returns the channel name
func (w *webhookChannel) Name() string {
	return w.name
}

// Type returns the channel type
func (w *webhookChannel) Type() string {
	return "webhook"
}

// Send delivers a message via webhook
func (w *webhookChannel) Send(ctx context.Context, msg Message) error {
	if !w.rateLimiter.Allow() {
		return fmt.Errorf("rate limit exceeded for channel %s", w.name)
	}

	var buf bytes.Buffer
	if err := w.template.Execute(&buf, msg); err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Test sends a test message
func (w *webhookChannel) Test(ctx context.Context) error {
	return w.Send(ctx, Message{
		Title:     "Pinchy测试通知",
		Body:      "这是一条测试通知，收到即表示渠道配置正确。",
		Timestamp: time.Now(),
	})
}

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
	"jsonEscape": func(s string) string {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
		return r.Replace(s)
	},
}

var defaultWebhookTemplate = `{
  "title": "{{ jsonEscape .Title }}",
  "body": "{{ jsonEscape .Body }}",
  "timestamp": "{{ formatTime .Timestamp }}"
}`
