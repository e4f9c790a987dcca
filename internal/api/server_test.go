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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/executor"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/logcache"
	"github.com/pinchyhq/pinchy/internal/probe"
	"github.com/pinchyhq/pinchy/internal/scheduler"
	"github.com/pinchyhq/pinchy/internal/store"
	"github.com/pinchyhq/pinchy/internal/subscription"
	"github.com/pinchyhq/pinchy/internal/testutil"
)

type apiFixture struct {
	store    *store.GormStore
	hub      *hub.Hub
	cache    *logcache.Cache
	notifier *testutil.RecordingNotifier
	server   *httptest.Server
}

// newAPIFixture wires a full server over an in-memory store. Scripts run
// through sh so executor-backed endpoints work without real interpreters.
func newAPIFixture(t *testing.T) *apiFixture {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, st.SetConfig(ctx, store.ConfigPythonCommand, "sh"))

	log := logr.Discard()
	notifier := &testutil.RecordingNotifier{}
	clk := clock.New(st, log)
	h := hub.New(log)
	cache := logcache.New()
	root := t.TempDir()

	exec := executor.New(st, clk, cache, h, notifier, root, log)
	probes := probe.New(st, clk, notifier, log)
	subs := subscription.New(st, clk, h, notifier, root, log)
	engine := scheduler.NewEngine(time.UTC, log)
	dispatcher := scheduler.NewDispatcher(engine, st, exec, probes, subs, log)
	require.NoError(t, dispatcher.Start(ctx))
	t.Cleanup(dispatcher.Stop)

	s := NewServer(ServerOptions{
		Store:      st,
		Dispatcher: dispatcher,
		Hub:        h,
		Cache:      cache,
		Notifier:   notifier,
		Clock:      clk,
		Log:        log,
	})
	srv := httptest.NewServer(s.setupRoutes())
	t.Cleanup(srv.Close)

	return &apiFixture{store: st, hub: h, cache: cache, notifier: notifier, server: srv}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) writeScript(t *testing.T, name, content string) string {
	t.Helper()
	// Scripts live under the executor's root in this fixture
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func validTask(name, scriptPath string) map[string]any {
	return map[string]any{
		"name":        name,
		"script_path": scriptPath,
		"script_kind": store.ScriptPython,
		"cron_expr":   "0 0 * * *",
		"active":      false,
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Storage)
	assert.Equal(t, "dev", health.Version)
	assert.NotEmpty(t, health.Uptime)
}

func TestStats_Empty(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[StatsResponse](t, resp)
	assert.Empty(t, stats.RunningTaskIDs)
	assert.Zero(t, stats.WebsocketClients)
	assert.Zero(t, stats.Logs.Total)
}

func TestTaskCRUD(t *testing.T) {
	f := newAPIFixture(t)

	// Create
	resp := f.do(t, http.MethodPost, "/api/v1/tasks", validTask("backup", "/scripts/backup.py"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[store.Task](t, resp)
	assert.NotZero(t, created.ID)
	assert.Equal(t, store.DefaultGroup, created.GroupName)

	// Duplicate name
	resp = f.do(t, http.MethodPost, "/api/v1/tasks", validTask("backup", "/scripts/other.py"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Get
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[store.Task](t, resp)
	assert.Equal(t, "backup", got.Name)

	// Update
	got.GroupName = "nightly"
	resp = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", created.ID), got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[store.Task](t, resp)
	assert.Equal(t, "nightly", updated.GroupName)

	// List
	resp = f.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[ListResponse[store.Task]](t, resp)
	assert.Equal(t, int64(1), list.Total)

	// List filtered by group
	resp = f.do(t, http.MethodGet, "/api/v1/tasks?group=nope", nil)
	list = decode[ListResponse[store.Task]](t, resp)
	assert.Zero(t, list.Total)

	// Delete
	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTask_Validation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"script_path": "/a.py", "script_kind": "python", "cron_expr": "* * * * *"}},
		{"missing script", map[string]any{"name": "x", "script_kind": "python", "cron_expr": "* * * * *"}},
		{"bad kind", map[string]any{"name": "x", "script_path": "/a.sh", "script_kind": "bash", "cron_expr": "* * * * *"}},
		{"missing cron", map[string]any{"name": "x", "script_path": "/a.py", "script_kind": "python"}},
		{"reserved prefix", validTask(store.GroupPlaceholderPrefix+"g", "/a.py")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/v1/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRunTask_ExecutesAndLogs(t *testing.T) {
	f := newAPIFixture(t)
	script := f.writeScript(t, "hello.sh", "#!/bin/sh\necho hi\n")

	task := validTask("run-me", script)
	resp := f.do(t, http.MethodPost, "/api/v1/tasks", task)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[store.Task](t, resp)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tasks/%d/run", created.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		logs, _, err := f.store.ListTaskLogs(context.Background(), store.TaskLogQuery{TaskID: created.ID, Limit: 1})
		return err == nil && len(logs) == 1 && logs[0].Status == store.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/logs", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[ListResponse[store.TaskLog]](t, resp)
	require.Equal(t, int64(1), logs.Total)
	assert.Equal(t, "hi\n", logs.Items[0].Output)
}

func TestRunTask_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/tasks/9999/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "NOT_FOUND", errResp.Error.Code)
}

func TestStopTask_NotRunning(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/tasks/42/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stop := decode[StopResponse](t, resp)
	assert.False(t, stop.Stopped)
}

func TestTaskNotifyConfig(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/tasks", validTask("notify-me", "/a.py"))
	created := decode[store.Task](t, resp)

	// Unset config comes back zero-valued
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/notify", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := decode[store.TaskNotifyConfig](t, resp)
	assert.Empty(t, cfg.Channel)

	resp = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d/notify", created.ID), map[string]any{
		"channel":    "ops",
		"error_only": true,
		"keywords":   "timeout,refused",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/notify", created.ID), nil)
	cfg = decode[store.TaskNotifyConfig](t, resp)
	assert.Equal(t, "ops", cfg.Channel)
	assert.True(t, cfg.ErrorOnly)
}

func TestInvalidID(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/v1/tasks/abc", "/api/v1/probes/0", "/api/v1/subscriptions/-1"} {
		resp := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestProbeCRUDAndRun(t *testing.T) {
	f := newAPIFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	resp := f.do(t, http.MethodPost, "/api/v1/probes", map[string]any{
		"name": "ping", "url": upstream.URL, "method": "GET",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[store.Probe](t, resp)

	// Missing url rejected
	resp = f.do(t, http.MethodPost, "/api/v1/probes", map[string]any{"name": "bad"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/probes/%d/run", created.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		logs, _, err := f.store.ListProbeLogs(context.Background(), created.ID, 1, 0)
		return err == nil && len(logs) == 1 && logs[0].Status == store.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/probes/%d/logs", created.ID), nil)
	logs := decode[ListResponse[store.ProbeLog]](t, resp)
	assert.Equal(t, int64(1), logs.Total)

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/probes/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSubscriptionCRUD(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"name":      "scripts",
		"git_url":   "https://example.com/repo.git",
		"save_dir":  "repo",
		"cron_expr": "0 * * * *",
		"active":    false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[store.Subscription](t, resp)

	// Missing fields rejected
	resp = f.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{"name": "incomplete"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/files", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decode[ListResponse[store.SubscriptionFile]](t, resp)
	assert.Zero(t, files.Total)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/logs", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/subscriptions/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/sync", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnvVars(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPut, "/api/v1/env", map[string]any{"key": "API_TOKEN", "value": "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Key is required
	resp = f.do(t, http.MethodPut, "/api/v1/env", map[string]any{"value": "orphan"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/env", nil)
	list := decode[ListResponse[store.EnvVar]](t, resp)
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "API_TOKEN", list.Items[0].Key)

	resp = f.do(t, http.MethodDelete, "/api/v1/env/API_TOKEN", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/env", nil)
	list = decode[ListResponse[store.EnvVar]](t, resp)
	assert.Zero(t, list.Total)
}

func TestSetConfig_TimezoneTakesEffect(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPut, "/api/v1/config/"+store.ConfigTimezone, map[string]any{"value": "UTC"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decode[ConfigEntryResponse](t, resp)
	assert.Equal(t, "UTC", entry.Value)

	value, err := f.store.GetConfig(context.Background(), store.ConfigTimezone)
	require.NoError(t, err)
	assert.Equal(t, "UTC", value)

	resp = f.do(t, http.MethodGet, "/api/v1/config", nil)
	list := decode[ListResponse[store.ConfigEntry]](t, resp)
	assert.GreaterOrEqual(t, list.Total, int64(1))
}

func TestChannels(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPut, "/api/v1/channels", map[string]any{
		"name": "ops", "type": "webhook",
		"config": map[string]string{"url": "https://example.com/hook"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.notifier.Reloads())

	// Type is required
	resp = f.do(t, http.MethodPut, "/api/v1/channels", map[string]any{"name": "typeless"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/channels", nil)
	list := decode[ListResponse[store.NotificationChannel]](t, resp)
	assert.Equal(t, int64(1), list.Total)

	resp = f.do(t, http.MethodPost, "/api/v1/channels/ops/test", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.notifier.TestError = errors.New("unreachable")
	resp = f.do(t, http.MethodPost, "/api/v1/channels/ops/test", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/channels/ops", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 2, f.notifier.Reloads())
}

func TestGroups(t *testing.T) {
	f := newAPIFixture(t)

	task := validTask("grouped", "/a.py")
	task["group_name"] = "analytics"
	resp := f.do(t, http.MethodPost, "/api/v1/tasks", task)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/groups", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	groups := decode[GroupsResponse](t, resp)
	assert.Contains(t, groups.Groups, "analytics")
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestGlobalWS_ReceivesBroadcast(t *testing.T) {
	f := newAPIFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL, "/api/v1/ws"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return f.hub.Count(hub.GlobalRoom) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.hub.Broadcast(hub.GlobalRoom, hub.NewTaskStart(7, "demo", 1))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event hub.TaskStart
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "task_start", event.Type)
	assert.Equal(t, int64(7), event.TaskID)
}

func TestTaskLogWS_ReplaysCachedOutput(t *testing.T) {
	f := newAPIFixture(t)

	f.cache.Begin(5, 11, time.Now())
	f.cache.AppendOutput(5, "line one")
	f.cache.AppendOutput(5, "line two")
	f.cache.AppendError(5, "oops")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL, "/api/v1/logs/ws/5"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var events []hub.TaskOutput
	for i := 0; i < 3; i++ {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var event hub.TaskOutput
		require.NoError(t, json.Unmarshal(payload, &event))
		events = append(events, event)
	}

	// stdout replays before stderr
	assert.Equal(t, "line one", events[0].OutputLine)
	assert.Equal(t, "stdout", events[0].OutputType)
	assert.Equal(t, "line two", events[1].OutputLine)
	assert.Equal(t, "oops", events[2].OutputLine)
	assert.Equal(t, "stderr", events[2].OutputType)
	for _, e := range events {
		assert.Equal(t, int64(11), e.LogID)
		assert.Equal(t, int64(5), e.TaskID)
	}
}

func TestTaskLogWS_PingPong(t *testing.T) {
	f := newAPIFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL, "/api/v1/logs/ws/9"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(payload))
}
