package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	channels []string
}

func (n *recordingNotifier) Send(_ context.Context, channel string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) TestChannel(context.Context, string) error { return nil }
func (n *recordingNotifier) Reload(context.Context) error              { return nil }

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newRunner(t *testing.T) (*Runner, *store.GormStore, *recordingNotifier) {
	st, err := store.NewGormStore("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Close() })

	notifier := &recordingNotifier{}
	clk := clock.New(st, logr.Discard())
	return New(st, clk, notifier, logr.Discard()), st, notifier
}

type captured struct {
	method        string
	query         string
	header        http.Header
	contentLength int64
	body          string
}

func captureServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.query = r.URL.RawQuery
		got.header = r.Header.Clone()
		got.contentLength = r.ContentLength
		got.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRun_ExpandsVariables(t *testing.T) {
	ctx := context.Background()
	runner, st, _ := newRunner(t)
	srv, got := captureServer(t, http.StatusOK, `{"ok":true}`)

	require.NoError(t, st.UpsertEnvVar(ctx, &store.EnvVar{Key: "NAME", Value: "世界"}))

	probe := &store.Probe{
		Name:   "vars",
		Method: "POST",
		URL:    srv.URL + "/t?ts=[timestmp.10]",
		Headers: map[string]string{
			"Content-Length": "自动计算",
			"X-R":            "[random.5-5]",
		},
		Payload: `{"n":"[getenv.NAME]"}`,
		Active:  true,
	}
	require.NoError(t, st.CreateProbe(ctx, probe))

	runner.Run(ctx, probe.ID)

	assert.Equal(t, "POST", got.method)
	assert.Regexp(t, regexp.MustCompile(`^ts=\d{10}$`), got.query)
	assert.Equal(t, "5", got.header.Get("X-R"))
	assert.Equal(t, `{"n":"世界"}`, got.body)
	// UTF-8 byte length, not rune count
	assert.Equal(t, int64(len(got.body)), got.contentLength)
	assert.Greater(t, got.contentLength, int64(len([]rune(got.body))))

	logs, total, err := st.ListProbeLogs(ctx, probe.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	entry := logs[0]
	assert.Equal(t, store.StatusSuccess, entry.Status)
	require.NotNil(t, entry.ResponseStatus)
	assert.Equal(t, http.StatusOK, *entry.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, entry.ResponseBody)
	assert.Equal(t, `{"n":"世界"}`, entry.RequestPayload)
	assert.Regexp(t, regexp.MustCompile(`ts=\d{10}$`), entry.URL)
	require.NotNil(t, entry.EndTime)
}

func TestRun_HTTPErrorStatusIsFailed(t *testing.T) {
	ctx := context.Background()
	runner, st, _ := newRunner(t)
	srv, _ := captureServer(t, http.StatusBadGateway, "upstream down")

	probe := &store.Probe{Name: "failing", Method: "GET", URL: srv.URL, Active: true}
	require.NoError(t, st.CreateProbe(ctx, probe))

	runner.Run(ctx, probe.ID)

	logs, _, err := st.ListProbeLogs(ctx, probe.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, store.StatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ResponseStatus)
	assert.Equal(t, http.StatusBadGateway, *logs[0].ResponseStatus)
	assert.Equal(t, "upstream down", logs[0].ResponseBody)
}

func TestRun_NetworkErrorIsError(t *testing.T) {
	ctx := context.Background()
	runner, st, _ := newRunner(t)

	probe := &store.Probe{Name: "unreachable", Method: "GET", URL: "http://127.0.0.1:1/nothing", Active: true}
	require.NoError(t, st.CreateProbe(ctx, probe))

	runner.Run(ctx, probe.ID)

	logs, _, err := st.ListProbeLogs(ctx, probe.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, store.StatusError, logs[0].Status)
	assert.NotEmpty(t, logs[0].ErrorMessage)
	assert.Nil(t, logs[0].ResponseStatus)
}

func TestRun_MissingProbeIsNoop(t *testing.T) {
	runner, st, notifier := newRunner(t)
	runner.Run(context.Background(), 4242)

	logs, _, err := st.ListProbeLogs(context.Background(), 4242, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, notifier.count())
}

func TestRun_ExplicitContentLengthKept(t *testing.T) {
	ctx := context.Background()
	runner, st, _ := newRunner(t)
	srv, got := captureServer(t, http.StatusOK, "ok")

	probe := &store.Probe{
		Name:    "pinned",
		Method:  "POST",
		URL:     srv.URL,
		Headers: map[string]string{"Content-Length": "4"},
		Payload: "abcd",
		Active:  true,
	}
	require.NoError(t, st.CreateProbe(ctx, probe))

	runner.Run(ctx, probe.ID)

	assert.Equal(t, int64(4), got.contentLength)
	assert.Equal(t, "abcd", got.body)
}

func TestRun_MalformedContentLengthFallsBackToPayload(t *testing.T) {
	ctx := context.Background()
	runner, st, _ := newRunner(t)
	srv, got := captureServer(t, http.StatusOK, "ok")

	probe := &store.Probe{
		Name:    "badlen",
		Method:  "POST",
		URL:     srv.URL,
		Headers: map[string]string{"Content-Length": "not-a-number"},
		Payload: "abcd",
		Active:  true,
	}
	require.NoError(t, st.CreateProbe(ctx, probe))

	runner.Run(ctx, probe.ID)

	// An unparseable override is discarded in favor of the payload length
	assert.Equal(t, int64(len(got.body)), got.contentLength)
	assert.Equal(t, "abcd", got.body)
}

func TestNotifyConditions(t *testing.T) {
	cases := []struct {
		name       string
		condition  string
		httpStatus int
		wantNotify bool
	}{
		{"always on success", store.NotifyAlways, http.StatusOK, true},
		{"always on failure", store.NotifyAlways, http.StatusInternalServerError, true},
		{"success on success", store.NotifyOnSuccess, http.StatusOK, true},
		{"success on failure", store.NotifyOnSuccess, http.StatusInternalServerError, false},
		{"error on success", store.NotifyOnError, http.StatusOK, false},
		{"error on failure", store.NotifyOnError, http.StatusInternalServerError, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			runner, st, notifier := newRunner(t)
			srv, _ := captureServer(t, tc.httpStatus, "x")

			probe := &store.Probe{
				Name:            "notify",
				Method:          "GET",
				URL:             srv.URL,
				NotifyEnabled:   true,
				NotifyChannel:   "ops",
				NotifyCondition: tc.condition,
				Active:          true,
			}
			require.NoError(t, st.CreateProbe(ctx, probe))

			runner.Run(ctx, probe.ID)

			if tc.wantNotify {
				require.Equal(t, 1, notifier.count())
				assert.Equal(t, []string{"ops"}, notifier.channels)
				assert.Contains(t, notifier.messages[0].Title, "notify")
			} else {
				assert.Zero(t, notifier.count())
			}
		})
	}
}

func TestNotifyDisabledOrUnconfigured(t *testing.T) {
	ctx := context.Background()
	runner, st, notifier := newRunner(t)
	srv, _ := captureServer(t, http.StatusOK, "x")

	disabled := &store.Probe{Name: "off", Method: "GET", URL: srv.URL, NotifyEnabled: false, NotifyChannel: "ops"}
	require.NoError(t, st.CreateProbe(ctx, disabled))
	noChannel := &store.Probe{Name: "nochan", Method: "GET", URL: srv.URL, NotifyEnabled: true}
	require.NoError(t, st.CreateProbe(ctx, noChannel))

	runner.Run(ctx, disabled.ID)
	runner.Run(ctx, noChannel.ID)

	assert.Zero(t, notifier.count())
}
