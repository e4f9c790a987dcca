// Package probe issues one-shot HTTP calls with variable expansion and
// records the exchange.
package probe

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/expand"
	"github.com/pinchyhq/pinchy/internal/metrics"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/store"
)

const requestTimeout = 30 * time.Second

// autoLengthSentinel in a Content-Length header means "compute from the
// expanded payload".
const autoLengthSentinel = "自动计算"

// bodyMethods are the methods that carry the probe payload
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Runner executes probes on demand or on schedule
type Runner struct {
	store    store.Store
	clock    *clock.Clock
	notifier notify.Notifier
	log      logr.Logger
	client   *http.Client
}

// New creates a probe Runner
func New(st store.Store, clk *clock.Clock, notifier notify.Notifier, log logr.Logger) *Runner {
	return &Runner{
		store:    st,
		clock:    clk,
		notifier: notifier,
		log:      log.WithName("probe"),
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Run executes one probe to completion. Missing probes are logged and skipped.
func (r *Runner) Run(ctx context.Context, probeID int64) {
	probe, err := r.store.GetProbe(ctx, probeID)
	if err != nil {
		r.log.Error(err, "failed to load probe", "probe_id", probeID)
		return
	}
	if probe == nil {
		r.log.Info("probe vanished before execution", "probe_id", probeID)
		return
	}

	expander, err := r.expander(ctx)
	if err != nil {
		r.log.Error(err, "failed to load environment variables", "probe", probe.Name)
		return
	}

	url := expander.Expand(ctx, probe.URL)
	headers := expander.ExpandMap(ctx, probe.Headers)
	payload := expander.Expand(ctx, probe.Payload)
	method := strings.ToUpper(probe.Method)
	if method == "" {
		method = http.MethodGet
	}

	startTime := r.clock.Now(ctx)
	probeLog := &store.ProbeLog{
		ProbeID:        probe.ID,
		ProbeName:      probe.Name,
		Method:         method,
		URL:            url,
		RequestHeaders: headers,
		RequestPayload: payload,
		StartTime:      startTime,
	}

	resp, elapsed, err := r.issue(ctx, method, url, headers, payload)
	endTime := r.clock.Now(ctx)
	probeLog.EndTime = &endTime
	probeLog.ResponseTimeMs = elapsed.Milliseconds()

	if err != nil {
		probeLog.Status = store.StatusError
		probeLog.ErrorMessage = err.Error()
		r.log.Error(err, "probe request failed", "probe", probe.Name, "url", url)
	} else {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		status := resp.StatusCode
		probeLog.ResponseStatus = &status
		probeLog.ResponseHeaders = flattenHeader(resp.Header)
		probeLog.ResponseBody = strings.ToValidUTF8(string(body), "�")
		if readErr != nil {
			probeLog.ErrorMessage = readErr.Error()
		}
		if status < 400 {
			probeLog.Status = store.StatusSuccess
		} else {
			probeLog.Status = store.StatusFailed
		}
		r.log.Info("probe finished", "probe", probe.Name, "status_code", status, "elapsed_ms", probeLog.ResponseTimeMs)
	}

	if err := r.store.CreateProbeLog(ctx, probeLog); err != nil {
		r.log.Error(err, "failed to record probe log", "probe", probe.Name)
	}
	metrics.RecordProbe(probe.Name, probeLog.Status, elapsed.Seconds())

	r.notifyOutcome(ctx, probe, probeLog)
}

// issue performs the HTTP exchange and times it
func (r *Runner) issue(ctx context.Context, method, url string, headers map[string]string, payload string) (*http.Response, time.Duration, error) {
	var body io.Reader
	if payload != "" && bodyMethods[method] {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}

	for k, v := range headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		req.Header.Set(k, v)
	}

	// Content-Length follows the expanded payload unless the probe pins an
	// explicit numeric value.
	if body != nil {
		req.ContentLength = int64(len(payload))
		if v, ok := headerValue(headers, "Content-Length"); ok && v != autoLengthSentinel {
			if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				req.ContentLength = n
			} else {
				r.log.Info("ignoring non-numeric Content-Length header, using payload length", "url", url, "value", v)
			}
		}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	return resp, time.Since(start), err
}

func (r *Runner) notifyOutcome(ctx context.Context, probe *store.Probe, probeLog *store.ProbeLog) {
	if !probe.NotifyEnabled || probe.NotifyChannel == "" {
		return
	}

	matched := false
	switch probe.NotifyCondition {
	case store.NotifyOnSuccess:
		matched = probeLog.Status == store.StatusSuccess
	case store.NotifyOnError:
		matched = probeLog.Status == store.StatusFailed || probeLog.Status == store.StatusError
	default:
		matched = true
	}
	if !matched {
		return
	}

	msg := notify.BuildProbeMessage(probeLog, r.clock.Location(ctx))
	sendErr := r.notifier.Send(ctx, probe.NotifyChannel, msg)
	metrics.RecordNotification(probe.NotifyChannel, sendErr)
}

// expander builds the variable expander backed by the stored EnvVar rows
func (r *Runner) expander(ctx context.Context) (*expand.Expander, error) {
	rows, err := r.store.ListEnvVars(ctx)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(rows))
	for _, row := range rows {
		vars[row.Key] = row.Value
	}
	return expand.New(func(_ context.Context, name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}), nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
