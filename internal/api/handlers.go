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
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/logcache"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/scheduler"
	"github.com/pinchyhq/pinchy/internal/store"
)

const defaultPageSize = 20

// Handlers contains all API handlers
type Handlers struct {
	store      store.Store
	dispatcher *scheduler.Dispatcher
	hub        *hub.Hub
	cache      *logcache.Cache
	notifier   notify.Notifier
	clock      *clock.Clock
	startTime  time.Time
	log        logr.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(st store.Store, d *scheduler.Dispatcher, h *hub.Hub, cache *logcache.Cache, n notify.Notifier, clk *clock.Clock, startTime time.Time, log logr.Logger) *Handlers {
	return &Handlers{
		store:      st,
		dispatcher: d,
		hub:        h,
		cache:      cache,
		notifier:   n,
		clock:      clk,
		startTime:  startTime,
		log:        log.WithName("handlers"),
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// GetHealth handles GET /api/v1/health
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storageStatus := "connected"
	if err := h.store.Health(ctx); err != nil {
		storageStatus = "error: " + err.Error()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Storage: storageStatus,
		Version: Version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// GetStats handles GET /api/v1/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.GetLogStats(ctx, h.clock.StartOfDay(ctx))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		RunningTaskIDs:   h.dispatcher.RunningTaskIDs(),
		WebsocketClients: h.hub.Count(""),
		Logs:             *stats,
	})
}

// ----------------------------------------------------------------------------
// Tasks

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tasks, err := h.store.ListTasks(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if group := r.URL.Query().Get("group"); group != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.GroupName == group {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	writeJSON(w, http.StatusOK, ListResponse[store.Task]{Items: tasks, Total: int64(len(tasks))})
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var task store.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	task.ID = 0
	if err := validateTask(&task); err != "" {
		writeError(w, http.StatusBadRequest, "INVALID_TASK", err)
		return
	}
	if task.GroupName == "" {
		task.GroupName = store.DefaultGroup
	}

	if existing, err := h.store.GetTaskByName(ctx, task.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "NAME_TAKEN", "a task with this name already exists")
		return
	}

	if err := h.store.CreateTask(ctx, &task); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if task.Active {
		h.dispatcher.AddTask(&task)
	}

	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if task == nil || task.IsPlaceholder() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// UpdateTask handles PUT /api/v1/tasks/{id}
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	task, err := h.store.GetTask(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if task == nil || task.IsPlaceholder() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}

	// Absent fields keep their stored values
	if err := json.NewDecoder(r.Body).Decode(task); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	task.ID = id
	if msg := validateTask(task); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_TASK", msg)
		return
	}

	if err := h.store.UpdateTask(ctx, task); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if task.Active {
		h.dispatcher.AddTask(task)
	} else {
		h.dispatcher.RemoveTask(id)
	}

	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	h.dispatcher.RemoveTask(id)
	if _, err := h.store.DeleteTaskLogs(ctx, store.TaskLogQuery{TaskID: id}); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if err := h.store.DeleteTask(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RunTask handles POST /api/v1/tasks/{id}/run
func (h *Handlers) RunTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	if err := h.dispatcher.RunTaskNow(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{Started: true})
}

// StopTask handles POST /api/v1/tasks/{id}/stop
func (h *Handlers) StopTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	stopped, err := h.dispatcher.StopTask(r.Context(), id, force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// ListTaskLogs handles GET /api/v1/tasks/{id}/logs
func (h *Handlers) ListTaskLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	limit, offset := pageParams(r)
	logs, total, err := h.store.ListTaskLogs(r.Context(), store.TaskLogQuery{
		TaskID: id,
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.TaskLog]{Items: logs, Total: total})
}

// GetTaskNotifyConfig handles GET /api/v1/tasks/{id}/notify
func (h *Handlers) GetTaskNotifyConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	cfg, err := h.store.GetTaskNotifyConfig(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if cfg == nil {
		cfg = &store.TaskNotifyConfig{TaskID: id}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutTaskNotifyConfig handles PUT /api/v1/tasks/{id}/notify
func (h *Handlers) PutTaskNotifyConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "task id must be a positive integer")
		return
	}

	var cfg store.TaskNotifyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cfg.TaskID = id

	if err := h.store.UpsertTaskNotifyConfig(r.Context(), &cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ListGroups handles GET /api/v1/groups
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GroupsResponse{Groups: groups})
}

func validateTask(task *store.Task) string {
	switch {
	case strings.TrimSpace(task.Name) == "":
		return "name is required"
	case strings.HasPrefix(task.Name, store.GroupPlaceholderPrefix):
		return "name uses a reserved prefix"
	case strings.TrimSpace(task.ScriptPath) == "":
		return "script_path is required"
	case task.ScriptKind != store.ScriptPython && task.ScriptKind != store.ScriptNodeJS:
		return "script_kind must be python or nodejs"
	case strings.TrimSpace(task.CronExpr) == "":
		return "cron_expr is required"
	}
	return ""
}

// ----------------------------------------------------------------------------
// Probes

// ListProbes handles GET /api/v1/probes
func (h *Handlers) ListProbes(w http.ResponseWriter, r *http.Request) {
	probes, err := h.store.ListProbes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.Probe]{Items: probes, Total: int64(len(probes))})
}

// CreateProbe handles POST /api/v1/probes
func (h *Handlers) CreateProbe(w http.ResponseWriter, r *http.Request) {
	var probe store.Probe
	if err := json.NewDecoder(r.Body).Decode(&probe); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	probe.ID = 0
	if probe.Name == "" || probe.URL == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PROBE", "name and url are required")
		return
	}

	if err := h.store.CreateProbe(r.Context(), &probe); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if probe.Active {
		h.dispatcher.AddProbe(&probe)
	}
	writeJSON(w, http.StatusCreated, probe)
}

// GetProbe handles GET /api/v1/probes/{id}
func (h *Handlers) GetProbe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "probe id must be a positive integer")
		return
	}

	probe, err := h.store.GetProbe(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if probe == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "probe not found")
		return
	}
	writeJSON(w, http.StatusOK, probe)
}

// UpdateProbe handles PUT /api/v1/probes/{id}
func (h *Handlers) UpdateProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "probe id must be a positive integer")
		return
	}

	probe, err := h.store.GetProbe(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if probe == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "probe not found")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(probe); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	probe.ID = id

	if err := h.store.UpdateProbe(ctx, probe); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if probe.Active && probe.CronExpr != "" {
		h.dispatcher.AddProbe(probe)
	} else {
		h.dispatcher.RemoveProbe(id)
	}
	writeJSON(w, http.StatusOK, probe)
}

// DeleteProbe handles DELETE /api/v1/probes/{id}
func (h *Handlers) DeleteProbe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "probe id must be a positive integer")
		return
	}

	h.dispatcher.RemoveProbe(id)
	if err := h.store.DeleteProbe(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunProbe handles POST /api/v1/probes/{id}/run
func (h *Handlers) RunProbe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "probe id must be a positive integer")
		return
	}

	if err := h.dispatcher.RunProbeNow(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{Started: true})
}

// ListProbeLogs handles GET /api/v1/probes/{id}/logs
func (h *Handlers) ListProbeLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "probe id must be a positive integer")
		return
	}

	limit, offset := pageParams(r)
	logs, total, err := h.store.ListProbeLogs(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.ProbeLog]{Items: logs, Total: total})
}

// ----------------------------------------------------------------------------
// Subscriptions

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.Subscription]{Items: subs, Total: int64(len(subs))})
}

// CreateSubscription handles POST /api/v1/subscriptions
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var sub store.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	sub.ID = 0
	if sub.Name == "" || sub.GitURL == "" || sub.SaveDir == "" || sub.CronExpr == "" {
		writeError(w, http.StatusBadRequest, "INVALID_SUBSCRIPTION", "name, git_url, save_dir and cron_expr are required")
		return
	}

	if err := h.store.CreateSubscription(r.Context(), &sub); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sub.Active {
		h.dispatcher.AddSubscription(&sub)
	}
	writeJSON(w, http.StatusCreated, sub)
}

// GetSubscription handles GET /api/v1/subscriptions/{id}
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PUT /api/v1/subscriptions/{id}
func (h *Handlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	sub, err := h.store.GetSubscription(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "subscription not found")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(sub); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	sub.ID = id

	if err := h.store.UpdateSubscription(ctx, sub); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if sub.Active {
		h.dispatcher.AddSubscription(sub)
	} else {
		h.dispatcher.RemoveSubscription(id)
	}
	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/v1/subscriptions/{id}
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	h.dispatcher.RemoveSubscription(id)
	if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncSubscription handles POST /api/v1/subscriptions/{id}/sync
func (h *Handlers) SyncSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	if err := h.dispatcher.SyncNow(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{Started: true})
}

// ListSubscriptionLogs handles GET /api/v1/subscriptions/{id}/logs
func (h *Handlers) ListSubscriptionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	limit, offset := pageParams(r)
	logs, total, err := h.store.ListSubscriptionLogs(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.SubscriptionLog]{Items: logs, Total: total})
}

// ListSubscriptionFiles handles GET /api/v1/subscriptions/{id}/files
func (h *Handlers) ListSubscriptionFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "subscription id must be a positive integer")
		return
	}

	files, err := h.store.GetSubscriptionFiles(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.SubscriptionFile]{Items: files, Total: int64(len(files))})
}

// ----------------------------------------------------------------------------
// Environment variables and config

// ListEnvVars handles GET /api/v1/env
func (h *Handlers) ListEnvVars(w http.ResponseWriter, r *http.Request) {
	vars, err := h.store.ListEnvVars(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.EnvVar]{Items: vars, Total: int64(len(vars))})
}

// UpsertEnvVar handles PUT /api/v1/env
func (h *Handlers) UpsertEnvVar(w http.ResponseWriter, r *http.Request) {
	var ev store.EnvVar
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(ev.Key) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ENV", "key is required")
		return
	}

	if err := h.store.UpsertEnvVar(r.Context(), &ev); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// DeleteEnvVar handles DELETE /api/v1/env/{key}
func (h *Handlers) DeleteEnvVar(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "key is required")
		return
	}

	if err := h.store.DeleteEnvVar(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConfig handles GET /api/v1/config
func (h *Handlers) ListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.ConfigEntry]{Items: entries, Total: int64(len(entries))})
}

// SetConfig handles PUT /api/v1/config/{key}
func (h *Handlers) SetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "key is required")
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	if err := h.store.SetConfig(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// Timezone changes take effect without a restart
	if key == store.ConfigTimezone {
		h.clock.Invalidate()
	}

	writeJSON(w, http.StatusOK, ConfigEntryResponse{Key: key, Value: body.Value})
}

// ----------------------------------------------------------------------------
// Notification channels

// ListChannels handles GET /api/v1/channels
func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListNotificationChannels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[store.NotificationChannel]{Items: channels, Total: int64(len(channels))})
}

// UpsertChannel handles PUT /api/v1/channels
func (h *Handlers) UpsertChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ch store.NotificationChannel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if ch.Name == "" || ch.Type == "" {
		writeError(w, http.StatusBadRequest, "INVALID_CHANNEL", "name and type are required")
		return
	}

	if err := h.store.UpsertNotificationChannel(ctx, &ch); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if err := h.notifier.Reload(ctx); err != nil {
		h.log.Error(err, "failed to reload notification channels")
	}
	writeJSON(w, http.StatusOK, ch)
}

// DeleteChannel handles DELETE /api/v1/channels/{name}
func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_NAME", "channel name is required")
		return
	}

	if err := h.store.DeleteNotificationChannel(ctx, name); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if err := h.notifier.Reload(ctx); err != nil {
		h.log.Error(err, "failed to reload notification channels")
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestChannel handles POST /api/v1/channels/{name}/test
func (h *Handlers) TestChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_NAME", "channel name is required")
		return
	}

	if err := h.notifier.TestChannel(r.Context(), name); err != nil {
		writeError(w, http.StatusBadGateway, "CHANNEL_TEST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
