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
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/logcache"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/scheduler"
	"github.com/pinchyhq/pinchy/internal/store"
)

// Version is the server version (set at build time)
var Version = "dev"

// Server is the REST and WebSocket API server
type Server struct {
	store      store.Store
	dispatcher *scheduler.Dispatcher
	hub        *hub.Hub
	cache      *logcache.Cache
	notifier   notify.Notifier
	clock      *clock.Clock
	log        logr.Logger
	addr       string
	startTime  time.Time
	server     *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Store      store.Store
	Dispatcher *scheduler.Dispatcher
	Hub        *hub.Hub
	Cache      *logcache.Cache
	Notifier   notify.Notifier
	Clock      *clock.Clock
	Log        logr.Logger
	Addr       string
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}

	return &Server{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		hub:        opts.Hub,
		cache:      opts.Cache,
		notifier:   opts.Notifier,
		clock:      opts.Clock,
		log:        opts.Log.WithName("api-server"),
		addr:       opts.Addr,
		startTime:  time.Now(),
	}
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		s.log.Info("starting API server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "API server error")
		}
	}()

	<-ctx.Done()

	s.log.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the router
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// CORS for UI
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	h := NewHandlers(s.store, s.dispatcher, s.hub, s.cache, s.notifier, s.clock, s.startTime, s.log)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoints carry long-lived connections; everything else
		// gets a request timeout.
		r.Get("/ws", h.ServeGlobalWS)
		r.Get("/logs/ws/{taskID}", h.ServeTaskLogWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Health
			r.Get("/health", h.GetHealth)
			r.Get("/stats", h.GetStats)

			// Tasks
			r.Get("/tasks", h.ListTasks)
			r.Post("/tasks", h.CreateTask)
			r.Get("/tasks/{id}", h.GetTask)
			r.Put("/tasks/{id}", h.UpdateTask)
			r.Delete("/tasks/{id}", h.DeleteTask)
			r.Post("/tasks/{id}/run", h.RunTask)
			r.Post("/tasks/{id}/stop", h.StopTask)
			r.Get("/tasks/{id}/logs", h.ListTaskLogs)
			r.Get("/tasks/{id}/notify", h.GetTaskNotifyConfig)
			r.Put("/tasks/{id}/notify", h.PutTaskNotifyConfig)
			r.Get("/groups", h.ListGroups)

			// Probes
			r.Get("/probes", h.ListProbes)
			r.Post("/probes", h.CreateProbe)
			r.Get("/probes/{id}", h.GetProbe)
			r.Put("/probes/{id}", h.UpdateProbe)
			r.Delete("/probes/{id}", h.DeleteProbe)
			r.Post("/probes/{id}/run", h.RunProbe)
			r.Get("/probes/{id}/logs", h.ListProbeLogs)

			// Subscriptions
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Post("/subscriptions", h.CreateSubscription)
			r.Get("/subscriptions/{id}", h.GetSubscription)
			r.Put("/subscriptions/{id}", h.UpdateSubscription)
			r.Delete("/subscriptions/{id}", h.DeleteSubscription)
			r.Post("/subscriptions/{id}/sync", h.SyncSubscription)
			r.Get("/subscriptions/{id}/logs", h.ListSubscriptionLogs)
			r.Get("/subscriptions/{id}/files", h.ListSubscriptionFiles)

			// Environment variables
			r.Get("/env", h.ListEnvVars)
			r.Put("/env", h.UpsertEnvVar)
			r.Delete("/env/{key}", h.DeleteEnvVar)

			// System config
			r.Get("/config", h.ListConfig)
			r.Put("/config/{key}", h.SetConfig)

			// Notification channels
			r.Get("/channels", h.ListChannels)
			r.Put("/channels", h.UpsertChannel)
			r.Delete("/channels/{name}", h.DeleteChannel)
			r.Post("/channels/{name}/test", h.TestChannel)
		})
	})

	return r
}
