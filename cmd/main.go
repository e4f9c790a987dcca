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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/pinchyhq/pinchy/internal/api"
	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/config"
	"github.com/pinchyhq/pinchy/internal/executor"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/logcache"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/probe"
	"github.com/pinchyhq/pinchy/internal/scheduler"
	"github.com/pinchyhq/pinchy/internal/store"
	"github.com/pinchyhq/pinchy/internal/subscription"
)

func main() {
	// Set up pflags
	flags := pflag.NewFlagSet("pinchy", pflag.ExitOnError)
	config.BindFlags(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	setupLog := logger.WithName("setup")
	if cfg.ConfigFileUsed() != "" {
		setupLog.Info("configuration loaded", "file", cfg.ConfigFileUsed(), "level", cfg.LogLevel)
	} else {
		setupLog.Info("no config file found, using defaults and flags", "level", cfg.LogLevel)
	}

	// Initialize the storage backend
	dsn, err := cfg.Storage.DSN()
	if err != nil {
		setupLog.Error(err, "invalid storage configuration")
		os.Exit(1)
	}

	dataStore, err := store.NewGormStore(cfg.Storage.Type, dsn)
	if err != nil {
		setupLog.Error(err, "unable to create store")
		os.Exit(1)
	}
	if err := dataStore.Init(); err != nil {
		setupLog.Error(err, "unable to initialize store")
		os.Exit(1)
	}
	defer func() { _ = dataStore.Close() }()
	setupLog.Info("initialized store", "type", cfg.Storage.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services
	clk := clock.New(dataStore, logger)
	wsHub := hub.New(logger)
	cache := logcache.New()

	notifier := notify.NewDispatcher(dataStore, logger)
	if err := notifier.Reload(ctx); err != nil {
		setupLog.Error(err, "unable to load notification channels")
	}

	exec := executor.New(dataStore, clk, cache, wsHub, notifier, cfg.ScriptsRoot, logger)
	probes := probe.New(dataStore, clk, notifier, logger)
	subs := subscription.New(dataStore, clk, wsHub, notifier, cfg.ScriptsRoot, logger)

	// Schedules fire in the configured timezone
	engine := scheduler.NewEngine(clk.Location(ctx), logger)
	dispatcher := scheduler.NewDispatcher(engine, dataStore, exec, probes, subs, logger)
	if err := dispatcher.Start(ctx); err != nil {
		setupLog.Error(err, "unable to start dispatcher")
		os.Exit(1)
	}
	defer dispatcher.Stop()

	pruner := scheduler.NewHistoryPruner(dataStore, logger)
	pruner.SetInterval(cfg.Scheduler.PruneInterval)
	go func() {
		if err := pruner.Start(ctx); err != nil && err != context.Canceled {
			setupLog.Error(err, "history pruner stopped")
		}
	}()
	defer pruner.Stop()

	apiServer := api.NewServer(api.ServerOptions{
		Store:      dataStore,
		Dispatcher: dispatcher,
		Hub:        wsHub,
		Cache:      cache,
		Notifier:   notifier,
		Clock:      clk,
		Log:        logger,
		Addr:       cfg.Server.Addr(),
	})

	setupLog.Info("starting", "addr", cfg.Server.Addr(), "scriptsRoot", cfg.ScriptsRoot)
	if err := apiServer.Start(ctx); err != nil {
		setupLog.Error(err, "problem running API server")
		os.Exit(1)
	}
}

// newLogger builds the process logger from the configured level and format
func newLogger(cfg *config.Config) logr.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var zl zerolog.Logger
	if cfg.LogFormat == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(os.Stderr)
	}
	zl = zl.With().Timestamp().Logger()
	return zerologr.New(&zl)
}
