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

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/executor"
	"github.com/pinchyhq/pinchy/internal/probe"
	"github.com/pinchyhq/pinchy/internal/store"
	"github.com/pinchyhq/pinchy/internal/subscription"
)

// Dispatcher is the unified schedule registry over the three workload kinds.
// It owns registration keys, hydration at startup, immediate runs and stops.
type Dispatcher struct {
	engine   *Engine
	store    store.Store
	executor *executor.Executor
	probes   *probe.Runner
	subs     *subscription.Runner
	log      logr.Logger

	mu      sync.Mutex
	baseCtx context.Context
	running bool
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(engine *Engine, st store.Store, exec *executor.Executor, probes *probe.Runner, subs *subscription.Runner, log logr.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		store:    st,
		executor: exec,
		probes:   probes,
		subs:     subs,
		log:      log.WithName("dispatcher"),
		baseCtx:  context.Background(),
	}
}

func taskKey(id int64) string  { return fmt.Sprintf("task:%d", id) }
func probeKey(id int64) string { return fmt.Sprintf("probe:%d", id) }
func subKey(id int64) string   { return fmt.Sprintf("sub:%d", id) }

// Start hydrates the registry from the store and begins firing. Jobs started
// by later fires run against ctx, which should outlive request contexts.
// Idempotent.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.baseCtx = ctx
	d.mu.Unlock()

	tasks, err := d.store.ListActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("hydrate tasks: %w", err)
	}
	for i := range tasks {
		d.AddTask(&tasks[i])
	}

	probes, err := d.store.ListActiveProbes(ctx)
	if err != nil {
		return fmt.Errorf("hydrate probes: %w", err)
	}
	for i := range probes {
		d.AddProbe(&probes[i])
	}

	subs, err := d.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("hydrate subscriptions: %w", err)
	}
	for i := range subs {
		d.AddSubscription(&subs[i])
	}

	d.engine.Start()
	d.log.Info("dispatcher started", "tasks", len(tasks), "probes", len(probes), "subscriptions", len(subs))
	return nil
}

// Stop halts the cron engine
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.engine.Stop()
	d.log.Info("dispatcher stopped")
}

// AddTask registers a task's schedule, replacing any prior registration.
// Invalid cron expressions are logged, never raised.
func (d *Dispatcher) AddTask(task *store.Task) {
	if task.IsPlaceholder() {
		return
	}
	id := task.ID
	if err := d.engine.Register(taskKey(id), "task", task.CronExpr, func() {
		d.executor.Run(d.base(), id)
	}); err != nil {
		d.log.Error(err, "invalid task schedule", "task", task.Name, "cron", task.CronExpr)
	}
}

// RemoveTask drops a task's schedule
func (d *Dispatcher) RemoveTask(taskID int64) {
	d.engine.Remove(taskKey(taskID))
}

// AddProbe registers a probe's schedule. Probes without a cron expression are
// run-now only.
func (d *Dispatcher) AddProbe(p *store.Probe) {
	if p.CronExpr == "" {
		return
	}
	id := p.ID
	if err := d.engine.Register(probeKey(id), "probe", p.CronExpr, func() {
		d.probes.Run(d.base(), id)
	}); err != nil {
		d.log.Error(err, "invalid probe schedule", "probe", p.Name, "cron", p.CronExpr)
	}
}

// RemoveProbe drops a probe's schedule
func (d *Dispatcher) RemoveProbe(probeID int64) {
	d.engine.Remove(probeKey(probeID))
}

// AddSubscription registers a subscription's schedule
func (d *Dispatcher) AddSubscription(sub *store.Subscription) {
	id := sub.ID
	if err := d.engine.Register(subKey(id), "subscription", sub.CronExpr, func() {
		d.subs.Run(d.base(), id)
	}); err != nil {
		d.log.Error(err, "invalid subscription schedule", "subscription", sub.Name, "cron", sub.CronExpr)
	}
}

// RemoveSubscription drops a subscription's schedule
func (d *Dispatcher) RemoveSubscription(subID int64) {
	d.engine.Remove(subKey(subID))
}

// RunTaskNow fires a task immediately, off-schedule. The only error is an
// unknown task; execution failures land in the task log.
func (d *Dispatcher) RunTaskNow(ctx context.Context, taskID int64) error {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", taskID)
	}

	key := fmt.Sprintf("immediate:%d:%d", taskID, time.Now().Unix())
	d.log.Info("immediate task run", "key", key, "task", task.Name)
	go d.executor.Run(d.base(), taskID)
	return nil
}

// StopTask signals a running task's process tree to stop
func (d *Dispatcher) StopTask(ctx context.Context, taskID int64, force bool) (bool, error) {
	return d.executor.StopTask(ctx, taskID, force)
}

// RunningTaskIDs lists tasks that currently have live processes
func (d *Dispatcher) RunningTaskIDs() []int64 {
	return d.executor.RunningTaskIDs()
}

// RunProbeNow fires a probe immediately
func (d *Dispatcher) RunProbeNow(ctx context.Context, probeID int64) error {
	p, err := d.store.GetProbe(ctx, probeID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("probe %d not found", probeID)
	}
	go d.probes.Run(d.base(), probeID)
	return nil
}

// SyncNow fires a subscription sync immediately
func (d *Dispatcher) SyncNow(ctx context.Context, subID int64) error {
	sub, err := d.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("subscription %d not found", subID)
	}
	go d.subs.Run(d.base(), subID)
	return nil
}

func (d *Dispatcher) base() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseCtx
}
