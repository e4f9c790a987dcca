// Package executor runs script tasks as OS processes, streaming their output
// to the log cache and the hub while they run and recording the outcome when
// they finish.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/logcache"
	"github.com/pinchyhq/pinchy/internal/metrics"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/store"
)

// StoppedByUser is recorded as error_output when an operator stops a task.
const StoppedByUser = "任务被用户停止"

// lineBuffer bounds the in-flight output lines between the pipe readers and
// the consumer; readers block when the consumer falls behind.
const lineBuffer = 1024

type outputLine struct {
	text   string
	stream string // "stdout" or "stderr"
}

type runState struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	stopped bool
}

func (r *runState) markStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *runState) wasStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Executor runs one task process at a time per task id
type Executor struct {
	store       store.Store
	clock       *clock.Clock
	cache       *logcache.Cache
	hub         *hub.Hub
	notifier    notify.Notifier
	log         logr.Logger
	scriptsRoot string

	mu      sync.Mutex
	running map[int64]*runState
}

// New creates an Executor
func New(st store.Store, clk *clock.Clock, cache *logcache.Cache, h *hub.Hub, notifier notify.Notifier, scriptsRoot string, log logr.Logger) *Executor {
	return &Executor{
		store:       st,
		clock:       clk,
		cache:       cache,
		hub:         h,
		notifier:    notifier,
		log:         log.WithName("executor"),
		scriptsRoot: scriptsRoot,
		running:     make(map[int64]*runState),
	}
}

// IsRunning reports whether the task currently has a live process
func (e *Executor) IsRunning(taskID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// RunningTaskIDs returns the ids of tasks with live processes
func (e *Executor) RunningTaskIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// Run executes one task to completion. Missing tasks are logged and skipped.
func (e *Executor) Run(ctx context.Context, taskID int64) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.log.Error(err, "failed to load task", "task_id", taskID)
		return
	}
	if task == nil {
		e.log.Info("task vanished before execution", "task_id", taskID)
		return
	}

	if e.IsRunning(taskID) {
		e.log.Info("task already running, skipping fire", "task_id", taskID, "task", task.Name)
		return
	}

	startTime := e.clock.Now(ctx)
	taskLog := &store.TaskLog{
		TaskID:    task.ID,
		TaskName:  task.Name,
		Status:    store.StatusRunning,
		StartTime: startTime,
	}
	if err := e.store.CreateTaskLog(ctx, taskLog); err != nil {
		e.log.Error(err, "failed to create task log", "task", task.Name)
		return
	}

	e.cache.Begin(task.ID, taskLog.ID, startTime)
	e.hub.Broadcast(hub.GlobalRoom, hub.NewTaskStart(task.ID, task.Name, taskLog.ID))
	e.hub.Broadcast(hub.TaskRoom(task.ID), hub.NewTaskStart(task.ID, task.Name, taskLog.ID))

	cmd, err := e.buildCommand(ctx, task)
	if err != nil {
		e.failLaunch(ctx, task, taskLog, err)
		return
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.failLaunch(ctx, task, taskLog, fmt.Errorf("stdout pipe: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.failLaunch(ctx, task, taskLog, fmt.Errorf("stderr pipe: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		e.failLaunch(ctx, task, taskLog, err)
		return
	}

	state := &runState{cmd: cmd}
	e.mu.Lock()
	e.running[task.ID] = state
	e.mu.Unlock()
	metrics.RunningTasks.Inc()

	e.log.Info("task started", "task", task.Name, "log_id", taskLog.ID, "pid", cmd.Process.Pid)

	lines := make(chan outputLine, lineBuffer)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		readLines(bufio.NewReader(stdout), "stdout", lines)
	}()
	go func() {
		defer readers.Done()
		readLines(bufio.NewReader(stderr), "stderr", lines)
	}()
	go func() {
		readers.Wait()
		close(lines)
	}()

	var outputLines, errorLines []string
	for line := range lines {
		switch line.stream {
		case "stdout":
			outputLines = append(outputLines, line.text)
			e.cache.AppendOutput(task.ID, line.text)
		case "stderr":
			errorLines = append(errorLines, line.text)
			e.cache.AppendError(task.ID, line.text)
		}
		e.hub.Broadcast(hub.TaskRoom(task.ID), hub.NewTaskOutput(task.ID, taskLog.ID, line.text, line.stream))
	}

	waitErr := cmd.Wait()

	e.mu.Lock()
	delete(e.running, task.ID)
	e.mu.Unlock()
	metrics.RunningTasks.Dec()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	endTime := e.clock.Now(ctx)
	taskLog.EndTime = &endTime
	taskLog.Output = joinLines(outputLines)
	taskLog.ErrorOutput = joinLines(errorLines)

	if state.wasStopped() {
		taskLog.Status = store.StatusStopped
		taskLog.ErrorOutput = StoppedByUser
		stoppedCode := -1
		taskLog.ExitCode = &stoppedCode
	} else {
		taskLog.ExitCode = &exitCode
		if exitCode == 0 {
			taskLog.Status = store.StatusSuccess
		} else {
			taskLog.Status = store.StatusFailed
		}
	}

	if err := e.store.UpdateTaskLog(ctx, taskLog); err != nil {
		e.log.Error(err, "failed to finalize task log", "task", task.Name, "log_id", taskLog.ID)
	}

	complete := hub.NewTaskComplete(task.ID, task.Name, taskLog.ID, taskLog.Status, *taskLog.ExitCode, taskLog.Output, taskLog.ErrorOutput)
	e.hub.Broadcast(hub.GlobalRoom, complete)
	e.hub.Broadcast(hub.TaskRoom(task.ID), complete)

	e.cache.Finish(task.ID)
	metrics.RecordTaskExecution(task.Name, taskLog.Status, endTime.Sub(startTime).Seconds())
	e.log.Info("task finished", "task", task.Name, "status", taskLog.Status, "exit_code", *taskLog.ExitCode)

	e.notifyOutcome(ctx, task, taskLog)
}

// failLaunch records a spawn failure as a terminal failed log
func (e *Executor) failLaunch(ctx context.Context, task *store.Task, taskLog *store.TaskLog, cause error) {
	e.log.Error(cause, "task failed to launch", "task", task.Name)

	// The process never started, so there is no exit code to record
	endTime := e.clock.Now(ctx)
	taskLog.Status = store.StatusFailed
	taskLog.EndTime = &endTime
	taskLog.ErrorOutput = cause.Error()
	if err := e.store.UpdateTaskLog(ctx, taskLog); err != nil {
		e.log.Error(err, "failed to record launch failure", "task", task.Name)
	}

	errEvent := hub.NewTaskError(task.ID, task.Name, taskLog.ID, cause.Error())
	e.hub.Broadcast(hub.GlobalRoom, errEvent)
	e.hub.Broadcast(hub.TaskRoom(task.ID), errEvent)

	e.cache.Finish(task.ID)
	metrics.RecordTaskExecution(task.Name, store.StatusFailed, endTime.Sub(taskLog.StartTime).Seconds())

	e.notifyOutcome(ctx, task, taskLog)
}

func (e *Executor) notifyOutcome(ctx context.Context, task *store.Task, taskLog *store.TaskLog) {
	cfg, err := e.store.GetTaskNotifyConfig(ctx, task.ID)
	if err != nil {
		e.log.Error(err, "failed to load notification policy", "task", task.Name)
		return
	}
	if !notify.ShouldNotifyTask(cfg, taskLog) {
		return
	}

	msg := notify.BuildTaskMessage(taskLog, e.clock.Location(ctx))
	sendErr := e.notifier.Send(ctx, cfg.Channel, msg)
	metrics.RecordNotification(cfg.Channel, sendErr)
}

// buildCommand assembles the exec.Cmd for a task
func (e *Executor) buildCommand(ctx context.Context, task *store.Task) (*exec.Cmd, error) {
	scriptPath := task.ScriptPath
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(e.scriptsRoot, scriptPath)
	}

	interpreter, err := e.interpreterFor(ctx, task.ScriptKind)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(interpreter)
	args := append(parts[1:], scriptPath)

	// The process must not die with a cancelled scheduler context; stop
	// semantics are explicit via StopTask.
	cmd := exec.Command(parts[0], args...)
	cmd.Dir = filepath.Dir(scriptPath)

	env, err := e.buildEnv(ctx, task)
	if err != nil {
		return nil, err
	}
	cmd.Env = env

	return cmd, nil
}

// interpreterFor resolves the configured interpreter command for a script kind
func (e *Executor) interpreterFor(ctx context.Context, kind string) (string, error) {
	switch kind {
	case store.ScriptPython:
		cmd, err := e.store.GetConfig(ctx, store.ConfigPythonCommand)
		if err != nil {
			return "", err
		}
		if cmd == "" {
			cmd = "python"
		}
		return cmd, nil
	case store.ScriptNodeJS:
		cmd, err := e.store.GetConfig(ctx, store.ConfigNodeJSCommand)
		if err != nil {
			return "", err
		}
		if cmd == "" {
			cmd = "node"
		}
		return cmd, nil
	default:
		return "", fmt.Errorf("unsupported script kind: %s", kind)
	}
}

// readLines pumps decoded lines from a pipe into the shared channel. Lines
// are unbounded; the pipe must stay drained until EOF or the child wedges on
// a full pipe buffer.
func readLines(r *bufio.Reader, stream string, lines chan<- outputLine) {
	for {
		text, err := r.ReadString('\n')
		if text != "" {
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")
			lines <- outputLine{text: strings.ToValidUTF8(text, "�"), stream: stream}
		}
		if err != nil {
			return
		}
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
