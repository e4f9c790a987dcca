package executor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const gracePeriod = 5 * time.Second

// StopTask terminates a running task's process tree. Graceful stops signal
// termination to every descendant then the parent and escalate to kill after
// the grace period; force kills immediately. Returns whether a live process
// was found and signaled.
func (e *Executor) StopTask(ctx context.Context, taskID int64, force bool) (bool, error) {
	e.mu.Lock()
	state, ok := e.running[taskID]
	e.mu.Unlock()
	if !ok || state.cmd.Process == nil {
		return false, nil
	}

	state.markStopped()
	pid := int32(state.cmd.Process.Pid)
	e.log.Info("stopping task", "task_id", taskID, "pid", pid, "force", force)

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// Already gone; Wait in the run loop will pick up the exit
		return false, nil
	}

	tree := processTree(ctx, proc)

	if force {
		killTree(ctx, tree)
		return true, nil
	}

	// Children first, parent last
	for i := len(tree) - 1; i >= 0; i-- {
		_ = tree[i].TerminateWithContext(ctx)
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		if running, _ := proc.IsRunningWithContext(ctx); !running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	e.log.Info("grace period expired, killing process tree", "task_id", taskID, "pid", pid)
	killTree(ctx, tree)
	return true, nil
}

// processTree returns the process and all its descendants, parent first
func processTree(ctx context.Context, root *process.Process) []*process.Process {
	tree := []*process.Process{root}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

func killTree(ctx context.Context, tree []*process.Process) {
	for i := len(tree) - 1; i >= 0; i-- {
		_ = tree[i].KillWithContext(ctx)
	}
}
