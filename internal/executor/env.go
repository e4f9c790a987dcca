package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pinchyhq/pinchy/internal/store"
)

// buildEnv assembles the environment for a task process. Later entries win:
// process env, then encoding defaults, then NODE_PATH handling for nodejs,
// then global EnvVar rows, then the task's own overrides.
func (e *Executor) buildEnv(ctx context.Context, task *store.Task) ([]string, error) {
	env := environMap(os.Environ())

	env["PYTHONIOENCODING"] = "utf-8"
	env["LANG"] = "zh_CN.UTF-8"
	env["LC_ALL"] = "zh_CN.UTF-8"
	if task.ScriptKind == store.ScriptPython {
		env["PYTHONUNBUFFERED"] = "1"
	}

	if task.ScriptKind == store.ScriptNodeJS {
		e.setNodePath(env)
	}

	rows, err := e.store.ListEnvVars(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		env[row.Key] = row.Value
	}

	for k, v := range task.EnvOverrides {
		env[k] = v
	}

	return flattenEnv(env), nil
}

// setNodePath fills NODE_PATH from the global npm modules directory when
// unset, then appends the local node_modules under the scripts root if one
// exists
func (e *Executor) setNodePath(env map[string]string) {
	if env["NODE_PATH"] == "" {
		if global := globalNodeModules(); global != "" {
			env["NODE_PATH"] = global
		}
	}

	local := filepath.Join(e.scriptsRoot, "node_modules")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		if env["NODE_PATH"] == "" {
			env["NODE_PATH"] = local
		} else if !strings.Contains(env["NODE_PATH"], local) {
			env["NODE_PATH"] += string(os.PathListSeparator) + local
		}
	}
}

func globalNodeModules() string {
	out, err := exec.Command("npm", "root", "-g").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
