// Package subscription keeps local script directories in sync with git
// repositories and tracks the synced files by content hash.
package subscription

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/pinchyhq/pinchy/internal/clock"
	"github.com/pinchyhq/pinchy/internal/hub"
	"github.com/pinchyhq/pinchy/internal/metrics"
	"github.com/pinchyhq/pinchy/internal/notify"
	"github.com/pinchyhq/pinchy/internal/store"
)

const gitTimeout = 5 * time.Minute

const defaultBranch = "main"

// gitFunc runs one git invocation in dir with extra environment entries and
// returns combined output. Injectable so sync logic is testable without git.
type gitFunc func(ctx context.Context, dir string, env []string, args ...string) (string, error)

// syncResult collects the file names touched by one sync run
type syncResult struct {
	added   []string
	updated []string
	deleted []string
}

func (r *syncResult) changed() bool {
	return len(r.added)+len(r.updated)+len(r.deleted) > 0
}

// Runner executes subscription syncs on demand or on schedule
type Runner struct {
	store       store.Store
	clock       *clock.Clock
	hub         *hub.Hub
	notifier    notify.Notifier
	log         logr.Logger
	scriptsRoot string
	git         gitFunc
}

// New creates a subscription Runner
func New(st store.Store, clk *clock.Clock, h *hub.Hub, notifier notify.Notifier, scriptsRoot string, log logr.Logger) *Runner {
	return &Runner{
		store:       st,
		clock:       clk,
		hub:         h,
		notifier:    notifier,
		log:         log.WithName("subscription"),
		scriptsRoot: scriptsRoot,
		git:         runGit,
	}
}

// Run executes one sync to completion. Missing subscriptions are logged and
// skipped. A failed sync is recorded but never returned, so the schedule
// stays registered.
func (r *Runner) Run(ctx context.Context, subID int64) {
	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		r.log.Error(err, "failed to load subscription", "subscription_id", subID)
		return
	}
	if sub == nil {
		r.log.Info("subscription vanished before sync", "subscription_id", subID)
		return
	}

	startTime := r.clock.Now(ctx)
	subLog := &store.SubscriptionLog{
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		Status:           store.StatusRunning,
		StartTime:        startTime,
	}
	if err := r.store.CreateSubscriptionLog(ctx, subLog); err != nil {
		r.log.Error(err, "failed to create sync log", "subscription", sub.Name)
		return
	}

	r.hub.Broadcast(hub.GlobalRoom, hub.NewSubscriptionSyncStart(sub.ID, sub.Name, subLog.ID))

	result, syncErr := r.sync(ctx, sub)

	endTime := r.clock.Now(ctx)
	subLog.EndTime = &endTime
	if syncErr != nil {
		subLog.Status = store.StatusError
		subLog.Message = syncErr.Error()
		r.log.Error(syncErr, "sync failed", "subscription", sub.Name)
	} else {
		subLog.Status = store.StatusSuccess
		subLog.FilesAdded = len(result.added)
		subLog.FilesUpdated = len(result.updated)
		subLog.FilesDeleted = len(result.deleted)
		subLog.Message = fmt.Sprintf("新增 %d 个，更新 %d 个，删除 %d 个",
			len(result.added), len(result.updated), len(result.deleted))
		sub.LastSyncTime = &endTime
		if err := r.store.UpdateSubscription(ctx, sub); err != nil {
			r.log.Error(err, "failed to record last sync time", "subscription", sub.Name)
		}
	}

	if err := r.store.UpdateSubscriptionLog(ctx, subLog); err != nil {
		r.log.Error(err, "failed to finalize sync log", "subscription", sub.Name)
	}

	r.hub.Broadcast(hub.GlobalRoom, hub.NewSubscriptionSyncComplete(
		sub.ID, sub.Name, subLog.ID, subLog.Status,
		subLog.FilesAdded, subLog.FilesUpdated, subLog.Message))
	metrics.RecordSync(sub.Name, subLog.Status, subLog.FilesAdded, subLog.FilesUpdated, subLog.FilesDeleted)

	if syncErr == nil && sub.NotifyEnabled && sub.NotifyChannel != "" && result.changed() {
		msg := notify.BuildSubscriptionMessage(sub.Name, result.added, result.updated, result.deleted)
		sendErr := r.notifier.Send(ctx, sub.NotifyChannel, msg)
		metrics.RecordNotification(sub.NotifyChannel, sendErr)
	}
}

func (r *Runner) sync(ctx context.Context, sub *store.Subscription) (*syncResult, error) {
	repoDir, err := r.resolveRepoDir(sub.SaveDir)
	if err != nil {
		return nil, err
	}

	env, err := r.proxyEnv(ctx, sub)
	if err != nil {
		return nil, err
	}

	if err := r.fetchRepo(ctx, sub, repoDir, env); err != nil {
		return nil, err
	}

	r.cleanupExcluded(repoDir, sub.ExcludePatterns)

	return r.reconcileFiles(ctx, sub, repoDir)
}

// resolveRepoDir joins save_dir under the scripts root and rejects paths that
// escape it
func (r *Runner) resolveRepoDir(saveDir string) (string, error) {
	root, err := filepath.Abs(r.scriptsRoot)
	if err != nil {
		return "", err
	}
	repoDir, err := filepath.Abs(filepath.Join(root, saveDir))
	if err != nil {
		return "", err
	}
	if repoDir != root && !strings.HasPrefix(repoDir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("save_dir %q escapes the scripts root", saveDir)
	}
	return repoDir, nil
}

// proxyEnv returns extra environment entries for git when the subscription
// opts into the globally configured proxy
func (r *Runner) proxyEnv(ctx context.Context, sub *store.Subscription) ([]string, error) {
	if !sub.UseProxy {
		return nil, nil
	}
	enabled, err := r.store.GetConfig(ctx, store.ConfigProxyEnabled)
	if err != nil {
		return nil, err
	}
	if enabled != "true" {
		return nil, nil
	}
	host, err := r.store.GetConfig(ctx, store.ConfigProxyHost)
	if err != nil {
		return nil, err
	}
	port, err := r.store.GetConfig(ctx, store.ConfigProxyPort)
	if err != nil {
		return nil, err
	}
	if host == "" || port == "" {
		return nil, nil
	}
	proxy := fmt.Sprintf("http://%s:%s", host, port)
	return []string{"http_proxy=" + proxy, "https_proxy=" + proxy}, nil
}

// fetchRepo pulls an existing clone or clones from scratch
func (r *Runner) fetchRepo(ctx context.Context, sub *store.Subscription, repoDir string, env []string) error {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err == nil {
		branch := defaultBranch
		if out, err := r.git(ctx, repoDir, env, "branch", "--show-current"); err == nil {
			if name := strings.TrimSpace(out); name != "" {
				branch = name
			}
		}
		r.log.Info("pulling repository", "subscription", sub.Name, "branch", branch)
		if out, err := r.git(ctx, repoDir, env, "pull", "origin", branch); err != nil {
			return fmt.Errorf("git pull: %w: %s", err, strings.TrimSpace(out))
		}
		return nil
	}

	// A stale non-git directory blocks a clean clone
	if _, err := os.Stat(repoDir); err == nil {
		if err := forceRemoveAll(repoDir); err != nil {
			return fmt.Errorf("remove stale directory: %w", err)
		}
	}
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return err
	}

	r.log.Info("cloning repository", "subscription", sub.Name, "url", sub.GitURL)
	if out, err := r.git(ctx, repoDir, env, "clone", sub.GitURL, "."); err != nil {
		return fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

// cleanupExcluded deletes top-level entries matching the exclude patterns
func (r *Runner) cleanupExcluded(repoDir string, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if excluded(entry.Name(), patterns) {
			if err := forceRemoveAll(filepath.Join(repoDir, entry.Name())); err != nil {
				r.log.Error(err, "failed to remove excluded entry", "entry", entry.Name())
			}
		}
	}
}

// reconcileFiles diffs the working tree against the tracked file rows
func (r *Runner) reconcileFiles(ctx context.Context, sub *store.Subscription, repoDir string) (*syncResult, error) {
	rows, err := r.store.GetSubscriptionFiles(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]*store.SubscriptionFile, len(rows))
	for i := range rows {
		tracked[rows[i].FilePath] = &rows[i]
	}

	result := &syncResult{}
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(repoDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if !sub.IncludeSubfolders && p != repoDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(repoDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, sub.ExcludePatterns) {
			return nil
		}
		if !extensionAllowed(rel, sub.FileExtensions) {
			return nil
		}

		sum, size, err := fileMD5(p)
		if err != nil {
			return err
		}
		seen[rel] = true

		prev, ok := tracked[rel]
		switch {
		case !ok:
			result.added = append(result.added, rel)
		case prev.FileMD5 != sum:
			result.updated = append(result.updated, rel)
		default:
			return nil
		}

		return r.store.UpsertSubscriptionFile(ctx, &store.SubscriptionFile{
			SubscriptionID: sub.ID,
			FilePath:       rel,
			FileMD5:        sum,
			FileSize:       size,
		})
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if sub.SyncDeleteRemoved {
		for rel := range tracked {
			if seen[rel] {
				continue
			}
			if err := os.Remove(filepath.Join(repoDir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
				r.log.Error(err, "failed to delete removed file", "path", rel)
			}
			if err := r.store.DeleteSubscriptionFile(ctx, sub.ID, rel); err != nil {
				return nil, err
			}
			result.deleted = append(result.deleted, rel)
		}
	}

	return result, nil
}

func fileMD5(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// forceRemoveAll deletes a tree, retrying once after clearing read-only bits
func forceRemoveAll(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0o700)
		} else {
			_ = os.Chmod(p, 0o600)
		}
		return nil
	})
	return os.RemoveAll(path)
}

func runGit(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
