package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/pinchyhq/pinchy/internal/store"
)

// outputSnippet is the per-stream truncation applied to notification bodies.
const outputSnippet = 500

// bucketLimit caps how many file names a sync notification lists per bucket.
const bucketLimit = 10

const timeLayout = "2006-01-02 15:04:05"

// ShouldNotifyTask applies the per-task notification policy: no config or no
// channel means never; error_only skips successes; a keyword filter requires
// at least one keyword in the combined output.
func ShouldNotifyTask(cfg *store.TaskNotifyConfig, taskLog *store.TaskLog) bool {
	if cfg == nil || cfg.Channel == "" {
		return false
	}
	if cfg.ErrorOnly && taskLog.Status == store.StatusSuccess {
		return false
	}
	keywords := cfg.KeywordList()
	if len(keywords) == 0 {
		return true
	}
	combined := taskLog.Output + "\n" + taskLog.ErrorOutput
	for _, kw := range keywords {
		if strings.Contains(combined, kw) {
			return true
		}
	}
	return false
}

func statusLabel(status string) string {
	switch status {
	case store.StatusSuccess:
		return "成功"
	case store.StatusFailed:
		return "失败"
	case store.StatusStopped:
		return "已停止"
	case store.StatusRunning:
		return "运行中"
	default:
		return status
	}
}

// BuildTaskMessage renders the notification for one finished task execution
func BuildTaskMessage(taskLog *store.TaskLog, loc *time.Location) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "任务名称: %s\n", taskLog.TaskName)
	fmt.Fprintf(&b, "执行状态: %s\n", statusLabel(taskLog.Status))
	fmt.Fprintf(&b, "开始时间: %s\n", taskLog.StartTime.In(loc).Format(timeLayout))
	if taskLog.EndTime != nil {
		fmt.Fprintf(&b, "结束时间: %s\n", taskLog.EndTime.In(loc).Format(timeLayout))
		fmt.Fprintf(&b, "执行耗时: %s\n", taskLog.Duration().Round(time.Millisecond))
	}
	if taskLog.ExitCode != nil {
		fmt.Fprintf(&b, "退出码: %d\n", *taskLog.ExitCode)
	}
	if taskLog.Output != "" {
		fmt.Fprintf(&b, "\n标准输出:\n%s\n", truncate(taskLog.Output, outputSnippet))
	}
	if taskLog.ErrorOutput != "" {
		fmt.Fprintf(&b, "\n错误输出:\n%s\n", truncate(taskLog.ErrorOutput, outputSnippet))
	}

	return Message{
		Title:     "Pinchy任务通知 - " + taskLog.TaskName,
		Body:      b.String(),
		Timestamp: time.Now(),
	}
}

// BuildSubscriptionMessage renders the notification for a finished sync run
func BuildSubscriptionMessage(subName string, added, updated, deleted []string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "订阅名称: %s\n", subName)
	fmt.Fprintf(&b, "新增 %d 个，更新 %d 个，删除 %d 个\n", len(added), len(updated), len(deleted))

	writeBucket(&b, "新增文件", added)
	writeBucket(&b, "更新文件", updated)
	writeBucket(&b, "删除文件", deleted)

	return Message{
		Title:     "Pinchy订阅同步 - " + subName,
		Body:      b.String(),
		Timestamp: time.Now(),
	}
}

func writeBucket(b *strings.Builder, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", label)
	for i, name := range names {
		if i == bucketLimit {
			fmt.Fprintf(b, "  ... 共 %d 个\n", len(names))
			break
		}
		fmt.Fprintf(b, "  %s\n", name)
	}
}

// BuildProbeMessage renders the notification for one probe invocation
func BuildProbeMessage(probeLog *store.ProbeLog, loc *time.Location) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "探测名称: %s\n", probeLog.ProbeName)
	fmt.Fprintf(&b, "请求: %s %s\n", probeLog.Method, probeLog.URL)
	fmt.Fprintf(&b, "执行状态: %s\n", statusLabel(probeLog.Status))
	fmt.Fprintf(&b, "开始时间: %s\n", probeLog.StartTime.In(loc).Format(timeLayout))
	if probeLog.ResponseStatus != nil {
		fmt.Fprintf(&b, "响应状态码: %d\n", *probeLog.ResponseStatus)
		fmt.Fprintf(&b, "响应耗时: %dms\n", probeLog.ResponseTimeMs)
	}
	if probeLog.ErrorMessage != "" {
		fmt.Fprintf(&b, "错误信息: %s\n", truncate(probeLog.ErrorMessage, outputSnippet))
	}

	return Message{
		Title:     "Pinchy接口探测 - " + probeLog.ProbeName,
		Body:      b.String(),
		Timestamp: time.Now(),
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
