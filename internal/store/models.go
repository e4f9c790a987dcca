package store

import (
	"strings"
	"time"
)

// Task statuses recorded on TaskLog rows.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// Script kinds supported by the executor.
const (
	ScriptPython = "python"
	ScriptNodeJS = "nodejs"
)

// GroupPlaceholderPrefix marks tasks that exist only to keep an empty group
// alive. Placeholder rows are never listed and never scheduled.
const GroupPlaceholderPrefix = "__GROUP_PLACEHOLDER_"

// DefaultGroup is assigned to tasks created without a group.
const DefaultGroup = "默认"

// Task represents a scheduled script execution unit (GORM model)
type Task struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string            `gorm:"column:name;size:100;not null;uniqueIndex" json:"name"`
	Description  string            `gorm:"column:description;type:text" json:"description"`
	ScriptPath   string            `gorm:"column:script_path;size:500;not null" json:"script_path"`
	ScriptKind   string            `gorm:"column:script_kind;size:20;not null" json:"script_kind"`
	CronExpr     string            `gorm:"column:cron_expr;size:100;not null" json:"cron_expr"`
	EnvOverrides map[string]string `gorm:"column:env_overrides;serializer:json" json:"env_overrides"`
	GroupName    string            `gorm:"column:group_name;size:100;not null;default:''" json:"group_name"`
	Active       bool              `gorm:"column:active;default:true" json:"active"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Task
func (*Task) TableName() string {
	return "tasks"
}

// IsPlaceholder reports whether the task is a group placeholder row
func (t *Task) IsPlaceholder() bool {
	return strings.HasPrefix(t.Name, GroupPlaceholderPrefix)
}

// TaskLog represents a single task execution record (GORM model)
type TaskLog struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID      int64      `gorm:"column:task_id;not null;index:idx_tasklog_task,priority:1" json:"task_id"`
	TaskName    string     `gorm:"column:task_name;size:100;not null" json:"task_name"`
	Status      string     `gorm:"column:status;size:20;not null;index" json:"status"`
	StartTime   time.Time  `gorm:"column:start_time;not null;index:idx_tasklog_task,priority:2,sort:desc;index:idx_tasklog_start" json:"start_time"`
	EndTime     *time.Time `gorm:"column:end_time" json:"end_time"`
	Output      string     `gorm:"column:output;type:text" json:"output"`
	ErrorOutput string     `gorm:"column:error_output;type:text" json:"error_output"`
	ExitCode    *int       `gorm:"column:exit_code" json:"exit_code"`
}

// TableName specifies the table name for TaskLog
func (*TaskLog) TableName() string {
	return "task_logs"
}

// Duration returns how long the execution ran, zero while still running
func (l *TaskLog) Duration() time.Duration {
	if l.EndTime == nil {
		return 0
	}
	return l.EndTime.Sub(l.StartTime)
}

// EnvVar is a global name/value pair merged into every script environment (GORM model)
type EnvVar struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key         string    `gorm:"column:key;size:100;not null;uniqueIndex" json:"key"`
	Value       string    `gorm:"column:value;type:text;not null" json:"value"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	IsSystem    bool      `gorm:"column:is_system;default:false" json:"is_system"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for EnvVar
func (*EnvVar) TableName() string {
	return "env_vars"
}

// ConfigEntry is one row of the string-keyed runtime config bag (GORM model)
type ConfigEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key         string    `gorm:"column:config_key;size:100;not null;uniqueIndex" json:"key"`
	Value       string    `gorm:"column:config_value;type:text;not null" json:"value"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for ConfigEntry
func (*ConfigEntry) TableName() string {
	return "system_config"
}

// Well-known runtime config keys.
const (
	ConfigTimezone         = "system_timezone"
	ConfigPythonCommand    = "python_command"
	ConfigNodeJSCommand    = "nodejs_command"
	ConfigProxyEnabled     = "proxy_enabled"
	ConfigProxyHost        = "proxy_host"
	ConfigProxyPort        = "proxy_port"
	ConfigLogRetentionDays = "log_retention_days"
)

// Probe represents a scheduled HTTP call definition (GORM model)
type Probe struct {
	ID              int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string            `gorm:"column:name;size:100;not null" json:"name"`
	Description     string            `gorm:"column:description;type:text" json:"description"`
	Method          string            `gorm:"column:method;size:10;not null;default:GET" json:"method"`
	URL             string            `gorm:"column:url;type:text;not null" json:"url"`
	Headers         map[string]string `gorm:"column:headers;serializer:json" json:"headers"`
	Payload         string            `gorm:"column:payload;type:text" json:"payload"`
	CronExpr        string            `gorm:"column:cron_expr;size:100" json:"cron_expr"`
	NotifyEnabled   bool              `gorm:"column:notify_enabled;default:false" json:"notify_enabled"`
	NotifyChannel   string            `gorm:"column:notify_channel;size:50" json:"notify_channel"`
	NotifyCondition string            `gorm:"column:notify_condition;size:20;default:always" json:"notify_condition"`
	Active          bool              `gorm:"column:active;default:false" json:"active"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Probe
func (*Probe) TableName() string {
	return "probes"
}

// Probe notification conditions.
const (
	NotifyAlways    = "always"
	NotifyOnSuccess = "success"
	NotifyOnError   = "error"
)

// ProbeLog represents a single probe invocation record (GORM model)
type ProbeLog struct {
	ID              int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ProbeID         int64             `gorm:"column:probe_id;not null;index:idx_probelog_probe,priority:1" json:"probe_id"`
	ProbeName       string            `gorm:"column:probe_name;size:100;not null" json:"probe_name"`
	Method          string            `gorm:"column:method;size:10;not null" json:"method"`
	URL             string            `gorm:"column:url;type:text;not null" json:"url"`
	RequestHeaders  map[string]string `gorm:"column:request_headers;serializer:json" json:"request_headers"`
	RequestPayload  string            `gorm:"column:request_payload;type:text" json:"request_payload"`
	ResponseStatus  *int              `gorm:"column:response_status" json:"response_status"`
	ResponseHeaders map[string]string `gorm:"column:response_headers;serializer:json" json:"response_headers"`
	ResponseBody    string            `gorm:"column:response_body;type:text" json:"response_body"`
	ResponseTimeMs  int64             `gorm:"column:response_time_ms" json:"response_time_ms"`
	ErrorMessage    string            `gorm:"column:error_message;type:text" json:"error_message"`
	Status          string            `gorm:"column:status;size:20;not null" json:"status"`
	StartTime       time.Time         `gorm:"column:start_time;not null;index:idx_probelog_probe,priority:2,sort:desc" json:"start_time"`
	EndTime         *time.Time        `gorm:"column:end_time" json:"end_time"`
}

// TableName specifies the table name for ProbeLog
func (*ProbeLog) TableName() string {
	return "probe_logs"
}

// Subscription represents a scheduled git repository sync (GORM model)
type Subscription struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string     `gorm:"column:name;size:100;not null" json:"name"`
	Description       string     `gorm:"column:description;type:text" json:"description"`
	GitURL            string     `gorm:"column:git_url;type:text;not null" json:"git_url"`
	SaveDir           string     `gorm:"column:save_dir;size:500;not null" json:"save_dir"`
	FileExtensions    []string   `gorm:"column:file_extensions;serializer:json" json:"file_extensions"`
	ExcludePatterns   []string   `gorm:"column:exclude_patterns;serializer:json" json:"exclude_patterns"`
	IncludeFolders    bool       `gorm:"column:include_folders;default:true" json:"include_folders"`
	IncludeSubfolders bool       `gorm:"column:include_subfolders;default:true" json:"include_subfolders"`
	UseProxy          bool       `gorm:"column:use_proxy;default:false" json:"use_proxy"`
	SyncDeleteRemoved bool       `gorm:"column:sync_delete_removed;default:false" json:"sync_delete_removed"`
	CronExpr          string     `gorm:"column:cron_expr;size:100;not null" json:"cron_expr"`
	NotifyEnabled     bool       `gorm:"column:notify_enabled;default:false" json:"notify_enabled"`
	NotifyChannel     string     `gorm:"column:notify_channel;size:50" json:"notify_channel"`
	Active            bool       `gorm:"column:active;default:true" json:"active"`
	LastSyncTime      *time.Time `gorm:"column:last_sync_time" json:"last_sync_time"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Subscription
func (*Subscription) TableName() string {
	return "subscriptions"
}

// SubscriptionFile tracks one synced file by content hash (GORM model)
type SubscriptionFile struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID int64     `gorm:"column:subscription_id;not null;uniqueIndex:idx_subfile_path,priority:1" json:"subscription_id"`
	FilePath       string    `gorm:"column:file_path;size:768;not null;uniqueIndex:idx_subfile_path,priority:2" json:"file_path"`
	FileMD5        string    `gorm:"column:file_md5;size:32;not null" json:"file_md5"`
	FileSize       int64     `gorm:"column:file_size;default:0" json:"file_size"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for SubscriptionFile
func (*SubscriptionFile) TableName() string {
	return "subscription_files"
}

// SubscriptionLog represents a single sync run record (GORM model)
type SubscriptionLog struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID   int64      `gorm:"column:subscription_id;not null;index:idx_sublog_sub,priority:1" json:"subscription_id"`
	SubscriptionName string     `gorm:"column:subscription_name;size:100;not null" json:"subscription_name"`
	Status           string     `gorm:"column:status;size:20;not null" json:"status"`
	Message          string     `gorm:"column:message;type:text" json:"message"`
	FilesAdded       int        `gorm:"column:files_added;default:0" json:"files_added"`
	FilesUpdated     int        `gorm:"column:files_updated;default:0" json:"files_updated"`
	FilesDeleted     int        `gorm:"column:files_deleted;default:0" json:"files_deleted"`
	StartTime        time.Time  `gorm:"column:start_time;not null;index:idx_sublog_sub,priority:2,sort:desc" json:"start_time"`
	EndTime          *time.Time `gorm:"column:end_time" json:"end_time"`
}

// TableName specifies the table name for SubscriptionLog
func (*SubscriptionLog) TableName() string {
	return "subscription_logs"
}

// NotificationChannel holds transport configuration for one named channel (GORM model)
type NotificationChannel struct {
	ID        int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string            `gorm:"column:name;size:50;not null;uniqueIndex" json:"name"`
	Type      string            `gorm:"column:channel_type;size:20;not null" json:"type"`
	Config    map[string]string `gorm:"column:config;serializer:json" json:"config"`
	Active    bool              `gorm:"column:active;default:false" json:"active"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for NotificationChannel
func (*NotificationChannel) TableName() string {
	return "notification_channels"
}

// TaskNotifyConfig is the per-task notification policy (GORM model)
type TaskNotifyConfig struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID    int64     `gorm:"column:task_id;not null;uniqueIndex" json:"task_id"`
	Channel   string    `gorm:"column:channel;size:50" json:"channel"`
	ErrorOnly bool      `gorm:"column:error_only;default:false" json:"error_only"`
	Keywords  string    `gorm:"column:keywords;type:text" json:"keywords"` // Comma-separated
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for TaskNotifyConfig
func (*TaskNotifyConfig) TableName() string {
	return "task_notify_configs"
}

// KeywordList returns the keyword filter as a slice, dropping blanks
func (c *TaskNotifyConfig) KeywordList() []string {
	if c.Keywords == "" {
		return nil
	}
	var out []string
	for _, kw := range strings.Split(c.Keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// TaskLogQuery contains parameters for querying task logs
type TaskLogQuery struct {
	TaskID int64
	Status string
	Limit  int
	Offset int
}

// LogStats contains aggregated execution counters (query result, not a GORM model)
type LogStats struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	Running     int64   `json:"running"`
	SuccessRate float64 `json:"success_rate"`
}
