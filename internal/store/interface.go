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

package store

import (
	"context"
	"time"
)

// Store defines the storage interface for tasks, probes, subscriptions and
// their execution history. Lookup methods return (nil, nil) when the record
// does not exist.
type Store interface {
	// Init initializes the store (creates tables, connections, etc.)
	Init() error

	// Close closes the store and releases resources
	Close() error

	// Health checks if the store is healthy
	Health(ctx context.Context) error

	// Tasks

	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetTaskByName(ctx context.Context, name string) (*Task, error)
	// ListTasks returns non-placeholder tasks ordered by id
	ListTasks(ctx context.Context) ([]Task, error)
	// ListActiveTasks returns active non-placeholder tasks
	ListActiveTasks(ctx context.Context) ([]Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id int64) error
	// ListGroups returns distinct group names across all rows, placeholders included
	ListGroups(ctx context.Context) ([]string, error)

	// Task logs

	CreateTaskLog(ctx context.Context, log *TaskLog) error
	GetTaskLog(ctx context.Context, id int64) (*TaskLog, error)
	UpdateTaskLog(ctx context.Context, log *TaskLog) error
	ListTaskLogs(ctx context.Context, query TaskLogQuery) ([]TaskLog, int64, error)
	// GetRunningTaskLog returns the newest running log for a task
	GetRunningTaskLog(ctx context.Context, taskID int64) (*TaskLog, error)
	DeleteTaskLogs(ctx context.Context, query TaskLogQuery) (int64, error)
	GetLogStats(ctx context.Context, todayStart time.Time) (*LogStats, error)

	// Environment variables

	UpsertEnvVar(ctx context.Context, ev *EnvVar) error
	ListEnvVars(ctx context.Context) ([]EnvVar, error)
	DeleteEnvVar(ctx context.Context, key string) error

	// Runtime config

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)

	// Probes

	CreateProbe(ctx context.Context, probe *Probe) error
	GetProbe(ctx context.Context, id int64) (*Probe, error)
	ListProbes(ctx context.Context) ([]Probe, error)
	ListActiveProbes(ctx context.Context) ([]Probe, error)
	UpdateProbe(ctx context.Context, probe *Probe) error
	DeleteProbe(ctx context.Context, id int64) error
	CreateProbeLog(ctx context.Context, log *ProbeLog) error
	ListProbeLogs(ctx context.Context, probeID int64, limit, offset int) ([]ProbeLog, int64, error)

	// Subscriptions

	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error

	GetSubscriptionFiles(ctx context.Context, subID int64) ([]SubscriptionFile, error)
	UpsertSubscriptionFile(ctx context.Context, file *SubscriptionFile) error
	DeleteSubscriptionFile(ctx context.Context, subID int64, filePath string) error
	DeleteSubscriptionFiles(ctx context.Context, subID int64) error

	CreateSubscriptionLog(ctx context.Context, log *SubscriptionLog) error
	UpdateSubscriptionLog(ctx context.Context, log *SubscriptionLog) error
	ListSubscriptionLogs(ctx context.Context, subID int64, limit, offset int) ([]SubscriptionLog, int64, error)

	// Notification channels

	UpsertNotificationChannel(ctx context.Context, ch *NotificationChannel) error
	GetNotificationChannel(ctx context.Context, name string) (*NotificationChannel, error)
	ListNotificationChannels(ctx context.Context) ([]NotificationChannel, error)
	DeleteNotificationChannel(ctx context.Context, name string) error

	GetTaskNotifyConfig(ctx context.Context, taskID int64) (*TaskNotifyConfig, error)
	UpsertTaskNotifyConfig(ctx context.Context, cfg *TaskNotifyConfig) error

	// Prune removes execution history older than the given time
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
