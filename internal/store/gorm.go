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
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store using GORM
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// ConnectionPoolConfig holds connection pool settings
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormStore creates a new GORM-based store
func NewGormStore(dialect string, dsn string) (*GormStore, error) {
	return NewGormStoreWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewGormStoreWithPool creates a new GORM-based store with connection pool settings
func NewGormStoreWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for non-SQLite databases
	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}

		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

// Init initializes the store (creates tables via auto-migration)
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&Task{},
		&TaskLog{},
		&EnvVar{},
		&ConfigEntry{},
		&Probe{},
		&ProbeLog{},
		&Subscription{},
		&SubscriptionFile{},
		&SubscriptionLog{},
		&NotificationChannel{},
		&TaskNotifyConfig{},
	)
}

// Close closes the store and releases resources
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the store is healthy
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateTask stores a new task
func (s *GormStore) CreateTask(ctx context.Context, task *Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// GetTask returns a task by id
func (s *GormStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskByName returns a task by its unique name
func (s *GormStore) GetTaskByName(ctx context.Context, name string) (*Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns all non-placeholder tasks ordered by id
func (s *GormStore) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("name NOT LIKE ?", GroupPlaceholderPrefix+"%").
		Order("id").
		Find(&tasks).Error
	return tasks, err
}

// ListActiveTasks returns active non-placeholder tasks
func (s *GormStore) ListActiveTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Where("active = ? AND name NOT LIKE ?", true, GroupPlaceholderPrefix+"%").
		Order("id").
		Find(&tasks).Error
	return tasks, err
}

// UpdateTask persists all fields of an existing task
func (s *GormStore) UpdateTask(ctx context.Context, task *Task) error {
	return s.db.WithContext(ctx).Save(task).Error
}

// DeleteTask removes a task by id
func (s *GormStore) DeleteTask(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&Task{}, id).Error
}

// ListGroups returns distinct group names across all rows, placeholders included
func (s *GormStore) ListGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.db.WithContext(ctx).Model(&Task{}).
		Where("group_name != ''").
		Distinct("group_name").
		Order("group_name").
		Pluck("group_name", &groups).Error
	return groups, err
}

// CreateTaskLog stores a new task log record
func (s *GormStore) CreateTaskLog(ctx context.Context, log *TaskLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// GetTaskLog returns a task log by id
func (s *GormStore) GetTaskLog(ctx context.Context, id int64) (*TaskLog, error) {
	var log TaskLog
	err := s.db.WithContext(ctx).First(&log, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateTaskLog persists all fields of an existing task log
func (s *GormStore) UpdateTaskLog(ctx context.Context, log *TaskLog) error {
	return s.db.WithContext(ctx).Save(log).Error
}

// ListTaskLogs returns task logs with database-level filtering and pagination
func (s *GormStore) ListTaskLogs(ctx context.Context, query TaskLogQuery) ([]TaskLog, int64, error) {
	var logs []TaskLog
	var total int64

	db := s.db.WithContext(ctx).Model(&TaskLog{})
	if query.TaskID > 0 {
		db = db.Where("task_id = ?", query.TaskID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	// Get count first (before pagination)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	err := db.Order("start_time DESC").Find(&logs).Error
	return logs, total, err
}

// GetRunningTaskLog returns the newest running log for a task
func (s *GormStore) GetRunningTaskLog(ctx context.Context, taskID int64) (*TaskLog, error) {
	var log TaskLog
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND status = ?", taskID, StatusRunning).
		Order("start_time DESC").
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// DeleteTaskLogs removes task logs matching the filter
func (s *GormStore) DeleteTaskLogs(ctx context.Context, query TaskLogQuery) (int64, error) {
	db := s.db.WithContext(ctx).Model(&TaskLog{})
	if query.TaskID > 0 {
		db = db.Where("task_id = ?", query.TaskID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.TaskID == 0 && query.Status == "" {
		db = db.Where("1 = 1")
	}
	result := db.Delete(&TaskLog{})
	return result.RowsAffected, result.Error
}

// GetLogStats returns aggregated execution counters. Total and Failed count
// today's runs only; the success rate is computed over all history.
func (s *GormStore) GetLogStats(ctx context.Context, todayStart time.Time) (*LogStats, error) {
	type countResult struct {
		AllTotal    int64
		AllSuccess  int64
		Running     int64
		TodayTotal  int64
		TodayFailed int64
	}
	var result countResult

	err := s.db.WithContext(ctx).Model(&TaskLog{}).
		Select("COUNT(*) as all_total, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as all_success, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as running, "+
			"SUM(CASE WHEN start_time >= ? THEN 1 ELSE 0 END) as today_total, "+
			"SUM(CASE WHEN start_time >= ? AND status = ? THEN 1 ELSE 0 END) as today_failed",
			StatusSuccess, StatusRunning, todayStart, todayStart, StatusFailed).
		Scan(&result).Error
	if err != nil {
		return nil, err
	}

	stats := &LogStats{
		Total:   result.TodayTotal,
		Success: result.AllSuccess,
		Failed:  result.TodayFailed,
		Running: result.Running,
	}
	if result.AllTotal > 0 {
		stats.SuccessRate = float64(result.AllSuccess) / float64(result.AllTotal) * 100
	}
	return stats, nil
}

// UpsertEnvVar creates or updates an environment variable by key
func (s *GormStore) UpsertEnvVar(ctx context.Context, ev *EnvVar) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
		}).Create(ev).Error
}

// ListEnvVars returns all environment variables ordered by key
func (s *GormStore) ListEnvVars(ctx context.Context) ([]EnvVar, error) {
	var vars []EnvVar
	err := s.db.WithContext(ctx).Order("key").Find(&vars).Error
	return vars, err
}

// DeleteEnvVar removes an environment variable by key
func (s *GormStore) DeleteEnvVar(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&EnvVar{}).Error
}

// GetConfig returns a config value, empty string when unset
func (s *GormStore) GetConfig(ctx context.Context, key string) (string, error) {
	var entry ConfigEntry
	err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// SetConfig creates or updates a config value
func (s *GormStore) SetConfig(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
		}).Create(&ConfigEntry{Key: key, Value: value}).Error
}

// ListConfig returns all config entries ordered by key
func (s *GormStore) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	var entries []ConfigEntry
	err := s.db.WithContext(ctx).Order("config_key").Find(&entries).Error
	return entries, err
}

// CreateProbe stores a new probe
func (s *GormStore) CreateProbe(ctx context.Context, probe *Probe) error {
	return s.db.WithContext(ctx).Create(probe).Error
}

// GetProbe returns a probe by id
func (s *GormStore) GetProbe(ctx context.Context, id int64) (*Probe, error) {
	var probe Probe
	err := s.db.WithContext(ctx).First(&probe, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &probe, nil
}

// ListProbes returns all probes ordered by id
func (s *GormStore) ListProbes(ctx context.Context) ([]Probe, error) {
	var probes []Probe
	err := s.db.WithContext(ctx).Order("id").Find(&probes).Error
	return probes, err
}

// ListActiveProbes returns active probes with a non-empty cron expression
func (s *GormStore) ListActiveProbes(ctx context.Context) ([]Probe, error) {
	var probes []Probe
	err := s.db.WithContext(ctx).
		Where("active = ? AND cron_expr != ''", true).
		Order("id").
		Find(&probes).Error
	return probes, err
}

// UpdateProbe persists all fields of an existing probe
func (s *GormStore) UpdateProbe(ctx context.Context, probe *Probe) error {
	return s.db.WithContext(ctx).Save(probe).Error
}

// DeleteProbe removes a probe and its logs
func (s *GormStore) DeleteProbe(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Where("probe_id = ?", id).Delete(&ProbeLog{}).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&Probe{}, id).Error
}

// CreateProbeLog stores a new probe log record
func (s *GormStore) CreateProbeLog(ctx context.Context, log *ProbeLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// ListProbeLogs returns probe logs with pagination, newest first
func (s *GormStore) ListProbeLogs(ctx context.Context, probeID int64, limit, offset int) ([]ProbeLog, int64, error) {
	var logs []ProbeLog
	var total int64

	db := s.db.WithContext(ctx).Model(&ProbeLog{})
	if probeID > 0 {
		db = db.Where("probe_id = ?", probeID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}

	err := db.Order("start_time DESC").Find(&logs).Error
	return logs, total, err
}

// CreateSubscription stores a new subscription
func (s *GormStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

// GetSubscription returns a subscription by id
func (s *GormStore) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns all subscriptions ordered by id
func (s *GormStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.WithContext(ctx).Order("id").Find(&subs).Error
	return subs, err
}

// ListActiveSubscriptions returns active subscriptions
func (s *GormStore) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&subs).Error
	return subs, err
}

// UpdateSubscription persists all fields of an existing subscription
func (s *GormStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

// DeleteSubscription removes a subscription with its files and logs
func (s *GormStore) DeleteSubscription(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", id).Delete(&SubscriptionFile{}).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", id).Delete(&SubscriptionLog{}).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&Subscription{}, id).Error
}

// GetSubscriptionFiles returns all tracked files for a subscription
func (s *GormStore) GetSubscriptionFiles(ctx context.Context, subID int64) ([]SubscriptionFile, error) {
	var files []SubscriptionFile
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subID).
		Order("file_path").
		Find(&files).Error
	return files, err
}

// UpsertSubscriptionFile creates or updates a tracked file by (subscription, path)
func (s *GormStore) UpsertSubscriptionFile(ctx context.Context, file *SubscriptionFile) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "file_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_md5", "file_size", "updated_at"}),
		}).Create(file).Error
}

// DeleteSubscriptionFile removes one tracked file
func (s *GormStore) DeleteSubscriptionFile(ctx context.Context, subID int64, filePath string) error {
	return s.db.WithContext(ctx).
		Where("subscription_id = ? AND file_path = ?", subID, filePath).
		Delete(&SubscriptionFile{}).Error
}

// DeleteSubscriptionFiles removes all tracked files for a subscription
func (s *GormStore) DeleteSubscriptionFiles(ctx context.Context, subID int64) error {
	return s.db.WithContext(ctx).
		Where("subscription_id = ?", subID).
		Delete(&SubscriptionFile{}).Error
}

// CreateSubscriptionLog stores a new sync log record
func (s *GormStore) CreateSubscriptionLog(ctx context.Context, log *SubscriptionLog) error {
	return s.db.WithContext(ctx).Create(log).Error
}

// UpdateSubscriptionLog persists all fields of an existing sync log
func (s *GormStore) UpdateSubscriptionLog(ctx context.Context, log *SubscriptionLog) error {
	return s.db.WithContext(ctx).Save(log).Error
}

// ListSubscriptionLogs returns sync logs with pagination, newest first
func (s *GormStore) ListSubscriptionLogs(ctx context.Context, subID int64, limit, offset int) ([]SubscriptionLog, int64, error) {
	var logs []SubscriptionLog
	var total int64

	db := s.db.WithContext(ctx).Model(&SubscriptionLog{})
	if subID > 0 {
		db = db.Where("subscription_id = ?", subID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}

	err := db.Order("start_time DESC").Find(&logs).Error
	return logs, total, err
}

// UpsertNotificationChannel creates or updates a channel by name
func (s *GormStore) UpsertNotificationChannel(ctx context.Context, ch *NotificationChannel) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_type", "config", "active", "updated_at"}),
		}).Create(ch).Error
}

// GetNotificationChannel returns a channel by name
func (s *GormStore) GetNotificationChannel(ctx context.Context, name string) (*NotificationChannel, error) {
	var ch NotificationChannel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListNotificationChannels returns all channels ordered by name
func (s *GormStore) ListNotificationChannels(ctx context.Context) ([]NotificationChannel, error) {
	var channels []NotificationChannel
	err := s.db.WithContext(ctx).Order("name").Find(&channels).Error
	return channels, err
}

// DeleteNotificationChannel removes a channel by name
func (s *GormStore) DeleteNotificationChannel(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&NotificationChannel{}).Error
}

// GetTaskNotifyConfig returns the notification policy for a task
func (s *GormStore) GetTaskNotifyConfig(ctx context.Context, taskID int64) (*TaskNotifyConfig, error) {
	var cfg TaskNotifyConfig
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertTaskNotifyConfig creates or updates the policy for a task
func (s *GormStore) UpsertTaskNotifyConfig(ctx context.Context, cfg *TaskNotifyConfig) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel", "error_only", "keywords", "updated_at"}),
		}).Create(cfg).Error
}

// Prune removes execution history older than the given time across all log tables
func (s *GormStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var pruned int64

	result := s.db.WithContext(ctx).
		Where("start_time < ? AND status != ?", olderThan, StatusRunning).
		Delete(&TaskLog{})
	if result.Error != nil {
		return pruned, result.Error
	}
	pruned += result.RowsAffected

	result = s.db.WithContext(ctx).
		Where("start_time < ?", olderThan).
		Delete(&ProbeLog{})
	if result.Error != nil {
		return pruned, result.Error
	}
	pruned += result.RowsAffected

	result = s.db.WithContext(ctx).
		Where("start_time < ? AND status != ?", olderThan, StatusRunning).
		Delete(&SubscriptionLog{})
	if result.Error != nil {
		return pruned, result.Error
	}
	pruned += result.RowsAffected

	return pruned, nil
}

var _ Store = (*GormStore)(nil)
