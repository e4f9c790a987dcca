package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TaskExecutionsTotal tracks the total number of task executions by terminal status
	TaskExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinchy_task_executions_total",
			Help: "Total number of task executions by terminal status",
		},
		[]string{"task", "status"},
	)

	// TaskDurationSeconds tracks task execution durations
	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinchy_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"task"},
	)

	// RunningTasks tracks the number of currently running task processes
	RunningTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pinchy_running_tasks",
			Help: "Number of currently running task processes",
		},
	)

	// ProbesTotal tracks the total number of probe invocations by status
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinchy_probes_total",
			Help: "Total number of probe invocations by status",
		},
		[]string{"probe", "status"},
	)

	// ProbeResponseSeconds tracks probe response times
	ProbeResponseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinchy_probe_response_seconds",
			Help:    "Probe response time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"probe"},
	)

	// SubscriptionSyncsTotal tracks the total number of sync runs by status
	SubscriptionSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinchy_subscription_syncs_total",
			Help: "Total number of subscription sync runs by status",
		},
		[]string{"subscription", "status"},
	)

	// SubscriptionFilesChanged tracks files touched by sync runs
	SubscriptionFilesChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinchy_subscription_files_changed_total",
			Help: "Total number of files added, updated or deleted by sync runs",
		},
		[]string{"subscription", "change"},
	)

	// NotificationsTotal tracks notifications by channel and outcome
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinchy_notifications_total",
			Help: "Total number of notifications by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// WebsocketClients tracks connected WebSocket clients
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pinchy_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// CronEntriesRegistered tracks registrations in the cron engine by kind
	CronEntriesRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pinchy_cron_entries_registered",
			Help: "Number of registered cron entries by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		TaskExecutionsTotal,
		TaskDurationSeconds,
		RunningTasks,
		ProbesTotal,
		ProbeResponseSeconds,
		SubscriptionSyncsTotal,
		SubscriptionFilesChanged,
		NotificationsTotal,
		WebsocketClients,
		CronEntriesRegistered,
	)
}

// RecordTaskExecution records a finished task execution
func RecordTaskExecution(task, status string, seconds float64) {
	TaskExecutionsTotal.WithLabelValues(task, status).Inc()
	TaskDurationSeconds.WithLabelValues(task).Observe(seconds)
}

// RecordProbe records a finished probe invocation
func RecordProbe(probe, status string, seconds float64) {
	ProbesTotal.WithLabelValues(probe, status).Inc()
	ProbeResponseSeconds.WithLabelValues(probe).Observe(seconds)
}

// RecordSync records a finished subscription sync run
func RecordSync(subscription, status string, added, updated, deleted int) {
	SubscriptionSyncsTotal.WithLabelValues(subscription, status).Inc()
	SubscriptionFilesChanged.WithLabelValues(subscription, "added").Add(float64(added))
	SubscriptionFilesChanged.WithLabelValues(subscription, "updated").Add(float64(updated))
	SubscriptionFilesChanged.WithLabelValues(subscription, "deleted").Add(float64(deleted))
}

// RecordNotification records a notification attempt
func RecordNotification(channel string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}
