package hub

// Event payloads carried over the hub. Every event is a JSON object with a
// "type" discriminant.

// TaskStart announces a task execution beginning
type TaskStart struct {
	Type     string `json:"type"`
	TaskID   int64  `json:"task_id"`
	TaskName string `json:"task_name"`
	LogID    int64  `json:"log_id"`
}

// NewTaskStart builds a task_start event
func NewTaskStart(taskID int64, taskName string, logID int64) TaskStart {
	return TaskStart{Type: "task_start", TaskID: taskID, TaskName: taskName, LogID: logID}
}

// TaskOutput carries one captured line of script output
type TaskOutput struct {
	Type       string `json:"type"`
	TaskID     int64  `json:"task_id"`
	LogID      int64  `json:"log_id"`
	OutputLine string `json:"output_line"`
	OutputType string `json:"output_type"` // "stdout" or "stderr"
}

// NewTaskOutput builds a task_output event
func NewTaskOutput(taskID, logID int64, line, outputType string) TaskOutput {
	return TaskOutput{Type: "task_output", TaskID: taskID, LogID: logID, OutputLine: line, OutputType: outputType}
}

// TaskComplete announces a terminal execution state
type TaskComplete struct {
	Type        string `json:"type"`
	TaskID      int64  `json:"task_id"`
	TaskName    string `json:"task_name"`
	LogID       int64  `json:"log_id"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exit_code"`
	Output      string `json:"output"`
	ErrorOutput string `json:"error_output"`
}

// NewTaskComplete builds a task_complete event
func NewTaskComplete(taskID int64, taskName string, logID int64, status string, exitCode int, output, errorOutput string) TaskComplete {
	return TaskComplete{
		Type: "task_complete", TaskID: taskID, TaskName: taskName, LogID: logID,
		Status: status, ExitCode: exitCode, Output: output, ErrorOutput: errorOutput,
	}
}

// TaskError announces a launch failure
type TaskError struct {
	Type     string `json:"type"`
	TaskID   int64  `json:"task_id"`
	TaskName string `json:"task_name"`
	LogID    int64  `json:"log_id"`
	Error    string `json:"error"`
}

// NewTaskError builds a task_error event
func NewTaskError(taskID int64, taskName string, logID int64, errText string) TaskError {
	return TaskError{Type: "task_error", TaskID: taskID, TaskName: taskName, LogID: logID, Error: errText}
}

// SubscriptionSyncStart announces a sync run beginning
type SubscriptionSyncStart struct {
	Type             string `json:"type"`
	SubscriptionID   int64  `json:"subscription_id"`
	SubscriptionName string `json:"subscription_name"`
	LogID            int64  `json:"log_id"`
}

// NewSubscriptionSyncStart builds a subscription_sync_start event
func NewSubscriptionSyncStart(subID int64, subName string, logID int64) SubscriptionSyncStart {
	return SubscriptionSyncStart{Type: "subscription_sync_start", SubscriptionID: subID, SubscriptionName: subName, LogID: logID}
}

// SubscriptionSyncComplete summarizes a finished sync run
type SubscriptionSyncComplete struct {
	Type             string `json:"type"`
	SubscriptionID   int64  `json:"subscription_id"`
	SubscriptionName string `json:"subscription_name"`
	LogID            int64  `json:"log_id"`
	Status           string `json:"status"`
	FilesAdded       int    `json:"files_added"`
	FilesUpdated     int    `json:"files_updated"`
	Message          string `json:"message"`
}

// NewSubscriptionSyncComplete builds a subscription_sync_complete event
func NewSubscriptionSyncComplete(subID int64, subName string, logID int64, status string, added, updated int, message string) SubscriptionSyncComplete {
	return SubscriptionSyncComplete{
		Type: "subscription_sync_complete", SubscriptionID: subID, SubscriptionName: subName,
		LogID: logID, Status: status, FilesAdded: added, FilesUpdated: updated, Message: message,
	}
}
