package domain

import "time"

const (
	EventRunStarted    = "run.started"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventTaskSubmitted = "task.submitted"
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"

	// EventAll subscribes to every event type
	EventAll = "*"
)

// Event is a best-effort lifecycle notification
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    EventPayload `json:"payload"`
}

type EventPayload struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
	Attempt     int      `json:"attempt,omitempty"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	FailedTasks []string `json:"failed_tasks,omitempty"`
}

// Prediction is advisory output of a duration/allocation predictor
type Prediction struct {
	SuggestedTimeout         time.Duration `json:"suggested_timeout"`
	SuggestedResourceCeiling Capacity      `json:"suggested_resource_ceiling"`
}
