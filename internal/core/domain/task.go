package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusReady     TaskStatus = "READY"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a unit of work to be scheduled
type Task struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	Priority  int                   `json:"priority"`           // 0 (Low) and up, higher is more urgent
	Deadline  *time.Time            `json:"deadline,omitempty"` // nil sorts after every deadline
	Resources []ResourceRequirement `json:"resources,omitempty"`
	Timeout   time.Duration         `json:"timeout,omitempty"`
	Group     string                `json:"group,omitempty"`   // fair-share owner
	Handler   string                `json:"handler,omitempty"` // resolved by the task runner
	Features  map[string]any        `json:"features,omitempty"`
	RunID     string                `json:"run_id,omitempty"`
	Attempt   int                   `json:"attempt,omitempty"`
	Status    TaskStatus            `json:"status,omitempty"`
}

// Key identifies one scheduling attempt of a task inside the shared scheduler.
func (t *Task) Key() string {
	if t.RunID == "" {
		return fmt.Sprintf("%s#%d", t.ID, t.Attempt)
	}
	return fmt.Sprintf("%s/%s#%d", t.RunID, t.ID, t.Attempt)
}

// Clone returns a copy that shares no slices or maps with t.
func (t Task) Clone() Task {
	c := t
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.Resources != nil {
		c.Resources = append([]ResourceRequirement(nil), t.Resources...)
	}
	if t.Features != nil {
		c.Features = make(map[string]any, len(t.Features))
		for k, v := range t.Features {
			c.Features[k] = v
		}
	}
	return c
}
