// Package port provides behavior interfaces that connects service & storage & handler.
package port

import (
	"context"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

// TaskRunner is the execution collaborator. Run must return quickly; the outcome is reported
// later through report.OnCompletion or report.OnTimeout with task.Key().
type TaskRunner interface {
	Run(ctx context.Context, task domain.Task, report CompletionReporter)
}

// CompletionReporter is how a TaskRunner reports outcomes back to the scheduler
type CompletionReporter interface {
	OnCompletion(key string, success bool) error
	OnTimeout(key string) error
}

// TaskListener is notified synchronously about scheduler transitions
type TaskListener interface {
	TaskStarted(task domain.Task)
	TaskFinished(task domain.Task, success bool, reason string)
}

// Predictor suggests a timeout and resource ceiling from opaque task features
type Predictor interface {
	Predict(features map[string]any) domain.Prediction
}

// EventPublisher delivers lifecycle notifications on a best-effort basis
type EventPublisher interface {
	Publish(event domain.Event) error
}

// EventHandler consumes one event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventSubscriber registers handlers for an event type ("*" for every type)
type EventSubscriber interface {
	Subscribe(eventType string, handler EventHandler)
}

// MetricsRecorder receives scheduler and executor measurements
type MetricsRecorder interface {
	TaskSubmitted()
	TaskDispatched(policy domain.SchedulePolicy)
	TaskFinished(status domain.TaskStatus, elapsed time.Duration)
	AdmissionDeferred()
	QueueDepth(ready, running int)
	ResourceUsage(resource domain.ResourceType, allocated, capacity float64)
	RunFinished(status domain.RunStatus, elapsed time.Duration)
	EventDropped(reason string)
}

// RunStatusStore keeps run snapshots for polling after the run left executor memory
type RunStatusStore interface {
	SaveRun(ctx context.Context, result domain.RunResult) error
	GetRun(ctx context.Context, runID string) (*domain.RunResult, error)
}

// RunRepository is the append-only history of finished runs
type RunRepository interface {
	SaveRun(ctx context.Context, result domain.RunResult) error
	GetRun(ctx context.Context, runID string) (*domain.RunResult, error)
	ListRuns(ctx context.Context, workflowID string, limit uint64) ([]domain.RunResult, error)
}

// EventSink forwards events to an external broker
type EventSink interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}
