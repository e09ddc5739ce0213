// Package domain provides domain level errors & the plain value types shared by the scheduler,
// the workflow executor and the adapters.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is wrapped by every ValidationError
	ErrValidation = errors.New("invalid workflow definition")

	ErrDuplicateTask        = errors.New("task already submitted")
	ErrTaskNotFound         = errors.New("task not found")
	ErrAlreadyCompleted     = errors.New("task already reached a terminal state")
	ErrInsufficientCapacity = errors.New("resource requirements exceed pool capacity")
	ErrTaskFailed           = errors.New("task execution failed")
	ErrTaskTimeout          = errors.New("task execution timeout")
	ErrTaskCancelled        = errors.New("task cancelled")
	ErrUnknownHandler       = errors.New("unknown task handler")

	ErrRunFailed   = errors.New("run failed")
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")

	ErrBusFull    = errors.New("event bus buffer full")
	ErrBusStopped = errors.New("event bus stopped")
)

// ValidationError reports a malformed workflow. TaskID is optional.
type ValidationError struct {
	Reason string
	TaskID string
}

func (e *ValidationError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s (task %q)", ErrValidation, e.Reason, e.TaskID)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RunFailure is returned to the submitter of a run that ended with failed tasks.
type RunFailure struct {
	RunID       string
	Reason      string
	FailedTasks []string
}

func (e *RunFailure) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrRunFailed, e.RunID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.FailedTasks) > 0 {
		msg += " (failed: " + strings.Join(e.FailedTasks, ", ") + ")"
	}
	return msg
}

func (e *RunFailure) Unwrap() error { return ErrRunFailed }

// InvariantViolation is the panic value raised when scheduler bookkeeping is corrupt.
// It signals a bug, never a normal failure.
type InvariantViolation struct {
	Msg string
}

func (v InvariantViolation) Error() string { return "invariant violation: " + v.Msg }
