package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"go.uber.org/zap"
)

// SchedulerOptions configures a TaskScheduler
type SchedulerOptions struct {
	Policy         domain.SchedulePolicy
	MaxConcurrent  int
	DefaultTimeout time.Duration // applied when neither the task nor the predictor set one
}

// SchedulerOption wires an optional collaborator
type SchedulerOption func(*TaskScheduler)

func WithPredictor(p port.Predictor) SchedulerOption {
	return func(s *TaskScheduler) { s.predictor = p }
}

func WithEventPublisher(e port.EventPublisher) SchedulerOption {
	return func(s *TaskScheduler) { s.events = e }
}

func WithMetrics(m port.MetricsRecorder) SchedulerOption {
	return func(s *TaskScheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

type runningTask struct {
	task      domain.Task
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time
	cancelled bool
}

// SchedulerStats is a snapshot of the scheduler's pools
type SchedulerStats struct {
	Policy        domain.SchedulePolicy `json:"policy"`
	MaxConcurrent int                   `json:"max_concurrent"`
	Ready         int                   `json:"ready"`
	Running       int                   `json:"running"`
	Resources     []ResourceUsage       `json:"resources"`
}

// TaskScheduler admits ready tasks under the concurrency ceiling and the resource pool.
// Every mutation of the ready pool, the running set and the pool counters happens under mu.
// Collaborators (runner, listener, event bus) are always called with mu released.
type TaskScheduler struct {
	mu       sync.Mutex
	opts     SchedulerOptions
	pool     *ResourcePool
	ready    *readyPool
	running  map[string]*runningTask
	statuses map[string]domain.TaskStatus
	seq      uint64

	runner    port.TaskRunner
	listener  port.TaskListener
	predictor port.Predictor
	events    port.EventPublisher
	metrics   port.MetricsRecorder
	log       *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
}

func NewTaskScheduler(
	pool *ResourcePool,
	runner port.TaskRunner,
	opts SchedulerOptions,
	log *zap.Logger,
	options ...SchedulerOption,
) *TaskScheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Policy == "" {
		opts.Policy = domain.PolicyPriority
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &TaskScheduler{
		opts:     opts,
		pool:     pool,
		ready:    newReadyPool(opts.Policy),
		running:  make(map[string]*runningTask),
		statuses: make(map[string]domain.TaskStatus),
		runner:   runner,
		metrics:  nopMetrics{},
		log:      log,
		baseCtx:  baseCtx,
		stop:     stop,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// SetListener registers the component notified about dispatch and completion.
// It must be called before the first Submit.
func (s *TaskScheduler) SetListener(l port.TaskListener) {
	s.listener = l
}

// Policy returns the configured selection policy.
func (s *TaskScheduler) Policy() domain.SchedulePolicy { return s.opts.Policy }

// Submit adds a task to the ready pool and runs a dispatch pass.
// A key the scheduler already knows is rejected with domain.ErrDuplicateTask and changes nothing.
func (s *TaskScheduler) Submit(task domain.Task) error {
	task = s.applyPrediction(task)
	key := task.Key()

	s.mu.Lock()
	if status, known := s.statuses[key]; known {
		s.mu.Unlock()
		return fmt.Errorf("task %s is %s: %w", key, status, domain.ErrDuplicateTask)
	}
	if !s.pool.Fits(task.Resources) {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", key, domain.ErrInsufficientCapacity)
	}
	s.seq++
	task.Status = domain.TaskStatusReady
	s.statuses[key] = domain.TaskStatusReady
	s.ready.push(&queuedTask{task: task, seq: s.seq})
	s.mu.Unlock()

	s.log.Debug("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("run_id", task.RunID),
		zap.Int("priority", task.Priority))
	s.metrics.TaskSubmitted()
	publish(s.events, s.metrics, s.log, newEvent(domain.EventTaskSubmitted, taskPayload(task, "")))

	s.dispatch()
	return nil
}

// applyPrediction falls back to the predictor only for what the task omits.
func (s *TaskScheduler) applyPrediction(task domain.Task) domain.Task {
	task = task.Clone()
	if s.predictor != nil && (task.Timeout == 0 || len(task.Resources) == 0) {
		p := s.predictor.Predict(task.Features)
		if task.Timeout == 0 {
			task.Timeout = p.SuggestedTimeout
		}
		if len(task.Resources) == 0 {
			for _, t := range domain.ResourceTypes {
				if amount, ok := p.SuggestedResourceCeiling[t]; ok && amount > 0 {
					task.Resources = append(task.Resources, domain.ResourceRequirement{Type: t, Amount: amount})
				}
			}
		}
	}
	if task.Timeout == 0 {
		task.Timeout = s.opts.DefaultTimeout
	}
	return task
}

// dispatch admits tasks while a concurrency slot is free. When the selected task does not fit
// the pool the pass stops; the next release or submission triggers another pass.
func (s *TaskScheduler) dispatch() {
	var started []*runningTask

	s.mu.Lock()
	for len(s.running) < s.opts.MaxConcurrent {
		i := s.ready.peek()
		if i < 0 {
			break
		}
		q := s.ready.items[i]
		if !s.pool.TryAllocate(q.task.Resources) {
			s.metrics.AdmissionDeferred()
			s.log.Debug("Admission deferred, waiting for resources",
				zap.String("task_id", q.task.ID),
				zap.String("run_id", q.task.RunID))
			break
		}
		s.ready.take(i)

		ctx, cancel := context.WithCancel(s.baseCtx)
		rt := &runningTask{task: q.task, ctx: ctx, cancel: cancel, started: time.Now()}
		rt.task.Status = domain.TaskStatusRunning
		key := rt.task.Key()
		s.running[key] = rt
		s.statuses[key] = domain.TaskStatusRunning
		started = append(started, rt)
	}
	if len(s.running) > s.opts.MaxConcurrent {
		panic(domain.InvariantViolation{Msg: fmt.Sprintf("running set %d exceeds ceiling %d", len(s.running), s.opts.MaxConcurrent)})
	}
	ready, running := s.ready.Len(), len(s.running)
	s.mu.Unlock()

	s.metrics.QueueDepth(ready, running)
	s.reportUsage()

	for _, rt := range started {
		s.log.Info("Dispatched task",
			zap.String("task_id", rt.task.ID),
			zap.String("run_id", rt.task.RunID),
			zap.String("policy", string(s.opts.Policy)),
			zap.Int("running", running))
		s.metrics.TaskDispatched(s.opts.Policy)
		if s.listener != nil {
			s.listener.TaskStarted(rt.task)
		}
		publish(s.events, s.metrics, s.log, newEvent(domain.EventTaskStarted, taskPayload(rt.task, "")))
		s.runner.Run(rt.ctx, rt.task, s)
	}
}

// OnCompletion records the outcome of a running task, releases its resources and lets the
// listener react before the next dispatch pass.
func (s *TaskScheduler) OnCompletion(key string, success bool) error {
	reason := ""
	if !success {
		reason = domain.ErrTaskFailed.Error()
	}
	return s.finish(key, success, reason)
}

// OnTimeout treats a task that overran its timeout as failed.
func (s *TaskScheduler) OnTimeout(key string) error {
	return s.finish(key, false, domain.ErrTaskTimeout.Error())
}

func (s *TaskScheduler) finish(key string, success bool, reason string) error {
	s.mu.Lock()
	rt, ok := s.running[key]
	if !ok {
		status, known := s.statuses[key]
		s.mu.Unlock()
		switch {
		case known && status.IsTerminal():
			return fmt.Errorf("task %s: %w", key, domain.ErrAlreadyCompleted)
		case known:
			return fmt.Errorf("task %s is %s, not running: %w", key, status, domain.ErrTaskNotFound)
		}
		return fmt.Errorf("task %s: %w", key, domain.ErrTaskNotFound)
	}
	delete(s.running, key)
	s.pool.Release(rt.task.Resources)

	status := domain.TaskStatusCompleted
	if !success {
		status = domain.TaskStatusFailed
		if rt.cancelled {
			reason = domain.ErrTaskCancelled.Error()
		}
	}
	s.statuses[key] = status
	rt.task.Status = status
	rt.cancel()
	s.mu.Unlock()

	elapsed := time.Since(rt.started)
	s.metrics.TaskFinished(status, elapsed)
	if success {
		s.log.Info("Task completed", zap.String("task_id", rt.task.ID), zap.String("run_id", rt.task.RunID), zap.Duration("elapsed", elapsed))
		publish(s.events, s.metrics, s.log, newEvent(domain.EventTaskCompleted, taskPayload(rt.task, "")))
	} else {
		s.log.Warn("Task failed", zap.String("task_id", rt.task.ID), zap.String("run_id", rt.task.RunID), zap.String("reason", reason))
		publish(s.events, s.metrics, s.log, newEvent(domain.EventTaskFailed, taskPayload(rt.task, reason)))
	}

	if s.listener != nil {
		s.listener.TaskFinished(rt.task, success, reason)
	}
	s.dispatch()
	return nil
}

// Cancel withdraws a task. A pending task leaves the ready pool as FAILED without a listener
// call. A running task has its context cancelled and keeps its slot until the runner reports.
func (s *TaskScheduler) Cancel(key string) error {
	s.mu.Lock()
	if q, ok := s.ready.remove(key); ok {
		s.statuses[key] = domain.TaskStatusFailed
		s.mu.Unlock()

		q.task.Status = domain.TaskStatusFailed
		s.log.Info("Cancelled pending task", zap.String("task_id", q.task.ID), zap.String("run_id", q.task.RunID))
		publish(s.events, s.metrics, s.log, newEvent(domain.EventTaskFailed, taskPayload(q.task, domain.ErrTaskCancelled.Error())))
		s.dispatch()
		return nil
	}
	if rt, ok := s.running[key]; ok {
		rt.cancelled = true
		rt.cancel()
		s.mu.Unlock()
		s.log.Info("Signalled running task to stop", zap.String("task_id", rt.task.ID), zap.String("run_id", rt.task.RunID))
		return nil
	}
	status, known := s.statuses[key]
	s.mu.Unlock()
	if known && status.IsTerminal() {
		return fmt.Errorf("task %s: %w", key, domain.ErrAlreadyCompleted)
	}
	return fmt.Errorf("task %s: %w", key, domain.ErrTaskNotFound)
}

// Forget drops the bookkeeping of terminal tasks. Keys still ready or running are kept.
func (s *TaskScheduler) Forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if status, ok := s.statuses[key]; ok && status.IsTerminal() {
			delete(s.statuses, key)
		}
	}
}

// Status returns the scheduler's view of a task key.
func (s *TaskScheduler) Status(key string) (domain.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[key]
	return status, ok
}

// Stats returns pool sizes and resource usage.
func (s *TaskScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	ready, running := s.ready.Len(), len(s.running)
	s.mu.Unlock()
	return SchedulerStats{
		Policy:        s.opts.Policy,
		MaxConcurrent: s.opts.MaxConcurrent,
		Ready:         ready,
		Running:       running,
		Resources:     s.pool.Snapshot(),
	}
}

// Close signals every running task to stop. Accounting continues until runners report.
func (s *TaskScheduler) Close() {
	s.stop()
}

func (s *TaskScheduler) reportUsage() {
	for _, u := range s.pool.Snapshot() {
		s.metrics.ResourceUsage(u.Type, u.Allocated, u.Capacity)
	}
}

func taskPayload(task domain.Task, reason string) domain.EventPayload {
	return domain.EventPayload{
		RunID:   task.RunID,
		TaskID:  task.ID,
		Attempt: task.Attempt,
		Status:  string(task.Status),
		Reason:  reason,
	}
}
