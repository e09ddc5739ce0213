package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ExecutorOption wires an optional collaborator into the executor
type ExecutorOption func(*WorkflowExecutor)

func WithExecutorEvents(e port.EventPublisher) ExecutorOption {
	return func(x *WorkflowExecutor) { x.events = e }
}

func WithExecutorMetrics(m port.MetricsRecorder) ExecutorOption {
	return func(x *WorkflowExecutor) {
		if m != nil {
			x.metrics = m
		}
	}
}

// WithStatusStore keeps run snapshots outside of executor memory.
func WithStatusStore(s port.RunStatusStore) ExecutorOption {
	return func(x *WorkflowExecutor) { x.store = s }
}

// WithRunHistory appends every finished run to an audit repository.
func WithRunHistory(h port.RunRepository) ExecutorOption {
	return func(x *WorkflowExecutor) { x.history = h }
}

// WithRunRetention bounds the finished runs held in memory. Runs whose snapshot reached
// the status store are dropped right away.
func WithRunRetention(n int) ExecutorOption {
	return func(x *WorkflowExecutor) {
		if n > 0 {
			x.retention = n
		}
	}
}

const defaultRunRetention = 1000

// WorkflowExecutor drives workflow runs through one shared TaskScheduler.
// It is the scheduler's TaskListener.
type WorkflowExecutor struct {
	mu   sync.RWMutex
	runs map[string]*Run
	// finished run ids, oldest first
	retired   []string
	retention int

	scheduler *TaskScheduler
	events    port.EventPublisher
	metrics   port.MetricsRecorder
	store     port.RunStatusStore
	history   port.RunRepository
	log       *zap.Logger

	persistTimeout time.Duration
}

func NewWorkflowExecutor(scheduler *TaskScheduler, log *zap.Logger, options ...ExecutorOption) *WorkflowExecutor {
	e := &WorkflowExecutor{
		runs:           make(map[string]*Run),
		scheduler:      scheduler,
		metrics:        nopMetrics{},
		log:            log,
		retention:      defaultRunRetention,
		persistTimeout: 5 * time.Second,
	}
	for _, o := range options {
		o(e)
	}
	scheduler.SetListener(e)
	return e
}

// Start validates def and, when valid, hands its initial ready set to the scheduler.
// A definition that fails validation produces a FAILED run and a *domain.ValidationError;
// nothing is submitted. Cancelling ctx aborts the run.
func (e *WorkflowExecutor) Start(ctx context.Context, def domain.WorkflowDefinition) (*Run, error) {
	graph := NewWorkflowGraph(def)
	r := newRun(ulid.Make().String(), def, graph)
	log := e.log.With(zap.String("run_id", r.id), zap.String("workflow_id", def.ID))

	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()

	r.mu.Lock()
	r.status = domain.RunStatusValidating
	if err := graph.Validate(); err != nil {
		reason := err.Error()
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		r.finish(domain.RunStatusFailed, reason)
		r.mu.Unlock()

		log.Warn("Rejected workflow definition", zap.Error(err))
		e.finished(r)
		return r, err
	}
	r.def.Strategy, _ = domain.ParseExecutionStrategy(string(def.Strategy))
	r.begin()
	log.Info("Run started",
		zap.String("strategy", string(r.def.Strategy)),
		zap.Int("tasks", len(def.Tasks)),
		zap.Int("max_parallel", def.MaxParallelTasks))
	publish(e.events, e.metrics, e.log, newEvent(domain.EventRunStarted, domain.EventPayload{
		WorkflowID: def.ID,
		RunID:      r.id,
		Status:     string(domain.RunStatusRunning),
	}))
	e.advance(r)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				if err := e.Abort(r.id); err == nil {
					log.Info("Run aborted by context", zap.Error(ctx.Err()))
				}
			case <-r.done:
			}
		}()
	}
	return r, nil
}

// Execute starts def and waits for its outcome.
func (e *WorkflowExecutor) Execute(ctx context.Context, def domain.WorkflowDefinition) (domain.RunResult, error) {
	r, err := e.Start(ctx, def)
	if err != nil {
		return r.Result(), err
	}
	return r.Wait(ctx)
}

// SubmitTask runs a standalone task as a single-node workflow.
func (e *WorkflowExecutor) SubmitTask(ctx context.Context, task domain.Task, retries int) (*Run, error) {
	def := domain.WorkflowDefinition{
		ID:               task.ID,
		Tasks:            map[string]domain.TaskNode{task.ID: {Task: task, Retries: retries}},
		Strategy:         domain.StrategyEager,
		MaxParallelTasks: 1,
	}
	return e.Start(ctx, def)
}

// Abort fails every unfinished task of a run and withdraws them from the scheduler.
func (e *WorkflowExecutor) Abort(runID string) error {
	r := e.lookup(runID)
	if r == nil {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunFinished)
	}
	keys := r.abort(reasonAborted)
	r.mu.Unlock()

	for _, key := range keys {
		if err := e.scheduler.Cancel(key); err != nil {
			e.log.Debug("Cancel skipped", zap.String("key", key), zap.Error(err))
		}
	}
	e.log.Info("Run aborted", zap.String("run_id", runID), zap.Int("withdrawn", len(keys)))
	e.finished(r)
	return nil
}

// Status returns the snapshot of a run. Runs no longer held in memory are read back from
// the status store.
func (e *WorkflowExecutor) Status(runID string) (domain.RunResult, bool) {
	if r := e.lookup(runID); r != nil {
		return r.Result(), true
	}
	if e.store == nil {
		return domain.RunResult{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
	defer cancel()
	res, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if !errors.Is(err, domain.ErrRunNotFound) {
			e.log.Warn("Run status store lookup failed", zap.String("run_id", runID), zap.Error(err))
		}
		return domain.RunResult{}, false
	}
	return *res, true
}

// Runs returns snapshots of the runs held in memory, oldest first.
func (e *WorkflowExecutor) Runs() []domain.RunResult {
	e.mu.RLock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.RUnlock()

	out := make([]domain.RunResult, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Result())
	}
	// ulids sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// TaskStarted implements port.TaskListener.
func (e *WorkflowExecutor) TaskStarted(task domain.Task) {
	r := e.lookup(task.RunID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == domain.RunStatusRunning && r.current(task) {
		r.tasks[task.ID] = domain.TaskStatusRunning
	}
}

// TaskFinished implements port.TaskListener. Dependents unlocked by a success are submitted
// before the scheduler runs its next dispatch pass.
func (e *WorkflowExecutor) TaskFinished(task domain.Task, success bool, reason string) {
	r := e.lookup(task.RunID)
	if r == nil {
		// late report of an evicted run
		e.scheduler.Forget(task.Key())
		return
	}
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		e.scheduler.Forget(task.Key())
		return
	}
	if !r.current(task) {
		r.mu.Unlock()
		e.log.Warn("Ignoring outcome of stale attempt", zap.String("key", task.Key()))
		return
	}
	if success {
		r.succeed(task.ID)
	} else {
		attempt := r.attempts[task.ID]
		r.fail(task.ID, reason, true)
		if r.attempts[task.ID] > attempt {
			e.log.Info("Retrying task",
				zap.String("run_id", r.id),
				zap.String("task_id", task.ID),
				zap.Int("attempt", r.attempts[task.ID]),
				zap.String("reason", reason))
		}
	}
	e.advance(r)
}

type rejection struct {
	task domain.Task
	err  error
}

// advance must be called with r.mu held; it releases it. It submits whatever the strategy allows
// and finishes the run once every task is terminal.
func (e *WorkflowExecutor) advance(r *Run) {
	for {
		finished := r.settle()
		var batch []domain.Task
		if !finished {
			batch = r.nextBatch()
		}
		outbox := r.takeOutbox()
		r.mu.Unlock()

		for _, ev := range outbox {
			publish(e.events, e.metrics, e.log, ev)
		}
		if finished {
			e.finished(r)
			return
		}

		var rejected []rejection
		for _, task := range batch {
			// an abort may have run while the lock was released
			if !e.inFlight(r, task) {
				continue
			}
			if err := e.scheduler.Submit(task); err != nil {
				rejected = append(rejected, rejection{task: task, err: err})
				continue
			}
			if e.stopped(r) {
				e.withdraw(task.Key())
			}
		}
		if len(rejected) == 0 {
			return
		}

		r.mu.Lock()
		for _, rj := range rejected {
			e.log.Warn("Scheduler rejected task",
				zap.String("run_id", r.id),
				zap.String("task_id", rj.task.ID),
				zap.Error(rj.err))
			if r.status == domain.RunStatusRunning && r.current(rj.task) {
				r.fail(rj.task.ID, rj.err.Error(), false)
			}
		}
	}
}

// inFlight reports whether task is still awaited by a running r.
func (e *WorkflowExecutor) inFlight(r *Run, task domain.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == domain.RunStatusRunning && r.current(task)
}

func (e *WorkflowExecutor) stopped(r *Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.IsTerminal()
}

// withdraw cancels a task submitted while its run was being aborted.
func (e *WorkflowExecutor) withdraw(key string) {
	if err := e.scheduler.Cancel(key); err != nil {
		e.log.Debug("Cancel skipped", zap.String("key", key), zap.Error(err))
	} else {
		e.log.Info("Withdrew task of aborted run", zap.String("key", key))
	}
	e.scheduler.Forget(key)
}

// finished runs the side effects of a run that just reached a terminal state.
func (e *WorkflowExecutor) finished(r *Run) {
	r.mu.Lock()
	res := r.snapshot()
	keys := append([]string(nil), r.keys...)
	r.release()
	r.mu.Unlock()

	close(r.done)
	e.scheduler.Forget(keys...)
	e.retire(res.RunID)

	elapsed := res.FinishedAt.Sub(res.StartedAt)
	e.metrics.RunFinished(res.Status, elapsed)

	eventType := domain.EventRunCompleted
	if res.Status == domain.RunStatusFailed {
		eventType = domain.EventRunFailed
		e.log.Warn("Run failed",
			zap.String("run_id", res.RunID),
			zap.String("reason", res.Reason),
			zap.Strings("failed_tasks", res.FailedTasks))
	} else {
		e.log.Info("Run completed", zap.String("run_id", res.RunID), zap.Duration("elapsed", elapsed))
	}
	publish(e.events, e.metrics, e.log, newEvent(eventType, domain.EventPayload{
		WorkflowID:  res.WorkflowID,
		RunID:       res.RunID,
		Status:      string(res.Status),
		Reason:      res.Reason,
		FailedTasks: res.FailedTasks,
	}))

	e.save(res)
	if e.history != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
			defer cancel()
			if err := e.history.SaveRun(ctx, res); err != nil {
				e.log.Error("Failed to record run history", zap.String("run_id", res.RunID), zap.Error(err))
			}
		}()
	}
}

// save stores a finished snapshot without blocking the caller.
func (e *WorkflowExecutor) save(res domain.RunResult) {
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
		defer cancel()
		if err := e.store.SaveRun(ctx, res); err != nil {
			e.log.Error("Failed to save run snapshot", zap.String("run_id", res.RunID), zap.Error(err))
			return
		}
		e.evict(res.RunID)
	}()
}

// retire records a finished run and evicts the oldest ones beyond the retention limit.
func (e *WorkflowExecutor) retire(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retired = append(e.retired, runID)
	for len(e.retired) > e.retention {
		delete(e.runs, e.retired[0])
		e.retired = e.retired[1:]
	}
}

func (e *WorkflowExecutor) evict(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}

func (e *WorkflowExecutor) lookup(runID string) *Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runs[runID]
}
