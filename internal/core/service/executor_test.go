package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type executorFixture struct {
	exec   *WorkflowExecutor
	sched  *TaskScheduler
	runner *manualRunner
	events *recordingPublisher
}

func newExecutorFixture(t *testing.T, opts SchedulerOptions, capacity domain.Capacity, options ...ExecutorOption) *executorFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	events := &recordingPublisher{}
	runner := newManualRunner()
	sched := NewTaskScheduler(NewResourcePool(capacity), runner, opts, log, WithEventPublisher(events))
	t.Cleanup(sched.Close)
	options = append([]ExecutorOption{WithExecutorEvents(events)}, options...)
	return &executorFixture{
		exec:   NewWorkflowExecutor(sched, log, options...),
		sched:  sched,
		runner: runner,
		events: events,
	}
}

// finish reports the latest attempt of a task of run r.
func (f *executorFixture) finish(t *testing.T, r *Run, id string, success bool) {
	t.Helper()
	f.runner.mu.Lock()
	var key string
	for i := len(f.runner.started) - 1; i >= 0; i-- {
		if tk := f.runner.started[i]; tk.ID == id && tk.RunID == r.ID() {
			key = tk.Key()
			break
		}
	}
	f.runner.mu.Unlock()
	require.NotEmpty(t, key, "task %s of run %s was never dispatched", id, r.ID())
	require.NoError(t, f.sched.OnCompletion(key, success))
}

func waitDone(t *testing.T, r *Run) domain.RunResult {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("run %s did not finish", r.ID())
	}
	return r.Result()
}

func TestExecutor_RejectsCycleWithoutSubmitting(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)

	r, err := f.exec.Start(context.Background(), workflow("loop", 2, map[string]domain.TaskNode{
		"a": node("c"),
		"b": node("a"),
		"c": node("b"),
	}))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "circular dependency detected", verr.Reason)

	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, verr.Reason, res.Reason)
	assert.Zero(t, f.runner.count())
	assert.Equal(t, []string{domain.EventRunFailed}, f.events.types())
}

func TestExecutor_RejectsMissingDependency(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)

	_, err := f.exec.Execute(context.Background(), workflow("w", 1, map[string]domain.TaskNode{
		"a": node("ghost"),
	}))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.TaskID)
	assert.Zero(t, f.runner.count())
}

func TestExecutor_LinearChain(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
	r, err := f.exec.Start(context.Background(), workflow("chain", 4, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
		"c": node("b"),
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, f.runner.startedIDs())
	assert.Equal(t, domain.TaskStatusRunning, r.Result().Tasks["a"])
	assert.Equal(t, domain.TaskStatusPending, r.Result().Tasks["c"])

	f.finish(t, r, "a", true)
	f.finish(t, r, "b", true)
	f.finish(t, r, "c", true)

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"a", "b", "c"}, f.runner.startedIDs())
	if diff := cmp.Diff(map[string]domain.TaskStatus{
		"a": domain.TaskStatusCompleted,
		"b": domain.TaskStatusCompleted,
		"c": domain.TaskStatusCompleted,
	}, res.Tasks); diff != "" {
		t.Errorf("task statuses mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestExecutor_FailurePropagatesToDependents(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
	r, err := f.exec.Start(context.Background(), workflow("fan", 4, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
		"c": node("a"),
	}))
	require.NoError(t, err)

	f.finish(t, r, "a", false)

	res, err := r.Wait(context.Background())
	var failure *domain.RunFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, domain.ErrRunFailed)
	assert.Equal(t, []string{"a", "b", "c"}, failure.FailedTasks)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, []string{"a"}, f.runner.startedIDs())

	propagated := f.events.ofType(domain.EventTaskFailed)
	var ids []string
	for _, ev := range propagated {
		ids = append(ids, ev.Payload.TaskID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "dependency a failed", propagated[1].Payload.Reason)
}

func TestExecutor_IndependentBranchStillRuns(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
	r, err := f.exec.Start(context.Background(), workflow("w", 4, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
		"x": node(),
		"y": node("x"),
	}))
	require.NoError(t, err)

	f.finish(t, r, "a", false)
	assert.Equal(t, domain.RunStatusRunning, r.Result().Status)

	f.finish(t, r, "x", true)
	f.finish(t, r, "y", true)

	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.FailedTasks)
	assert.Equal(t, domain.TaskStatusCompleted, res.Tasks["y"])
}

func TestExecutor_Retries(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	def := workflow("retry", 1, map[string]domain.TaskNode{
		"a": {Retries: 2},
	})
	r, err := f.exec.Start(context.Background(), def)
	require.NoError(t, err)

	f.finish(t, r, "a", false)
	f.finish(t, r, "a", false)
	assert.Equal(t, domain.RunStatusRunning, r.Result().Status)
	f.finish(t, r, "a", true)

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, 3, f.runner.count())

	last, _ := f.runner.last("a")
	assert.Equal(t, 2, last.Attempt)
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	r, err := f.exec.Start(context.Background(), workflow("retry", 1, map[string]domain.TaskNode{
		"a": {Retries: 1},
	}))
	require.NoError(t, err)

	f.finish(t, r, "a", false)
	f.finish(t, r, "a", false)

	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, []string{"a"}, res.FailedTasks)
	assert.Equal(t, 2, f.runner.count())
}

func TestExecutor_MaxParallelTasks(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 10}, nil)
	r, err := f.exec.Start(context.Background(), workflow("wide", 2, map[string]domain.TaskNode{
		"a": node(), "b": node(), "c": node(), "d": node(), "e": node(),
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, f.runner.startedIDs())
	f.finish(t, r, "a", true)
	assert.Equal(t, []string{"a", "b", "c"}, f.runner.startedIDs())
	assert.Equal(t, 2, f.sched.Stats().Running)
}

func TestExecutor_Strategies(t *testing.T) {
	t.Run("batch waits for the whole level", func(t *testing.T) {
		f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
		def := workflow("batch", 4, map[string]domain.TaskNode{
			"a": node(),
			"b": node(),
			"c": node("a"),
		})
		def.Strategy = domain.StrategyBatch
		r, err := f.exec.Start(context.Background(), def)
		require.NoError(t, err)

		f.finish(t, r, "a", true)
		assert.Equal(t, []string{"a", "b"}, f.runner.startedIDs())
		assert.Equal(t, domain.TaskStatusReady, r.Result().Tasks["c"])

		f.finish(t, r, "b", true)
		assert.Equal(t, []string{"a", "b", "c"}, f.runner.startedIDs())
	})

	t.Run("eager starts dependents immediately", func(t *testing.T) {
		f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
		r, err := f.exec.Start(context.Background(), workflow("eager", 4, map[string]domain.TaskNode{
			"a": node(),
			"b": node(),
			"c": node("a"),
		}))
		require.NoError(t, err)

		f.finish(t, r, "a", true)
		assert.Equal(t, []string{"a", "b", "c"}, f.runner.startedIDs())
	})

	t.Run("lazy runs one task at a time in topological order", func(t *testing.T) {
		f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 4}, nil)
		def := workflow("lazy", 4, map[string]domain.TaskNode{
			"c": node(),
			"a": node(),
			"b": node("a"),
		})
		def.Strategy = domain.StrategyLazy
		r, err := f.exec.Start(context.Background(), def)
		require.NoError(t, err)

		assert.Equal(t, []string{"a"}, f.runner.startedIDs())
		f.finish(t, r, "a", true)
		assert.Equal(t, []string{"a", "b"}, f.runner.startedIDs())
		f.finish(t, r, "b", true)
		f.finish(t, r, "c", true)
		assert.Equal(t, []string{"a", "b", "c"}, f.runner.startedIDs())
		assert.Equal(t, domain.RunStatusCompleted, waitDone(t, r).Status)
	})

	t.Run("priority hands over the most urgent task first", func(t *testing.T) {
		f := newExecutorFixture(t, SchedulerOptions{Policy: domain.PolicyFIFO, MaxConcurrent: 4}, nil)
		def := workflow("prio", 1, map[string]domain.TaskNode{
			"x": {Task: domain.Task{Priority: 1}},
			"y": {Task: domain.Task{Priority: 5}},
			"z": {Task: domain.Task{Priority: 3}},
		})
		def.Strategy = domain.StrategyPriority
		r, err := f.exec.Start(context.Background(), def)
		require.NoError(t, err)

		f.finish(t, r, "y", true)
		f.finish(t, r, "z", true)
		f.finish(t, r, "x", true)
		assert.Equal(t, []string{"y", "z", "x"}, f.runner.startedIDs())
	})
}

func TestExecutor_Abort(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)

	require.ErrorIs(t, f.exec.Abort("missing"), domain.ErrRunNotFound)

	r, err := f.exec.Start(context.Background(), workflow("w", 2, map[string]domain.TaskNode{
		"a": node(),
		"b": node(),
		"c": node("a"),
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, f.runner.startedIDs())

	require.NoError(t, f.exec.Abort(r.ID()))
	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, reasonAborted, res.Reason)
	assert.Equal(t, []string{"a", "b", "c"}, res.FailedTasks)

	running, _ := f.runner.last("a")
	assert.Error(t, f.runner.ctx(running.Key()).Err())

	// the pending attempt of b was withdrawn from the ready pool
	assert.Zero(t, f.sched.Stats().Ready)

	// the late report frees the slot and the key is forgotten
	require.NoError(t, f.sched.OnCompletion(running.Key(), false))
	_, known := f.sched.Status(running.Key())
	assert.False(t, known)
	assert.Zero(t, f.sched.Stats().Running)

	require.ErrorIs(t, f.exec.Abort(r.ID()), domain.ErrRunFinished)
}

func TestExecutor_ContextCancelAbortsRun(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	r, err := f.exec.Start(ctx, workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)
	cancel()

	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusFailed, res.Status)
	assert.Equal(t, reasonAborted, res.Reason)
}

func TestExecutor_WaitHonoursContext(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := r.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.RunStatusRunning, res.Status)
}

func TestExecutor_RunsShareScheduler(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	def := workflow("shared", 1, map[string]domain.TaskNode{"a": node()})

	r1, err := f.exec.Start(context.Background(), def)
	require.NoError(t, err)
	r2, err := f.exec.Start(context.Background(), def)
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID(), r2.ID())

	assert.Equal(t, 1, f.runner.count())
	assert.Equal(t, 1, f.sched.Stats().Ready)

	f.finish(t, r1, "a", true)
	assert.Equal(t, domain.RunStatusCompleted, waitDone(t, r1).Status)
	f.finish(t, r2, "a", true)
	assert.Equal(t, domain.RunStatusCompleted, waitDone(t, r2).Status)

	runs := f.exec.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, r1.ID(), runs[0].RunID)
	assert.Equal(t, r2.ID(), runs[1].RunID)
}

func TestExecutor_SubmitTask(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	r, err := f.exec.SubmitTask(context.Background(), domain.Task{ID: "solo", Priority: 3}, 1)
	require.NoError(t, err)

	f.finish(t, r, "solo", false)
	f.finish(t, r, "solo", true)

	res := waitDone(t, r)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, "solo", res.WorkflowID)

	got, ok := f.exec.Status(r.ID())
	require.True(t, ok)
	assert.Equal(t, res.Status, got.Status)
	_, ok = f.exec.Status("missing")
	assert.False(t, ok)
}

func TestExecutor_EmptyWorkflowCompletes(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	res, err := f.exec.Execute(context.Background(), workflow("empty", 1, map[string]domain.TaskNode{}))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Empty(t, res.Tasks)
}

func TestExecutor_InsufficientCapacityFailsRun(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, domain.Capacity{domain.ResourceCPU: 1})
	def := workflow("heavy", 1, map[string]domain.TaskNode{
		"a": {Task: domain.Task{Resources: cpu(2)}, Retries: 3},
		"b": node("a"),
	})

	_, err := f.exec.Execute(context.Background(), def)
	var failure *domain.RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{"a", "b"}, failure.FailedTasks)
	assert.Zero(t, f.runner.count())
}

func TestExecutor_EventOrder(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)
	f.finish(t, r, "a", true)
	waitDone(t, r)

	assert.Equal(t, []string{
		domain.EventRunStarted,
		domain.EventTaskSubmitted,
		domain.EventTaskStarted,
		domain.EventTaskCompleted,
		domain.EventRunCompleted,
	}, f.events.types())

	completed := f.events.ofType(domain.EventRunCompleted)[0]
	assert.Equal(t, r.ID(), completed.Payload.RunID)
	assert.Equal(t, "w", completed.Payload.WorkflowID)
}

type memoryStore struct {
	mu    sync.Mutex
	saved map[string]domain.RunResult
	err   error
}

func (m *memoryStore) SaveRun(_ context.Context, res domain.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]domain.RunResult)
	}
	m.saved[res.RunID] = res
	return nil
}

func (m *memoryStore) GetRun(_ context.Context, id string) (*domain.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.saved[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &res, nil
}

func (m *memoryStore) ListRuns(_ context.Context, _ string, _ uint64) ([]domain.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RunResult, 0, len(m.saved))
	for _, res := range m.saved {
		out = append(out, res)
	}
	return out, nil
}

func TestExecutor_PersistsFinishedRuns(t *testing.T) {
	store := &memoryStore{}
	history := &memoryStore{}
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil,
		WithStatusStore(store), WithRunHistory(history))

	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)
	f.finish(t, r, "a", true)
	waitDone(t, r)

	require.Eventually(t, func() bool {
		_, err := store.GetRun(context.Background(), r.ID())
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		runs, _ := history.ListRuns(context.Background(), "", 0)
		return len(runs) == 1
	}, time.Second, 10*time.Millisecond)

	saved, err := store.GetRun(context.Background(), r.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, saved.Status)
}

func TestExecutor_PersistenceErrorsDoNotFailRun(t *testing.T) {
	store := &memoryStore{err: errors.New("redis down")}
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil, WithStatusStore(store))

	res, err := f.exec.Execute(context.Background(), workflow("empty", 1, map[string]domain.TaskNode{}))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
}

// abortOn aborts the run once the executor publishes evType for taskID.
type abortOn struct {
	*recordingPublisher
	exec   *WorkflowExecutor
	evType string
	taskID string
	once   sync.Once
}

func (a *abortOn) Publish(ev domain.Event) error {
	if ev.Type == a.evType && ev.Payload.TaskID == a.taskID {
		a.once.Do(func() { _ = a.exec.Abort(ev.Payload.RunID) })
	}
	return a.recordingPublisher.Publish(ev)
}

func TestExecutor_AbortBeforeSubmitWithdrawsBatch(t *testing.T) {
	trigger := &abortOn{recordingPublisher: &recordingPublisher{}, evType: domain.EventTaskFailed, taskID: "x"}
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil, WithExecutorEvents(trigger))
	trigger.exec = f.exec

	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{
		"a": node(),
		"b": node(),
		"x": node("a"),
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, f.runner.startedIDs())

	// failing a takes b into flight, then the dependent failure of x triggers the abort
	f.finish(t, r, "a", false)

	res := waitDone(t, r)
	assert.Equal(t, reasonAborted, res.Reason)
	assert.Equal(t, []string{"a", "x", "b"}, res.FailedTasks)

	assert.Equal(t, []string{"a"}, f.runner.startedIDs())
	assert.Zero(t, f.sched.Stats().Ready)
	assert.Zero(t, f.sched.Stats().Running)
	_, known := f.sched.Status((&domain.Task{ID: "b", RunID: r.ID()}).Key())
	assert.False(t, known)
}

func TestExecutor_EvictsStoredRuns(t *testing.T) {
	store := &memoryStore{}
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil, WithStatusStore(store))

	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)
	f.finish(t, r, "a", true)
	waitDone(t, r)

	require.Eventually(t, func() bool { return len(f.exec.Runs()) == 0 }, time.Second, 10*time.Millisecond)

	res, ok := f.exec.Status(r.ID())
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusCompleted, res.Status)
	assert.Equal(t, domain.TaskStatusCompleted, res.Tasks["a"])

	_, ok = f.exec.Status("missing")
	assert.False(t, ok)
}

func TestExecutor_RunRetention(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil, WithRunRetention(1))

	first, err := f.exec.Execute(context.Background(), workflow("empty", 1, map[string]domain.TaskNode{}))
	require.NoError(t, err)
	second, err := f.exec.Execute(context.Background(), workflow("empty", 1, map[string]domain.TaskNode{}))
	require.NoError(t, err)

	_, ok := f.exec.Status(first.RunID)
	assert.False(t, ok)
	_, ok = f.exec.Status(second.RunID)
	assert.True(t, ok)
	require.Len(t, f.exec.Runs(), 1)
	assert.Equal(t, second.RunID, f.exec.Runs()[0].RunID)
}

func TestExecutor_FinishedRunReleasesState(t *testing.T) {
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil)
	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
	}))
	require.NoError(t, err)
	f.finish(t, r, "a", true)
	f.finish(t, r, "b", true)
	res := waitDone(t, r)

	r.mu.Lock()
	assert.Nil(t, r.graph)
	assert.Nil(t, r.tracker)
	assert.Nil(t, r.def.Tasks)
	assert.Empty(t, r.backlog)
	r.mu.Unlock()

	// the snapshot survives the release
	assert.Equal(t, res, r.Result())
	assert.Len(t, res.Tasks, 2)
}

func TestExecutor_LateReportAfterEviction(t *testing.T) {
	store := &memoryStore{}
	f := newExecutorFixture(t, SchedulerOptions{MaxConcurrent: 1}, nil, WithStatusStore(store))
	r, err := f.exec.Start(context.Background(), workflow("w", 1, map[string]domain.TaskNode{"a": node()}))
	require.NoError(t, err)
	running, _ := f.runner.last("a")

	require.NoError(t, f.exec.Abort(r.ID()))
	require.Eventually(t, func() bool { return len(f.exec.Runs()) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.sched.OnCompletion(running.Key(), false))
	_, known := f.sched.Status(running.Key())
	assert.False(t, known)
	assert.Zero(t, f.sched.Stats().Running)
}
