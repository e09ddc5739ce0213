package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

const reasonAborted = "aborted"

// backlogEntry is a task that became ready but was not handed to the scheduler yet.
type backlogEntry struct {
	id  string
	seq uint64
}

// Run is the state of one workflow execution. All fields are guarded by mu; the executor
// never calls the scheduler while holding it.
type Run struct {
	mu sync.Mutex

	id      string
	def     domain.WorkflowDefinition
	graph   *WorkflowGraph
	tracker *ReadinessTracker

	status   domain.RunStatus
	reason   string
	tasks    map[string]domain.TaskStatus
	attempts map[string]int
	inFlight map[string]string // task id -> scheduler key
	keys     []string          // every key ever handed to the scheduler
	failed   []string

	backlog []backlogEntry
	seq     uint64

	// BATCH waves and LAZY order
	levels  [][]string
	levelOf map[string]int
	wave    int
	topo    map[string]int

	outbox []domain.Event

	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

func newRun(id string, def domain.WorkflowDefinition, graph *WorkflowGraph) *Run {
	r := &Run{
		id:        id,
		def:       def,
		graph:     graph,
		status:    domain.RunStatusCreated,
		tasks:     make(map[string]domain.TaskStatus, len(def.Tasks)),
		attempts:  make(map[string]int, len(def.Tasks)),
		inFlight:  make(map[string]string),
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	for id := range def.Tasks {
		r.tasks[id] = domain.TaskStatusPending
	}
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Done is closed once the run reached COMPLETED or FAILED.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns a snapshot of the run.
func (r *Run) Result() domain.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Wait blocks until the run finishes or ctx is done. A finished run with failed tasks
// returns a *domain.RunFailure alongside its result.
func (r *Run) Wait(ctx context.Context) (domain.RunResult, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.Result(), ctx.Err()
	}
	res := r.Result()
	if res.Status == domain.RunStatusFailed {
		return res, &domain.RunFailure{RunID: res.RunID, Reason: res.Reason, FailedTasks: res.FailedTasks}
	}
	return res, nil
}

func (r *Run) snapshot() domain.RunResult {
	tasks := make(map[string]domain.TaskStatus, len(r.tasks))
	for id, s := range r.tasks {
		tasks[id] = s
	}
	return domain.RunResult{
		RunID:       r.id,
		WorkflowID:  r.def.ID,
		Status:      r.status,
		Reason:      r.reason,
		Tasks:       tasks,
		FailedTasks: append([]string(nil), r.failed...),
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
	}
}

// begin moves a validated run to RUNNING and queues its initial ready set.
func (r *Run) begin() {
	r.status = domain.RunStatusRunning
	r.tracker = NewReadinessTracker(r.graph)
	switch r.def.Strategy {
	case domain.StrategyBatch:
		r.levels = r.graph.Levels()
		r.levelOf = make(map[string]int)
		for i, level := range r.levels {
			for _, id := range level {
				r.levelOf[id] = i
			}
		}
	case domain.StrategyLazy:
		r.topo = make(map[string]int)
		for i, id := range r.graph.TopologicalOrder() {
			r.topo[id] = i
		}
	}
	r.enqueue(r.tracker.Ready()...)
}

func (r *Run) enqueue(ids ...string) {
	for _, id := range ids {
		r.seq++
		r.tasks[id] = domain.TaskStatusReady
		r.backlog = append(r.backlog, backlogEntry{id: id, seq: r.seq})
	}
}

// limit is the number of tasks the strategy allows in flight at once.
func (r *Run) limit() int {
	if r.def.Strategy == domain.StrategyLazy {
		return 1
	}
	return r.def.MaxParallelTasks
}

// nextBatch moves backlog entries into flight as the strategy allows and returns the tasks to submit.
func (r *Run) nextBatch() []domain.Task {
	if r.status != domain.RunStatusRunning {
		return nil
	}
	r.advanceWave()

	var out []domain.Task
	for len(r.inFlight) < r.limit() {
		i := r.pick()
		if i < 0 {
			break
		}
		id := r.backlog[i].id
		r.backlog = append(r.backlog[:i], r.backlog[i+1:]...)

		task := r.taskFor(id)
		key := task.Key()
		r.inFlight[id] = key
		r.keys = append(r.keys, key)
		out = append(out, task)
	}
	return out
}

// advanceWave moves BATCH to the next wave once every task of the current one is terminal.
func (r *Run) advanceWave() {
	if r.def.Strategy != domain.StrategyBatch {
		return
	}
	for r.wave < len(r.levels) {
		for _, id := range r.levels[r.wave] {
			if !r.tasks[id].IsTerminal() {
				return
			}
		}
		r.wave++
	}
}

// pick returns the backlog index the strategy hands over next, or -1.
func (r *Run) pick() int {
	best := -1
	for i, e := range r.backlog {
		if r.def.Strategy == domain.StrategyBatch && r.levelOf[e.id] != r.wave {
			continue
		}
		if best < 0 || r.before(e, r.backlog[best]) {
			best = i
		}
	}
	return best
}

func (r *Run) before(a, b backlogEntry) bool {
	switch r.def.Strategy {
	case domain.StrategyPriority:
		pa, pb := r.def.Tasks[a.id].Task.Priority, r.def.Tasks[b.id].Task.Priority
		if pa != pb {
			return pa > pb
		}
	case domain.StrategyLazy:
		return r.topo[a.id] < r.topo[b.id]
	}
	return a.seq < b.seq
}

func (r *Run) taskFor(id string) domain.Task {
	task := r.def.Tasks[id].Task.Clone()
	task.ID = id
	task.RunID = r.id
	task.Attempt = r.attempts[id]
	task.Status = ""
	return task
}

// current reports whether task is the attempt the run is waiting for.
func (r *Run) current(task domain.Task) bool {
	key, ok := r.inFlight[task.ID]
	return ok && key == task.Key()
}

// succeed records a completed task and queues the dependents it unlocked.
func (r *Run) succeed(id string) {
	delete(r.inFlight, id)
	r.tasks[id] = domain.TaskStatusCompleted
	r.enqueue(r.tracker.Complete(id)...)
}

// fail either schedules another attempt or fails the task and every transitive dependent.
func (r *Run) fail(id, reason string, retryable bool) {
	delete(r.inFlight, id)
	if retryable && r.attempts[id] < r.def.Tasks[id].Retries {
		r.attempts[id]++
		r.enqueue(id)
		return
	}
	r.tasks[id] = domain.TaskStatusFailed
	r.failed = append(r.failed, id)
	for _, dep := range r.tracker.Fail(id) {
		r.tasks[dep] = domain.TaskStatusFailed
		r.failed = append(r.failed, dep)
		r.outbox = append(r.outbox, newEvent(domain.EventTaskFailed, domain.EventPayload{
			WorkflowID: r.def.ID,
			RunID:      r.id,
			TaskID:     dep,
			Status:     string(domain.TaskStatusFailed),
			Reason:     fmt.Sprintf("dependency %s failed", id),
		}))
	}
}

// settle finishes a running run whose tasks are all terminal. It reports whether this call did it.
func (r *Run) settle() bool {
	if r.status != domain.RunStatusRunning {
		return false
	}
	for _, s := range r.tasks {
		if !s.IsTerminal() {
			return false
		}
	}
	if len(r.failed) > 0 {
		r.finish(domain.RunStatusFailed, fmt.Sprintf("%d task(s) failed", len(r.failed)))
	} else {
		r.finish(domain.RunStatusCompleted, "")
	}
	return true
}

// abort fails every non-terminal task and returns the keys still held by the scheduler.
func (r *Run) abort(reason string) []string {
	keys := make([]string, 0, len(r.inFlight))
	for _, key := range r.inFlight {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var ids []string
	for id, s := range r.tasks {
		if !s.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		r.tasks[id] = domain.TaskStatusFailed
		r.failed = append(r.failed, id)
	}
	r.inFlight = make(map[string]string)
	r.backlog = nil
	r.finish(domain.RunStatusFailed, reason)
	return keys
}

func (r *Run) finish(status domain.RunStatus, reason string) {
	r.status = status
	r.reason = reason
	r.finishedAt = time.Now().UTC()
}

// release drops the state only a running run needs; snapshots stay available.
func (r *Run) release() {
	r.def.Tasks = nil
	r.graph = nil
	r.tracker = nil
	r.backlog = nil
	r.levels = nil
	r.levelOf = nil
	r.topo = nil
	r.attempts = nil
	r.inFlight = nil
	r.keys = nil
}

func (r *Run) takeOutbox() []domain.Event {
	out := r.outbox
	r.outbox = nil
	return out
}
