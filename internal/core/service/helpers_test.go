package service

import (
	"context"
	"sync"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
)

// manualRunner records dispatched tasks; tests report outcomes themselves.
type manualRunner struct {
	mu      sync.Mutex
	started []domain.Task
	ctxs    map[string]context.Context
}

func newManualRunner() *manualRunner {
	return &manualRunner{ctxs: make(map[string]context.Context)}
}

func (m *manualRunner) Run(ctx context.Context, task domain.Task, _ port.CompletionReporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, task)
	m.ctxs[task.Key()] = ctx
}

func (m *manualRunner) startedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.started))
	for _, t := range m.started {
		ids = append(ids, t.ID)
	}
	return ids
}

func (m *manualRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// last returns the most recent dispatch of a task id.
func (m *manualRunner) last(id string) (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.started) - 1; i >= 0; i-- {
		if m.started[i].ID == id {
			return m.started[i], true
		}
	}
	return domain.Task{}, false
}

func (m *manualRunner) ctx(key string) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctxs[key]
}

type finishedCall struct {
	key     string
	success bool
	reason  string
}

type recordingListener struct {
	mu       sync.Mutex
	started  []string
	finished []finishedCall
}

func (l *recordingListener) TaskStarted(task domain.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, task.Key())
}

func (l *recordingListener) TaskFinished(task domain.Task, success bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, finishedCall{key: task.Key(), success: success, reason: reason})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) ofType(t string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type countingMetrics struct {
	nopMetrics
	mu       sync.Mutex
	deferred int
	dropped  []string
}

func (m *countingMetrics) AdmissionDeferred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred++
}

func (m *countingMetrics) EventDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, reason)
}

func node(deps ...string) domain.TaskNode {
	return domain.TaskNode{DependsOn: deps}
}

func cpu(amount float64) []domain.ResourceRequirement {
	return []domain.ResourceRequirement{{Type: domain.ResourceCPU, Amount: amount}}
}

func workflow(id string, parallel int, tasks map[string]domain.TaskNode) domain.WorkflowDefinition {
	return domain.WorkflowDefinition{ID: id, Tasks: tasks, MaxParallelTasks: parallel}
}
