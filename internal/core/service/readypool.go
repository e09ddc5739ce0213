package service

import (
	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

// queuedTask is a ready-pool entry. seq is the submission order.
type queuedTask struct {
	task domain.Task
	seq  uint64
}

// group returns the fair-share owner; a task without one is its own group.
func (q *queuedTask) group() (string, bool) {
	if q.task.Group != "" {
		return q.task.Group, true
	}
	return q.task.Key(), false
}

// readyPool holds admitted-by-readiness tasks and picks the next one per policy.
// Selection is a linear scan so FAIR_SHARE can use ordering keys that change after each dispatch.
type readyPool struct {
	policy domain.SchedulePolicy
	items  []*queuedTask

	// served stamps the dispatch clock of the last task taken from each named group
	served map[string]uint64
	clock  uint64
}

func newReadyPool(policy domain.SchedulePolicy) *readyPool {
	return &readyPool{
		policy: policy,
		served: make(map[string]uint64),
	}
}

func (p *readyPool) Len() int { return len(p.items) }

func (p *readyPool) push(q *queuedTask) {
	p.items = append(p.items, q)
}

// peek returns the index of the next task, or -1 when empty.
func (p *readyPool) peek() int {
	if len(p.items) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(p.items); i++ {
		if p.less(p.items[i], p.items[best]) {
			best = i
		}
	}
	return best
}

// take removes the entry at i and records the dispatch for fair share.
func (p *readyPool) take(i int) *queuedTask {
	q := p.items[i]
	p.items = append(p.items[:i], p.items[i+1:]...)

	p.clock++
	if g, named := q.group(); named {
		p.served[g] = p.clock
	}
	return q
}

// remove drops the entry with the given key without counting it as a dispatch.
func (p *readyPool) remove(key string) (*queuedTask, bool) {
	for i, q := range p.items {
		if q.task.Key() == key {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return q, true
		}
	}
	return nil, false
}

func (p *readyPool) less(a, b *queuedTask) bool {
	switch p.policy {
	case domain.PolicyFIFO:
		return a.seq < b.seq
	case domain.PolicyDeadline:
		return deadlineLess(a, b)
	case domain.PolicyFairShare:
		sa, sb := p.lastServed(a), p.lastServed(b)
		if sa != sb {
			return sa < sb
		}
		return priorityLess(a, b)
	default:
		return priorityLess(a, b)
	}
}

func (p *readyPool) lastServed(q *queuedTask) uint64 {
	if g, named := q.group(); named {
		return p.served[g]
	}
	return 0
}

// priorityLess orders by priority descending, then submission order.
func priorityLess(a, b *queuedTask) bool {
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.seq < b.seq
}

// deadlineLess orders by earliest deadline; tasks without a deadline come last.
func deadlineLess(a, b *queuedTask) bool {
	da, db := a.task.Deadline, b.task.Deadline
	switch {
	case da != nil && db == nil:
		return true
	case da == nil && db != nil:
		return false
	case da != nil && db != nil && !da.Equal(*db):
		return da.Before(*db)
	}
	return priorityLess(a, b)
}
