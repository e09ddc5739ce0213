package service

// ReadinessTracker counts unsatisfied dependencies per task of one run.
// It is not safe for concurrent use; the owning run serializes access.
type ReadinessTracker struct {
	graph    *WorkflowGraph
	pending  map[string]int
	resolved map[string]bool
}

func NewReadinessTracker(g *WorkflowGraph) *ReadinessTracker {
	rt := &ReadinessTracker{
		graph:    g,
		pending:  make(map[string]int, len(g.ids)),
		resolved: make(map[string]bool, len(g.ids)),
	}
	for _, id := range g.ids {
		rt.pending[id] = len(g.deps[id])
	}
	return rt
}

// Ready returns the tasks that start with no unsatisfied dependencies.
func (rt *ReadinessTracker) Ready() []string {
	return rt.graph.InitialReadySet()
}

// Pending returns the number of unsatisfied dependencies of id.
func (rt *ReadinessTracker) Pending(id string) int {
	return rt.pending[id]
}

// Complete records a successful task and returns the dependents that just became ready.
// A task resolves at most once; later calls return nothing.
func (rt *ReadinessTracker) Complete(id string) []string {
	if rt.resolved[id] {
		return nil
	}
	rt.resolved[id] = true

	var ready []string
	for _, next := range rt.graph.DependentsOf(id) {
		if rt.resolved[next] {
			continue
		}
		rt.pending[next]--
		if rt.pending[next] == 0 {
			ready = append(ready, next)
		}
	}
	return ready
}

// Fail records a failed task and returns every transitive dependent that was not resolved yet,
// in breadth-first order. Each returned task is resolved as failed too.
func (rt *ReadinessTracker) Fail(id string) []string {
	if rt.resolved[id] {
		return nil
	}
	rt.resolved[id] = true

	var failed []string
	queue := rt.graph.DependentsOf(id)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if rt.resolved[next] {
			continue
		}
		rt.resolved[next] = true
		failed = append(failed, next)
		queue = append(queue, rt.graph.DependentsOf(next)...)
	}
	return failed
}

// Resolved reports whether id reached a terminal state in the tracker.
func (rt *ReadinessTracker) Resolved(id string) bool {
	return rt.resolved[id]
}
