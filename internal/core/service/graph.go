package service

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

// WorkflowGraph is a read-only view over a workflow definition's dependency relation.
// Queries other than Validate assume the definition already validated.
type WorkflowGraph struct {
	def        domain.WorkflowDefinition
	ids        []string
	deps       map[string][]string
	dependents map[string][]string
}

// NewWorkflowGraph indexes the definition. Duplicate dependency entries are collapsed and
// references to unknown ids are kept out of the dependents index (Validate reports them).
func NewWorkflowGraph(def domain.WorkflowDefinition) *WorkflowGraph {
	g := &WorkflowGraph{
		def:        def,
		ids:        make([]string, 0, len(def.Tasks)),
		deps:       make(map[string][]string, len(def.Tasks)),
		dependents: make(map[string][]string, len(def.Tasks)),
	}
	for id := range def.Tasks {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	for _, id := range g.ids {
		seen := make(map[string]struct{})
		var deps []string
		for _, dep := range def.Tasks[id].DependsOn {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			deps = append(deps, dep)
			if _, ok := def.Tasks[dep]; ok {
				g.dependents[dep] = append(g.dependents[dep], id)
			}
		}
		sort.Strings(deps)
		g.deps[id] = deps
	}
	return g
}

// Definition returns the definition the graph was built from.
func (g *WorkflowGraph) Definition() domain.WorkflowDefinition { return g.def }

// TaskIDs returns every task id in lexical order.
func (g *WorkflowGraph) TaskIDs() []string { return append([]string(nil), g.ids...) }

// Validate checks structural rules and acyclicity. It returns nil or a *domain.ValidationError.
func (g *WorkflowGraph) Validate() error {
	if g.def.MaxParallelTasks <= 0 {
		return &domain.ValidationError{Reason: fmt.Sprintf("max parallel tasks must be positive, got %d", g.def.MaxParallelTasks)}
	}
	if _, err := domain.ParseExecutionStrategy(string(g.def.Strategy)); err != nil {
		return &domain.ValidationError{Reason: err.Error()}
	}

	for _, id := range g.ids {
		if err := g.validateNode(id); err != nil {
			return err
		}
	}

	if id, ok := g.findCycle(); ok {
		return &domain.ValidationError{Reason: "circular dependency detected", TaskID: id}
	}
	return nil
}

func (g *WorkflowGraph) validateNode(id string) error {
	node := g.def.Tasks[id]
	if id == "" {
		return &domain.ValidationError{Reason: "task id must not be empty"}
	}
	if node.Task.ID != "" && node.Task.ID != id {
		return &domain.ValidationError{Reason: fmt.Sprintf("task id %q does not match its key", node.Task.ID), TaskID: id}
	}
	if node.Task.Priority < 0 {
		return &domain.ValidationError{Reason: "priority must not be negative", TaskID: id}
	}
	if node.Task.Timeout < 0 {
		return &domain.ValidationError{Reason: "timeout must not be negative", TaskID: id}
	}
	if node.Retries < 0 {
		return &domain.ValidationError{Reason: "retries must not be negative", TaskID: id}
	}
	for _, r := range node.Task.Resources {
		if _, err := domain.ParseResourceType(string(r.Type)); err != nil {
			return &domain.ValidationError{Reason: err.Error(), TaskID: id}
		}
		if !(r.Amount > 0) {
			return &domain.ValidationError{Reason: fmt.Sprintf("%s amount must be positive", r.Type), TaskID: id}
		}
	}
	for _, dep := range node.DependsOn {
		if _, ok := g.def.Tasks[dep]; !ok {
			return &domain.ValidationError{Reason: fmt.Sprintf("dependency %q not found", dep), TaskID: id}
		}
	}
	return nil
}

// findCycle runs a depth-first search that tracks the current path separately from the set
// of fully explored nodes. Reaching a node that is still on the path means a back edge.
func (g *WorkflowGraph) findCycle() (string, bool) {
	visited := make(map[string]bool, len(g.ids))
	onPath := make(map[string]bool)

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		visited[id] = true
		onPath[id] = true
		for _, dep := range g.deps[id] {
			if _, ok := g.def.Tasks[dep]; !ok {
				continue
			}
			if onPath[dep] {
				return dep, true
			}
			if !visited[dep] {
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		delete(onPath, id)
		return "", false
	}

	for _, id := range g.ids {
		if visited[id] {
			continue
		}
		if cyc, found := visit(id); found {
			return cyc, true
		}
	}
	return "", false
}

// InitialReadySet returns every task with an empty dependency list.
func (g *WorkflowGraph) InitialReadySet() []string {
	ready := make([]string, 0)
	for _, id := range g.ids {
		if len(g.deps[id]) == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// DependenciesOf returns the distinct dependencies of a task.
func (g *WorkflowGraph) DependenciesOf(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// DependentsOf returns the tasks whose dependency list contains id.
func (g *WorkflowGraph) DependentsOf(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder returns a deterministic Kahn ordering; ties go to the lexically smaller id.
// On a cyclic graph the tasks on or behind a cycle are missing from the result.
func (g *WorkflowGraph) TopologicalOrder() []string {
	indeg := make(map[string]int, len(g.ids))
	ready := &stringHeap{}
	for _, id := range g.ids {
		indeg[id] = len(g.deps[id])
		if indeg[id] == 0 {
			heap.Push(ready, id)
		}
	}

	out := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		out = append(out, id)
		for _, next := range g.dependents[id] {
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	return out
}

// Levels groups tasks by dependency depth: level 0 has no dependencies and every task sits one
// level below its deepest dependency.
func (g *WorkflowGraph) Levels() [][]string {
	depth := make(map[string]int, len(g.ids))
	var levels [][]string
	for _, id := range g.TopologicalOrder() {
		d := 0
		for _, dep := range g.deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels
}
