package service

import (
	"errors"
	"testing"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationError(t *testing.T, err error) *domain.ValidationError {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrValidation))
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	return verr
}

func TestValidate_AcceptsDAG(t *testing.T) {
	g := NewWorkflowGraph(workflow("diamond", 2, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
		"c": node("a"),
		"d": node("b", "c"),
	}))
	require.NoError(t, g.Validate())
}

func TestValidate_AcceptsEmptyWorkflow(t *testing.T) {
	g := NewWorkflowGraph(workflow("empty", 1, nil))
	require.NoError(t, g.Validate())
	assert.Empty(t, g.InitialReadySet())
	assert.Empty(t, g.TopologicalOrder())
}

func TestValidate_RejectsCycle(t *testing.T) {
	g := NewWorkflowGraph(workflow("cycle", 1, map[string]domain.TaskNode{
		"A": node("C"),
		"B": node("A"),
		"C": node("B"),
	}))
	verr := validationError(t, g.Validate())
	assert.Contains(t, verr.Reason, "circular dependency")
	assert.Contains(t, []string{"A", "B", "C"}, verr.TaskID)
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	g := NewWorkflowGraph(workflow("self", 1, map[string]domain.TaskNode{"a": node("a")}))
	verr := validationError(t, g.Validate())
	assert.Equal(t, "a", verr.TaskID)
}

// A node reachable along two paths is not a cycle.
func TestValidate_SharedDescendantIsNotCycle(t *testing.T) {
	g := NewWorkflowGraph(workflow("shared", 1, map[string]domain.TaskNode{
		"root":  node(),
		"left":  node("root"),
		"right": node("root"),
		"join":  node("left", "right", "root"),
	}))
	require.NoError(t, g.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		def    domain.WorkflowDefinition
		reason string
		taskID string
	}{
		{
			name:   "unresolved dependency",
			def:    workflow("w", 1, map[string]domain.TaskNode{"A": node("X")}),
			reason: `dependency "X" not found`,
			taskID: "A",
		},
		{
			name:   "zero parallelism",
			def:    workflow("w", 0, map[string]domain.TaskNode{"A": node()}),
			reason: "max parallel tasks must be positive",
		},
		{
			name: "id mismatch",
			def: workflow("w", 1, map[string]domain.TaskNode{
				"A": {Task: domain.Task{ID: "B"}},
			}),
			reason: "does not match its key",
			taskID: "A",
		},
		{
			name: "non positive amount",
			def: workflow("w", 1, map[string]domain.TaskNode{
				"A": {Task: domain.Task{Resources: cpu(0)}},
			}),
			reason: "amount must be positive",
			taskID: "A",
		},
		{
			name: "unknown resource type",
			def: workflow("w", 1, map[string]domain.TaskNode{
				"A": {Task: domain.Task{Resources: []domain.ResourceRequirement{{Type: "gpu", Amount: 1}}}},
			}),
			reason: "unknown resource type",
			taskID: "A",
		},
		{
			name: "negative priority",
			def: workflow("w", 1, map[string]domain.TaskNode{
				"A": {Task: domain.Task{Priority: -1}},
			}),
			reason: "priority must not be negative",
			taskID: "A",
		},
		{
			name: "negative retries",
			def: workflow("w", 1, map[string]domain.TaskNode{
				"A": {Retries: -1},
			}),
			reason: "retries must not be negative",
			taskID: "A",
		},
		{
			name: "unknown strategy",
			def: domain.WorkflowDefinition{
				ID: "w", MaxParallelTasks: 1, Strategy: "RANDOM",
				Tasks: map[string]domain.TaskNode{"A": node()},
			},
			reason: "unknown execution strategy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := validationError(t, NewWorkflowGraph(tt.def).Validate())
			assert.Contains(t, verr.Reason, tt.reason)
			assert.Equal(t, tt.taskID, verr.TaskID)
		})
	}
}

func TestGraph_Queries(t *testing.T) {
	g := NewWorkflowGraph(workflow("w", 1, map[string]domain.TaskNode{
		"extract":   node(),
		"config":    node(),
		"transform": node("extract", "config", "extract"),
		"load":      node("transform"),
		"report":    node("transform"),
	}))
	require.NoError(t, g.Validate())

	assert.Equal(t, []string{"config", "extract"}, g.InitialReadySet())
	assert.Equal(t, []string{"load", "report"}, g.DependentsOf("transform"))
	assert.Equal(t, []string{"config", "extract"}, g.DependenciesOf("transform"))
	assert.Empty(t, g.DependentsOf("load"))

	if diff := cmp.Diff([]string{"config", "extract", "transform", "load", "report"}, g.TopologicalOrder()); diff != "" {
		t.Errorf("TopologicalOrder() mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{{"config", "extract"}, {"transform"}, {"load", "report"}}
	if diff := cmp.Diff(want, g.Levels()); diff != "" {
		t.Errorf("Levels() mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_LevelsUseDeepestDependency(t *testing.T) {
	g := NewWorkflowGraph(workflow("w", 1, map[string]domain.TaskNode{
		"a": node(),
		"b": node("a"),
		"c": node("a", "b"),
	}))
	want := [][]string{{"a"}, {"b"}, {"c"}}
	if diff := cmp.Diff(want, g.Levels()); diff != "" {
		t.Errorf("Levels() mismatch (-want +got):\n%s", diff)
	}
}
