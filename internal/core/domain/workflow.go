package domain

import (
	"fmt"
	"strings"
	"time"
)

type ExecutionStrategy string

const (
	StrategyEager    ExecutionStrategy = "EAGER"
	StrategyPriority ExecutionStrategy = "PRIORITY"
	StrategyBatch    ExecutionStrategy = "BATCH"
	StrategyLazy     ExecutionStrategy = "LAZY"
)

// ParseExecutionStrategy parses a strategy name, empty means EAGER
func ParseExecutionStrategy(s string) (ExecutionStrategy, error) {
	switch ExecutionStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case "", StrategyEager:
		return StrategyEager, nil
	case StrategyPriority:
		return StrategyPriority, nil
	case StrategyBatch:
		return StrategyBatch, nil
	case StrategyLazy:
		return StrategyLazy, nil
	}
	return "", fmt.Errorf("unknown execution strategy %q", s)
}

// NodeType describes the role of a node in its workflow. It is carried for clients and
// does not change how the node is scheduled.
type NodeType string

const (
	NodeSequential  NodeType = "sequential"
	NodeParallel    NodeType = "parallel"
	NodeConditional NodeType = "conditional"
	NodeLoop        NodeType = "loop"
	NodeBranch      NodeType = "branch"
	NodeJoin        NodeType = "join"
	NodeTrigger     NodeType = "trigger"
)

// ParseNodeType parses a node type name, empty means sequential
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return NodeSequential, nil
	case NodeSequential, NodeParallel, NodeConditional, NodeLoop, NodeBranch, NodeJoin, NodeTrigger:
		return t, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// TaskNode is a task plus the ids of the tasks it depends on
type TaskNode struct {
	Task      Task     `json:"task"`
	Type      NodeType `json:"type,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Retries   int      `json:"retries,omitempty"`
}

// WorkflowDefinition is the immutable input of a run
type WorkflowDefinition struct {
	ID               string              `json:"id"`
	Tasks            map[string]TaskNode `json:"tasks"`
	Strategy         ExecutionStrategy   `json:"strategy,omitempty"`
	MaxParallelTasks int                 `json:"max_parallel_tasks"`
}

type RunStatus string

const (
	RunStatusCreated    RunStatus = "CREATED"
	RunStatusValidating RunStatus = "VALIDATING"
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunResult is a point-in-time snapshot of a run
type RunResult struct {
	RunID       string                `json:"run_id"`
	WorkflowID  string                `json:"workflow_id"`
	Status      RunStatus             `json:"status"`
	Reason      string                `json:"reason,omitempty"`
	Tasks       map[string]TaskStatus `json:"tasks"`
	FailedTasks []string              `json:"failed_tasks,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at,omitempty"`
}
