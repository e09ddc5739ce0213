package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
)

type resourceRequest struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit,omitempty"`
}

type taskRequest struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Deadline  *time.Time        `json:"deadline"`
	Timeout   string            `json:"timeout"` // Go duration, e.g. "30s"
	Group     string            `json:"group"`
	Handler   string            `json:"handler"`
	Features  map[string]any    `json:"features"`
	Resources []resourceRequest `json:"resources"`
	DependsOn []string          `json:"depends_on"`
	Retries   int               `json:"retries"`
}

type workflowRequest struct {
	ID               string        `json:"id"`
	Strategy         string        `json:"strategy"`
	MaxParallelTasks int           `json:"max_parallel_tasks"`
	Tasks            []taskRequest `json:"tasks"`
}

// badRequest marks conversion errors that are not graph validation failures
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r taskRequest) task() (domain.Task, error) {
	task := domain.Task{
		ID:       r.ID,
		Name:     r.Name,
		Priority: r.Priority,
		Deadline: r.Deadline,
		Group:    r.Group,
		Handler:  r.Handler,
		Features: r.Features,
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return domain.Task{}, badRequest{fmt.Sprintf("task %q: invalid timeout %q", r.ID, r.Timeout)}
		}
		task.Timeout = d
	}
	for _, res := range r.Resources {
		// unknown types are reported by graph validation
		task.Resources = append(task.Resources, domain.ResourceRequirement{
			Type:   domain.ResourceType(strings.ToLower(res.Type)),
			Amount: res.Amount,
			Unit:   res.Unit,
		})
	}
	return task, nil
}

func (r workflowRequest) definition() (domain.WorkflowDefinition, error) {
	strategy := domain.ExecutionStrategy(strings.ToUpper(r.Strategy))
	def := domain.WorkflowDefinition{
		ID:               r.ID,
		Tasks:            make(map[string]domain.TaskNode, len(r.Tasks)),
		Strategy:         strategy,
		MaxParallelTasks: r.MaxParallelTasks,
	}
	for _, t := range r.Tasks {
		if _, dup := def.Tasks[t.ID]; dup {
			return domain.WorkflowDefinition{}, badRequest{fmt.Sprintf("task %q declared twice", t.ID)}
		}
		task, err := t.task()
		if err != nil {
			return domain.WorkflowDefinition{}, err
		}
		nodeType, err := domain.ParseNodeType(t.Type)
		if err != nil {
			return domain.WorkflowDefinition{}, badRequest{fmt.Sprintf("task %q: %v", t.ID, err)}
		}
		def.Tasks[t.ID] = domain.TaskNode{Task: task, Type: nodeType, DependsOn: t.DependsOn, Retries: t.Retries}
	}
	return def, nil
}
