// Package hcl loads workflow definitions from HCL files.
//
//	workflow "etl" {
//	  strategy     = "batch"
//	  max_parallel = 2
//
//	  task "extract" {
//	    priority = 5
//	    timeout  = "30s"
//	    handler  = "sleep"
//	    features = { duration = "2s", complexity = 3 }
//	    resource "cpu" { amount = 0.5 }
//	  }
//
//	  task "load" {
//	    depends_on = ["extract"]
//	  }
//	}
package hcl

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	hcl2 "github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

type hclFile struct {
	Workflows []*hclWorkflow `hcl:"workflow,block"`
}

type hclWorkflow struct {
	ID          string     `hcl:"id,label"`
	Strategy    string     `hcl:"strategy,optional"`
	MaxParallel int        `hcl:"max_parallel,optional"`
	Tasks       []*hclTask `hcl:"task,block"`
}

type hclTask struct {
	ID        string         `hcl:"id,label"`
	Name      string         `hcl:"name,optional"`
	Type      string         `hcl:"type,optional"`
	Priority  int            `hcl:"priority,optional"`
	Timeout   string         `hcl:"timeout,optional"`
	Deadline  string         `hcl:"deadline,optional"`
	Group     string         `hcl:"group,optional"`
	Handler   string         `hcl:"handler,optional"`
	Retries   int            `hcl:"retries,optional"`
	DependsOn []string       `hcl:"depends_on,optional"`
	Features  cty.Value      `hcl:"features,optional"`
	Resources []*hclResource `hcl:"resource,block"`
}

type hclResource struct {
	Type   string  `hcl:"type,label"`
	Amount float64 `hcl:"amount"`
	Unit   string  `hcl:"unit,optional"`
}

// Loader parses workflow files. One Loader may parse many files.
type Loader struct {
	parser *hclparse.Parser
}

func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// LoadFile parses every workflow block of one file.
func (l *Loader) LoadFile(path string) ([]domain.WorkflowDefinition, error) {
	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Parse parses workflow blocks from source; filename is used in diagnostics.
func (l *Loader) Parse(src []byte, filename string) ([]domain.WorkflowDefinition, error) {
	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

// LoadPath loads a single file, or every .hcl file below a directory in lexical order.
func (l *Loader) LoadPath(path string) ([]domain.WorkflowDefinition, error) {
	var files []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (p == path || strings.EqualFold(filepath.Ext(p), ".hcl")) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow files in %s: %w", path, err)
	}
	sort.Strings(files)

	var defs []domain.WorkflowDefinition
	for _, f := range files {
		d, err := l.LoadFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)
	}
	return defs, nil
}

func decode(body hcl2.Body, filename string) ([]domain.WorkflowDefinition, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	defs := make([]domain.WorkflowDefinition, 0, len(parsed.Workflows))
	for _, w := range parsed.Workflows {
		def, err := w.definition()
		if err != nil {
			return nil, fmt.Errorf("%s: workflow %q: %w", filename, w.ID, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// definition converts a decoded block. A missing max_parallel lets every task run at once.
func (w *hclWorkflow) definition() (domain.WorkflowDefinition, error) {
	strategy, err := domain.ParseExecutionStrategy(w.Strategy)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	def := domain.WorkflowDefinition{
		ID:               w.ID,
		Tasks:            make(map[string]domain.TaskNode, len(w.Tasks)),
		Strategy:         strategy,
		MaxParallelTasks: w.MaxParallel,
	}
	if def.MaxParallelTasks == 0 {
		def.MaxParallelTasks = max(len(w.Tasks), 1)
	}

	for _, t := range w.Tasks {
		if _, dup := def.Tasks[t.ID]; dup {
			return domain.WorkflowDefinition{}, fmt.Errorf("task %q declared twice", t.ID)
		}
		node, err := t.node()
		if err != nil {
			return domain.WorkflowDefinition{}, fmt.Errorf("task %q: %w", t.ID, err)
		}
		def.Tasks[t.ID] = node
	}
	return def, nil
}

func (t *hclTask) node() (domain.TaskNode, error) {
	task := domain.Task{
		ID:       t.ID,
		Name:     t.Name,
		Priority: t.Priority,
		Group:    t.Group,
		Handler:  t.Handler,
	}
	if t.Timeout != "" {
		d, err := time.ParseDuration(t.Timeout)
		if err != nil {
			return domain.TaskNode{}, fmt.Errorf("timeout: %w", err)
		}
		task.Timeout = d
	}
	if t.Deadline != "" {
		d, err := time.Parse(time.RFC3339, t.Deadline)
		if err != nil {
			return domain.TaskNode{}, fmt.Errorf("deadline: %w", err)
		}
		task.Deadline = &d
	}
	for _, r := range t.Resources {
		rt, err := domain.ParseResourceType(r.Type)
		if err != nil {
			return domain.TaskNode{}, err
		}
		task.Resources = append(task.Resources, domain.ResourceRequirement{Type: rt, Amount: r.Amount, Unit: r.Unit})
	}

	features, err := ctyValueToInterface(t.Features)
	if err != nil {
		return domain.TaskNode{}, fmt.Errorf("features: %w", err)
	}
	if features != nil {
		m, ok := features.(map[string]any)
		if !ok {
			return domain.TaskNode{}, fmt.Errorf("features must be an object, got %s", t.Features.Type().FriendlyName())
		}
		task.Features = m
	}

	nodeType, err := domain.ParseNodeType(t.Type)
	if err != nil {
		return domain.TaskNode{}, err
	}
	return domain.TaskNode{Task: task, Type: nodeType, DependsOn: t.DependsOn, Retries: t.Retries}, nil
}

// ctyValueToInterface converts a cty.Value to plain Go values. Numbers become float64.
func ctyValueToInterface(val cty.Value) (any, error) {
	if val.Type() == cty.NilType || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if val.Type().IsPrimitiveType() {
		switch val.Type() {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", val.Type().FriendlyName())
		}
	}
	if val.Type().IsObjectType() || val.Type().IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := ctyValueToInterface(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if val.Type().IsTupleType() || val.Type().IsListType() || val.Type().IsSetType() {
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := ctyValueToInterface(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", val.Type().FriendlyName())
}
