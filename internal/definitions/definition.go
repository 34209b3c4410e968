// Package definitions parses and validates workflow templates declared in YAML.
package definitions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// ErrInvalidDefinition marks every validation failure.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Definition declares a workflow template. A step without depends_on entries in a
// definition that declares no dependencies at all runs in linear order.
type Definition struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// TenantID scopes the template to one tenant. Empty means global.
	TenantID string           `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Steps    []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition declares one step and the step keys it depends on.
type StepDefinition struct {
	Key       string          `json:"key" yaml:"key"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"`
	Type      models.StepType `json:"type" yaml:"type"`
	DependsOn []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Config    models.Context  `json:"config,omitempty" yaml:"config,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// Normalized returns a copy with surrounding whitespace trimmed from the workflow,
// tenant, step and dependency keys.
func (def Definition) Normalized() Definition {
	out := def
	out.Key = strings.TrimSpace(def.Key)
	out.TenantID = strings.TrimSpace(def.TenantID)
	out.Steps = make([]StepDefinition, len(def.Steps))
	for i, step := range def.Steps {
		step.Key = strings.TrimSpace(step.Key)
		if len(step.DependsOn) > 0 {
			deps := make([]string, len(step.DependsOn))
			for j, dep := range step.DependsOn {
				deps[j] = strings.TrimSpace(dep)
			}
			step.DependsOn = deps
		}
		out.Steps[i] = step
	}
	return out
}

// Validate ensures the definition is self-consistent and acyclic. Keys are
// compared after normalization.
func (def Definition) Validate() error {
	def = def.Normalized()
	key := def.Key
	if key == "" {
		return invalid("key is required")
	}
	if len(def.Steps) == 0 {
		return invalid("workflow %s: at least one step is required", key)
	}
	seen := make(map[string]struct{}, len(def.Steps))
	for idx, step := range def.Steps {
		if step.Key == "" {
			return invalid("workflow %s step[%d]: key is required", key, idx)
		}
		if _, exists := seen[step.Key]; exists {
			return invalid("workflow %s: duplicate step key %s", key, step.Key)
		}
		if !step.Type.Valid() {
			return invalid("workflow %s step %s: unsupported step type %q", key, step.Key, step.Type)
		}
		seen[step.Key] = struct{}{}
	}
	for _, step := range def.Steps {
		deps := make(map[string]struct{}, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == step.Key {
				return invalid("workflow %s step %s: depends on itself", key, step.Key)
			}
			if _, ok := seen[dep]; !ok {
				return invalid("workflow %s step %s: unknown dependency %s", key, step.Key, dep)
			}
			if _, dup := deps[dep]; dup {
				return invalid("workflow %s step %s: duplicate dependency %s", key, step.Key, dep)
			}
			deps[dep] = struct{}{}
		}
	}
	if cycle := def.findCycle(); cycle != "" {
		return invalid("workflow %s: dependency cycle through %s", key, cycle)
	}
	return nil
}

// findCycle returns a step key on a cycle, or "" when the graph is acyclic.
// def must already be normalized.
func (def Definition) findCycle() string {
	indegree := make(map[string]int, len(def.Steps))
	successors := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		indegree[step.Key] += 0
		for _, dep := range step.DependsOn {
			indegree[step.Key]++
			successors[dep] = append(successors[dep], step.Key)
		}
	}
	var queue []string
	for _, step := range def.Steps {
		if indegree[step.Key] == 0 {
			queue = append(queue, step.Key)
		}
	}
	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range successors[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(def.Steps) {
		return ""
	}
	var remaining []string
	for stepKey, degree := range indegree {
		if degree > 0 {
			remaining = append(remaining, stepKey)
		}
	}
	sort.Strings(remaining)
	return remaining[0]
}

// HasDependencies reports whether any step declares a dependency.
func (def Definition) HasDependencies() bool {
	for _, step := range def.Steps {
		if len(step.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// ToModels converts a validated definition into catalog records. Steps keep
// declaration order as their order_index. Version and activation are left to the caller.
func (def Definition) ToModels(now time.Time) (*models.Workflow, []models.WorkflowStep, []models.WorkflowStepEdge) {
	def = def.Normalized()
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Key:         def.Key,
		Name:        def.Name,
		Description: def.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if workflow.Name == "" {
		workflow.Name = workflow.Key
	}
	if tenant := def.TenantID; tenant != "" {
		workflow.TenantID = &tenant
	}

	steps := make([]models.WorkflowStep, len(def.Steps))
	idsByKey := make(map[string]string, len(def.Steps))
	for i, step := range def.Steps {
		name := step.Name
		if name == "" {
			name = step.Key
		}
		steps[i] = models.WorkflowStep{
			ID:         uuid.New().String(),
			WorkflowID: workflow.ID,
			Key:        step.Key,
			Name:       name,
			StepType:   step.Type,
			OrderIndex: i,
			Config:     step.Config,
			CreatedAt:  now,
		}
		idsByKey[steps[i].Key] = steps[i].ID
	}

	var edges []models.WorkflowStepEdge
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			edges = append(edges, models.WorkflowStepEdge{
				ID:         uuid.New().String(),
				WorkflowID: workflow.ID,
				FromStepID: idsByKey[dep],
				ToStepID:   idsByKey[step.Key],
			})
		}
	}
	return workflow, steps, edges
}
