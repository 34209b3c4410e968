// Package models defines the domain models for the workflow orchestration service
package models

import (
	"time"
)

// Context is a free-form structured payload carried by runs, run-steps and tasks.
type Context map[string]interface{}

// Clone returns a shallow copy of the context. A nil context clones to an empty one.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for key, value := range c {
		out[key] = value
	}
	return out
}

// StepType is the closed set of step kinds the engine knows how to start.
type StepType string

const (
	// StepTypeAgentTask dispatches work to the external task subsystem.
	StepTypeAgentTask StepType = "agent_task"
	// StepTypeNoop completes instantly; used for DAG branch and join points.
	StepTypeNoop StepType = "noop"
	// StepTypeManual runs until an explicit complete or fail call.
	StepTypeManual StepType = "manual"
)

// Valid reports whether the step type is one the engine can start.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeAgentTask, StepTypeNoop, StepTypeManual:
		return true
	default:
		return false
	}
}

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCanceled
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single run-step.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusRunning        StepStatus = "running"
	StepStatusWaitingForTask StepStatus = "waiting_for_task"
	StepStatusCompleted      StepStatus = "completed"
	StepStatusFailed         StepStatus = "failed"
	StepStatusSkipped        StepStatus = "skipped"
)

// IsTerminal reports whether the step has finished, successfully or not.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Satisfied reports whether a successor may run after a predecessor in this state.
func (s StepStatus) Satisfied() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// Workflow is a named, versioned template. A nil TenantID marks a global template
// shared by every tenant.
type Workflow struct {
	ID          string    `json:"id"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsGlobal reports whether the workflow is shared across tenants.
func (w *Workflow) IsGlobal() bool {
	return w.TenantID == nil || *w.TenantID == ""
}

// WorkflowStep is one step of a workflow template.
type WorkflowStep struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	StepType   StepType  `json:"step_type"`
	OrderIndex int       `json:"order_index"`
	Config     Context   `json:"config,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowStepEdge is a directed dependency FromStepID -> ToStepID within one workflow.
type WorkflowStepEdge struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	FromStepID string `json:"from_step_id"`
	ToStepID   string `json:"to_step_id"`
}

// WorkflowRun is one execution instance of a workflow for a tenant.
type WorkflowRun struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	WorkflowID        string     `json:"workflow_id"`
	Status            RunStatus  `json:"status"`
	Context           Context    `json:"context"`
	TriggeredByUserID *string    `json:"triggered_by_user_id,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// WorkflowRunStep is the per-run execution record of one template step.
type WorkflowRunStep struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	StepID        string     `json:"step_id"`
	Status        StepStatus `json:"status"`
	AgentTaskID   *string    `json:"agent_task_id,omitempty"`
	InputContext  Context    `json:"input_context"`
	OutputContext Context    `json:"output_context,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// RunStepView joins a run-step with the template fields needed for display.
type RunStepView struct {
	WorkflowRunStep
	StepKey    string   `json:"step_key"`
	StepName   string   `json:"step_name"`
	StepType   StepType `json:"step_type"`
	OrderIndex int      `json:"order_index"`
}

// RunStatusView is a run together with its steps in template order.
type RunStatusView struct {
	Run      WorkflowRun   `json:"run"`
	Workflow *Workflow     `json:"workflow,omitempty"`
	Steps    []RunStepView `json:"steps"`
}
