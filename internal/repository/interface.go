package repository

import (
	"context"
	"errors"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a guarded update finds the row in an unexpected state.
	ErrConflict = errors.New("repository: conflict")
)

// WorkflowFilter narrows workflow listings.
type WorkflowFilter struct {
	// Status is "active", "inactive" or empty for both.
	Status string
	Limit  int
}

// RunFilter narrows run listings.
type RunFilter struct {
	Status models.RunStatus
	Limit  int
}

// WorkflowCatalog stores workflow templates, their steps and edges.
type WorkflowCatalog interface {
	// FindActiveWorkflow returns the active workflow for an exact tenant scope.
	// A nil tenantID matches global workflows only.
	FindActiveWorkflow(ctx context.Context, tenantID *string, key string) (*models.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// GetWorkflowSteps returns steps ordered by order_index.
	GetWorkflowSteps(ctx context.Context, workflowID string) ([]models.WorkflowStep, error)
	GetWorkflowEdges(ctx context.Context, workflowID string) ([]models.WorkflowStepEdge, error)
	// ListWorkflows returns the tenant's workflows plus global ones.
	ListWorkflows(ctx context.Context, tenantID string, filter WorkflowFilter) ([]models.Workflow, error)
	// LatestWorkflowVersion returns the highest version for a scope and key, 0 if none.
	LatestWorkflowVersion(ctx context.Context, tenantID *string, key string) (int, error)
	// DeactivateWorkflows marks every version for a scope and key inactive.
	DeactivateWorkflows(ctx context.Context, tenantID *string, key string) error
	CreateWorkflow(ctx context.Context, workflow *models.Workflow, steps []models.WorkflowStep, edges []models.WorkflowStepEdge) error
}

// RunStore stores workflow runs and their run-steps.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	CreateRunSteps(ctx context.Context, steps []models.WorkflowRunStep) error
	GetRun(ctx context.Context, id string) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]models.WorkflowRun, error)
	// UpdateRun persists run state only if the stored status still equals expected.
	UpdateRun(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) error
	ListRunSteps(ctx context.Context, runID string) ([]models.WorkflowRunStep, error)
	GetRunStep(ctx context.Context, id string) (*models.WorkflowRunStep, error)
	FindRunStepByTask(ctx context.Context, taskID string) (*models.WorkflowRunStep, error)
	// ListWaitingRunSteps returns waiting_for_task run-steps with a task id for a tenant.
	ListWaitingRunSteps(ctx context.Context, tenantID string) ([]models.WorkflowRunStep, error)
	// UpdateRunStep persists run-step state only if the stored status still equals expected.
	UpdateRunStep(ctx context.Context, step *models.WorkflowRunStep, expected models.StepStatus) error
	// ListActiveTenants returns tenants owning pending or running runs.
	ListActiveTenants(ctx context.Context) ([]string, error)
}

// TaskStore stores agent task records for deployments where the task subsystem
// shares the workflow database.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.AgentTask) error
	GetTask(ctx context.Context, id string) (*models.AgentTask, error)
	UpdateTask(ctx context.Context, task *models.AgentTask) error
}

// Repository is the full persistence surface used by the services.
type Repository interface {
	WorkflowCatalog
	RunStore
	TaskStore

	// WithinTx runs fn in a transaction carried by the context passed to fn.
	// Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
