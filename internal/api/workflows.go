package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// Server implements ServerInterface on top of the workflow service.
type Server struct {
	svc *services.WorkflowService
}

// NewServer creates a new Server.
func NewServer(svc *services.WorkflowService) *Server {
	return &Server{svc: svc}
}

var _ ServerInterface = (*Server)(nil)

// WorkflowDetail is a workflow with its steps and edges.
type WorkflowDetail struct {
	Workflow *models.Workflow          `json:"workflow"`
	Steps    []models.WorkflowStep     `json:"steps"`
	Edges    []models.WorkflowStepEdge `json:"edges"`
}

// CreateRunBody is the body of POST /runs.
type CreateRunBody struct {
	WorkflowKey       string         `json:"workflow_key"`
	WorkflowID        string         `json:"workflow_id"`
	Context           models.Context `json:"context"`
	TriggeredByUserID *string        `json:"triggered_by_user_id"`
}

// CompleteStepBody is the body of POST /steps/{runStepId}/complete.
type CompleteStepBody struct {
	Output models.Context `json:"output"`
}

// FailStepBody is the body of POST /steps/{runStepId}/fail.
type FailStepBody struct {
	Message string `json:"message"`
}

// TaskEventResult reports what a task signal changed.
type TaskEventResult struct {
	Matched bool                    `json:"matched"`
	RunStep *models.WorkflowRunStep `json:"run_step,omitempty"`
	Run     *models.WorkflowRun     `json:"run,omitempty"`
}

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// ListWorkflows returns the tenant's workflows plus global ones
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context, params ListWorkflowsParams) error {
	workflows, err := s.svc.ListWorkflows(c.Request().Context(), params.XTenantID, repository.WorkflowFilter{
		Status: deref(params.Status),
		Limit:  deref(params.Limit),
	})
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// RegisterWorkflow stores a definition as the tenant's newest workflow version
// (POST /api/v1/workflows)
func (s *Server) RegisterWorkflow(c echo.Context, params TenantParams) error {
	var def definitions.Definition
	if err := c.Bind(&def); err != nil {
		return badRequest("Invalid request body: %v", err)
	}
	def.TenantID = params.XTenantID
	workflow, err := s.svc.RegisterWorkflow(c.Request().Context(), def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, workflow)
}

// GetWorkflow returns the active workflow for a key with its graph
// (GET /api/v1/workflows/{key})
func (s *Server) GetWorkflow(c echo.Context, key string, params TenantParams) error {
	ctx := c.Request().Context()
	workflow, err := s.svc.FindWorkflowByKey(ctx, params.XTenantID, key)
	if err != nil {
		return err
	}
	steps, err := s.svc.GetSteps(ctx, workflow.ID)
	if err != nil {
		return err
	}
	edges, err := s.svc.GetEdges(ctx, workflow.ID)
	if err != nil {
		return err
	}
	if edges == nil {
		edges = []models.WorkflowStepEdge{}
	}
	return c.JSON(http.StatusOK, WorkflowDetail{Workflow: workflow, Steps: steps, Edges: edges})
}

// ListRuns returns the tenant's runs, newest first
// (GET /api/v1/runs)
func (s *Server) ListRuns(c echo.Context, params ListRunsParams) error {
	runs, err := s.svc.ListRuns(c.Request().Context(), params.XTenantID, repository.RunFilter{
		Status: models.RunStatus(deref(params.Status)),
		Limit:  deref(params.Limit),
	})
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []models.WorkflowRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// CreateRun starts a new pending run
// (POST /api/v1/runs)
func (s *Server) CreateRun(c echo.Context, params TenantParams) error {
	var body CreateRunBody
	if err := c.Bind(&body); err != nil {
		return badRequest("Invalid request body: %v", err)
	}
	if body.WorkflowKey == "" && body.WorkflowID == "" {
		return badRequest("workflow_key or workflow_id is required")
	}
	run, err := s.svc.CreateWorkflowRun(c.Request().Context(), services.CreateRunRequest{
		TenantID:    params.XTenantID,
		WorkflowKey: body.WorkflowKey,
		WorkflowID:  body.WorkflowID,
		Context:     body.Context,
		TriggeredBy: body.TriggeredByUserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, run)
}

// GetRun returns a run with its steps
// (GET /api/v1/runs/{runId})
func (s *Server) GetRun(c echo.Context, runID string, params TenantParams) error {
	ctx := c.Request().Context()
	if _, err := s.ownedRun(ctx, runID, params.XTenantID); err != nil {
		return err
	}
	view, err := s.svc.GetRunStatus(ctx, runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// AdvanceRun runs one advance tick
// (POST /api/v1/runs/{runId}/advance)
func (s *Server) AdvanceRun(c echo.Context, runID string, params TenantParams) error {
	ctx := c.Request().Context()
	if _, err := s.ownedRun(ctx, runID, params.XTenantID); err != nil {
		return err
	}
	if _, err := s.svc.AdvanceWorkflow(ctx, runID); err != nil {
		return err
	}
	view, err := s.svc.GetRunStatus(ctx, runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// CancelRun cancels an active run
// (POST /api/v1/runs/{runId}/cancel)
func (s *Server) CancelRun(c echo.Context, runID string, params TenantParams) error {
	ctx := c.Request().Context()
	if _, err := s.ownedRun(ctx, runID, params.XTenantID); err != nil {
		return err
	}
	run, err := s.svc.CancelWorkflowRun(ctx, runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// ListRunnableSteps returns the steps that may start now
// (GET /api/v1/runs/{runId}/runnable)
func (s *Server) ListRunnableSteps(c echo.Context, runID string, params TenantParams) error {
	ctx := c.Request().Context()
	if _, err := s.ownedRun(ctx, runID, params.XTenantID); err != nil {
		return err
	}
	steps, err := s.svc.GetNextRunnableSteps(ctx, runID)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []models.WorkflowRunStep{}
	}
	return c.JSON(http.StatusOK, steps)
}

// CompleteStep finishes a running manual step
// (POST /api/v1/steps/{runStepId}/complete)
func (s *Server) CompleteStep(c echo.Context, runStepID string, params TenantParams) error {
	var body CompleteStepBody
	if err := c.Bind(&body); err != nil {
		return badRequest("Invalid request body: %v", err)
	}
	ctx := c.Request().Context()
	if err := s.ownedStep(ctx, runStepID, params.XTenantID); err != nil {
		return err
	}
	rs, err := s.svc.CompleteStep(ctx, runStepID, body.Output)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rs)
}

// FailStep fails a running manual step
// (POST /api/v1/steps/{runStepId}/fail)
func (s *Server) FailStep(c echo.Context, runStepID string, params TenantParams) error {
	var body FailStepBody
	if err := c.Bind(&body); err != nil {
		return badRequest("Invalid request body: %v", err)
	}
	ctx := c.Request().Context()
	if err := s.ownedStep(ctx, runStepID, params.XTenantID); err != nil {
		return err
	}
	rs, err := s.svc.FailStep(ctx, runStepID, body.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rs)
}

// SyncTenant reconciles the tenant's waiting steps against their tasks
// (POST /api/v1/sync)
func (s *Server) SyncTenant(c echo.Context, params TenantParams) error {
	result, err := s.svc.SyncWorkflowStepsFromTasks(c.Request().Context(), params.XTenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// PostTaskEvent reconciles the step waiting on a task and advances its run
// (POST /api/v1/tasks/{taskId}/events)
func (s *Server) PostTaskEvent(c echo.Context, taskID string) error {
	rs, run, err := s.svc.ReconcileTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TaskEventResult{Matched: rs != nil, RunStep: rs, Run: run})
}

// ownedRun hides runs of other tenants behind a not-found error.
func (s *Server) ownedRun(ctx context.Context, runID, tenantID string) (*models.WorkflowRun, error) {
	run, err := s.svc.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", services.ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *Server) ownedStep(ctx context.Context, runStepID, tenantID string) error {
	rs, err := s.svc.GetRunStep(ctx, runStepID)
	if err != nil {
		return err
	}
	if _, err := s.ownedRun(ctx, rs.RunID, tenantID); err != nil {
		return fmt.Errorf("%w: %s", services.ErrRunStepNotFound, runStepID)
	}
	return nil
}
