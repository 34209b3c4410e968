package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

const (
	DefaultAgentID  = "zora_core_agent"
	DefaultTaskType = "workflow_step"
)

// WorkflowService creates, advances and reconciles workflow runs. It holds no
// run state between calls; the repository is the source of truth.
type WorkflowService struct {
	repo            repository.Repository
	tasks           TaskClient
	logger          Logger
	clock           func() time.Time
	defaultAgent    string
	defaultTaskType string
	starters        map[models.StepType]stepStarter
	syncConcurrency int
	tracer          trace.Tracer
	metrics         *engineMetrics
}

// Option customizes the service instance.
type Option func(*WorkflowService)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *WorkflowService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(s *WorkflowService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultAgent overrides the agent used when a step config names none.
func WithDefaultAgent(agentID string) Option {
	return func(s *WorkflowService) {
		if strings.TrimSpace(agentID) != "" {
			s.defaultAgent = agentID
		}
	}
}

// WithDefaultTaskType overrides the task type used when a step config names none.
func WithDefaultTaskType(taskType string) Option {
	return func(s *WorkflowService) {
		if strings.TrimSpace(taskType) != "" {
			s.defaultTaskType = taskType
		}
	}
}

// WithSyncConcurrency bounds how many tenants SyncAllTenants processes at once.
func WithSyncConcurrency(n int) Option {
	return func(s *WorkflowService) {
		if n > 0 {
			s.syncConcurrency = n
		}
	}
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(repo repository.Repository, tasks TaskClient, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		repo:            repo,
		tasks:           tasks,
		logger:          nopLogger{},
		clock:           time.Now,
		defaultAgent:    DefaultAgentID,
		defaultTaskType: DefaultTaskType,
		syncConcurrency: 4,
		tracer:          otel.Tracer(instrumentationName),
		metrics:         newEngineMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.starters = map[models.StepType]stepStarter{
		models.StepTypeAgentTask: agentTaskStarter{
			tasks:           s.tasks,
			defaultAgent:    s.defaultAgent,
			defaultTaskType: s.defaultTaskType,
		},
		models.StepTypeNoop:   noopStarter{},
		models.StepTypeManual: manualStarter{},
	}
	return s
}

// now returns the clock in UTC at millisecond precision, the finest every backend stores.
func (s *WorkflowService) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

// --- catalog ---

// FindWorkflowByKey returns the tenant's active workflow for key, falling back to
// the global one.
func (s *WorkflowService) FindWorkflowByKey(ctx context.Context, tenantID, key string) (*models.Workflow, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("workflow key is required: %w", ErrInvalidArgument)
	}
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		workflow, err := s.repo.FindActiveWorkflow(ctx, &tenantID, key)
		if err == nil {
			return workflow, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find workflow: %w", err)
		}
	}
	workflow, err := s.repo.FindActiveWorkflow(ctx, nil, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, key)
		}
		return nil, fmt.Errorf("find workflow: %w", err)
	}
	return workflow, nil
}

// GetSteps returns the workflow's steps ordered by order_index.
func (s *WorkflowService) GetSteps(ctx context.Context, workflowID string) ([]models.WorkflowStep, error) {
	steps, err := s.repo.GetWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow steps: %w", err)
	}
	return steps, nil
}

// GetEdges returns the workflow's dependency edges.
func (s *WorkflowService) GetEdges(ctx context.Context, workflowID string) ([]models.WorkflowStepEdge, error) {
	edges, err := s.repo.GetWorkflowEdges(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow edges: %w", err)
	}
	return edges, nil
}

// ListWorkflows returns the tenant's workflows and the global ones.
func (s *WorkflowService) ListWorkflows(ctx context.Context, tenantID string, filter repository.WorkflowFilter) ([]models.Workflow, error) {
	switch filter.Status {
	case "", "active", "inactive":
	default:
		return nil, fmt.Errorf("unknown workflow status filter %q: %w", filter.Status, ErrInvalidArgument)
	}
	workflows, err := s.repo.ListWorkflows(ctx, strings.TrimSpace(tenantID), filter)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// RegisterWorkflow stores def as the newest active version of its key within its
// tenant scope. Earlier versions are deactivated; runs keep pointing at them.
func (s *WorkflowService) RegisterWorkflow(ctx context.Context, def definitions.Definition) (*models.Workflow, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	workflow, steps, edges := def.ToModels(s.now())
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		latest, err := s.repo.LatestWorkflowVersion(ctx, workflow.TenantID, workflow.Key)
		if err != nil {
			return err
		}
		if err := s.repo.DeactivateWorkflows(ctx, workflow.TenantID, workflow.Key); err != nil {
			return err
		}
		workflow.Version = latest + 1
		workflow.IsActive = true
		return s.repo.CreateWorkflow(ctx, workflow, steps, edges)
	})
	if err != nil {
		return nil, fmt.Errorf("register workflow %s: %w", def.Key, err)
	}
	s.logger.Info("workflow registered", "key", workflow.Key, "version", workflow.Version, "steps", len(steps))
	return workflow, nil
}

// --- runs ---

// CreateRunRequest identifies the workflow to run by key or ID.
type CreateRunRequest struct {
	TenantID    string
	WorkflowKey string
	// WorkflowID takes precedence over WorkflowKey when set.
	WorkflowID  string
	Context     models.Context
	TriggeredBy *string
}

// CreateWorkflowRun creates a pending run with one pending run-step per template step.
func (s *WorkflowService) CreateWorkflowRun(ctx context.Context, req CreateRunRequest) (_ *models.WorkflowRun, err error) {
	ctx, span := s.startSpan(ctx, "CreateWorkflowRun",
		attribute.String("tenant.id", req.TenantID), attribute.String("workflow.key", req.WorkflowKey))
	defer func() { endSpan(span, err) }()

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required: %w", ErrInvalidArgument)
	}

	workflow, err := s.resolveWorkflow(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	steps, err := s.repo.GetWorkflowSteps(ctx, workflow.ID)
	if err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}

	now := s.now()
	initial := req.Context.Clone()
	run := &models.WorkflowRun{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		WorkflowID:        workflow.ID,
		Status:            models.RunStatusPending,
		Context:           initial,
		TriggeredByUserID: req.TriggeredBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	runSteps := make([]models.WorkflowRunStep, len(steps))
	for i, step := range steps {
		runSteps[i] = models.WorkflowRunStep{
			ID:           uuid.New().String(),
			RunID:        run.ID,
			StepID:       step.ID,
			Status:       models.StepStatusPending,
			InputContext: initial.Clone(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return err
		}
		return s.repo.CreateRunSteps(ctx, runSteps)
	})
	if err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}

	s.metrics.add(ctx, s.metrics.runsCreated, attribute.String("workflow.key", workflow.Key))
	s.logger.Info("workflow run created",
		"run_id", run.ID, "tenant_id", tenantID, "workflow", workflow.Key, "version", workflow.Version, "steps", len(runSteps))
	return run, nil
}

func (s *WorkflowService) resolveWorkflow(ctx context.Context, tenantID string, req CreateRunRequest) (*models.Workflow, error) {
	if id := strings.TrimSpace(req.WorkflowID); id != "" {
		workflow, err := s.repo.GetWorkflow(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
			}
			return nil, fmt.Errorf("get workflow: %w", err)
		}
		// Another tenant's template is invisible.
		if !workflow.IsGlobal() && *workflow.TenantID != tenantID {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return workflow, nil
	}
	return s.FindWorkflowByKey(ctx, tenantID, req.WorkflowKey)
}

// GetRun returns a run by ID.
func (s *WorkflowService) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return run, nil
}

// ListRuns returns a tenant's runs, newest first.
func (s *WorkflowService) ListRuns(ctx context.Context, tenantID string, filter repository.RunFilter) ([]models.WorkflowRun, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required: %w", ErrInvalidArgument)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown run status %q: %w", filter.Status, ErrInvalidArgument)
	}
	runs, err := s.repo.ListRuns(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	return runs, nil
}

// GetRunStatus returns a run with its steps in template order.
func (s *WorkflowService) GetRunStatus(ctx context.Context, runID string) (*models.RunStatusView, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	graph, err := s.loadRunGraph(ctx, run)
	if err != nil {
		return nil, err
	}

	view := &models.RunStatusView{Run: *run, Steps: make([]models.RunStepView, 0, len(graph.runSteps))}
	if workflow, err := s.repo.GetWorkflow(ctx, run.WorkflowID); err == nil {
		view.Workflow = workflow
	}
	stepsByID := graph.stepsByID()
	for _, rs := range graph.runSteps {
		item := models.RunStepView{WorkflowRunStep: rs}
		if step, ok := stepsByID[rs.StepID]; ok {
			item.StepKey = step.Key
			item.StepName = step.Name
			item.StepType = step.StepType
			item.OrderIndex = step.OrderIndex
		}
		view.Steps = append(view.Steps, item)
	}
	return view, nil
}

// runGraph is everything the resolver needs about one run.
type runGraph struct {
	steps    []models.WorkflowStep
	edges    []models.WorkflowStepEdge
	runSteps []models.WorkflowRunStep
}

func (g runGraph) stepsByID() map[string]models.WorkflowStep {
	out := make(map[string]models.WorkflowStep, len(g.steps))
	for _, step := range g.steps {
		out[step.ID] = step
	}
	return out
}

func (s *WorkflowService) loadRunGraph(ctx context.Context, run *models.WorkflowRun) (runGraph, error) {
	steps, err := s.repo.GetWorkflowSteps(ctx, run.WorkflowID)
	if err != nil {
		return runGraph{}, fmt.Errorf("load workflow steps: %w", err)
	}
	edges, err := s.repo.GetWorkflowEdges(ctx, run.WorkflowID)
	if err != nil {
		return runGraph{}, fmt.Errorf("load workflow edges: %w", err)
	}
	runSteps, err := s.repo.ListRunSteps(ctx, run.ID)
	if err != nil {
		return runGraph{}, fmt.Errorf("load run steps: %w", err)
	}
	return runGraph{steps: steps, edges: edges, runSteps: runSteps}, nil
}
