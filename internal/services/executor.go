package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// stepStart is the state handed to a step starter. RunStep is already claimed
// (status running, started_at stamped); the starter moves it on from there.
type stepStart struct {
	Run     *models.WorkflowRun
	Step    *models.WorkflowStep
	RunStep *models.WorkflowRunStep
	Now     time.Time
}

// stepStarter starts one kind of step.
type stepStarter interface {
	Start(ctx context.Context, in stepStart) error
}

// agentTaskStarter hands the step to the external task subsystem.
type agentTaskStarter struct {
	tasks           TaskClient
	defaultAgent    string
	defaultTaskType string
}

func (a agentTaskStarter) Start(ctx context.Context, in stepStart) error {
	if a.tasks == nil {
		return fmt.Errorf("no task client configured")
	}
	payload := in.RunStep.InputContext.Clone()
	for key, value := range in.Step.Config {
		payload[key] = value
	}
	task, err := a.tasks.CreateTask(ctx, &models.AgentTask{
		TenantID: in.Run.TenantID,
		AgentID:  configString(in.Step.Config, "agent_id", a.defaultAgent),
		TaskType: configString(in.Step.Config, "task_type", a.defaultTaskType),
		Payload:  payload,
		Status:   models.TaskStatusPending,
	})
	if err != nil {
		return fmt.Errorf("create agent task: %w", err)
	}
	taskID := task.ID
	in.RunStep.AgentTaskID = &taskID
	in.RunStep.Status = models.StepStatusWaitingForTask
	return nil
}

func configString(config models.Context, key, fallback string) string {
	if value, ok := config[key].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// noopStarter completes immediately; used for branch and join points.
type noopStarter struct{}

func (noopStarter) Start(_ context.Context, in stepStart) error {
	in.RunStep.Status = models.StepStatusCompleted
	completedAt := in.Now
	in.RunStep.CompletedAt = &completedAt
	return nil
}

// manualStarter leaves the step running until CompleteStep or FailStep.
type manualStarter struct{}

func (manualStarter) Start(context.Context, stepStart) error {
	return nil
}

// StartStep starts a pending run-step according to its step type. A step that is
// no longer pending, including one a concurrent caller just started, yields
// ErrStepConflict and is left untouched.
//
// The claim and the step starter share one transaction, so an agent_task start
// holds the row (or SQLite write) lock for the duration of CreateTask, bounded by
// tasks.timeout on the HTTP client. If the commit fails after CreateTask returned,
// the created task has no run-step pointing at it and is never reconciled.
func (s *WorkflowService) StartStep(ctx context.Context, runStepID string) (_ *models.WorkflowRunStep, err error) {
	ctx, span := s.startSpan(ctx, "StartStep", attribute.String("run_step.id", runStepID))
	defer func() { endSpan(span, err) }()

	rs, err := s.getRunStep(ctx, runStepID)
	if err != nil {
		return nil, err
	}
	if rs.Status != models.StepStatusPending {
		return nil, fmt.Errorf("start step %s in status %s: %w", rs.ID, rs.Status, ErrStepConflict)
	}
	run, err := s.GetRun(ctx, rs.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("start step of run %s in status %s: %w", run.ID, run.Status, ErrRunTerminal)
	}
	step, err := s.findStep(ctx, run.WorkflowID, rs.StepID)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		rs.Status = models.StepStatusRunning
		rs.StartedAt = &now
		rs.UpdatedAt = now
		if err := s.repo.UpdateRunStep(ctx, rs, models.StepStatusPending); err != nil {
			return err
		}

		starter, ok := s.starters[step.StepType]
		if ok {
			if err := starter.Start(ctx, stepStart{Run: run, Step: step, RunStep: rs, Now: now}); err != nil {
				return err
			}
		} else {
			msg := fmt.Sprintf("unsupported step type: %s", step.StepType)
			rs.Status = models.StepStatusFailed
			rs.ErrorMessage = &msg
			rs.CompletedAt = &now
			s.logger.Warn("step failed at start", "run_step_id", rs.ID, "step", step.Key, "error", msg)
		}
		if rs.Status != models.StepStatusRunning {
			if err := s.repo.UpdateRunStep(ctx, rs, models.StepStatusRunning); err != nil {
				return err
			}
		}

		if run.Status == models.RunStatusPending {
			run.Status = models.RunStatusRunning
			run.StartedAt = &now
			run.UpdatedAt = now
			err := s.repo.UpdateRun(ctx, run, models.RunStatusPending)
			// Another step start already moved the run on.
			if err != nil && !errors.Is(err, repository.ErrConflict) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("start step %s: %w", runStepID, ErrStepConflict)
		}
		return nil, fmt.Errorf("start step %s: %w", runStepID, err)
	}

	s.metrics.add(ctx, s.metrics.stepsStarted, attribute.String("step.type", string(step.StepType)))
	s.logger.Debug("step started", "run_id", run.ID, "run_step_id", rs.ID, "step", step.Key, "status", rs.Status)
	return rs, nil
}

// CompleteStep finishes a running manual step with output.
func (s *WorkflowService) CompleteStep(ctx context.Context, runStepID string, output models.Context) (*models.WorkflowRunStep, error) {
	return s.finishRunningStep(ctx, runStepID, func(rs *models.WorkflowRunStep) {
		rs.Status = models.StepStatusCompleted
		rs.OutputContext = output
	})
}

// FailStep fails a running manual step with message.
func (s *WorkflowService) FailStep(ctx context.Context, runStepID, message string) (*models.WorkflowRunStep, error) {
	if strings.TrimSpace(message) == "" {
		message = "step failed"
	}
	return s.finishRunningStep(ctx, runStepID, func(rs *models.WorkflowRunStep) {
		rs.Status = models.StepStatusFailed
		rs.ErrorMessage = &message
	})
}

func (s *WorkflowService) finishRunningStep(ctx context.Context, runStepID string, apply func(*models.WorkflowRunStep)) (*models.WorkflowRunStep, error) {
	rs, err := s.getRunStep(ctx, runStepID)
	if err != nil {
		return nil, err
	}
	if rs.Status != models.StepStatusRunning {
		return nil, fmt.Errorf("finish step %s in status %s: %w", rs.ID, rs.Status, ErrStepConflict)
	}
	run, err := s.GetRun(ctx, rs.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("finish step of run %s in status %s: %w", run.ID, run.Status, ErrRunTerminal)
	}

	now := s.now()
	apply(rs)
	rs.CompletedAt = &now
	rs.UpdatedAt = now
	if err := s.repo.UpdateRunStep(ctx, rs, models.StepStatusRunning); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("finish step %s: %w", runStepID, ErrStepConflict)
		}
		return nil, fmt.Errorf("finish step %s: %w", runStepID, err)
	}
	s.logger.Info("step finished", "run_id", rs.RunID, "run_step_id", rs.ID, "status", rs.Status)
	return rs, nil
}

// GetRunStep returns one run-step.
func (s *WorkflowService) GetRunStep(ctx context.Context, runStepID string) (*models.WorkflowRunStep, error) {
	return s.getRunStep(ctx, runStepID)
}

func (s *WorkflowService) getRunStep(ctx context.Context, runStepID string) (*models.WorkflowRunStep, error) {
	rs, err := s.repo.GetRunStep(ctx, runStepID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunStepNotFound, runStepID)
		}
		return nil, fmt.Errorf("get run step: %w", err)
	}
	return rs, nil
}

func (s *WorkflowService) findStep(ctx context.Context, workflowID, stepID string) (*models.WorkflowStep, error) {
	steps, err := s.repo.GetWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow steps: %w", err)
	}
	for i := range steps {
		if steps[i].ID == stepID {
			return &steps[i], nil
		}
	}
	return nil, fmt.Errorf("step %s missing from workflow %s: %w", stepID, workflowID, ErrWorkflowNotFound)
}
