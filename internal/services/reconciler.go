package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// UpdateStepFromTask copies a terminal task status onto the run-step waiting on it.
// An unknown task ID yields nil, nil. A step that is no longer waiting, or a task that
// is still in flight, is returned unchanged. The owning run is not advanced.
func (s *WorkflowService) UpdateStepFromTask(ctx context.Context, taskID string) (_ *models.WorkflowRunStep, err error) {
	ctx, span := s.startSpan(ctx, "UpdateStepFromTask", attribute.String("task.id", taskID))
	defer func() { endSpan(span, err) }()

	rs, err := s.repo.FindRunStepByTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("no run step for task", "task_id", taskID)
			return nil, nil
		}
		return nil, fmt.Errorf("find run step for task: %w", err)
	}
	if rs.Status != models.StepStatusWaitingForTask {
		return rs, nil
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get agent task %s: %w", taskID, err)
	}

	now := s.now()
	switch task.Status {
	case models.TaskStatusCompleted:
		rs.Status = models.StepStatusCompleted
		rs.OutputContext = task.Result
	case models.TaskStatusFailed:
		msg := "agent task failed"
		if task.ErrorMessage != nil && *task.ErrorMessage != "" {
			msg = *task.ErrorMessage
		}
		rs.Status = models.StepStatusFailed
		rs.ErrorMessage = &msg
	default:
		return rs, nil
	}
	rs.CompletedAt = &now
	rs.UpdatedAt = now

	if err := s.repo.UpdateRunStep(ctx, rs, models.StepStatusWaitingForTask); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// A duplicate signal settled it first.
			return s.repo.GetRunStep(ctx, rs.ID)
		}
		return nil, fmt.Errorf("update run step from task: %w", err)
	}

	s.metrics.add(ctx, s.metrics.stepsSettled, attribute.String("status", string(rs.Status)))
	s.logger.Info("step reconciled from task", "run_id", rs.RunID, "run_step_id", rs.ID, "task_id", taskID, "status", rs.Status)
	return rs, nil
}
