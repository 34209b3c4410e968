package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// AdvanceWorkflow runs one tick of the run state machine: it starts every runnable
// step, repeating while instant steps unlock more, then finalizes the run once every
// step is terminal. Terminal runs are returned unchanged.
func (s *WorkflowService) AdvanceWorkflow(ctx context.Context, runID string) (_ *models.WorkflowRun, err error) {
	ctx, span := s.startSpan(ctx, "AdvanceWorkflow", attribute.String("run.id", runID))
	defer func() { endSpan(span, err) }()

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, nil
	}

	graph, err := s.loadRunGraph(ctx, run)
	if err != nil {
		return nil, err
	}

	// Each pass starts at least one step or stops, so len(steps)+1 passes suffice.
	for pass := 0; pass <= len(graph.steps); pass++ {
		progressed, err := s.skipBlockedSteps(ctx, graph)
		if err != nil {
			return nil, err
		}
		for _, rs := range resolveRunnable(graph.steps, graph.edges, graph.runSteps) {
			if _, err := s.StartStep(ctx, rs.ID); err != nil {
				if errors.Is(err, ErrStepConflict) {
					s.logger.Debug("step already started elsewhere", "run_id", run.ID, "run_step_id", rs.ID)
					continue
				}
				if errors.Is(err, ErrRunTerminal) {
					return s.GetRun(ctx, run.ID)
				}
				return nil, fmt.Errorf("advance workflow run %s: %w", run.ID, err)
			}
			progressed = true
		}
		if !progressed {
			break
		}
		if graph.runSteps, err = s.repo.ListRunSteps(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("reload run steps: %w", err)
		}
	}

	// Step starts may have moved the run to running.
	if run, err = s.GetRun(ctx, run.ID); err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, nil
	}
	return s.finalizeRun(ctx, run, graph.runSteps)
}

// skipBlockedSteps marks pending steps downstream of a failed step as skipped.
func (s *WorkflowService) skipBlockedSteps(ctx context.Context, graph runGraph) (bool, error) {
	blocked := blockedByFailure(graph.steps, graph.edges, graph.runSteps)
	if len(blocked) == 0 {
		return false, nil
	}
	skipped := false
	for i := range graph.runSteps {
		rs := &graph.runSteps[i]
		failedKey, ok := blocked[rs.ID]
		if !ok {
			continue
		}
		now := s.now()
		msg := fmt.Sprintf("skipped: upstream step %s failed", failedKey)
		next := *rs
		next.Status = models.StepStatusSkipped
		next.ErrorMessage = &msg
		next.CompletedAt = &now
		next.UpdatedAt = now
		if err := s.repo.UpdateRunStep(ctx, &next, models.StepStatusPending); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return false, fmt.Errorf("skip run step %s: %w", rs.ID, err)
		}
		*rs = next
		skipped = true
	}
	return skipped, nil
}

// finalizeRun closes the run when every step is terminal.
func (s *WorkflowService) finalizeRun(ctx context.Context, run *models.WorkflowRun, runSteps []models.WorkflowRunStep) (*models.WorkflowRun, error) {
	failed := false
	for _, rs := range runSteps {
		if !rs.Status.IsTerminal() {
			return run, nil
		}
		if rs.Status == models.StepStatusFailed {
			failed = true
		}
	}

	now := s.now()
	expected := run.Status
	next := *run
	next.Status = models.RunStatusCompleted
	if failed {
		next.Status = models.RunStatusFailed
		msg := "one or more steps failed"
		next.ErrorMessage = &msg
	}
	if next.StartedAt == nil {
		next.StartedAt = &now
	}
	next.CompletedAt = &now
	next.UpdatedAt = now
	if err := s.repo.UpdateRun(ctx, &next, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return s.GetRun(ctx, run.ID)
		}
		return nil, fmt.Errorf("finalize workflow run %s: %w", run.ID, err)
	}

	s.metrics.add(ctx, s.metrics.runsFinished, attribute.String("status", string(next.Status)))
	s.logger.Info("workflow run finished", "run_id", run.ID, "status", next.Status)
	return &next, nil
}

// CancelWorkflowRun cancels an active run and skips its pending steps. Steps already
// handed to an agent are left as they are.
func (s *WorkflowService) CancelWorkflowRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("cancel run %s in status %s: %w", run.ID, run.Status, ErrRunTerminal)
	}

	now := s.now()
	expected := run.Status
	next := *run
	next.Status = models.RunStatusCanceled
	next.CompletedAt = &now
	next.UpdatedAt = now

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateRun(ctx, &next, expected); err != nil {
			return err
		}
		runSteps, err := s.repo.ListRunSteps(ctx, run.ID)
		if err != nil {
			return err
		}
		msg := "skipped: run canceled"
		for i := range runSteps {
			rs := &runSteps[i]
			if rs.Status != models.StepStatusPending {
				continue
			}
			rs.Status = models.StepStatusSkipped
			rs.ErrorMessage = &msg
			rs.CompletedAt = &now
			rs.UpdatedAt = now
			if err := s.repo.UpdateRunStep(ctx, rs, models.StepStatusPending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("cancel run %s: %w", run.ID, ErrRunTerminal)
		}
		return nil, fmt.Errorf("cancel run %s: %w", run.ID, err)
	}

	s.metrics.add(ctx, s.metrics.runsFinished, attribute.String("status", string(next.Status)))
	s.logger.Info("workflow run canceled", "run_id", run.ID)
	return &next, nil
}

// ReconcileTask handles a task status signal: it settles the waiting step and, when
// the step became terminal, advances its run. Unknown tasks yield nil results.
func (s *WorkflowService) ReconcileTask(ctx context.Context, taskID string) (*models.WorkflowRunStep, *models.WorkflowRun, error) {
	rs, err := s.UpdateStepFromTask(ctx, taskID)
	if err != nil || rs == nil {
		return rs, nil, err
	}
	if !rs.Status.IsTerminal() {
		return rs, nil, nil
	}
	run, err := s.AdvanceWorkflow(ctx, rs.RunID)
	if err != nil {
		return rs, nil, err
	}
	return rs, run, nil
}

// SyncError is a per-item failure recorded by a sync pass.
type SyncError struct {
	RunID     string `json:"run_id,omitempty"`
	RunStepID string `json:"run_step_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Error     string `json:"error"`
}

// SyncResult summarizes one SyncWorkflowStepsFromTasks pass.
type SyncResult struct {
	TenantID     string      `json:"tenant_id"`
	Checked      int         `json:"checked"`
	Updated      int         `json:"updated"`
	AdvancedRuns []string    `json:"advanced_runs"`
	Errors       []SyncError `json:"errors,omitempty"`
}

// SyncWorkflowStepsFromTasks reconciles every waiting step of a tenant and advances
// each run that had a step settle, once per run. Item failures are collected, not fatal.
func (s *WorkflowService) SyncWorkflowStepsFromTasks(ctx context.Context, tenantID string) (_ *SyncResult, err error) {
	ctx, span := s.startSpan(ctx, "SyncWorkflowStepsFromTasks", attribute.String("tenant.id", tenantID))
	defer func() { endSpan(span, err) }()

	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required: %w", ErrInvalidArgument)
	}
	waiting, err := s.repo.ListWaitingRunSteps(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list waiting run steps: %w", err)
	}

	result := &SyncResult{TenantID: tenantID, AdvancedRuns: []string{}}
	var runOrder []string
	touched := map[string]bool{}
	for _, rs := range waiting {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rs.AgentTaskID == nil {
			continue
		}
		result.Checked++
		updated, err := s.UpdateStepFromTask(ctx, *rs.AgentTaskID)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{RunID: rs.RunID, RunStepID: rs.ID, TaskID: *rs.AgentTaskID, Error: err.Error()})
			continue
		}
		if updated == nil || !updated.Status.IsTerminal() {
			continue
		}
		result.Updated++
		if !touched[rs.RunID] {
			touched[rs.RunID] = true
			runOrder = append(runOrder, rs.RunID)
		}
	}

	for _, runID := range runOrder {
		if _, err := s.AdvanceWorkflow(ctx, runID); err != nil {
			result.Errors = append(result.Errors, SyncError{RunID: runID, Error: err.Error()})
			continue
		}
		result.AdvancedRuns = append(result.AdvancedRuns, runID)
	}

	if result.Updated > 0 || len(result.Errors) > 0 {
		s.logger.Info("tenant sync finished", "tenant_id", tenantID, "checked", result.Checked,
			"updated", result.Updated, "advanced", len(result.AdvancedRuns), "errors", len(result.Errors))
	}
	return result, nil
}

// SyncAllTenants runs SyncWorkflowStepsFromTasks for every tenant with active runs.
func (s *WorkflowService) SyncAllTenants(ctx context.Context) ([]*SyncResult, error) {
	tenants, err := s.repo.ListActiveTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	results := make([]*SyncResult, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.syncConcurrency)
	for i, tenantID := range tenants {
		g.Go(func() error {
			result, err := s.SyncWorkflowStepsFromTasks(gctx, tenantID)
			if err != nil {
				return fmt.Errorf("sync tenant %s: %w", tenantID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunSyncLoop calls SyncAllTenants every interval until ctx is done. Pass failures are
// logged and the loop continues.
func (s *WorkflowService) RunSyncLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive: %w", ErrInvalidArgument)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("task sync poller started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task sync poller stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SyncAllTenants(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("task sync pass failed", "error", err)
			}
		}
	}
}
