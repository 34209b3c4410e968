package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// GetNextRunnableSteps returns the run-steps that may start now, in template order.
// An unknown run yields no steps.
func (s *WorkflowService) GetNextRunnableSteps(ctx context.Context, runID string) ([]models.WorkflowRunStep, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	graph, err := s.loadRunGraph(ctx, run)
	if err != nil {
		return nil, err
	}
	return resolveRunnable(graph.steps, graph.edges, graph.runSteps), nil
}

// predecessors maps each step ID to the step IDs with an edge into it.
func predecessors(edges []models.WorkflowStepEdge) map[string][]string {
	preds := make(map[string][]string, len(edges))
	for _, edge := range edges {
		preds[edge.ToStepID] = append(preds[edge.ToStepID], edge.FromStepID)
	}
	return preds
}

func runStepsByStep(runSteps []models.WorkflowRunStep) map[string]models.WorkflowRunStep {
	out := make(map[string]models.WorkflowRunStep, len(runSteps))
	for _, rs := range runSteps {
		out[rs.StepID] = rs
	}
	return out
}

// resolveRunnable decides which run-steps may start. steps must be ordered by order_index.
//
// With edges, a pending run-step is runnable when every predecessor is completed or
// skipped. Without edges, the first pending step in order is the only candidate and
// scanning stops at the first step that is still in flight.
func resolveRunnable(steps []models.WorkflowStep, edges []models.WorkflowStepEdge, runSteps []models.WorkflowRunStep) []models.WorkflowRunStep {
	byStep := runStepsByStep(runSteps)

	if len(edges) == 0 {
		for _, step := range steps {
			rs, ok := byStep[step.ID]
			if !ok {
				continue
			}
			if rs.Status == models.StepStatusPending {
				return []models.WorkflowRunStep{rs}
			}
			if !rs.Status.IsTerminal() {
				return nil
			}
		}
		return nil
	}

	preds := predecessors(edges)
	var runnable []models.WorkflowRunStep
	for _, step := range steps {
		rs, ok := byStep[step.ID]
		if !ok || rs.Status != models.StepStatusPending {
			continue
		}
		ready := true
		for _, predID := range preds[step.ID] {
			pred, ok := byStep[predID]
			if !ok || !pred.Status.Satisfied() {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, rs)
		}
	}
	return runnable
}

// blockedByFailure returns pending run-steps downstream of a failed step, keyed by
// run-step ID, with the key of the failed ancestor. Only meaningful with edges.
func blockedByFailure(steps []models.WorkflowStep, edges []models.WorkflowStepEdge, runSteps []models.WorkflowRunStep) map[string]string {
	if len(edges) == 0 {
		return nil
	}
	successors := make(map[string][]string, len(edges))
	for _, edge := range edges {
		successors[edge.FromStepID] = append(successors[edge.FromStepID], edge.ToStepID)
	}
	byStep := runStepsByStep(runSteps)

	blocked := make(map[string]string)
	for _, step := range steps {
		rs, ok := byStep[step.ID]
		if !ok || rs.Status != models.StepStatusFailed {
			continue
		}
		queue := append([]string(nil), successors[step.ID]...)
		seen := map[string]bool{}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if seen[current] {
				continue
			}
			seen[current] = true
			downstream, ok := byStep[current]
			if !ok {
				continue
			}
			if downstream.Status == models.StepStatusPending {
				if _, already := blocked[downstream.ID]; !already {
					blocked[downstream.ID] = step.Key
				}
			}
			queue = append(queue, successors[current]...)
		}
	}
	return blocked
}
