package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func strPtr(s string) *string { return &s }

// seedWorkflow stores a three step workflow a -> b, a -> c for the given scope.
func seedWorkflow(t *testing.T, repo Repository, tenantID *string, key string, version int) (*models.Workflow, []models.WorkflowStep) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	wf := &models.Workflow{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Key:       key,
		Name:      "Test " + key,
		Version:   version,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	steps := []models.WorkflowStep{
		{ID: uuid.New().String(), Key: "a", Name: "A", StepType: models.StepTypeAgentTask, OrderIndex: 0, Config: models.Context{"agent": "x"}, CreatedAt: now},
		{ID: uuid.New().String(), Key: "b", Name: "B", StepType: models.StepTypeNoop, OrderIndex: 1, CreatedAt: now},
		{ID: uuid.New().String(), Key: "c", Name: "C", StepType: models.StepTypeManual, OrderIndex: 2, CreatedAt: now},
	}
	edges := []models.WorkflowStepEdge{
		{ID: uuid.New().String(), FromStepID: steps[0].ID, ToStepID: steps[1].ID},
		{ID: uuid.New().String(), FromStepID: steps[0].ID, ToStepID: steps[2].ID},
	}
	require.NoError(t, repo.CreateWorkflow(context.Background(), wf, steps, edges))
	return wf, steps
}

func seedRun(t *testing.T, repo Repository, tenantID string, wf *models.Workflow, steps []models.WorkflowStep) (*models.WorkflowRun, []models.WorkflowRunStep) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	run := &models.WorkflowRun{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		WorkflowID: wf.ID,
		Status:     models.RunStatusPending,
		Context:    models.Context{"customer": "acme"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	runSteps := make([]models.WorkflowRunStep, len(steps))
	for i, step := range steps {
		runSteps[i] = models.WorkflowRunStep{
			ID:           uuid.New().String(),
			RunID:        run.ID,
			StepID:       step.ID,
			Status:       models.StepStatusPending,
			InputContext: run.Context.Clone(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	ctx := context.Background()
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := repo.CreateRun(ctx, run); err != nil {
			return err
		}
		return repo.CreateRunSteps(ctx, runSteps)
	}))
	return run, runSteps
}

// runRepositorySuite exercises the Repository contract against a migrated store.
func runRepositorySuite(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := "tenant-" + uuid.New().String()[:8]

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("Workflow scopes and versions", func(t *testing.T) {
		key := "scoped-" + uuid.New().String()[:8]
		global, _ := seedWorkflow(t, repo, nil, key, 1)
		scoped, steps := seedWorkflow(t, repo, strPtr(tenant), key, 1)

		found, err := repo.FindActiveWorkflow(ctx, strPtr(tenant), key)
		require.NoError(t, err)
		assert.Equal(t, scoped.ID, found.ID)

		found, err = repo.FindActiveWorkflow(ctx, nil, key)
		require.NoError(t, err)
		assert.Equal(t, global.ID, found.ID)
		assert.True(t, found.IsGlobal())

		_, err = repo.FindActiveWorkflow(ctx, strPtr("other-tenant"), key)
		assert.ErrorIs(t, err, ErrNotFound)

		gotSteps, err := repo.GetWorkflowSteps(ctx, scoped.ID)
		require.NoError(t, err)
		require.Len(t, gotSteps, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{gotSteps[0].Key, gotSteps[1].Key, gotSteps[2].Key})
		assert.Equal(t, models.StepTypeManual, gotSteps[2].StepType)
		assert.Equal(t, "x", gotSteps[0].Config["agent"])

		edges, err := repo.GetWorkflowEdges(ctx, scoped.ID)
		require.NoError(t, err)
		assert.Len(t, edges, 2)
		for _, edge := range edges {
			assert.Equal(t, steps[0].ID, edge.FromStepID)
		}

		version, err := repo.LatestWorkflowVersion(ctx, strPtr(tenant), key)
		require.NoError(t, err)
		assert.Equal(t, 1, version)

		version, err = repo.LatestWorkflowVersion(ctx, strPtr(tenant), "missing-key")
		require.NoError(t, err)
		assert.Equal(t, 0, version)

		require.NoError(t, repo.DeactivateWorkflows(ctx, strPtr(tenant), key))
		_, err = repo.FindActiveWorkflow(ctx, strPtr(tenant), key)
		assert.ErrorIs(t, err, ErrNotFound)

		// Global scope is untouched by a tenant deactivation.
		_, err = repo.FindActiveWorkflow(ctx, nil, key)
		assert.NoError(t, err)

		all, err := repo.ListWorkflows(ctx, tenant, WorkflowFilter{})
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, w := range all {
			ids[w.ID] = true
		}
		assert.True(t, ids[global.ID])
		assert.True(t, ids[scoped.ID])

		active, err := repo.ListWorkflows(ctx, tenant, WorkflowFilter{Status: "inactive"})
		require.NoError(t, err)
		for _, w := range active {
			assert.False(t, w.IsActive)
		}
	})

	t.Run("Get missing rows", func(t *testing.T) {
		_, err := repo.GetWorkflow(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetRun(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetRunStep(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindRunStepByTask(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetTask(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Runs and guarded updates", func(t *testing.T) {
		wf, steps := seedWorkflow(t, repo, nil, "runs-"+uuid.New().String()[:8], 1)
		run, _ := seedRun(t, repo, tenant, wf, steps)

		got, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusPending, got.Status)
		assert.Equal(t, "acme", got.Context["customer"])
		assert.Nil(t, got.StartedAt)

		listed, err := repo.ListRunSteps(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, steps[0].ID, listed[0].StepID)
		assert.Equal(t, "acme", listed[0].InputContext["customer"])

		now := time.Now().UTC().Truncate(time.Millisecond)
		got.Status = models.RunStatusRunning
		got.StartedAt = &now
		got.UpdatedAt = now
		require.NoError(t, repo.UpdateRun(ctx, got, models.RunStatusPending))

		// Stale expectation loses.
		err = repo.UpdateRun(ctx, got, models.RunStatusPending)
		assert.ErrorIs(t, err, ErrConflict)

		missing := *got
		missing.ID = uuid.New().String()
		err = repo.UpdateRun(ctx, &missing, models.RunStatusRunning)
		assert.ErrorIs(t, err, ErrNotFound)

		tenants, err := repo.ListActiveTenants(ctx)
		require.NoError(t, err)
		assert.Contains(t, tenants, tenant)

		rs := listed[0]
		rs.Status = models.StepStatusWaitingForTask
		rs.AgentTaskID = strPtr("task-" + rs.ID)
		rs.StartedAt = &now
		rs.UpdatedAt = now
		require.NoError(t, repo.UpdateRunStep(ctx, &rs, models.StepStatusPending))
		assert.ErrorIs(t, repo.UpdateRunStep(ctx, &rs, models.StepStatusPending), ErrConflict)

		byTask, err := repo.FindRunStepByTask(ctx, *rs.AgentTaskID)
		require.NoError(t, err)
		assert.Equal(t, rs.ID, byTask.ID)

		waiting, err := repo.ListWaitingRunSteps(ctx, tenant)
		require.NoError(t, err)
		found := false
		for _, w := range waiting {
			if w.ID == rs.ID {
				found = true
			}
			assert.Equal(t, models.StepStatusWaitingForTask, w.Status)
		}
		assert.True(t, found)

		rs.Status = models.StepStatusCompleted
		rs.OutputContext = models.Context{"score": float64(42)}
		rs.CompletedAt = &now
		require.NoError(t, repo.UpdateRunStep(ctx, &rs, models.StepStatusWaitingForTask))

		stored, err := repo.GetRunStep(ctx, rs.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusCompleted, stored.Status)
		assert.Equal(t, float64(42), stored.OutputContext["score"])
		require.NotNil(t, stored.CompletedAt)
		assert.True(t, now.Equal(*stored.CompletedAt))

		runs, err := repo.ListRuns(ctx, tenant, RunFilter{Status: models.RunStatusRunning})
		require.NoError(t, err)
		require.NotEmpty(t, runs)
		for _, r := range runs {
			assert.Equal(t, models.RunStatusRunning, r.Status)
		}

		limited, err := repo.ListRuns(ctx, tenant, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("Transaction rollback", func(t *testing.T) {
		wf, _ := seedWorkflow(t, repo, nil, "tx-"+uuid.New().String()[:8], 1)
		now := time.Now().UTC()
		run := &models.WorkflowRun{
			ID: uuid.New().String(), TenantID: tenant, WorkflowID: wf.ID,
			Status: models.RunStatusPending, CreatedAt: now, UpdatedAt: now,
		}
		boom := errors.New("boom")
		err := repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := repo.CreateRun(ctx, run); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = repo.GetRun(ctx, run.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Agent tasks", func(t *testing.T) {
		task := &models.AgentTask{
			TenantID: tenant,
			AgentID:  "zora_core_agent",
			TaskType: "workflow_step",
			Payload:  models.Context{"step_key": "a"},
		}
		require.NoError(t, repo.CreateTask(ctx, task))
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, models.TaskStatusPending, task.Status)

		task.Status = models.TaskStatusCompleted
		task.Result = models.Context{"ok": true}
		task.UpdatedAt = time.Time{}
		require.NoError(t, repo.UpdateTask(ctx, task))

		got, err := repo.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, got.Status)
		assert.Equal(t, true, got.Result["ok"])
		assert.Equal(t, "a", got.Payload["step_key"])

		missing := &models.AgentTask{ID: uuid.New().String(), Status: models.TaskStatusFailed}
		assert.ErrorIs(t, repo.UpdateTask(ctx, missing), ErrNotFound)
	})
}
