package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func TestOnboardingScenario(t *testing.T) {
	env := newTestEnv(t, WithClock(tickingClock()))
	ctx := context.Background()
	env.register(t, onboardingDef())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)
	steps := env.stepsByKey(t, run.ID)
	require.Len(t, steps, 2)

	advanced, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, advanced.Status)

	steps = env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusCompleted, steps["A"].Status)
	assert.Equal(t, models.StepStatusWaitingForTask, steps["B"].Status)
	taskID := *steps["B"].AgentTaskID

	// Nothing new to do while B waits.
	again, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, advanced.Status, again.Status)
	assert.Equal(t, advanced.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, steps, env.stepsByKey(t, run.ID))

	// A sync before the task settles changes nothing.
	result, err := env.svc.SyncWorkflowStepsFromTasks(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.AdvancedRuns)

	_, err = env.tasks.CompleteTask(ctx, taskID, models.Context{"sent": true})
	require.NoError(t, err)

	result, err = env.svc.SyncWorkflowStepsFromTasks(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, []string{run.ID}, result.AdvancedRuns)
	assert.Empty(t, result.Errors)

	steps = env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusCompleted, steps["B"].Status)
	assert.Equal(t, true, steps["B"].OutputContext["sent"])

	final, err := env.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	// Terminal runs are sticky.
	sticky, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, final, sticky)
}

func TestFanoutScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, fanoutDef())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "fanout_v1"})
	require.NoError(t, err)

	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	steps := env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusCompleted, steps["A"].Status)
	assert.Equal(t, models.StepStatusWaitingForTask, steps["B"].Status)
	assert.Equal(t, models.StepStatusWaitingForTask, steps["C"].Status)
	assert.NotEqual(t, *steps["B"].AgentTaskID, *steps["C"].AgentTaskID)

	runnable, err := env.svc.GetNextRunnableSteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, runnable)
}

func TestDAGFailurePropagation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, definitions.Definition{
		Key: "chain_v1",
		Steps: []definitions.StepDefinition{
			{Key: "fetch", Type: models.StepTypeAgentTask},
			{Key: "side", Type: models.StepTypeAgentTask},
			{Key: "transform", Type: models.StepTypeNoop, DependsOn: []string{"fetch"}},
			{Key: "load", Type: models.StepTypeNoop, DependsOn: []string{"transform", "side"}},
		},
	})

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "chain_v1"})
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	steps := env.stepsByKey(t, run.ID)
	_, err = env.tasks.FailTask(ctx, *steps["fetch"].AgentTaskID, "upstream unavailable")
	require.NoError(t, err)

	rs, advanced, err := env.svc.ReconcileTask(ctx, *steps["fetch"].AgentTaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, rs.Status)
	assert.Equal(t, "upstream unavailable", *rs.ErrorMessage)
	// side is still waiting.
	assert.Equal(t, models.RunStatusRunning, advanced.Status)

	steps = env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusSkipped, steps["transform"].Status)
	assert.Equal(t, models.StepStatusSkipped, steps["load"].Status)
	assert.Contains(t, *steps["load"].ErrorMessage, "fetch")

	_, err = env.tasks.CompleteTask(ctx, *steps["side"].AgentTaskID, nil)
	require.NoError(t, err)
	_, final, err := env.svc.ReconcileTask(ctx, *steps["side"].AgentTaskID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.NotNil(t, final.ErrorMessage)
}

func TestLinearFailureFinishesRunFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, onboardingDef())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	taskID := *env.stepsByKey(t, run.ID)["B"].AgentTaskID
	_, err = env.tasks.FailTask(ctx, taskID, "bounced")
	require.NoError(t, err)

	result, err := env.svc.SyncWorkflowStepsFromTasks(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	final, err := env.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)

	// Duplicate signals are benign.
	rs, err := env.svc.UpdateStepFromTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, rs.Status)
}

func TestUpdateStepFromUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	rs, err := env.svc.UpdateStepFromTask(context.Background(), "no-such-task")
	assert.NoError(t, err)
	assert.Nil(t, rs)

	rs, run, err := env.svc.ReconcileTask(context.Background(), "no-such-task")
	assert.NoError(t, err)
	assert.Nil(t, rs)
	assert.Nil(t, run)
}

func TestAdvanceUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.AdvanceWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runnable, err := env.svc.GetNextRunnableSteps(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Empty(t, runnable)
}

func TestCancelWorkflowRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, definitionsManual())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "review_v1"})
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	canceled, err := env.svc.CancelWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CompletedAt)

	steps := env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusRunning, steps["review"].Status)
	assert.Equal(t, models.StepStatusSkipped, steps["publish"].Status)

	_, err = env.svc.CancelWorkflowRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunTerminal)

	_, err = env.svc.CompleteStep(ctx, steps["review"].ID, nil)
	assert.ErrorIs(t, err, ErrRunTerminal)

	after, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCanceled, after.Status)
}

func TestManualStepsAdvanceThroughCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, definitionsManual())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "review_v1"})
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	steps := env.stepsByKey(t, run.ID)
	assert.Equal(t, models.StepStatusRunning, steps["review"].Status)
	assert.Equal(t, models.StepStatusPending, steps["publish"].Status)

	_, err = env.svc.CompleteStep(ctx, steps["review"].ID, nil)
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)

	steps = env.stepsByKey(t, run.ID)
	_, err = env.svc.CompleteStep(ctx, steps["publish"].ID, nil)
	require.NoError(t, err)
	final, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
}

func TestSyncAllTenants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, onboardingDef())

	for _, tenant := range []string{"acme", "globex"} {
		run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: tenant, WorkflowKey: "onboarding_v1"})
		require.NoError(t, err)
		_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
		require.NoError(t, err)
		_, err = env.tasks.CompleteTask(ctx, *env.stepsByKey(t, run.ID)["B"].AgentTaskID, nil)
		require.NoError(t, err)
	}

	results, err := env.svc.SyncAllTenants(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, 1, result.Updated)
		assert.Len(t, result.AdvancedRuns, 1)
	}

	// No active runs remain.
	results, err = env.svc.SyncAllTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = env.svc.SyncWorkflowStepsFromTasks(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRunSyncLoop(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.register(t, onboardingDef())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)
	_, err = env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	_, err = env.tasks.CompleteTask(ctx, *env.stepsByKey(t, run.ID)["B"].AgentTaskID, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- env.svc.RunSyncLoop(ctx, 10*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		current, err := env.svc.GetRun(context.Background(), run.ID)
		return err == nil && current.Status == models.RunStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.ErrorIs(t, env.svc.RunSyncLoop(context.Background(), 0), ErrInvalidArgument)
}
