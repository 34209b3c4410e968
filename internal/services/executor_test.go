package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func TestStartStepNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, onboardingDef())
	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)

	a := env.stepsByKey(t, run.ID)["A"]
	started, err := env.svc.StartStep(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, started.Status)
	require.NotNil(t, started.StartedAt)
	require.NotNil(t, started.CompletedAt)
	assert.Equal(t, *started.StartedAt, *started.CompletedAt)

	reloaded, err := env.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, reloaded.Status)
	require.NotNil(t, reloaded.StartedAt)

	// A second start of the same step loses.
	_, err = env.svc.StartStep(ctx, a.ID)
	assert.ErrorIs(t, err, ErrStepConflict)

	_, err = env.svc.StartStep(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrRunStepNotFound)
}

func TestStartStepAgentTask(t *testing.T) {
	env := newTestEnv(t, WithDefaultAgent("planner"))
	ctx := context.Background()
	env.register(t, onboardingDef())
	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{
		TenantID:    "acme",
		WorkflowKey: "onboarding_v1",
		Context:     models.Context{"customer": "Ada", "channel": "sms"},
	})
	require.NoError(t, err)

	b := env.stepsByKey(t, run.ID)["B"]
	started, err := env.svc.StartStep(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusWaitingForTask, started.Status)
	require.NotNil(t, started.AgentTaskID)
	assert.Nil(t, started.CompletedAt)

	task, err := env.tasks.GetTask(ctx, *started.AgentTaskID)
	require.NoError(t, err)
	assert.Equal(t, "acme", task.TenantID)
	assert.Equal(t, "planner", task.AgentID)
	assert.Equal(t, DefaultTaskType, task.TaskType)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "Ada", task.Payload["customer"])
	// Step config wins over the run context.
	assert.Equal(t, "email", task.Payload["channel"])
}

func TestStartStepTaskClientFailureLeavesStepPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, onboardingDef())

	tasks := &mockTaskClient{}
	tasks.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *models.AgentTask) bool {
		return task.AgentID == DefaultAgentID && task.TenantID == "acme"
	})).Return(nil, errors.New("task service down")).Once()
	svc := NewWorkflowService(env.repo, tasks, WithClock(func() time.Time { return testNow }))

	run, err := svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)
	b := env.stepsByKey(t, run.ID)["B"]

	_, err = svc.StartStep(ctx, b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task service down")
	tasks.AssertExpectations(t)

	after := env.stepsByKey(t, run.ID)["B"]
	assert.Equal(t, models.StepStatusPending, after.Status)
	assert.Nil(t, after.StartedAt)
}

func TestStartStepAgentTaskSharesTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, onboardingDef())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "onboarding_v1"})
	require.NoError(t, err)
	b := env.stepsByKey(t, run.ID)["B"]

	var taskID string
	rollback := errors.New("rollback")
	err = env.repo.WithinTx(ctx, func(ctx context.Context) error {
		started, err := env.svc.StartStep(ctx, b.ID)
		require.NoError(t, err)
		require.NotNil(t, started.AgentTaskID)
		taskID = *started.AgentTaskID
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	// The store-backed task insert rolled back together with the claim.
	_, err = env.tasks.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	after := env.stepsByKey(t, run.ID)["B"]
	assert.Equal(t, models.StepStatusPending, after.Status)
	assert.Nil(t, after.AgentTaskID)
}

func TestManualStepLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, definitionsManual())

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "review_v1"})
	require.NoError(t, err)
	review := env.stepsByKey(t, run.ID)["review"]

	_, err = env.svc.CompleteStep(ctx, review.ID, nil)
	assert.ErrorIs(t, err, ErrStepConflict)

	started, err := env.svc.StartStep(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, started.Status)
	assert.Nil(t, started.CompletedAt)

	done, err := env.svc.CompleteStep(ctx, review.ID, models.Context{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, done.Status)
	assert.Equal(t, true, done.OutputContext["approved"])

	_, err = env.svc.FailStep(ctx, review.ID, "too late")
	assert.ErrorIs(t, err, ErrStepConflict)

	publish := env.stepsByKey(t, run.ID)["publish"]
	_, err = env.svc.StartStep(ctx, publish.ID)
	require.NoError(t, err)
	failed, err := env.svc.FailStep(ctx, publish.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, failed.Status)
	assert.Equal(t, "step failed", *failed.ErrorMessage)
}

func TestStartStepUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Stored directly: registration would reject the type.
	wf := &models.Workflow{Key: "legacy", Name: "Legacy", Version: 1, IsActive: true, CreatedAt: testNow, UpdatedAt: testNow}
	steps := []models.WorkflowStep{{ID: uuid.New().String(), Key: "hook", StepType: "webhook", CreatedAt: testNow}}
	require.NoError(t, env.repo.CreateWorkflow(ctx, wf, steps, nil))

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "legacy"})
	require.NoError(t, err)
	hook := env.stepsByKey(t, run.ID)["hook"]

	started, err := env.svc.StartStep(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, started.Status)
	assert.Equal(t, "unsupported step type: webhook", *started.ErrorMessage)
	assert.NotNil(t, started.StartedAt)
	assert.NotNil(t, started.CompletedAt)

	final, err := env.svc.AdvanceWorkflow(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)
}
