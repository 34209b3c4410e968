package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func TestFindWorkflowByKeyPrefersTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	global := env.register(t, onboardingDef())
	tenantDef := onboardingDef()
	tenantDef.TenantID = "acme"
	tenant := env.register(t, tenantDef)

	found, err := env.svc.FindWorkflowByKey(ctx, "acme", "onboarding_v1")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, found.ID)

	found, err = env.svc.FindWorkflowByKey(ctx, "globex", "onboarding_v1")
	require.NoError(t, err)
	assert.Equal(t, global.ID, found.ID)

	_, err = env.svc.FindWorkflowByKey(ctx, "acme", "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = env.svc.FindWorkflowByKey(ctx, "acme", " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegisterWorkflowVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, onboardingDef())
	assert.Equal(t, 1, first.Version)
	second := env.register(t, onboardingDef())
	assert.Equal(t, 2, second.Version)

	found, err := env.svc.FindWorkflowByKey(ctx, "", "onboarding_v1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	inactive, err := env.svc.ListWorkflows(ctx, "any", repository.WorkflowFilter{Status: "inactive"})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, first.ID, inactive[0].ID)

	_, err = env.svc.ListWorkflows(ctx, "any", repository.WorkflowFilter{Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.svc.RegisterWorkflow(ctx, definitions.Definition{Key: "empty"})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestRegisterWorkflowRejectsBeforeInsert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RegisterWorkflow(ctx, definitions.Definition{Key: "dup_dep", Steps: []definitions.StepDefinition{
		{Key: "A", Type: models.StepTypeNoop},
		{Key: "B", Type: models.StepTypeNoop, DependsOn: []string{"A", "A"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	_, err = env.svc.FindWorkflowByKey(ctx, "", "dup_dep")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	wf, err := env.svc.RegisterWorkflow(ctx, definitions.Definition{Key: "padded", Steps: []definitions.StepDefinition{
		{Key: "A", Type: models.StepTypeNoop},
		{Key: "B ", Type: models.StepTypeNoop, DependsOn: []string{"A"}},
	}})
	require.NoError(t, err)
	steps, err := env.svc.GetSteps(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "B", steps[1].Key)
	edges, err := env.svc.GetEdges(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, steps[1].ID, edges[0].ToStepID)
}

func TestGetStepsAndEdges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wf := env.register(t, fanoutDef())

	steps, err := env.svc.GetSteps(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "A", steps[0].Key)

	edges, err := env.svc.GetEdges(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestCreateWorkflowRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wf := env.register(t, onboardingDef())
	user := "user-1"

	run, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{
		TenantID:    "acme",
		WorkflowKey: "onboarding_v1",
		Context:     models.Context{"customer": "Ada"},
		TriggeredBy: &user,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, wf.ID, run.WorkflowID)
	assert.Equal(t, testNow, run.CreatedAt)
	assert.Nil(t, run.StartedAt)

	view, err := env.svc.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "onboarding_v1", view.Workflow.Key)
	assert.Equal(t, "user-1", *view.Run.TriggeredByUserID)
	for _, step := range view.Steps {
		assert.Equal(t, models.StepStatusPending, step.Status)
		assert.Equal(t, "Ada", step.InputContext["customer"])
	}
	assert.Equal(t, "A", view.Steps[0].StepKey)
	assert.Equal(t, models.StepTypeAgentTask, view.Steps[1].StepType)

	byID, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Equal(t, wf.ID, byID.WorkflowID)

	runs, err := env.svc.ListRuns(ctx, "acme", repository.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestCreateWorkflowRunErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowKey: "nope"})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = env.svc.CreateWorkflowRun(ctx, CreateRunRequest{WorkflowKey: "onboarding_v1"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	private := onboardingDef()
	private.TenantID = "globex"
	wf := env.register(t, private)
	_, err = env.svc.CreateWorkflowRun(ctx, CreateRunRequest{TenantID: "acme", WorkflowID: wf.ID})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	runs, err := env.svc.ListRuns(ctx, "acme", repository.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = env.svc.ListRuns(ctx, "acme", repository.RunFilter{Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.svc.GetRunStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
