package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// tickingClock returns a clock that moves forward one second per call, so any
// extra write shows up as a changed timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type testEnv struct {
	svc   *WorkflowService
	repo  *repository.SQLiteStore
	tasks *StoreTaskClient
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	repo, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))

	tasks := NewStoreTaskClient(repo)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return &testEnv{
		svc:   NewWorkflowService(repo, tasks, opts...),
		repo:  repo,
		tasks: tasks,
	}
}

func (e *testEnv) register(t *testing.T, def definitions.Definition) *models.Workflow {
	t.Helper()
	wf, err := e.svc.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)
	return wf
}

func onboardingDef() definitions.Definition {
	return definitions.Definition{
		Key:  "onboarding_v1",
		Name: "Onboarding",
		Steps: []definitions.StepDefinition{
			{Key: "A", Type: models.StepTypeNoop},
			{Key: "B", Type: models.StepTypeAgentTask, Config: models.Context{"channel": "email"}},
		},
	}
}

func fanoutDef() definitions.Definition {
	return definitions.Definition{
		Key:  "fanout_v1",
		Name: "Fan-out",
		Steps: []definitions.StepDefinition{
			{Key: "A", Type: models.StepTypeNoop},
			{Key: "B", Type: models.StepTypeAgentTask, DependsOn: []string{"A"}},
			{Key: "C", Type: models.StepTypeAgentTask, DependsOn: []string{"A"}},
		},
	}
}

// stepsByKey returns the run's steps keyed by template step key.
func (e *testEnv) stepsByKey(t *testing.T, runID string) map[string]models.RunStepView {
	t.Helper()
	view, err := e.svc.GetRunStatus(context.Background(), runID)
	require.NoError(t, err)
	out := make(map[string]models.RunStepView, len(view.Steps))
	for _, step := range view.Steps {
		out[step.StepKey] = step
	}
	return out
}

type mockTaskClient struct {
	mock.Mock
}

func (m *mockTaskClient) CreateTask(ctx context.Context, task *models.AgentTask) (*models.AgentTask, error) {
	args := m.Called(ctx, task)
	created, _ := args.Get(0).(*models.AgentTask)
	return created, args.Error(1)
}

func (m *mockTaskClient) GetTask(ctx context.Context, id string) (*models.AgentTask, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*models.AgentTask)
	return task, args.Error(1)
}

func definitionsManual() definitions.Definition {
	return definitions.Definition{
		Key:  "review_v1",
		Name: "Review",
		Steps: []definitions.StepDefinition{
			{Key: "review", Type: models.StepTypeManual},
			{Key: "publish", Type: models.StepTypeManual},
		},
	}
}
