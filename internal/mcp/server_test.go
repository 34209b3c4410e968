package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *services.StoreTaskClient) {
	t.Helper()
	repo, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate(context.Background()))

	tasks := services.NewStoreTaskClient(repo)
	svc := services.NewWorkflowService(repo, tasks)
	_, err = svc.RegisterWorkflow(context.Background(), definitions.Definition{
		Key: "onboarding_v1",
		Steps: []definitions.StepDefinition{
			{Key: "A", Type: models.StepTypeNoop},
			{Key: "B", Type: models.StepTypeAgentTask},
		},
	})
	require.NoError(t, err)
	return NewServer(svc), tasks
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServerRegistersTools(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.GetMCPServer())
	tools := s.GetMCPServer().ListTools()
	for _, name := range []string{"create_workflow_run", "advance_workflow_run", "get_workflow_run", "sync_workflow_steps"} {
		assert.Contains(t, tools, name)
	}
}

func TestRunToolsDriveAWorkflow(t *testing.T) {
	s, tasks := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreateRun(ctx, callTool("create_workflow_run", map[string]any{
		"tenant_id":    "acme",
		"workflow_key": "onboarding_v1",
		"context":      map[string]any{"user": "u1"},
		"auto_advance": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var view models.RunStatusView
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &view))
	assert.Equal(t, models.RunStatusRunning, view.Run.Status)
	require.Len(t, view.Steps, 2)
	require.NotNil(t, view.Steps[1].AgentTaskID)

	_, err = tasks.CompleteTask(ctx, *view.Steps[1].AgentTaskID, nil)
	require.NoError(t, err)

	result, err = s.handleSync(ctx, callTool("sync_workflow_steps", map[string]any{"tenant_id": "acme"}))
	require.NoError(t, err)
	var sync services.SyncResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &sync))
	assert.Equal(t, 1, sync.Updated)

	result, err = s.handleGetRun(ctx, callTool("get_workflow_run", map[string]any{"run_id": view.Run.ID}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &view))
	assert.Equal(t, models.RunStatusCompleted, view.Run.Status)

	result, err = s.handleAdvanceRun(ctx, callTool("advance_workflow_run", map[string]any{"run_id": view.Run.ID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestToolArgumentErrors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (*mcp.CallToolResult, error)
	}{
		{"create without tenant", func() (*mcp.CallToolResult, error) {
			return s.handleCreateRun(ctx, callTool("create_workflow_run", map[string]any{"workflow_key": "onboarding_v1"}))
		}},
		{"create unknown workflow", func() (*mcp.CallToolResult, error) {
			return s.handleCreateRun(ctx, callTool("create_workflow_run", map[string]any{"tenant_id": "acme", "workflow_key": "nope"}))
		}},
		{"advance without run", func() (*mcp.CallToolResult, error) {
			return s.handleAdvanceRun(ctx, callTool("advance_workflow_run", map[string]any{}))
		}},
		{"get unknown run", func() (*mcp.CallToolResult, error) {
			return s.handleGetRun(ctx, callTool("get_workflow_run", map[string]any{"run_id": "missing"}))
		}},
		{"sync without tenant", func() (*mcp.CallToolResult, error) {
			return s.handleSync(ctx, callTool("sync_workflow_steps", map[string]any{}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.call()
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.IsError)
		})
	}
}
