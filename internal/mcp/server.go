// Package mcp exposes workflow run operations as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

const (
	serverName    = "ZORA Workflows"
	serverVersion = "1.0.0"
)

type Server struct {
	mcpServer *server.MCPServer
	svc       *services.WorkflowService
}

// CreateRunInput is the argument set of create_workflow_run.
type CreateRunInput struct {
	TenantID    string         `json:"tenant_id"`
	WorkflowKey string         `json:"workflow_key"`
	Context     models.Context `json:"context"`
	AutoAdvance bool           `json:"auto_advance"`
}

// RunInput is the argument set of the run-scoped tools.
type RunInput struct {
	RunID string `json:"run_id"`
}

// SyncInput is the argument set of sync_workflow_steps.
type SyncInput struct {
	TenantID string `json:"tenant_id"`
}

func NewServer(svc *services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
		),
		svc: svc,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow_run",
			mcp.WithDescription("Create a workflow run for a tenant from the active workflow with the given key"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant that owns the run")),
			mcp.WithString("workflow_key", mcp.Required(), mcp.Description("Key of the workflow template")),
			mcp.WithObject("context", mcp.Description("Initial run context copied into every step")),
			mcp.WithBoolean("auto_advance", mcp.Description("Advance the run once after creating it")),
		),
		s.handleCreateRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_workflow_run",
			mcp.WithDescription("Start every runnable step of a run and finalize it when all steps are done"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the run")),
		),
		s.handleAdvanceRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_run",
			mcp.WithDescription("Get a run with its steps in template order"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The ID of the run")),
		),
		s.handleGetRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"sync_workflow_steps",
			mcp.WithDescription("Copy finished agent task results onto waiting steps and advance their runs"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant to reconcile")),
		),
		s.handleSync,
	)
}

func (s *Server) handleCreateRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input CreateRunInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("Invalid arguments", err), nil
	}
	if input.TenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	if input.WorkflowKey == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_key"), nil
	}

	run, err := s.svc.CreateWorkflowRun(ctx, services.CreateRunRequest{
		TenantID:    input.TenantID,
		WorkflowKey: input.WorkflowKey,
		Context:     input.Context,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create run: %v", err)), nil
	}
	if input.AutoAdvance {
		if _, err := s.svc.AdvanceWorkflow(ctx, run.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Run %s created but advance failed: %v", run.ID, err)), nil
		}
		return s.runStatus(ctx, run.ID)
	}
	return jsonResult(run)
}

func (s *Server) handleAdvanceRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, errResult := runIDArgument(request)
	if errResult != nil {
		return errResult, nil
	}
	if _, err := s.svc.AdvanceWorkflow(ctx, runID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to advance run: %v", err)), nil
	}
	return s.runStatus(ctx, runID)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, errResult := runIDArgument(request)
	if errResult != nil {
		return errResult, nil
	}
	return s.runStatus(ctx, runID)
}

func (s *Server) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input SyncInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("Invalid arguments", err), nil
	}
	if input.TenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	result, err := s.svc.SyncWorkflowStepsFromTasks(ctx, input.TenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sync: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) runStatus(ctx context.Context, runID string) (*mcp.CallToolResult, error) {
	view, err := s.svc.GetRunStatus(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
	}
	return jsonResult(view)
}

func runIDArgument(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	var input RunInput
	if err := request.BindArguments(&input); err != nil {
		return "", mcp.NewToolResultErrorFromErr("Invalid arguments", err)
	}
	if input.RunID == "" {
		return "", mcp.NewToolResultError("Missing required parameter: run_id")
	}
	return input.RunID, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
