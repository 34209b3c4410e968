package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// TenantHeader carries the calling tenant on every tenant-scoped operation.
const TenantHeader = "X-Tenant-ID"

// ListWorkflowsParams defines parameters for ListWorkflows.
type ListWorkflowsParams struct {
	XTenantID string
	Status    *string
	Limit     *int
}

// ListRunsParams defines parameters for ListRuns.
type ListRunsParams struct {
	XTenantID string
	Status    *string
	Limit     *int
}

// TenantParams is the header-only parameter set shared by the remaining operations.
type TenantParams struct {
	XTenantID string
}

// ServerInterface represents all server handlers described by openapi.yaml.
type ServerInterface interface {
	// (GET /workflows)
	ListWorkflows(ctx echo.Context, params ListWorkflowsParams) error
	// (POST /workflows)
	RegisterWorkflow(ctx echo.Context, params TenantParams) error
	// (GET /workflows/{key})
	GetWorkflow(ctx echo.Context, key string, params TenantParams) error
	// (GET /runs)
	ListRuns(ctx echo.Context, params ListRunsParams) error
	// (POST /runs)
	CreateRun(ctx echo.Context, params TenantParams) error
	// (GET /runs/{runId})
	GetRun(ctx echo.Context, runID string, params TenantParams) error
	// (POST /runs/{runId}/advance)
	AdvanceRun(ctx echo.Context, runID string, params TenantParams) error
	// (POST /runs/{runId}/cancel)
	CancelRun(ctx echo.Context, runID string, params TenantParams) error
	// (GET /runs/{runId}/runnable)
	ListRunnableSteps(ctx echo.Context, runID string, params TenantParams) error
	// (POST /steps/{runStepId}/complete)
	CompleteStep(ctx echo.Context, runStepID string, params TenantParams) error
	// (POST /steps/{runStepId}/fail)
	FailStep(ctx echo.Context, runStepID string, params TenantParams) error
	// (POST /sync)
	SyncTenant(ctx echo.Context, params TenantParams) error
	// (POST /tasks/{taskId}/events)
	PostTaskEvent(ctx echo.Context, taskID string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindTenant(ctx echo.Context) (string, error) {
	valueList, found := ctx.Request().Header[http.CanonicalHeaderKey(TenantHeader)]
	if !found {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Header parameter %s is required, but not found", TenantHeader))
	}
	if n := len(valueList); n != 1 {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Expected one value for %s, got %d", TenantHeader, n))
	}
	var tenantID string
	err := runtime.BindStyledParameterWithOptions("simple", TenantHeader, valueList[0], &tenantID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationHeader, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", TenantHeader, err))
	}
	if tenantID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Header parameter %s must not be empty", TenantHeader))
	}
	return tenantID, nil
}

func bindPath(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

func bindListQuery(ctx echo.Context, status **string, limit **int) error {
	if err := runtime.BindQueryParameter("form", true, false, "status", ctx.QueryParams(), status); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter status: %s", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}
	return nil
}

// ListWorkflows converts echo context to params.
func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	var params ListWorkflowsParams
	var err error
	if params.XTenantID, err = bindTenant(ctx); err != nil {
		return err
	}
	if err := bindListQuery(ctx, &params.Status, &params.Limit); err != nil {
		return err
	}
	return w.Handler.ListWorkflows(ctx, params)
}

// RegisterWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) RegisterWorkflow(ctx echo.Context) error {
	tenantID, err := bindTenant(ctx)
	if err != nil {
		return err
	}
	return w.Handler.RegisterWorkflow(ctx, TenantParams{XTenantID: tenantID})
}

// GetWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflow(ctx echo.Context) error {
	key, err := bindPath(ctx, "key")
	if err != nil {
		return err
	}
	tenantID, err := bindTenant(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetWorkflow(ctx, key, TenantParams{XTenantID: tenantID})
}

// ListRuns converts echo context to params.
func (w *ServerInterfaceWrapper) ListRuns(ctx echo.Context) error {
	var params ListRunsParams
	var err error
	if params.XTenantID, err = bindTenant(ctx); err != nil {
		return err
	}
	if err := bindListQuery(ctx, &params.Status, &params.Limit); err != nil {
		return err
	}
	return w.Handler.ListRuns(ctx, params)
}

// CreateRun converts echo context to params.
func (w *ServerInterfaceWrapper) CreateRun(ctx echo.Context) error {
	tenantID, err := bindTenant(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CreateRun(ctx, TenantParams{XTenantID: tenantID})
}

// runOperation binds the runId path parameter and the tenant header.
func (w *ServerInterfaceWrapper) runOperation(op func(echo.Context, string, TenantParams) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		runID, err := bindPath(ctx, "runId")
		if err != nil {
			return err
		}
		tenantID, err := bindTenant(ctx)
		if err != nil {
			return err
		}
		return op(ctx, runID, TenantParams{XTenantID: tenantID})
	}
}

// stepOperation binds the runStepId path parameter and the tenant header.
func (w *ServerInterfaceWrapper) stepOperation(op func(echo.Context, string, TenantParams) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		runStepID, err := bindPath(ctx, "runStepId")
		if err != nil {
			return err
		}
		tenantID, err := bindTenant(ctx)
		if err != nil {
			return err
		}
		return op(ctx, runStepID, TenantParams{XTenantID: tenantID})
	}
}

// SyncTenant converts echo context to params.
func (w *ServerInterfaceWrapper) SyncTenant(ctx echo.Context) error {
	tenantID, err := bindTenant(ctx)
	if err != nil {
		return err
	}
	return w.Handler.SyncTenant(ctx, TenantParams{XTenantID: tenantID})
}

// PostTaskEvent converts echo context to params.
func (w *ServerInterfaceWrapper) PostTaskEvent(ctx echo.Context) error {
	taskID, err := bindPath(ctx, "taskId")
	if err != nil {
		return err
	}
	return w.Handler.PostTaskEvent(ctx, taskID)
}

// EchoRouter is the subset of echo.Echo and echo.Group used to register routes.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, and prepends BaseURL to the paths.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/workflows", wrapper.ListWorkflows)
	router.POST(baseURL+"/workflows", wrapper.RegisterWorkflow)
	router.GET(baseURL+"/workflows/:key", wrapper.GetWorkflow)
	router.GET(baseURL+"/runs", wrapper.ListRuns)
	router.POST(baseURL+"/runs", wrapper.CreateRun)
	router.GET(baseURL+"/runs/:runId", wrapper.runOperation(si.GetRun))
	router.POST(baseURL+"/runs/:runId/advance", wrapper.runOperation(si.AdvanceRun))
	router.POST(baseURL+"/runs/:runId/cancel", wrapper.runOperation(si.CancelRun))
	router.GET(baseURL+"/runs/:runId/runnable", wrapper.runOperation(si.ListRunnableSteps))
	router.POST(baseURL+"/steps/:runStepId/complete", wrapper.stepOperation(si.CompleteStep))
	router.POST(baseURL+"/steps/:runStepId/fail", wrapper.stepOperation(si.FailStep))
	router.POST(baseURL+"/sync", wrapper.SyncTenant)
	router.POST(baseURL+"/tasks/:taskId/events", wrapper.PostTaskEvent)
}
