// Package api contains the HTTP handlers for the workflow service
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Handler serves the operational endpoints outside /api/v1.
type Handler struct {
	repo repository.Repository
	now  func() time.Time
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(repo repository.Repository) *Handler {
	return &Handler{repo: repo, now: time.Now}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
}

// HandleHealth reports service and database health. A failed ping answers 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Service:   "zora-workflows",
		Version:   Version,
		Database:  "ok",
	}
	code := http.StatusOK
	if err := h.repo.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Database = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrWorkflowNotFound),
		errors.Is(err, services.ErrRunNotFound),
		errors.Is(err, services.ErrRunStepNotFound),
		errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRunTerminal),
		errors.Is(err, services.ErrStepConflict),
		errors.Is(err, services.ErrTaskSettled),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidArgument),
		errors.Is(err, services.ErrInvalidDefinition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as an RFC 7807 Problem Details body.
func ErrorHandler(logger services.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := statusFor(err)
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				detail = msg
			} else {
				detail = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}
		if writeErr := writeError(c, status, http.StatusText(status), detail); writeErr != nil {
			logger.Error("write error response", "error", writeErr)
		}
	}
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, title, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(problem)
}
