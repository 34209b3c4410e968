package services

import (
	"context"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// TaskClient is an interface for communicating with the external task subsystem.
type TaskClient interface {
	// CreateTask submits a task and returns it with its assigned ID.
	CreateTask(ctx context.Context, task *models.AgentTask) (*models.AgentTask, error)
	// GetTask returns the task's current state.
	GetTask(ctx context.Context, id string) (*models.AgentTask, error)
}

// Logger is the logging surface the services need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
