// Package app wires configuration into a ready workflow service.
package app

import (
	"context"
	"fmt"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/config"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/logging"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
)

// App holds the storage, task client and service built from one Config.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Repo    repository.Repository
	Tasks   services.TaskClient
	Service *services.WorkflowService
	// Store is set when tasks live in the workflow database.
	Store *services.StoreTaskClient
}

// New opens the configured database and builds the service. SQLite databases are
// migrated on open; Postgres schemas are managed with an explicit migrate step.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	repo, err := repository.Open(ctx, repository.Options{
		Driver: cfg.DB.Driver,
		DSN:    cfg.PostgresDSN(),
		Path:   cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DB.Driver == "sqlite" {
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	a := &App{Config: cfg, Logger: logger, Repo: repo}
	switch cfg.Tasks.Backend {
	case "http":
		a.Tasks = services.NewHTTPTaskClient(cfg.Tasks.URL, cfg.Tasks.Timeout)
	default:
		a.Store = services.NewStoreTaskClient(repo)
		a.Tasks = a.Store
	}

	a.Service = services.NewWorkflowService(repo, a.Tasks,
		services.WithLogger(logger),
		services.WithDefaultAgent(cfg.Engine.DefaultAgent),
		services.WithDefaultTaskType(cfg.Engine.DefaultTaskType),
	)
	logger.Debug("application wired", "db_driver", cfg.DB.Driver, "tasks_backend", cfg.Tasks.Backend)
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a == nil || a.Repo == nil {
		return nil
	}
	return a.Repo.Close()
}
