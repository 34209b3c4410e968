package main

import (
	"context"
	"flag"
	"log"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/app"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/config"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/logging"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to config file")
	dir := flag.String("dir", definitions.DefaultDir, "Directory of workflow definitions")
	tenant := flag.String("tenant", "", "Register for this tenant instead of globally")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer a.Close()

	if err := a.Repo.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	defs, err := definitions.LoadDir(*dir)
	if err != nil {
		log.Fatalf("Failed to load definitions: %v", err)
	}

	// Skip keys that already have an active version in this scope.
	existing, err := a.Service.ListWorkflows(ctx, *tenant, repository.WorkflowFilter{Status: "active"})
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	existingMap := make(map[string]bool)
	for _, w := range existing {
		if w.IsGlobal() == (*tenant == "") {
			existingMap[w.Key] = true
		}
	}

	for _, def := range defs {
		if existingMap[def.Key] {
			logger.Info("Skipping existing workflow", "key", def.Key)
			continue
		}
		if *tenant != "" {
			def.TenantID = *tenant
		}
		wf, err := a.Service.RegisterWorkflow(ctx, def)
		if err != nil {
			log.Printf("Failed to register workflow %s: %v", def.Key, err)
			continue
		}
		logger.Info("Seeded workflow", "key", wf.Key, "version", wf.Version, "id", wf.ID)
	}
	logger.Info("Seeding complete!")
}
