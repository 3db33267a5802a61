package main

import (
	"errors"
	"fmt"

	"github.com/custodia-labs/trellis/internal/adapters/driven/auth"
	"github.com/custodia-labs/trellis/internal/adapters/driven/config/file"
	"github.com/custodia-labs/trellis/internal/adapters/driven/storage/sqlstore"
	"github.com/custodia-labs/trellis/internal/adapters/driving/cli"
	githubconn "github.com/custodia-labs/trellis/internal/connectors/github"
	gitlabconn "github.com/custodia-labs/trellis/internal/connectors/gitlab"
	jenkinsconn "github.com/custodia-labs/trellis/internal/connectors/jenkins"
	jiraconn "github.com/custodia-labs/trellis/internal/connectors/jira"
	"github.com/custodia-labs/trellis/internal/core/services"
	"github.com/custodia-labs/trellis/internal/logger"
	githubnorm "github.com/custodia-labs/trellis/internal/normalisers/github"
	gitlabnorm "github.com/custodia-labs/trellis/internal/normalisers/gitlab"
	jenkinsnorm "github.com/custodia-labs/trellis/internal/normalisers/jenkins"
	jiranorm "github.com/custodia-labs/trellis/internal/normalisers/jira"
)

// bootstrap loads the configuration, opens the warehouse and builds the
// core services.
func bootstrap(configPath string) (*cli.Services, error) {
	store, err := file.NewConfigStore(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", store.Path(), err)
	}
	logger.Debug("config loaded", "path", store.Path(), "sources", len(cfg.Sources))

	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}

	warehouse, err := sqlstore.Open(cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	logger.Debug("warehouse opened", "driver", cfg.Warehouse.Driver, "path", warehouse.Path())

	syncOrch := services.NewSyncOrchestrator(services.SyncStores{
		Targets:    warehouse,
		Logs:       warehouse,
		Staging:    warehouse,
		Identities: warehouse,
		UnitOfWork: warehouse,
	}, registry, auth.NewFactory(), *cfg)

	retention := services.NewRetentionService(warehouse)
	governance := services.NewGovernanceService(warehouse, warehouse, services.NewVersionService(warehouse), cfg.Identity)
	scheduler := services.NewScheduler(*cfg, warehouse, warehouse.SchedulerStore(), syncOrch, retention, governance)

	return &cli.Services{
		Config:      cfg,
		ConfigStore: store,
		Scheduler:   scheduler,
		Sync:        syncOrch,
		Retention:   retention,
		Governance:  governance,
		Status:      services.NewStatusService(warehouse, warehouse, warehouse),
		Close:       warehouse.Close,
	}, nil
}

// newRegistry registers the built-in sources.
func newRegistry() (*services.SourceRegistry, error) {
	registry := services.NewSourceRegistry()
	err := errors.Join(
		registry.Register(gitlabconn.SourceTag, services.SourceVariant{Build: gitlabconn.New, Normaliser: gitlabnorm.New()}),
		registry.Register(githubconn.SourceTag, services.SourceVariant{Build: githubconn.New, Normaliser: githubnorm.New()}),
		registry.Register(jiraconn.SourceTag, services.SourceVariant{Build: jiraconn.New, Normaliser: jiranorm.New()}),
		registry.Register(jenkinsconn.SourceTag, services.SourceVariant{Build: jenkinsconn.New, Normaliser: jenkinsnorm.New()}),
	)
	if err != nil {
		return nil, fmt.Errorf("register sources: %w", err)
	}
	return registry, nil
}
