// Package cli provides the trellis command line interface built on cobra.
// Services are injected by cmd/trellis through a Bootstrap function that
// runs before any command needing them.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
	"github.com/custodia-labs/trellis/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services are the core services the commands drive.
type Services struct {
	Config      *domain.Config
	ConfigStore driven.ConfigStore
	Scheduler   driving.Scheduler
	Sync        driving.SyncOrchestrator
	Retention   driving.RetentionManager
	Governance  driving.IdentityGovernance
	Status      driving.StatusService

	// Close releases the warehouse connection.
	Close func() error
}

// Bootstrap builds the services for a configuration file path.
type Bootstrap func(configPath string) (*Services, error)

var (
	bootstrap  Bootstrap
	configPath string
	verbose    bool

	appConfig        *domain.Config
	configStore      driven.ConfigStore
	scheduler        driving.Scheduler
	syncOrchestrator driving.SyncOrchestrator
	retentionManager driving.RetentionManager
	governance       driving.IdentityGovernance
	statusService    driving.StatusService
	closeServices    func() error
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Engineering activity ETL",
	Long: `trellis pulls engineering activity from GitLab, GitHub, Jira and Jenkins
into a SQL warehouse, links commits, merge requests and issues, and resolves
the people behind them to a single identity.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.trellis/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetServices injects services directly, bypassing Bootstrap.
func SetServices(s *Services) {
	appConfig = s.Config
	configStore = s.ConfigStore
	scheduler = s.Scheduler
	syncOrchestrator = s.Sync
	retentionManager = s.Retention
	governance = s.Governance
	statusService = s.Status
	closeServices = s.Close
}

// Execute runs the root command.
func Execute(ctx context.Context, b Bootstrap) error {
	bootstrap = b
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if cmd == versionCmd || bootstrap == nil {
		return nil
	}
	s, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	SetServices(s)
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if closeServices == nil {
		return nil
	}
	err := closeServices()
	closeServices = nil
	return err
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}
