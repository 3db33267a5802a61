package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/logger"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the sync scheduler",
	Long: `Runs the scheduler in the foreground. Due targets are synced by a
bounded worker pool, staging retention and identity governance run on
their own intervals, and edits to the config file are applied without a
restart. Stops on SIGINT or SIGTERM after running tasks finish.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if store := configStore; store != nil {
		sched := scheduler
		go func() {
			err := store.Watch(ctx, func(cfg domain.Config) {
				if err := sched.Reload(ctx, cfg); err != nil {
					logger.Warn("config reload failed", "error", err)
					return
				}
				logger.Debug("scheduler reloaded", "sources", len(cfg.Sources))
			})
			if err != nil {
				logger.Warn("config watch stopped", "path", store.Path(), "error", err)
			}
		}()
	}

	cmd.Println("Scheduler running. Press Ctrl+C to stop.")

	if err := scheduler.Start(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := scheduler.Stop(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	cmd.Println("Scheduler stopped.")
	return nil
}
