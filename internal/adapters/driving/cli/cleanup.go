package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old staging records",
	Long: `Deletes staged payloads older than the retention window. The window
defaults to retention.days from the config file; 0 keeps everything.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVarP(&cleanupDays, "days", "d", -1, "retention window in days (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	if retentionManager == nil {
		return errors.New("retention service not configured")
	}

	days := cleanupDays
	if days < 0 {
		days = 0
		if appConfig != nil {
			days = appConfig.Retention.Days
		}
	}
	if days <= 0 {
		cmd.Println("Retention disabled, nothing to delete.")
		return nil
	}

	deleted, err := retentionManager.Cleanup(cmd.Context(), days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	cmd.Printf("Deleted %d staging records older than %d days.\n", deleted, days)
	return nil
}
