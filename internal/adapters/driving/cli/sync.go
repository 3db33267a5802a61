package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
)

// progressInterval is how often a foreground sync reports progress.
var progressInterval = 500 * time.Millisecond

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync <source> <entity-id>",
	Short: "Synchronise one source entity",
	Long: `Runs a sync task for one tracked source entity in the foreground.
The entity is a GitLab project path, a GitHub owner/repo, a Jira project key
or a Jenkins job name. The sync is incremental from the target's watermark
unless --full is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "ignore the watermark and sync everything")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if scheduler == nil {
		return errors.New("sync service not configured")
	}

	source, entityID := args[0], args[1]
	job := domain.JobIncremental
	if syncFull {
		job = domain.JobFull
	}

	cmd.Printf("Synchronising %s %s (%s)...\n", source, entityID, job)

	log, err := syncWithProgress(cmd.Context(), cmd, source, entityID, job)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	printSyncLog(cmd, log)
	return nil
}

// syncWithProgress runs the sync while displaying progress updates.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	source, entityID string,
	job domain.JobType,
) (*domain.SyncLog, error) {
	type result struct {
		log *domain.SyncLog
		err error
	}

	// Start sync in goroutine
	resCh := make(chan result, 1)
	sched := scheduler
	go func() {
		log, err := sched.RunTarget(ctx, source, entityID, job)
		resCh <- result{log: log, err: err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case res := <-resCh:
			if lastCount > 0 {
				cmd.Println()
			}
			return res.log, res.err
		case <-ticker.C:
			p := progress(syncOrchestrator, source, entityID)
			if p != nil && p.Records > lastCount {
				cmd.Printf("\rProcessing %s... %d records", p.Kind, p.Records)
				lastCount = p.Records
			}
		}
	}
}

func progress(orch driving.SyncOrchestrator, source, entityID string) *domain.SyncProgress {
	if orch == nil {
		return nil
	}
	return orch.Status(source, entityID)
}

func printSyncLog(cmd *cobra.Command, log *domain.SyncLog) {
	if log == nil {
		return
	}
	cmd.Printf("%s %s/%s: %d records, %d errors in %s\n",
		log.Status, log.Source, log.EntityID, log.RecordsProcessed, log.ErrorCount,
		log.FinishedAt.Sub(log.StartedAt).Round(time.Millisecond))
	if log.Error != "" {
		cmd.Printf("Error: %s\n", log.Error)
	}
}
