package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

var replayKinds []string

var replayCmd = &cobra.Command{
	Use:   "replay <source> <entity-id>",
	Short: "Re-transform staged payloads",
	Long: `Re-runs the transform stages over the payloads already staged for a
target without contacting its source. Use after a normaliser fix to rebuild
the warehouse rows from the staging log.`,
	Args: cobra.ExactArgs(2),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringSliceVarP(&replayKinds, "kind", "k", nil, "entity kinds to replay (default all)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}

	kinds := make([]domain.EntityKind, 0, len(replayKinds))
	for _, k := range replayKinds {
		kind := domain.EntityKind(k)
		if !kind.IsValid() {
			return fmt.Errorf("%w: entity kind %q", domain.ErrUnsupportedType, k)
		}
		kinds = append(kinds, kind)
	}

	source, entityID := args[0], args[1]
	cmd.Printf("Replaying %s %s...\n", source, entityID)

	log, err := syncOrchestrator.Replay(cmd.Context(), source, entityID, kinds)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	printSyncLog(cmd, log)
	return nil
}
