package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var governanceCmd = &cobra.Command{
	Use:   "governance",
	Short: "Re-score identity mappings",
	Long: `Seeds the configured people roster, then re-scores every unverified
identity mapping against the global users and repoints mappings that now
match a different person better. Ties are recorded as conflicts and left
unchanged.`,
	Args: cobra.NoArgs,
	RunE: runGovernance,
}

func init() {
	rootCmd.AddCommand(governanceCmd)
}

func runGovernance(cmd *cobra.Command, _ []string) error {
	if governance == nil {
		return errors.New("governance service not configured")
	}

	report, err := governance.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("governance failed: %w", err)
	}

	cmd.Printf("Scanned:              %d\n", report.Scanned)
	cmd.Printf("Repointed (verified): %d\n", report.Verified)
	cmd.Printf("Repointed (auto):     %d\n", report.Auto)
	cmd.Printf("Unchanged:            %d\n", report.Unchanged)
	cmd.Printf("Ambiguous:            %d\n", report.Ambiguous)
	cmd.Printf("Users merged:         %d\n", report.UsersMerged)
	return nil
}
