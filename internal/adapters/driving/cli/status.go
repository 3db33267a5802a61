package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync targets and warehouse contents",
	Long: `Shows every tracked sync target with its state and watermark, the
row count of each warehouse table, and the most recent sync log entries.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of recent sync logs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusService == nil {
		return errors.New("status service not configured")
	}
	ctx := cmd.Context()
	styles := NewStyles(DefaultTheme())

	targets, err := statusService.Targets(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	counts, err := statusService.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	logs, err := statusService.RecentLogs(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("list sync logs: %w", err)
	}

	cmd.Println(styles.Title.Render("Targets"))
	if len(targets) == 0 {
		cmd.Println(styles.Muted.Render("No sync targets. Add sources to the config file."))
	} else {
		cmd.Println(targetsTable(styles, targets))
	}

	cmd.Println(styles.Title.Render("Warehouse"))
	cmd.Println(countsTable(styles, counts))

	cmd.Println(styles.Title.Render("Recent syncs"))
	if len(logs) == 0 {
		cmd.Println(styles.Muted.Render("No syncs yet."))
	} else {
		cmd.Println(logsTable(styles, logs))
	}
	return nil
}

func targetsTable(s Styles, targets []domain.SyncTarget) string {
	rows := make([][]string, 0, len(targets))
	statuses := make([]domain.SyncStatus, 0, len(targets))
	for _, t := range targets {
		status := string(t.Status)
		if !t.Enabled {
			status += " (disabled)"
		}
		rows = append(rows, []string{
			t.Source,
			t.EntityID,
			status,
			formatTime(t.LastSyncedAt),
			formatTime(t.Watermark),
			truncate(t.LastError, 40),
		})
		statuses = append(statuses, t.Status)
	}
	return newTable(s, statuses, 2).
		Headers("SOURCE", "ENTITY", "STATUS", "LAST SYNCED", "WATERMARK", "LAST ERROR").
		Rows(rows...).
		Render()
}

func countsTable(s Styles, counts map[string]int64) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("%d", counts[name])})
	}
	return newTable(s, nil, -1).
		Headers("TABLE", "ROWS").
		Rows(rows...).
		Render()
}

func logsTable(s Styles, logs []domain.SyncLog) string {
	rows := make([][]string, 0, len(logs))
	statuses := make([]domain.SyncStatus, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			l.StartedAt.Local().Format(time.DateTime),
			l.Source + "/" + l.EntityID,
			string(l.JobType),
			string(l.Status),
			fmt.Sprintf("%d", l.RecordsProcessed),
			fmt.Sprintf("%d", l.ErrorCount),
			truncate(l.Error, 40),
		})
		statuses = append(statuses, l.Status)
	}
	return newTable(s, statuses, 3).
		Headers("STARTED", "TARGET", "JOB", "STATUS", "RECORDS", "ERRORS", "ERROR").
		Rows(rows...).
		Render()
}

// newTable returns a bordered table whose statusCol cells are coloured by
// the matching entry of statuses. statusCol < 0 disables colouring.
func newTable(s Styles, statuses []domain.SyncStatus, statusCol int) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.Header
			case col == statusCol && row >= 0 && row < len(statuses):
				return s.Status(statuses[row])
			default:
				return s.Cell
			}
		})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
