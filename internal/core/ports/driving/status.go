package driving

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// StatusService reports sync state and warehouse contents.
type StatusService interface {
	// Targets returns every sync target with its scheduling state.
	Targets(ctx context.Context) ([]domain.SyncTarget, error)

	// Counts returns row counts per warehouse table.
	Counts(ctx context.Context) (map[string]int64, error)

	// RecentLogs returns the newest sync log entries across all targets.
	RecentLogs(ctx context.Context, limit int) ([]domain.SyncLog, error)
}
