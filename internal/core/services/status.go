package services

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
)

// Ensure StatusService implements the interface.
var _ driving.StatusService = (*StatusService)(nil)

// StatusService reads scheduling state and warehouse counts for display.
type StatusService struct {
	targets driven.TargetStore
	logs    driven.SyncLogStore
	report  driven.ReportStore
}

// NewStatusService creates a status service.
func NewStatusService(targets driven.TargetStore, logs driven.SyncLogStore, report driven.ReportStore) *StatusService {
	return &StatusService{targets: targets, logs: logs, report: report}
}

// Targets returns every sync target.
func (s *StatusService) Targets(ctx context.Context) ([]domain.SyncTarget, error) {
	return s.targets.ListTargets(ctx)
}

// Counts returns row counts per warehouse table.
func (s *StatusService) Counts(ctx context.Context) (map[string]int64, error) {
	return s.report.CountEntities(ctx)
}

// RecentLogs returns the newest sync logs across all targets.
func (s *StatusService) RecentLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.logs.ListSyncLogs(ctx, "", "", limit)
}
