package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// TargetStore persists sync targets and their scheduling state.
type TargetStore interface {
	// RegisterTarget creates a target in NEVER_SYNCED or updates its name,
	// organization and interval, keeping its scheduling state. The target
	// is enabled.
	RegisterTarget(ctx context.Context, target *domain.SyncTarget) error

	// GetTarget returns a target. Returns domain.ErrNotFound if absent.
	GetTarget(ctx context.Context, source, entityID string) (*domain.SyncTarget, error)

	// ListTargets returns all targets ordered by source and entity.
	ListTargets(ctx context.Context) ([]domain.SyncTarget, error)

	// DisableTarget marks a target as no longer configured. Registering it
	// again enables it.
	DisableTarget(ctx context.Context, source, entityID string) error

	// ClaimTarget atomically moves a target to QUEUED unless it is already
	// QUEUED or SYNCING, or disabled. Returns false if another claim won.
	ClaimTarget(ctx context.Context, source, entityID string) (bool, error)

	// MarkSyncing moves a target to SYNCING.
	MarkSyncing(ctx context.Context, source, entityID string) error

	// MarkSuccess records a successful sync.
	MarkSuccess(ctx context.Context, source, entityID string, watermark, finishedAt time.Time) error

	// MarkFailed records a failed sync.
	MarkFailed(ctx context.Context, source, entityID, errMsg string) error

	// ResetStale moves QUEUED and SYNCING targets left by a crashed process
	// to FAILED. Returns the number of targets reset.
	ResetStale(ctx context.Context) (int64, error)
}

// SyncLogStore persists the append-only sync log.
type SyncLogStore interface {
	AppendSyncLog(ctx context.Context, log *domain.SyncLog) error

	// ListSyncLogs returns recent logs for a target, newest first.
	// Empty source and entity list logs for all targets.
	ListSyncLogs(ctx context.Context, source, entityID string, limit int) ([]domain.SyncLog, error)
}

// StagingStore reads and prunes the staging log outside batch transactions.
type StagingStore interface {
	// ReplayStaging returns up to limit rows of one tracked entity with
	// id > afterID, in id order.
	ReplayStaging(ctx context.Context, source, entityID string, kind domain.EntityKind, afterID int64, limit int) ([]domain.StagingRecord, error)

	// DeleteStagingBefore deletes rows collected before cutoff.
	DeleteStagingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportStore summarises warehouse contents.
type ReportStore interface {
	// CountEntities returns the row count of every warehouse table.
	CountEntities(ctx context.Context) (map[string]int64, error)
}
