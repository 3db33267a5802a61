package driving

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// SyncOrchestrator runs sync tasks for tracked source entities.
type SyncOrchestrator interface {
	// Run executes one sync task to completion and returns its log entry.
	// The log is returned (and persisted) on failure too.
	Run(ctx context.Context, task domain.SyncTask) (*domain.SyncLog, error)

	// Replay re-transforms the staged payloads of a target without
	// contacting its source. Empty kinds replays every kind.
	Replay(ctx context.Context, source, entityID string, kinds []domain.EntityKind) (*domain.SyncLog, error)

	// Status returns progress for a running task, or nil if it is idle.
	Status(source, entityID string) *domain.SyncProgress

	// SetConfig replaces the configuration used by tasks started later.
	SetConfig(cfg domain.Config)
}
