package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure RetentionService implements the interface.
var _ driving.RetentionManager = (*RetentionService)(nil)

// RetentionService prunes old staging rows.
type RetentionService struct {
	store driven.StagingStore
	now   func() time.Time
}

// NewRetentionService creates a retention service.
func NewRetentionService(store driven.StagingStore) *RetentionService {
	return &RetentionService{store: store, now: time.Now}
}

// Cleanup deletes staging rows collected more than retentionDays ago.
// retentionDays <= 0 keeps everything and does not touch the store.
func (r *RetentionService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := r.now().AddDate(0, 0, -retentionDays)
	deleted, err := r.store.DeleteStagingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("staging cleanup: %w", err)
	}
	logger.Info("staging cleanup complete", "deleted", deleted, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return deleted, nil
}
