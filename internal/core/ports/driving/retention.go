package driving

import "context"

// RetentionManager prunes the staging log.
type RetentionManager interface {
	// Cleanup deletes staging rows older than retentionDays and returns how
	// many were deleted. retentionDays <= 0 retains everything.
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}
