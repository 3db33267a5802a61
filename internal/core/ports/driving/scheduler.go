package driving

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Scheduler decides which targets are due and dispatches sync tasks,
// and runs the built-in retention and governance tasks.
type Scheduler interface {
	// Start begins the scheduling loop.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop and waits for running tasks.
	Stop() error

	// RegisterTargets creates or refreshes the configured sync targets.
	RegisterTargets(ctx context.Context) error

	// RunTarget claims and runs one target synchronously.
	RunTarget(ctx context.Context, source, entityID string, job domain.JobType) (*domain.SyncLog, error)

	// Reload applies a new configuration without a restart.
	Reload(ctx context.Context, cfg domain.Config) error
}
