package driven

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// ConfigStore loads the process configuration from persistent storage.
type ConfigStore interface {
	// Load reads, defaults and validates the configuration.
	// A missing file yields the defaults.
	Load() (*domain.Config, error)

	// Watch calls onChange with each valid configuration written after the
	// call, until ctx is cancelled. Invalid edits are logged and ignored.
	Watch(ctx context.Context, onChange func(domain.Config)) error

	// Path returns the configuration file path.
	Path() string
}
