package driving

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// IdentityGovernance re-scores identity mappings in bulk.
type IdentityGovernance interface {
	Run(ctx context.Context) (*domain.GovernanceReport, error)

	// SetConfig replaces the identity configuration used by later runs.
	SetConfig(cfg domain.IdentityConfig)
}
