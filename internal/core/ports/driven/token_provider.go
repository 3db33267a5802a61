package driven

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// TokenProvider provides credentials for authenticated API calls.
type TokenProvider interface {
	// GetToken returns the API token.
	// Returns empty string for sources configured without auth.
	GetToken(ctx context.Context) (string, error)

	// Username returns the basic-auth user, if the source uses one.
	Username() string

	// IsAuthenticated returns true if a token is available.
	IsAuthenticated() bool
}

// TokenProviderFactory builds the token provider of a configured source.
type TokenProviderFactory interface {
	// ForSource returns the credentials of cfg. Returns domain.ErrAuthRequired
	// if cfg names a token variable that is not set.
	ForSource(cfg domain.SourceConfig) (TokenProvider, error)
}
