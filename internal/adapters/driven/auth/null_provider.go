package auth

import (
	"context"

	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// Ensure NullTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*NullTokenProvider)(nil)

// NullTokenProvider is for sources configured without credentials,
// such as a Jenkins instance open to anonymous reads.
type NullTokenProvider struct{}

// NewNullTokenProvider creates a token provider for no-auth sources.
func NewNullTokenProvider() *NullTokenProvider {
	return &NullTokenProvider{}
}

// GetToken returns an empty string since no authentication is needed.
func (p *NullTokenProvider) GetToken(_ context.Context) (string, error) {
	return "", nil
}

// Username returns an empty string.
func (p *NullTokenProvider) Username() string {
	return ""
}

// IsAuthenticated returns false so connectors send no credentials.
func (p *NullTokenProvider) IsAuthenticated() bool {
	return false
}
