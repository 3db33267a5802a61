package auth

import (
	"context"
	"fmt"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// Ensure StaticTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*StaticTokenProvider)(nil)

// StaticTokenProvider provides a fixed API token, optionally with a
// username for basic auth. API tokens don't expire and need no refresh.
type StaticTokenProvider struct {
	token    string
	username string
}

// NewStaticTokenProvider creates a provider for token, with an optional
// basic-auth username.
func NewStaticTokenProvider(token, username string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token, username: username}
}

// GetToken returns the token.
func (p *StaticTokenProvider) GetToken(_ context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("static provider: %w", domain.ErrAuthRequired)
	}
	return p.token, nil
}

// Username returns the basic-auth user.
func (p *StaticTokenProvider) Username() string {
	return p.username
}

// IsAuthenticated returns true if a token is set.
func (p *StaticTokenProvider) IsAuthenticated() bool {
	return p.token != ""
}
