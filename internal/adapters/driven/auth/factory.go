package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.TokenProviderFactory = (*Factory)(nil)

// Factory creates TokenProviders from source configuration.
type Factory struct {
	getenv func(string) string
}

// NewFactory creates a token provider factory reading the process
// environment.
func NewFactory() *Factory {
	return &Factory{getenv: os.Getenv}
}

// NewFactoryWithEnv creates a factory with a custom environment lookup.
func NewFactoryWithEnv(getenv func(string) string) *Factory {
	return &Factory{getenv: getenv}
}

// ForSource returns the appropriate TokenProvider for a source.
// An inline token wins over token_env. A source with neither gets a
// NullTokenProvider; a token_env naming an unset variable is an error.
func (f *Factory) ForSource(cfg domain.SourceConfig) (driven.TokenProvider, error) {
	if token := strings.TrimSpace(cfg.Token); token != "" {
		return NewStaticTokenProvider(token, cfg.Username), nil
	}

	if cfg.TokenEnv == "" {
		return NewNullTokenProvider(), nil
	}

	token := strings.TrimSpace(f.getenv(cfg.TokenEnv))
	if token == "" {
		return nil, fmt.Errorf("source %s: %s is not set: %w", cfg.Tag, cfg.TokenEnv, domain.ErrAuthRequired)
	}
	return NewStaticTokenProvider(token, cfg.Username), nil
}
