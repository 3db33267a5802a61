package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

func TestFactory_ForSource(t *testing.T) {
	env := map[string]string{"GITLAB_TOKEN": "glpat-123", "BLANK": "  "}
	f := NewFactoryWithEnv(func(k string) string { return env[k] })

	tests := []struct {
		name     string
		cfg      domain.SourceConfig
		token    string
		username string
		authed   bool
		wantErr  error
	}{
		{name: "inline token", cfg: domain.SourceConfig{Tag: "jira", Token: "abc", Username: "ci@corp.com"}, token: "abc", username: "ci@corp.com", authed: true},
		{name: "inline wins over env", cfg: domain.SourceConfig{Tag: "gitlab", Token: "abc", TokenEnv: "GITLAB_TOKEN"}, token: "abc", authed: true},
		{name: "from env", cfg: domain.SourceConfig{Tag: "gitlab", TokenEnv: "GITLAB_TOKEN"}, token: "glpat-123", authed: true},
		{name: "no credentials", cfg: domain.SourceConfig{Tag: "jenkins"}},
		{name: "env unset", cfg: domain.SourceConfig{Tag: "gitlab", TokenEnv: "MISSING"}, wantErr: domain.ErrAuthRequired},
		{name: "env blank", cfg: domain.SourceConfig{Tag: "gitlab", TokenEnv: "BLANK"}, wantErr: domain.ErrAuthRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.ForSource(tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.authed, p.IsAuthenticated())
			assert.Equal(t, tt.username, p.Username())

			token, err := p.GetToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestStaticTokenProvider_Empty(t *testing.T) {
	p := NewStaticTokenProvider("", "")
	assert.False(t, p.IsAuthenticated())

	_, err := p.GetToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}
