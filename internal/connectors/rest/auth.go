package rest

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// AuthScheme selects how credentials are attached to requests.
type AuthScheme int

const (
	// AuthNone sends no credentials.
	AuthNone AuthScheme = iota

	// AuthBearer sends "Authorization: Bearer <token>".
	AuthBearer

	// AuthBasic sends the provider's username and the token as password.
	AuthBasic
)

// Auth pairs a scheme with the provider supplying the token.
type Auth struct {
	Scheme AuthScheme
	Tokens driven.TokenProvider
}

// BearerAuth authenticates with a bearer token.
func BearerAuth(tokens driven.TokenProvider) Auth {
	return Auth{Scheme: AuthBearer, Tokens: tokens}
}

// BasicAuth authenticates with username and token.
func BasicAuth(tokens driven.TokenProvider) Auth {
	return Auth{Scheme: AuthBasic, Tokens: tokens}
}

// AutoAuth uses basic auth when the provider has a username, else bearer.
func AutoAuth(tokens driven.TokenProvider) Auth {
	if tokens != nil && tokens.Username() != "" {
		return BasicAuth(tokens)
	}
	return BearerAuth(tokens)
}

// transport wraps base with the configured credentials.
func (a Auth) transport(base http.RoundTripper) http.RoundTripper {
	if a.Tokens == nil || !a.Tokens.IsAuthenticated() {
		return base
	}
	switch a.Scheme {
	case AuthBearer:
		return &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, providerTokenSource{tokens: a.Tokens}),
			Base:   base,
		}
	case AuthBasic:
		return &basicTransport{tokens: a.Tokens, base: base}
	default:
		return base
	}
}

// TokenError is a failure to obtain credentials. It is never retried.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("get token: %v", e.Err)
}

// Unwrap returns the provider's error.
func (e *TokenError) Unwrap() error {
	return e.Err
}

// providerTokenSource adapts a TokenProvider to oauth2.TokenSource.
type providerTokenSource struct {
	tokens driven.TokenProvider
}

func (s providerTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.tokens.GetToken(context.Background())
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

type basicTransport struct {
	tokens driven.TokenProvider
	base   http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.GetToken(req.Context())
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.tokens.Username(), token)
	return t.base.RoundTrip(clone)
}
