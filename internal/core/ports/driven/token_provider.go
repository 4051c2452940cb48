package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// TokenProvider provides access tokens for authenticated API calls.
// Implementations handle token refresh transparently and persist any
// refreshed tokens back to the CredentialsStore.
type TokenProvider interface {
	// GetToken returns a valid access token.
	// If the current token is expired or about to expire, it is refreshed.
	// Returns empty string for providers without tokens.
	GetToken(ctx context.Context) (string, error)

	// Refresh forces a new access token even if the cached one looks valid.
	// Used after the remote rejected a token.
	Refresh(ctx context.Context) (string, error)

	// CredentialsRef returns the credentials ref being used.
	CredentialsRef() string

	// IsAuthenticated returns true if valid authentication is available.
	IsAuthenticated() bool
}

// OAuthClient performs the OAuth 2.0 authorization code flow with PKCE.
type OAuthClient interface {
	// AuthCodeURL builds the consent URL the user opens in a browser.
	AuthCodeURL(app domain.OAuthAppConfig, redirectURI, state, codeVerifier string) string

	// Exchange swaps an authorization code for tokens.
	Exchange(ctx context.Context, app domain.OAuthAppConfig, redirectURI, code, codeVerifier string) (*domain.OAuthToken, error)

	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, app domain.OAuthAppConfig, refreshToken string) (*domain.OAuthToken, error)
}

// OAuthCallback receives the browser redirect that carries the
// authorization code. Implementations listen on localhost.
type OAuthCallback interface {
	// RedirectURI is the URI registered with the authorization request.
	RedirectURI() string

	// WaitForCode blocks until the code arrives, the provider reports an
	// error, or the timeout passes.
	WaitForCode(timeout time.Duration) (string, error)

	// Stop shuts the listener down.
	Stop() error
}
