// Package oauth implements the OAuth 2.0 authorization code flow with PKCE
// on top of golang.org/x/oauth2.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure Client implements the OAuthClient interface.
var _ driven.OAuthClient = (*Client)(nil)

// defaultHTTPTimeout bounds token endpoint calls.
const defaultHTTPTimeout = 30 * time.Second

// Client talks to an OAuth authorization server. Endpoints default to
// Google's unless the app config overrides them.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient uses one with a 30 second timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{httpClient: httpClient}
}

// AuthCodeURL builds the consent URL with an S256 code challenge. Offline
// access and forced consent make the server return a refresh token.
func (c *Client) AuthCodeURL(app domain.OAuthAppConfig, redirectURI, state, codeVerifier string) string {
	return config(app, redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// Exchange swaps an authorization code for tokens.
func (c *Client) Exchange(
	ctx context.Context,
	app domain.OAuthAppConfig,
	redirectURI, code, codeVerifier string,
) (*domain.OAuthToken, error) {
	token, err := config(app, redirectURI).Exchange(c.withClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, wrapError(err)
	}
	return fromOAuth2(token), nil
}

// Refresh obtains a new access token from a refresh token.
func (c *Client) Refresh(ctx context.Context, app domain.OAuthAppConfig, refreshToken string) (*domain.OAuthToken, error) {
	// An already expired token forces the source to hit the token endpoint
	src := config(app, "").TokenSource(c.withClient(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	token, err := src.Token()
	if err != nil {
		return nil, wrapError(err)
	}
	return fromOAuth2(token), nil
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func config(app domain.OAuthAppConfig, redirectURI string) *oauth2.Config {
	endpoint := google.Endpoint
	if app.AuthURL != "" {
		endpoint.AuthURL = app.AuthURL
	}
	if app.TokenURL != "" {
		endpoint.TokenURL = app.TokenURL
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURI,
		Scopes:       app.Scopes,
	}
}

func fromOAuth2(t *oauth2.Token) *domain.OAuthToken {
	return &domain.OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.Type(),
		Expiry:       t.Expiry,
	}
}

// wrapError maps token endpoint failures to domain errors.
func wrapError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			return fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
		case retrieveErr.ErrorCode == "invalid_client", retrieveErr.ErrorCode == "unauthorized_client":
			return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
		case retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
		case retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
}
