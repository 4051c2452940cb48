package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure OAuthAuthorizer implements the interface.
var _ driving.Authorizer = (*OAuthAuthorizer)(nil)

// PKCE code verifier length (RFC 7636 recommends 43-128 characters).
const codeVerifierLength = 64

// defaultConsentTimeout is how long to wait for the user to finish consent.
const defaultConsentTimeout = 5 * time.Minute

// CallbackFactory starts a localhost listener expecting the given state.
type CallbackFactory func(state string) (driven.OAuthCallback, error)

// OAuthAuthorizer runs the browser consent flow for OAuth providers and
// stores the resulting tokens.
type OAuthAuthorizer struct {
	client      driven.OAuthClient
	credentials driving.CredentialsService
	callbacks   CallbackFactory

	// OpenBrowser opens the consent URL. When nil or failing, the URL is
	// only passed to ShowURL.
	OpenBrowser func(url string) error
	// ShowURL lets the caller print the consent URL. May be nil.
	ShowURL func(url string)
	// Timeout bounds the wait for the callback.
	Timeout time.Duration
}

// NewOAuthAuthorizer creates an authorizer.
func NewOAuthAuthorizer(
	client driven.OAuthClient,
	credentials driving.CredentialsService,
	callbacks CallbackFactory,
) *OAuthAuthorizer {
	return &OAuthAuthorizer{
		client:      client,
		credentials: credentials,
		callbacks:   callbacks,
		Timeout:     defaultConsentTimeout,
	}
}

// Authorize performs the consent flow for cfg's provider and saves the
// tokens under cfg's credentials ref.
func (a *OAuthAuthorizer) Authorize(ctx context.Context, cfg domain.SyncConfig) (*domain.Credentials, error) {
	if !cfg.Provider.RequiresOAuth() {
		return nil, fmt.Errorf("%w: %s does not use browser authorization", domain.ErrInvalidInput, cfg.Provider.Description())
	}
	app := cfg.OAuthApp()
	if app.ClientID == "" {
		return nil, fmt.Errorf("%w: drive.client_id is not configured", domain.ErrInvalidInput)
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	callback, err := a.callbacks(state)
	if err != nil {
		return nil, fmt.Errorf("start callback server: %w", err)
	}
	defer func() {
		if stopErr := callback.Stop(); stopErr != nil {
			logger.Debug("authorizer: stop callback server: %v", stopErr)
		}
	}()

	redirectURI := callback.RedirectURI()
	authURL := a.client.AuthCodeURL(app, redirectURI, state, verifier)

	if a.ShowURL != nil {
		a.ShowURL(authURL)
	}
	if a.OpenBrowser != nil {
		if err := a.OpenBrowser(authURL); err != nil {
			logger.Warn("authorizer: could not open browser: %v", err)
		}
	}

	timeout := a.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	code, err := callback.WaitForCode(timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	}

	token, err := a.client.Exchange(ctx, app, redirectURI, code, verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		// Without offline access the engine cannot run unattended.
		logger.Warn("authorizer: no refresh token returned; re-authorization will be needed when the token expires")
	}

	creds := domain.Credentials{
		Ref:      cfg.EffectiveCredentialsRef(),
		Provider: cfg.Provider,
		OAuth:    token.ToCredentials(),
	}
	if err := a.credentials.Save(ctx, creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	logger.Info("authorizer: stored credentials %q", creds.Ref)

	return a.credentials.Get(ctx, creds.Ref)
}

// generateCodeVerifier creates a cryptographically random code verifier for PKCE.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, codeVerifierLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	// Use base64url encoding without padding
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// generateState creates a random state parameter for CSRF protection.
func generateState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
