package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure OAuthTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*OAuthTokenProvider)(nil)

// defaultRefreshBuffer renews tokens this long before they expire.
const defaultRefreshBuffer = 5 * time.Minute

// OAuthTokenProvider provides OAuth access tokens with automatic refresh.
// Refreshed tokens are written back to the credentials store.
type OAuthTokenProvider struct {
	ref    string
	store  driven.CredentialsStore
	client driven.OAuthClient
	app    domain.OAuthAppConfig

	mu            sync.RWMutex
	cachedToken   string
	cacheExpiry   time.Time
	refreshBuffer time.Duration
}

// NewOAuthTokenProvider creates a token provider for the credentials stored
// under ref.
func NewOAuthTokenProvider(
	ref string,
	store driven.CredentialsStore,
	client driven.OAuthClient,
	app domain.OAuthAppConfig,
) *OAuthTokenProvider {
	return &OAuthTokenProvider{
		ref:           ref,
		store:         store,
		client:        client,
		app:           app,
		refreshBuffer: defaultRefreshBuffer,
	}
}

// GetToken returns a valid access token, refreshing if necessary.
func (p *OAuthTokenProvider) GetToken(ctx context.Context) (string, error) {
	// Fast path: check cache with read lock
	p.mu.RLock()
	if p.cachedToken != "" && time.Now().Before(p.cacheExpiry) {
		token := p.cachedToken
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.cachedToken != "" && time.Now().Before(p.cacheExpiry) {
		return p.cachedToken, nil
	}

	creds, err := p.load(ctx)
	if err != nil {
		return "", err
	}

	needsRefresh := creds.OAuth.AccessToken == "" || creds.OAuth.ExpiresWithin(p.refreshBuffer)
	if needsRefresh {
		if creds.OAuth.RefreshToken == "" {
			if creds.OAuth.AccessToken == "" || creds.OAuth.IsExpired() {
				return "", fmt.Errorf("%w: token expired and no refresh token stored", domain.ErrAuthExpired)
			}
		} else if err := p.refresh(ctx, creds); err != nil {
			return "", err
		}
	}

	p.cache(creds.OAuth)
	return p.cachedToken, nil
}

// Refresh forces a token refresh regardless of the cached expiry.
func (p *OAuthTokenProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cachedToken = ""
	p.cacheExpiry = time.Time{}

	creds, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if creds.OAuth.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token stored for %q", domain.ErrAuthExpired, p.ref)
	}
	if err := p.refresh(ctx, creds); err != nil {
		return "", err
	}

	p.cache(creds.OAuth)
	return p.cachedToken, nil
}

// load reads the credentials. Caller holds the write lock.
func (p *OAuthTokenProvider) load(ctx context.Context) (*domain.Credentials, error) {
	creds, err := p.store.Get(ctx, p.ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no credentials stored under %q", domain.ErrAuthRequired, p.ref)
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	if creds.OAuth == nil {
		return nil, fmt.Errorf("%w: credentials %q have no OAuth tokens", domain.ErrAuthRequired, p.ref)
	}
	return creds, nil
}

// refresh exchanges the refresh token and saves the result into creds.
// Caller holds the write lock.
func (p *OAuthTokenProvider) refresh(ctx context.Context, creds *domain.Credentials) error {
	token, err := p.client.Refresh(ctx, p.app, creds.OAuth.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	creds.OAuth.AccessToken = token.AccessToken
	// Some servers rotate the refresh token, others omit it
	if token.RefreshToken != "" {
		creds.OAuth.RefreshToken = token.RefreshToken
	}
	creds.OAuth.Expiry = token.Expiry
	if token.TokenType != "" {
		creds.OAuth.TokenType = token.TokenType
	}
	creds.UpdatedAt = time.Now()

	if err := p.store.Save(ctx, *creds); err != nil {
		return fmt.Errorf("save refreshed credentials: %w", err)
	}
	logger.Debug("auth: refreshed token for %q, expires %s", p.ref, token.Expiry.Format(time.RFC3339))
	return nil
}

func (p *OAuthTokenProvider) cache(oauth *domain.OAuthCredentials) {
	p.cachedToken = oauth.AccessToken
	if !oauth.Expiry.IsZero() {
		p.cacheExpiry = oauth.Expiry.Add(-p.refreshBuffer)
	} else {
		p.cacheExpiry = time.Now().Add(1 * time.Hour)
	}
}

// CredentialsRef returns the credentials ref.
func (p *OAuthTokenProvider) CredentialsRef() string {
	return p.ref
}

// IsAuthenticated returns true if the credentials have usable tokens.
func (p *OAuthTokenProvider) IsAuthenticated() bool {
	p.mu.RLock()
	if p.cachedToken != "" && time.Now().Before(p.cacheExpiry) {
		p.mu.RUnlock()
		return true
	}
	p.mu.RUnlock()

	creds, err := p.store.Get(context.Background(), p.ref)
	if err != nil {
		return false
	}
	return creds.OAuth != nil && (creds.OAuth.AccessToken != "" || creds.OAuth.RefreshToken != "")
}

// InvalidateCache clears the cached token.
func (p *OAuthTokenProvider) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cachedToken = ""
	p.cacheExpiry = time.Time{}
}
