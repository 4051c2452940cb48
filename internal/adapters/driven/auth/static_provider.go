package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure StaticTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*StaticTokenProvider)(nil)

// StaticTokenProvider serves a long-lived access token. It cannot renew
// the token: once the remote rejects it the user has to store a new one.
type StaticTokenProvider struct {
	ref   string
	store driven.CredentialsStore
}

// NewStaticTokenProvider creates a token provider for a stored token.
func NewStaticTokenProvider(ref string, store driven.CredentialsStore) *StaticTokenProvider {
	return &StaticTokenProvider{ref: ref, store: store}
}

// GetToken returns the stored token.
func (p *StaticTokenProvider) GetToken(ctx context.Context) (string, error) {
	creds, err := p.store.Get(ctx, p.ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: no credentials stored under %q", domain.ErrAuthRequired, p.ref)
		}
		return "", fmt.Errorf("get credentials: %w", err)
	}
	if creds.Token == nil || creds.Token.Token == "" {
		return "", fmt.Errorf("%w: credentials %q have no access token", domain.ErrAuthRequired, p.ref)
	}
	return creds.Token.Token, nil
}

// Refresh always fails: a static token has nothing to refresh with.
func (p *StaticTokenProvider) Refresh(_ context.Context) (string, error) {
	return "", fmt.Errorf("%w: access token for %q was rejected; store a new one", domain.ErrAuthExpired, p.ref)
}

// CredentialsRef returns the credentials ref.
func (p *StaticTokenProvider) CredentialsRef() string {
	return p.ref
}

// IsAuthenticated returns true if a token is stored.
func (p *StaticTokenProvider) IsAuthenticated() bool {
	_, err := p.GetToken(context.Background())
	return err == nil
}
