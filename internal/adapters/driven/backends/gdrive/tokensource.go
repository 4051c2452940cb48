package gdrive

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// tokenLifetime bounds how long oauth2 reuses a token before asking the
// provider again; the provider refreshes and persists on its own.
const tokenLifetime = time.Minute

// providerSource serves tokens from the engine's TokenProvider.
type providerSource struct {
	ctx    context.Context
	tokens driven.TokenProvider
}

func (s providerSource) Token() (*oauth2.Token, error) {
	access, err := s.tokens.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenLifetime),
	}, nil
}

// tokenSource wraps tokens for the Drive client.
func tokenSource(ctx context.Context, tokens driven.TokenProvider) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, providerSource{ctx: ctx, tokens: tokens})
}
