package auth

import (
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Factory creates TokenProviders for stored credentials.
type Factory struct {
	credentialsStore driven.CredentialsStore
	oauthClient      driven.OAuthClient
}

// NewFactory creates a token provider factory.
func NewFactory(credentialsStore driven.CredentialsStore, oauthClient driven.OAuthClient) *Factory {
	return &Factory{
		credentialsStore: credentialsStore,
		oauthClient:      oauthClient,
	}
}

// CreateTokenProvider returns the TokenProvider matching the secret variant
// of creds. Credentials without bearer tokens (SSH, access keys) and nil
// credentials get a NullTokenProvider carrying the ref, if any.
func (f *Factory) CreateTokenProvider(cfg domain.SyncConfig, creds *domain.Credentials) driven.TokenProvider {
	switch {
	case creds == nil:
		return NewNullTokenProvider("")
	case creds.OAuth != nil:
		return NewOAuthTokenProvider(creds.Ref, f.credentialsStore, f.oauthClient, cfg.OAuthApp())
	case creds.Token != nil:
		return NewStaticTokenProvider(creds.Ref, f.credentialsStore)
	default:
		return NewNullTokenProvider(creds.Ref)
	}
}
