package driving

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// CredentialsService manages provider secrets.
type CredentialsService interface {
	// Save creates or updates credentials after validating them.
	Save(ctx context.Context, creds domain.Credentials) error

	// Get retrieves credentials by ref.
	Get(ctx context.Context, ref string) (*domain.Credentials, error)

	// List returns all stored credentials.
	List(ctx context.Context) ([]domain.Credentials, error)

	// Delete removes credentials by ref.
	Delete(ctx context.Context, ref string) error
}

// Authorizer runs the one-time interactive authorization for OAuth providers.
type Authorizer interface {
	// Authorize performs the browser consent flow for cfg's provider and
	// stores the resulting tokens under cfg.CredentialsRef.
	Authorize(ctx context.Context, cfg domain.SyncConfig) (*domain.Credentials, error)
}
