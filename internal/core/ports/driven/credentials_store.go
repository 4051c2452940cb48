package driven

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// CredentialsStore keeps provider secrets apart from config.toml. The
// config only names a credentials ref; the secret itself lives here.
type CredentialsStore interface {
	// Save upserts creds under creds.Ref.
	Save(ctx context.Context, creds domain.Credentials) error

	// Get fails with domain.ErrNotFound for an unknown ref.
	Get(ctx context.Context, ref string) (*domain.Credentials, error)

	List(ctx context.Context) ([]domain.Credentials, error)

	// Delete ignores unknown refs.
	Delete(ctx context.Context, ref string) error
}
