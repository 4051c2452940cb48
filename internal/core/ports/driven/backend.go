package driven

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// Backend moves the single database file to and from one remote destination.
// Each provider kind (local folder, Drive, Dropbox, SFTP, object store)
// implements this interface.
//
// Implementations translate provider failures into domain errors:
// ErrUnreachable, ErrTimeout, ErrAuthExpired, ErrNotFound, ErrQuotaExceeded.
type Backend interface {
	// Kind returns the provider kind.
	Kind() domain.ProviderKind

	// Probe fetches the remote fingerprint without transferring content.
	// An absent remote is not an error: it returns RemoteInfo{Exists: false}.
	// Probe never creates the remote file.
	Probe(ctx context.Context) (domain.RemoteInfo, error)

	// Download writes the remote file's bytes to destPath and returns the
	// number of bytes written. Returns ErrNotFound if the remote is absent.
	Download(ctx context.Context, destPath string) (int64, error)

	// Upload replaces the remote file with the bytes of srcPath, creating it
	// (and any missing parent folders) if absent. Returns the new remote
	// fingerprint.
	Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error)

	// RefreshAuthIfNeeded ensures credentials are valid for the next call.
	// It is idempotent and a no-op for providers without expiring credentials.
	RefreshAuthIfNeeded(ctx context.Context) error

	// Close releases resources such as open connections.
	Close() error
}

// AuthRefresher is implemented by backends whose credentials can be
// forcibly renewed after the remote rejected them.
type AuthRefresher interface {
	ForceRefresh(ctx context.Context) error
}

// BackendBuilder creates a Backend for a configuration.
// TokenProvider and credentials may be nil for providers that need none.
type BackendBuilder func(ctx context.Context, cfg domain.SyncConfig, creds *domain.Credentials, tokens TokenProvider) (Backend, error)

// BackendFactory creates backends from configuration.
// It maintains a registry of provider kinds and their builders.
type BackendFactory interface {
	// Create returns a Backend for the configured provider.
	// Resolves credentials from cfg.CredentialsRef internally.
	// Returns ErrUnsupportedType if the provider kind is unknown.
	Create(ctx context.Context, cfg domain.SyncConfig) (Backend, error)

	// Register adds a builder for the given kind.
	Register(kind domain.ProviderKind, builder BackendBuilder)

	// SupportedKinds returns all registered provider kinds.
	SupportedKinds() []domain.ProviderKind
}
