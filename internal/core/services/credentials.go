package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
)

// Ensure CredentialsService implements the interface.
var _ driving.CredentialsService = (*CredentialsService)(nil)

// CredentialsService manages provider secrets.
type CredentialsService struct {
	store driven.CredentialsStore
}

// NewCredentialsService creates a new credentials service.
func NewCredentialsService(store driven.CredentialsStore) *CredentialsService {
	return &CredentialsService{
		store: store,
	}
}

// Save creates or updates credentials. The secret variant must match the
// provider kind. CreatedAt is preserved across updates.
func (s *CredentialsService) Save(ctx context.Context, creds domain.Credentials) error {
	if s.store == nil {
		return domain.ErrNotImplemented
	}
	if creds.Ref == "" {
		return fmt.Errorf("%w: credentials ref is required", domain.ErrInvalidInput)
	}
	if err := checkVariant(&creds); err != nil {
		return err
	}

	now := time.Now()
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = now
		if existing, err := s.store.Get(ctx, creds.Ref); err == nil && existing != nil {
			creds.CreatedAt = existing.CreatedAt
		}
	}
	creds.UpdatedAt = now

	return s.store.Save(ctx, creds)
}

// Get retrieves credentials by ref.
func (s *CredentialsService) Get(ctx context.Context, ref string) (*domain.Credentials, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	return s.store.Get(ctx, ref)
}

// List returns all stored credentials.
func (s *CredentialsService) List(ctx context.Context) ([]domain.Credentials, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	return s.store.List(ctx)
}

// Delete removes credentials by ref.
func (s *CredentialsService) Delete(ctx context.Context, ref string) error {
	if s.store == nil {
		return domain.ErrNotImplemented
	}
	return s.store.Delete(ctx, ref)
}

// checkVariant verifies the populated secret matches the provider.
func checkVariant(creds *domain.Credentials) error {
	if !creds.Provider.RequiresCredentials() {
		return fmt.Errorf("%w: provider %q does not use credentials", domain.ErrInvalidInput, creds.Provider)
	}

	var ok bool
	switch creds.Provider {
	case domain.ProviderDriveOAuth:
		ok = creds.OAuth != nil
	case domain.ProviderTokenCloud:
		ok = creds.Token != nil
	case domain.ProviderSFTP:
		ok = creds.SSH != nil
	case domain.ProviderObjectStore:
		ok = creds.AccessKey != nil
	}
	if !ok || !creds.IsAuthenticated() {
		return fmt.Errorf("%w: missing secrets for %s", domain.ErrInvalidInput, creds.Provider.Description())
	}
	return nil
}
