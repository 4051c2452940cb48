package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure CredentialsStore implements the interface.
var _ driven.CredentialsStore = (*CredentialsStore)(nil)

// CredentialsStore is an in-memory implementation of driven.CredentialsStore.
type CredentialsStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credentials
}

// NewCredentialsStore creates a new in-memory credentials store.
func NewCredentialsStore() *CredentialsStore {
	return &CredentialsStore{
		creds: make(map[string]domain.Credentials),
	}
}

// Save stores credentials.
func (s *CredentialsStore) Save(_ context.Context, creds domain.Credentials) error {
	if creds.Ref == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[creds.Ref] = creds
	return nil
}

// Get retrieves credentials by ref.
func (s *CredentialsStore) Get(_ context.Context, ref string) (*domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// List returns all credentials ordered by ref.
func (s *CredentialsStore) List(_ context.Context) ([]domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Credentials, 0, len(s.creds))
	for _, c := range s.creds {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ref < result[j].Ref })
	return result, nil
}

// Delete removes credentials by ref.
func (s *CredentialsStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ref)
	return nil
}
