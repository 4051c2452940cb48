package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure SyncStateStore implements the interface.
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore is an in-memory implementation of driven.SyncStateStore.
type SyncStateStore struct {
	mu     sync.RWMutex
	states map[string]domain.SyncState
}

// NewSyncStateStore creates a new in-memory sync state store.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{
		states: make(map[string]domain.SyncState),
	}
}

// Save stores or updates sync state.
func (s *SyncStateStore) Save(_ context.Context, key string, state domain.SyncState) error {
	if key == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state
	return nil
}

// Get retrieves sync state. Unknown keys yield a zero state.
func (s *SyncStateStore) Get(_ context.Context, key string) (domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[key], nil
}

// Delete removes sync state.
func (s *SyncStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

// Ensure OutcomeStore implements the interface.
var _ driven.OutcomeStore = (*OutcomeStore)(nil)

// OutcomeStore is an in-memory implementation of driven.OutcomeStore.
type OutcomeStore struct {
	mu       sync.RWMutex
	outcomes []domain.SyncOutcome // oldest first
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{}
}

// Record logs an outcome.
func (s *OutcomeStore) Record(_ context.Context, outcome domain.SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

// History returns recent outcomes, most recent first.
func (s *OutcomeStore) History(_ context.Context, limit int) ([]domain.SyncOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.outcomes)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]domain.SyncOutcome, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, s.outcomes[i])
	}
	return result, nil
}

// Prune keeps only the most recent keep outcomes.
func (s *OutcomeStore) Prune(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(s.outcomes) > keep {
		s.outcomes = append([]domain.SyncOutcome(nil), s.outcomes[len(s.outcomes)-keep:]...)
	}
	return nil
}
