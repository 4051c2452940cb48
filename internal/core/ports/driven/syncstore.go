package driven

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// SyncStateStore persists sync state, keyed by the live database path so
// that several databases can be tracked independently.
type SyncStateStore interface {
	// Save stores or updates sync state.
	Save(ctx context.Context, key string, state domain.SyncState) error

	// Get retrieves sync state.
	// Returns a zero state and no error if nothing was recorded yet.
	Get(ctx context.Context, key string) (domain.SyncState, error)

	// Delete removes sync state, forgetting the baseline.
	Delete(ctx context.Context, key string) error
}

// OutcomeStore keeps a bounded history of sync attempts.
type OutcomeStore interface {
	// Record logs an outcome.
	Record(ctx context.Context, outcome domain.SyncOutcome) error

	// History returns recent outcomes, most recent first.
	History(ctx context.Context, limit int) ([]domain.SyncOutcome, error)

	// Prune removes all but the most recent keep outcomes.
	Prune(ctx context.Context, keep int) error
}
