package driven

import "context"

// LiveFileGuard serialises replacement of the live database file against the
// application's own access to it. The host's database layer holds the shared
// side around every transaction; the sync engine holds the exclusive side
// while it snapshots the file for upload or swaps in a downloaded copy.
type LiveFileGuard interface {
	RLock()
	RUnlock()
	Lock()
	Unlock()
}

// DatabaseInspector knows the on-disk format of the live database.
type DatabaseInspector interface {
	// Checkpoint folds any write-ahead log into the main file so that the
	// main file alone is a consistent copy. Caller holds the exclusive guard.
	Checkpoint(ctx context.Context, path string) error

	// Verify checks that the file at path is a structurally valid database.
	// Returns ErrCorrupt if it is not.
	Verify(ctx context.Context, path string) error
}
