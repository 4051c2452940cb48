// Package livedb knows about the live database file: the lock the host
// application shares with the sync engine, and the SQLite-specific
// checkpoint and integrity checks run around transfers.
package livedb

import (
	"sync"

	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure Guard implements the interface.
var _ driven.LiveFileGuard = (*Guard)(nil)

// Guard is the process-wide lock around the live database file. The host's
// database layer holds it shared for each transaction; the sync engine
// holds it exclusively while snapshotting or swapping the file.
type Guard struct {
	mu sync.RWMutex
}

// NewGuard creates an unlocked guard.
func NewGuard() *Guard {
	return &Guard{}
}

// RLock takes the shared side.
func (g *Guard) RLock() { g.mu.RLock() }

// RUnlock releases the shared side.
func (g *Guard) RUnlock() { g.mu.RUnlock() }

// Lock takes the exclusive side.
func (g *Guard) Lock() { g.mu.Lock() }

// Unlock releases the exclusive side.
func (g *Guard) Unlock() { g.mu.Unlock() }

// Read runs fn while holding the shared side.
func (g *Guard) Read(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}
