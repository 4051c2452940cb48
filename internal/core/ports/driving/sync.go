package driving

import (
	"context"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// SyncEngine is the surface the host application uses to drive sync.
// All methods are safe for concurrent use.
type SyncEngine interface {
	// Start runs the scheduler until ctx is cancelled or OnShutdown is called.
	// It blocks.
	Start(ctx context.Context) error

	// OnStartup requests the startup pull-if-newer attempt.
	OnStartup()

	// OnShutdown waits for in-flight work, drops queued manual requests,
	// performs a final push and returns. It returns domain.ErrTimeout if the
	// push did not finish within the configured shutdown timeout or ctx.
	OnShutdown(ctx context.Context) (*domain.SyncOutcome, error)

	// PullLatest queues a manual pull and waits for its outcome. Without a
	// running loop the pull runs directly.
	PullLatest(ctx context.Context) (*domain.SyncOutcome, error)

	// UploadNow queues a manual push and waits for its outcome. Without a
	// running loop the push runs directly.
	UploadNow(ctx context.Context) (*domain.SyncOutcome, error)

	// Request queues a manual trigger without waiting.
	// A newer request replaces an older one still queued.
	Request(trigger domain.Trigger) (*Ticket, error)

	// Cancel withdraws a queued manual request. Returns false if the request
	// already started or is unknown.
	Cancel(ticketID string) bool

	// Nudge asks for an opportunistic auto sync, as a timer tick would.
	Nudge()

	// Reconfigure applies a new configuration. The timer restarts with the
	// new interval and the backend is rebuilt before the next attempt.
	Reconfigure(cfg domain.SyncConfig) error

	// Status returns the current sync status.
	Status(ctx context.Context) (*SyncStatus, error)

	// History returns recent outcomes, most recent first.
	History(ctx context.Context, limit int) ([]domain.SyncOutcome, error)

	// Subscribe returns a channel of sync events and a function that
	// unsubscribes and closes it. Slow subscribers miss events.
	Subscribe() (<-chan domain.SyncEvent, func())
}

// Ticket tracks a queued manual request.
type Ticket struct {
	// ID identifies the request for Cancel.
	ID string

	// Trigger is the requested trigger.
	Trigger domain.Trigger

	// Done receives exactly one outcome: the attempt's result, or a skipped
	// outcome with an ErrCanceled error if the request was superseded or
	// cancelled.
	Done <-chan domain.SyncOutcome
}

// SyncStatus represents the current state of sync.
type SyncStatus struct {
	// Provider is the configured provider kind.
	Provider domain.ProviderKind

	// Enabled reports the master switch.
	Enabled bool

	// Running indicates if an attempt is currently in progress.
	Running bool

	// Phase is the orchestrator's current phase.
	Phase domain.Phase

	// PendingManual is the trigger of a queued manual request, if any.
	PendingManual domain.Trigger

	// State is the persisted sync state.
	State domain.SyncState

	// LastOutcome is the most recent outcome, if any.
	LastOutcome *domain.SyncOutcome
}
