package domain

import "time"

// Trigger is the reason a sync attempt was started.
type Trigger string

// Sync triggers.
const (
	TriggerTick       Trigger = "tick"
	TriggerWatch      Trigger = "watch"
	TriggerStartup    Trigger = "startup"
	TriggerManualPull Trigger = "manual_pull"
	TriggerManualPush Trigger = "manual_push"
	TriggerShutdown   Trigger = "shutdown"
)

// IsManual returns true for user-initiated triggers.
func (t Trigger) IsManual() bool {
	return t == TriggerManualPull || t == TriggerManualPush
}

// IsBackground returns true for triggers that are dropped while a sync runs.
func (t Trigger) IsBackground() bool {
	return t == TriggerTick || t == TriggerWatch
}

// Mode returns the decision mode used for this trigger.
func (t Trigger) Mode() Mode {
	switch t {
	case TriggerStartup:
		return ModePullIfNewer
	case TriggerManualPull:
		return ModeForcePull
	case TriggerManualPush:
		return ModeForcePush
	case TriggerShutdown:
		return ModePushIfChanged
	default:
		return ModeAuto
	}
}

// Mode selects which transfers the orchestrator may perform.
type Mode string

// Decision modes.
const (
	// ModeAuto applies the full decision table.
	ModeAuto Mode = "auto"
	// ModePullIfNewer only pulls, and only when the remote changed.
	ModePullIfNewer Mode = "pull_if_newer"
	// ModeForcePull pulls whenever the remote exists and differs from local.
	ModeForcePull Mode = "force_pull"
	// ModeForcePush pushes whenever local exists and differs from the remote.
	ModeForcePush Mode = "force_push"
	// ModePushIfChanged only pushes, and only when local changed. A remote
	// that moved on while local stayed put is left alone.
	ModePushIfChanged Mode = "push_if_changed"
)

// Phase is the orchestrator's state.
type Phase string

// Orchestrator phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseComparing Phase = "comparing"
	PhasePulling   Phase = "pulling"
	PhasePushing   Phase = "pushing"
	PhaseSkipped   Phase = "skipped"
)

// Outcome notes.
const (
	NoteConflictResolvedLocal = "conflict-resolved-local"
	NoteRemoteAbsent          = "remote-absent"
	NoteUnchanged             = "unchanged"
	NoteLocalAbsent           = "local-absent"
	NoteSuperseded            = "superseded"
	NoteLocalNewer            = "local-newer"
	NoteRemoteNewer           = "remote-newer"
	NoteDisabled              = "disabled"
)

// SyncOutcome is the result of one sync attempt.
type SyncOutcome struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// Trigger is what started the attempt.
	Trigger Trigger `json:"trigger"`

	// Phase is the terminal phase: pulling, pushing or skipped.
	// PhaseIdle means the attempt never reached a decision.
	Phase Phase `json:"phase"`

	// Direction is the transfer that completed, or DirectionNone.
	Direction Direction `json:"direction"`

	// Success is true if the attempt finished without error.
	Success bool `json:"success"`

	// ConflictResolvedLocal is set when both sides changed and local won.
	ConflictResolvedLocal bool `json:"conflict_resolved_local"`

	// BytesTransferred counts the payload moved in either direction.
	BytesTransferred int64 `json:"bytes_transferred"`

	// ErrorKind classifies the failure when Success is false.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Note carries a short machine-readable remark (see Note constants).
	Note string `json:"note,omitempty"`

	// Attempts is how many tries the transfer took.
	Attempts int `json:"attempts"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration returns how long the attempt took.
func (o *SyncOutcome) Duration() time.Duration {
	if o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// EventType identifies a scheduler notification.
type EventType string

// Scheduler event types.
const (
	EventStarted  EventType = "started"
	EventPhase    EventType = "phase"
	EventFinished EventType = "finished"
	EventDropped  EventType = "dropped"
)

// SyncEvent is published to subscribers as a sync progresses.
type SyncEvent struct {
	Type    EventType
	Trigger Trigger
	// TicketID links the event to a manual request, if any.
	TicketID string
	// Phase is set for EventPhase.
	Phase Phase
	// Outcome is set for EventFinished.
	Outcome *SyncOutcome
	At      time.Time
}
