package domain

import "time"

// Direction is the direction of a transfer.
type Direction string

// Transfer directions.
const (
	DirectionNone   Direction = "none"
	DirectionPulled Direction = "pulled"
	DirectionPushed Direction = "pushed"
)

// SyncState is the persisted memory of the last agreed-upon versions.
// Fingerprints are only written on success; a failed attempt records
// LastError and LastAttemptAt and leaves the baseline alone.
type SyncState struct {
	// LastLocal is the local fingerprint at the last successful sync.
	LastLocal Fingerprint `json:"last_local"`

	// LastRemote is the remote fingerprint at the last successful sync.
	LastRemote Fingerprint `json:"last_remote"`

	// LastSyncedAt is when the last successful transfer or comparison finished.
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`

	// LastDirection is the direction of the last successful transfer.
	LastDirection Direction `json:"last_direction"`

	// LastError is the message of the last failure, cleared on success.
	LastError string `json:"last_error,omitempty"`

	// LastErrorKind classifies LastError.
	LastErrorKind ErrorKind `json:"last_error_kind,omitempty"`

	// LastAttemptAt is when the last attempt of any kind finished.
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

// HasBaseline returns true once a successful sync has been recorded.
func (s *SyncState) HasBaseline() bool {
	return !s.LastSyncedAt.IsZero()
}
