package domain

import (
	"context"
	"errors"
)

// Domain errors represent sync failures.
// Backend adapters translate provider-specific failures into these so that
// callers can use errors.Is regardless of which remote is configured.
var (
	// ErrNotFound indicates a requested entity does not exist.
	// For a backend this means the remote file is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedType indicates an unknown provider kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSyncInProgress indicates a sync is already running.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrSyncDisabled indicates sync is switched off or no provider is configured.
	ErrSyncDisabled = errors.New("sync disabled")

	// Transport Errors.

	// ErrUnreachable indicates the remote could not be contacted.
	// Transient: retried with backoff.
	ErrUnreachable = errors.New("remote unreachable")

	// ErrTimeout indicates an operation exceeded its deadline.
	// Treated like ErrUnreachable for retries.
	ErrTimeout = errors.New("operation timed out")

	// ErrQuotaExceeded indicates the remote refused the write for lack of space.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrIOFailure indicates a local filesystem operation failed.
	ErrIOFailure = errors.New("local i/o failure")

	// ErrCorrupt indicates a downloaded file failed structural verification.
	ErrCorrupt = errors.New("downloaded file is corrupt")

	// ErrConflict indicates both sides changed since the last sync.
	// Never returned as a failure: it is recorded as a note on the outcome.
	ErrConflict = errors.New("conflict")

	// ErrCanceled indicates a queued request was superseded or cancelled.
	ErrCanceled = errors.New("canceled")

	// Authentication Errors.

	// ErrAuthRequired indicates the provider requires credentials but none are stored.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthExpired indicates the authentication has expired and refresh failed.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrTokenRefreshFailed indicates token refresh operation failed.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// ErrorKind is the category of a sync failure as reported on a SyncOutcome.
type ErrorKind string

// Error kinds.
const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindUnreachable   ErrorKind = "unreachable"
	ErrorKindAuthExpired   ErrorKind = "auth_expired"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindQuotaExceeded ErrorKind = "quota_exceeded"
	ErrorKindIOFailure     ErrorKind = "io_failure"
	ErrorKindConflict      ErrorKind = "conflict"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindDisabled      ErrorKind = "disabled"
	ErrorKindBusy          ErrorKind = "busy"
	ErrorKindInvalid       ErrorKind = "invalid"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// KindOf classifies err. A nil error has kind ErrorKindNone.
// Context deadline errors count as timeouts.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrRateLimited):
		return ErrorKindUnreachable
	case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrAuthRequired),
		errors.Is(err, ErrTokenRefreshFailed):
		return ErrorKindAuthExpired
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrQuotaExceeded):
		return ErrorKindQuotaExceeded
	case errors.Is(err, ErrIOFailure), errors.Is(err, ErrCorrupt):
		return ErrorKindIOFailure
	case errors.Is(err, ErrConflict):
		return ErrorKindConflict
	case errors.Is(err, ErrSyncDisabled):
		return ErrorKindDisabled
	case errors.Is(err, ErrSyncInProgress):
		return ErrorKindBusy
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedType):
		return ErrorKindInvalid
	default:
		return ErrorKindUnknown
	}
}

// IsTransient reports whether a failure of this kind may succeed on retry
// without any corrective action.
func (k ErrorKind) IsTransient() bool {
	return k == ErrorKindUnreachable || k == ErrorKindTimeout
}

// String returns the string representation.
func (k ErrorKind) String() string {
	return string(k)
}
