package domain

import "time"

// Fingerprint identifies a version of the database file without reading it.
// Hash is optional: providers that expose a content hash fill it in.
type Fingerprint struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash,omitempty"`
}

// IsZero returns true if the fingerprint was never captured.
func (f Fingerprint) IsZero() bool {
	return f.Size == 0 && f.ModTime.IsZero() && f.Hash == ""
}

// Equal reports whether two fingerprints describe the same version.
// Sizes must match. When both carry a hash the hash decides, otherwise
// the modification times must be equal.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Size != other.Size {
		return false
	}
	if f.Hash != "" && other.Hash != "" {
		return f.Hash == other.Hash
	}
	return f.ModTime.Equal(other.ModTime)
}

// RemoteInfo is the result of probing the remote.
type RemoteInfo struct {
	// Exists is false when the remote file is absent.
	Exists bool
	// ID is the provider's identifier for the file, when it has one.
	ID string
	Fingerprint
}
