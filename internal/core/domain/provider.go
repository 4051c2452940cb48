package domain

const unknownDescription = "Unknown"

// ProviderKind identifies the type of remote destination.
type ProviderKind string

// Available provider kinds.
const (
	// ProviderNone disables sync.
	ProviderNone ProviderKind = "none"

	// ProviderLocalFolder mirrors into a directory, typically one kept in
	// sync by a desktop client such as a cloud drive folder or a NAS share.
	ProviderLocalFolder ProviderKind = "local_folder"

	// ProviderDriveOAuth stores the file in Google Drive using OAuth.
	ProviderDriveOAuth ProviderKind = "drive_oauth"

	// ProviderTokenCloud stores the file in Dropbox using a long-lived token.
	ProviderTokenCloud ProviderKind = "token_cloud"

	// ProviderSFTP stores the file on an SSH host.
	ProviderSFTP ProviderKind = "sftp"

	// ProviderObjectStore stores the file as an object in an S3-compatible bucket.
	ProviderObjectStore ProviderKind = "object_store"
)

// AllProviderKinds returns every provider that can be configured, in display order.
func AllProviderKinds() []ProviderKind {
	return []ProviderKind{
		ProviderNone,
		ProviderLocalFolder,
		ProviderDriveOAuth,
		ProviderTokenCloud,
		ProviderSFTP,
		ProviderObjectStore,
	}
}

// IsValid returns true if the provider kind is recognised.
func (k ProviderKind) IsValid() bool {
	switch k {
	case ProviderNone, ProviderLocalFolder, ProviderDriveOAuth,
		ProviderTokenCloud, ProviderSFTP, ProviderObjectStore:
		return true
	default:
		return false
	}
}

// RequiresOAuth returns true if the provider needs an interactive
// authorization before first use.
func (k ProviderKind) RequiresOAuth() bool {
	return k == ProviderDriveOAuth
}

// RequiresCredentials returns true if the provider needs stored secrets.
func (k ProviderKind) RequiresCredentials() bool {
	switch k {
	case ProviderDriveOAuth, ProviderTokenCloud, ProviderSFTP, ProviderObjectStore:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (k ProviderKind) String() string {
	return string(k)
}

// Description returns a human-readable description of the provider.
func (k ProviderKind) Description() string {
	switch k {
	case ProviderNone:
		return "Disabled"
	case ProviderLocalFolder:
		return "Local or shared folder"
	case ProviderDriveOAuth:
		return "Google Drive (OAuth)"
	case ProviderTokenCloud:
		return "Dropbox (access token)"
	case ProviderSFTP:
		return "SFTP server"
	case ProviderObjectStore:
		return "S3-compatible object storage"
	default:
		return unknownDescription
	}
}
