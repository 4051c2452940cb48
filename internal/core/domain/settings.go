package domain

import (
	"path"
	"path/filepath"
	"time"
)

// Sync defaults.
const (
	// DefaultRemoteName is the canonical name of the database file at the remote.
	DefaultRemoteName = "hustlenest.db"

	// DefaultInterval is how often the scheduler evaluates a sync.
	DefaultInterval = 5 * time.Minute

	// MinInterval is the floor for the sync interval. Shorter values are clamped,
	// and timer triggers arriving sooner than this after the previous attempt
	// are coalesced.
	MinInterval = 30 * time.Second

	// DefaultCallTimeout bounds each individual network call.
	DefaultCallTimeout = 60 * time.Second

	// DefaultMaxAttempts is the number of tries for a transient failure.
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the first backoff delay between retries.
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultShutdownTimeout bounds the final push on exit.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultWatchDebounce is how long local changes must settle before a nudge.
	DefaultWatchDebounce = 10 * time.Second

	// DefaultSFTPPort is the standard SSH port.
	DefaultSFTPPort = 22

	// DriveFileScope limits Drive access to files the app created or opened.
	DriveFileScope = "https://www.googleapis.com/auth/drive.file"
)

// SyncConfig is the full sync configuration.
// It is an explicit value handed to the engine; nothing reads it from globals.
type SyncConfig struct {
	// Provider selects the remote destination.
	Provider ProviderKind `validate:"required"`

	// Enabled is the master switch. A disabled config never contacts the remote.
	Enabled bool

	// Interval between timer-driven sync evaluations.
	Interval time.Duration `validate:"gte=0"`

	// RemoteName is the file name of the database at the remote.
	RemoteName string `validate:"required,excludesall=/\\"`

	// DatabasePath is the live local database file.
	DatabasePath string `validate:"required_if=Enabled true"`

	// StagingDir holds temporary copies used for transfers.
	// Empty means a "sync-staging" directory next to the database.
	StagingDir string

	// VerifyDownload runs a structural check on pulled files before swapping.
	VerifyDownload bool

	// CallTimeout bounds each network call.
	CallTimeout time.Duration `validate:"gte=0"`

	// MaxAttempts is the number of tries for transient failures.
	MaxAttempts int `validate:"gte=0,lte=10"`

	// RetryBaseDelay is the initial exponential backoff delay.
	RetryBaseDelay time.Duration `validate:"gte=0"`

	// ShutdownTimeout bounds the final push at process exit.
	ShutdownTimeout time.Duration `validate:"gte=0"`

	// CredentialsRef names the stored credentials for the provider.
	CredentialsRef string

	Watch       WatchConfig
	LocalFolder LocalFolderConfig
	Drive       DriveConfig
	TokenCloud  TokenCloudConfig
	SFTP        SFTPConfig
	ObjectStore ObjectStoreConfig
}

// WatchConfig controls change-driven sync nudges.
type WatchConfig struct {
	Enabled  bool
	Debounce time.Duration `validate:"gte=0"`
}

// LocalFolderConfig configures the local_folder provider.
type LocalFolderConfig struct {
	// Path is the destination directory.
	Path string `validate:"required_if=Active true"`
	// Active is set by MarkActiveProvider when this provider is selected.
	Active bool
}

// DriveConfig configures the drive_oauth provider.
type DriveConfig struct {
	// FolderID is the parent folder. Empty means the root of My Drive.
	FolderID string
	// ClientID and ClientSecret identify the OAuth application.
	ClientID     string `validate:"required_if=Active true"`
	ClientSecret string
	Active       bool
}

// TokenCloudConfig configures the token_cloud provider.
type TokenCloudConfig struct {
	// Path is the folder inside the account, e.g. "/Apps/HustleNest".
	Path string
}

// SFTPConfig configures the sftp provider.
type SFTPConfig struct {
	Host string `validate:"required_if=Active true"`
	Port int    `validate:"gte=0,lte=65535"`
	User string `validate:"required_if=Active true"`
	// Path is the remote directory.
	Path string
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	Active                bool
}

// ObjectStoreConfig configures the object_store provider.
type ObjectStoreConfig struct {
	Endpoint string `validate:"required_if=Active true"`
	Bucket   string `validate:"required_if=Active true"`
	// Prefix is prepended to the remote name to form the object key.
	Prefix string
	Region string
	Secure bool
	Active bool
}

// DefaultSyncConfig returns sensible defaults with sync disabled.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Provider:        ProviderNone,
		Enabled:         false,
		Interval:        DefaultInterval,
		RemoteName:      DefaultRemoteName,
		VerifyDownload:  true,
		CallTimeout:     DefaultCallTimeout,
		MaxAttempts:     DefaultMaxAttempts,
		RetryBaseDelay:  DefaultRetryBaseDelay,
		ShutdownTimeout: DefaultShutdownTimeout,
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: DefaultWatchDebounce,
		},
		SFTP: SFTPConfig{
			Port: DefaultSFTPPort,
		},
		ObjectStore: ObjectStoreConfig{
			Secure: true,
		},
	}
}

// IsActive returns true if the config allows contacting a remote.
func (c *SyncConfig) IsActive() bool {
	return c.Enabled && c.Provider != ProviderNone && c.Provider != ""
}

// EffectiveInterval returns the interval clamped to MinInterval.
// A zero interval means the default.
func (c *SyncConfig) EffectiveInterval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	if c.Interval < MinInterval {
		return MinInterval
	}
	return c.Interval
}

// EffectiveStagingDir returns the staging directory for transfers.
func (c *SyncConfig) EffectiveStagingDir() string {
	if c.StagingDir != "" {
		return c.StagingDir
	}
	return filepath.Join(filepath.Dir(c.DatabasePath), "sync-staging")
}

// EffectiveCallTimeout returns the per-call timeout or the default.
func (c *SyncConfig) EffectiveCallTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return DefaultCallTimeout
	}
	return c.CallTimeout
}

// EffectiveShutdownTimeout returns the shutdown bound or the default.
func (c *SyncConfig) EffectiveShutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return c.ShutdownTimeout
}

// EffectiveCredentialsRef returns the credentials ref, defaulting to the
// provider name.
func (c *SyncConfig) EffectiveCredentialsRef() string {
	if c.CredentialsRef != "" {
		return c.CredentialsRef
	}
	return string(c.Provider)
}

// OAuthApp returns the OAuth application used by the drive_oauth provider.
func (c *SyncConfig) OAuthApp() OAuthAppConfig {
	return OAuthAppConfig{
		ClientID:     c.Drive.ClientID,
		ClientSecret: c.Drive.ClientSecret,
		Scopes:       []string{DriveFileScope},
	}
}

// RemotePath returns the location of the database at the remote,
// in the provider's own path syntax.
func (c *SyncConfig) RemotePath() string {
	name := c.RemoteName
	if name == "" {
		name = DefaultRemoteName
	}
	switch c.Provider {
	case ProviderLocalFolder:
		return filepath.Join(c.LocalFolder.Path, name)
	case ProviderTokenCloud:
		return path.Join("/", c.TokenCloud.Path, name)
	case ProviderSFTP:
		if c.SFTP.Path == "" {
			return name
		}
		return path.Join(c.SFTP.Path, name)
	case ProviderObjectStore:
		if c.ObjectStore.Prefix == "" {
			return name
		}
		return path.Join(c.ObjectStore.Prefix, name)
	default:
		return name
	}
}

// WatchedFiles returns the files whose changes should nudge a sync: the
// live database and, for local_folder, the mirrored copy.
func (c *SyncConfig) WatchedFiles() []string {
	var files []string
	if c.DatabasePath != "" {
		files = append(files, c.DatabasePath)
	}
	if c.Provider == ProviderLocalFolder && c.LocalFolder.Path != "" {
		files = append(files, c.RemotePath())
	}
	return files
}

// MarkActiveProvider flags the selected provider's sub-config so that
// conditional validation applies only to it.
func (c *SyncConfig) MarkActiveProvider() {
	c.LocalFolder.Active = c.Provider == ProviderLocalFolder
	c.Drive.Active = c.Provider == ProviderDriveOAuth
	c.SFTP.Active = c.Provider == ProviderSFTP
	c.ObjectStore.Active = c.Provider == ProviderObjectStore
}
