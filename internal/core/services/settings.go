package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	KeyProvider        = "sync.provider"
	KeyEnabled         = "sync.enabled"
	KeyInterval        = "sync.interval"
	KeyRemoteName      = "sync.remote_name"
	KeyDatabasePath    = "sync.database_path"
	KeyStagingDir      = "sync.staging_dir"
	KeyVerifyDownload  = "sync.verify_download"
	KeyCallTimeout     = "sync.call_timeout"
	KeyMaxAttempts     = "sync.max_attempts"
	KeyRetryBaseDelay  = "sync.retry_base_delay"
	KeyShutdownTimeout = "sync.shutdown_timeout"
	KeyCredentialsRef  = "credentials.ref"

	KeyWatchEnabled  = "watch.enabled"
	KeyWatchDebounce = "watch.debounce"

	KeyLocalFolderPath = "local_folder.path"

	KeyDriveFolderID     = "drive.folder_id"
	KeyDriveClientID     = "drive.client_id"
	KeyDriveClientSecret = "drive.client_secret"

	KeyTokenCloudPath = "token_cloud.path"

	KeySFTPHost            = "sftp.host"
	KeySFTPPort            = "sftp.port"
	KeySFTPUser            = "sftp.user"
	KeySFTPPath            = "sftp.path"
	KeySFTPKnownHosts      = "sftp.known_hosts"
	KeySFTPInsecureHostKey = "sftp.insecure_ignore_host_key"

	KeyObjectStoreEndpoint = "object_store.endpoint"
	KeyObjectStoreBucket   = "object_store.bucket"
	KeyObjectStorePrefix   = "object_store.prefix"
	KeyObjectStoreRegion   = "object_store.region"
	KeyObjectStoreSecure   = "object_store.secure"
)

// settingField binds a config key to a field of domain.SyncConfig.
// field returns a pointer to a string, bool, int, time.Duration or
// domain.ProviderKind.
type settingField struct {
	key   string
	field func(c *domain.SyncConfig) any
}

var settingFields = []settingField{
	{KeyProvider, func(c *domain.SyncConfig) any { return &c.Provider }},
	{KeyEnabled, func(c *domain.SyncConfig) any { return &c.Enabled }},
	{KeyInterval, func(c *domain.SyncConfig) any { return &c.Interval }},
	{KeyRemoteName, func(c *domain.SyncConfig) any { return &c.RemoteName }},
	{KeyDatabasePath, func(c *domain.SyncConfig) any { return &c.DatabasePath }},
	{KeyStagingDir, func(c *domain.SyncConfig) any { return &c.StagingDir }},
	{KeyVerifyDownload, func(c *domain.SyncConfig) any { return &c.VerifyDownload }},
	{KeyCallTimeout, func(c *domain.SyncConfig) any { return &c.CallTimeout }},
	{KeyMaxAttempts, func(c *domain.SyncConfig) any { return &c.MaxAttempts }},
	{KeyRetryBaseDelay, func(c *domain.SyncConfig) any { return &c.RetryBaseDelay }},
	{KeyShutdownTimeout, func(c *domain.SyncConfig) any { return &c.ShutdownTimeout }},
	{KeyCredentialsRef, func(c *domain.SyncConfig) any { return &c.CredentialsRef }},
	{KeyWatchEnabled, func(c *domain.SyncConfig) any { return &c.Watch.Enabled }},
	{KeyWatchDebounce, func(c *domain.SyncConfig) any { return &c.Watch.Debounce }},
	{KeyLocalFolderPath, func(c *domain.SyncConfig) any { return &c.LocalFolder.Path }},
	{KeyDriveFolderID, func(c *domain.SyncConfig) any { return &c.Drive.FolderID }},
	{KeyDriveClientID, func(c *domain.SyncConfig) any { return &c.Drive.ClientID }},
	{KeyDriveClientSecret, func(c *domain.SyncConfig) any { return &c.Drive.ClientSecret }},
	{KeyTokenCloudPath, func(c *domain.SyncConfig) any { return &c.TokenCloud.Path }},
	{KeySFTPHost, func(c *domain.SyncConfig) any { return &c.SFTP.Host }},
	{KeySFTPPort, func(c *domain.SyncConfig) any { return &c.SFTP.Port }},
	{KeySFTPUser, func(c *domain.SyncConfig) any { return &c.SFTP.User }},
	{KeySFTPPath, func(c *domain.SyncConfig) any { return &c.SFTP.Path }},
	{KeySFTPKnownHosts, func(c *domain.SyncConfig) any { return &c.SFTP.KnownHostsPath }},
	{KeySFTPInsecureHostKey, func(c *domain.SyncConfig) any { return &c.SFTP.InsecureIgnoreHostKey }},
	{KeyObjectStoreEndpoint, func(c *domain.SyncConfig) any { return &c.ObjectStore.Endpoint }},
	{KeyObjectStoreBucket, func(c *domain.SyncConfig) any { return &c.ObjectStore.Bucket }},
	{KeyObjectStorePrefix, func(c *domain.SyncConfig) any { return &c.ObjectStore.Prefix }},
	{KeyObjectStoreRegion, func(c *domain.SyncConfig) any { return &c.ObjectStore.Region }},
	{KeyObjectStoreSecure, func(c *domain.SyncConfig) any { return &c.ObjectStore.Secure }},
}

// SettingsService manages the sync configuration.
type SettingsService struct {
	configStore driven.ConfigStore
	validate    *validator.Validate
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Get retrieves the current configuration. Keys absent from the store
// keep their default values.
func (s *SettingsService) Get() (*domain.SyncConfig, error) {
	cfg := domain.DefaultSyncConfig()

	for _, f := range settingFields {
		if _, exists := s.configStore.Get(f.key); !exists {
			continue
		}
		switch p := f.field(&cfg).(type) {
		case *string:
			*p = s.configStore.GetString(f.key)
		case *bool:
			*p = s.configStore.GetBool(f.key)
		case *int:
			*p = s.configStore.GetInt(f.key)
		case *time.Duration:
			*p = s.configStore.GetDuration(f.key)
		case *domain.ProviderKind:
			*p = domain.ProviderKind(s.configStore.GetString(f.key))
		}
	}

	return &cfg, nil
}

// Reload re-reads the store and returns the configuration it now holds.
// A file edited by hand into an invalid state is reported, not returned.
func (s *SettingsService) Reload() (*domain.SyncConfig, error) {
	if err := s.configStore.Load(); err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	cfg, err := s.Get()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates and persists the configuration.
func (s *SettingsService) Save(cfg *domain.SyncConfig) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}

	for _, f := range settingFields {
		var value any
		switch p := f.field(cfg).(type) {
		case *string:
			value = *p
		case *bool:
			value = *p
		case *int:
			value = *p
		case *time.Duration:
			value = p.String()
		case *domain.ProviderKind:
			value = p.String()
		}
		if err := s.configStore.Set(f.key, value); err != nil {
			return fmt.Errorf("save %s: %w", f.key, err)
		}
	}

	if err := s.configStore.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Set updates a single key from its string form and saves the result.
// The whole configuration must still validate afterwards.
func (s *SettingsService) Set(key, value string) error {
	return s.Apply(map[string]string{key: value})
}

// Apply updates several keys at once and saves the result if the
// combined configuration validates. Nothing is saved on error.
func (s *SettingsService) Apply(changes map[string]string) error {
	cfg, err := s.Get()
	if err != nil {
		return err
	}
	for key, value := range changes {
		if err := setField(cfg, key, value); err != nil {
			return err
		}
	}
	return s.Save(cfg)
}

func setField(cfg *domain.SyncConfig, key, value string) error {
	f, ok := lookupField(key)
	if !ok {
		return fmt.Errorf("%w: unknown key %q", domain.ErrInvalidInput, key)
	}

	switch p := f.field(cfg).(type) {
	case *string:
		*p = value
	case *bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false", domain.ErrInvalidInput, key)
		}
		*p = b
	case *int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a whole number", domain.ErrInvalidInput, key)
		}
		*p = n
	case *time.Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be a duration such as 5m or 30s", domain.ErrInvalidInput, key)
		}
		*p = d
	case *domain.ProviderKind:
		*p = domain.ProviderKind(value)
	}
	return nil
}

// Validate checks a configuration without saving it.
func (s *SettingsService) Validate(cfg *domain.SyncConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", domain.ErrInvalidInput)
	}
	if !cfg.Provider.IsValid() {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	checked := *cfg
	checked.MarkActiveProvider()
	if err := s.validate.Struct(checked); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.SyncConfig {
	return domain.DefaultSyncConfig()
}

// Keys returns every key Set accepts.
func (s *SettingsService) Keys() []string {
	keys := make([]string, len(settingFields))
	for i, f := range settingFields {
		keys[i] = f.key
	}
	return keys
}

func lookupField(key string) (settingField, bool) {
	for _, f := range settingFields {
		if f.key == key {
			return f, true
		}
	}
	return settingField{}, false
}

// describeValidation turns validator errors into short messages.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Strip the root struct name: "SyncConfig.SFTP.Host" -> "SFTP.Host"
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
