package driving

import "github.com/custodia-labs/nestsync/internal/core/domain"

// SettingsService manages the sync configuration.
type SettingsService interface {
	// Get retrieves the current sync configuration, with defaults applied.
	Get() (*domain.SyncConfig, error)

	// Reload re-reads the persisted settings, picking up changes written
	// by another process, and returns the result.
	Reload() (*domain.SyncConfig, error)

	// Save validates and persists the sync configuration.
	Save(cfg *domain.SyncConfig) error

	// Set updates a single configuration key from its string form.
	Set(key, value string) error

	// Apply updates several keys at once, validating the combined result.
	Apply(changes map[string]string) error

	// Validate checks a configuration without saving it.
	Validate(cfg *domain.SyncConfig) error

	// GetDefaults returns default settings.
	GetDefaults() domain.SyncConfig

	// Keys returns every key Set accepts.
	Keys() []string
}
