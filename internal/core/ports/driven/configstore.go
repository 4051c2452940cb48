package driven

import "time"

// ConfigReader reads dotted keys such as "sync.provider". Typed getters
// return the zero value when a key is missing or holds another type.
type ConfigReader interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool

	// GetDuration accepts "5m" style strings and whole seconds.
	GetDuration(key string) time.Duration

	// Keys lists every key that has a value, sorted.
	Keys() []string
}

// ConfigStore is the persistent settings behind SettingsService.
// Set only changes the working copy; Save writes it out and Load
// replaces the working copy with what was last written.
type ConfigStore interface {
	ConfigReader

	Set(key string, value any) error
	Save() error
	Load() error

	// Path is where the settings live, for display.
	Path() string
}
