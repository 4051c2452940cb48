// Package cli provides the nestsync command line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/release"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// ChangeWatcher nudges the engine when the live database changes.
type ChangeWatcher interface {
	Start(ctx context.Context) error
	Stop() error
}

// WatcherFactory builds a watcher for the configured database.
type WatcherFactory func(cfg domain.SyncConfig) (ChangeWatcher, error)

// SettingsWatcherFactory builds a watcher that calls onChange after the
// settings file is rewritten. Without one, 'run' keeps the settings it
// started with.
type SettingsWatcherFactory func(onChange func()) (ChangeWatcher, error)

// ReleaseChecker looks up the latest published release.
type ReleaseChecker interface {
	Latest(ctx context.Context) (*release.Release, error)
}

// Services holds everything the commands drive.
type Services struct {
	Settings         driving.SettingsService
	Credentials      driving.CredentialsService
	Authorizer       driving.Authorizer
	Engine           driving.SyncEngine
	Watchers         WatcherFactory
	SettingsWatchers SettingsWatcherFactory
	Releases         ReleaseChecker
}

var (
	version = "dev"

	settingsService    driving.SettingsService
	credentialsService driving.CredentialsService
	authorizer         driving.Authorizer
	syncEngine         driving.SyncEngine
	newWatcher         WatcherFactory
	newSettingsWatcher SettingsWatcherFactory
	releaseChecker     ReleaseChecker

	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:   "nestsync",
	Short: "Keep the HustleNest database in sync with a remote copy",
	Long: `nestsync keeps a single HustleNest database file in step with one
remote copy: a cloud folder, Google Drive, Dropbox, an SFTP host or an
S3-compatible bucket.

Run 'nestsync run' to sync in the background, or use 'nestsync pull' and
'nestsync push' for one-off transfers.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
		if logFile != "" {
			logger.SetFile(logFile, logger.DefaultFileOptions())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to a rotating file")
}

// SetServices wires the core services into the commands.
func SetServices(s Services) {
	settingsService = s.Settings
	credentialsService = s.Credentials
	authorizer = s.Authorizer
	syncEngine = s.Engine
	newWatcher = s.Watchers
	newSettingsWatcher = s.SettingsWatchers
	releaseChecker = s.Releases
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	defer logger.Close()
	return rootCmd.Execute()
}
