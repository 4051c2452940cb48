// Command nestsync keeps the HustleNest database in sync with a remote copy.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/auth"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/livedb"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/oauth"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/release"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/watcher"
	"github.com/custodia-labs/nestsync/internal/adapters/driving/cli"
	oauthcallback "github.com/custodia-labs/nestsync/internal/adapters/driving/oauth"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/services"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// settingsDebounce lets an editor finish writing config.toml.
const settingsDebounce = time.Second

func main() {
	os.Exit(run())
}

func run() int {
	home := os.Getenv("NESTSYNC_HOME")

	configStore, err := file.NewConfigStore(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	settings := services.NewSettingsService(configStore)

	dataDir := ""
	if home != "" {
		dataDir = filepath.Join(home, "data")
	}
	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close state database: %v", err)
		}
	}()

	credentialsStore := store.CredentialsStore()
	credentials := services.NewCredentialsService(credentialsStore)

	oauthClient := oauth.NewClient(nil)
	tokens := auth.NewFactory(credentialsStore, oauthClient)

	factory := backends.NewFactory(credentialsStore, tokens)
	backends.RegisterDefaults(factory)

	cfg, err := settings.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read settings: %v\n", err)
		return 1
	}

	orchestrator := services.NewSyncOrchestrator(
		*cfg,
		factory,
		store.SyncStateStore(),
		livedb.NewGuard(),
		livedb.NewSQLiteInspector(),
	)
	defer func() {
		if err := orchestrator.Close(); err != nil {
			logger.Warn("failed to close backend: %v", err)
		}
	}()
	engine := services.NewScheduler(orchestrator, store.OutcomeStore())

	authorizer := services.NewOAuthAuthorizer(oauthClient, credentials, oauthcallback.StartCallback)
	authorizer.OpenBrowser = oauthcallback.OpenBrowser
	authorizer.ShowURL = func(url string) {
		fmt.Fprintf(os.Stderr, "If the browser does not open, visit:\n  %s\n", url)
	}

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Settings:    settings,
		Credentials: credentials,
		Authorizer:  authorizer,
		Engine:      engine,
		Watchers: func(cfg domain.SyncConfig) (cli.ChangeWatcher, error) {
			w, err := watcher.New(cfg.WatchedFiles(), cfg.Watch.Debounce, engine)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		SettingsWatchers: func(onChange func()) (cli.ChangeWatcher, error) {
			w, err := watcher.New([]string{configStore.Path()}, settingsDebounce, watcher.NudgeFunc(onChange))
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Releases: release.NewChecker(nil),
	})

	if err := cli.Execute(); err != nil {
		return 1
	}
	return 0
}
