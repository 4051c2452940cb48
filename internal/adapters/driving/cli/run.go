package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync in the background until interrupted",
	Long: `Starts the sync scheduler. On start the remote copy is pulled if it is
newer. After that the database is synced on a timer and, when watching is
enabled, shortly after local changes settle.

On Ctrl+C or SIGTERM a final push runs before exit, bounded by
sync.shutdown_timeout.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if syncEngine == nil || settingsService == nil {
		return errors.New("sync engine not configured")
	}

	cfg, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cmd, *cfg)
}

// serve runs the engine until ctx ends, then performs the shutdown push.
func serve(ctx context.Context, cmd *cobra.Command, cfg domain.SyncConfig) error {
	// The loop outlives ctx so the final push can run through it.
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelLoop()

	events, unsubscribe := syncEngine.Subscribe()
	defer unsubscribe()

	syncEngine.OnStartup()
	loopErr := make(chan error, 1)
	go func() { loopErr <- syncEngine.Start(loopCtx) }()

	if cfg.Watch.Enabled && newWatcher != nil {
		if w, err := startWatcher(loopCtx, cfg); err != nil {
			logger.Warn("change watching disabled: %v", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	if newSettingsWatcher != nil {
		reload := newSettingsReloader(cfg)
		if w, err := startSettingsWatcher(loopCtx, reload.apply); err != nil {
			logger.Warn("settings reload disabled: %v", err)
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	if cfg.IsActive() {
		cmd.Printf("Syncing %s with %s every %s. Press Ctrl+C to stop.\n",
			cfg.DatabasePath, cfg.Provider.Description(), cfg.EffectiveInterval())
	} else {
		cmd.Println(warningStyle.Render("Sync is disabled. Set sync.enabled and sync.provider with 'nestsync config set'."))
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == domain.EventFinished && ev.Outcome != nil {
				cmd.Println(describeOutcome(ev.Outcome))
			}

		case err := <-loopErr:
			return err

		case <-ctx.Done():
			return shutdown(cmd, cancelLoop, loopErr)
		}
	}
}

func shutdown(cmd *cobra.Command, cancelLoop context.CancelFunc, loopErr <-chan error) error {
	cmd.Println("Stopping, pushing the final copy...")

	outcome, err := syncEngine.OnShutdown(context.Background())
	cancelLoop()
	<-loopErr

	switch {
	case errors.Is(err, domain.ErrTimeout):
		cmd.Println(warningStyle.Render("Final push did not finish in time; it will run on next start."))
		return nil
	case err != nil:
		return fmt.Errorf("final push failed: %w", err)
	}
	cmd.Println(describeOutcome(outcome))
	return nil
}

// settingsReloader hands the engine settings rewritten by another process,
// such as 'nestsync config set' run from a second terminal.
type settingsReloader struct {
	mu      sync.Mutex
	current domain.SyncConfig
}

func newSettingsReloader(cfg domain.SyncConfig) *settingsReloader {
	return &settingsReloader{current: cfg}
}

func (r *settingsReloader) apply() {
	cfg, err := settingsService.Reload()
	if err != nil {
		logger.Warn("failed to reload settings: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if *cfg == r.current {
		return
	}
	if err := syncEngine.Reconfigure(*cfg); err != nil {
		logger.Warn("ignoring reloaded settings: %v", err)
		return
	}
	r.current = *cfg
	logger.Info("settings reloaded: provider=%s enabled=%t interval=%s",
		cfg.Provider, cfg.Enabled, cfg.EffectiveInterval())
}

func startSettingsWatcher(ctx context.Context, onChange func()) (ChangeWatcher, error) {
	w, err := newSettingsWatcher(onChange)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func startWatcher(ctx context.Context, cfg domain.SyncConfig) (ChangeWatcher, error) {
	w, err := newWatcher(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
