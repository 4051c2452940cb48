package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

func TestRunCmd_StartsAndShutsDown(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	require.NoError(t, ts.settings.Apply(map[string]string{
		"sync.provider":      "local_folder",
		"sync.enabled":       "true",
		"sync.database_path": "/data/hustlenest.db",
		"local_folder.path":  "/mnt/nas",
		"watch.enabled":      "true",
	}))
	ts.engine.shutdownOutcome = &domain.SyncOutcome{
		Trigger:          domain.TriggerShutdown,
		Direction:        domain.DirectionPushed,
		Success:          true,
		BytesTransferred: 100,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-ts.engine.started
		ts.engine.events <- domain.SyncEvent{
			Type:    domain.EventFinished,
			Trigger: domain.TriggerStartup,
			Outcome: &domain.SyncOutcome{Trigger: domain.TriggerStartup, Success: true, Note: domain.NoteUnchanged},
		}
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out, err := executeContext(ctx, "run")

	require.NoError(t, err)
	assert.Contains(t, out, "Syncing /data/hustlenest.db")
	assert.Contains(t, out, "startup skipped (unchanged)")
	assert.Contains(t, out, "shutdown pushed 100 B")

	assert.Equal(t, 1, ts.engine.startupCalls)
	assert.Equal(t, 1, ts.engine.shutdowns)
	assert.True(t, ts.watcher.started)
	assert.True(t, ts.watcher.stopped)
}

func TestRunCmd_DisabledStillRuns(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	ts.engine.shutdownErr = domain.ErrTimeout

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-ts.engine.started
		cancel()
	}()

	out, err := executeContext(ctx, "run")

	require.NoError(t, err)
	assert.Contains(t, out, "Sync is disabled")
	assert.Contains(t, out, "did not finish in time")
	assert.False(t, ts.watcher.started)
}

func TestRunCmd_NotConfigured(t *testing.T) {
	_, cleanup := setupTestServices()
	defer cleanup()
	syncEngine = nil

	_, err := execute("run")
	assert.Error(t, err)
}

func TestRunCmd_AppliesSettingsWrittenElsewhere(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()
	require.NoError(t, ts.settings.Apply(map[string]string{
		"sync.provider":      "local_folder",
		"sync.enabled":       "true",
		"sync.database_path": "/data/hustlenest.db",
		"local_folder.path":  "/mnt/nas",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-ts.settingsW.started

		// A rewrite with identical content changes nothing
		ts.settingsW.onChange()

		// 'nestsync config set' from another terminal
		assert.NoError(t, ts.settings.Apply(map[string]string{"sync.interval": "1m"}))
		ts.settingsW.onChange()
	}()

	_, err := executeContext(ctx, "run")
	require.NoError(t, err)

	cfg, calls := ts.engine.lastReconfigure()
	require.NotNil(t, cfg)
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, "/mnt/nas", cfg.LocalFolder.Path)
	assert.True(t, ts.settingsW.stopped)
}

func TestRunCmd_InvalidReloadKeepsRunningSettings(t *testing.T) {
	ts, cleanup := setupTestServices()
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-ts.settingsW.started

		// A hand edit that bypasses validation
		assert.NoError(t, ts.configStore.Set("sync.max_attempts", 99))
		assert.NoError(t, ts.configStore.Save())
		ts.settingsW.onChange()
	}()

	_, err := executeContext(ctx, "run")
	require.NoError(t, err)

	cfg, calls := ts.engine.lastReconfigure()
	assert.Nil(t, cfg)
	assert.Zero(t, calls)
}
