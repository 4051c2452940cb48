package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/nestsync/internal/fileutil"
)

type countingNudger struct {
	n atomic.Int32
}

func (c *countingNudger) Nudge() { c.n.Add(1) }

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	for range 5 {
		d.Add()
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })

	d.Add()
	d.Stop()
	d.Add()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestNew_RequiresFiles(t *testing.T) {
	_, err := New(nil, time.Second, &countingNudger{})
	assert.Error(t, err)
}

func TestWatcher_NudgesOnDatabaseWrite(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "hustlenest.db")
	require.NoError(t, os.WriteFile(live, []byte("v1"), 0o600))

	nudger := &countingNudger{}
	w, err := New([]string{live}, 50*time.Millisecond, nudger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(live, []byte("v2"), 0o600))
	require.NoError(t, os.WriteFile(live+"-wal", []byte("frames"), 0o600))

	assert.Eventually(t, func() bool { return nudger.n.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "hustlenest.db")
	require.NoError(t, os.WriteFile(live, []byte("v1"), 0o600))

	nudger := &countingNudger{}
	w, err := New([]string{live}, 30*time.Millisecond, nudger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, nudger.n.Load())
}

func TestWatcher_WatchesSeveralDirectories(t *testing.T) {
	live := filepath.Join(t.TempDir(), "hustlenest.db")
	remote := filepath.Join(t.TempDir(), "hustlenest.db")

	nudger := &countingNudger{}
	w, err := New([]string{live, remote}, 30*time.Millisecond, nudger)
	require.NoError(t, err)
	assert.Len(t, w.dirs, 2)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(remote, []byte("from another device"), 0o600))

	assert.Eventually(t, func() bool { return nudger.n.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_StopsWithContext(t *testing.T) {
	live := filepath.Join(t.TempDir(), "hustlenest.db")
	w, err := New([]string{live}, time.Second, &countingNudger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "Stop is idempotent")
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone", "hustlenest.db")
	w, err := New([]string{missing}, time.Second, &countingNudger{})
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_SkipsMissingSecondaryDirectory(t *testing.T) {
	live := filepath.Join(t.TempDir(), "hustlenest.db")
	missing := filepath.Join(t.TempDir(), "unmounted", "hustlenest.db")

	nudger := &countingNudger{}
	w, err := New([]string{live, missing}, 30*time.Millisecond, nudger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(live, []byte("v1"), 0o600))

	assert.Eventually(t, func() bool { return nudger.n.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_NudgeFuncOnAtomicRewrite(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(settings, []byte("[sync]\n"), 0o600))

	var calls atomic.Int32
	w, err := New([]string{settings}, 30*time.Millisecond, NudgeFunc(func() { calls.Add(1) }))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, fileutil.WriteAtomic(settings, []byte("[sync]\ninterval = \"1m\"\n"), 0o600))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
}
