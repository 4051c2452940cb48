package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/fileutil"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure SyncOrchestrator satisfies what the scheduler needs.
var _ syncRunner = (*SyncOrchestrator)(nil)

// Staging file name prefixes.
const (
	stagingPullPrefix = "pull-"
	stagingPushPrefix = "push-"
)

// stateSaveTimeout bounds persisting state after an attempt, which happens
// even when the attempt's own context was cancelled.
const stateSaveTimeout = 5 * time.Second

// SyncOrchestrator performs one sync attempt at a time: compare the local
// file with the remote, then pull, push or skip.
//
// Transfers never touch the live file directly. A pull downloads to a
// private staging file which is verified and then renamed over the live
// file. A push snapshots the live file to staging under the exclusive
// guard and uploads the snapshot.
type SyncOrchestrator struct {
	factory    driven.BackendFactory
	stateStore driven.SyncStateStore
	guard      driven.LiveFileGuard
	inspector  driven.DatabaseInspector

	// runMu is held for the whole of an attempt.
	runMu sync.Mutex

	mu      sync.Mutex
	cfg     domain.SyncConfig
	backend driven.Backend
	stale   bool

	phaseMu sync.RWMutex
	phase   domain.Phase
	onPhase func(domain.Phase)
}

// NewSyncOrchestrator creates a new sync orchestrator.
// guard may be nil when nothing else touches the database file; inspector
// may be nil to copy files as-is and skip structural verification.
func NewSyncOrchestrator(
	cfg domain.SyncConfig,
	factory driven.BackendFactory,
	stateStore driven.SyncStateStore,
	guard driven.LiveFileGuard,
	inspector driven.DatabaseInspector,
) *SyncOrchestrator {
	if guard == nil {
		guard = &sync.RWMutex{}
	}
	return &SyncOrchestrator{
		factory:    factory,
		stateStore: stateStore,
		guard:      guard,
		inspector:  inspector,
		cfg:        cfg,
		phase:      domain.PhaseIdle,
	}
}

// SetPhaseListener registers fn to be called on every phase change.
// fn must not block.
func (o *SyncOrchestrator) SetPhaseListener(fn func(domain.Phase)) {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()
	o.onPhase = fn
}

// Phase returns the current phase.
func (o *SyncOrchestrator) Phase() domain.Phase {
	o.phaseMu.RLock()
	defer o.phaseMu.RUnlock()
	return o.phase
}

func (o *SyncOrchestrator) setPhase(p domain.Phase) {
	o.phaseMu.Lock()
	o.phase = p
	fn := o.onPhase
	o.phaseMu.Unlock()

	if fn != nil {
		fn(p)
	}
}

// Config returns a copy of the current configuration.
func (o *SyncOrchestrator) Config() domain.SyncConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Reconfigure replaces the configuration. The backend is rebuilt lazily
// before the next attempt; an attempt already running keeps its backend.
func (o *SyncOrchestrator) Reconfigure(cfg domain.SyncConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.stale = true
}

// State returns the persisted sync state for the configured database.
func (o *SyncOrchestrator) State(ctx context.Context) (domain.SyncState, error) {
	cfg := o.Config()
	if o.stateStore == nil {
		return domain.SyncState{}, nil
	}
	return o.stateStore.Get(ctx, cfg.DatabasePath)
}

// Close releases the current backend.
func (o *SyncOrchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.backend == nil {
		return nil
	}
	err := o.backend.Close()
	o.backend = nil
	return err
}

// CleanStaging removes staging files left behind by an interrupted attempt.
func (o *SyncOrchestrator) CleanStaging() error {
	cfg := o.Config()
	dir := cfg.EffectiveStagingDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, stagingPullPrefix) && !strings.HasPrefix(name, stagingPushPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove stale staging file %s: %v", name, err)
		}
	}
	return nil
}

// Run performs one sync attempt for trigger and returns its outcome.
// It never panics on backend failure; every error is reported in the outcome.
func (o *SyncOrchestrator) Run(ctx context.Context, trigger domain.Trigger) domain.SyncOutcome {
	outcome := domain.SyncOutcome{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Phase:     domain.PhaseIdle,
		Direction: domain.DirectionNone,
		StartedAt: time.Now(),
	}

	// 1. Only one attempt at a time
	if !o.runMu.TryLock() {
		finishOutcome(&outcome, domain.ErrSyncInProgress)
		return outcome
	}
	defer o.runMu.Unlock()
	defer o.setPhase(domain.PhaseIdle)

	// 2. Disabled config never contacts the remote
	cfg := o.Config()
	if !cfg.IsActive() {
		outcome.Note = domain.NoteDisabled
		finishOutcome(&outcome, domain.ErrSyncDisabled)
		return outcome
	}

	logger.Section("Sync " + string(trigger))

	// 3. Load the baseline
	state, err := o.stateStore.Get(ctx, cfg.DatabasePath)
	if err != nil {
		finishOutcome(&outcome, fmt.Errorf("get sync state: %w", err))
		return outcome
	}

	// 4. Compare, decide, transfer
	newState, err := o.attempt(ctx, cfg, state, &outcome)
	finishOutcome(&outcome, err)

	// 5. Persist: fingerprints only move on success
	if err != nil {
		newState = state
		newState.LastError = err.Error()
		newState.LastErrorKind = outcome.ErrorKind
	} else {
		newState.LastError = ""
		newState.LastErrorKind = domain.ErrorKindNone
	}
	newState.LastAttemptAt = outcome.EndedAt

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateSaveTimeout)
	defer cancel()
	if saveErr := o.stateStore.Save(saveCtx, cfg.DatabasePath, newState); saveErr != nil {
		logger.Warn("failed to save sync state: %v", saveErr)
		if outcome.Success {
			finishOutcome(&outcome, fmt.Errorf("%w: save sync state: %w", domain.ErrIOFailure, saveErr))
		}
	}

	logger.Info("Sync %s finished: phase=%s direction=%s success=%t note=%s error=%s",
		trigger, outcome.Phase, outcome.Direction, outcome.Success, outcome.Note, outcome.Error)
	return outcome
}

// attempt runs the state machine and returns the state to record on success.
func (o *SyncOrchestrator) attempt(
	ctx context.Context,
	cfg domain.SyncConfig,
	state domain.SyncState,
	outcome *domain.SyncOutcome,
) (domain.SyncState, error) {
	backend, err := o.ensureBackend(ctx)
	if err != nil {
		return state, err
	}
	policy := newRetryPolicy(cfg)

	o.setPhase(domain.PhaseComparing)
	outcome.Phase = domain.PhaseComparing

	local, err := o.captureLocal(ctx, cfg.DatabasePath)
	if err != nil {
		return state, err
	}

	if _, err := policy.do(ctx, backend, "refresh auth", backend.RefreshAuthIfNeeded); err != nil {
		return state, fmt.Errorf("refresh auth: %w", err)
	}

	var remote domain.RemoteInfo
	_, err = policy.do(ctx, backend, "probe", func(ctx context.Context) error {
		var err error
		remote, err = backend.Probe(ctx)
		return err
	})
	if err != nil {
		return state, fmt.Errorf("probe remote: %w", err)
	}

	d := decide(outcome.Trigger.Mode(), state, local, remote)
	logger.Debug("local=%+v remote=%+v baseline=%t -> %s", local, remote, state.HasBaseline(), d.action)

	switch d.action {
	case actionPull:
		o.setPhase(domain.PhasePulling)
		outcome.Phase = domain.PhasePulling
		return o.pull(ctx, cfg, backend, policy, state, local, remote, outcome)

	case actionPush:
		o.setPhase(domain.PhasePushing)
		outcome.Phase = domain.PhasePushing
		outcome.ConflictResolvedLocal = d.conflict
		outcome.Note = d.note
		if d.conflict {
			logger.Warn("local and remote both changed since last sync; keeping local copy")
		}
		return o.push(ctx, cfg, backend, policy, state, remote, outcome)

	default:
		o.setPhase(domain.PhaseSkipped)
		outcome.Phase = domain.PhaseSkipped
		outcome.Note = d.note
		return state, nil
	}
}

// pull downloads the remote to staging, verifies it and swaps it in.
func (o *SyncOrchestrator) pull(
	ctx context.Context,
	cfg domain.SyncConfig,
	backend driven.Backend,
	policy retryPolicy,
	state domain.SyncState,
	decided localFile,
	remote domain.RemoteInfo,
	outcome *domain.SyncOutcome,
) (domain.SyncState, error) {
	staging, err := newStagingFile(cfg, stagingPullPrefix)
	if err != nil {
		return state, err
	}
	defer os.Remove(staging)

	// 1. Download
	var n int64
	outcome.Attempts, err = policy.do(ctx, backend, "download", func(ctx context.Context) error {
		var err error
		n, err = backend.Download(ctx, staging)
		return err
	})
	if err != nil {
		return state, fmt.Errorf("download: %w", err)
	}
	outcome.BytesTransferred = n

	// 2. Verify before anything touches the live file
	info, err := os.Stat(staging)
	if err != nil {
		return state, fmt.Errorf("%w: stat staging file: %w", domain.ErrIOFailure, err)
	}
	if info.Size() == 0 {
		return state, fmt.Errorf("%w: empty download", domain.ErrCorrupt)
	}
	if cfg.VerifyDownload && o.inspector != nil {
		if err := o.inspector.Verify(ctx, staging); err != nil {
			return state, fmt.Errorf("verify download: %w", err)
		}
	}

	// 3. Swap under the exclusive guard, unless local moved during the download
	o.guard.Lock()
	defer o.guard.Unlock()

	current, err := o.checkpointAndStat(ctx, cfg.DatabasePath)
	if err != nil {
		return state, err
	}
	if current.exists != decided.exists || !current.fp.Equal(decided.fp) {
		logger.Warn("local database changed while downloading; keeping local copy")
		return state, fmt.Errorf("%w: local database changed during download", domain.ErrConflict)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return state, fmt.Errorf("%w: create database dir: %w", domain.ErrIOFailure, err)
	}
	if err := fileutil.Replace(staging, cfg.DatabasePath); err != nil {
		return state, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	if !remote.ModTime.IsZero() {
		if err := os.Chtimes(cfg.DatabasePath, remote.ModTime, remote.ModTime); err != nil {
			logger.Warn("could not set modification time on pulled database: %v", err)
		}
	}

	local, err := statLocal(cfg.DatabasePath)
	if err != nil {
		return state, err
	}

	outcome.Direction = domain.DirectionPulled
	return domain.SyncState{
		LastLocal:     local.fp,
		LastRemote:    remote.Fingerprint,
		LastSyncedAt:  time.Now(),
		LastDirection: domain.DirectionPulled,
	}, nil
}

// push snapshots the live file to staging and uploads the snapshot.
func (o *SyncOrchestrator) push(
	ctx context.Context,
	cfg domain.SyncConfig,
	backend driven.Backend,
	policy retryPolicy,
	state domain.SyncState,
	remote domain.RemoteInfo,
	outcome *domain.SyncOutcome,
) (domain.SyncState, error) {
	staging, err := newStagingFile(cfg, stagingPushPrefix)
	if err != nil {
		return state, err
	}
	defer os.Remove(staging)

	// 1. Snapshot under the exclusive guard
	local, err := o.snapshot(ctx, cfg.DatabasePath, staging)
	if err != nil {
		return state, err
	}

	// 2. Upload the snapshot, never the live file
	var uploaded domain.RemoteInfo
	outcome.Attempts, err = policy.do(ctx, backend, "upload", func(ctx context.Context) error {
		var err error
		uploaded, err = backend.Upload(ctx, staging)
		return err
	})
	if err != nil {
		return state, fmt.Errorf("upload: %w", err)
	}
	outcome.BytesTransferred = local.fp.Size

	// 3. Some providers return little metadata from an upload
	if !uploaded.Exists || uploaded.Fingerprint.IsZero() {
		_, err = policy.do(ctx, backend, "probe", func(ctx context.Context) error {
			var err error
			uploaded, err = backend.Probe(ctx)
			return err
		})
		if err != nil {
			return state, fmt.Errorf("probe after upload: %w", err)
		}
	}

	outcome.Direction = domain.DirectionPushed
	return domain.SyncState{
		LastLocal:     local.fp,
		LastRemote:    uploaded.Fingerprint,
		LastSyncedAt:  time.Now(),
		LastDirection: domain.DirectionPushed,
	}, nil
}

// ensureBackend returns the current backend, rebuilding it if the
// configuration changed since it was created.
func (o *SyncOrchestrator) ensureBackend(ctx context.Context) (driven.Backend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.backend != nil && !o.stale {
		return o.backend, nil
	}
	if o.backend != nil {
		if err := o.backend.Close(); err != nil {
			logger.Debug("closing previous backend: %v", err)
		}
		o.backend = nil
	}
	if o.factory == nil {
		return nil, fmt.Errorf("create backend: %w", domain.ErrNotImplemented)
	}

	backend, err := o.factory.Create(ctx, o.cfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	o.backend = backend
	o.stale = false
	return backend, nil
}

// captureLocal takes the local fingerprint under the exclusive guard,
// after folding any write-ahead log into the main file.
func (o *SyncOrchestrator) captureLocal(ctx context.Context, path string) (localFile, error) {
	o.guard.Lock()
	defer o.guard.Unlock()
	return o.checkpointAndStat(ctx, path)
}

// snapshot copies the live file to staging under the exclusive guard and
// returns the fingerprint of exactly what was copied.
func (o *SyncOrchestrator) snapshot(ctx context.Context, live, staging string) (localFile, error) {
	o.guard.Lock()
	defer o.guard.Unlock()

	local, err := o.checkpointAndStat(ctx, live)
	if err != nil {
		return local, err
	}
	if !local.exists {
		return local, fmt.Errorf("%w: local database %s is missing", domain.ErrIOFailure, live)
	}

	n, err := fileutil.CopyFile(live, staging, 0o600)
	if err != nil {
		return local, fmt.Errorf("%w: snapshot database: %w", domain.ErrIOFailure, err)
	}
	if n != local.fp.Size {
		return local, fmt.Errorf("%w: snapshot copied %d of %d bytes", domain.ErrIOFailure, n, local.fp.Size)
	}
	return local, nil
}

// checkpointAndStat must be called with the exclusive guard held.
func (o *SyncOrchestrator) checkpointAndStat(ctx context.Context, path string) (localFile, error) {
	local, err := statLocal(path)
	if err != nil || !local.exists || o.inspector == nil {
		return local, err
	}
	if err := o.inspector.Checkpoint(ctx, path); err != nil {
		return local, fmt.Errorf("%w: checkpoint: %w", domain.ErrIOFailure, err)
	}
	return statLocal(path)
}

// statLocal fingerprints the file at path.
func statLocal(path string) (localFile, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return localFile{}, nil
	}
	if err != nil {
		return localFile{}, fmt.Errorf("%w: stat local database: %w", domain.ErrIOFailure, err)
	}
	if !info.Mode().IsRegular() {
		return localFile{}, fmt.Errorf("%w: %s is not a regular file", domain.ErrIOFailure, path)
	}
	return localFile{
		exists: true,
		fp: domain.Fingerprint{
			Size:    info.Size(),
			ModTime: info.ModTime(),
		},
	}, nil
}

// newStagingFile creates an empty private file in the staging directory.
func newStagingFile(cfg domain.SyncConfig, prefix string) (string, error) {
	dir := cfg.EffectiveStagingDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create staging dir: %w", domain.ErrIOFailure, err)
	}
	f, err := os.CreateTemp(dir, prefix+"*.db")
	if err != nil {
		return "", fmt.Errorf("%w: create staging file: %w", domain.ErrIOFailure, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("%w: create staging file: %w", domain.ErrIOFailure, err)
	}
	return name, nil
}

// finishOutcome stamps the end time and the error, if any.
func finishOutcome(outcome *domain.SyncOutcome, err error) {
	outcome.EndedAt = time.Now()
	if err != nil {
		outcome.Success = false
		outcome.ErrorKind = domain.KindOf(err)
		outcome.Error = err.Error()
		return
	}
	outcome.Success = true
	outcome.ErrorKind = domain.ErrorKindNone
	outcome.Error = ""
}
