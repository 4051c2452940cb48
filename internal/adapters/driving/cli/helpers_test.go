package cli

import (
	"bytes"
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/release"
	"github.com/custodia-labs/nestsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
	"github.com/custodia-labs/nestsync/internal/core/services"
)

// mockEngine implements driving.SyncEngine for testing.
type mockEngine struct {
	mu sync.Mutex

	pullOutcome     *domain.SyncOutcome
	pushOutcome     *domain.SyncOutcome
	shutdownOutcome *domain.SyncOutcome
	err             error
	shutdownErr     error
	status          *driving.SyncStatus
	history         []domain.SyncOutcome
	events          chan domain.SyncEvent

	started      chan struct{}
	startupCalls int
	shutdowns    int
	reconfigured *domain.SyncConfig
	reconfigures int
}

var _ driving.SyncEngine = (*mockEngine)(nil)

func newMockEngine() *mockEngine {
	return &mockEngine{
		status:  &driving.SyncStatus{Provider: domain.ProviderNone, Phase: domain.PhaseIdle},
		events:  make(chan domain.SyncEvent, 8),
		started: make(chan struct{}),
	}
}

func (m *mockEngine) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return nil
}

func (m *mockEngine) OnStartup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startupCalls++
}

func (m *mockEngine) OnShutdown(context.Context) (*domain.SyncOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdowns++
	return m.shutdownOutcome, m.shutdownErr
}

func (m *mockEngine) PullLatest(context.Context) (*domain.SyncOutcome, error) {
	return m.pullOutcome, m.err
}

func (m *mockEngine) UploadNow(context.Context) (*domain.SyncOutcome, error) {
	return m.pushOutcome, m.err
}

func (m *mockEngine) Request(trigger domain.Trigger) (*driving.Ticket, error) {
	return &driving.Ticket{ID: "ticket", Trigger: trigger}, nil
}

func (m *mockEngine) Cancel(string) bool { return false }

func (m *mockEngine) Nudge() {}

func (m *mockEngine) Reconfigure(cfg domain.SyncConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconfigured = &cfg
	m.reconfigures++
	return nil
}

func (m *mockEngine) lastReconfigure() (*domain.SyncConfig, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconfigured, m.reconfigures
}

func (m *mockEngine) Status(context.Context) (*driving.SyncStatus, error) {
	return m.status, m.err
}

func (m *mockEngine) History(_ context.Context, limit int) ([]domain.SyncOutcome, error) {
	if limit > 0 && limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *mockEngine) Subscribe() (<-chan domain.SyncEvent, func()) {
	return m.events, func() {}
}

// mockAuthorizer implements driving.Authorizer for testing.
type mockAuthorizer struct {
	cfg *domain.SyncConfig
	err error
}

func (a *mockAuthorizer) Authorize(_ context.Context, cfg domain.SyncConfig) (*domain.Credentials, error) {
	a.cfg = &cfg
	if a.err != nil {
		return nil, a.err
	}
	return &domain.Credentials{Ref: cfg.EffectiveCredentialsRef(), Provider: cfg.Provider}, nil
}

// mockReleases implements ReleaseChecker for testing.
type mockReleases struct {
	latest *release.Release
	err    error
}

func (r *mockReleases) Latest(context.Context) (*release.Release, error) {
	return r.latest, r.err
}

type mockWatcher struct {
	started bool
	stopped bool
}

func (w *mockWatcher) Start(context.Context) error {
	w.started = true
	return nil
}

func (w *mockWatcher) Stop() error {
	w.stopped = true
	return nil
}

// mockSettingsWatcher hands its onChange callback to the test.
type mockSettingsWatcher struct {
	onChange func()
	started  chan struct{}
	stopped  bool
}

func (w *mockSettingsWatcher) Start(context.Context) error {
	close(w.started)
	return nil
}

func (w *mockSettingsWatcher) Stop() error {
	w.stopped = true
	return nil
}

type testServices struct {
	engine      *mockEngine
	configStore *memory.ConfigStore
	settings    *services.SettingsService
	credentials *services.CredentialsService
	authorizer  *mockAuthorizer
	releases    *mockReleases
	watcher     *mockWatcher
	settingsW   *mockSettingsWatcher
}

// setupTestServices installs in-memory services and returns them with a
// function restoring the previous ones.
func setupTestServices() (*testServices, func()) {
	old := Services{
		Settings:         settingsService,
		Credentials:      credentialsService,
		Authorizer:       authorizer,
		Engine:           syncEngine,
		Watchers:         newWatcher,
		SettingsWatchers: newSettingsWatcher,
		Releases:         releaseChecker,
	}

	configStore := memory.NewConfigStore()
	ts := &testServices{
		engine:      newMockEngine(),
		configStore: configStore,
		settings:    services.NewSettingsService(configStore),
		credentials: services.NewCredentialsService(memory.NewCredentialsStore()),
		authorizer:  &mockAuthorizer{},
		releases:    &mockReleases{},
		watcher:     &mockWatcher{},
		settingsW:   &mockSettingsWatcher{started: make(chan struct{})},
	}
	SetServices(Services{
		Settings:    ts.settings,
		Credentials: ts.credentials,
		Authorizer:  ts.authorizer,
		Engine:      ts.engine,
		Watchers: func(domain.SyncConfig) (ChangeWatcher, error) {
			return ts.watcher, nil
		},
		SettingsWatchers: func(onChange func()) (ChangeWatcher, error) {
			ts.settingsW.onChange = onChange
			return ts.settingsW, nil
		},
		Releases: ts.releases,
	})

	return ts, func() { SetServices(old) }
}

// execute runs the root command with args and returns its output.
func execute(args ...string) (string, error) {
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}()

	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

func findCommand(name string) *cobra.Command {
	for _, c := range rootCmd.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
