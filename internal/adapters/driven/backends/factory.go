// Package backends builds the remote backend for the configured provider.
// Each provider lives in its own subpackage; RegisterDefaults wires them
// into a Factory at startup.
package backends

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/auth"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.BackendFactory = (*Factory)(nil)

// Factory maps provider kinds to builders and resolves their credentials.
type Factory struct {
	mu       sync.RWMutex
	builders map[domain.ProviderKind]driven.BackendBuilder

	credentials driven.CredentialsStore
	tokens      *auth.Factory
}

// NewFactory creates an empty factory. credentials and tokens may be nil
// when only credential-free providers are registered.
func NewFactory(credentials driven.CredentialsStore, tokens *auth.Factory) *Factory {
	return &Factory{
		builders:    make(map[domain.ProviderKind]driven.BackendBuilder),
		credentials: credentials,
		tokens:      tokens,
	}
}

// Register adds a builder for kind, replacing any previous one.
func (f *Factory) Register(kind domain.ProviderKind, builder driven.BackendBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = builder
}

// SupportedKinds returns the registered kinds in display order.
func (f *Factory) SupportedKinds() []domain.ProviderKind {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]domain.ProviderKind, 0, len(f.builders))
	for _, kind := range domain.AllProviderKinds() {
		if _, ok := f.builders[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	for kind := range f.builders {
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Create builds the backend for cfg.Provider, loading credentials from
// cfg's credentials ref when the provider needs them.
func (f *Factory) Create(ctx context.Context, cfg domain.SyncConfig) (driven.Backend, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", domain.ErrUnsupportedType, cfg.Provider)
	}

	var creds *domain.Credentials
	var tokens driven.TokenProvider
	if cfg.Provider.RequiresCredentials() {
		var err error
		creds, err = f.loadCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if f.tokens != nil {
			tokens = f.tokens.CreateTokenProvider(cfg, creds)
		}
	}

	backend, err := builder(ctx, cfg, creds, tokens)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Provider, err)
	}
	return backend, nil
}

func (f *Factory) loadCredentials(ctx context.Context, cfg domain.SyncConfig) (*domain.Credentials, error) {
	ref := cfg.EffectiveCredentialsRef()
	if f.credentials == nil {
		return nil, fmt.Errorf("%w: no credentials store for %q", domain.ErrAuthRequired, ref)
	}

	creds, err := f.credentials.Get(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no credentials stored under %q", domain.ErrAuthRequired, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials %q: %w", ref, err)
	}
	return creds, nil
}
