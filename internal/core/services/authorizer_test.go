package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// --- Mock implementations for authorizer testing ---

type mockOAuthClient struct {
	authURLState    string
	authURLVerifier string
	exchangedCode   string
	exchangedVerif  string
	token           *domain.OAuthToken
	exchangeErr     error
}

var _ driven.OAuthClient = (*mockOAuthClient)(nil)

func (m *mockOAuthClient) AuthCodeURL(_ domain.OAuthAppConfig, redirectURI, state, verifier string) string {
	m.authURLState = state
	m.authURLVerifier = verifier
	return "https://accounts.example.com/auth?redirect_uri=" + redirectURI
}

func (m *mockOAuthClient) Exchange(_ context.Context, _ domain.OAuthAppConfig, _, code, verifier string) (*domain.OAuthToken, error) {
	m.exchangedCode = code
	m.exchangedVerif = verifier
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.token, nil
}

func (m *mockOAuthClient) Refresh(context.Context, domain.OAuthAppConfig, string) (*domain.OAuthToken, error) {
	return m.token, nil
}

type mockCallback struct {
	code    string
	err     error
	stopped bool
	timeout time.Duration
}

var _ driven.OAuthCallback = (*mockCallback)(nil)

func (c *mockCallback) RedirectURI() string { return "http://localhost:18080/callback" }

func (c *mockCallback) WaitForCode(timeout time.Duration) (string, error) {
	c.timeout = timeout
	return c.code, c.err
}

func (c *mockCallback) Stop() error {
	c.stopped = true
	return nil
}

func driveConfig() domain.SyncConfig {
	cfg := domain.DefaultSyncConfig()
	cfg.Provider = domain.ProviderDriveOAuth
	cfg.Drive.ClientID = "client-id"
	return cfg
}

// --- Tests ---

func TestOAuthAuthorizer_Authorize(t *testing.T) {
	client := &mockOAuthClient{token: &domain.OAuthToken{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}}
	callback := &mockCallback{code: "auth-code"}
	credentials := NewCredentialsService(memory.NewCredentialsStore())

	var callbackState string
	authorizer := NewOAuthAuthorizer(client, credentials, func(state string) (driven.OAuthCallback, error) {
		callbackState = state
		return callback, nil
	})
	var shown, opened string
	authorizer.ShowURL = func(url string) { shown = url }
	authorizer.OpenBrowser = func(url string) error {
		opened = url
		return errors.New("no browser")
	}

	creds, err := authorizer.Authorize(context.Background(), driveConfig())
	require.NoError(t, err)

	assert.Equal(t, "drive_oauth", creds.Ref)
	assert.Equal(t, domain.ProviderDriveOAuth, creds.Provider)
	assert.Equal(t, "refresh", creds.OAuth.RefreshToken)

	// The same state reaches the callback and the consent URL
	assert.Equal(t, callbackState, client.authURLState)
	// The verifier used for the URL is the one exchanged
	assert.Equal(t, client.authURLVerifier, client.exchangedVerif)
	assert.Equal(t, "auth-code", client.exchangedCode)

	assert.Contains(t, shown, "redirect_uri=http://localhost:18080/callback")
	assert.Equal(t, shown, opened)
	assert.True(t, callback.stopped)
	assert.Equal(t, defaultConsentTimeout, callback.timeout)
}

func TestOAuthAuthorizer_UsesConfiguredRef(t *testing.T) {
	client := &mockOAuthClient{token: &domain.OAuthToken{AccessToken: "a", RefreshToken: "r"}}
	credentials := NewCredentialsService(memory.NewCredentialsStore())
	authorizer := NewOAuthAuthorizer(client, credentials, func(string) (driven.OAuthCallback, error) {
		return &mockCallback{code: "c"}, nil
	})

	cfg := driveConfig()
	cfg.CredentialsRef = "work-drive"

	creds, err := authorizer.Authorize(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "work-drive", creds.Ref)
}

func TestOAuthAuthorizer_Errors(t *testing.T) {
	token := &domain.OAuthToken{AccessToken: "a", RefreshToken: "r"}

	t.Run("non oauth provider", func(t *testing.T) {
		authorizer := NewOAuthAuthorizer(&mockOAuthClient{token: token}, NewCredentialsService(memory.NewCredentialsStore()), nil)
		cfg := domain.DefaultSyncConfig()
		cfg.Provider = domain.ProviderSFTP

		_, err := authorizer.Authorize(context.Background(), cfg)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("missing client id", func(t *testing.T) {
		authorizer := NewOAuthAuthorizer(&mockOAuthClient{token: token}, NewCredentialsService(memory.NewCredentialsStore()), nil)
		cfg := driveConfig()
		cfg.Drive.ClientID = ""

		_, err := authorizer.Authorize(context.Background(), cfg)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("callback server fails", func(t *testing.T) {
		authorizer := NewOAuthAuthorizer(&mockOAuthClient{token: token}, NewCredentialsService(memory.NewCredentialsStore()),
			func(string) (driven.OAuthCallback, error) { return nil, errors.New("port in use") })

		_, err := authorizer.Authorize(context.Background(), driveConfig())
		assert.ErrorContains(t, err, "port in use")
	})

	t.Run("consent denied", func(t *testing.T) {
		callback := &mockCallback{err: errors.New("oauth error: access_denied")}
		authorizer := NewOAuthAuthorizer(&mockOAuthClient{token: token}, NewCredentialsService(memory.NewCredentialsStore()),
			func(string) (driven.OAuthCallback, error) { return callback, nil })

		_, err := authorizer.Authorize(context.Background(), driveConfig())
		assert.ErrorIs(t, err, domain.ErrAuthRequired)
		assert.True(t, callback.stopped)
	})

	t.Run("exchange fails", func(t *testing.T) {
		client := &mockOAuthClient{exchangeErr: errors.New("invalid_grant")}
		store := memory.NewCredentialsStore()
		authorizer := NewOAuthAuthorizer(client, NewCredentialsService(store),
			func(string) (driven.OAuthCallback, error) { return &mockCallback{code: "c"}, nil })

		_, err := authorizer.Authorize(context.Background(), driveConfig())
		assert.ErrorContains(t, err, "invalid_grant")

		list, _ := store.List(context.Background())
		assert.Empty(t, list)
	})
}

func TestOAuthAuthorizer_TimeoutFollowsContextDeadline(t *testing.T) {
	callback := &mockCallback{code: "c"}
	authorizer := NewOAuthAuthorizer(
		&mockOAuthClient{token: &domain.OAuthToken{AccessToken: "a"}},
		NewCredentialsService(memory.NewCredentialsStore()),
		func(string) (driven.OAuthCallback, error) { return callback, nil },
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := authorizer.Authorize(ctx, driveConfig())
	require.NoError(t, err)
	assert.LessOrEqual(t, callback.timeout, time.Minute)
}

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := generateCodeVerifier()
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(verifier)
	require.NoError(t, err)
	assert.Len(t, decoded, codeVerifierLength)
	// RFC 7636 bounds
	assert.GreaterOrEqual(t, len(verifier), 43)
	assert.LessOrEqual(t, len(verifier), 128)

	other, err := generateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)
}

func TestGenerateState(t *testing.T) {
	state, err := generateState()
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(state)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	other, err := generateState()
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}
