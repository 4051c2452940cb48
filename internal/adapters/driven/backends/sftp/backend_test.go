package sftp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// inMemoryDialer serves every session from one in-memory filesystem.
func inMemoryDialer(t *testing.T) (DialFunc, *atomic.Int32) {
	t.Helper()
	handlers := sftp.InMemHandler()
	var dials atomic.Int32

	return func(context.Context) (*Session, error) {
		dials.Add(1)
		serverConn, clientConn := net.Pipe()
		server := sftp.NewRequestServer(serverConn, handlers)
		go func() { _ = server.Serve() }()

		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			return nil, err
		}
		return &Session{Client: client, closer: server}, nil
	}, &dials
}

// stallConn swallows every request once stalled is set, like a server that
// stopped answering without closing the connection.
type stallConn struct {
	net.Conn
	stalled *atomic.Bool
}

func (c stallConn) Read(p []byte) (int, error) {
	for c.stalled.Load() {
		if _, err := c.Conn.Read(p); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// stallingDialer is inMemoryDialer whose server can be frozen mid-session.
func stallingDialer(t *testing.T, stalled *atomic.Bool) (DialFunc, *atomic.Int32) {
	t.Helper()
	handlers := sftp.InMemHandler()
	var dials atomic.Int32

	return func(context.Context) (*Session, error) {
		dials.Add(1)
		serverConn, clientConn := net.Pipe()
		server := sftp.NewRequestServer(stallConn{Conn: serverConn, stalled: stalled}, handlers)
		go func() { _ = server.Serve() }()

		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			return nil, err
		}
		return &Session{Client: client, closer: server}, nil
	}, &dials
}

func sftpConfig() domain.SyncConfig {
	cfg := domain.DefaultSyncConfig()
	cfg.Provider = domain.ProviderSFTP
	cfg.SFTP.Host = "nas.local"
	cfg.SFTP.User = "nest"
	cfg.SFTP.Path = "/backups/nest"
	return cfg
}

func newTestBackend(t *testing.T) (*Backend, *atomic.Int32) {
	t.Helper()
	dial, dials := inMemoryDialer(t)
	b := NewWithDialer(sftpConfig(), dial)
	t.Cleanup(func() { _ = b.Close() })
	return b, dials
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), sftpConfig(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestNew_InsecurePassword(t *testing.T) {
	cfg := sftpConfig()
	cfg.SFTP.InsecureIgnoreHostKey = true
	creds := &domain.Credentials{Ref: "sftp", SSH: &domain.SSHCredentials{Password: "secret"}}

	b, err := New(context.Background(), cfg, creds, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.ProviderSFTP, b.Kind())
	assert.NoError(t, b.RefreshAuthIfNeeded(context.Background()))
}

func TestNew_MissingKnownHosts(t *testing.T) {
	cfg := sftpConfig()
	cfg.SFTP.KnownHostsPath = filepath.Join(t.TempDir(), "absent")
	creds := &domain.Credentials{Ref: "sftp", SSH: &domain.SSHCredentials{Password: "secret"}}

	_, err := New(context.Background(), cfg, creds, nil)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNew_KnownHostsFile(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"nas.local"}, sshPub)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	cfg := sftpConfig()
	cfg.SFTP.KnownHostsPath = knownHosts
	creds := &domain.Credentials{Ref: "sftp", SSH: &domain.SSHCredentials{Password: "secret"}}

	_, err = New(context.Background(), cfg, creds, nil)
	assert.NoError(t, err)
}

func TestLoadSigner(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()

	plainBlock, err := ssh.MarshalPrivateKey(priv, "nestsync")
	require.NoError(t, err)
	plain := filepath.Join(dir, "id_plain")
	require.NoError(t, os.WriteFile(plain, pem.EncodeToMemory(plainBlock), 0o600))

	lockedBlock, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "nestsync", []byte("hunter2"))
	require.NoError(t, err)
	locked := filepath.Join(dir, "id_locked")
	require.NoError(t, os.WriteFile(locked, pem.EncodeToMemory(lockedBlock), 0o600))

	_, err = loadSigner(plain, "")
	assert.NoError(t, err)

	_, err = loadSigner(locked, "hunter2")
	assert.NoError(t, err)

	_, err = loadSigner(locked, "wrong")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	_, err = loadSigner(filepath.Join(dir, "missing"), "")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestBackend_ProbeAbsent(t *testing.T) {
	b, _ := newTestBackend(t)

	info, err := b.Probe(context.Background())

	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestBackend_UploadProbeDownload(t *testing.T) {
	b, _ := newTestBackend(t)

	uploaded, err := b.Upload(context.Background(), writeTemp(t, "database bytes"))
	require.NoError(t, err)
	assert.True(t, uploaded.Exists)
	assert.Equal(t, int64(14), uploaded.Size)

	probed, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, probed.Exists)
	assert.Equal(t, uploaded.Size, probed.Size)

	dest := filepath.Join(t.TempDir(), "pulled.db")
	n, err := b.Download(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "database bytes", string(data))

	// The temporary upload file is gone
	client, err := b.client(context.Background())
	require.NoError(t, err)
	_, err = client.Stat("/backups/nest/hustlenest.db" + tmpSuffix)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBackend_UploadReplacesExisting(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Upload(context.Background(), writeTemp(t, "v1"))
	require.NoError(t, err)
	info, err := b.Upload(context.Background(), writeTemp(t, "version two"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)

	dest := filepath.Join(t.TempDir(), "pulled.db")
	_, err = b.Download(context.Background(), dest)
	require.NoError(t, err)
	data, _ := os.ReadFile(dest)
	assert.Equal(t, "version two", string(data))
}

func TestBackend_DownloadAbsent(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.Download(context.Background(), filepath.Join(t.TempDir(), "x.db"))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackend_SessionReused(t *testing.T) {
	b, dials := newTestBackend(t)

	for range 3 {
		_, err := b.Probe(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dials.Load())

	require.NoError(t, b.Close())
	_, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())
}

func TestBackend_StalledServerHonoursDeadline(t *testing.T) {
	var stalled atomic.Bool
	dial, dials := stallingDialer(t, &stalled)
	b := NewWithDialer(sftpConfig(), dial)
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.Upload(context.Background(), writeTemp(t, "database bytes"))
	require.NoError(t, err)

	stalled.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = b.Download(ctx, filepath.Join(t.TempDir(), "pulled.db"))

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.ErrorKindTimeout, domain.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	// The stuck session was dropped; the next call redials
	stalled.Store(false)
	info, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int32(2), dials.Load())
}

func TestBackend_StalledServerHonoursCancel(t *testing.T) {
	var stalled atomic.Bool
	dial, _ := stallingDialer(t, &stalled)
	b := NewWithDialer(sftpConfig(), dial)
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.Probe(context.Background())
	require.NoError(t, err)

	stalled.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = b.Upload(ctx, writeTemp(t, "database bytes"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ErrorKindCanceled, domain.KindOf(err))
}

func TestBackend_DialFailure(t *testing.T) {
	b := NewWithDialer(sftpConfig(), func(context.Context) (*Session, error) {
		return nil, domain.ErrUnreachable
	})

	_, err := b.Probe(context.Background())

	assert.ErrorIs(t, err, domain.ErrUnreachable)
	assert.NoError(t, b.Close())
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing", os.ErrNotExist, domain.ErrNotFound},
		{"permission", os.ErrPermission, domain.ErrAuthRequired},
		{"no space", &sftp.StatusError{Code: fxNoSpaceOnFilesystem}, domain.ErrQuotaExceeded},
		{"quota", &sftp.StatusError{Code: fxQuotaExceeded}, domain.ErrQuotaExceeded},
		{"connection lost", sftp.ErrSSHFxConnectionLost, domain.ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapError(tt.err), tt.want)
		})
	}
}

func TestWrapHandshakeError(t *testing.T) {
	assert.ErrorIs(t, wrapHandshakeError(&knownhosts.KeyError{}), domain.ErrInvalidInput)
	assert.ErrorIs(t, wrapHandshakeError(errors.New("ssh: unable to authenticate")), domain.ErrAuthRequired)
}
