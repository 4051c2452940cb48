// Package sftp implements the sftp backend: the database is kept on an SSH
// host reachable with a password or a private key.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/neterr"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure Backend implements the Backend interface.
var _ driven.Backend = (*Backend)(nil)

// tmpSuffix marks an upload in progress next to the final file.
const tmpSuffix = ".nestsync-tmp"

// SFTP status codes from protocol versions later than the one pkg/sftp
// names constants for.
const (
	fxNoSpaceOnFilesystem = 14
	fxQuotaExceeded       = 15
)

// Session is an open SFTP session and whatever carries it.
type Session struct {
	Client *sftp.Client
	closer io.Closer
}

// Close ends the session.
func (s *Session) Close() error {
	err := s.Client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context) (*Session, error)

// Backend stores the database in a directory on an SSH host. One session
// is opened lazily and reused; it is dropped after a transport failure.
type Backend struct {
	remotePath string
	dial       DialFunc

	mu      sync.Mutex
	session *Session
}

// New creates an SFTP backend. It matches driven.BackendBuilder.
func New(_ context.Context, cfg domain.SyncConfig, creds *domain.Credentials, _ driven.TokenProvider) (driven.Backend, error) {
	if creds == nil || creds.SSH == nil {
		return nil, fmt.Errorf("%w: SFTP needs a password or private key", domain.ErrAuthRequired)
	}
	clientConfig, err := clientConfig(cfg, creds.SSH)
	if err != nil {
		return nil, err
	}

	port := cfg.SFTP.Port
	if port == 0 {
		port = domain.DefaultSFTPPort
	}
	addr := net.JoinHostPort(cfg.SFTP.Host, strconv.Itoa(port))

	return NewWithDialer(cfg, func(ctx context.Context) (*Session, error) {
		return dialSSH(ctx, addr, clientConfig)
	}), nil
}

// NewWithDialer creates an SFTP backend that opens sessions with dial.
func NewWithDialer(cfg domain.SyncConfig, dial DialFunc) *Backend {
	return &Backend{
		remotePath: cfg.RemotePath(),
		dial:       dial,
	}
}

func clientConfig(cfg domain.SyncConfig, secrets *domain.SSHCredentials) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if secrets.PrivateKeyPath != "" {
		signer, err := loadSigner(secrets.PrivateKeyPath, secrets.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if secrets.Password != "" {
		methods = append(methods, ssh.Password(secrets.Password))
	}

	hostKeys, err := hostKeyCallback(cfg.SFTP)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            cfg.SFTP.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.EffectiveCallTimeout(),
	}, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %w", domain.ErrAuthRequired, err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", domain.ErrAuthRequired, err)
	}
	return signer, nil
}

func hostKeyCallback(cfg domain.SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logger.Warn("sftp: host key verification disabled for %s", cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}

	knownHostsPath := cfg.KnownHostsPath
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load known_hosts %s: %w", domain.ErrInvalidInput, knownHostsPath, err)
	}
	return callback, nil
}

func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*Session, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapError(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, wrapHandshakeError(err)
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, wrapError(err)
	}
	return &Session{Client: client, closer: sshClient}, nil
}

// Kind returns ProviderSFTP.
func (b *Backend) Kind() domain.ProviderKind {
	return domain.ProviderSFTP
}

// client returns the open session, dialing if needed.
func (b *Backend) client(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return b.session.Client, nil
	}
	session, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	b.session = session
	return session.Client, nil
}

// check drops the session after a transport failure so the next call
// reconnects, and maps err.
func (b *Backend) check(err error) error {
	if err == nil {
		return nil
	}
	mapped := wrapError(err)
	if domain.KindOf(mapped).IsTransient() {
		b.drop()
	}
	return mapped
}

func (b *Backend) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		_ = b.session.Close()
		b.session = nil
	}
}

// run executes op against the open session. Calls on a stalled server do
// not observe ctx, so on cancellation the session is torn down to unblock
// op and the next call redials.
func (b *Backend) run(ctx context.Context, op func(client *sftp.Client) error) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- op(client) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		b.drop()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: sftp: %w", domain.ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("sftp: %w", ctx.Err())
	}
}

// Probe stats the remote file.
func (b *Backend) Probe(ctx context.Context) (domain.RemoteInfo, error) {
	var result domain.RemoteInfo
	err := b.run(ctx, func(client *sftp.Client) error {
		info, err := client.Stat(b.remotePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return b.check(err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", domain.ErrIOFailure, b.remotePath)
		}
		result = remoteInfo(info)
		return nil
	})
	if err != nil {
		return domain.RemoteInfo{}, err
	}
	return result, nil
}

// Download copies the remote file to destPath.
func (b *Backend) Download(ctx context.Context, destPath string) (int64, error) {
	var n int64
	err := b.run(ctx, func(client *sftp.Client) error {
		remote, err := client.Open(b.remotePath)
		if err != nil {
			return b.check(err)
		}
		defer remote.Close()

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
		}
		var copyErr error
		n, copyErr = remote.WriteTo(out)
		closeErr := out.Close()
		if copyErr != nil {
			return b.check(copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("%w: %w", domain.ErrIOFailure, closeErr)
		}
		return nil
	})
	return n, err
}

// Upload writes srcPath to a temporary file next to the target and renames
// it into place, so readers never see a partial database.
func (b *Backend) Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error) {
	var result domain.RemoteInfo
	err := b.run(ctx, func(client *sftp.Client) error {
		if dir := path.Dir(b.remotePath); dir != "." && dir != "/" {
			if err := client.MkdirAll(dir); err != nil {
				return b.check(err)
			}
		}

		src, err := os.Open(srcPath)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
		}
		defer src.Close()

		tmpPath := b.remotePath + tmpSuffix
		if err := writeRemote(client, tmpPath, src); err != nil {
			_ = client.Remove(tmpPath)
			return b.check(err)
		}
		if err := rename(client, tmpPath, b.remotePath); err != nil {
			_ = client.Remove(tmpPath)
			return b.check(err)
		}

		info, err := client.Stat(b.remotePath)
		if err != nil {
			return b.check(err)
		}
		result = remoteInfo(info)
		return nil
	})
	if err != nil {
		return domain.RemoteInfo{}, err
	}
	return result, nil
}

func writeRemote(client *sftp.Client, remotePath string, src io.Reader) error {
	dst, err := client.OpenFile(remotePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// rename replaces newPath atomically when the server supports the
// posix-rename extension, otherwise removes it first.
func rename(client *sftp.Client, oldPath, newPath string) error {
	if err := client.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	if err := client.Remove(newPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return client.Rename(oldPath, newPath)
}

// RefreshAuthIfNeeded is a no-op: SSH credentials do not expire.
func (b *Backend) RefreshAuthIfNeeded(_ context.Context) error {
	return nil
}

// Close ends the session.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

func remoteInfo(info fs.FileInfo) domain.RemoteInfo {
	return domain.RemoteInfo{
		Exists: true,
		Fingerprint: domain.Fingerprint{
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		},
	}
}

func wrapError(err error) error {
	var status *sftp.StatusError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	case errors.As(err, &status) && (status.Code == fxNoSpaceOnFilesystem || status.Code == fxQuotaExceeded):
		return fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return neterr.Classify(err)
}

func wrapHandshakeError(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w: host key mismatch: %w", domain.ErrInvalidInput, err)
		}
		return fmt.Errorf("%w: host not in known_hosts: %w", domain.ErrInvalidInput, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return wrapError(err)
	}
	// Handshake rejected the offered credentials
	return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
}
