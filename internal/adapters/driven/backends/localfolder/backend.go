// Package localfolder implements the local_folder backend: the remote copy
// lives in a directory on this machine, usually one kept in sync by a
// desktop cloud client or a mounted network share.
package localfolder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/fileutil"
)

// Ensure Backend implements the Backend interface.
var _ driven.Backend = (*Backend)(nil)

// Backend copies the database to and from <dir>/<remote name>.
type Backend struct {
	dir  string
	path string
}

// New creates a local folder backend. It matches driven.BackendBuilder.
func New(_ context.Context, cfg domain.SyncConfig, _ *domain.Credentials, _ driven.TokenProvider) (driven.Backend, error) {
	if cfg.LocalFolder.Path == "" {
		return nil, fmt.Errorf("%w: local_folder.path is not configured", domain.ErrInvalidInput)
	}
	return &Backend{
		dir:  cfg.LocalFolder.Path,
		path: cfg.RemotePath(),
	}, nil
}

// Kind returns ProviderLocalFolder.
func (b *Backend) Kind() domain.ProviderKind {
	return domain.ProviderLocalFolder
}

// Path returns the full path of the remote copy.
func (b *Backend) Path() string {
	return b.path
}

// Dir returns the folder the backend writes into.
func (b *Backend) Dir() string {
	return filepath.Clean(b.dir)
}

// Probe stats the remote copy. The copy is absent when the file, or the
// folder itself, is missing; Upload creates the folder. When the folder's
// parent is missing too the share is taken to be unmounted.
func (b *Backend) Probe(ctx context.Context) (domain.RemoteInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.RemoteInfo{}, err
	}

	info, err := os.Stat(b.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.RemoteInfo{}, wrapError(err)
		}
		if err := b.checkFolder(); err != nil {
			return domain.RemoteInfo{}, err
		}
		return domain.RemoteInfo{Exists: false}, nil
	}
	if !info.Mode().IsRegular() {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %s is not a regular file", domain.ErrIOFailure, b.path)
	}

	return remoteInfo(info), nil
}

func (b *Backend) checkFolder() error {
	_, err := os.Stat(b.dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return wrapError(err)
	}
	parent := filepath.Dir(filepath.Clean(b.dir))
	if _, parentErr := os.Stat(parent); parentErr != nil {
		return fmt.Errorf("%w: folder %s: %w", domain.ErrUnreachable, b.dir, parentErr)
	}
	return nil
}

// Download copies the remote file to destPath.
func (b *Backend) Download(ctx context.Context, destPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := fileutil.CopyFile(b.path, destPath, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("%w: %s", domain.ErrNotFound, b.path)
		}
		return n, wrapError(err)
	}
	return n, nil
}

// Upload replaces the remote file through a temporary file in the same
// folder, creating the folder if needed.
func (b *Backend) Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.RemoteInfo{}, err
	}
	if _, err := fileutil.CopyAtomic(srcPath, b.path); err != nil {
		return domain.RemoteInfo{}, wrapError(err)
	}

	info, err := os.Stat(b.path)
	if err != nil {
		return domain.RemoteInfo{}, wrapError(err)
	}
	return remoteInfo(info), nil
}

// RefreshAuthIfNeeded is a no-op.
func (b *Backend) RefreshAuthIfNeeded(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
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
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
}
