// Package dropbox implements the token_cloud backend on the Dropbox files
// API with a long-lived access token.
package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure Backend implements the Backend and AuthRefresher interfaces.
var (
	_ driven.Backend       = (*Backend)(nil)
	_ driven.AuthRefresher = (*Backend)(nil)
)

// maxSingleUpload is the largest body the upload endpoint accepts.
const maxSingleUpload = 150 << 20

// FilesAPI is the subset of the Dropbox files client the backend uses.
type FilesAPI interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
}

// ClientFunc creates a files client for an access token.
type ClientFunc func(token string) FilesAPI

// Backend stores the database at a fixed path in the user's Dropbox.
type Backend struct {
	path      string
	tokens    driven.TokenProvider
	newClient ClientFunc

	mu     sync.Mutex
	client FilesAPI
}

// New creates a Dropbox backend. It matches driven.BackendBuilder.
func New(_ context.Context, cfg domain.SyncConfig, _ *domain.Credentials, tokens driven.TokenProvider) (driven.Backend, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: Dropbox needs an access token", domain.ErrAuthRequired)
	}
	httpClient := &http.Client{Timeout: cfg.EffectiveCallTimeout()}
	return NewWithClient(cfg, tokens, func(token string) FilesAPI {
		return files.New(dropbox.Config{
			Token:    token,
			LogLevel: dropbox.LogOff,
			Client:   httpClient,
		})
	}), nil
}

// NewWithClient creates a Dropbox backend that builds its client with newClient.
func NewWithClient(cfg domain.SyncConfig, tokens driven.TokenProvider, newClient ClientFunc) *Backend {
	return &Backend{
		path:      cfg.RemotePath(),
		tokens:    tokens,
		newClient: newClient,
	}
}

// Kind returns ProviderTokenCloud.
func (b *Backend) Kind() domain.ProviderKind {
	return domain.ProviderTokenCloud
}

func (b *Backend) files(ctx context.Context) (FilesAPI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	token, err := b.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	b.client = b.newClient(token)
	return b.client, nil
}

// Probe reads the file's metadata.
func (b *Backend) Probe(ctx context.Context) (domain.RemoteInfo, error) {
	client, err := b.files(ctx)
	if err != nil {
		return domain.RemoteInfo{}, err
	}

	meta, err := client.GetMetadata(files.NewGetMetadataArg(b.path))
	if err != nil {
		err = WrapError(err)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RemoteInfo{Exists: false}, nil
		}
		return domain.RemoteInfo{}, err
	}

	file, ok := meta.(*files.FileMetadata)
	if !ok {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %s is not a file", domain.ErrIOFailure, b.path)
	}
	return remoteInfo(file), nil
}

// Download writes the file's content to destPath.
func (b *Backend) Download(ctx context.Context, destPath string) (int64, error) {
	client, err := b.files(ctx)
	if err != nil {
		return 0, err
	}

	_, content, err := client.Download(files.NewDownloadArg(b.path))
	if err != nil {
		return 0, WrapError(err)
	}
	defer content.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	n, copyErr := io.Copy(out, content)
	closeErr := out.Close()
	if copyErr != nil {
		return n, WrapError(copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: %w", domain.ErrIOFailure, closeErr)
	}
	return n, nil
}

// Upload overwrites the file with srcPath's content, creating it and any
// missing folders.
func (b *Backend) Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error) {
	client, err := b.files(ctx)
	if err != nil {
		return domain.RemoteInfo{}, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	if stat.Size() > maxSingleUpload {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %d bytes exceeds the Dropbox single upload limit", domain.ErrInvalidInput, stat.Size())
	}

	arg := files.NewUploadArg(b.path)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg.Mute = true

	file, err := client.Upload(arg, src)
	if err != nil {
		return domain.RemoteInfo{}, WrapError(err)
	}
	return remoteInfo(file), nil
}

// RefreshAuthIfNeeded makes sure a token is available.
func (b *Backend) RefreshAuthIfNeeded(ctx context.Context) error {
	_, err := b.files(ctx)
	return err
}

// ForceRefresh asks the token provider for a new token and rebuilds the
// client. Long-lived tokens cannot be renewed, so this usually reports
// ErrAuthExpired.
func (b *Backend) ForceRefresh(ctx context.Context) error {
	token, err := b.tokens.Refresh(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.client = b.newClient(token)
	b.mu.Unlock()
	return nil
}

// Close drops the client.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.client = nil
	b.mu.Unlock()
	return nil
}

func remoteInfo(file *files.FileMetadata) domain.RemoteInfo {
	return domain.RemoteInfo{
		Exists: true,
		ID:     file.Id,
		Fingerprint: domain.Fingerprint{
			Size:    int64(file.Size), //nolint:gosec // Dropbox file sizes fit in int64
			ModTime: file.ServerModified.UTC(),
			Hash:    file.ContentHash,
		},
	}
}
