// Package gdrive implements the drive_oauth backend on the Google Drive v3 API.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure Backend implements the Backend and AuthRefresher interfaces.
var (
	_ driven.Backend       = (*Backend)(nil)
	_ driven.AuthRefresher = (*Backend)(nil)
)

const (
	rootFolder = "root"
	fileFields = "id,name,size,modifiedTime,md5Checksum"
	sqliteMIME = "application/vnd.sqlite3"
)

// ServiceFunc creates a Drive service.
type ServiceFunc func(ctx context.Context) (*drive.Service, error)

// Backend stores the database as a single file in a Drive folder. The
// file is located by name; its ID is cached after the first lookup.
type Backend struct {
	name       string
	folderID   string
	tokens     driven.TokenProvider
	pacer      *pacer
	newService ServiceFunc

	mu     sync.Mutex
	svc    *drive.Service
	fileID string
}

// New creates a Drive backend. It matches driven.BackendBuilder.
func New(ctx context.Context, cfg domain.SyncConfig, _ *domain.Credentials, tokens driven.TokenProvider) (driven.Backend, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: Drive needs OAuth credentials", domain.ErrAuthRequired)
	}
	// The backend outlives the call that built it
	tsCtx := context.WithoutCancel(ctx)
	newService := func(ctx context.Context) (*drive.Service, error) {
		return drive.NewService(ctx, option.WithTokenSource(tokenSource(tsCtx, tokens)))
	}
	return NewWithService(cfg, tokens, newService), nil
}

// NewWithService creates a Drive backend that obtains its client from
// newService.
func NewWithService(cfg domain.SyncConfig, tokens driven.TokenProvider, newService ServiceFunc) *Backend {
	folderID := cfg.Drive.FolderID
	if folderID == "" {
		folderID = rootFolder
	}
	return &Backend{
		name:       cfg.RemotePath(),
		folderID:   folderID,
		tokens:     tokens,
		pacer:      newPacer(pacePerSecond, paceBurst),
		newService: newService,
	}
}

// Kind returns ProviderDriveOAuth.
func (b *Backend) Kind() domain.ProviderKind {
	return domain.ProviderDriveOAuth
}

func (b *Backend) service(ctx context.Context) (*drive.Service, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.svc != nil {
		return b.svc, nil
	}
	svc, err := b.newService(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	b.svc = svc
	return svc, nil
}

// Probe looks the file up by name in the configured folder.
func (b *Backend) Probe(ctx context.Context) (domain.RemoteInfo, error) {
	file, err := b.find(ctx)
	if err != nil {
		return domain.RemoteInfo{}, err
	}
	if file == nil {
		return domain.RemoteInfo{Exists: false}, nil
	}
	return remoteInfo(file), nil
}

// find returns the newest matching file, or nil when there is none.
func (b *Backend) find(ctx context.Context) (*drive.File, error) {
	svc, err := b.service(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.pacer.wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(b.name), escapeQuery(b.folderID))
	list, err := svc.Files.List().
		Q(query).
		Spaces("drive").
		OrderBy("modifiedTime desc").
		PageSize(10).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, b.wrap(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(list.Files) == 0 {
		b.fileID = ""
		return nil, nil
	}
	if len(list.Files) > 1 {
		logger.Warn("gdrive: %d files named %q in folder %s, using the newest", len(list.Files), b.name, b.folderID)
	}
	b.fileID = list.Files[0].Id
	return list.Files[0], nil
}

func (b *Backend) cachedID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fileID
}

func (b *Backend) forgetID() {
	b.mu.Lock()
	b.fileID = ""
	b.mu.Unlock()
}

// Download writes the file's content to destPath.
func (b *Backend) Download(ctx context.Context, destPath string) (int64, error) {
	id := b.cachedID()
	if id == "" {
		file, err := b.find(ctx)
		if err != nil {
			return 0, err
		}
		if file == nil {
			return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, b.name)
		}
		id = file.Id
	}

	svc, err := b.service(ctx)
	if err != nil {
		return 0, err
	}
	if err := b.pacer.wait(ctx); err != nil {
		return 0, err
	}

	resp, err := svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		err = b.wrap(err)
		if errors.Is(err, domain.ErrNotFound) {
			b.forgetID()
		}
		return 0, err
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return n, b.wrap(copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: %w", domain.ErrIOFailure, closeErr)
	}
	return n, nil
}

// Upload updates the existing file's content or creates the file.
func (b *Backend) Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error) {
	id := b.cachedID()
	if id == "" {
		file, err := b.find(ctx)
		if err != nil {
			return domain.RemoteInfo{}, err
		}
		if file != nil {
			id = file.Id
		}
	}

	if id != "" {
		info, err := b.upload(ctx, srcPath, id)
		if !errors.Is(err, domain.ErrNotFound) {
			return info, err
		}
		// Deleted since the lookup
		b.forgetID()
	}
	return b.upload(ctx, srcPath, "")
}

// upload sends srcPath as a new file when id is empty, otherwise as new
// content for id.
func (b *Backend) upload(ctx context.Context, srcPath, id string) (domain.RemoteInfo, error) {
	svc, err := b.service(ctx)
	if err != nil {
		return domain.RemoteInfo{}, err
	}
	if err := b.pacer.wait(ctx); err != nil {
		return domain.RemoteInfo{}, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return domain.RemoteInfo{}, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	defer src.Close()

	var file *drive.File
	if id == "" {
		file, err = svc.Files.Create(&drive.File{
			Name:     b.name,
			Parents:  []string{b.folderID},
			MimeType: sqliteMIME,
		}).
			Media(src, googleapi.ContentType(sqliteMIME)).
			Fields(fileFields).
			Context(ctx).
			Do()
	} else {
		file, err = svc.Files.Update(id, &drive.File{}).
			Media(src, googleapi.ContentType(sqliteMIME)).
			Fields(fileFields).
			Context(ctx).
			Do()
	}
	if err != nil {
		return domain.RemoteInfo{}, b.wrap(err)
	}

	b.mu.Lock()
	b.fileID = file.Id
	b.mu.Unlock()
	return remoteInfo(file), nil
}

// RefreshAuthIfNeeded makes sure a usable access token is cached.
func (b *Backend) RefreshAuthIfNeeded(ctx context.Context) error {
	_, err := b.tokens.GetToken(ctx)
	return err
}

// ForceRefresh renews the access token and drops the client so the next
// call does not reuse the rejected token.
func (b *Backend) ForceRefresh(ctx context.Context) error {
	if _, err := b.tokens.Refresh(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.svc = nil
	b.mu.Unlock()
	return nil
}

// Close drops the client.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.svc = nil
	b.mu.Unlock()
	return nil
}

// wrap maps err and starts a backoff window when Drive asks for one.
func (b *Backend) wrap(err error) error {
	if IsRateLimited(err) {
		b.pacer.pause(retryAfter(err))
	}
	return WrapError(err)
}

func retryAfter(err error) time.Duration {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Header == nil {
		return 0
	}
	secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After"))
	if convErr != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func remoteInfo(file *drive.File) domain.RemoteInfo {
	modTime, err := time.Parse(time.RFC3339, file.ModifiedTime)
	if err != nil {
		logger.Debug("gdrive: unparseable modifiedTime %q: %v", file.ModifiedTime, err)
	}
	return domain.RemoteInfo{
		Exists: true,
		ID:     file.Id,
		Fingerprint: domain.Fingerprint{
			Size:    file.Size,
			ModTime: modTime.UTC(),
			Hash:    file.Md5Checksum,
		},
	}
}

// escapeQuery escapes a value for a single-quoted Drive query literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
