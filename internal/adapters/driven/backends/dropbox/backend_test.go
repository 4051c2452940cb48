package dropbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

// newTestFileMetadata creates a FileMetadata with embedded Metadata fields.
func newTestFileMetadata(id, pathDisplay string, size uint64, serverMod time.Time, hash string) *files.FileMetadata {
	fm := &files.FileMetadata{
		Id:             id,
		Size:           size,
		ServerModified: serverMod,
		ContentHash:    hash,
	}
	fm.Name = filepath.Base(pathDisplay)
	fm.PathDisplay = pathDisplay
	return fm
}

type fakeFiles struct {
	meta       *files.FileMetadata
	content    []byte
	err        error
	uploadArg  *files.UploadArg
	uploaded   []byte
	lookupPath string
}

func (f *fakeFiles) GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error) {
	f.lookupPath = arg.Path
	if f.err != nil {
		return nil, f.err
	}
	if f.meta == nil {
		return nil, dropbox.APIError{ErrorSummary: "path/not_found/.."}
	}
	return f.meta, nil
}

func (f *fakeFiles) Download(*files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error) {
	if f.meta == nil {
		return nil, nil, dropbox.APIError{ErrorSummary: "path/not_found/."}
	}
	return f.meta, io.NopCloser(bytes.NewReader(f.content)), nil
}

func (f *fakeFiles) Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploadArg = arg
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.uploaded = data
	f.content = data
	f.meta = newTestFileMetadata("id:new", arg.Path, uint64(len(data)), time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC), "hash-new")
	return f.meta, nil
}

type fakeTokens struct {
	token      string
	refreshErr error
	refreshed  int
}

func (t *fakeTokens) GetToken(context.Context) (string, error) { return t.token, nil }
func (t *fakeTokens) Refresh(context.Context) (string, error) {
	t.refreshed++
	return t.token, t.refreshErr
}
func (t *fakeTokens) CredentialsRef() string { return "token_cloud" }
func (t *fakeTokens) IsAuthenticated() bool  { return true }

func newTestBackend(fake *fakeFiles, tokens *fakeTokens) (*Backend, *[]string) {
	cfg := domain.DefaultSyncConfig()
	cfg.Provider = domain.ProviderTokenCloud
	cfg.TokenCloud.Path = "/Apps/HustleNest"

	var seenTokens []string
	b := NewWithClient(cfg, tokens, func(token string) FilesAPI {
		seenTokens = append(seenTokens, token)
		return fake
	})
	return b, &seenTokens
}

func TestNew_RequiresTokens(t *testing.T) {
	_, err := New(context.Background(), domain.DefaultSyncConfig(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestBackend_ProbeAbsent(t *testing.T) {
	fake := &fakeFiles{}
	b, _ := newTestBackend(fake, &fakeTokens{token: "sl.1"})

	info, err := b.Probe(context.Background())

	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, "/Apps/HustleNest/hustlenest.db", fake.lookupPath)
}

func TestBackend_ProbeExisting(t *testing.T) {
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeFiles{meta: newTestFileMetadata("id:abc", "/Apps/HustleNest/hustlenest.db", 2048, mod, "hash-1")}
	b, seen := newTestBackend(fake, &fakeTokens{token: "sl.1"})

	info, err := b.Probe(context.Background())

	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, "id:abc", info.ID)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, mod, info.ModTime)
	assert.Equal(t, "hash-1", info.Hash)
	assert.Equal(t, []string{"sl.1"}, *seen)
}

func TestBackend_ProbeFolder(t *testing.T) {
	folder := &files.FolderMetadata{}
	b, _ := newTestBackend(&fakeFiles{}, &fakeTokens{token: "t"})
	b.client = folderFiles{folder}

	_, err := b.Probe(context.Background())

	assert.ErrorIs(t, err, domain.ErrIOFailure)
}

type folderFiles struct{ folder *files.FolderMetadata }

func (f folderFiles) GetMetadata(*files.GetMetadataArg) (files.IsMetadata, error) { return f.folder, nil }
func (f folderFiles) Download(*files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error) {
	return nil, nil, errors.New("unused")
}
func (f folderFiles) Upload(*files.UploadArg, io.Reader) (*files.FileMetadata, error) {
	return nil, errors.New("unused")
}

func TestBackend_Download(t *testing.T) {
	fake := &fakeFiles{
		meta:    newTestFileMetadata("id:abc", "/Apps/HustleNest/hustlenest.db", 9, time.Now(), "h"),
		content: []byte("remote db"),
	}
	b, _ := newTestBackend(fake, &fakeTokens{token: "t"})

	dest := filepath.Join(t.TempDir(), "staging.db")
	n, err := b.Download(context.Background(), dest)

	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "remote db", string(data))
}

func TestBackend_DownloadAbsent(t *testing.T) {
	b, _ := newTestBackend(&fakeFiles{}, &fakeTokens{token: "t"})

	_, err := b.Download(context.Background(), filepath.Join(t.TempDir(), "x.db"))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackend_UploadOverwrites(t *testing.T) {
	fake := &fakeFiles{}
	b, _ := newTestBackend(fake, &fakeTokens{token: "t"})

	src := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(src, []byte("local db"), 0o600))

	info, err := b.Upload(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, "id:new", info.ID)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "local db", string(fake.uploaded))
	assert.Equal(t, "/Apps/HustleNest/hustlenest.db", fake.uploadArg.Path)
	assert.Equal(t, files.WriteModeOverwrite, fake.uploadArg.Mode.Tag)
}

func TestBackend_UploadQuota(t *testing.T) {
	fake := &fakeFiles{err: dropbox.APIError{ErrorSummary: "path/insufficient_space/.."}}
	b, _ := newTestBackend(fake, &fakeTokens{token: "t"})

	src := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	_, err := b.Upload(context.Background(), src)

	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestBackend_ForceRefresh(t *testing.T) {
	tokens := &fakeTokens{token: "t", refreshErr: domain.ErrAuthExpired}
	b, _ := newTestBackend(&fakeFiles{}, tokens)

	err := b.ForceRefresh(context.Background())

	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, 1, tokens.refreshed)
}

func TestBackend_ForceRefreshRebuildsClient(t *testing.T) {
	tokens := &fakeTokens{token: "t2"}
	b, seen := newTestBackend(&fakeFiles{}, tokens)
	require.NoError(t, b.RefreshAuthIfNeeded(context.Background()))

	require.NoError(t, b.ForceRefresh(context.Background()))

	assert.Equal(t, []string{"t2", "t2"}, *seen)
	assert.NoError(t, b.Close())
	assert.Equal(t, domain.ProviderTokenCloud, b.Kind())
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		summary string
		want    error
	}{
		{"path/not_found/...", domain.ErrNotFound},
		{"expired_access_token/..", domain.ErrAuthExpired},
		{"invalid_access_token/...", domain.ErrAuthExpired},
		{"missing_scope/.", domain.ErrAuthRequired},
		{"path/insufficient_space/...", domain.ErrQuotaExceeded},
		{"too_many_write_operations/..", domain.ErrRateLimited},
		{"internal_error/...", domain.ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			assert.ErrorIs(t, WrapError(dropbox.APIError{ErrorSummary: tt.summary}), tt.want)
		})
	}
}

func TestWrapError_SDKInternal(t *testing.T) {
	err := WrapError(dropbox.SDKInternalError{StatusCode: 503, Content: "down"})
	assert.ErrorIs(t, err, domain.ErrUnreachable)

	assert.NoError(t, WrapError(nil))
}

func TestHasTag(t *testing.T) {
	assert.True(t, hasTag("path/not_found/..", "not_found"))
	assert.True(t, hasTag("path/not_found.", "not_found"))
	assert.False(t, hasTag("path/not_found_really/", "not_found"))
}

// databaseBytes is a binary payload that starts like an SQLite file and
// holds every byte value.
func databaseBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/256)
	}
	copy(data, "SQLite format 3\x00")
	return data
}

func TestBackend_UploadDownloadRoundTrip(t *testing.T) {
	fake := &fakeFiles{}
	b, _ := newTestBackend(fake, &fakeTokens{token: "t"})
	payload := databaseBytes(100_000)

	src := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(src, payload, 0o600))
	uploaded, err := b.Upload(context.Background(), src)
	require.NoError(t, err)

	probed, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uploaded.ID, probed.ID)
	assert.Equal(t, int64(len(payload)), probed.Size)

	dest := filepath.Join(t.TempDir(), "pulled.db")
	n, err := b.Download(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	pulled, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, pulled), "downloaded bytes differ from uploaded")
}
