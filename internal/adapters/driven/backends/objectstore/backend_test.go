package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

type storedObject struct {
	body         []byte
	size         int64
	contentType  string
	lastModified time.Time
}

// fakeS3 serves path-style requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*storedObject
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := parts[1]

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"etag-`+strconv.Itoa(len(obj.body))+`"`)
		w.Header().Set("Last-Modified", obj.lastModified.Format(http.TimeFormat))
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(obj.size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		size := int64(len(body))
		if decoded := r.Header.Get("X-Amz-Decoded-Content-Length"); decoded != "" {
			size, _ = strconv.ParseInt(decoded, 10, 64)
			body = decodeAWSChunked(body)
		}
		f.puts++
		f.objects[key] = &storedObject{
			body:         body,
			size:         size,
			contentType:  r.Header.Get("Content-Type"),
			lastModified: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		}
		w.Header().Set("ETag", `"etag-put"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// decodeAWSChunked strips the "<hex size>;chunk-signature=...\r\n" framing
// of a streaming-signed upload.
func decodeAWSChunked(raw []byte) []byte {
	var out []byte
	for len(raw) > 0 {
		header, rest, ok := bytes.Cut(raw, []byte("\r\n"))
		if !ok {
			break
		}
		sizeHex, _, _ := bytes.Cut(header, []byte(";"))
		n, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || n == 0 || int64(len(rest)) < n {
			break
		}
		out = append(out, rest[:n]...)
		raw = bytes.TrimPrefix(rest[n:], []byte("\r\n"))
	}
	return out
}

func newFakeBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "backups", objects: map[string]*storedObject{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:        credentials.NewStaticV4("id", "secret", ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err)

	cfg := domain.DefaultSyncConfig()
	cfg.Provider = domain.ProviderObjectStore
	cfg.ObjectStore.Endpoint = srv.URL
	cfg.ObjectStore.Bucket = "backups"
	cfg.ObjectStore.Prefix = "nest"

	return NewWithClient(cfg, client), fake
}

func TestNew_Validation(t *testing.T) {
	cfg := domain.DefaultSyncConfig()
	cfg.Provider = domain.ProviderObjectStore
	creds := &domain.Credentials{AccessKey: &domain.AccessKeyCredentials{AccessKeyID: "id", SecretAccessKey: "secret"}}

	_, err := New(context.Background(), cfg, nil, nil)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	_, err = New(context.Background(), cfg, creds, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	cfg.ObjectStore.Endpoint = "s3.example.com"
	cfg.ObjectStore.Bucket = "backups"
	b, err := New(context.Background(), cfg, creds, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderObjectStore, b.Kind())
	assert.Equal(t, "hustlenest.db", b.(*Backend).Key())
}

func TestBackend_ProbeAbsent(t *testing.T) {
	b, _ := newFakeBackend(t)

	info, err := b.Probe(context.Background())

	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestBackend_ProbeExisting(t *testing.T) {
	b, fake := newFakeBackend(t)
	modified := time.Date(2026, 9, 30, 8, 0, 0, 0, time.UTC)
	fake.objects["nest/hustlenest.db"] = &storedObject{body: []byte("sqlite"), size: 6, lastModified: modified}

	info, err := b.Probe(context.Background())

	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(6), info.Size)
	assert.True(t, modified.Equal(info.ModTime))
	assert.Equal(t, "etag-6", info.Hash)
}

func TestBackend_Download(t *testing.T) {
	b, fake := newFakeBackend(t)
	fake.objects["nest/hustlenest.db"] = &storedObject{
		body:         []byte("remote database"),
		size:         15,
		lastModified: time.Now().UTC(),
	}

	dest := filepath.Join(t.TempDir(), "pulled.db")
	n, err := b.Download(context.Background(), dest)

	require.NoError(t, err)
	assert.Equal(t, int64(15), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "remote database", string(data))
}

func TestBackend_DownloadAbsent(t *testing.T) {
	b, _ := newFakeBackend(t)

	_, err := b.Download(context.Background(), filepath.Join(t.TempDir(), "pulled.db"))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackend_Upload(t *testing.T) {
	b, fake := newFakeBackend(t)
	src := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(src, []byte("local database"), 0o600))

	info, err := b.Upload(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(14), info.Size)
	assert.Equal(t, contentType, fake.objects["nest/hustlenest.db"].contentType)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, domain.ErrNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}, domain.ErrNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, domain.ErrAuthRequired},
		{"bad signature", minio.ErrorResponse{Code: "SignatureDoesNotMatch", StatusCode: 403}, domain.ErrAuthRequired},
		{"expired token", minio.ErrorResponse{Code: "ExpiredToken", StatusCode: 400}, domain.ErrAuthExpired},
		{"quota", minio.ErrorResponse{Code: "QuotaExceeded", StatusCode: 400}, domain.ErrQuotaExceeded},
		{"storage full", minio.ErrorResponse{Code: "XMinioStorageFull", StatusCode: 507}, domain.ErrQuotaExceeded},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, domain.ErrRateLimited},
		{"internal", minio.ErrorResponse{Code: "InternalError", StatusCode: 500}, domain.ErrUnreachable},
		{"bare 403", minio.ErrorResponse{StatusCode: 403}, domain.ErrAuthRequired},
		{"bare 429", minio.ErrorResponse{StatusCode: 429}, domain.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, WrapError(tt.err), tt.want)
		})
	}
}

func TestWrapError_PassesThrough(t *testing.T) {
	assert.NoError(t, WrapError(nil))

	plain := errors.New("something odd")
	assert.Equal(t, plain, WrapError(plain))
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
	b, fake := newFakeBackend(t)
	payload := databaseBytes(200_000)

	src := filepath.Join(t.TempDir(), "staging.db")
	require.NoError(t, os.WriteFile(src, payload, 0o600))
	_, err := b.Upload(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)

	probed, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), probed.Size)

	dest := filepath.Join(t.TempDir(), "pulled.db")
	n, err := b.Download(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	pulled, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, pulled), "downloaded bytes differ from uploaded")
}
