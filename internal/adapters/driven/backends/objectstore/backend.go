// Package objectstore implements the object_store backend for S3-compatible
// services (AWS S3, MinIO, R2, Backblaze B2).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/backends/neterr"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// Ensure Backend implements the Backend interface.
var _ driven.Backend = (*Backend)(nil)

const contentType = "application/vnd.sqlite3"

// Backend stores the database as a single object.
type Backend struct {
	client *minio.Client
	bucket string
	key    string
}

// New creates an object store backend. It matches driven.BackendBuilder.
func New(_ context.Context, cfg domain.SyncConfig, creds *domain.Credentials, _ driven.TokenProvider) (driven.Backend, error) {
	if creds == nil || creds.AccessKey == nil {
		return nil, fmt.Errorf("%w: object store needs an access key pair", domain.ErrAuthRequired)
	}
	if cfg.ObjectStore.Endpoint == "" || cfg.ObjectStore.Bucket == "" {
		return nil, fmt.Errorf("%w: object_store.endpoint and object_store.bucket are required", domain.ErrInvalidInput)
	}

	keys := creds.AccessKey
	client, err := minio.New(cfg.ObjectStore.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(keys.AccessKeyID, keys.SecretAccessKey, keys.SessionToken),
		Secure:       cfg.ObjectStore.Secure,
		Region:       cfg.ObjectStore.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: object store client: %w", domain.ErrInvalidInput, err)
	}

	return NewWithClient(cfg, client), nil
}

// NewWithClient creates a backend around an existing client.
func NewWithClient(cfg domain.SyncConfig, client *minio.Client) *Backend {
	return &Backend{
		client: client,
		bucket: cfg.ObjectStore.Bucket,
		key:    cfg.RemotePath(),
	}
}

// Kind returns ProviderObjectStore.
func (b *Backend) Kind() domain.ProviderKind {
	return domain.ProviderObjectStore
}

// Key returns the object key.
func (b *Backend) Key() string {
	return b.key
}

// Probe reads the object's metadata.
func (b *Backend) Probe(ctx context.Context) (domain.RemoteInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.key, minio.StatObjectOptions{})
	if err != nil {
		wrapped := WrapError(err)
		if errors.Is(wrapped, domain.ErrNotFound) && minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return domain.RemoteInfo{Exists: false}, nil
		}
		return domain.RemoteInfo{}, wrapped
	}
	return remoteInfo(info), nil
}

// Download fetches the object into destPath.
func (b *Backend) Download(ctx context.Context, destPath string) (int64, error) {
	if err := b.client.FGetObject(ctx, b.bucket, b.key, destPath, minio.GetObjectOptions{}); err != nil {
		return 0, WrapError(err)
	}
	if err := os.Chmod(destPath, 0o600); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	return info.Size(), nil
}

// Upload replaces the object with srcPath. Object stores have no folders,
// so nothing needs creating beyond the bucket, which must already exist.
func (b *Backend) Upload(ctx context.Context, srcPath string) (domain.RemoteInfo, error) {
	_, err := b.client.FPutObject(ctx, b.bucket, b.key, srcPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return domain.RemoteInfo{}, WrapError(err)
	}

	info, err := b.client.StatObject(ctx, b.bucket, b.key, minio.StatObjectOptions{})
	if err != nil {
		return domain.RemoteInfo{}, WrapError(err)
	}
	return remoteInfo(info), nil
}

// RefreshAuthIfNeeded is a no-op: static keys do not expire.
func (b *Backend) RefreshAuthIfNeeded(_ context.Context) error {
	return nil
}

// Close is a no-op; the client holds only pooled HTTP connections.
func (b *Backend) Close() error {
	return nil
}

func remoteInfo(info minio.ObjectInfo) domain.RemoteInfo {
	return domain.RemoteInfo{
		Exists: true,
		ID:     info.VersionID,
		Fingerprint: domain.Fingerprint{
			Size:    info.Size,
			ModTime: info.LastModified.UTC(),
			Hash:    info.ETag,
		},
	}
}

// WrapError maps S3 error codes onto domain errors.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	case "ExpiredToken", "TokenRefreshRequired":
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "XMinioStorageFull", "EntityTooLarge":
		return fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	case "SlowDown", "SlowDownRead", "SlowDownWrite":
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return neterr.Classify(err)
}
