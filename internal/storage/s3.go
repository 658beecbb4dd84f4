// Package storage fetches thumbnails held in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/muandane/special-stack/thumbwall/internal/config"
	"github.com/muandane/special-stack/thumbwall/internal/download"
)

// NewMinioClient builds a MinIO client from the storage configuration.
func NewMinioClient(cfg *config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}
	return client, nil
}

// ObjectGetter is the part of *minio.Client the downloader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// S3 downloads s3://bucket/key URLs.
type S3 struct {
	client ObjectGetter
	logger *slog.Logger
}

// NewS3 returns a downloader backed by client.
func NewS3(client ObjectGetter, logger *slog.Logger) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{client: client, logger: logger}, nil
}

// Fetch streams the object named by rawURL into sink.
func (s *S3) Fetch(ctx context.Context, rawURL string, sink io.WriteCloser) error {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		sink.Close()
		return err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		sink.Close()
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	if err := download.Copy(ctx, sink, obj); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			s.logger.Debug("object not found", "bucket", bucket, "key", key)
		}
		return fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ParseObjectURL splits s3://bucket/key into its parts.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse object url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("object url %q: scheme must be s3", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("object url %q: bucket and key are required", rawURL)
	}
	return bucket, key, nil
}
