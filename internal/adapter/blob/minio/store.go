// Package minio implements the blob store port on any S3-compatible
// endpoint (MinIO in development, S3 in production).
package minio

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// Store implements domain.BlobStore on a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// Options configures the S3 connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// NewStore connects to the endpoint and ensures the bucket exists.
func NewStore(ctx domain.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("op=blob.NewStore: %w", err)
	}
	s := &Store{client: client, bucket: opts.Bucket}
	if err := s.ensureBucket(ctx, opts.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx domain.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=blob.ensureBucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("op=blob.ensureBucket: make: %w", err)
	}
	return nil
}

// Put streams an object to the bucket.
func (s *Store) Put(ctx domain.Context, key string, r io.Reader, size int64, contentType string) error {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.Put")
	defer span.End()
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("op=blob.Put: %w", err)
	}
	return nil
}

// Get streams an object; the caller closes the reader.
func (s *Store) Get(ctx domain.Context, key string) (io.ReadCloser, domain.BlobInfo, error) {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.Get")
	defer span.End()
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.BlobInfo{}, fmt.Errorf("op=blob.Get: %w", err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, domain.BlobInfo{}, fmt.Errorf("op=blob.Get: %s: %w", key, domain.ErrNotFound)
		}
		return nil, domain.BlobInfo{}, fmt.Errorf("op=blob.Get: stat: %w", err)
	}
	return obj, domain.BlobInfo{Size: st.Size, ContentType: st.ContentType}, nil
}

// Download copies an object to a local file.
func (s *Store) Download(ctx domain.Context, key, localPath string) error {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.Download")
	defer span.End()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("op=blob.Download: mkdir: %w", err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return fmt.Errorf("op=blob.Download: %s: %w", key, domain.ErrNotFound)
		}
		return fmt.Errorf("op=blob.Download: %w", err)
	}
	return nil
}

// Remove deletes an object. Removing a missing key is not an error.
func (s *Store) Remove(ctx domain.Context, key string) error {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.Remove")
	defer span.End()
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("op=blob.Remove: %w", err)
	}
	return nil
}

// RemovePrefix deletes every object under prefix.
func (s *Store) RemovePrefix(ctx domain.Context, prefix string) error {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.RemovePrefix")
	defer span.End()
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("op=blob.RemovePrefix: list: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("op=blob.RemovePrefix: remove %s: %w", obj.Key, err)
		}
	}
	return nil
}

// PresignGet returns a time-limited download URL for the object.
func (s *Store) PresignGet(ctx domain.Context, key string, expiry time.Duration) (string, error) {
	tracer := otel.Tracer("blob.minio")
	ctx, span := tracer.Start(ctx, "blob.PresignGet")
	defer span.End()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("op=blob.PresignGet: %w", err)
	}
	return u.String(), nil
}

// Ping verifies the endpoint and bucket are reachable, for readiness.
func (s *Store) Ping(ctx domain.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("op=blob.Ping: %w", err)
	}
	return nil
}
