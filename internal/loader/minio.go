package loader

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinIO or other S3-compatible source
type MinioConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// MaxRetries bounds the client's own retries; zero keeps the client default
	MaxRetries int
}

// MinioSource reads partitions through the MinIO client
type MinioSource struct {
	client *minio.Client
	bucket string
}

// NewMinioSource creates a MinIO client for cfg
func NewMinioSource(cfg MinioConfig) (*MinioSource, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioSource{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Source
func (s *MinioSource) Name() string {
	return "minio://" + s.client.EndpointURL().Host + "/" + s.bucket
}

// Open implements Source. The object is stat'ed first because GetObject defers errors to the
// first read.
func (s *MinioSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := path.Clean(name)

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return nil, notFound(s.Name(), name, err)
		}
		return nil, openFailed(s.Name(), name, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, openFailed(s.Name(), name, err)
	}
	return obj, nil
}

func isMinioNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
}
