package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fileup/internal/config"
)

// MinioAPI is the part of the MinIO client used by MinioSink
type MinioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioSink streams files into a MinIO bucket
type MinioSink struct {
	client MinioAPI
	bucket string
	prefix string
}

// NewMinioSink creates a sink over an existing client
func NewMinioSink(client MinioAPI, bucket, prefix string) *MinioSink {
	return &MinioSink{client: client, bucket: bucket, prefix: prefix}
}

// NewMinioSinkFromConfig connects to the configured endpoint with static
// credentials
func NewMinioSinkFromConfig(cfg config.StorageConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewMinioSink(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *MinioSink) Put(ctx context.Context, name, contentType string, r io.Reader) (Object, error) {
	key := objectKey(s.prefix, name)
	body := &countingReader{r: r}

	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-filename": name},
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, -1, opts)
	if err != nil {
		return Object{}, fmt.Errorf("minio upload failed: %w", err)
	}

	size := info.Size
	if size <= 0 {
		size = body.n
	}
	return Object{Key: key, Size: size, ContentType: contentType}, nil
}
