package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fileup/internal/config"
)

// S3API is the part of the S3 client used by S3Sink
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores files in an S3 bucket. Bodies are buffered in memory,
// bounded by maxBytes.
type S3Sink struct {
	client   S3API
	bucket   string
	prefix   string
	maxBytes int64
}

// NewS3Sink creates a sink over an existing client
func NewS3Sink(client S3API, bucket, prefix string, maxBytes int64) *S3Sink {
	return &S3Sink{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		maxBytes: maxBytes,
	}
}

// NewS3SinkFromConfig loads the default AWS configuration and creates a sink
func NewS3SinkFromConfig(ctx context.Context, cfg config.StorageConfig) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Sink(client, cfg.Bucket, cfg.Prefix, cfg.MaxObjectBytes), nil
}

func (s *S3Sink) Put(ctx context.Context, name, contentType string, r io.Reader) (Object, error) {
	key := objectKey(s.prefix, name)

	var buf bytes.Buffer
	if s.maxBytes > 0 {
		n, err := io.Copy(&buf, io.LimitReader(r, s.maxBytes+1))
		if err != nil {
			return Object{}, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if n > s.maxBytes {
			return Object{}, ErrObjectTooLarge
		}
	} else if _, err := io.Copy(&buf, r); err != nil {
		return Object{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	size := int64(buf.Len())
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		Metadata: map[string]string{
			"original-filename": name,
			"upload-time":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Object{}, fmt.Errorf("s3 upload failed: %w", err)
	}

	return Object{Key: key, Size: size, ContentType: contentType}, nil
}
