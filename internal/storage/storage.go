package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"fileup/internal/config"
	"fileup/internal/file"
)

var ErrObjectTooLarge = errors.New("object exceeds the maximum size")

// Object describes a stored file
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Sink persists received files
type Sink interface {
	// Put stores the content of r under a fresh key derived from name
	Put(ctx context.Context, name, contentType string, r io.Reader) (Object, error)
}

// New creates the sink selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Backend {
	case config.BackendDisk:
		sink, err = NewDiskSink(cfg.Dir, cfg.Prefix, file.NewFileService())
	case config.BackendS3:
		sink, err = NewS3SinkFromConfig(ctx, cfg)
	case config.BackendMinio:
		sink, err = NewMinioSinkFromConfig(cfg)
	default:
		return nil, config.ErrInvalidStorageBackend
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", cfg.Backend, err)
	}

	logger.Debug("Storage ready", "backend", cfg.Backend, "prefix", cfg.Prefix)
	return sink, nil
}

// objectKey returns prefix + uuid + "/" + the base name of name
func objectKey(prefix, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	return prefix + uuid.NewString() + "/" + base
}

// countingReader counts the bytes read through it
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
