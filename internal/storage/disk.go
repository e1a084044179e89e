package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fileup/internal/file"
)

// DiskSink stores files below a local directory
type DiskSink struct {
	dir    string
	prefix string
	files  file.FileService
}

// NewDiskSink creates a sink writing below dir
func NewDiskSink(dir, prefix string, files file.FileService) (*DiskSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory must be set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &DiskSink{dir: dir, prefix: prefix, files: files}, nil
}

// Dir returns the root directory of the sink
func (s *DiskSink) Dir() string {
	return s.dir
}

func (s *DiskSink) Put(ctx context.Context, name, contentType string, r io.Reader) (Object, error) {
	key := objectKey(s.prefix, name)
	dst := filepath.Join(s.dir, filepath.FromSlash(key))

	w, err := s.files.CreateWriter(dst)
	if err != nil {
		return Object{}, err
	}

	n, err := io.Copy(w, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = w.Abort()
		return Object{}, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		_ = w.Abort()
		return Object{}, fmt.Errorf("failed to close %s: %w", key, err)
	}

	return Object{Key: key, Size: n, ContentType: contentType}, nil
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
