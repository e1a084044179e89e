package upload

import (
	"bytes"
	"io"
)

// File is a read-only handle to a file that can be uploaded.
// The core only reads its metadata and hands it to the Transport.
type File interface {
	// Name returns the file name, without directories
	Name() string

	// Size returns the file size in bytes
	Size() int64

	// MimeType returns the media type, or "" when unknown
	MimeType() string

	// Open returns a fresh reader over the file content
	Open() (io.ReadCloser, error)
}

// MemoryFile is a File backed by an in-memory byte slice.
type MemoryFile struct {
	FileName string
	Type     string
	Data     []byte
}

// NewMemoryFile creates a MemoryFile with the given name, type and content
func NewMemoryFile(name, mimeType string, data []byte) *MemoryFile {
	return &MemoryFile{FileName: name, Type: mimeType, Data: data}
}

func (m *MemoryFile) Name() string     { return m.FileName }
func (m *MemoryFile) Size() int64      { return int64(len(m.Data)) }
func (m *MemoryFile) MimeType() string { return m.Type }

func (m *MemoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}

func totalBytes(files []File) int64 {
	var n int64
	for _, f := range files {
		if s := f.Size(); s > 0 {
			n += s
		}
	}
	return n
}
