package file

import (
	"io"

	"fileup/internal/upload"
)

// FileService handles local file operations for uploading and receiving
type FileService interface {
	// Collect resolves paths into uploadable files. Paths that cannot be
	// read are returned as NotReadable errors; the remaining files are
	// still collected.
	Collect(paths []string, recursive bool) ([]upload.File, []error)

	// Open stats and sniffs a single regular file
	Open(filePath string) (*LocalFile, error)

	// CreateWriter creates a file for writing, including parent directories
	CreateWriter(dstPath string) (FileWriter, error)
}

// FileWriter represents a file opened for writing
type FileWriter interface {
	io.Writer
	io.Closer

	// Path returns the file path
	Path() string

	// Abort closes and removes the partially written file
	Abort() error
}
