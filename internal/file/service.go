package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"fileup/internal/upload"
)

var ErrIsDirectory = errors.New("is a directory, use --recursive")

// LocalFile is an upload.File backed by a path on disk.
type LocalFile struct {
	path     string
	name     string
	size     int64
	mimeType string
}

func (f *LocalFile) Name() string     { return f.name }
func (f *LocalFile) Size() int64      { return f.size }
func (f *LocalFile) MimeType() string { return f.mimeType }
func (f *LocalFile) Path() string     { return f.path }

func (f *LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type fileService struct{}

func NewFileService() FileService {
	return &fileService{}
}

// Collect resolves paths into uploadable files, in argument order and
// lexical order within directories
func (f *fileService) Collect(paths []string, recursive bool) ([]upload.File, []error) {
	var files []upload.File
	var errs []error

	notReadable := func(path string, err error) {
		errs = append(errs, upload.NewError(upload.KindNotReadable, nil, fmt.Errorf("%s: %w", path, err)))
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			notReadable(path, err)
			continue
		}

		if !info.IsDir() {
			lf, err := f.Open(path)
			if err != nil {
				notReadable(path, err)
				continue
			}
			files = append(files, lf)
			continue
		}

		if !recursive {
			notReadable(path, ErrIsDirectory)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				notReadable(p, err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			lf, err := f.Open(p)
			if err != nil {
				notReadable(p, err)
				return nil
			}
			files = append(files, lf)
			return nil
		})
		if err != nil {
			notReadable(path, err)
		}
	}

	return files, errs
}

// Open stats and sniffs a single regular file
func (f *fileService) Open(filePath string) (*LocalFile, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", filePath)
	}

	mimeType, err := detectMimeType(filePath)
	if err != nil {
		return nil, err
	}

	return &LocalFile{
		path:     filePath,
		name:     info.Name(),
		size:     info.Size(),
		mimeType: mimeType,
	}, nil
}

// detectMimeType sniffs the content of path. Generic results fall back to
// the extension's registered type. Parameters such as charset are dropped.
func detectMimeType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect mime type: %w", err)
	}

	detected := mt.String()
	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			detected = byExt
		}
	}

	mediaType, _, _ := strings.Cut(detected, ";")
	return strings.TrimSpace(mediaType), nil
}

// CreateWriter writes to a temporary file next to dstPath. Close renames
// it into place, so dstPath never holds a partial file.
func (f *fileService) CreateWriter(dstPath string) (FileWriter, error) {
	dir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dstPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	return &atomicWriter{tmp: tmp, dst: dstPath}, nil
}

type atomicWriter struct {
	tmp *os.File
	dst string
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *atomicWriter) Path() string {
	return w.dst
}

func (w *atomicWriter) Close() error {
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return err
	}
	if err := os.Rename(w.tmp.Name(), w.dst); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", w.dst, err)
	}
	return nil
}

func (w *atomicWriter) Abort() error {
	closeErr := w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}
