package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// ResolveDestinationPath checks that destPath can receive files. A missing
// directory is accepted when its parent exists; it is created on first write.
func ResolveDestinationPath(destPath string) (string, error) {
	info, err := os.Stat(destPath)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("destination %s is not a directory", destPath)
		}
		return destPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat destination %s: %w", destPath, err)
	}

	parent := filepath.Dir(destPath)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return "", fmt.Errorf("destination %s has no parent directory %s", destPath, parent)
	}
	return destPath, nil
}

// FormatFileSize renders size in IEC units, e.g. "1.5 MiB"
func FormatFileSize(size int64) string {
	return humanize.IBytes(uint64(max(size, 0)))
}
