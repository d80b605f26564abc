package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates path and any missing parents with mode 0755.
// Returns nil if the directory already exists.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath.
func EnsureDirForFile(filePath string) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", filePath, err)
	}
	return nil
}

// CreateTempDir creates base if needed and then a fresh, uniquely named
// directory inside it whose name starts with prefix.
func CreateTempDir(base, prefix string) (string, error) {
	if err := EnsureDir(base); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(base, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir in %s: %w", base, err)
	}
	return dir, nil
}

// RemoveDir deletes path and everything below it. A missing path is not an
// error.
func RemoveDir(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove directory %s: %w", path, err)
	}
	return nil
}
