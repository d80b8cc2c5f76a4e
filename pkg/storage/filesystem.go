package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage persists files on disk, resolving relative names against a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage returns a handle rooted at baseDir; an empty baseDir means
// the working directory.
func NewLocalStorage(baseDir string) *LocalStorage {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalStorage{baseDir: baseDir}
}

// Save writes data to filename, creating parent directories as needed. The
// bytes go to a temporary sibling first and are renamed into place, so the
// target is either the previous file or the complete new one.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := s.resolve(filename)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close output file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("move output file into place: %w", err)
	}
	return path, nil
}

func (s *LocalStorage) resolve(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(s.baseDir, filename)
}
