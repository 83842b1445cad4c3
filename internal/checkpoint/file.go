package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"es2os/internal/timeutil"
)

// FileStore persists the progress timestamp as a single line in a file.
// Presence of the file indicates a resumable run.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed checkpoint store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted timestamp
func (s *FileStore) Load() (time.Time, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	t, err := timeutil.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt checkpoint file %s: %w", s.path, err)
	}
	return t, true, nil
}

// Save overwrites the persisted timestamp. The write goes to a temporary
// file first and is renamed into place so a crash mid-write cannot leave
// a truncated checkpoint behind.
func (s *FileStore) Save(t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(timeutil.Format(t)), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file if it exists
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error {
	return nil
}
