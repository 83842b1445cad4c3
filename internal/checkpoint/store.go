package checkpoint

import (
	"fmt"
	"time"

	"es2os/internal/config"
)

// Store persists the single migration progress timestamp. A stored value
// means every document with a field value before it has been migrated.
type Store interface {
	// Load returns the persisted timestamp, or false when none exists
	Load() (time.Time, bool, error)

	// Save overwrites the persisted timestamp
	Save(t time.Time) error

	// Clear removes the persisted timestamp; clearing an absent value is a no-op
	Clear() error

	// Close releases backend resources
	Close() error
}

// Open creates the store selected by the configured backend
func Open(cfg config.Migration) (Store, error) {
	switch cfg.CheckpointBackend {
	case config.BackendFile:
		return NewFileStore(cfg.Checkpoint), nil
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.Checkpoint)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}
