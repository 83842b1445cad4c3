package cluster

import (
	"context"
	"time"
)

// Client defines the read-only query interface against one cluster
type Client interface {
	// Health fails when the cluster is unreachable or reports red status
	Health(ctx context.Context) error

	// LatestTimestamp returns the maximum value of field across documents
	// matching index, or false when no document has the field set.
	// A failed health check propagates as an error, not as absent.
	LatestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error)

	// EarliestTimestamp is the symmetric minimum
	EarliestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error)

	// SnapshotStartTime returns the start time of the most recently
	// started snapshot in the repository. Lookup is best-effort: any
	// failure is reported as absent.
	SnapshotStartTime(ctx context.Context, repository string) (time.Time, bool)
}

// Config contains client configuration
type Config struct {
	Endpoint string
	Username string
	Password string
	Insecure bool
}
