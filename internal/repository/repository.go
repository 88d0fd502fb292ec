package repository

import (
	"context"
	"time"

	"reelgraph/internal/domain"
)

// SnapshotCache keeps the last known graph of each project so the engine
// can start while the backend is unreachable.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	// LoadSnapshot returns domain.ErrNotFound when the project was never cached
	LoadSnapshot(ctx context.Context, projectID string) (domain.Snapshot, time.Time, error)
	Close() error
}
