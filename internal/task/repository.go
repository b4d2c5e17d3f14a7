package task

import "context"

// Repository persists snapshots of finished tasks. The in-memory registry
// stays the source of truth while the process lives; the repository is a
// write-mostly archive.
type Repository interface {
	Save(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	List(ctx context.Context) ([]*Snapshot, error)
}
