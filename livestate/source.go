package livestate

import (
	"context"
	"time"

	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/storage"
)

// SnapshotSource loads the current snapshot of an instance.
type SnapshotSource interface {
	InstanceSnapshot(ctx context.Context, instanceID string) (*game.Snapshot, error)
}

// StateSource reads snapshots from committed node state.
type StateSource struct {
	db  storage.DB
	now func() time.Time
}

// NewStateSource returns a source over db. Each read opens a fresh state view
// so it only ever observes fully committed blocks.
func NewStateSource(db storage.DB) *StateSource {
	return &StateSource{db: db, now: time.Now}
}

// InstanceSnapshot implements SnapshotSource.
func (s *StateSource) InstanceSnapshot(ctx context.Context, instanceID string) (*game.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, err := storage.NewStateDB(s.db).GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	snap := inst.Snapshot(s.now().Unix())
	return &snap, nil
}
