package domain

import "context"

// StateSnapshotRepository persists debug/replay snapshots of a session's
// ConsistencyState in a self-describing JSON shape.
type StateSnapshotRepository interface {
	Save(ctx context.Context, state ConsistencyState) error
	Load(ctx context.Context, sessionID string) (*ConsistencyState, error)
}

// TaskSnapshotRepository persists debug/replay snapshots of generation tasks.
type TaskSnapshotRepository interface {
	Save(ctx context.Context, task GenerationTask) error
	List(ctx context.Context) ([]GenerationTask, error)
}
