package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"demoforge/internal/domain"
	"demoforge/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskSnapshotRepository.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a task snapshot repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

// Save upserts one task record after a state change.
func (r *TaskRepositoryPG) Save(ctx context.Context, task domain.GenerationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx, sqlinline.QUpsertTaskSnapshot, task.TaskID, task.Kind, task.Status, payload)
	return err
}

// List returns every task snapshot, oldest submission first.
func (r *TaskRepositoryPG) List(ctx context.Context) ([]domain.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListTaskSnapshots)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.GenerationTask
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var task domain.GenerationTask
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, fmt.Errorf("decode task snapshot: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

var _ domain.TaskSnapshotRepository = (*TaskRepositoryPG)(nil)
