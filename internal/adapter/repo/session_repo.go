// Package repo persists consistency-state and task snapshots to
// PostgreSQL as JSONB documents. Snapshots are a debugging and replay
// aid; the in-memory registries remain the source of truth.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"demoforge/internal/domain"
	"demoforge/internal/sqlinline"
)

// EnsureSchema creates the snapshot tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, sqlinline.QEnsureSnapshotSchema)
	return err
}

// SessionRepositoryPG implements domain.StateSnapshotRepository.
type SessionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a session snapshot repository backed by PostgreSQL.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepositoryPG {
	return &SessionRepositoryPG{pool: pool}
}

// Save upserts the latest snapshot for a session.
func (r *SessionRepositoryPG) Save(ctx context.Context, state domain.ConsistencyState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx, sqlinline.QUpsertSessionSnapshot, state.SessionID, state.Version, payload)
	return err
}

// Load fetches the latest snapshot for a session.
func (r *SessionRepositoryPG) Load(ctx context.Context, sessionID string) (*domain.ConsistencyState, error) {
	var payload []byte
	if err := r.pool.QueryRow(ctx, sqlinline.QLoadSessionSnapshot, sessionID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var state domain.ConsistencyState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	return &state, nil
}

// List returns every persisted session state. The worker uses it to
// rebuild its session registry at startup.
func (r *SessionRepositoryPG) List(ctx context.Context) ([]domain.ConsistencyState, error) {
	rows, err := r.pool.Query(ctx, sqlinline.QListSessionSnapshots)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.ConsistencyState
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var state domain.ConsistencyState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("decode state snapshot: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

var _ domain.StateSnapshotRepository = (*SessionRepositoryPG)(nil)
