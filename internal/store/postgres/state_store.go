package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// StateStore implements domain.StateStore as a single JSONB row per
// symbol. The whole session snapshot is written atomically so recovery
// never sees a torn checkpoint.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Save upserts the checkpoint for the snapshot's symbol.
func (s *StateStore) Save(ctx context.Context, snap domain.StateSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal state snapshot: %w", err)
	}

	const query = `
		INSERT INTO bot_state (symbol, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx, query, snap.Symbol, payload, updatedAt); err != nil {
		return fmt.Errorf("postgres: save state snapshot: %w", err)
	}
	return nil
}

// Load returns the checkpoint for symbol, or ErrNotFound.
func (s *StateStore) Load(ctx context.Context, symbol string) (domain.StateSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM bot_state WHERE symbol = $1`, symbol).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: load state: %w: %s", domain.ErrNotFound, symbol)
	}
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: load state: %w", err)
	}

	var snap domain.StateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: decode state snapshot: %w", err)
	}
	return snap, nil
}

// Clear removes the checkpoint for symbol. Clearing a missing row is not
// an error.
func (s *StateStore) Clear(ctx context.Context, symbol string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bot_state WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("postgres: clear state: %w", err)
	}
	return nil
}
