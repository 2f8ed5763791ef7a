package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// EquityStore implements domain.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates a new EquityStore backed by the given pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

const equitySelectCols = `id, balance, equity, unrealized_pnl, realized_pnl,
	drawdown_percent, margin_ratio, timestamp`

func scanEquityRows(rows pgx.Rows) ([]domain.EquitySnapshot, error) {
	var snaps []domain.EquitySnapshot
	for rows.Next() {
		var s domain.EquitySnapshot
		if err := rows.Scan(
			&s.ID, &s.Balance, &s.Equity, &s.UnrealizedPnL, &s.RealizedPnL,
			&s.DrawdownPercent, &s.MarginRatio, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// Insert records one equity snapshot.
func (s *EquityStore) Insert(ctx context.Context, snap domain.EquitySnapshot) error {
	const query = `
		INSERT INTO equity_snapshots (
			balance, equity, unrealized_pnl, realized_pnl,
			drawdown_percent, margin_ratio, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.Balance, snap.Equity, snap.UnrealizedPnL, snap.RealizedPnL,
		snap.DrawdownPercent, snap.MarginRatio, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert equity snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or ErrNotFound.
func (s *EquityStore) Latest(ctx context.Context) (domain.EquitySnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+equitySelectCols+` FROM equity_snapshots ORDER BY timestamp DESC LIMIT 1`)

	var snap domain.EquitySnapshot
	err := row.Scan(
		&snap.ID, &snap.Balance, &snap.Equity, &snap.UnrealizedPnL, &snap.RealizedPnL,
		&snap.DrawdownPercent, &snap.MarginRatio, &snap.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EquitySnapshot{}, fmt.Errorf("postgres: latest equity: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.EquitySnapshot{}, fmt.Errorf("postgres: latest equity: %w", err)
	}
	return snap, nil
}

// List returns snapshots with pagination and optional time filtering.
func (s *EquityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EquitySnapshot, error) {
	query := `SELECT ` + equitySelectCols + ` FROM equity_snapshots WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanEquityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan equity snapshots: %w", err)
	}
	return snaps, nil
}

// ListBefore returns snapshots with timestamp strictly before the given
// time, for archiving.
func (s *EquityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error) {
	query := `SELECT ` + equitySelectCols + ` FROM equity_snapshots WHERE timestamp < $1 ORDER BY timestamp ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity before: %w", err)
	}
	defer rows.Close()
	return scanEquityRows(rows)
}

// DeleteBefore deletes snapshots with timestamp before the given time.
// Returns the number deleted.
func (s *EquityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM equity_snapshots WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete equity before: %w", err)
	}
	return tag.RowsAffected(), nil
}
