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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, link_id, symbol, side, order_type, price, size,
	filled_size, avg_price, status, source, created_at, filled_at, cancelled_at`

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.LinkID, &o.Symbol, &o.Side, &o.Type,
		&o.Price, &o.Size, &o.FilledSize, &o.AvgPrice,
		&o.Status, &o.Source, &o.CreatedAt, &o.FilledAt, &o.CancelledAt,
	)
	return o, err
}

// Create inserts one order. Re-inserting the same id updates the
// mutable columns, so replayed submissions stay idempotent.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, link_id, symbol, side, order_type, price, size,
			filled_size, avg_price, status, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			filled_size = EXCLUDED.filled_size,
			avg_price = EXCLUDED.avg_price,
			status = EXCLUDED.status`

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.LinkID, order.Symbol, order.Side, order.Type,
		order.Price, order.Size, order.FilledSize, order.AvgPrice,
		order.Status, order.Source, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order: %w", err)
	}
	return nil
}

// UpdateStatus moves an order to a new status, stamping the terminal
// timestamp columns as appropriate.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	query := `UPDATE orders SET status = $2`
	switch status {
	case domain.OrderStatusFilled:
		query += `, filled_at = NOW()`
	case domain.OrderStatusCancelled:
		query += `, cancelled_at = NOW()`
	}
	query += ` WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("postgres: update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order status: %w: %s", domain.ErrNotFound, id)
	}
	return nil
}

// GetByID returns one order, or ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: get order: %w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order: %w", err)
	}
	return o, nil
}

// ListOpen returns the non-terminal orders for a symbol.
func (s *OrderStore) ListOpen(ctx context.Context, symbol string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE symbol = $1 AND status IN ($2, $3)
		 ORDER BY created_at ASC`,
		symbol, domain.OrderStatusPending, domain.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListBefore returns orders created strictly before the given time, for
// archiving.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// DeleteBefore deletes orders created before the given time. Returns the
// number deleted.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before: %w", err)
	}
	return tag.RowsAffected(), nil
}
