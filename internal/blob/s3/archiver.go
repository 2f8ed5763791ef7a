package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query methods it actually
// calls, not the full domain store interfaces. The Postgres stores
// satisfy these implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error)
}

// OrderArchiveStore provides read access to orders for archival.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// EquityArchiveStore provides read access to equity snapshots for
// archival.
type EquityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, and uploading the result to object
// storage.
//
// Deletion of the archived rows from the primary store is intentionally
// NOT performed here; the caller runs DeleteBefore once the archive is
// verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	trades   TradeArchiveStore
	orders   OrderArchiveStore
	equities EquityArchiveStore
	logger   *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	orders OrderArchiveStore,
	equities EquityArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		trades:   trades,
		orders:   orders,
		equities: equities,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads all trades before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, "trades", before, trades)
}

// ArchiveOrders uploads all orders created before the cutoff to
// archive/orders/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return upload(ctx, a, "orders", before, orders)
}

// ArchiveEquity uploads all equity snapshots before the cutoff to
// archive/equity/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveEquity(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.equities.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive equity query: %w", err)
	}
	return upload(ctx, a, "equity", before, snaps)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archived records",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by
// the year-month of the cutoff:
//
//	archive/trades/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/equity/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by
// '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
