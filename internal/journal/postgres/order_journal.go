package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/domain"
)

// OrderJournal implements domain.OrderJournal on an append-only table.
// Records are inserted once when an order reaches a terminal status and are
// never updated.
type OrderJournal struct {
	pool *pgxpool.Pool
}

// NewOrderJournal creates an OrderJournal backed by the given pool.
func NewOrderJournal(pool *pgxpool.Pool) *OrderJournal {
	return &OrderJournal{pool: pool}
}

// Append writes one terminal order record. A duplicate id is ignored so a
// retried append stays idempotent.
func (j *OrderJournal) Append(ctx context.Context, o domain.Order) error {
	closedAt := o.CreatedAt
	if o.ClosedAt != nil {
		closedAt = *o.ClosedAt
	}

	const query = `
		INSERT INTO order_journal (
			order_id, venue, symbol, side, price, quantity,
			status, opportunity_id, venue_order_id, reason,
			created_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)
		ON CONFLICT (order_id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		o.ID, o.Venue, o.Symbol, string(o.Side),
		o.Price.String(), o.Quantity.String(),
		string(o.Status), o.OpportunityID, o.VenueOrderID, o.Reason,
		o.CreatedAt, closedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: journal append order %d: %w", o.ID, err)
	}
	return nil
}

const journalSelectCols = `order_id, venue, symbol, side, price, quantity,
	status, opportunity_id, venue_order_id, reason, created_at, closed_at`

// ListBefore returns records closed strictly before the cutoff, oldest first.
func (j *OrderJournal) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + journalSelectCols + `
		FROM order_journal WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: journal list before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o                domain.Order
			side, status     string
			priceStr, qtyStr string
			closedAt         time.Time
		)
		err := rows.Scan(
			&o.ID, &o.Venue, &o.Symbol, &side, &priceStr, &qtyStr,
			&status, &o.OpportunityID, &o.VenueOrderID, &o.Reason,
			&o.CreatedAt, &closedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: journal scan: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Status = domain.OrderStatus(status)
		if o.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("postgres: journal parse price: %w", err)
		}
		if o.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
			return nil, fmt.Errorf("postgres: journal parse quantity: %w", err)
		}
		o.ClosedAt = &closedAt
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// DeleteBefore removes records closed strictly before the cutoff.
func (j *OrderJournal) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx,
		`DELETE FROM order_journal WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: journal delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OrderJournal = (*OrderJournal)(nil)
