package valuation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository reconstructs movement totals from PostgreSQL. Read-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MovementTotals sums a SKU's purchases, unreversed sales and manual
// adjustments at or before asOf.
func (r *Repository) MovementTotals(ctx context.Context, sku string, asOf time.Time) (MovementTotals, error) {
	var totals MovementTotals
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT SUM(qty) FROM purchase_lots WHERE sku = $1 AND purchased_at <= $2), 0),
		   COALESCE((SELECT SUM(qty) FROM sale_consumptions WHERE sku = $1 AND sold_at <= $2 AND NOT reversed), 0),
		   COALESCE((SELECT SUM(qty) FROM stock_adjustments WHERE sku = $1 AND posted_at <= $2), 0)`,
		sku, asOf).Scan(&totals.Purchased, &totals.Sold, &totals.Adjusted)
	return totals, err
}

// ActiveSKUs lists SKUs by most recent purchase activity, newest first.
// The valuation warmup job prices these ahead of interactive reads.
func (r *Repository) ActiveSKUs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sku FROM purchase_lots GROUP BY sku ORDER BY MAX(purchased_at) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

// LatestUnitCost returns the unit cost of the newest purchase at or before
// asOf. Purchases sharing a date resolve to the highest id.
func (r *Repository) LatestUnitCost(ctx context.Context, sku string, asOf time.Time) (shared.Amount, bool, error) {
	var cost shared.Amount
	err := r.pool.QueryRow(ctx,
		`SELECT unit_cost_usd, unit_cost_aed FROM purchase_lots
		 WHERE sku = $1 AND purchased_at <= $2
		 ORDER BY purchased_at DESC, id DESC LIMIT 1`,
		sku, asOf).Scan(&cost.USD, &cost.AED)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Amount{}, false, nil
	}
	if err != nil {
		return shared.Amount{}, false, err
	}
	return cost, true, nil
}
