package costing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads allocator inputs from PostgreSQL. It is read-only: the
// batch report never mutates what it reports on.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListLots loads lots in FIFO order.
func (r *Repository) ListLots(ctx context.Context, sku string) ([]Lot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sku, qty, unit_cost_usd, unit_cost_aed, purchased_at
		 FROM purchase_lots WHERE sku = $1 ORDER BY purchased_at, id`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.SKU, &lot.Qty, &lot.UnitCost.USD, &lot.UnitCost.AED, &lot.PurchasedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListSales loads unreversed sale lines in chronological order.
func (r *Repository) ListSales(ctx context.Context, sku string) ([]Sale, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_ref, qty, sale_price_usd, sale_price_aed, sold_at
		 FROM sale_consumptions WHERE sku = $1 AND NOT reversed ORDER BY sold_at, id`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.SaleRef, &s.Qty, &s.SalePrice.USD, &s.SalePrice.AED, &s.SoldAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}
