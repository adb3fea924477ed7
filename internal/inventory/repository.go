package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists lots, stock and sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NewTxRepository adapts an externally managed transaction for the posting
// coordinator.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// GetStock returns the live on-hand row of one SKU. A SKU that never moved
// reads as zero.
func (r *Repository) GetStock(ctx context.Context, sku string) (Stock, error) {
	var s Stock
	err := r.pool.QueryRow(ctx,
		`SELECT sku, qty, updated_at FROM stocks WHERE sku = $1`, sku).
		Scan(&s.SKU, &s.Qty, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{SKU: sku}, nil
	}
	if err != nil {
		return Stock{}, err
	}
	return s, nil
}

// ListLots returns a SKU's lots in FIFO order (purchase date, then id).
func (r *Repository) ListLots(ctx context.Context, sku string) ([]Lot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sku, purchase_ref, qty, sold_qty,
		        unit_cost_usd, unit_cost_aed,
		        shipping_per_unit_usd, shipping_per_unit_aed,
		        customs_per_unit_usd, customs_per_unit_aed,
		        tax_id, purchased_at, created_at
		 FROM purchase_lots WHERE sku = $1 ORDER BY purchased_at, id`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListSales returns a SKU's unreversed sales in chronological order.
func (r *Repository) ListSales(ctx context.Context, sku string) ([]SaleRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sku, sale_ref, qty, sale_price_usd, sale_price_aed, lot_id, sold_at, reversed
		 FROM sale_consumptions WHERE sku = $1 AND NOT reversed ORDER BY sold_at, id`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []SaleRecord
	for rows.Next() {
		var s SaleRecord
		if err := rows.Scan(&s.ID, &s.SKU, &s.SaleRef, &s.Qty, &s.SalePrice.USD, &s.SalePrice.AED, &s.LotID, &s.SoldAt, &s.Reversed); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *txRepo) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO purchase_lots (sku, purchase_ref, qty, sold_qty,
		   unit_cost_usd, unit_cost_aed, shipping_per_unit_usd, shipping_per_unit_aed,
		   customs_per_unit_usd, customs_per_unit_aed, tax_id, purchased_at, created_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9, $10, $11, NOW()) RETURNING id`,
		lot.SKU, lot.PurchaseRef, lot.Qty,
		lot.UnitCost.USD, lot.UnitCost.AED,
		lot.ShippingPerUnit.USD, lot.ShippingPerUnit.AED,
		lot.CustomsPerUnit.USD, lot.CustomsPerUnit.AED,
		lot.TaxID, lot.PurchasedAt).Scan(&id)
	return id, err
}

// AdjustStock applies a signed delta as a single upsert so concurrent
// movements never race a read-then-write cycle.
func (r *txRepo) AdjustStock(ctx context.Context, sku string, delta int64) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stocks (sku, qty, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (sku) DO UPDATE SET qty = stocks.qty + $2, updated_at = NOW()`,
		sku, delta)
	return err
}

// ConsumeLot increments sold_qty under the sold_qty <= qty guard in one
// statement. Zero rows affected means the guard rejected the consumption.
func (r *txRepo) ConsumeLot(ctx context.Context, lotID int64, qty int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE purchase_lots SET sold_qty = sold_qty + $1 WHERE id = $2 AND sold_qty + $1 <= qty`,
		qty, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.lotExists(ctx, lotID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		return shared.ErrInsufficientLotQty
	}
	return nil
}

// ReleaseLot decrements sold_qty, never below zero.
func (r *txRepo) ReleaseLot(ctx context.Context, lotID int64, qty int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE purchase_lots SET sold_qty = sold_qty - $1 WHERE id = $2 AND sold_qty - $1 >= 0`,
		qty, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.lotExists(ctx, lotID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		return shared.Validationf("release of %d exceeds sold quantity of lot %d", qty, lotID)
	}
	return nil
}

func (r *txRepo) InsertSale(ctx context.Context, sale SaleRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO sale_consumptions (sku, sale_ref, qty, sale_price_usd, sale_price_aed, lot_id, sold_at, reversed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE) RETURNING id`,
		sale.SKU, sale.SaleRef, sale.Qty, sale.SalePrice.USD, sale.SalePrice.AED, sale.LotID, sale.SoldAt).Scan(&id)
	return id, err
}

func (r *txRepo) MarkSaleReversed(ctx context.Context, saleID int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sale_consumptions SET reversed = TRUE WHERE id = $1 AND NOT reversed`, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sale %d: %w", saleID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) GetSale(ctx context.Context, saleID int64) (SaleRecord, error) {
	var s SaleRecord
	err := r.tx.QueryRow(ctx,
		`SELECT id, sku, sale_ref, qty, sale_price_usd, sale_price_aed, lot_id, sold_at, reversed
		 FROM sale_consumptions WHERE id = $1`, saleID).
		Scan(&s.ID, &s.SKU, &s.SaleRef, &s.Qty, &s.SalePrice.USD, &s.SalePrice.AED, &s.LotID, &s.SoldAt, &s.Reversed)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleRecord{}, shared.ErrNotFound
	}
	return s, err
}

func (r *txRepo) GetLot(ctx context.Context, lotID int64) (Lot, error) {
	row := r.tx.QueryRow(ctx,
		`SELECT id, sku, purchase_ref, qty, sold_qty,
		        unit_cost_usd, unit_cost_aed,
		        shipping_per_unit_usd, shipping_per_unit_aed,
		        customs_per_unit_usd, customs_per_unit_aed,
		        tax_id, purchased_at, created_at
		 FROM purchase_lots WHERE id = $1`, lotID)
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, shared.ErrNotFound
	}
	return lot, err
}

func (r *txRepo) DeleteLot(ctx context.Context, lotID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM purchase_lots WHERE id = $1`, lotID)
	return err
}

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	postedAt := adj.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_adjustments (sku, qty, note, posted_at) VALUES ($1, $2, $3, $4)`,
		adj.SKU, adj.Qty, adj.Note, postedAt)
	return err
}

func (r *txRepo) lotExists(ctx context.Context, lotID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_lots WHERE id = $1)`, lotID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.SKU, &lot.PurchaseRef, &lot.Qty, &lot.SoldQty,
		&lot.UnitCost.USD, &lot.UnitCost.AED,
		&lot.ShippingPerUnit.USD, &lot.ShippingPerUnit.AED,
		&lot.CustomsPerUnit.USD, &lot.CustomsPerUnit.AED,
		&lot.TaxID, &lot.PurchasedAt, &lot.CreatedAt)
	return lot, err
}
