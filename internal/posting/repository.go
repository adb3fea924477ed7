package posting

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists invoices and provides the unit of work the
// coordinator runs transitions in.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type pgTxContext struct {
	tx pgx.Tx
}

func (c *pgTxContext) Invoices() InvoiceTxRepository     { return &invoiceTxRepo{tx: c.tx} }
func (c *pgTxContext) Ledger() ledger.TxRepository       { return ledger.NewTxRepository(c.tx) }
func (c *pgTxContext) Inventory() inventory.TxRepository { return inventory.NewTxRepository(c.tx) }

// Do runs fn inside one repeatable-read transaction shared by the invoice,
// ledger and inventory repositories.
func (r *Repository) Do(ctx context.Context, fn func(context.Context, TxContext) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxContext{tx: tx})
	})
}

// Get loads one invoice with its lines, fees, payments and consumptions.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	return loadInvoice(ctx, r.pool, id, false)
}

// Create inserts a draft invoice aggregate.
func (r *Repository) Create(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var taxID *int64
		if invoice.Tax != nil {
			taxID = &invoice.Tax.ID
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO invoices (ref, kind, status, account_type, discount_usd, discount_aed,
			   tax_enabled, tax_id, subtotal_usd, subtotal_aed, vat_usd, vat_aed,
			   customs_usd, customs_aed, grand_total_usd, grand_total_aed, tax_rate_used,
			   totals_stale, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, FALSE, NOW(), NOW())
			 RETURNING id`,
			invoice.Ref, invoice.Kind, StatusDraft, invoice.Account,
			invoice.Discount.USD, invoice.Discount.AED,
			invoice.TaxEnabled, taxID,
			invoice.Totals.Subtotal.USD, invoice.Totals.Subtotal.AED,
			invoice.Totals.VAT.USD, invoice.Totals.VAT.AED,
			invoice.Totals.Customs.USD, invoice.Totals.Customs.AED,
			invoice.Totals.GrandTotal.USD, invoice.Totals.GrandTotal.AED,
			invoice.Totals.TaxRateUsed).Scan(&id)
		if err != nil {
			return err
		}
		for _, line := range invoice.Lines {
			_, err := tx.Exec(ctx,
				`INSERT INTO invoice_lines (invoice_id, sku, qty, unit_price_usd, unit_price_aed,
				   shipping_per_unit_usd, shipping_per_unit_aed, customs_per_unit_usd, customs_per_unit_aed, tax_rate_pct)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				id, line.SKU, line.Qty,
				line.UnitPrice.USD, line.UnitPrice.AED,
				line.ShippingPerUnit.USD, line.ShippingPerUnit.AED,
				line.CustomsPerUnit.USD, line.CustomsPerUnit.AED,
				line.TaxRatePct)
			if err != nil {
				return err
			}
		}
		for _, fee := range invoice.Fees {
			_, err := tx.Exec(ctx,
				`INSERT INTO invoice_fees (invoice_id, label, amount_usd, amount_aed) VALUES ($1, $2, $3, $4)`,
				id, fee.Label, fee.Amount.USD, fee.Amount.AED)
			if err != nil {
				return err
			}
		}
		for _, payment := range invoice.Payments {
			_, err := tx.Exec(ctx,
				`INSERT INTO invoice_payments (invoice_id, method, amount, note) VALUES ($1, $2, $3, $4)`,
				id, payment.Method, payment.Amount, payment.Note)
			if err != nil {
				return err
			}
		}
		for _, cons := range invoice.Consumptions {
			_, err := tx.Exec(ctx,
				`INSERT INTO invoice_consumptions (invoice_id, sku, qty, lot_id, sale_price_usd, sale_price_aed)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				id, cons.SKU, cons.Qty, cons.LotID, cons.SalePrice.USD, cons.SalePrice.AED)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

type invoiceTxRepo struct {
	tx pgx.Tx
}

func (r *invoiceTxRepo) GetForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return loadInvoice(ctx, r.tx, id, true)
}

func (r *invoiceTxRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	tag, err := r.tx.Exec(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *invoiceTxRepo) SaveTotals(ctx context.Context, id int64, totals invoicing.Totals) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE invoices SET subtotal_usd = $1, subtotal_aed = $2, vat_usd = $3, vat_aed = $4,
		   customs_usd = $5, customs_aed = $6, grand_total_usd = $7, grand_total_aed = $8,
		   tax_rate_used = $9, totals_stale = FALSE, updated_at = NOW()
		 WHERE id = $10`,
		totals.Subtotal.USD, totals.Subtotal.AED,
		totals.VAT.USD, totals.VAT.AED,
		totals.Customs.USD, totals.Customs.AED,
		totals.GrandTotal.USD, totals.GrandTotal.AED,
		totals.TaxRateUsed, id)
	return err
}

func (r *invoiceTxRepo) SetConsumptionSale(ctx context.Context, consumptionID int64, saleID *int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE invoice_consumptions SET sale_id = $1 WHERE id = $2`, saleID, consumptionID)
	return err
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadInvoice(ctx context.Context, q querier, id int64, forUpdate bool) (Invoice, error) {
	head := `SELECT i.id, i.ref, i.kind, i.status, i.account_type,
	           i.discount_usd, i.discount_aed, i.tax_enabled,
	           i.subtotal_usd, i.subtotal_aed, i.vat_usd, i.vat_aed,
	           i.customs_usd, i.customs_aed, i.grand_total_usd, i.grand_total_aed,
	           i.tax_rate_used, i.totals_stale, i.created_at, i.updated_at,
	           t.id, t.rate_pct, t.active
	         FROM invoices i LEFT JOIN tax_configs t ON t.id = i.tax_id
	         WHERE i.id = $1`
	if forUpdate {
		head += ` FOR UPDATE OF i`
	}

	var inv Invoice
	var taxID *int64
	var taxRate *decimal.Decimal
	var taxActive *bool
	err := q.QueryRow(ctx, head, id).Scan(
		&inv.ID, &inv.Ref, &inv.Kind, &inv.Status, &inv.Account,
		&inv.Discount.USD, &inv.Discount.AED, &inv.TaxEnabled,
		&inv.Totals.Subtotal.USD, &inv.Totals.Subtotal.AED,
		&inv.Totals.VAT.USD, &inv.Totals.VAT.AED,
		&inv.Totals.Customs.USD, &inv.Totals.Customs.AED,
		&inv.Totals.GrandTotal.USD, &inv.Totals.GrandTotal.AED,
		&inv.Totals.TaxRateUsed, &inv.TotalsStale, &inv.CreatedAt, &inv.UpdatedAt,
		&taxID, &taxRate, &taxActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.ErrNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	if taxID != nil && taxRate != nil && taxActive != nil {
		inv.Tax = &invoicing.TaxConfig{ID: *taxID, RatePct: *taxRate, Active: *taxActive}
	}
	inv.Totals.Discount = inv.Discount

	rows, err := q.Query(ctx,
		`SELECT sku, qty, unit_price_usd, unit_price_aed, shipping_per_unit_usd, shipping_per_unit_aed,
		        customs_per_unit_usd, customs_per_unit_aed, tax_rate_pct
		 FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var line invoicing.LineItem
		if err := rows.Scan(&line.SKU, &line.Qty,
			&line.UnitPrice.USD, &line.UnitPrice.AED,
			&line.ShippingPerUnit.USD, &line.ShippingPerUnit.AED,
			&line.CustomsPerUnit.USD, &line.CustomsPerUnit.AED,
			&line.TaxRatePct); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	rows, err = q.Query(ctx,
		`SELECT label, amount_usd, amount_aed FROM invoice_fees WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var fee invoicing.ServiceFee
		if err := rows.Scan(&fee.Label, &fee.Amount.USD, &fee.Amount.AED); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Fees = append(inv.Fees, fee)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	rows, err = q.Query(ctx,
		`SELECT id, method, amount, note FROM invoice_payments WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Method, &p.Amount, &p.Note); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Payments = append(inv.Payments, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	rows, err = q.Query(ctx,
		`SELECT id, sku, qty, lot_id, sale_price_usd, sale_price_aed, sale_id
		 FROM invoice_consumptions WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var cons Consumption
		if err := rows.Scan(&cons.ID, &cons.SKU, &cons.Qty, &cons.LotID,
			&cons.SalePrice.USD, &cons.SalePrice.AED, &cons.SaleID); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Consumptions = append(inv.Consumptions, cons)
	}
	rows.Close()
	return inv, rows.Err()
}
