package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxContext bundles the transactional repositories of one posting. All
// three ride the same database transaction; either the whole transition
// commits or none of it does.
type TxContext interface {
	Invoices() InvoiceTxRepository
	Ledger() ledger.TxRepository
	Inventory() inventory.TxRepository
}

// InvoiceTxRepository is the invoice store inside one transaction.
type InvoiceTxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Invoice, error)
	// UpdateStatus moves id from → to and reports whether a row changed.
	// A false return after cash has been posted is the atomicity guard
	// tripping.
	UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	SaveTotals(ctx context.Context, id int64, totals invoicing.Totals) error
	SetConsumptionSale(ctx context.Context, consumptionID int64, saleID *int64) error
}

// RepositoryPort is the invoice store plus its unit of work.
type RepositoryPort interface {
	Do(ctx context.Context, fn func(context.Context, TxContext) error) error
	Get(ctx context.Context, id int64) (Invoice, error)
	Create(ctx context.Context, invoice Invoice) (int64, error)
}

// IdempotencyPort dedupes repeated transition requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Coordinator drives the invoice lifecycle and keeps the cash ledger and
// the stock tracker consistent with it.
type Coordinator struct {
	logger    *slog.Logger
	repo      RepositoryPort
	ledger    *ledger.Service
	inventory *inventory.Service
	idem      IdempotencyPort
	audit     AuditPort
	retry     db.RetryConfig
}

// NewCoordinator builds Coordinator. idem and audit may be nil.
func NewCoordinator(logger *slog.Logger, repo RepositoryPort, ledgerSvc *ledger.Service, inventorySvc *inventory.Service, idem IdempotencyPort, audit AuditPort, retry db.RetryConfig) *Coordinator {
	if retry.Attempts <= 0 {
		retry = db.DefaultRetry
	}
	return &Coordinator{
		logger:    logger,
		repo:      repo,
		ledger:    ledgerSvc,
		inventory: inventorySvc,
		idem:      idem,
		audit:     audit,
		retry:     retry,
	}
}

// CreateInput describes a new draft invoice.
type CreateInput struct {
	Ref          string
	Kind         InvoiceKind
	Account      ledger.AccountType
	Lines        []invoicing.LineItem
	Fees         []invoicing.ServiceFee
	Discount     shared.Amount
	TaxEnabled   bool
	Tax          *invoicing.TaxConfig
	Payments     []Payment
	Consumptions []Consumption
	Actor        string
}

// Create persists a draft invoice with freshly computed totals. Payment
// methods are validated here so an approval never meets an unknown method.
func (c *Coordinator) Create(ctx context.Context, input CreateInput) (Invoice, error) {
	if _, err := ParseInvoiceKind(string(input.Kind)); err != nil {
		return Invoice{}, err
	}
	if _, err := ledger.ParseAccountType(string(input.Account)); err != nil {
		return Invoice{}, err
	}
	for _, p := range input.Payments {
		if _, err := ParsePaymentMethod(string(p.Method)); err != nil {
			return Invoice{}, err
		}
		if p.Amount.Sign() <= 0 {
			return Invoice{}, shared.Validationf("payment amount must be positive")
		}
	}
	for _, cons := range input.Consumptions {
		if cons.Qty <= 0 {
			return Invoice{}, shared.Validationf("consumption quantity must be positive")
		}
	}

	invoice := Invoice{
		Ref:          input.Ref,
		Kind:         input.Kind,
		Status:       StatusDraft,
		Account:      input.Account,
		Lines:        input.Lines,
		Fees:         input.Fees,
		Discount:     input.Discount,
		TaxEnabled:   input.TaxEnabled,
		Tax:          input.Tax,
		Payments:     input.Payments,
		Consumptions: input.Consumptions,
	}
	totals, err := invoicing.Calculate(invoice.calcInput())
	if err != nil {
		return Invoice{}, err
	}
	invoice.Totals = totals

	id, err := c.repo.Create(ctx, invoice)
	if err != nil {
		return Invoice{}, err
	}
	invoice.ID = id
	c.recordAudit(ctx, "posting:create", invoice, input.Actor, nil)
	return invoice, nil
}

// TransitionInput describes one lifecycle move.
type TransitionInput struct {
	InvoiceID int64
	Target    Status
	Actor     string
	// IdempotencyKey dedupes client retries of the same transition.
	// Optional.
	IdempotencyKey string
}

// Transition moves an invoice to target and posts all side effects in one
// database transaction. Conflicting transactions are retried with capped
// exponential backoff; every other failure rolls the whole posting back.
func (c *Coordinator) Transition(ctx context.Context, input TransitionInput) (Invoice, error) {
	target, err := ParseStatus(string(input.Target))
	if err != nil {
		return Invoice{}, err
	}
	if c.idem != nil && input.IdempotencyKey != "" {
		if err := c.idem.CheckAndInsert(ctx, input.IdempotencyKey, "posting"); err != nil {
			return Invoice{}, err
		}
	}

	var from Status
	err = db.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.repo.Do(ctx, func(ctx context.Context, tx TxContext) error {
			invoice, err := tx.Invoices().GetForUpdate(ctx, input.InvoiceID)
			if err != nil {
				return err
			}
			from = invoice.Status
			if !CanTransition(invoice.Status, target) {
				return shared.Validationf("invoice %d cannot move %s -> %s", invoice.ID, invoice.Status, target)
			}

			switch target {
			case StatusApproved:
				if err := c.approve(ctx, tx, &invoice, input.Actor); err != nil {
					return err
				}
			case StatusCancelled, StatusReturned:
				if err := c.reverse(ctx, tx, invoice, input.Actor); err != nil {
					return err
				}
			}

			updated, err := tx.Invoices().UpdateStatus(ctx, invoice.ID, from, target)
			if err != nil {
				return err
			}
			if !updated {
				// cash was posted on this tx but the status row did not
				// move; abort so neither survives
				return fmt.Errorf("%w: invoice %d status %s -> %s", shared.ErrAtomicityViolation, invoice.ID, from, target)
			}
			return nil
		})
	})
	if err != nil {
		if c.idem != nil && input.IdempotencyKey != "" {
			_ = c.idem.Delete(ctx, input.IdempotencyKey)
		}
		return Invoice{}, err
	}

	result, err := c.repo.Get(ctx, input.InvoiceID)
	if err != nil {
		return Invoice{}, err
	}
	c.logger.Info("invoice transition",
		slog.Int64("invoice_id", input.InvoiceID),
		slog.String("from", string(from)),
		slog.String("to", string(target)))
	c.recordAudit(ctx, "posting:transition", result, input.Actor, map[string]any{"from": string(from), "to": string(target)})
	return result, nil
}

// Get loads one invoice.
func (c *Coordinator) Get(ctx context.Context, id int64) (Invoice, error) {
	return c.repo.Get(ctx, id)
}

// approve recomputes stale totals, posts every payment into the cash
// ledger and, for sale invoices, consumes the linked stock.
func (c *Coordinator) approve(ctx context.Context, tx TxContext, invoice *Invoice, actor string) error {
	if invoice.TotalsStale {
		totals, err := invoicing.Calculate(invoice.calcInput())
		if err != nil {
			return err
		}
		if err := tx.Invoices().SaveTotals(ctx, invoice.ID, totals); err != nil {
			return err
		}
		invoice.Totals = totals
	}

	for _, payment := range invoice.Payments {
		method, err := ParsePaymentMethod(string(payment.Method))
		if err != nil {
			return err
		}
		note := fmt.Sprintf("invoice %s %s", invoice.Ref, payment.Note)
		switch invoice.Kind {
		case KindSale:
			_, err = c.ledger.DepositTx(ctx, tx.Ledger(), ledger.DepositInput{
				AccountType: invoice.Account,
				SubAccount:  method.SubAccount(),
				Amount:      payment.Amount,
				Actor:       actor,
				Note:        note,
			})
		case KindPurchase:
			_, err = c.ledger.WithdrawTx(ctx, tx.Ledger(), ledger.WithdrawInput{
				AccountType: invoice.Account,
				SubAccount:  method.SubAccount(),
				Amount:      payment.Amount,
				Actor:       actor,
				Note:        note,
			})
		}
		if err != nil {
			return err
		}
	}

	if invoice.Kind != KindSale {
		return nil
	}
	now := time.Now().UTC()
	for i, cons := range invoice.Consumptions {
		sale, err := c.inventory.RecordSaleTx(ctx, tx.Inventory(), inventory.SaleInput{
			SKU:       cons.SKU,
			Qty:       cons.Qty,
			SalePrice: cons.SalePrice,
			LotID:     cons.LotID,
			SaleRef:   invoice.Ref,
			SoldAt:    now,
			Actor:     actor,
		})
		if err != nil {
			return err
		}
		saleID := sale.ID
		if err := tx.Invoices().SetConsumptionSale(ctx, cons.ID, &saleID); err != nil {
			return err
		}
		invoice.Consumptions[i].SaleID = &saleID
	}
	return nil
}

// reverse posts the approval's cash movements with opposite sign and undoes
// the recorded stock consumption.
func (c *Coordinator) reverse(ctx context.Context, tx TxContext, invoice Invoice, actor string) error {
	for _, payment := range invoice.Payments {
		method, err := ParsePaymentMethod(string(payment.Method))
		if err != nil {
			return err
		}
		note := fmt.Sprintf("reversal invoice %s %s", invoice.Ref, payment.Note)
		switch invoice.Kind {
		case KindSale:
			_, err = c.ledger.WithdrawTx(ctx, tx.Ledger(), ledger.WithdrawInput{
				AccountType: invoice.Account,
				SubAccount:  method.SubAccount(),
				Amount:      payment.Amount,
				Actor:       actor,
				Note:        note,
			})
		case KindPurchase:
			_, err = c.ledger.DepositTx(ctx, tx.Ledger(), ledger.DepositInput{
				AccountType: invoice.Account,
				SubAccount:  method.SubAccount(),
				Amount:      payment.Amount,
				Actor:       actor,
				Note:        note,
			})
		}
		if err != nil {
			return err
		}
	}

	if invoice.Kind != KindSale {
		return nil
	}
	for _, cons := range invoice.Consumptions {
		if cons.SaleID == nil {
			continue
		}
		if err := c.inventory.ReverseSaleTx(ctx, tx.Inventory(), *cons.SaleID); err != nil {
			return err
		}
		if err := tx.Invoices().SetConsumptionSale(ctx, cons.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) recordAudit(ctx context.Context, action string, invoice Invoice, actor string, meta map[string]any) {
	if c.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["ref"] = invoice.Ref
	meta["kind"] = string(invoice.Kind)
	_ = c.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoice.ID),
		Meta:     meta,
	})
}
