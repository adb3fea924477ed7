package inventory

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, sku string) (Stock, error)
	ListLots(ctx context.Context, sku string) ([]Lot, error)
	ListSales(ctx context.Context, sku string) ([]SaleRecord, error)
}

// TxRepository exposes the transactional operations of one movement. Stock
// and sold_qty changes are expressed as atomic increments at the storage
// layer, never as read-then-write round trips.
type TxRepository interface {
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	// AdjustStock applies a signed atomic increment to a SKU's on-hand
	// quantity, creating the row when missing.
	AdjustStock(ctx context.Context, sku string, delta int64) error
	// ConsumeLot atomically adds qty to sold_qty, guarded by
	// sold_qty + qty <= qty_purchased. Returns shared.ErrInsufficientLotQty
	// when the guard fails and shared.ErrNotFound for an unknown lot.
	ConsumeLot(ctx context.Context, lotID int64, qty int64) error
	// ReleaseLot atomically subtracts qty from sold_qty, guarded by
	// sold_qty - qty >= 0.
	ReleaseLot(ctx context.Context, lotID int64, qty int64) error
	InsertSale(ctx context.Context, sale SaleRecord) (int64, error)
	MarkSaleReversed(ctx context.Context, saleID int64) error
	GetSale(ctx context.Context, saleID int64) (SaleRecord, error)
	GetLot(ctx context.Context, lotID int64) (Lot, error)
	DeleteLot(ctx context.Context, lotID int64) error
	InsertAdjustment(ctx context.Context, adj Adjustment) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service tracks on-hand quantities and per-lot consumption.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RecordPurchase creates a new lot and raises on-hand stock by its quantity.
func (s *Service) RecordPurchase(ctx context.Context, input PurchaseInput) (Lot, error) {
	var lot Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lot, err = s.RecordPurchaseTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, "inventory:purchase", lot.SKU, input.Actor, map[string]any{"lot_id": lot.ID, "qty": lot.Qty})
	return lot, nil
}

// RecordPurchaseTx is the transaction-scoped form used by the posting
// coordinator.
func (s *Service) RecordPurchaseTx(ctx context.Context, tx TxRepository, input PurchaseInput) (Lot, error) {
	if input.SKU == "" {
		return Lot{}, shared.Validationf("sku required")
	}
	if input.Qty <= 0 {
		return Lot{}, shared.Validationf("purchase quantity must be positive")
	}
	lot := Lot{
		SKU:             input.SKU,
		PurchaseRef:     input.PurchaseRef,
		Qty:             input.Qty,
		SoldQty:         0,
		UnitCost:        input.UnitCost,
		ShippingPerUnit: input.ShippingPerUnit,
		CustomsPerUnit:  input.CustomsPerUnit,
		TaxID:           input.TaxID,
		PurchasedAt:     input.PurchasedAt,
	}
	id, err := tx.InsertLot(ctx, lot)
	if err != nil {
		return Lot{}, err
	}
	lot.ID = id
	if err := tx.AdjustStock(ctx, input.SKU, input.Qty); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// RecordSale lowers on-hand stock and, when the source lot is known,
// consumes from it. The lot guard rejects any consumption that would push
// sold_qty above the purchased quantity.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (SaleRecord, error) {
	var sale SaleRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = s.RecordSaleTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return SaleRecord{}, err
	}
	s.recordAudit(ctx, "inventory:sale", input.SKU, input.Actor, map[string]any{"qty": input.Qty, "sale_id": sale.ID})
	return sale, nil
}

// RecordSaleTx is the transaction-scoped form used by the posting
// coordinator.
func (s *Service) RecordSaleTx(ctx context.Context, tx TxRepository, input SaleInput) (SaleRecord, error) {
	if input.SKU == "" {
		return SaleRecord{}, shared.Validationf("sku required")
	}
	if input.Qty <= 0 {
		return SaleRecord{}, shared.Validationf("sale quantity must be positive")
	}
	if input.LotID != nil {
		if err := tx.ConsumeLot(ctx, *input.LotID, input.Qty); err != nil {
			return SaleRecord{}, fmt.Errorf("lot %d: %w", *input.LotID, err)
		}
	}
	if err := tx.AdjustStock(ctx, input.SKU, -input.Qty); err != nil {
		return SaleRecord{}, err
	}
	sale := SaleRecord{
		SKU:       input.SKU,
		SaleRef:   input.SaleRef,
		Qty:       input.Qty,
		SalePrice: input.SalePrice,
		LotID:     input.LotID,
		SoldAt:    input.SoldAt,
	}
	id, err := tx.InsertSale(ctx, sale)
	if err != nil {
		return SaleRecord{}, err
	}
	sale.ID = id
	return sale, nil
}

// RecordReturn reverses part of a purchase or sale.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.RecordReturnTx(ctx, tx, input)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, fmt.Sprintf("inventory:return:%s", input.Kind), input.SKU, input.Actor, map[string]any{"qty": input.Qty})
	return nil
}

// RecordReturnTx is the transaction-scoped form used by the posting
// coordinator.
func (s *Service) RecordReturnTx(ctx context.Context, tx TxRepository, input ReturnInput) error {
	if input.Qty <= 0 {
		return shared.Validationf("return quantity must be positive")
	}
	switch input.Kind {
	case ReturnPurchase:
		// goods leave the warehouse; the lot keeps its sold history
		return tx.AdjustStock(ctx, input.SKU, -input.Qty)
	case ReturnSale:
		if input.LotID != nil {
			if err := tx.ReleaseLot(ctx, *input.LotID, input.Qty); err != nil {
				return fmt.Errorf("lot %d: %w", *input.LotID, err)
			}
		}
		return tx.AdjustStock(ctx, input.SKU, input.Qty)
	default:
		return shared.Validationf("unknown return kind %q", input.Kind)
	}
}

// ReverseSaleTx undoes a recorded sale: on-hand rises, the lot's sold_qty
// is released, and the sale is marked reversed. Used when an approved sale
// invoice is cancelled or returned.
func (s *Service) ReverseSaleTx(ctx context.Context, tx TxRepository, saleID int64) error {
	sale, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Reversed {
		return shared.Validationf("sale %d already reversed", saleID)
	}
	if sale.LotID != nil {
		if err := tx.ReleaseLot(ctx, *sale.LotID, sale.Qty); err != nil {
			return fmt.Errorf("lot %d: %w", *sale.LotID, err)
		}
	}
	if err := tx.AdjustStock(ctx, sale.SKU, sale.Qty); err != nil {
		return err
	}
	return tx.MarkSaleReversed(ctx, saleID)
}

// RemoveLot deletes a lot when its parent purchase is deleted, rolling the
// on-hand quantity back with it. A partially sold lot cannot be removed.
func (s *Service) RemoveLot(ctx context.Context, lotID int64, actor string) error {
	var sku string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.SoldQty > 0 {
			return shared.Validationf("lot %d has recorded sales", lotID)
		}
		sku = lot.SKU
		if err := tx.AdjustStock(ctx, lot.SKU, -lot.Qty); err != nil {
			return err
		}
		return tx.DeleteLot(ctx, lotID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "inventory:lot_removed", sku, actor, map[string]any{"lot_id": lotID})
	return nil
}

// RecordAdjustment posts a manual signed stock correction.
func (s *Service) RecordAdjustment(ctx context.Context, adj Adjustment, actor string) error {
	if adj.Qty == 0 {
		return shared.Validationf("adjustment quantity must be non-zero")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.AdjustStock(ctx, adj.SKU, adj.Qty); err != nil {
			return err
		}
		return tx.InsertAdjustment(ctx, adj)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "inventory:adjustment", adj.SKU, actor, map[string]any{"qty": adj.Qty, "note": adj.Note})
	return nil
}

// OnHand returns the live on-hand quantity of one SKU.
func (s *Service) OnHand(ctx context.Context, sku string) (int64, error) {
	stock, err := s.repo.GetStock(ctx, sku)
	if err != nil {
		return 0, err
	}
	return stock.Qty, nil
}

// Lots lists a SKU's lots in FIFO order.
func (s *Service) Lots(ctx context.Context, sku string) ([]Lot, error) {
	return s.repo.ListLots(ctx, sku)
}

// Sales lists a SKU's recorded sales in chronological order.
func (s *Service) Sales(ctx context.Context, sku string) ([]SaleRecord, error) {
	return s.repo.ListSales(ctx, sku)
}

func (s *Service) recordAudit(ctx context.Context, action, sku, actor string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "sku",
		EntityID: sku,
		Meta:     meta,
	})
}
