package inventory

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Lot is one purchase batch of a SKU acquired at a single unit cost.
// SoldQty only ever moves through atomic conditional updates, so
// 0 <= SoldQty <= Qty holds at all times.
type Lot struct {
	ID              int64
	SKU             string
	PurchaseRef     string
	Qty             int64
	SoldQty         int64
	UnitCost        shared.Amount
	ShippingPerUnit shared.Amount
	CustomsPerUnit  shared.Amount
	TaxID           *int64
	PurchasedAt     time.Time
	CreatedAt       time.Time
}

// Remaining is the quantity still available for sale from this lot.
func (l Lot) Remaining() int64 {
	if l.SoldQty >= l.Qty {
		return 0
	}
	return l.Qty - l.SoldQty
}

// Stock is the live on-hand quantity of one SKU.
type Stock struct {
	SKU       string
	Qty       int64
	UpdatedAt time.Time
}

// ReturnKind distinguishes the two return directions.
type ReturnKind string

const (
	// ReturnPurchase sends goods back to a supplier: on-hand drops, the
	// lot's sold_qty is untouched.
	ReturnPurchase ReturnKind = "purchase"
	// ReturnSale takes goods back from a customer: on-hand rises and the
	// originating lot's sold_qty is released when known.
	ReturnSale ReturnKind = "sale"
)

// PurchaseInput describes a new lot.
type PurchaseInput struct {
	SKU             string
	PurchaseRef     string
	Qty             int64
	UnitCost        shared.Amount
	ShippingPerUnit shared.Amount
	CustomsPerUnit  shared.Amount
	TaxID           *int64
	PurchasedAt     time.Time
	Actor           string
}

// SaleInput describes a consumption of on-hand stock, optionally pinned to
// the lot it was sourced from.
type SaleInput struct {
	SKU       string
	Qty       int64
	SalePrice shared.Amount
	LotID     *int64
	SaleRef   string
	SoldAt    time.Time
	Actor     string
}

// ReturnInput reverses part of a purchase or sale.
type ReturnInput struct {
	Kind  ReturnKind
	SKU   string
	Qty   int64
	LotID *int64
	Ref   string
	Actor string
}

// SaleRecord is a persisted sale consumption, the unit the FIFO allocator
// replays.
type SaleRecord struct {
	ID        int64
	SKU       string
	SaleRef   string
	Qty       int64
	SalePrice shared.Amount
	LotID     *int64
	SoldAt    time.Time
	Reversed  bool
}

// Adjustment is a manual stock correction outside the purchase/sale flow.
type Adjustment struct {
	ID       int64
	SKU      string
	Qty      int64
	Note     string
	PostedAt time.Time
}
