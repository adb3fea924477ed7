package costing

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Lot is a purchase batch as the allocator sees it: quantity plus the unit
// cost sales against it are measured from.
type Lot struct {
	ID          int64
	SKU         string
	Qty         int64
	UnitCost    shared.Amount
	PurchasedAt time.Time
}

// Sale is one consumption line to allocate.
type Sale struct {
	ID        int64
	SaleRef   string
	Qty       int64
	SalePrice shared.Amount
	SoldAt    time.Time
}

// Allocation records the portion of one sale matched to one lot.
type Allocation struct {
	SaleID    int64
	SaleRef   string
	Qty       int64
	SalePrice shared.Amount
	Profit    shared.Amount
}

// LotReport is the per-lot breakdown: what was consumed from it, in order,
// and what remains.
type LotReport struct {
	Lot         Lot
	Allocations []Allocation
	ConsumedQty int64
	Remaining   int64
	Profit      shared.Amount
}

// Result is the full batch report for one SKU.
type Result struct {
	SKU         string
	Lots        []LotReport
	TotalProfit shared.Amount
	ClosingQty  int64
	// UnallocatedQty is the portion of sales demand that no lot could
	// cover. It is carried here explicitly; the allocator never drops it.
	UnallocatedQty int64
}
