package valuation

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementTotals are the signed quantity flows of one SKU up to a date.
type MovementTotals struct {
	Purchased int64
	Sold      int64
	Adjusted  int64
}

// Closing is purchased - sold + adjusted.
func (m MovementTotals) Closing() int64 {
	return m.Purchased - m.Sold + m.Adjusted
}

// Report is a point-in-time stock valuation of one SKU. Quantity is
// reconstructed from movements at or before AsOf; the unit cost is the most
// recent purchase cost at or before AsOf.
type Report struct {
	SKU        string        `json:"sku"`
	AsOf       time.Time     `json:"as_of"`
	ClosingQty int64         `json:"closing_qty"`
	UnitCost   shared.Amount `json:"unit_cost"`
	Value      shared.Amount `json:"value"`
	// CostKnown is false when no purchase at or before AsOf exists; the
	// valuation is then zero regardless of quantity.
	CostKnown bool `json:"cost_known"`
}

// computeValue prices the closing quantity. Zero or negative quantity and
// unknown cost both contribute zero.
func computeValue(qty int64, cost shared.Amount, known bool) shared.Amount {
	if qty <= 0 || !known {
		return shared.ZeroAmount()
	}
	return cost.MulInt(qty).Round()
}
