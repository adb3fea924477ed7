package costing

import (
	"sort"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Allocate matches sales against lots first-in-first-out and returns the
// per-lot profit breakdown. It is pure: same inputs, same Result, no
// side effects, so a report can be replayed at any time.
//
// Lots are consumed oldest first (purchase date, then id); sales are
// applied oldest first (sale date, then id). A sale larger than the current
// lot's remainder splits across the following lots in the same pass. Demand
// that outruns every lot ends up in Result.UnallocatedQty.
func Allocate(sku string, lots []Lot, sales []Sale) Result {
	ordered := make([]Lot, len(lots))
	copy(ordered, lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].PurchasedAt.Equal(ordered[j].PurchasedAt) {
			return ordered[i].PurchasedAt.Before(ordered[j].PurchasedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	queue := make([]Sale, len(sales))
	copy(queue, sales)
	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].SoldAt.Equal(queue[j].SoldAt) {
			return queue[i].SoldAt.Before(queue[j].SoldAt)
		}
		return queue[i].ID < queue[j].ID
	})

	reports := make([]LotReport, len(ordered))
	for i, lot := range ordered {
		reports[i] = LotReport{Lot: lot, Remaining: lot.Qty, Profit: shared.ZeroAmount()}
	}

	result := Result{SKU: sku, TotalProfit: shared.ZeroAmount()}
	cursor := 0
	for _, sale := range queue {
		pending := sale.Qty
		for pending > 0 && cursor < len(reports) {
			rep := &reports[cursor]
			if rep.Remaining == 0 {
				cursor++
				continue
			}
			take := pending
			if take > rep.Remaining {
				take = rep.Remaining
			}
			profit := sale.SalePrice.Sub(rep.Lot.UnitCost).MulInt(take)
			rep.Allocations = append(rep.Allocations, Allocation{
				SaleID:    sale.ID,
				SaleRef:   sale.SaleRef,
				Qty:       take,
				SalePrice: sale.SalePrice,
				Profit:    profit,
			})
			rep.ConsumedQty += take
			rep.Remaining -= take
			rep.Profit = rep.Profit.Add(profit)
			result.TotalProfit = result.TotalProfit.Add(profit)
			pending -= take
		}
		result.UnallocatedQty += pending
	}

	for _, rep := range reports {
		result.ClosingQty += rep.Remaining
	}
	result.Lots = reports
	return result
}
