package invoicing

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LineItem is one priced invoice line. Unit values carry both currency legs;
// quantity is a whole count of units.
type LineItem struct {
	SKU             string
	Qty             int64
	UnitPrice       shared.Amount
	ShippingPerUnit shared.Amount
	CustomsPerUnit  shared.Amount
	// TaxRatePct overrides the invoice-level rate when non-nil. Percent,
	// e.g. 5 for 5%.
	TaxRatePct *decimal.Decimal
}

// ServiceFee is a standalone fee line on sale invoices. It joins the
// subtotal before the discount is applied.
type ServiceFee struct {
	Label  string
	Amount shared.Amount
}

// TaxConfig is the active tax configuration referenced by an invoice.
type TaxConfig struct {
	ID      int64
	RatePct decimal.Decimal
	Active  bool
}

// CalcInput gathers everything the totals computation reads. Totals are
// always derived fresh from these inputs, never patched incrementally.
type CalcInput struct {
	Lines       []LineItem
	ServiceFees []ServiceFee
	Discount    shared.Amount
	TaxEnabled  bool
	Tax         *TaxConfig
}

// Totals is the result of one computation. Recomputing from identical
// inputs yields an identical value.
type Totals struct {
	Subtotal   shared.Amount
	Discount   shared.Amount
	Discounted shared.Amount
	VAT        shared.Amount
	Customs    shared.Amount
	GrandTotal shared.Amount
	// TaxRateUsed records the percent applied, for auditability. Zero when
	// tax was disabled or no active configuration existed.
	TaxRateUsed decimal.Decimal
}
