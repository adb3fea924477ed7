package posting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusCancelled       Status = "cancelled"
	StatusReturned        Status = "returned"
)

// transitions is the closed set of legal moves. Cancelled and returned are
// terminal.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusApproved},
	StatusPendingApproval: {StatusDraft, StatusApproved},
	StatusApproved:        {StatusCancelled, StatusReturned},
	StatusCancelled:       {},
	StatusReturned:        {},
}

// ParseStatus validates a lifecycle state.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusCancelled, StatusReturned:
		return Status(raw), nil
	default:
		return "", shared.Validationf("unknown invoice status %q", raw)
	}
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvoiceKind distinguishes the two posting directions.
type InvoiceKind string

const (
	// KindSale deposits payments into the cash ledger and consumes stock.
	KindSale InvoiceKind = "sale"
	// KindPurchase withdraws payments from the cash ledger.
	KindPurchase InvoiceKind = "purchase"
)

// ParseInvoiceKind validates an invoice kind.
func ParseInvoiceKind(raw string) (InvoiceKind, error) {
	switch InvoiceKind(raw) {
	case KindSale, KindPurchase:
		return InvoiceKind(raw), nil
	default:
		return "", shared.Validationf("unknown invoice kind %q", raw)
	}
}

// PaymentMethod is the closed set of cash destinations a payment can post
// to. Each maps to exactly one ledger sub-account; unknown methods are
// rejected at the boundary rather than defaulting anywhere.
type PaymentMethod string

const (
	MethodHand   PaymentMethod = "hand"
	MethodBank   PaymentMethod = "bank"
	MethodCheque PaymentMethod = "cheque"
)

// ParsePaymentMethod validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case MethodHand, MethodBank, MethodCheque:
		return PaymentMethod(raw), nil
	default:
		return "", shared.Validationf("unknown payment method %q", raw)
	}
}

// SubAccount is the ledger sub-account this method posts to.
func (m PaymentMethod) SubAccount() ledger.SubAccount {
	switch m {
	case MethodBank:
		return ledger.SubBank
	case MethodCheque:
		return ledger.SubCheque
	default:
		return ledger.SubHand
	}
}

// Payment is one cash leg of an invoice, in the book currency.
type Payment struct {
	ID     int64
	Method PaymentMethod
	Amount decimal.Decimal
	Note   string
}

// Consumption links a sale invoice line to the stock it draws down. SaleID
// is set when the invoice is approved and cleared again when the sale is
// reversed.
type Consumption struct {
	ID        int64
	SKU       string
	Qty       int64
	LotID     *int64
	SalePrice shared.Amount
	SaleID    *int64
}

// Invoice is the posting coordinator's aggregate: lifecycle state, the
// inputs its totals derive from, and the cash and stock legs an approval
// posts.
type Invoice struct {
	ID           int64
	Ref          string
	Kind         InvoiceKind
	Status       Status
	Account      ledger.AccountType
	Lines        []invoicing.LineItem
	Fees         []invoicing.ServiceFee
	Discount     shared.Amount
	TaxEnabled   bool
	Tax          *invoicing.TaxConfig
	Totals       invoicing.Totals
	TotalsStale  bool
	Payments     []Payment
	Consumptions []Consumption
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// calcInput assembles the totals computation input from the stored lines.
func (inv Invoice) calcInput() invoicing.CalcInput {
	return invoicing.CalcInput{
		Lines:       inv.Lines,
		ServiceFees: inv.Fees,
		Discount:    inv.Discount,
		TaxEnabled:  inv.TaxEnabled,
		Tax:         inv.Tax,
	}
}
