package posting

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// state is everything a transition can touch. Do operates on a deep copy
// and swaps it in only when the callback succeeds, mirroring the database
// transaction the real unit of work runs on.
type state struct {
	accounts   map[ledger.AccountType]ledger.Account
	entries    []ledger.Entry
	lots       map[int64]inventory.Lot
	stocks     map[string]int64
	sales      map[int64]inventory.SaleRecord
	invoices   map[int64]Invoice
	nextLotID  int64
	nextSaleID int64
	nextInvID  int64
}

func newState() *state {
	s := &state{
		accounts: map[ledger.AccountType]ledger.Account{},
		lots:     map[int64]inventory.Lot{},
		stocks:   map[string]int64{},
		sales:    map[int64]inventory.SaleRecord{},
		invoices: map[int64]Invoice{},
	}
	s.accounts[ledger.AccountMain] = ledger.Account{
		ID: 1, Type: ledger.AccountMain,
		Hand: decimal.Zero, Bank: decimal.Zero, Cheque: decimal.Zero, Version: 1,
	}
	return s
}

func (s *state) clone() *state {
	out := &state{
		accounts:   map[ledger.AccountType]ledger.Account{},
		entries:    append([]ledger.Entry(nil), s.entries...),
		lots:       map[int64]inventory.Lot{},
		stocks:     map[string]int64{},
		sales:      map[int64]inventory.SaleRecord{},
		invoices:   map[int64]Invoice{},
		nextLotID:  s.nextLotID,
		nextSaleID: s.nextSaleID,
		nextInvID:  s.nextInvID,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.lots {
		out.lots[k] = v
	}
	for k, v := range s.stocks {
		out.stocks[k] = v
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	for k, v := range s.invoices {
		v.Payments = append([]Payment(nil), v.Payments...)
		v.Consumptions = append([]Consumption(nil), v.Consumptions...)
		out.invoices[k] = v
	}
	return out
}

type memoryUoW struct {
	state *state
	// statusUpdateFails makes UpdateStatus report zero rows changed
	statusUpdateFails bool
	// conflictsLeft fails Do with ErrConflict this many times
	conflictsLeft int
	doCalls       int
}

func (u *memoryUoW) Do(ctx context.Context, fn func(context.Context, TxContext) error) error {
	u.doCalls++
	if u.conflictsLeft > 0 {
		u.conflictsLeft--
		return shared.ErrConflict
	}
	staged := u.state.clone()
	tx := &memoryTxContext{state: staged, statusUpdateFails: u.statusUpdateFails}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	u.state = staged
	return nil
}

func (u *memoryUoW) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := u.state.invoices[id]
	if !ok {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (u *memoryUoW) Create(ctx context.Context, invoice Invoice) (int64, error) {
	u.state.nextInvID++
	invoice.ID = u.state.nextInvID
	invoice.Status = StatusDraft
	for i := range invoice.Consumptions {
		invoice.Consumptions[i].ID = int64(i + 1)
	}
	u.state.invoices[invoice.ID] = invoice
	return invoice.ID, nil
}

type memoryTxContext struct {
	state             *state
	statusUpdateFails bool
}

func (c *memoryTxContext) Invoices() InvoiceTxRepository {
	return &memInvoiceTx{state: c.state, statusUpdateFails: c.statusUpdateFails}
}
func (c *memoryTxContext) Ledger() ledger.TxRepository       { return &memLedgerTx{state: c.state} }
func (c *memoryTxContext) Inventory() inventory.TxRepository { return &memInventoryTx{state: c.state} }

type memLedgerTx struct{ state *state }

func (t *memLedgerTx) GetAccountForUpdate(ctx context.Context, accountType ledger.AccountType) (ledger.Account, error) {
	acct, ok := t.state.accounts[accountType]
	if !ok {
		return ledger.Account{}, shared.ErrNotFound
	}
	return acct, nil
}

func (t *memLedgerTx) UpdateBalances(ctx context.Context, account ledger.Account) error {
	t.state.accounts[account.Type] = account
	return nil
}

func (t *memLedgerTx) AppendEntry(ctx context.Context, entry ledger.Entry) (int64, error) {
	entry.ID = int64(len(t.state.entries) + 1)
	t.state.entries = append(t.state.entries, entry)
	return entry.ID, nil
}

type memInventoryTx struct{ state *state }

func (t *memInventoryTx) InsertLot(ctx context.Context, lot inventory.Lot) (int64, error) {
	t.state.nextLotID++
	lot.ID = t.state.nextLotID
	t.state.lots[lot.ID] = lot
	return lot.ID, nil
}

func (t *memInventoryTx) AdjustStock(ctx context.Context, sku string, delta int64) error {
	t.state.stocks[sku] += delta
	return nil
}

func (t *memInventoryTx) ConsumeLot(ctx context.Context, lotID int64, qty int64) error {
	lot, ok := t.state.lots[lotID]
	if !ok {
		return shared.ErrNotFound
	}
	if lot.SoldQty+qty > lot.Qty {
		return shared.ErrInsufficientLotQty
	}
	lot.SoldQty += qty
	t.state.lots[lotID] = lot
	return nil
}

func (t *memInventoryTx) ReleaseLot(ctx context.Context, lotID int64, qty int64) error {
	lot, ok := t.state.lots[lotID]
	if !ok {
		return shared.ErrNotFound
	}
	if lot.SoldQty-qty < 0 {
		return shared.Validationf("release exceeds sold quantity")
	}
	lot.SoldQty -= qty
	t.state.lots[lotID] = lot
	return nil
}

func (t *memInventoryTx) InsertSale(ctx context.Context, sale inventory.SaleRecord) (int64, error) {
	t.state.nextSaleID++
	sale.ID = t.state.nextSaleID
	t.state.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *memInventoryTx) MarkSaleReversed(ctx context.Context, saleID int64) error {
	s, ok := t.state.sales[saleID]
	if !ok || s.Reversed {
		return shared.ErrNotFound
	}
	s.Reversed = true
	t.state.sales[saleID] = s
	return nil
}

func (t *memInventoryTx) GetSale(ctx context.Context, saleID int64) (inventory.SaleRecord, error) {
	s, ok := t.state.sales[saleID]
	if !ok {
		return inventory.SaleRecord{}, shared.ErrNotFound
	}
	return s, nil
}

func (t *memInventoryTx) GetLot(ctx context.Context, lotID int64) (inventory.Lot, error) {
	lot, ok := t.state.lots[lotID]
	if !ok {
		return inventory.Lot{}, shared.ErrNotFound
	}
	return lot, nil
}

func (t *memInventoryTx) DeleteLot(ctx context.Context, lotID int64) error {
	delete(t.state.lots, lotID)
	return nil
}

func (t *memInventoryTx) InsertAdjustment(ctx context.Context, adj inventory.Adjustment) error {
	return nil
}

type memInvoiceTx struct {
	state             *state
	statusUpdateFails bool
}

func (t *memInvoiceTx) GetForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (t *memInvoiceTx) UpdateStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	if t.statusUpdateFails {
		return false, nil
	}
	inv, ok := t.state.invoices[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	t.state.invoices[id] = inv
	return true, nil
}

func (t *memInvoiceTx) SaveTotals(ctx context.Context, id int64, totals invoicing.Totals) error {
	inv, ok := t.state.invoices[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Totals = totals
	inv.TotalsStale = false
	t.state.invoices[id] = inv
	return nil
}

func (t *memInvoiceTx) SetConsumptionSale(ctx context.Context, consumptionID int64, saleID *int64) error {
	for invID, inv := range t.state.invoices {
		for i, cons := range inv.Consumptions {
			if cons.ID == consumptionID {
				inv.Consumptions[i].SaleID = saleID
				t.state.invoices[invID] = inv
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

type memIdem struct {
	seen    map[string]bool
	deleted []string
}

func (m *memIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = true
	return nil
}

func (m *memIdem) Delete(ctx context.Context, key string) error {
	delete(m.seen, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newCoordinator(uow *memoryUoW, idem IdempotencyPort) *Coordinator {
	ledgerSvc := ledger.NewService(nil, nil, ledger.ServiceConfig{})
	inventorySvc := inventory.NewService(nil, nil)
	return NewCoordinator(slog.Default(), uow, ledgerSvc, inventorySvc, idem, nil,
		db.RetryConfig{Attempts: 3, BaseWait: 1, MaxWait: 2})
}

func seedSaleInvoice(uow *memoryUoW, stale bool) Invoice {
	uow.state.nextLotID = 1
	uow.state.lots[1] = inventory.Lot{ID: 1, SKU: "CAM-100", Qty: 10, UnitCost: shared.NewAmount("5", "18.35")}
	uow.state.stocks["CAM-100"] = 10

	lotID := int64(1)
	inv := Invoice{
		ID:      1,
		Ref:     "INV-1",
		Kind:    KindSale,
		Status:  StatusDraft,
		Account: ledger.AccountMain,
		Lines: []invoicing.LineItem{
			{SKU: "CAM-100", Qty: 4, UnitPrice: shared.NewAmount("25", "91.75")},
		},
		TotalsStale: stale,
		Payments: []Payment{
			{ID: 1, Method: MethodBank, Amount: decimal.RequireFromString("80")},
			{ID: 2, Method: MethodHand, Amount: decimal.RequireFromString("20")},
		},
		Consumptions: []Consumption{
			{ID: 1, SKU: "CAM-100", Qty: 4, LotID: &lotID, SalePrice: shared.NewAmount("25", "91.75")},
		},
	}
	uow.state.invoices[1] = inv
	uow.state.nextInvID = 1
	return inv
}

func approve(t *testing.T, c *Coordinator) Invoice {
	t.Helper()
	inv, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.NoError(t, err)
	return inv
}

func TestApproveSalePostsCashAndConsumesStock(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)

	inv := approve(t, c)
	require.Equal(t, StatusApproved, inv.Status)

	acct := uow.state.accounts[ledger.AccountMain]
	require.Equal(t, "80.00", acct.Bank.StringFixed(2))
	require.Equal(t, "20.00", acct.Hand.StringFixed(2))
	require.Len(t, uow.state.entries, 2)

	lot := uow.state.lots[1]
	require.Equal(t, int64(4), lot.SoldQty)
	require.Equal(t, int64(6), uow.state.stocks["CAM-100"])

	require.NotNil(t, inv.Consumptions[0].SaleID)
	sale := uow.state.sales[*inv.Consumptions[0].SaleID]
	require.Equal(t, "INV-1", sale.SaleRef)
}

func TestApproveRecomputesStaleTotals(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	seedSaleInvoice(uow, true)
	c := newCoordinator(uow, nil)

	inv := approve(t, c)
	require.False(t, inv.TotalsStale)
	// 4 x 25
	require.Equal(t, "100.00", inv.Totals.GrandTotal.USD.StringFixed(2))
}

func TestCancelReversesCashAndStock(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)
	approve(t, c)

	inv, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusCancelled, Actor: "tester"})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, inv.Status)

	acct := uow.state.accounts[ledger.AccountMain]
	require.True(t, acct.Bank.IsZero())
	require.True(t, acct.Hand.IsZero())
	// 2 postings + 2 reversals
	require.Len(t, uow.state.entries, 4)

	require.Equal(t, int64(0), uow.state.lots[1].SoldQty)
	require.Equal(t, int64(10), uow.state.stocks["CAM-100"])
	require.Nil(t, inv.Consumptions[0].SaleID)
	require.True(t, uow.state.sales[1].Reversed)
}

func TestApprovePurchaseWithdrawsCash(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	acct := uow.state.accounts[ledger.AccountMain]
	acct.Bank = decimal.RequireFromString("500")
	uow.state.accounts[ledger.AccountMain] = acct
	uow.state.invoices[1] = Invoice{
		ID:      1,
		Ref:     "PINV-1",
		Kind:    KindPurchase,
		Status:  StatusPendingApproval,
		Account: ledger.AccountMain,
		Lines:   []invoicing.LineItem{{SKU: "CAM-100", Qty: 10, UnitPrice: shared.NewAmount("5", "18.35")}},
		Payments: []Payment{
			{ID: 1, Method: MethodBank, Amount: decimal.RequireFromString("50")},
		},
	}
	c := newCoordinator(uow, nil)

	inv := approve(t, c)
	require.Equal(t, StatusApproved, inv.Status)
	require.Equal(t, "450.00", uow.state.accounts[ledger.AccountMain].Bank.StringFixed(2))
}

func TestApprovePurchaseInsufficientFundsRollsBack(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	uow.state.invoices[1] = Invoice{
		ID:      1,
		Ref:     "PINV-1",
		Kind:    KindPurchase,
		Status:  StatusDraft,
		Account: ledger.AccountMain,
		Payments: []Payment{
			{ID: 1, Method: MethodBank, Amount: decimal.RequireFromString("50")},
		},
	}
	c := newCoordinator(uow, nil)

	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)

	require.Equal(t, StatusDraft, uow.state.invoices[1].Status)
	require.Empty(t, uow.state.entries)
	require.True(t, uow.state.accounts[ledger.AccountMain].Bank.IsZero())
}

func TestIllegalTransitionsRejected(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)

	// cancel before approval
	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusCancelled, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrValidation)

	approve(t, c)

	// approved is not re-approvable, terminal states accept nothing
	_, err = c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusReturned, Actor: "tester"})
	require.NoError(t, err)
	_, err = c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStatusUpdateFailureAbortsWholePosting(t *testing.T) {
	uow := &memoryUoW{state: newState(), statusUpdateFails: true}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)

	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrAtomicityViolation)

	// cash, stock and status are all untouched
	require.Empty(t, uow.state.entries)
	require.True(t, uow.state.accounts[ledger.AccountMain].Bank.IsZero())
	require.Equal(t, int64(0), uow.state.lots[1].SoldQty)
	require.Equal(t, int64(10), uow.state.stocks["CAM-100"])
	require.Equal(t, StatusDraft, uow.state.invoices[1].Status)
}

func TestConflictIsRetried(t *testing.T) {
	uow := &memoryUoW{state: newState(), conflictsLeft: 2}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)

	inv := approve(t, c)
	require.Equal(t, StatusApproved, inv.Status)
	require.Equal(t, 3, uow.doCalls)
}

func TestConflictRetryBudgetExhausts(t *testing.T) {
	uow := &memoryUoW{state: newState(), conflictsLeft: 10}
	seedSaleInvoice(uow, false)
	c := newCoordinator(uow, nil)

	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, StatusDraft, uow.state.invoices[1].Status)
}

func TestIdempotencyKeyDedupes(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	seedSaleInvoice(uow, false)
	idem := &memIdem{}
	c := newCoordinator(uow, idem)

	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester", IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester", IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	// only one set of postings exists
	require.Len(t, uow.state.entries, 2)
}

func TestFailedTransitionReleasesIdempotencyKey(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	idem := &memIdem{}
	c := newCoordinator(uow, idem)
	uow.state.invoices[1] = Invoice{
		ID:      1,
		Kind:    KindPurchase,
		Status:  StatusDraft,
		Account: ledger.AccountMain,
		Payments: []Payment{
			{ID: 1, Method: MethodBank, Amount: decimal.RequireFromString("50")},
		},
	}

	_, err := c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester", IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	require.Contains(t, idem.deleted, "k1")

	// the key is free again after funding the account
	acct := uow.state.accounts[ledger.AccountMain]
	acct.Bank = decimal.RequireFromString("100")
	uow.state.accounts[ledger.AccountMain] = acct
	_, err = c.Transition(context.Background(), TransitionInput{InvoiceID: 1, Target: StatusApproved, Actor: "tester", IdempotencyKey: "k1"})
	require.NoError(t, err)
}

func TestCreateValidatesPaymentMethods(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	c := newCoordinator(uow, nil)

	_, err := c.Create(context.Background(), CreateInput{
		Ref:     "INV-9",
		Kind:    KindSale,
		Account: ledger.AccountMain,
		Lines:   []invoicing.LineItem{{SKU: "CAM-100", Qty: 1, UnitPrice: shared.NewAmount("10", "36.70")}},
		Payments: []Payment{
			{Method: PaymentMethod("card"), Amount: decimal.RequireFromString("10")},
		},
		Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateComputesTotals(t *testing.T) {
	uow := &memoryUoW{state: newState()}
	c := newCoordinator(uow, nil)

	inv, err := c.Create(context.Background(), CreateInput{
		Ref:     "INV-9",
		Kind:    KindSale,
		Account: ledger.AccountMain,
		Lines:   []invoicing.LineItem{{SKU: "CAM-100", Qty: 2, UnitPrice: shared.NewAmount("10", "36.70")}},
		Actor:   "tester",
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, inv.Status)
	require.Equal(t, "20.00", inv.Totals.GrandTotal.USD.StringFixed(2))
	require.False(t, inv.TotalsStale)
}
