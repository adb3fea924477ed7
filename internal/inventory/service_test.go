package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	lots        map[int64]Lot
	stocks      map[string]int64
	sales       map[int64]SaleRecord
	adjustments []Adjustment
	nextLotID   int64
	nextSaleID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lots:   make(map[int64]Lot),
		stocks: make(map[string]int64),
		sales:  make(map[int64]SaleRecord),
	}
}

// memoryTx serializes whole transactions under the repo mutex so the lot
// guard behaves like the conditional UPDATE it stands in for.
type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStock(ctx context.Context, sku string) (Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stock{SKU: sku, Qty: r.stocks[sku]}, nil
}

func (r *memoryRepo) ListLots(ctx context.Context, sku string) ([]Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Lot
	for id := int64(1); id <= r.nextLotID; id++ {
		if lot, ok := r.lots[id]; ok && lot.SKU == sku {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListSales(ctx context.Context, sku string) ([]SaleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SaleRecord
	for id := int64(1); id <= r.nextSaleID; id++ {
		if s, ok := r.sales[id]; ok && s.SKU == sku && !s.Reversed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	tx.repo.nextLotID++
	lot.ID = tx.repo.nextLotID
	tx.repo.lots[lot.ID] = lot
	return lot.ID, nil
}

func (tx *memoryTx) AdjustStock(ctx context.Context, sku string, delta int64) error {
	tx.repo.stocks[sku] += delta
	return nil
}

func (tx *memoryTx) ConsumeLot(ctx context.Context, lotID int64, qty int64) error {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return shared.ErrNotFound
	}
	if lot.SoldQty+qty > lot.Qty {
		return shared.ErrInsufficientLotQty
	}
	lot.SoldQty += qty
	tx.repo.lots[lotID] = lot
	return nil
}

func (tx *memoryTx) ReleaseLot(ctx context.Context, lotID int64, qty int64) error {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return shared.ErrNotFound
	}
	if lot.SoldQty-qty < 0 {
		return shared.Validationf("release exceeds sold quantity")
	}
	lot.SoldQty -= qty
	tx.repo.lots[lotID] = lot
	return nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale SaleRecord) (int64, error) {
	tx.repo.nextSaleID++
	sale.ID = tx.repo.nextSaleID
	tx.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memoryTx) MarkSaleReversed(ctx context.Context, saleID int64) error {
	s, ok := tx.repo.sales[saleID]
	if !ok || s.Reversed {
		return shared.ErrNotFound
	}
	s.Reversed = true
	tx.repo.sales[saleID] = s
	return nil
}

func (tx *memoryTx) GetSale(ctx context.Context, saleID int64) (SaleRecord, error) {
	s, ok := tx.repo.sales[saleID]
	if !ok {
		return SaleRecord{}, shared.ErrNotFound
	}
	return s, nil
}

func (tx *memoryTx) GetLot(ctx context.Context, lotID int64) (Lot, error) {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return Lot{}, shared.ErrNotFound
	}
	return lot, nil
}

func (tx *memoryTx) DeleteLot(ctx context.Context, lotID int64) error {
	delete(tx.repo.lots, lotID)
	return nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	tx.repo.adjustments = append(tx.repo.adjustments, adj)
	return nil
}

func amount(usd, aed string) shared.Amount {
	return shared.Amount{USD: decimal.RequireFromString(usd), AED: decimal.RequireFromString(aed)}
}

func int64Ptr(v int64) *int64 { return &v }

func TestRecordPurchaseCreatesLotAndRaisesStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{
		SKU:         "CAM-100",
		PurchaseRef: "PO-1",
		Qty:         10,
		UnitCost:    amount("5", "18.35"),
		PurchasedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), lot.ID)
	require.Equal(t, int64(10), lot.Remaining())

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(10), onHand)
}

func TestRecordSaleConsumesLotAndLowersStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)

	sale, err := svc.RecordSale(context.Background(), SaleInput{
		SKU:       "CAM-100",
		Qty:       4,
		SalePrice: amount("9", "33.03"),
		LotID:     int64Ptr(lot.ID),
		SoldAt:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), sale.Qty)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, int64(4), lots[0].SoldQty)
	require.Equal(t, int64(6), lots[0].Remaining())

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(6), onHand)
}

func TestRecordSaleRejectsOverconsumption(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 5, PurchasedAt: time.Now()})
	require.NoError(t, err)

	_, err = svc.RecordSale(context.Background(), SaleInput{SKU: "CAM-100", Qty: 6, LotID: int64Ptr(lot.ID), SoldAt: time.Now()})
	require.ErrorIs(t, err, shared.ErrInsufficientLotQty)

	// the rejected sale must leave no trace
	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(0), lots[0].SoldQty)

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(5), onHand)

	sales, err := svc.Sales(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestConcurrentSalesNeverOverconsumeLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 5, PurchasedAt: time.Now()})
	require.NoError(t, err)

	// two sales of 3 against 5 remaining: exactly one may win
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(context.Background(), SaleInput{
				SKU:    "CAM-100",
				Qty:    3,
				LotID:  int64Ptr(lot.ID),
				SoldAt: time.Now(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, shared.ErrInsufficientLotQty)
			rejected++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(3), lots[0].SoldQty)
	require.LessOrEqual(t, lots[0].SoldQty, lots[0].Qty)
}

func TestSaleReturnReleasesLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)
	_, err = svc.RecordSale(context.Background(), SaleInput{SKU: "CAM-100", Qty: 4, LotID: int64Ptr(lot.ID), SoldAt: time.Now()})
	require.NoError(t, err)

	err = svc.RecordReturn(context.Background(), ReturnInput{Kind: ReturnSale, SKU: "CAM-100", Qty: 2, LotID: int64Ptr(lot.ID)})
	require.NoError(t, err)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(2), lots[0].SoldQty)

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(8), onHand)
}

func TestPurchaseReturnKeepsSoldHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)
	_, err = svc.RecordSale(context.Background(), SaleInput{SKU: "CAM-100", Qty: 3, LotID: int64Ptr(lot.ID), SoldAt: time.Now()})
	require.NoError(t, err)

	err = svc.RecordReturn(context.Background(), ReturnInput{Kind: ReturnPurchase, SKU: "CAM-100", Qty: 2})
	require.NoError(t, err)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(3), lots[0].SoldQty)

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(5), onHand)
}

func TestReverseSale(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)
	sale, err := svc.RecordSale(context.Background(), SaleInput{SKU: "CAM-100", Qty: 4, LotID: int64Ptr(lot.ID), SoldAt: time.Now()})
	require.NoError(t, err)

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return svc.ReverseSaleTx(ctx, tx, sale.ID)
	})
	require.NoError(t, err)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(0), lots[0].SoldQty)

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(10), onHand)

	sales, err := svc.Sales(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Empty(t, sales)

	// a second reversal is rejected
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return svc.ReverseSaleTx(ctx, tx, sale.ID)
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRemoveLotRejectsPartiallySold(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)
	_, err = svc.RecordSale(context.Background(), SaleInput{SKU: "CAM-100", Qty: 1, LotID: int64Ptr(lot.ID), SoldAt: time.Now()})
	require.NoError(t, err)

	err = svc.RemoveLot(context.Background(), lot.ID, "tester")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRemoveLotRollsBackStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	lot, err := svc.RecordPurchase(context.Background(), PurchaseInput{SKU: "CAM-100", Qty: 10, PurchasedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveLot(context.Background(), lot.ID, "tester"))

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(0), onHand)

	lots, err := svc.Lots(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Empty(t, lots)
}

func TestRecordAdjustment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	require.NoError(t, svc.RecordAdjustment(context.Background(), Adjustment{SKU: "CAM-100", Qty: 7, Note: "stocktake"}, "tester"))
	require.NoError(t, svc.RecordAdjustment(context.Background(), Adjustment{SKU: "CAM-100", Qty: -2, Note: "damaged"}, "tester"))

	onHand, err := svc.OnHand(context.Background(), "CAM-100")
	require.NoError(t, err)
	require.Equal(t, int64(5), onHand)

	err = svc.RecordAdjustment(context.Background(), Adjustment{SKU: "CAM-100", Qty: 0}, "tester")
	require.ErrorIs(t, err, shared.ErrValidation)
}
