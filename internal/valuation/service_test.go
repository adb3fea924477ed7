package valuation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type movement struct {
	kind string // purchase | sale | adjustment
	qty  int64
	cost shared.Amount
	at   time.Time
	id   int64
}

type memoryRepo struct {
	movements []movement
	calls     int
}

func (r *memoryRepo) MovementTotals(ctx context.Context, sku string, asOf time.Time) (MovementTotals, error) {
	r.calls++
	var totals MovementTotals
	for _, m := range r.movements {
		if m.at.After(asOf) {
			continue
		}
		switch m.kind {
		case "purchase":
			totals.Purchased += m.qty
		case "sale":
			totals.Sold += m.qty
		case "adjustment":
			totals.Adjusted += m.qty
		}
	}
	return totals, nil
}

func (r *memoryRepo) LatestUnitCost(ctx context.Context, sku string, asOf time.Time) (shared.Amount, bool, error) {
	var best *movement
	for i := range r.movements {
		m := &r.movements[i]
		if m.kind != "purchase" || m.at.After(asOf) {
			continue
		}
		if best == nil || m.at.After(best.at) || (m.at.Equal(best.at) && m.id > best.id) {
			best = m
		}
	}
	if best == nil {
		return shared.Amount{}, false, nil
	}
	return best.cost, true, nil
}

func day(n int) time.Time {
	return time.Date(2026, time.March, n, 12, 0, 0, 0, time.UTC)
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestReportReconstructsQuantityAndValue(t *testing.T) {
	repo := &memoryRepo{movements: []movement{
		{kind: "purchase", qty: 10, cost: shared.NewAmount("5", "18.35"), at: day(1), id: 1},
		{kind: "sale", qty: 4, at: day(2), id: 1},
		{kind: "purchase", qty: 5, cost: shared.NewAmount("7", "25.69"), at: day(3), id: 2},
		{kind: "adjustment", qty: -1, at: day(4), id: 1},
	}}
	svc := NewService(testLogger(), repo, nil, 0)

	// before the second purchase: qty 6 at the first lot's cost
	report, err := svc.Report(context.Background(), "CAM-100", day(2))
	require.NoError(t, err)
	require.Equal(t, int64(6), report.ClosingQty)
	require.True(t, report.CostKnown)
	require.Equal(t, "30.00", report.Value.USD.StringFixed(2))

	// after everything: qty 10 priced at the latest cost
	report, err = svc.Report(context.Background(), "CAM-100", day(5))
	require.NoError(t, err)
	require.Equal(t, int64(10), report.ClosingQty)
	require.Equal(t, "7.00", report.UnitCost.USD.StringFixed(2))
	require.Equal(t, "70.00", report.Value.USD.StringFixed(2))
}

func TestReportBeforeAnyPurchase(t *testing.T) {
	repo := &memoryRepo{movements: []movement{
		{kind: "adjustment", qty: 3, at: day(1), id: 1},
	}}
	svc := NewService(testLogger(), repo, nil, 0)

	report, err := svc.Report(context.Background(), "CAM-100", day(2))
	require.NoError(t, err)
	require.Equal(t, int64(3), report.ClosingQty)
	require.False(t, report.CostKnown)
	require.True(t, report.Value.IsZero())
}

func TestReportNegativeQuantityValuesAtZero(t *testing.T) {
	repo := &memoryRepo{movements: []movement{
		{kind: "purchase", qty: 2, cost: shared.NewAmount("5", "18.35"), at: day(1), id: 1},
		{kind: "adjustment", qty: -5, at: day(2), id: 1},
	}}
	svc := NewService(testLogger(), repo, nil, 0)

	report, err := svc.Report(context.Background(), "CAM-100", day(3))
	require.NoError(t, err)
	require.Equal(t, int64(-3), report.ClosingQty)
	require.True(t, report.Value.IsZero())
}

func TestSameDayPurchasesTieBreakOnHighestID(t *testing.T) {
	repo := &memoryRepo{movements: []movement{
		{kind: "purchase", qty: 5, cost: shared.NewAmount("5", "18.35"), at: day(1), id: 1},
		{kind: "purchase", qty: 5, cost: shared.NewAmount("6", "22.02"), at: day(1), id: 2},
	}}
	svc := NewService(testLogger(), repo, nil, 0)

	report, err := svc.Report(context.Background(), "CAM-100", day(1))
	require.NoError(t, err)
	require.Equal(t, "6.00", report.UnitCost.USD.StringFixed(2))
}

// The report evaluated as of today must agree with the live on-hand
// quantity maintained incrementally by the stock tracker.
func TestReportAsOfTodayMatchesLiveOnHand(t *testing.T) {
	repo := &memoryRepo{}
	var liveOnHand int64
	apply := func(kind string, qty int64, at time.Time, id int64) {
		repo.movements = append(repo.movements, movement{kind: kind, qty: qty, cost: shared.NewAmount("5", "18.35"), at: at, id: id})
		switch kind {
		case "purchase", "adjustment":
			liveOnHand += qty
		case "sale":
			liveOnHand -= qty
		}
	}
	apply("purchase", 20, day(1), 1)
	apply("sale", 7, day(2), 1)
	apply("purchase", 10, day(3), 2)
	apply("sale", 12, day(4), 2)
	apply("adjustment", -2, day(5), 1)
	apply("sale", 3, day(6), 3)

	svc := NewService(testLogger(), repo, nil, 0)
	report, err := svc.Report(context.Background(), "CAM-100", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, liveOnHand, report.ClosingQty)
}

func TestReportCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &memoryRepo{movements: []movement{
		{kind: "purchase", qty: 10, cost: shared.NewAmount("5", "18.35"), at: day(1), id: 1},
	}}
	svc := NewService(testLogger(), repo, client, time.Minute)

	first, err := svc.Report(context.Background(), "CAM-100", day(2))
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	// second read is served from the cache
	second, err := svc.Report(context.Background(), "CAM-100", day(2))
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.Equal(t, first.ClosingQty, second.ClosingQty)
	require.True(t, first.Value.Equal(second.Value))

	// expiry forces recomputation
	mr.FastForward(2 * time.Minute)
	_, err = svc.Report(context.Background(), "CAM-100", day(2))
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestReportRequiresSKU(t *testing.T) {
	svc := NewService(testLogger(), &memoryRepo{}, nil, 0)
	_, err := svc.Report(context.Background(), "", day(1))
	require.ErrorIs(t, err, shared.ErrValidation)
}
