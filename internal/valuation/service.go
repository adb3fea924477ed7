package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort loads the movement history the report is reconstructed
// from.
type RepositoryPort interface {
	MovementTotals(ctx context.Context, sku string, asOf time.Time) (MovementTotals, error)
	// LatestUnitCost returns the unit cost of the most recent purchase at
	// or before asOf; same-day purchases tie-break on highest id. The bool
	// is false when no such purchase exists.
	LatestUnitCost(ctx context.Context, sku string, asOf time.Time) (shared.Amount, bool, error)
}

// Service builds as-of-date stock valuations. Reports are cached in redis
// for a short TTL; a stale read inside that window is tolerated because the
// report is reconstructed from movements and converges on the next miss.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	cache  *redis.Client
	ttl    time.Duration
}

// NewService builds Service. cache may be nil, which disables caching.
func NewService(logger *slog.Logger, repo RepositoryPort, cache *redis.Client, ttl time.Duration) *Service {
	return &Service{logger: logger, repo: repo, cache: cache, ttl: ttl}
}

// Report values one SKU's stock as of the end of the given date.
func (s *Service) Report(ctx context.Context, sku string, asOf time.Time) (Report, error) {
	if sku == "" {
		return Report{}, shared.Validationf("sku required")
	}
	asOf = endOfDay(asOf)

	if cached, ok := s.fromCache(ctx, sku, asOf); ok {
		return cached, nil
	}

	totals, err := s.repo.MovementTotals(ctx, sku, asOf)
	if err != nil {
		return Report{}, err
	}
	cost, known, err := s.repo.LatestUnitCost(ctx, sku, asOf)
	if err != nil {
		return Report{}, err
	}
	if !known {
		cost = shared.ZeroAmount()
	}

	qty := totals.Closing()
	report := Report{
		SKU:        sku,
		AsOf:       asOf,
		ClosingQty: qty,
		UnitCost:   cost,
		Value:      computeValue(qty, cost, known),
		CostKnown:  known,
	}
	s.toCache(ctx, report)
	return report, nil
}

func (s *Service) fromCache(ctx context.Context, sku string, asOf time.Time) (Report, bool) {
	if s.cache == nil {
		return Report{}, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(sku, asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false
	}
	if err != nil {
		s.logger.Warn("valuation cache read failed", slog.String("sku", sku), slog.Any("error", err))
		return Report{}, false
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, false
	}
	return report, true
}

func (s *Service) toCache(ctx context.Context, report Report) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(report.SKU, report.AsOf), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("valuation cache write failed", slog.String("sku", report.SKU), slog.Any("error", err))
	}
}

func cacheKey(sku string, asOf time.Time) string {
	return fmt.Sprintf("valuation:%s:%s", sku, asOf.Format("2006-01-02"))
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, time.UTC)
}
