package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/valuation"
)

// SKUSource lists the SKUs worth precomputing.
type SKUSource interface {
	ActiveSKUs(ctx context.Context, limit int) ([]string, error)
}

// ValuationWarmupJob prices today's stock for the most recently active SKUs
// so the first interactive report of the day is a cache hit.
type ValuationWarmupJob struct {
	service *valuation.Service
	skus    SKUSource
	logger  *slog.Logger
}

// NewValuationWarmupJob constructs the job.
func NewValuationWarmupJob(service *valuation.Service, skus SKUSource, logger *slog.Logger) *ValuationWarmupJob {
	return &ValuationWarmupJob{service: service, skus: skus, logger: logger}
}

// Handle processes TaskValuationWarmup tasks.
func (j *ValuationWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ValuationWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = 200
	}

	skus, err := j.skus.ActiveSKUs(ctx, limit)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	warmed := 0
	for _, sku := range skus {
		if _, err := j.service.Report(ctx, sku, now); err != nil {
			j.logger.Warn("valuation warmup failed for sku", slog.String("sku", sku), slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.logger.Info("valuation warmup done", slog.Int("skus", warmed))
	return nil
}
