package db

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RetryConfig bounds the retry loop for conflicting transactions.
type RetryConfig struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultRetry is the policy used by the posting coordinator.
var DefaultRetry = RetryConfig{Attempts: 4, BaseWait: 25 * time.Millisecond, MaxWait: 400 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Only shared.ErrConflict is retried; waits grow
// exponentially up to MaxWait.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg = DefaultRetry
	}
	wait := cfg.BaseWait
	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil || !shared.IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
	return err
}
