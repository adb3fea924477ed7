package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays every account's entry log and compares
	// it against the stored balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskValuationWarmup precomputes today's valuation report for the
	// most active SKUs so interactive reads hit the cache.
	TaskValuationWarmup = "valuation:warmup"
)

// LedgerIntegrityPayload selects which accounts to scan. Empty means all.
type LedgerIntegrityPayload struct {
	Accounts []string `json:"accounts,omitempty"`
}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// ValuationWarmupPayload bounds how many SKUs one warmup run prices.
type ValuationWarmupPayload struct {
	Limit int `json:"limit"`
}

// NewValuationWarmupTask constructs the valuation warmup task.
func NewValuationWarmupTask(payload ValuationWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskValuationWarmup, data), nil
}
