package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// LedgerIntegrityJob replays every account's entry log and compares the
// reconstructed sub-account sums against the stored balances. A mismatch
// means a posting bypassed the ledger service and is reported loudly.
type LedgerIntegrityJob struct {
	service *ledger.Service
	logger  *slog.Logger
}

// NewLedgerIntegrityJob constructs the job.
func NewLedgerIntegrityJob(service *ledger.Service, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{service: service, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	accounts := payload.Accounts
	if len(accounts) == 0 {
		accounts = []string{string(ledger.AccountMain), string(ledger.AccountProfit)}
	}

	var mismatches int
	for _, raw := range accounts {
		accountType, err := ledger.ParseAccountType(raw)
		if err != nil {
			j.logger.Warn("integrity scan skipping account", slog.String("account", raw), slog.Any("error", err))
			continue
		}
		ok, err := j.checkAccount(ctx, accountType)
		if err != nil {
			return err
		}
		if !ok {
			mismatches++
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("ledger integrity: %d account(s) out of balance", mismatches)
	}
	j.logger.Info("ledger integrity scan clean", slog.Int("accounts", len(accounts)))
	return nil
}

func (j *LedgerIntegrityJob) checkAccount(ctx context.Context, accountType ledger.AccountType) (bool, error) {
	account, err := j.service.Balances(ctx, accountType)
	if err != nil {
		return false, err
	}
	entries, err := j.service.Statement(ctx, accountType)
	if err != nil {
		return false, err
	}
	sums := ledger.SumEntries(entries)

	ok := true
	for _, sub := range []ledger.SubAccount{ledger.SubHand, ledger.SubBank, ledger.SubCheque} {
		stored := account.SubBalance(sub)
		replayed := sums[sub]
		if !stored.Equal(replayed) {
			ok = false
			j.logger.Error("ledger balance does not match entry log",
				slog.String("account", string(accountType)),
				slog.String("sub_account", string(sub)),
				slog.String("stored", stored.String()),
				slog.String("replayed", replayed.String()))
		}
	}
	return ok, nil
}
