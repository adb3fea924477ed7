package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, accountType AccountType) ([]Entry, error)
	GetAccount(ctx context.Context, accountType AccountType) (Account, error)
}

// TxRepository exposes the transactional operations one posting needs. The
// balance update and the entry append run on the same transaction; a failed
// append rolls the balance change back with it.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, accountType AccountType) (Account, error)
	UpdateBalances(ctx context.Context, account Account) error
	AppendEntry(ctx context.Context, entry Entry) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowOverdraft switches withdrawals to the permissive policy where
	// sub-balances may go negative. Default is strict.
	AllowOverdraft bool
}

// Service owns cash-account balances and their audit trail.
type Service struct {
	repo           RepositoryPort
	audit          AuditPort
	allowOverdraft bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowOverdraft: cfg.AllowOverdraft}
}

// Deposit adds amount to one sub-account and appends the audit entry.
func (s *Service) Deposit(ctx context.Context, input DepositInput) (Balance, error) {
	var balance Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = s.DepositTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.recordAudit(ctx, "ledger:deposit", input.AccountType, input.SubAccount, input.Actor, input.Note)
	return balance, nil
}

// DepositTx performs a deposit on a caller-supplied transaction. The posting
// coordinator uses it to join invoice approval and cash posting in one unit.
func (s *Service) DepositTx(ctx context.Context, tx TxRepository, input DepositInput) (Balance, error) {
	if err := validateAmount(input.Amount, input.SubAccount); err != nil {
		return Balance{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, input.AccountType)
	if err != nil {
		return Balance{}, err
	}
	account.setSubBalance(input.SubAccount, account.SubBalance(input.SubAccount).Add(input.Amount))
	account.Version++
	if err := tx.UpdateBalances(ctx, account); err != nil {
		return Balance{}, err
	}
	entry := Entry{
		AccountType: input.AccountType,
		Kind:        EntryDeposit,
		SubAccount:  input.SubAccount,
		Amount:      input.Amount,
		Actor:       input.Actor,
		Note:        input.Note,
	}
	if _, err := tx.AppendEntry(ctx, entry); err != nil {
		return Balance{}, fmt.Errorf("ledger: append entry: %w", err)
	}
	return Balance{AccountType: input.AccountType, SubAccount: input.SubAccount, Amount: account.SubBalance(input.SubAccount)}, nil
}

// Withdraw removes amount from one sub-account. Under the strict policy the
// call fails with shared.ErrInsufficientFunds when amount exceeds the
// current sub-balance.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (Balance, error) {
	var balance Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = s.WithdrawTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.recordAudit(ctx, "ledger:withdraw", input.AccountType, input.SubAccount, input.Actor, input.Note)
	return balance, nil
}

// WithdrawTx performs a withdrawal on a caller-supplied transaction.
func (s *Service) WithdrawTx(ctx context.Context, tx TxRepository, input WithdrawInput) (Balance, error) {
	if err := validateAmount(input.Amount, input.SubAccount); err != nil {
		return Balance{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, input.AccountType)
	if err != nil {
		return Balance{}, err
	}
	current := account.SubBalance(input.SubAccount)
	if !s.allowOverdraft && input.Amount.GreaterThan(current) {
		return Balance{}, fmt.Errorf("%w: %s %s holds %s, requested %s",
			shared.ErrInsufficientFunds, input.AccountType, input.SubAccount, current, input.Amount)
	}
	account.setSubBalance(input.SubAccount, current.Sub(input.Amount))
	account.Version++
	if err := tx.UpdateBalances(ctx, account); err != nil {
		return Balance{}, err
	}
	entry := Entry{
		AccountType: input.AccountType,
		Kind:        EntryWithdraw,
		SubAccount:  input.SubAccount,
		Amount:      input.Amount,
		Actor:       input.Actor,
		Note:        input.Note,
	}
	if _, err := tx.AppendEntry(ctx, entry); err != nil {
		return Balance{}, fmt.Errorf("ledger: append entry: %w", err)
	}
	return Balance{AccountType: input.AccountType, SubAccount: input.SubAccount, Amount: account.SubBalance(input.SubAccount)}, nil
}

// Transfer moves amount between two sub-accounts of one account. Both legs
// and the single transfer-tagged entry commit together.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Balance, error) {
	var balance Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = s.TransferTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	s.recordAudit(ctx, "ledger:transfer", input.AccountType, input.From, input.Actor, input.Note)
	return balance, nil
}

// TransferTx performs a transfer on a caller-supplied transaction.
func (s *Service) TransferTx(ctx context.Context, tx TxRepository, input TransferInput) (Balance, error) {
	if input.From == input.To {
		return Balance{}, fmt.Errorf("%w: %s", shared.ErrSameSubAccount, input.From)
	}
	if err := validateAmount(input.Amount, input.From); err != nil {
		return Balance{}, err
	}
	if _, err := ParseSubAccount(string(input.To)); err != nil {
		return Balance{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, input.AccountType)
	if err != nil {
		return Balance{}, err
	}
	from := account.SubBalance(input.From)
	if !s.allowOverdraft && input.Amount.GreaterThan(from) {
		return Balance{}, fmt.Errorf("%w: %s %s holds %s, requested %s",
			shared.ErrInsufficientFunds, input.AccountType, input.From, from, input.Amount)
	}
	account.setSubBalance(input.From, from.Sub(input.Amount))
	account.setSubBalance(input.To, account.SubBalance(input.To).Add(input.Amount))
	account.Version++
	if err := tx.UpdateBalances(ctx, account); err != nil {
		return Balance{}, err
	}
	linked := input.To
	entry := Entry{
		AccountType: input.AccountType,
		Kind:        EntryTransfer,
		SubAccount:  input.From,
		Amount:      input.Amount,
		LinkedSub:   &linked,
		Actor:       input.Actor,
		Note:        input.Note,
	}
	if _, err := tx.AppendEntry(ctx, entry); err != nil {
		return Balance{}, fmt.Errorf("ledger: append entry: %w", err)
	}
	return Balance{AccountType: input.AccountType, SubAccount: input.To, Amount: account.SubBalance(input.To)}, nil
}

// Statement lists the full entry log of one account, oldest first.
func (s *Service) Statement(ctx context.Context, accountType AccountType) ([]Entry, error) {
	if _, err := ParseAccountType(string(accountType)); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, accountType)
}

// Balances returns the current account snapshot.
func (s *Service) Balances(ctx context.Context, accountType AccountType) (Account, error) {
	if _, err := ParseAccountType(string(accountType)); err != nil {
		return Account{}, err
	}
	return s.repo.GetAccount(ctx, accountType)
}

func (s *Service) recordAudit(ctx context.Context, action string, acct AccountType, sub SubAccount, actor, note string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "cash_account",
		EntityID: string(acct),
		Meta: map[string]any{
			"sub_account": string(sub),
			"note":        note,
		},
	})
}

func validateAmount(amount decimal.Decimal, sub SubAccount) error {
	if _, err := ParseSubAccount(string(sub)); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return shared.Validationf("amount must be positive")
	}
	return nil
}
