package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists cash accounts and entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. Conflicts map to
// shared.ErrConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NewTxRepository adapts an externally managed transaction. The posting
// coordinator uses it so cash postings share the invoice transition's tx.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// GetAccount loads the account snapshot without locking.
func (r *Repository) GetAccount(ctx context.Context, accountType AccountType) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, account_type, hand, bank, cheque, version, updated_at FROM cash_accounts WHERE account_type = $1`,
		string(accountType)))
}

// ListEntries returns the append-only log of one account, oldest first.
func (r *Repository) ListEntries(ctx context.Context, accountType AccountType) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_type, kind, sub_account, amount, linked_sub, actor, note, created_at
		 FROM ledger_entries WHERE account_type = $1 ORDER BY id`,
		string(accountType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var linked *string
		if err := rows.Scan(&e.ID, &e.AccountType, &e.Kind, &e.SubAccount, &e.Amount, &linked, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if linked != nil {
			sub := SubAccount(*linked)
			e.LinkedSub = &sub
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetAccountForUpdate locks the account row so concurrent postings against
// the same account serialize instead of racing read-then-write.
func (r *txRepo) GetAccountForUpdate(ctx context.Context, accountType AccountType) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx,
		`SELECT id, account_type, hand, bank, cheque, version, updated_at FROM cash_accounts WHERE account_type = $1 FOR UPDATE`,
		string(accountType)))
}

// UpdateBalances writes the three sub-balances guarded by the version token.
func (r *txRepo) UpdateBalances(ctx context.Context, account Account) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE cash_accounts SET hand = $1, bank = $2, cheque = $3, version = $4, updated_at = NOW()
		 WHERE id = $5 AND version = $6`,
		account.Hand, account.Bank, account.Cheque, account.Version, account.ID, account.Version-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cash account %s version moved", shared.ErrConflict, account.Type)
	}
	return nil
}

// AppendEntry inserts one immutable audit row.
func (r *txRepo) AppendEntry(ctx context.Context, entry Entry) (int64, error) {
	var linked *string
	if entry.LinkedSub != nil {
		s := string(*entry.LinkedSub)
		linked = &s
	}
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (account_type, kind, sub_account, amount, linked_sub, actor, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id`,
		string(entry.AccountType), string(entry.Kind), string(entry.SubAccount), entry.Amount, linked, entry.Actor, entry.Note).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Type, &a.Hand, &a.Bank, &a.Cheque, &a.Version, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}
