package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AccountType identifies a cash account aggregate. Exactly one account row
// exists per type, created at bootstrap and never deleted.
type AccountType string

const (
	AccountMain   AccountType = "main"
	AccountProfit AccountType = "profit"
)

// ParseAccountType validates an account type received at the boundary.
func ParseAccountType(s string) (AccountType, error) {
	switch AccountType(s) {
	case AccountMain, AccountProfit:
		return AccountType(s), nil
	}
	return "", shared.Validationf("unknown account type %q", s)
}

// SubAccount is one of the three cash pools inside a cash account.
type SubAccount string

const (
	SubHand   SubAccount = "hand"
	SubBank   SubAccount = "bank"
	SubCheque SubAccount = "cheque"
)

// ParseSubAccount validates a sub-account received at the boundary.
func ParseSubAccount(s string) (SubAccount, error) {
	switch SubAccount(s) {
	case SubHand, SubBank, SubCheque:
		return SubAccount(s), nil
	}
	return "", shared.Validationf("unknown sub-account %q", s)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntryWithdraw EntryKind = "withdraw"
	EntryTransfer EntryKind = "transfer"
)

// Account carries the three sub-balances of one cash account. Version is
// bumped on every posting; the repository locks the row for update so two
// postings against the same account serialize.
type Account struct {
	ID        int64
	Type      AccountType
	Hand      decimal.Decimal
	Bank      decimal.Decimal
	Cheque    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// SubBalance returns the balance of one sub-account.
func (a Account) SubBalance(sub SubAccount) decimal.Decimal {
	switch sub {
	case SubHand:
		return a.Hand
	case SubBank:
		return a.Bank
	case SubCheque:
		return a.Cheque
	}
	return decimal.Zero
}

func (a *Account) setSubBalance(sub SubAccount, v decimal.Decimal) {
	switch sub {
	case SubHand:
		a.Hand = v
	case SubBank:
		a.Bank = v
	case SubCheque:
		a.Cheque = v
	}
}

// Entry is one append-only audit row. Transfers are recorded as a single
// entry whose SubAccount is the source and LinkedSub the destination.
type Entry struct {
	ID          int64
	AccountType AccountType
	Kind        EntryKind
	SubAccount  SubAccount
	Amount      decimal.Decimal
	LinkedSub   *SubAccount
	Actor       string
	Note        string
	CreatedAt   time.Time
}

// Balance is the post-operation view returned by mutating calls.
type Balance struct {
	AccountType AccountType
	SubAccount  SubAccount
	Amount      decimal.Decimal
}

// DepositInput describes a deposit request.
type DepositInput struct {
	AccountType AccountType
	SubAccount  SubAccount
	Amount      decimal.Decimal
	Actor       string
	Note        string
}

// WithdrawInput describes a withdrawal request.
type WithdrawInput struct {
	AccountType AccountType
	SubAccount  SubAccount
	Amount      decimal.Decimal
	Actor       string
	Note        string
}

// TransferInput moves cash between two sub-accounts of one account.
type TransferInput struct {
	AccountType AccountType
	From        SubAccount
	To          SubAccount
	Amount      decimal.Decimal
	Actor       string
	Note        string
}

// SumEntries replays an entry log into per-sub-account signed sums. For
// every account the result must equal the stored balances; the integrity
// job alerts when it does not.
func SumEntries(entries []Entry) map[SubAccount]decimal.Decimal {
	sums := map[SubAccount]decimal.Decimal{
		SubHand:   decimal.Zero,
		SubBank:   decimal.Zero,
		SubCheque: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case EntryDeposit:
			sums[e.SubAccount] = sums[e.SubAccount].Add(e.Amount)
		case EntryWithdraw:
			sums[e.SubAccount] = sums[e.SubAccount].Sub(e.Amount)
		case EntryTransfer:
			sums[e.SubAccount] = sums[e.SubAccount].Sub(e.Amount)
			if e.LinkedSub != nil {
				sums[*e.LinkedSub] = sums[*e.LinkedSub].Add(e.Amount)
			}
		}
	}
	return sums
}
