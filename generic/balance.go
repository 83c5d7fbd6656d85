/*
balance.go - Account balance calculation

PURPOSE:
  Computes an account's balance components by replaying its entries. This
  is the calculation that answers "how much of this advance is still
  outstanding, and where did the rest go?"

BALANCE COMPONENTS:
  Issued:     What was originally put on the account
  Applied:    Net amount recovered through applications
  WrittenOff: Net amount forgiven
  Remaining:  Issued - Applied - WrittenOff (= sum of all deltas)

RECONCILIATION:
  Because every movement is an entry, the components always satisfy
  Issued == Remaining + Applied + WrittenOff. Reconciles() checks it.

SEE ALSO:
  - ledger.go: Where entries come from
  - payout/advances.go: Advance status derived from the balance
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT BALANCE - Replayed from entries
// =============================================================================

type AccountBalance struct {
	AccountID  AccountID
	Issued     decimal.Decimal
	Applied    decimal.Decimal
	WrittenOff decimal.Decimal
	Remaining  decimal.Decimal
}

// Reconciles reports whether the components add up.
func (b AccountBalance) Reconciles() bool {
	return b.Issued.Equal(b.Remaining.Add(b.Applied).Add(b.WrittenOff))
}

// IsSettled reports whether nothing is left to recover.
func (b AccountBalance) IsSettled() bool {
	return !b.Remaining.IsPositive()
}

// Summarize folds entries into an AccountBalance.
func Summarize(accountID AccountID, entries []Entry) AccountBalance {
	b := AccountBalance{
		AccountID:  accountID,
		Issued:     decimal.Zero,
		Applied:    decimal.Zero,
		WrittenOff: decimal.Zero,
		Remaining:  decimal.Zero,
	}
	for _, e := range entries {
		b.Remaining = b.Remaining.Add(e.Delta)
		switch e.Type {
		case EntryIssue:
			b.Issued = b.Issued.Add(e.Delta)
		case EntryApplication, EntryApplicationReversal:
			// Applications are negative, reversals positive
			b.Applied = b.Applied.Sub(e.Delta)
		case EntryWriteOff, EntryWriteOffReversal:
			b.WrittenOff = b.WrittenOff.Sub(e.Delta)
		}
	}
	return b
}

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// BalanceCalculator computes balances from a ledger.
type BalanceCalculator struct {
	Ledger Ledger
}

func (bc *BalanceCalculator) CalculateBalance(ctx context.Context, accountID AccountID) (AccountBalance, error) {
	entries, err := bc.Ledger.Entries(ctx, accountID)
	if err != nil {
		return AccountBalance{}, err
	}
	return Summarize(accountID, entries), nil
}
