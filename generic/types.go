/*
Package generic provides the domain-agnostic core of the payout engine.

PURPOSE:
  This package contains the building blocks shared by every payout
  component: exact money arithmetic, identifiers, calendar helpers, the
  polymorphic payee reference, and an append-only balance ledger. Domain
  packages (payout, expense, payroll) build their rules on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal values rounded to the smallest currency unit
  - Entry: An immutable ledger entry recording a balance movement
  - AccountID/EntryID: Type-safe identifiers for ledger accounts

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing account/entry IDs
  4. Auditability: Every entry has reason, reference, and idempotency key

USAGE:
  entry := generic.Entry{
      AccountID: "adv_123",
      EntityID:  "person-7",
      Delta:     generic.MustParseDecimal("-25.00"),
      Type:      generic.EntryApplication,
  }

SEE ALSO:
  - ledger.go: Entry persistence and replay
  - balance.go: Balance calculation from entries
  - payee.go: Polymorphic payee references
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amounts
// =============================================================================

// CurrencyPlaces is the number of decimal places of the smallest currency unit.
const CurrencyPlaces int32 = 2

// Cent is the smallest currency unit.
var Cent = decimal.New(1, -CurrencyPlaces)

// Hundred is used to turn percentages into ratios.
var Hundred = decimal.NewFromInt(100)

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds half away from zero to the smallest currency unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(CurrencyPlaces) }

// TruncateMoney drops anything below the smallest currency unit.
func TruncateMoney(d decimal.Decimal) decimal.Decimal { return d.Truncate(CurrencyPlaces) }

func MinMoney(a, b decimal.Decimal) decimal.Decimal { return decimal.Min(a, b) }
func MaxMoney(a, b decimal.Decimal) decimal.Decimal { return decimal.Max(a, b) }

// SumMoney adds a list of amounts.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// NewID returns a new random identifier with a readable prefix ("li_…").
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// =============================================================================
// ENTRY - Atomic change to an account balance
// =============================================================================

type EntryType string

const (
	EntryIssue               EntryType = "issue"                // Opens the account with its original amount
	EntryApplication         EntryType = "application"          // Recovery against a payout (negative)
	EntryApplicationReversal EntryType = "application_reversal" // Undo of an application (positive)
	EntryWriteOff            EntryType = "write_off"            // Forgiven balance (negative)
	EntryWriteOffReversal    EntryType = "write_off_reversal"   // Reinstated balance (positive)
)

type Entry struct {
	ID             EntryID
	AccountID      AccountID
	EntityID       string // Who the account belongs to
	EffectiveAt    TimePoint
	Delta          decimal.Decimal
	Type           EntryType
	ReferenceID    string  // e.g. the line item an application was made against
	Reverses       EntryID // Set on reversal entries
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt TimePoint
}

// IsReversal reports whether the entry undoes an earlier one.
func (e Entry) IsReversal() bool {
	return e.Type == EntryApplicationReversal || e.Type == EntryWriteOffReversal
}
