/*
errors.go - Centralized error types for the payout engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Calculation errors - The calculation did not run (nothing changed)
  2. Conflict errors - A paid or claimed record would be mutated
  3. Ledger/store errors - Persistence failures

  None of them is fatal. Every mutation is atomic, so the worst outcome of
  any error is "did not run", never "ran with wrong numbers".

USAGE:
  if errors.Is(err, generic.ErrAlreadyPaidConflict) {
      // unmark first, then retry
  }

SEE ALSO:
  - payout/service.go: Calculation and state machine errors
  - expense/service.go: Spreader errors
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientData is returned when a show's financials are not confirmed.
	ErrInsufficientData = errors.New("insufficient data: financials not confirmed")

	// ErrNoPerformers is returned when a show's roster is empty.
	// Recoverable by closing the show as non-paying.
	ErrNoPerformers = errors.New("no performers on roster")

	// ErrNoEligibleShows is returned when an expense's filters match no show.
	ErrNoEligibleShows = errors.New("no eligible shows")

	// ErrInvalidRulesDocument is returned for malformed payout rules.
	ErrInvalidRulesDocument = errors.New("invalid rules document")

	// ErrAlreadyPaidConflict is returned when mutating a paid line item.
	ErrAlreadyPaidConflict = errors.New("line item already paid")

	// ErrClaimedByPayroll is returned when a line item belongs to a payroll run.
	ErrClaimedByPayroll = errors.New("line item claimed by payroll run")

	// ErrInvalidTransition is returned for illegal status changes.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAdvanceSettled is returned when writing off an advance with nothing left.
	ErrAdvanceSettled = errors.New("advance already settled")

	// ErrOverridesExceedTotal is returned when pinned allocations cannot
	// reconcile with an expense total.
	ErrOverridesExceedTotal = errors.New("overridden allocations do not reconcile with total")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned for negative or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RulesError points at the offending part of a rules document.
type RulesError struct {
	Path   string // e.g. "allocation[2].type"
	Reason string
}

func (e *RulesError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid rules document: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rules document: %s: %s", e.Path, e.Reason)
}

func (e *RulesError) Unwrap() error {
	return ErrInvalidRulesDocument
}

// InsufficientDataError names the show whose financials are missing.
type InsufficientDataError struct {
	ShowID string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for show %s: %s", e.ShowID, e.Reason)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// AlreadyPaidError identifies the paid line item that blocked a mutation.
type AlreadyPaidError struct {
	LineItemID string
	PaidAt     time.Time
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("line item %s already paid at %s; unmark it first",
		e.LineItemID, e.PaidAt.Format(time.RFC3339))
}

func (e *AlreadyPaidError) Unwrap() error {
	return ErrAlreadyPaidConflict
}

// ClaimedError identifies the payroll run holding a line item.
type ClaimedError struct {
	LineItemID   string
	PayrollRunID string
}

func (e *ClaimedError) Error() string {
	return fmt.Sprintf("line item %s is claimed by payroll run %s", e.LineItemID, e.PayrollRunID)
}

func (e *ClaimedError) Unwrap() error {
	return ErrClaimedByPayroll
}

// TransitionError describes an illegal state change.
type TransitionError struct {
	Subject string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Subject, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to input the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrNoPerformers) ||
		errors.Is(err, ErrNoEligibleShows) ||
		errors.Is(err, ErrInvalidRulesDocument) ||
		errors.Is(err, ErrOverridesExceedTotal) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaidConflict) ||
		errors.Is(err, ErrClaimedByPayroll) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAdvanceSettled) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
