package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive date window
// =============================================================================

// Period is an inclusive [Start, End] window of calendar days.
//
// Used for:
//   - Payroll runs (which shows' line items a run may absorb)
//   - Expense spreading (which shows fall inside a spread window)
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod returns the window [start, end] or ErrInvalidPeriod.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate rejects windows that end before they start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return DateOf(t.Time).AfterOrEqual(p.Start) && DateOf(t.Time).BeforeOrEqual(p.End)
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthsFrom returns the window covering n months starting on start:
// [start, start+n months - 1 day].
func MonthsFrom(start TimePoint, n int) Period {
	start = DateOf(start.Time)
	return Period{Start: start, End: start.AddMonths(n).AddDays(-1)}
}
