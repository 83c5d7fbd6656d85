/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures exchanged with the workflow layer. Domain
  types stay free of JSON concerns; this file maps them to a stable
  contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts go out as fixed two-place decimal strings ("270.00") and come
  in as strings or numbers (decimal.Decimal accepts both). Calendar
  dates are "YYYY-MM-DD"; timestamps are RFC 3339.

VALIDATION:
  Validation is done in handlers and services, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/scheme.go: SchemeJSON document
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// SHOWS & PEOPLE
// =============================================================================

// ShowRequest creates or updates a show and its totals.
type ShowRequest struct {
	ID           string          `json:"id"`
	ProductionID string          `json:"production_id"`
	Name         string          `json:"name"`
	Date         string          `json:"date"`
	EventType    string          `json:"event_type,omitempty"`
	Canceled     bool            `json:"canceled,omitempty"`
	NonRevenue   bool            `json:"non_revenue,omitempty"`
	Revenue      decimal.Decimal `json:"revenue"`
	Expenses     decimal.Decimal `json:"expenses"`
	TicketCount  int             `json:"ticket_count"`
	Confirmed    bool            `json:"confirmed"`
	By           string          `json:"by,omitempty"`
}

type ShowDTO struct {
	ID           string `json:"id"`
	ProductionID string `json:"production_id"`
	Name         string `json:"name"`
	Date         string `json:"date"`
	EventType    string `json:"event_type"`
	Canceled     bool   `json:"canceled"`
	NonRevenue   bool   `json:"non_revenue"`
	Revenue      string `json:"revenue"`
	Expenses     string `json:"expenses"`
	TicketCount  int    `json:"ticket_count"`
	Confirmed    bool   `json:"confirmed"`
	Recalculated bool   `json:"recalculated,omitempty"`
}

type RosterEntryDTO struct {
	Payee              string `json:"payee,omitempty"`
	IsGuest            bool   `json:"is_guest,omitempty"`
	GuestName          string `json:"guest_name,omitempty"`
	GuestPaymentHandle string `json:"guest_payment_handle,omitempty"`
}

type RosterRequest struct {
	Entries []RosterEntryDTO `json:"entries"`
	By      string           `json:"by,omitempty"`
}

type RosterDTO struct {
	ShowID       string           `json:"show_id"`
	Entries      []RosterEntryDTO `json:"entries"`
	Recalculated bool             `json:"recalculated"`
}

type PaymentHandleDTO struct {
	Method string `json:"method"`
	Handle string `json:"handle"`
}

type PersonDTO struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Email   string             `json:"email,omitempty"`
	Handles []PaymentHandleDTO `json:"handles,omitempty"`
}

// =============================================================================
// SCHEMES
// =============================================================================

type SchemeDTO struct {
	ID           string          `json:"id"`
	ProductionID string          `json:"production_id,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	IsDefault    bool            `json:"is_default"`
	Shared       bool            `json:"shared"`
	Rules        json.RawMessage `json:"rules"`
	CreatedAt    string          `json:"created_at"`
}

type PresetDTO struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Rules       json.RawMessage `json:"rules"`
}

type ApplySchemeRequest struct {
	SchemeID         string `json:"scheme_id"`
	PropagateForward bool   `json:"propagate_forward"`
	By               string `json:"by,omitempty"`
}

type SchemeChangeDTO struct {
	Pinned       []string          `json:"pinned"`
	Recalculated []string          `json:"recalculated"`
	Skipped      map[string]string `json:"skipped,omitempty"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type BreakdownLineDTO struct {
	Step     string `json:"step"`
	Label    string `json:"label"`
	Amount   string `json:"amount"`
	NetAfter string `json:"net_after"`
}

type LineItemDTO struct {
	ID                 string                    `json:"id"`
	ShowID             string                    `json:"show_id"`
	Payee              string                    `json:"payee,omitempty"`
	Source             string                    `json:"source"`
	Amount             string                    `json:"amount"`
	AdvanceDeduction   string                    `json:"advance_deduction"`
	Net                string                    `json:"net"`
	PaymentState       string                    `json:"payment_state"`
	PaidAt             string                    `json:"paid_at,omitempty"`
	PaidBy             string                    `json:"paid_by,omitempty"`
	PaymentMethod      string                    `json:"payment_method,omitempty"`
	PaymentNotes       string                    `json:"payment_notes,omitempty"`
	PayrollRunID       string                    `json:"payroll_run_id,omitempty"`
	IsGuest            bool                      `json:"is_guest,omitempty"`
	GuestName          string                    `json:"guest_name,omitempty"`
	GuestPaymentHandle string                    `json:"guest_payment_handle,omitempty"`
	Position           int                       `json:"position"`
	Details            payout.CalculationDetails `json:"calculation_details"`
}

type PayoutDTO struct {
	ShowID          string        `json:"show_id"`
	ProductionID    string        `json:"production_id"`
	Status          string        `json:"status"`
	SchemeID        string        `json:"scheme_id,omitempty"`
	HasOverride     bool          `json:"has_override_rules"`
	TotalPayout     string        `json:"total_payout"`
	CalculatedAt    string        `json:"calculated_at,omitempty"`
	NonPaying       bool          `json:"non_paying,omitempty"`
	NonPayingReason string        `json:"non_paying_reason,omitempty"`
	ClosedBy        string        `json:"closed_by,omitempty"`
	LineItems       []LineItemDTO `json:"line_items"`
	MissingCast     []string      `json:"missing_cast,omitempty"`
}

type ShareDTO struct {
	Payee     string                    `json:"payee,omitempty"`
	GuestName string                    `json:"guest_name,omitempty"`
	Amount    string                    `json:"amount"`
	Details   payout.CalculationDetails `json:"calculation_details"`
}

type PreviewDTO struct {
	Revenue   string             `json:"revenue"`
	Pool      string             `json:"pool"`
	Total     string             `json:"total"`
	Breakdown []BreakdownLineDTO `json:"breakdown"`
	Shares    []ShareDTO         `json:"shares"`
	Warnings  []string           `json:"warnings,omitempty"`
}

type PreviewRequest struct {
	Rules       json.RawMessage  `json:"rules,omitempty"`
	Revenue     *decimal.Decimal `json:"revenue,omitempty"`
	Expenses    *decimal.Decimal `json:"expenses,omitempty"`
	TicketCount *int             `json:"ticket_count,omitempty"`
	Roster      []RosterEntryDTO `json:"roster,omitempty"`
}

type ActorRequest struct {
	By string `json:"by,omitempty"`
}

type CloseRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by,omitempty"`
}

type OverrideRulesRequest struct {
	Rules json.RawMessage `json:"rules"` // null clears the override
}

type AddLineItemRequest struct {
	Payee              string          `json:"payee,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Reason             string          `json:"reason,omitempty"`
	IsGuest            bool            `json:"is_guest,omitempty"`
	GuestName          string          `json:"guest_name,omitempty"`
	GuestPaymentHandle string          `json:"guest_payment_handle,omitempty"`
	By                 string          `json:"by,omitempty"`
}

type AdjustLineItemRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	By     string          `json:"by,omitempty"`
}

type MissingCastRequest struct {
	Amount decimal.Decimal `json:"amount"`
	By     string          `json:"by,omitempty"`
}

type OfflinePaidRequest struct {
	LineItemIDs []string `json:"line_item_ids"`
	Notes       string   `json:"notes,omitempty"`
	By          string   `json:"by,omitempty"`
}

type MarkPaidRequest struct {
	Method string `json:"method"`
	Notes  string `json:"notes,omitempty"`
	By     string `json:"by,omitempty"`
}

// =============================================================================
// ADVANCES
// =============================================================================

type AdvanceRequest struct {
	Payee        string          `json:"payee"`
	ProductionID string          `json:"production_id,omitempty"`
	ShowID       string          `json:"show_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Notes        string          `json:"notes,omitempty"`
	IssuedBy     string          `json:"issued_by,omitempty"`
}

type AdvanceDTO struct {
	ID                 string `json:"id"`
	Payee              string `json:"payee"`
	ProductionID       string `json:"production_id,omitempty"`
	ShowID             string `json:"show_id,omitempty"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	OriginalAmount     string `json:"original_amount"`
	RemainingBalance   string `json:"remaining_balance"`
	Recovered          string `json:"recovered"`
	IssuedBy           string `json:"issued_by,omitempty"`
	IssuedAt           string `json:"issued_at"`
	Notes              string `json:"notes,omitempty"`
	DisbursedAt        string `json:"disbursed_at,omitempty"`
	DisbursementMethod string `json:"disbursement_method,omitempty"`
	WrittenOffAt       string `json:"written_off_at,omitempty"`
	WriteOffNotes      string `json:"write_off_notes,omitempty"`
}

type WriteOffRequest struct {
	Notes string `json:"notes"`
	By    string `json:"by,omitempty"`
}

type WaiverRequest struct {
	Payee  string `json:"payee"`
	Reason string `json:"reason,omitempty"`
	By     string `json:"by,omitempty"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Delta       string `json:"delta"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	EffectiveAt string `json:"effective_at"`
	CreatedBy   string `json:"created_by,omitempty"`
}

type ShowAdvancesDTO struct {
	ShowID      string       `json:"show_id"`
	Advances    []AdvanceDTO `json:"advances"`
	Waivers     []string     `json:"waived_payees"`
	Issued      string       `json:"issued"`
	Outstanding string       `json:"outstanding"`
	Recovered   string       `json:"recovered"`
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseRequest struct {
	ProductionID      string          `json:"production_id"`
	Description       string          `json:"description"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PurchaseDate      string          `json:"purchase_date,omitempty"`
	SpreadMethod      string          `json:"spread_method,omitempty"`
	SpreadMonths      int             `json:"spread_months,omitempty"`
	SpreadEventCount  int             `json:"spread_event_count,omitempty"`
	SpreadStart       string          `json:"spread_start,omitempty"`
	SpreadEnd         string          `json:"spread_end,omitempty"`
	ExcludeNonRevenue bool            `json:"exclude_non_revenue,omitempty"`
	ExcludeCanceled   bool            `json:"exclude_canceled,omitempty"`
	EventTypeFilter   []string        `json:"event_type_filter,omitempty"`
	SelectedShowIDs   []string        `json:"selected_show_ids,omitempty"`
	CreatedBy         string          `json:"created_by,omitempty"`
}

type AllocationDTO struct {
	ShowID          string `json:"show_id"`
	AllocatedAmount string `json:"allocated_amount"`
	Overridden      bool   `json:"overridden"`
	OverrideReason  string `json:"override_reason,omitempty"`
}

type ExpenseDTO struct {
	ID           string          `json:"id"`
	ProductionID string          `json:"production_id"`
	Description  string          `json:"description"`
	TotalAmount  string          `json:"total_amount"`
	SpreadMethod string          `json:"spread_method,omitempty"`
	Active       bool            `json:"active"`
	Allocations  []AllocationDTO `json:"allocations"`
}

type AllocationOverrideRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type PayrollRunRequest struct {
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	ProductionID string `json:"production_id,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
}

type PayrollLineItemDTO struct {
	Payee       string   `json:"payee"`
	Gross       string   `json:"gross"`
	Deductions  string   `json:"deductions"`
	Net         string   `json:"net"`
	ShowCount   int      `json:"show_count"`
	LineItemIDs []string `json:"line_item_ids"`
}

type PayrollRunDTO struct {
	ID              string               `json:"id"`
	ProductionID    string               `json:"production_id,omitempty"`
	PeriodStart     string               `json:"period_start"`
	PeriodEnd       string               `json:"period_end"`
	Status          string               `json:"status"`
	TotalGross      string               `json:"total_gross"`
	TotalDeductions string               `json:"total_deductions"`
	TotalNet        string               `json:"total_net"`
	PayeeCount      int                  `json:"payee_count"`
	ItemCount       int                  `json:"item_count"`
	Notes           string               `json:"notes,omitempty"`
	CompletedAt     string               `json:"completed_at,omitempty"`
	LineItems       []PayrollLineItemDTO `json:"line_items,omitempty"`
}

type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(generic.CurrencyPlaces) }

func timestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toShowDTO(s production.Show) ShowDTO {
	return ShowDTO{
		ID:           string(s.ID),
		ProductionID: string(s.ProductionID),
		Name:         s.Name,
		Date:         s.Date.String(),
		EventType:    s.EventType,
		Canceled:     s.Canceled,
		NonRevenue:   s.NonRevenue,
		Revenue:      money(s.Financials.Revenue),
		Expenses:     money(s.Financials.Expenses),
		TicketCount:  s.Financials.TicketCount,
		Confirmed:    s.Financials.Confirmed,
	}
}

func toRosterEntryDTO(e production.RosterEntry) RosterEntryDTO {
	return RosterEntryDTO{
		Payee:              e.Payee.String(),
		IsGuest:            e.IsGuest,
		GuestName:          e.GuestName,
		GuestPaymentHandle: e.GuestPaymentHandle,
	}
}

func toSchemeDTO(s payout.Scheme) SchemeDTO {
	rules, _ := json.Marshal(s.Rules)
	return SchemeDTO{
		ID:           string(s.ID),
		ProductionID: string(s.ProductionID),
		Name:         s.Name,
		Description:  s.Description,
		IsDefault:    s.IsDefault,
		Shared:       s.IsShared(),
		Rules:        rules,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toBreakdownDTOs(lines []payout.BreakdownLine) []BreakdownLineDTO {
	dtos := make([]BreakdownLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = BreakdownLineDTO{Step: l.Step, Label: l.Label, Amount: money(l.Amount), NetAfter: money(l.NetAfter)}
	}
	return dtos
}

func toLineItemDTO(li payout.LineItem) LineItemDTO {
	return LineItemDTO{
		ID:                 string(li.ID),
		ShowID:             string(li.ShowID),
		Payee:              li.Payee.String(),
		Source:             string(li.Source),
		Amount:             money(li.Amount),
		AdvanceDeduction:   money(li.AdvanceDeduction),
		Net:                money(li.Net()),
		PaymentState:       string(li.PaymentState()),
		PaidAt:             timestamp(li.PaidAt),
		PaidBy:             li.PaidBy,
		PaymentMethod:      li.PaymentMethod,
		PaymentNotes:       li.PaymentNotes,
		PayrollRunID:       li.PayrollRunID,
		IsGuest:            li.IsGuest,
		GuestName:          li.GuestName,
		GuestPaymentHandle: li.GuestPaymentHandle,
		Position:           li.Position,
		Details:            li.CalculationDetails,
	}
}

func toLineItemDTOs(items []payout.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, li := range items {
		dtos[i] = toLineItemDTO(li)
	}
	return dtos
}

func toPayoutDTO(p payout.ShowPayout, items []payout.LineItem) PayoutDTO {
	return PayoutDTO{
		ShowID:          string(p.ShowID),
		ProductionID:    string(p.ProductionID),
		Status:          string(p.Status),
		SchemeID:        string(p.SchemeID),
		HasOverride:     p.OverrideRules != nil,
		TotalPayout:     money(p.TotalPayout),
		CalculatedAt:    timestamp(p.CalculatedAt),
		NonPaying:       p.NonPaying,
		NonPayingReason: p.NonPayingReason,
		ClosedBy:        p.ClosedBy,
		LineItems:       toLineItemDTOs(items),
	}
}

func toPreviewDTO(res payout.Result) PreviewDTO {
	shares := make([]ShareDTO, len(res.Shares))
	for i, s := range res.Shares {
		shares[i] = ShareDTO{
			Payee:     s.Entry.Payee.String(),
			GuestName: s.Entry.GuestName,
			Amount:    money(s.Amount),
			Details:   s.Details,
		}
	}
	return PreviewDTO{
		Revenue:   money(res.Revenue),
		Pool:      money(res.Pool),
		Total:     money(res.Total),
		Breakdown: toBreakdownDTOs(res.Breakdown),
		Shares:    shares,
		Warnings:  res.Warnings,
	}
}

func toAdvanceDTO(v payout.AdvanceView) AdvanceDTO {
	return AdvanceDTO{
		ID:                 string(v.ID),
		Payee:              v.Payee.String(),
		ProductionID:       string(v.ProductionID),
		ShowID:             string(v.ShowID),
		Type:               string(v.Type),
		Status:             string(v.Status()),
		OriginalAmount:     money(v.OriginalAmount),
		RemainingBalance:   money(v.RemainingBalance()),
		Recovered:          money(v.OriginalAmount.Sub(v.RemainingBalance())),
		IssuedBy:           v.IssuedBy,
		IssuedAt:           v.IssuedAt.UTC().Format(time.RFC3339),
		Notes:              v.Notes,
		DisbursedAt:        timestamp(v.DisbursedAt),
		DisbursementMethod: v.DisbursementMethod,
		WrittenOffAt:       timestamp(v.WrittenOffAt),
		WriteOffNotes:      v.WriteOffNotes,
	}
}

func toEntryDTO(e generic.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		Type:        string(e.Type),
		Delta:       money(e.Delta),
		ReferenceID: e.ReferenceID,
		Reason:      e.Reason,
		EffectiveAt: e.EffectiveAt.Time.UTC().Format(time.RFC3339),
		CreatedBy:   e.CreatedBy,
	}
}

func toExpenseDTO(e expense.Expense, allocations []expense.Allocation) ExpenseDTO {
	dto := ExpenseDTO{
		ID:           string(e.ID),
		ProductionID: string(e.ProductionID),
		Description:  e.Description,
		TotalAmount:  money(e.TotalAmount),
		SpreadMethod: string(e.SpreadMethod),
		Active:       e.Active,
		Allocations:  make([]AllocationDTO, len(allocations)),
	}
	for i, a := range allocations {
		dto.Allocations[i] = AllocationDTO{
			ShowID:          string(a.ShowID),
			AllocatedAmount: money(a.AllocatedAmount),
			Overridden:      a.Overridden,
			OverrideReason:  a.OverrideReason,
		}
	}
	return dto
}

func toPayrollRunDTO(r payroll.Run, items []payroll.LineItem) PayrollRunDTO {
	dto := PayrollRunDTO{
		ID:              string(r.ID),
		ProductionID:    string(r.ProductionID),
		PeriodStart:     r.PeriodStart.String(),
		PeriodEnd:       r.PeriodEnd.String(),
		Status:          string(r.Status),
		TotalGross:      money(r.TotalGross),
		TotalDeductions: money(r.TotalDeductions),
		TotalNet:        money(r.TotalNet),
		PayeeCount:      r.PayeeCount,
		ItemCount:       r.ItemCount,
		Notes:           r.Notes,
		CompletedAt:     timestamp(r.CompletedAt),
	}
	for _, it := range items {
		ids := make([]string, len(it.LineItemIDs))
		for i, id := range it.LineItemIDs {
			ids[i] = string(id)
		}
		dto.LineItems = append(dto.LineItems, PayrollLineItemDTO{
			Payee:       it.Payee.String(),
			Gross:       money(it.Gross),
			Deductions:  money(it.Deductions),
			Net:         money(it.Net),
			ShowCount:   it.ShowCount,
			LineItemIDs: ids,
		})
	}
	return dto
}
