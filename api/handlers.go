/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the payout engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the payout, expense and payroll
  services. The workflow layer (box office, scheduling) calls these
  endpoints; the engine never calls back.

ENDPOINTS:
  Shows & people (collaborator input):
    POST   /api/shows                    Create or update a show and its totals
    GET    /api/shows                    List shows (?production_id=)
    GET    /api/shows/{id}               Get one show
    PUT    /api/shows/{id}/roster        Replace the roster
    POST   /api/people                   Create or update a person
    GET    /api/people                   List people

  Schemes:
    GET    /api/schemes                  List schemes (?production_id=)
    POST   /api/schemes                  Create scheme from JSON document
    PUT    /api/schemes/{id}             Replace scheme
    POST   /api/schemes/{id}/default     Make scheme the scope default
    GET    /api/schemes/presets          Preset catalog

  Payouts, line items, advances: see handlers_payout.go
  Expenses, payroll runs:         see handlers_finance.go

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (also the show source and payee directory)
  - Payouts/Expenses/Payroll: Domain services sharing the store
  - Schemes: JSON/YAML to SchemeInput conversion

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the domain service
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body or parameters
  - 404: Resource not found
  - 409: Conflict (already paid, claimed, illegal transition)
  - 422: Input the caller can fix (unconfirmed totals, empty roster, bad rules)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Callers pass "by" for audit only.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/factory"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Payouts  *payout.Service
	Expenses *expense.Service
	Payroll  *payroll.Batcher
	Schemes  *factory.SchemeFactory

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services onto one store.
func NewHandler(store *sqlite.Store) *Handler {
	payouts := payout.NewService(store, store)
	expenses := expense.NewService(store, store)
	payouts.Expenses = expenses

	return &Handler{
		Store:    store,
		Payouts:  payouts,
		Expenses: expenses,
		Payroll:  payroll.NewBatcher(store, payouts, store),
		Schemes:  factory.NewSchemeFactory(),
	}
}

// =============================================================================
// SHOW HANDLERS
// =============================================================================

// SaveShow creates or updates a show. When a calculated show's totals
// change, its payout is recalculated.
// POST /api/shows
func (h *Handler) SaveShow(w http.ResponseWriter, r *http.Request) {
	var req ShowRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.ProductionID == "" {
		writeError(w, http.StatusBadRequest, "id and production_id are required", nil)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = "show"
	}

	show := production.Show{
		ID:           production.ShowID(req.ID),
		ProductionID: production.ProductionID(req.ProductionID),
		Name:         req.Name,
		Date:         date,
		EventType:    eventType,
		Canceled:     req.Canceled,
		NonRevenue:   req.NonRevenue,
		Financials: production.Financials{
			Revenue:     req.Revenue,
			Expenses:    req.Expenses,
			TicketCount: req.TicketCount,
			Confirmed:   req.Confirmed,
		},
	}

	ctx := r.Context()
	before, err := h.Store.GetShow(ctx, show.ID)
	existed := err == nil
	if err != nil && !generic.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to load show", err)
		return
	}

	if err := h.Store.SaveShow(ctx, show); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save show", err)
		return
	}

	dto := toShowDTO(show)
	if existed {
		dto.Recalculated, err = h.Payouts.FinancialsChanged(ctx, show.ID, before.Financials, req.By)
		if err != nil {
			writeServiceError(w, "Show saved but recalculation failed", err)
			return
		}
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, dto)
}

// ListShows returns shows ordered by date.
// GET /api/shows
func (h *Handler) ListShows(w http.ResponseWriter, r *http.Request) {
	shows, err := h.Store.ListShows(r.Context(), production.ShowFilter{
		ProductionID: production.ProductionID(r.URL.Query().Get("production_id")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shows", err)
		return
	}

	dtos := make([]ShowDTO, len(shows))
	for i, s := range shows {
		dtos[i] = toShowDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetShow returns one show.
// GET /api/shows/{id}
func (h *Handler) GetShow(w http.ResponseWriter, r *http.Request) {
	show, err := h.Store.GetShow(r.Context(), production.ShowID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get show", err)
		return
	}
	writeJSON(w, http.StatusOK, toShowDTO(show))
}

// SetRoster replaces a show's roster in billing order and recalculates
// an awaiting payout whose line items no longer match.
// PUT /api/shows/{id}/roster
func (h *Handler) SetRoster(w http.ResponseWriter, r *http.Request) {
	showID := production.ShowID(chi.URLParam(r, "id"))
	var req RosterRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetShow(ctx, showID); err != nil {
		writeServiceError(w, "Failed to get show", err)
		return
	}

	roster, err := parseRoster(req.Entries)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid roster", err)
		return
	}

	if err := h.Store.SetRoster(ctx, showID, roster); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save roster", err)
		return
	}
	recalculated, err := h.Payouts.RosterUpdated(ctx, showID, req.By)
	if err != nil {
		writeServiceError(w, "Roster saved but recalculation failed", err)
		return
	}

	dto := RosterDTO{ShowID: string(showID), Entries: make([]RosterEntryDTO, len(roster)), Recalculated: recalculated}
	for i, e := range roster {
		dto.Entries[i] = toRosterEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// parseRoster numbers entries in request order, starting at 1.
func parseRoster(entries []RosterEntryDTO) ([]production.RosterEntry, error) {
	roster := make([]production.RosterEntry, len(entries))
	for i, e := range entries {
		payee, err := generic.ParsePayeeRef(e.Payee)
		if err != nil {
			return nil, err
		}
		if payee.IsZero() && !e.IsGuest {
			return nil, fmt.Errorf("entry %d needs a payee or is_guest", i+1)
		}
		roster[i] = production.RosterEntry{
			Payee:              payee,
			Position:           i + 1,
			IsGuest:            e.IsGuest,
			GuestName:          e.GuestName,
			GuestPaymentHandle: e.GuestPaymentHandle,
		}
	}
	return roster, nil
}

// =============================================================================
// PEOPLE HANDLERS
// =============================================================================

// SavePerson creates or updates a person payee.
// POST /api/people
func (h *Handler) SavePerson(w http.ResponseWriter, r *http.Request) {
	var req PersonDTO
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := production.Person{ID: req.ID, Name: req.Name, Email: req.Email}
	for _, hd := range req.Handles {
		p.Handles = append(p.Handles, generic.PaymentHandle{Method: hd.Method, Handle: hd.Handle})
	}
	if err := h.Store.SavePerson(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save person", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListPeople returns all people.
// GET /api/people
func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.Store.ListPeople(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list people", err)
		return
	}

	dtos := make([]PersonDTO, len(people))
	for i, p := range people {
		dtos[i] = PersonDTO{ID: p.ID, Name: p.Name, Email: p.Email}
		for _, hd := range p.Handles {
			dtos[i].Handles = append(dtos[i].Handles, PaymentHandleDTO{Method: hd.Method, Handle: hd.Handle})
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SCHEME HANDLERS
// =============================================================================

// ListSchemes returns the schemes usable by a production, its own first.
// GET /api/schemes
func (h *Handler) ListSchemes(w http.ResponseWriter, r *http.Request) {
	schemes, err := h.Payouts.ListSchemes(r.Context(), production.ProductionID(r.URL.Query().Get("production_id")))
	if err != nil {
		writeServiceError(w, "Failed to list schemes", err)
		return
	}

	dtos := make([]SchemeDTO, len(schemes))
	for i, s := range schemes {
		dtos[i] = toSchemeDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateScheme creates a scheme from a JSON document.
// POST /api/schemes
func (h *Handler) CreateScheme(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	in, err := h.Schemes.ParseScheme(body)
	if err != nil {
		writeServiceError(w, "Invalid scheme", err)
		return
	}

	scheme, err := h.Payouts.CreateScheme(r.Context(), in)
	if err != nil {
		writeServiceError(w, "Failed to create scheme", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchemeDTO(scheme))
}

// UpdateScheme replaces a scheme's document.
// PUT /api/schemes/{id}
func (h *Handler) UpdateScheme(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	in, err := h.Schemes.ParseScheme(body)
	if err != nil {
		writeServiceError(w, "Invalid scheme", err)
		return
	}

	scheme, err := h.Payouts.UpdateScheme(r.Context(), payout.SchemeID(chi.URLParam(r, "id")), in)
	if err != nil {
		writeServiceError(w, "Failed to update scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemeDTO(scheme))
}

// SetDefaultScheme makes a scheme the default of its scope.
// POST /api/schemes/{id}/default
func (h *Handler) SetDefaultScheme(w http.ResponseWriter, r *http.Request) {
	scheme, err := h.Payouts.SetDefaultScheme(r.Context(), payout.SchemeID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to set default scheme", err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemeDTO(scheme))
}

// ListPresets returns the preset catalog.
// GET /api/schemes/presets
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.Schemes.Presets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load presets", err)
		return
	}

	dtos := make([]PresetDTO, len(presets))
	for i, p := range presets {
		rules, _ := json.Marshal(p.Rules)
		dtos[i] = PresetDTO{Key: p.Key, Name: p.Name, Description: p.Description, Rules: rules}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to a status and a stable code.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case generic.IsNotFound(err):
		status = http.StatusNotFound
	case generic.IsConflict(err):
		status = http.StatusConflict
	case generic.IsClientError(err):
		status = http.StatusUnprocessableEntity
	}

	resp := ErrorResponse{Error: message, Code: errorCode(err), Details: err.Error()}
	var re *generic.RulesError
	if errors.As(err, &re) && re.Path != "" {
		resp.Details = map[string]string{"path": re.Path, "reason": re.Reason}
	}
	writeJSON(w, status, resp)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{generic.ErrInsufficientData, "insufficient_data"},
	{generic.ErrNoPerformers, "no_performers"},
	{generic.ErrNoEligibleShows, "no_eligible_shows"},
	{generic.ErrInvalidRulesDocument, "invalid_rules_document"},
	{generic.ErrAlreadyPaidConflict, "already_paid"},
	{generic.ErrClaimedByPayroll, "claimed_by_payroll"},
	{generic.ErrInvalidTransition, "invalid_transition"},
	{generic.ErrAdvanceSettled, "advance_settled"},
	{generic.ErrOverridesExceedTotal, "overrides_exceed_total"},
	{generic.ErrNotFound, "not_found"},
	{generic.ErrInvalidAmount, "invalid_amount"},
	{generic.ErrInvalidPeriod, "invalid_period"},
	{generic.ErrDuplicateIdempotencyKey, "duplicate"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parsePayee(w http.ResponseWriter, s string) (generic.PayeeRef, bool) {
	ref, err := generic.ParsePayeeRef(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payee", err)
		return generic.PayeeRef{}, false
	}
	return ref, true
}
