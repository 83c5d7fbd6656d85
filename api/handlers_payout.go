package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
)

// ENDPOINTS:
//   Payouts:
//     GET    /api/shows/{id}/payout                  Payout, line items, missing cast
//     POST   /api/shows/{id}/payout/calculate        Calculate and persist
//     POST   /api/shows/{id}/payout/preview          Dry run with optional rules/totals
//     POST   /api/shows/{id}/payout/close            Close as non-paying
//     POST   /api/shows/{id}/payout/reopen           Back to awaiting payout
//     POST   /api/shows/{id}/payout/scheme           Pin a scheme, optionally forward
//     PUT    /api/shows/{id}/payout/rules            Set or clear override rules
//     POST   /api/shows/{id}/payout/line-items       Add a manual line item
//     POST   /api/shows/{id}/payout/missing-cast     Pay roster entries without items
//     POST   /api/shows/{id}/payout/offline-paid     Bulk offline payment
//     GET    /api/shows/{id}/advances                Advance position of the show
//     POST   /api/shows/{id}/waivers                 Waive an advance for a payee
//
//   Line items:
//     PUT    /api/line-items/{id}                    Adjust amount
//     DELETE /api/line-items/{id}                    Remove
//     POST   /api/line-items/{id}/paid               Mark paid
//     DELETE /api/line-items/{id}/paid               Unmark paid
//
//   Advances:
//     GET    /api/advances                           List (?payee=&production_id=&show_id=)
//     POST   /api/advances                           Issue
//     GET    /api/advances/{id}                      Get with balance
//     GET    /api/advances/{id}/history              Ledger entries
//     POST   /api/advances/{id}/write-off            Write off remaining balance
//     DELETE /api/advances/{id}/write-off            Reinstate
//     POST   /api/advances/{id}/paid                 Record disbursement
//     DELETE /api/advances/{id}/paid                 Undo disbursement

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// GetPayout returns the show's payout, creating a draft on first access.
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	showID := production.ShowID(chi.URLParam(r, "id"))
	ctx := r.Context()

	p, err := h.Payouts.EnsurePayout(ctx, showID)
	if err != nil {
		writeServiceError(w, "Failed to get payout", err)
		return
	}
	h.writePayout(w, r, http.StatusOK, p)
}

// CalculatePayout runs the scheme against the show's totals and roster.
func (h *Handler) CalculatePayout(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Payouts.Calculate(r.Context(), production.ShowID(chi.URLParam(r, "id")), req.By)
	if err != nil {
		writeServiceError(w, "Failed to calculate payout", err)
		return
	}
	h.writePayout(w, r, http.StatusOK, p)
}

// PreviewPayout evaluates rules without persisting. Totals in the body
// replace the stored ones and count as confirmed; a roster in the body
// replaces the stored roster.
func (h *Handler) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	showID := production.ShowID(chi.URLParam(r, "id"))
	var req PreviewRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	var opts payout.PreviewOptions
	if len(req.Rules) > 0 && string(req.Rules) != "null" {
		rules, err := payout.ParseRules(req.Rules)
		if err != nil {
			writeServiceError(w, "Invalid rules", err)
			return
		}
		opts.Rules = &rules
	}

	if req.Revenue != nil || req.Expenses != nil || req.TicketCount != nil {
		show, err := h.Store.GetShow(ctx, showID)
		if err != nil {
			writeServiceError(w, "Failed to get show", err)
			return
		}
		fin := show.Financials
		if req.Revenue != nil {
			fin.Revenue = *req.Revenue
		}
		if req.Expenses != nil {
			fin.Expenses = *req.Expenses
		}
		if req.TicketCount != nil {
			fin.TicketCount = *req.TicketCount
		}
		fin.Confirmed = true
		opts.Financials = &fin
	}

	if req.Roster != nil {
		roster, err := parseRoster(req.Roster)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid roster", err)
			return
		}
		opts.Roster = roster
	}

	res, err := h.Payouts.Preview(ctx, showID, opts)
	if err != nil {
		writeServiceError(w, "Failed to preview payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(res))
}

// ClosePayout closes a show as non-paying.
func (h *Handler) ClosePayout(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Payouts.CloseAsNonPaying(r.Context(), production.ShowID(chi.URLParam(r, "id")), req.Reason, req.By)
	if err != nil {
		writeServiceError(w, "Failed to close payout", err)
		return
	}
	h.writePayout(w, r, http.StatusOK, p)
}

func (h *Handler) ReopenPayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payouts.Reopen(r.Context(), production.ShowID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to reopen payout", err)
		return
	}
	h.writePayout(w, r, http.StatusOK, p)
}

// ApplyScheme pins a scheme on the show, optionally moving later shows along.
func (h *Handler) ApplyScheme(w http.ResponseWriter, r *http.Request) {
	var req ApplySchemeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SchemeID == "" {
		writeError(w, http.StatusBadRequest, "scheme_id is required", nil)
		return
	}

	change, err := h.Payouts.ApplySchemeChange(r.Context(), production.ShowID(chi.URLParam(r, "id")),
		payout.SchemeID(req.SchemeID), req.PropagateForward, req.By)
	if err != nil {
		writeServiceError(w, "Failed to apply scheme", err)
		return
	}

	dto := SchemeChangeDTO{Pinned: []string{}, Recalculated: []string{}}
	for _, id := range change.Pinned {
		dto.Pinned = append(dto.Pinned, string(id))
	}
	for _, id := range change.Recalculated {
		dto.Recalculated = append(dto.Recalculated, string(id))
	}
	if len(change.Skipped) > 0 {
		dto.Skipped = make(map[string]string, len(change.Skipped))
		for id, reason := range change.Skipped {
			dto.Skipped[string(id)] = reason
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetOverrideRules sets show-specific rules; a null document clears them.
func (h *Handler) SetOverrideRules(w http.ResponseWriter, r *http.Request) {
	var req OverrideRulesRequest
	if !decode(w, r, &req) {
		return
	}

	var rules *payout.Rules
	if len(req.Rules) > 0 && string(req.Rules) != "null" {
		parsed, err := payout.ParseRules(req.Rules)
		if err != nil {
			writeServiceError(w, "Invalid rules", err)
			return
		}
		rules = &parsed
	}

	p, err := h.Payouts.SetOverrideRules(r.Context(), production.ShowID(chi.URLParam(r, "id")), rules)
	if err != nil {
		writeServiceError(w, "Failed to set override rules", err)
		return
	}
	h.writePayout(w, r, http.StatusOK, p)
}

// AddLineItem adds a manual line item.
func (h *Handler) AddLineItem(w http.ResponseWriter, r *http.Request) {
	var req AddLineItemRequest
	if !decode(w, r, &req) {
		return
	}
	payee, ok := parsePayee(w, req.Payee)
	if !ok {
		return
	}

	li, err := h.Payouts.AddLineItem(r.Context(), production.ShowID(chi.URLParam(r, "id")), payout.NewLineItem{
		Payee:              payee,
		Amount:             req.Amount,
		Reason:             req.Reason,
		IsGuest:            req.IsGuest,
		GuestName:          req.GuestName,
		GuestPaymentHandle: req.GuestPaymentHandle,
	}, req.By)
	if err != nil {
		writeServiceError(w, "Failed to add line item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(li))
}

// AddMissingCast pays every roster entry that has no line item yet.
func (h *Handler) AddMissingCast(w http.ResponseWriter, r *http.Request) {
	var req MissingCastRequest
	if !decode(w, r, &req) {
		return
	}

	items, err := h.Payouts.AddMissingCast(r.Context(), production.ShowID(chi.URLParam(r, "id")), req.Amount, req.By)
	if err != nil {
		writeServiceError(w, "Failed to add missing cast", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTOs(items))
}

// MarkOfflinePaid records payment outside the system for several items.
func (h *Handler) MarkOfflinePaid(w http.ResponseWriter, r *http.Request) {
	var req OfflinePaidRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.LineItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "line_item_ids is required", nil)
		return
	}

	ids := make([]payout.LineItemID, len(req.LineItemIDs))
	for i, id := range req.LineItemIDs {
		ids[i] = payout.LineItemID(id)
	}
	items, err := h.Payouts.MarkAsOfflinePaid(r.Context(), ids, req.Notes, req.By)
	if err != nil {
		writeServiceError(w, "Failed to mark offline paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(items))
}

// writePayout renders the payout with its line items and the roster
// entries still missing one.
func (h *Handler) writePayout(w http.ResponseWriter, r *http.Request, status int, p payout.ShowPayout) {
	ctx := r.Context()
	items, err := h.Payouts.LineItems(ctx, p.ShowID)
	if err != nil {
		writeServiceError(w, "Failed to list line items", err)
		return
	}
	roster, err := h.Store.Roster(ctx, p.ShowID)
	if err != nil {
		writeServiceError(w, "Failed to load roster", err)
		return
	}

	dto := toPayoutDTO(p, items)
	if p.Status != payout.StatusDraft && !p.NonPaying {
		for _, e := range payout.MissingCast(items, roster) {
			dto.MissingCast = append(dto.MissingCast, e.Key())
		}
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

// MarkLineItemPaid records a manual payment.
func (h *Handler) MarkLineItemPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if !decode(w, r, &req) {
		return
	}

	li, err := h.Payouts.MarkAsPaid(r.Context(), payout.LineItemID(chi.URLParam(r, "id")), payout.Payment{
		Method: req.Method,
		Notes:  req.Notes,
		By:     req.By,
	})
	if err != nil {
		writeServiceError(w, "Failed to mark line item paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(li))
}

// UnmarkLineItemPaid reverts a manual payment. Items claimed by a
// payroll run are refused.
func (h *Handler) UnmarkLineItemPaid(w http.ResponseWriter, r *http.Request) {
	li, err := h.Payouts.UnmarkAsPaid(r.Context(), payout.LineItemID(chi.URLParam(r, "id")), r.URL.Query().Get("by"))
	if err != nil {
		writeServiceError(w, "Failed to unmark line item", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(li))
}

func (h *Handler) AdjustLineItem(w http.ResponseWriter, r *http.Request) {
	var req AdjustLineItemRequest
	if !decode(w, r, &req) {
		return
	}

	li, err := h.Payouts.AdjustLineItem(r.Context(), payout.LineItemID(chi.URLParam(r, "id")), req.Amount, req.Reason, req.By)
	if err != nil {
		writeServiceError(w, "Failed to adjust line item", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(li))
}

func (h *Handler) RemoveLineItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Payouts.RemoveLineItem(r.Context(), payout.LineItemID(chi.URLParam(r, "id")), r.URL.Query().Get("by")); err != nil {
		writeServiceError(w, "Failed to remove line item", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// IssueAdvance hands cash to a payee ahead of a payout. A show_id binds
// recovery to that show.
func (h *Handler) IssueAdvance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if !decode(w, r, &req) {
		return
	}
	payee, ok := parsePayee(w, req.Payee)
	if !ok {
		return
	}

	v, err := h.Payouts.IssueAdvance(r.Context(), payout.AdvanceRequest{
		Payee:        payee,
		ProductionID: production.ProductionID(req.ProductionID),
		ShowID:       production.ShowID(req.ShowID),
		Amount:       req.Amount,
		Notes:        req.Notes,
		IssuedBy:     req.IssuedBy,
	})
	if err != nil {
		writeServiceError(w, "Failed to issue advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(v))
}

func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payee, ok := parsePayee(w, q.Get("payee"))
	if !ok {
		return
	}

	views, err := h.Payouts.ListAdvances(r.Context(), payout.AdvanceFilter{
		Payee:        payee,
		ProductionID: production.ProductionID(q.Get("production_id")),
		ShowID:       production.ShowID(q.Get("show_id")),
	})
	if err != nil {
		writeServiceError(w, "Failed to list advances", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTOs(views))
}

func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	v, err := h.Payouts.GetAdvance(r.Context(), payout.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(v))
}

// AdvanceHistory returns the advance's ledger entries.
func (h *Handler) AdvanceHistory(w http.ResponseWriter, r *http.Request) {
	id := payout.AdvanceID(chi.URLParam(r, "id"))
	ctx := r.Context()
	if _, err := h.Payouts.GetAdvance(ctx, id); err != nil {
		writeServiceError(w, "Failed to get advance", err)
		return
	}

	entries, err := h.Payouts.History(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to load history", err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) WriteOffAdvance(w http.ResponseWriter, r *http.Request) {
	var req WriteOffRequest
	if !decode(w, r, &req) {
		return
	}

	v, err := h.Payouts.WriteOff(r.Context(), payout.AdvanceID(chi.URLParam(r, "id")), req.Notes, req.By)
	if err != nil {
		writeServiceError(w, "Failed to write off advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(v))
}

func (h *Handler) ReinstateAdvance(w http.ResponseWriter, r *http.Request) {
	v, err := h.Payouts.ReinstateWriteOff(r.Context(), payout.AdvanceID(chi.URLParam(r, "id")), r.URL.Query().Get("by"))
	if err != nil {
		writeServiceError(w, "Failed to reinstate advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(v))
}

// MarkAdvancePaid records that the advance cash was handed over.
func (h *Handler) MarkAdvancePaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if !decode(w, r, &req) {
		return
	}

	v, err := h.Payouts.MarkAdvancePaid(r.Context(), payout.AdvanceID(chi.URLParam(r, "id")), req.Method, req.By)
	if err != nil {
		writeServiceError(w, "Failed to mark advance paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(v))
}

func (h *Handler) UnmarkAdvancePaid(w http.ResponseWriter, r *http.Request) {
	v, err := h.Payouts.UnmarkAdvancePaid(r.Context(), payout.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to unmark advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(v))
}

// ShowAdvances returns the advance position of one show.
func (h *Handler) ShowAdvances(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Payouts.ShowAdvanceSummary(r.Context(), production.ShowID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to load advances", err)
		return
	}

	dto := ShowAdvancesDTO{
		ShowID:      string(sum.ShowID),
		Advances:    toAdvanceDTOs(sum.Advances),
		Waivers:     []string{},
		Issued:      money(sum.Issued),
		Outstanding: money(sum.Outstanding),
		Recovered:   money(sum.Recovered),
	}
	for _, wv := range sum.Waivers {
		dto.Waivers = append(dto.Waivers, wv.Payee.String())
	}
	writeJSON(w, http.StatusOK, dto)
}

// WaiveAdvance records that a payee deliberately gets no advance for a show.
func (h *Handler) WaiveAdvance(w http.ResponseWriter, r *http.Request) {
	var req WaiverRequest
	if !decode(w, r, &req) {
		return
	}
	payee, ok := parsePayee(w, req.Payee)
	if !ok {
		return
	}
	if payee.IsZero() {
		writeError(w, http.StatusBadRequest, "payee is required", nil)
		return
	}

	wv, err := h.Payouts.WaiveAdvance(r.Context(), production.ShowID(chi.URLParam(r, "id")), payee, req.Reason, req.By)
	if err != nil {
		writeServiceError(w, "Failed to waive advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"show_id": string(wv.ShowID),
		"payee":   wv.Payee.String(),
		"reason":  wv.Reason,
	})
}

func toAdvanceDTOs(views []payout.AdvanceView) []AdvanceDTO {
	dtos := make([]AdvanceDTO, len(views))
	for i, v := range views {
		dtos[i] = toAdvanceDTO(v)
	}
	return dtos
}
