/*
handlers.go - HTTP API handlers for the budget planning engine

PURPOSE:
  Exposes the planning engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Entries:
    GET    /api/entries                 List entries (filter: department, status, year)
    POST   /api/entries                 Create entry (draft)
    GET    /api/entries/{id}            Get entry
    PUT    /api/entries/{id}            Update entry (version-checked)
    POST   /api/entries/{id}/submit     Submit for approval
    POST   /api/entries/{id}/approve    Approve
    POST   /api/entries/{id}/reject     Reject with reason
    GET    /api/entries/{id}/history    Audit history

  Departments:
    GET    /api/departments             List departments
    POST   /api/departments             Create or update department
    GET    /api/departments/{code}/entries  Entries of one department
    POST   /api/departments/{code}/lock Lock or unlock edits

  Limits:
    GET    /api/limits                  List global limits
    PUT    /api/limits/{year}           Set limit for a year

  Optimization:
    GET    /api/optimization/gap-analysis    Demand vs limit for a year
    GET    /api/optimization/suggestions     Ranked cut suggestions
    POST   /api/optimization/apply           Apply an accepted suggestion
    GET    /api/optimization/departments     Per-department limit check
    GET    /api/optimization/multi-year      Multi-year allocation plan

  Conflicts:
    POST   /api/conflicts/detect        Scan and persist candidates
    GET    /api/conflicts               List conflicts (filter: status)
    POST   /api/conflicts/{id}/resolve  Apply a resolution
    GET    /api/conflicts/summary       Counts by status and type

  Forecast:
    GET    /api/forecast                Projected totals for future years
    GET    /api/forecast/anomalies      Anomaly scan for a year

  Dashboard:
    GET    /api/dashboard/stats         Entry counts, totals, limit status
    GET    /api/audit/recent            Recent audit entries

  Demo:
    POST   /api/demo/load               Seed a deterministic demo dataset

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Version conflicts, protected entries
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  The actor field on mutating requests is trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - demo.go: Demo dataset loader
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/conflict"
	"github.com/warp/budget-engine/forecast"
	"github.com/warp/budget-engine/logx"
	"github.com/warp/budget-engine/optimize"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      budget.Store
	Optimizer  *optimize.Engine
	Forecaster *forecast.Engine
	Detector   *conflict.Detector
	Resolver   *conflict.Resolver

	BaseYear int
	Horizon  int

	Log *logx.Logger
}

// NewHandler creates a handler wired to the given store.
func NewHandler(store budget.Store, baseYear, horizon int, defaultGrowth decimal.Decimal, log *logx.Logger) *Handler {
	return &Handler{
		Store:      store,
		Optimizer:  optimize.NewEngine(store),
		Forecaster: forecast.NewEngine(store, defaultGrowth),
		Detector:   conflict.NewDetector(store),
		Resolver:   conflict.NewResolver(store),
		BaseYear:   baseYear,
		Horizon:    horizon,
		Log:        log.WithComponent("api"),
	}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns entries, optionally filtered.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := budget.EntryFilter{
		DepartmentCode: r.URL.Query().Get("department"),
		Status:         budget.Status(r.URL.Query().Get("status")),
		Year:           queryInt(r, "year", 0),
	}

	entries, err := h.Store.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEntry returns a single entry.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	entry, err := h.Store.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entry", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// CreateEntry creates a new draft entry.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.DepartmentCode == "" {
		writeError(w, http.StatusBadRequest, "department_code is required", nil)
		return
	}
	if err := h.requireUnlocked(w, r, req.DepartmentCode); err != nil {
		return
	}

	entry := budget.BudgetEntry{
		DepartmentCode: req.DepartmentCode,
		TaskName:       req.TaskName,
		Description:    req.Description,
		Justification:  req.Justification,
		Paragraph:      req.Paragraph,
		Amounts:        req.Amounts,
		Priority:       budget.NormalizePriority(req.Priority),
		IsObligatory:   req.IsObligatory,
		Status:         budget.StatusDraft,
		CreatedBy:      req.Actor,
		UpdatedBy:      req.Actor,
	}
	if err := budget.ValidateAmounts(&entry); err != nil {
		writeDomainError(w, err)
		return
	}

	audit := budget.AuditEntry{
		ID:        uuid.NewString(),
		Action:    budget.AuditEntryCreated,
		NewValues: marshalValues(map[string]any{"status": entry.Status, "amounts": entry.Amounts}),
		Actor:     req.Actor,
		Timestamp: time.Now().UTC(),
	}
	if err := h.Store.InsertEntry(r.Context(), &entry, audit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create entry", err)
		return
	}

	h.Log.Info("entry created", "entry_id", entry.ID, "department", entry.DepartmentCode)
	writeJSON(w, http.StatusCreated, toEntryDTO(&entry))
}

// UpdateEntry applies a version-checked update to an editable entry.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Store.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entry", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	if !budget.Editable(entry.Status) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Entry in status %s cannot be edited", entry.Status), nil)
		return
	}
	if err := h.requireUnlocked(w, r, entry.DepartmentCode); err != nil {
		return
	}

	oldValues := marshalValues(map[string]any{"amounts": entry.Amounts, "status": entry.Status})

	if req.TaskName != nil {
		entry.TaskName = *req.TaskName
	}
	if req.Description != nil {
		entry.Description = *req.Description
	}
	if req.Justification != nil {
		entry.Justification = *req.Justification
	}
	if req.Paragraph != nil {
		entry.Paragraph = *req.Paragraph
	}
	if req.Amounts != nil {
		entry.Amounts = req.Amounts
	}
	if req.Priority != nil {
		entry.Priority = budget.NormalizePriority(*req.Priority)
	}
	if req.IsObligatory != nil {
		entry.IsObligatory = *req.IsObligatory
	}
	if req.Notes != nil {
		entry.Notes = *req.Notes
	}
	entry.UpdatedBy = req.Actor

	if err := budget.ValidateAmounts(entry); err != nil {
		writeDomainError(w, err)
		return
	}

	update := budget.EntryUpdate{
		Entry:           *entry,
		ExpectedVersion: req.ExpectedVersion,
		Audit: budget.AuditEntry{
			ID:        uuid.NewString(),
			Action:    budget.AuditEntryUpdated,
			OldValues: oldValues,
			NewValues: marshalValues(map[string]any{"amounts": entry.Amounts, "status": entry.Status}),
			Actor:     req.Actor,
			Timestamp: time.Now().UTC(),
		},
	}
	if err := h.Store.UpdateEntries(r.Context(), update); err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := h.Store.GetEntry(r.Context(), id)
	if err != nil || updated == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(updated))
}

// SubmitEntry moves a draft or revised entry to submitted.
func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, budget.StatusSubmitted, budget.AuditEntrySubmitted, true)
}

// ApproveEntry approves a submitted entry.
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, budget.StatusApproved, budget.AuditEntryApproved, false)
}

// RejectEntry rejects a submitted entry with a reason.
func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, budget.StatusRejected, budget.AuditEntryRejected, false)
}

// changeStatus applies a lifecycle transition under a version check.
func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, to budget.Status, action budget.AuditAction, validate bool) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req StatusChangeRequest
	if r.Body != nil {
		// Missing or empty body is fine; actor just stays empty.
		json.NewDecoder(r.Body).Decode(&req)
	}

	entry, err := h.Store.GetEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entry", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Entry not found", nil)
		return
	}
	if !budget.CanTransition(entry.Status, to) {
		writeDomainError(w, fmt.Errorf("cannot move entry from %s to %s: %w",
			entry.Status, to, budget.ErrInvalidTransition))
		return
	}
	if validate {
		if err := budget.ValidateForSubmit(entry); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	oldStatus := entry.Status
	entry.Status = to
	entry.UpdatedBy = req.Actor
	if to == budget.StatusRejected && req.Reason != "" {
		entry.Notes = appendNote(entry.Notes, fmt.Sprintf("[rejected: %s]", req.Reason))
	}

	update := budget.EntryUpdate{
		Entry:           *entry,
		ExpectedVersion: entry.Version,
		Audit: budget.AuditEntry{
			ID:        uuid.NewString(),
			Action:    action,
			OldValues: marshalValues(map[string]any{"status": oldStatus}),
			NewValues: marshalValues(map[string]any{"status": to}),
			Actor:     req.Actor,
			Notes:     req.Reason,
			Timestamp: time.Now().UTC(),
		},
	}
	if err := h.Store.UpdateEntries(r.Context(), update); err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := h.Store.GetEntry(r.Context(), id)
	if err != nil || updated == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(updated))
}

// EntryHistory returns the audit trail for one entry.
func (h *Handler) EntryHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	entries, err := h.Store.AuditByEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get history", err)
		return
	}

	dtos := make([]AuditDTO, 0, len(entries))
	for _, a := range entries {
		dtos = append(dtos, toAuditDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// requireUnlocked rejects the request when the department's edits are locked.
// The department not existing yet is not an error here; creation may precede
// department setup in dev mode.
func (h *Handler) requireUnlocked(w http.ResponseWriter, r *http.Request, code string) error {
	dept, err := h.Store.GetDepartment(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check department", err)
		return err
	}
	if dept == nil {
		return nil
	}
	locked := dept.EditsLocked
	if !locked && dept.EditDeadline != nil && time.Now().After(*dept.EditDeadline) {
		locked = true
	}
	if locked {
		writeDomainError(w, fmt.Errorf("department %s: %w", code, budget.ErrDepartmentLocked))
		return budget.ErrDepartmentLocked
	}
	return nil
}

// =============================================================================
// DEPARTMENT HANDLERS
// =============================================================================

// ListDepartments returns all departments.
func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.Store.ListDepartments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list departments", err)
		return
	}

	dtos := make([]DepartmentDTO, 0, len(departments))
	for i := range departments {
		dtos = append(dtos, toDepartmentDTO(&departments[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveDepartment creates or updates a department.
func (h *Handler) SaveDepartment(w http.ResponseWriter, r *http.Request) {
	var req SaveDepartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required", nil)
		return
	}

	dept := budget.Department{
		Code:         req.Code,
		Name:         req.Name,
		DirectorName: req.DirectorName,
		BudgetLimit:  req.BudgetLimit,
	}
	if req.EditDeadline != "" {
		t, err := time.Parse(time.RFC3339, req.EditDeadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid edit_deadline format (use RFC3339)", err)
			return
		}
		dept.EditDeadline = &t
	}

	if err := h.Store.SaveDepartment(r.Context(), dept); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save department", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepartmentDTO(&dept))
}

// DepartmentEntries returns all entries of one department.
func (h *Handler) DepartmentEntries(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	dept, err := h.Store.GetDepartment(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get department", err)
		return
	}
	if dept == nil {
		writeError(w, http.StatusNotFound, "Department not found", nil)
		return
	}

	entries, err := h.Store.ListEntries(r.Context(), budget.EntryFilter{DepartmentCode: code})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"department": toDepartmentDTO(dept),
		"entries":    dtos,
	})
}

// LockDepartment locks or unlocks a department's edits.
func (h *Handler) LockDepartment(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req LockDepartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	audit := budget.AuditEntry{
		ID:        uuid.NewString(),
		Action:    budget.AuditDepartmentLocked,
		NewValues: marshalValues(map[string]any{"department": code, "locked": req.Locked}),
		Actor:     req.Actor,
		Timestamp: time.Now().UTC(),
	}
	if err := h.Store.SetDepartmentLock(r.Context(), code, req.Locked, audit); err != nil {
		writeDomainError(w, err)
		return
	}

	h.Log.Info("department lock changed", "department", code, "locked", req.Locked)
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "edits_locked": req.Locked})
}

// =============================================================================
// LIMIT HANDLERS
// =============================================================================

// ListLimits returns all configured global limits.
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.Store.ListLimits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list limits", err)
		return
	}

	dtos := make([]LimitDTO, 0, len(limits))
	for _, l := range limits {
		dtos = append(dtos, LimitDTO{
			Year:      l.Year,
			Limit:     l.Limit,
			UpdatedAt: l.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetLimit sets the global limit for a year.
func (h *Handler) SetLimit(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	var req SetLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Limit.IsNegative() {
		writeError(w, http.StatusBadRequest, "Limit must be non-negative", nil)
		return
	}

	audit := budget.AuditEntry{
		ID:        uuid.NewString(),
		Action:    budget.AuditLimitSet,
		NewValues: marshalValues(map[string]any{"year": year, "limit": req.Limit}),
		Actor:     req.Actor,
		Timestamp: time.Now().UTC(),
	}
	limit := budget.GlobalLimit{Year: year, Limit: req.Limit}
	if err := h.Store.SetLimit(r.Context(), limit, audit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set limit", err)
		return
	}

	h.Log.Info("global limit set", "year", year, "limit", req.Limit)
	writeJSON(w, http.StatusOK, LimitDTO{Year: year, Limit: req.Limit, UpdatedAt: time.Now().UTC().Format(time.RFC3339)})
}

// =============================================================================
// OPTIMIZATION HANDLERS
// =============================================================================

// GapAnalysis returns demand vs the global limit for a year.
func (h *Handler) GapAnalysis(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", h.BaseYear)

	gap, err := h.Optimizer.GapAnalysis(r.Context(), year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGapAnalysisDTO(gap))
}

// SuggestCuts returns a ranked cut suggestion plan. An optional target query
// parameter overrides the default of closing the full gap.
func (h *Handler) SuggestCuts(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", h.BaseYear)

	var target *decimal.Decimal
	if raw := r.URL.Query().Get("target"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target amount", err)
			return
		}
		target = &d
	}

	plan, err := h.Optimizer.SuggestCuts(r.Context(), year, target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionPlanDTO(plan))
}

// ApplySuggestion applies an accepted defer or reduce suggestion.
func (h *Handler) ApplySuggestion(w http.ResponseWriter, r *http.Request) {
	var req ApplySuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	year := req.Year
	if year == 0 {
		year = h.BaseYear
	}

	result, err := h.Optimizer.ApplySuggestion(r.Context(), req.EntryID, req.Action, req.NewAmount, year, req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.Log.Info("suggestion applied",
		"entry_id", req.EntryID, "action", req.Action, "year", year)
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":      toEntryDTO(&result.Entry),
		"action":     result.Action,
		"old_amount": result.OldAmount,
		"new_amount": result.NewAmount,
	})
}

// DepartmentAllocations returns per-department demand vs informational limit.
func (h *Handler) DepartmentAllocations(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", h.BaseYear)

	allocations, err := h.Optimizer.DepartmentAllocation(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute allocation", err)
		return
	}

	dtos := make([]DepartmentAllocationDTO, 0, len(allocations))
	for _, a := range allocations {
		dtos = append(dtos, DepartmentAllocationDTO{
			Code:        a.Code,
			Name:        a.Name,
			Limit:       a.Limit,
			Total:       a.Total,
			EntryCount:  a.EntryCount,
			Variance:    a.Variance,
			IsOverLimit: a.IsOverLimit,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MultiYearAllocation returns the allocation plan across all limit years.
func (h *Handler) MultiYearAllocation(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Optimizer.MultiYearAllocation(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationPlanDTO(plan))
}

// =============================================================================
// CONFLICT HANDLERS
// =============================================================================

// DetectConflicts scans entries and persists candidate pairs.
func (h *Handler) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", h.BaseYear)

	records, err := h.Detector.Scan(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detect conflicts", err)
		return
	}

	dtos := make([]ConflictDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toConflictDTO(rec))
	}
	h.Log.Info("conflict scan complete", "year", year, "detected", len(dtos))
	writeJSON(w, http.StatusOK, dtos)
}

// ListConflicts returns persisted conflicts, optionally filtered by status.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListConflicts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list conflicts", err)
		return
	}

	dtos := make([]ConflictDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toConflictDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolveConflict applies a resolution to a pending conflict.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	year := req.Year
	if year == 0 {
		year = h.BaseYear
	}

	outcome, err := h.Resolver.Resolve(r.Context(), conflict.Request{
		ConflictID:  id,
		Resolution:  req.Resolution,
		KeepEntryID: req.KeepEntryID,
		Year:        year,
		Actor:       req.Actor,
		Notes:       req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"conflict": toConflictDTO(outcome.Conflict),
		"savings":  outcome.Savings,
	}
	if outcome.Kept != nil {
		resp["kept"] = toEntryDTO(outcome.Kept)
	}
	if outcome.Other != nil {
		resp["other"] = toEntryDTO(outcome.Other)
	}
	h.Log.Info("conflict resolved", "conflict_id", id, "resolution", req.Resolution)
	writeJSON(w, http.StatusOK, resp)
}

// ConflictSummary returns conflict counts by status and type.
func (h *Handler) ConflictSummary(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListConflicts(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list conflicts", err)
		return
	}

	byStatus := map[string]int{}
	byType := map[string]int{}
	for _, rec := range records {
		byStatus[rec.Status]++
		byType[rec.Type]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(records),
		"by_status": byStatus,
		"by_type":   byType,
	})
}

// =============================================================================
// FORECAST HANDLERS
// =============================================================================

// Forecast returns projected totals for the years after the base year.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	baseYear := queryInt(r, "base_year", h.BaseYear)
	horizon := queryInt(r, "horizon", h.Horizon)

	result, err := h.Forecaster.Forecast(r.Context(), baseYear, horizon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, toForecastDTO(result))
}

// Anomalies returns the anomaly scan for a year.
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", h.BaseYear)

	anomalies, err := h.Forecaster.DetectAnomalies(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detect anomalies", err)
		return
	}

	dtos := make([]AnomalyDTO, 0, len(anomalies))
	for _, a := range anomalies {
		dtos = append(dtos, AnomalyDTO{
			EntryID:  a.EntryID,
			TaskName: a.TaskName,
			Type:     a.Type,
			Severity: a.Severity,
			Detail:   a.Detail,
			Amount:   a.Amount,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DASHBOARD AND AUDIT
// =============================================================================

// DashboardStats returns the numbers the dashboard shows on load.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	departments, err := h.Store.ListDepartments(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list departments", err)
		return
	}

	byStatus := map[budget.Status]int{}
	totals := map[int]decimal.Decimal{}
	for i := range entries {
		e := &entries[i]
		byStatus[e.Status]++
		if !e.CountsTowardTotals() {
			continue
		}
		for year, amount := range e.Amounts {
			totals[year] = totals[year].Add(amount)
		}
	}

	overLimit := 0
	allocations, err := h.Optimizer.DepartmentAllocation(ctx, h.BaseYear)
	if err == nil {
		for _, a := range allocations {
			if a.IsOverLimit {
				overLimit++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entry_count":            len(entries),
		"entries_by_status":      byStatus,
		"totals_by_year":         totals,
		"department_count":       len(departments),
		"departments_over_limit": overLimit,
		"base_year":              h.BaseYear,
	})
}

// RecentAudit returns the most recent audit entries.
func (h *Handler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	entries, err := h.Store.AuditRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get audit log", err)
		return
	}

	dtos := make([]AuditDTO, 0, len(entries))
	for _, a := range entries {
		dtos = append(dtos, toAuditDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
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

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case budget.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case budget.IsConflict(err) || errors.Is(err, budget.ErrProtectedEntry):
		writeError(w, http.StatusConflict, "Conflict", err)
	case budget.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func entryID(w http.ResponseWriter, r *http.Request) (budget.EntryID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return 0, false
	}
	return budget.EntryID(id), true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func marshalValues(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
