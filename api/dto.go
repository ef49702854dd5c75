/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Amounts are in PLN; decimal values marshal as JSON strings to avoid
    float precision loss in clients.
  - Amount maps are keyed by fiscal year.
  - Timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Where these are populated
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/conflict"
	"github.com/warp/budget-engine/forecast"
	"github.com/warp/budget-engine/optimize"
)

// =============================================================================
// ERROR RESPONSE
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// ENTRY DTOs
// =============================================================================

type EntryDTO struct {
	ID             budget.EntryID          `json:"id"`
	DepartmentCode string                  `json:"department_code"`
	TaskName       string                  `json:"task_name"`
	Description    string                  `json:"description,omitempty"`
	Justification  string                  `json:"justification,omitempty"`
	Paragraph      int                     `json:"paragraph"`
	Amounts        map[int]decimal.Decimal `json:"amounts"`
	Priority       budget.Priority         `json:"priority"`
	IsObligatory   bool                    `json:"is_obligatory"`
	Status         budget.Status           `json:"status"`
	Notes          string                  `json:"notes,omitempty"`
	Version        int64                   `json:"version"`
	CreatedBy      string                  `json:"created_by,omitempty"`
	UpdatedBy      string                  `json:"updated_by,omitempty"`
	CreatedAt      string                  `json:"created_at"`
	UpdatedAt      string                  `json:"updated_at"`
}

func toEntryDTO(e *budget.BudgetEntry) EntryDTO {
	return EntryDTO{
		ID:             e.ID,
		DepartmentCode: e.DepartmentCode,
		TaskName:       e.TaskName,
		Description:    e.Description,
		Justification:  e.Justification,
		Paragraph:      e.Paragraph,
		Amounts:        e.Amounts,
		Priority:       e.Priority,
		IsObligatory:   e.IsObligatory,
		Status:         e.Status,
		Notes:          e.Notes,
		Version:        e.Version,
		CreatedBy:      e.CreatedBy,
		UpdatedBy:      e.UpdatedBy,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.Format(time.RFC3339),
	}
}

type CreateEntryRequest struct {
	DepartmentCode string                  `json:"department_code"`
	TaskName       string                  `json:"task_name"`
	Description    string                  `json:"description"`
	Justification  string                  `json:"justification"`
	Paragraph      int                     `json:"paragraph"`
	Amounts        map[int]decimal.Decimal `json:"amounts"`
	Priority       budget.Priority         `json:"priority"`
	IsObligatory   bool                    `json:"is_obligatory"`
	Actor          string                  `json:"actor"`
}

type UpdateEntryRequest struct {
	TaskName      *string                 `json:"task_name"`
	Description   *string                 `json:"description"`
	Justification *string                 `json:"justification"`
	Paragraph     *int                    `json:"paragraph"`
	Amounts       map[int]decimal.Decimal `json:"amounts"`
	Priority      *budget.Priority        `json:"priority"`
	IsObligatory  *bool                   `json:"is_obligatory"`
	Notes         *string                 `json:"notes"`

	// ExpectedVersion is the version the client read. The update fails with
	// 409 when the stored version differs.
	ExpectedVersion int64  `json:"expected_version"`
	Actor           string `json:"actor"`
}

type StatusChangeRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// DEPARTMENT AND LIMIT DTOs
// =============================================================================

type DepartmentDTO struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DirectorName string          `json:"director_name,omitempty"`
	BudgetLimit  decimal.Decimal `json:"budget_limit"`
	EditDeadline string          `json:"edit_deadline,omitempty"`
	EditsLocked  bool            `json:"edits_locked"`
}

func toDepartmentDTO(d *budget.Department) DepartmentDTO {
	dto := DepartmentDTO{
		Code:         d.Code,
		Name:         d.Name,
		DirectorName: d.DirectorName,
		BudgetLimit:  d.BudgetLimit,
		EditsLocked:  d.EditsLocked,
	}
	if d.EditDeadline != nil {
		dto.EditDeadline = d.EditDeadline.Format(time.RFC3339)
	}
	return dto
}

type SaveDepartmentRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DirectorName string          `json:"director_name"`
	BudgetLimit  decimal.Decimal `json:"budget_limit"`
	EditDeadline string          `json:"edit_deadline,omitempty"`
}

type LockDepartmentRequest struct {
	Locked bool   `json:"locked"`
	Actor  string `json:"actor"`
}

type LimitDTO struct {
	Year      int             `json:"year"`
	Limit     decimal.Decimal `json:"limit"`
	UpdatedAt string          `json:"updated_at"`
}

type SetLimitRequest struct {
	Limit decimal.Decimal `json:"limit"`
	Actor string          `json:"actor"`
}

// =============================================================================
// OPTIMIZATION DTOs
// =============================================================================

type GapAnalysisDTO struct {
	Year                int                                 `json:"year"`
	GlobalLimit         decimal.Decimal                     `json:"global_limit"`
	CurrentTotal        decimal.Decimal                     `json:"current_total"`
	Variance            decimal.Decimal                     `json:"variance"`
	IsOverLimit         bool                                `json:"is_over_limit"`
	OverPercentage      decimal.Decimal                     `json:"over_percentage"`
	PriorityBreakdown   map[budget.Priority]decimal.Decimal `json:"priority_breakdown"`
	DepartmentBreakdown map[string]decimal.Decimal          `json:"department_breakdown"`
	ObligatoryTotal     decimal.Decimal                     `json:"obligatory_total"`
	DiscretionaryTotal  decimal.Decimal                     `json:"discretionary_total"`
}

func toGapAnalysisDTO(g optimize.GapAnalysis) GapAnalysisDTO {
	return GapAnalysisDTO{
		Year:                g.Year,
		GlobalLimit:         g.GlobalLimit,
		CurrentTotal:        g.CurrentTotal,
		Variance:            g.Variance,
		IsOverLimit:         g.IsOverLimit,
		OverPercentage:      g.OverPercentage,
		PriorityBreakdown:   g.PriorityBreakdown,
		DepartmentBreakdown: g.DepartmentBreakdown,
		ObligatoryTotal:     g.ObligatoryTotal,
		DiscretionaryTotal:  g.DiscretionaryTotal,
	}
}

type SuggestionDTO struct {
	EntryID         budget.EntryID  `json:"entry_id"`
	TaskName        string          `json:"task_name"`
	Department      string          `json:"department"`
	Priority        budget.Priority `json:"priority"`
	Action          optimize.Action `json:"action"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
	SuggestedAmount decimal.Decimal `json:"suggested_amount"`
	Savings         decimal.Decimal `json:"savings"`
	Reason          string          `json:"reason"`
}

type ProtectedDTO struct {
	EntryID  budget.EntryID  `json:"entry_id"`
	TaskName string          `json:"task_name"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type SuggestionPlanDTO struct {
	Year                int             `json:"year"`
	Gap                 GapAnalysisDTO  `json:"gap"`
	TargetReduction     decimal.Decimal `json:"target_reduction"`
	AchievableReduction decimal.Decimal `json:"achievable_reduction"`
	CanMeetTarget       bool            `json:"can_meet_target"`
	Suggestions         []SuggestionDTO `json:"suggestions"`
	ProtectedItems      []ProtectedDTO  `json:"protected_items"`
}

func toSuggestionPlanDTO(p optimize.SuggestionPlan) SuggestionPlanDTO {
	dto := SuggestionPlanDTO{
		Year:                p.Year,
		Gap:                 toGapAnalysisDTO(p.Gap),
		TargetReduction:     p.TargetReduction,
		AchievableReduction: p.AchievableReduction,
		CanMeetTarget:       p.CanMeetTarget,
		Suggestions:         make([]SuggestionDTO, 0, len(p.Suggestions)),
		ProtectedItems:      make([]ProtectedDTO, 0, len(p.ProtectedItems)),
	}
	for _, s := range p.Suggestions {
		dto.Suggestions = append(dto.Suggestions, SuggestionDTO{
			EntryID:         s.EntryID,
			TaskName:        s.TaskName,
			Department:      s.Department,
			Priority:        s.Priority,
			Action:          s.Action,
			CurrentAmount:   s.CurrentAmount,
			SuggestedAmount: s.SuggestedAmount,
			Savings:         s.Savings,
			Reason:          s.Reason,
		})
	}
	for _, item := range p.ProtectedItems {
		dto.ProtectedItems = append(dto.ProtectedItems, ProtectedDTO{
			EntryID:  item.EntryID,
			TaskName: item.TaskName,
			Amount:   item.Amount,
			Reason:   item.Reason,
		})
	}
	return dto
}

type ApplySuggestionRequest struct {
	EntryID   budget.EntryID   `json:"entry_id"`
	Action    optimize.Action  `json:"action"`
	NewAmount *decimal.Decimal `json:"new_amount,omitempty"`
	Year      int              `json:"year"`
	Actor     string           `json:"actor"`
}

type YearAllocationDTO struct {
	Year                int             `json:"year"`
	Limit               decimal.Decimal `json:"limit"`
	NonDeferrable       decimal.Decimal `json:"non_deferrable"`
	DeferrableDemand    decimal.Decimal `json:"deferrable_demand"`
	DeferrableAllocated decimal.Decimal `json:"deferrable_allocated"`
	TotalAllocated      decimal.Decimal `json:"total_allocated"`
	Gap                 decimal.Decimal `json:"gap"`
	Surplus             decimal.Decimal `json:"surplus"`
}

type ShiftDTO struct {
	FromYear int             `json:"from_year"`
	ToYear   int             `json:"to_year"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type AllocationPlanDTO struct {
	Years  []YearAllocationDTO `json:"years"`
	Shifts []ShiftDTO          `json:"shifts"`
}

func toAllocationPlanDTO(p optimize.AllocationPlan) AllocationPlanDTO {
	dto := AllocationPlanDTO{
		Years:  make([]YearAllocationDTO, 0, len(p.Years)),
		Shifts: make([]ShiftDTO, 0, len(p.Shifts)),
	}
	for _, y := range p.Years {
		dto.Years = append(dto.Years, YearAllocationDTO{
			Year:                y.Year,
			Limit:               y.Limit,
			NonDeferrable:       y.NonDeferrable,
			DeferrableDemand:    y.DeferrableDemand,
			DeferrableAllocated: y.DeferrableAllocated,
			TotalAllocated:      y.TotalAllocated,
			Gap:                 y.Gap,
			Surplus:             y.Surplus,
		})
	}
	for _, s := range p.Shifts {
		dto.Shifts = append(dto.Shifts, ShiftDTO{
			FromYear: s.FromYear,
			ToYear:   s.ToYear,
			Amount:   s.Amount,
			Reason:   s.Reason,
		})
	}
	return dto
}

type DepartmentAllocationDTO struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Limit       decimal.Decimal `json:"limit"`
	Total       decimal.Decimal `json:"total"`
	EntryCount  int             `json:"entry_count"`
	Variance    decimal.Decimal `json:"variance"`
	IsOverLimit bool            `json:"is_over_limit"`
}

// =============================================================================
// CONFLICT DTOs
// =============================================================================

type ConflictDTO struct {
	ID              string         `json:"id"`
	EntryA          budget.EntryID `json:"entry_a"`
	EntryB          budget.EntryID `json:"entry_b"`
	Type            string         `json:"type"`
	Similarity      float64        `json:"similarity"`
	Status          string         `json:"status"`
	Resolution      string         `json:"resolution,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

func toConflictDTO(c budget.ConflictRecord) ConflictDTO {
	return ConflictDTO{
		ID:              c.ID,
		EntryA:          c.EntryA,
		EntryB:          c.EntryB,
		Type:            c.Type,
		Similarity:      c.Similarity,
		Status:          c.Status,
		Resolution:      c.Resolution,
		ResolutionNotes: c.ResolutionNotes,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.Format(time.RFC3339),
	}
}

type ResolveConflictRequest struct {
	Resolution  conflict.Resolution `json:"resolution"`
	KeepEntryID budget.EntryID      `json:"keep_entry_id,omitempty"`
	Year        int                 `json:"year"`
	Actor       string              `json:"actor"`
	Notes       string              `json:"notes,omitempty"`
}

// =============================================================================
// FORECAST DTOs
// =============================================================================

type YearForecastDTO struct {
	Year           int                        `json:"year"`
	PredictedTotal decimal.Decimal            `json:"predicted_total"`
	Confidence     decimal.Decimal            `json:"confidence"`
	Trend          string                     `json:"trend"`
	ByCategory     map[string]decimal.Decimal `json:"by_category"`
}

type ForecastDTO struct {
	BaseYear        int               `json:"base_year"`
	BaseTotal       decimal.Decimal   `json:"base_total"`
	AnnualGrowthPct decimal.Decimal   `json:"annual_growth_pct"`
	Trend           string            `json:"trend"`
	Forecasts       []YearForecastDTO `json:"forecasts"`
}

func toForecastDTO(r forecast.Result) ForecastDTO {
	dto := ForecastDTO{
		BaseYear:        r.BaseYear,
		BaseTotal:       r.BaseTotal,
		AnnualGrowthPct: r.AnnualGrowthPct,
		Trend:           r.Trend,
		Forecasts:       make([]YearForecastDTO, 0, len(r.Forecasts)),
	}
	for _, f := range r.Forecasts {
		dto.Forecasts = append(dto.Forecasts, YearForecastDTO{
			Year:           f.Year,
			PredictedTotal: f.PredictedTotal,
			Confidence:     f.Confidence,
			Trend:          f.Trend,
			ByCategory:     f.ByCategory,
		})
	}
	return dto
}

type AnomalyDTO struct {
	EntryID  budget.EntryID  `json:"entry_id"`
	TaskName string          `json:"task_name"`
	Type     string          `json:"type"`
	Severity string          `json:"severity"`
	Detail   string          `json:"detail"`
	Amount   decimal.Decimal `json:"amount"`
}

// =============================================================================
// AUDIT DTOs
// =============================================================================

type AuditDTO struct {
	ID        string             `json:"id"`
	EntryID   budget.EntryID     `json:"entry_id,omitempty"`
	Action    budget.AuditAction `json:"action"`
	OldValues string             `json:"old_values,omitempty"`
	NewValues string             `json:"new_values,omitempty"`
	Actor     string             `json:"actor,omitempty"`
	Notes     string             `json:"notes,omitempty"`
	Timestamp string             `json:"timestamp"`
}

func toAuditDTO(a budget.AuditEntry) AuditDTO {
	return AuditDTO{
		ID:        a.ID,
		EntryID:   a.EntryID,
		Action:    a.Action,
		OldValues: a.OldValues,
		NewValues: a.NewValues,
		Actor:     a.Actor,
		Notes:     a.Notes,
		Timestamp: a.Timestamp.Format(time.RFC3339),
	}
}
