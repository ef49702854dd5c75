/*
Package budget provides the core domain model for the budget planning engine.

PURPOSE:
  This package contains the entities and rules shared by every other part of
  the system: budget line items with per-year amounts, departments with
  yearly limits, the global spending limit, the priority tiers that drive
  cut ranking, and the entry status lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - BudgetEntry: A single budget line item with amounts per fiscal year
  - Priority: Five-tier priority with an explicit cut order table
  - Status: Entry lifecycle (draft -> submitted -> approved|rejected)
  - Department / GlobalLimit: The limits entries are measured against

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors.
     Amounts are expressed in thousands of PLN.
  2. Permanence: Entries are never deleted. Corrections are new versions,
     consolidated entries are marked superseded and excluded from totals.
  3. Protection: Obligatory entries are never cut or deferred. The engine
     checks IsProtected() before proposing or applying any reduction.
  4. Versioning: Every entry carries a version used for optimistic
     concurrency checks on update.

SEE ALSO:
  - errors.go: Error taxonomy shared by all engine operations
  - store.go: Persistence interfaces
  - validate.go: Submit-time validation and lifecycle transitions
*/
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRIORITY - Five tiers with an explicit total order for cutting
// =============================================================================

type Priority string

const (
	PriorityObligatory    Priority = "obligatory"
	PriorityHigh          Priority = "high"
	PriorityMedium        Priority = "medium"
	PriorityLow           Priority = "low"
	PriorityDiscretionary Priority = "discretionary"
)

// cutOrder ranks candidate tiers for cutting: lower rank is cut first.
// Obligatory is deliberately absent; protected entries are never candidates.
var cutOrder = map[Priority]int{
	PriorityDiscretionary: 0,
	PriorityLow:           1,
	PriorityMedium:        2,
	PriorityHigh:          3,
}

// CutRank returns the cut ordering index for a priority.
// ok is false for obligatory or unknown priorities.
func CutRank(p Priority) (rank int, ok bool) {
	rank, ok = cutOrder[p]
	return rank, ok
}

// NormalizePriority maps empty or unknown priorities to medium.
func NormalizePriority(p Priority) Priority {
	switch p {
	case PriorityObligatory, PriorityHigh, PriorityMedium, PriorityLow, PriorityDiscretionary:
		return p
	default:
		return PriorityMedium
	}
}

// Deferrable reports whether a tier prefers full deferral over partial
// reduction when selected as a cut candidate.
func (p Priority) Deferrable() bool {
	return p == PriorityDiscretionary || p == PriorityLow
}

// =============================================================================
// STATUS - Entry lifecycle
// =============================================================================

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusNeedsRevision Status = "needs_revision"
	StatusSuperseded    Status = "superseded"
)

// transitions is the allowed status transition table.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusApproved, StatusRejected, StatusNeedsRevision},
	StatusApproved:      {StatusNeedsRevision, StatusSuperseded},
	StatusNeedsRevision: {StatusSubmitted, StatusSuperseded},
	StatusRejected:      {},
	StatusSuperseded:    {},
}

// CanTransition reports whether moving an entry from one status to another
// is allowed by the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID int64

// =============================================================================
// BUDGET ENTRY - A single budget line item
// =============================================================================

type BudgetEntry struct {
	ID             EntryID
	DepartmentCode string
	TaskName       string
	Description    string
	Justification  string

	// Paragraph is the budget classification code (e.g. 4300, 6060).
	Paragraph int

	// Amounts maps fiscal year to the requested amount in thousands of PLN.
	Amounts map[int]decimal.Decimal

	Priority     Priority
	IsObligatory bool
	Status       Status
	Notes        string

	// Version increments on every update; writers must present the version
	// they read or the update fails with a version conflict.
	Version int64

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Amount returns the entry's amount for a year, zero when unset.
func (e *BudgetEntry) Amount(year int) decimal.Decimal {
	if a, ok := e.Amounts[year]; ok {
		return a
	}
	return decimal.Zero
}

// SetAmount sets the entry's amount for a year, allocating the map if needed.
func (e *BudgetEntry) SetAmount(year int, amount decimal.Decimal) {
	if e.Amounts == nil {
		e.Amounts = make(map[int]decimal.Decimal)
	}
	e.Amounts[year] = amount
}

// IsProtected reports whether the entry may never be cut or deferred.
// Either the obligatory priority tier or the explicit flag protects it.
func (e *BudgetEntry) IsProtected() bool {
	return e.Priority == PriorityObligatory || e.IsObligatory
}

// CountsTowardTotals reports whether the entry contributes to demand totals.
// Rejected and superseded entries remain stored for the audit trail but are
// excluded from every calculation.
func (e *BudgetEntry) CountsTowardTotals() bool {
	return e.Status != StatusRejected && e.Status != StatusSuperseded
}

// DisplayName returns the task name, falling back to the description.
func (e *BudgetEntry) DisplayName() string {
	if e.TaskName != "" {
		return e.TaskName
	}
	if e.Description != "" {
		return e.Description
	}
	return "(unnamed)"
}

// =============================================================================
// DEPARTMENT
// =============================================================================

type Department struct {
	Code         string
	Name         string
	DirectorName string

	// BudgetLimit is the department's informational limit for the current
	// planning year. Zero means no limit configured.
	BudgetLimit decimal.Decimal

	EditDeadline *time.Time
	EditsLocked  bool

	CreatedAt time.Time
}

// =============================================================================
// GLOBAL LIMIT - One active limit per fiscal year
// =============================================================================

type GlobalLimit struct {
	Year      int
	Limit     decimal.Decimal
	UpdatedAt time.Time
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
