/*
Package optimize implements the gap-resolution engine: gap analysis, cut
suggestions, multi-year allocation, and the operations that apply accepted
suggestions to the entry store.

PURPOSE:
  Given a snapshot of budget entries and a global limit, answer three
  questions:
    1. How far over (or under) the limit are we? (gap.go)
    2. Which entries should be deferred or reduced to close the gap,
       without ever touching protected items? (cuts.go)
    3. How should deferrable spend be spread across the planning years?
       (allocation.go)

DESIGN:
  The analysis functions are pure: they take an entry slice and limits and
  return derived results, so calling twice with the same input yields
  identical output. Mutation lives only in apply.go, behind version-checked
  store updates.

SEE ALSO:
  - budget/types.go: Priority order table and protection rules
  - apply.go: The only writer in this package
*/
package optimize

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// GAP ANALYSIS - Demand vs. global limit for one year
// =============================================================================

type GapAnalysis struct {
	Year        int
	GlobalLimit decimal.Decimal

	// CurrentTotal is the summed demand for the year across all entries
	// that count toward totals (not rejected, not superseded).
	CurrentTotal decimal.Decimal

	// Variance = CurrentTotal - GlobalLimit; positive means over limit.
	Variance       decimal.Decimal
	IsOverLimit    bool
	OverPercentage decimal.Decimal

	PriorityBreakdown   map[budget.Priority]decimal.Decimal
	DepartmentBreakdown map[string]decimal.Decimal

	ObligatoryTotal    decimal.Decimal
	DiscretionaryTotal decimal.Decimal
}

// AnalyzeGap computes demand against the global limit for a year.
// Pure function of its inputs; no side effects.
func AnalyzeGap(entries []budget.BudgetEntry, limit decimal.Decimal, year int) GapAnalysis {
	analysis := GapAnalysis{
		Year:                year,
		GlobalLimit:         limit,
		CurrentTotal:        decimal.Zero,
		PriorityBreakdown:   make(map[budget.Priority]decimal.Decimal),
		DepartmentBreakdown: make(map[string]decimal.Decimal),
	}
	for _, p := range []budget.Priority{
		budget.PriorityObligatory, budget.PriorityHigh, budget.PriorityMedium,
		budget.PriorityLow, budget.PriorityDiscretionary,
	} {
		analysis.PriorityBreakdown[p] = decimal.Zero
	}

	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		amount := e.Amount(year)
		analysis.CurrentTotal = analysis.CurrentTotal.Add(amount)

		tier := budget.NormalizePriority(e.Priority)
		analysis.PriorityBreakdown[tier] = analysis.PriorityBreakdown[tier].Add(amount)

		dept := e.DepartmentCode
		if dept == "" {
			dept = "N/A"
		}
		analysis.DepartmentBreakdown[dept] = analysis.DepartmentBreakdown[dept].Add(amount)
	}

	analysis.Variance = analysis.CurrentTotal.Sub(limit)
	analysis.IsOverLimit = analysis.Variance.IsPositive()
	if analysis.IsOverLimit && limit.IsPositive() {
		analysis.OverPercentage = analysis.Variance.
			Div(limit).
			Mul(decimal.NewFromInt(100))
	} else {
		analysis.OverPercentage = decimal.Zero
	}

	analysis.ObligatoryTotal = analysis.PriorityBreakdown[budget.PriorityObligatory]
	analysis.DiscretionaryTotal = analysis.PriorityBreakdown[budget.PriorityDiscretionary]

	return analysis
}

// =============================================================================
// ENGINE - Store-backed entry points
// =============================================================================

// Engine wires the pure analysis functions to the entry store.
type Engine struct {
	Store budget.Store
}

func NewEngine(store budget.Store) *Engine {
	return &Engine{Store: store}
}

// GapAnalysis fetches the snapshot and limit for a year and analyzes it.
// Fails with ConfigError when no global limit is configured.
func (eng *Engine) GapAnalysis(ctx context.Context, year int) (GapAnalysis, error) {
	limit, err := eng.Store.GetLimit(ctx, year)
	if err != nil {
		return GapAnalysis{}, err
	}
	if limit == nil {
		return GapAnalysis{}, &budget.ConfigError{Year: year}
	}

	entries, err := eng.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return GapAnalysis{}, err
	}

	return AnalyzeGap(entries, limit.Limit, year), nil
}
