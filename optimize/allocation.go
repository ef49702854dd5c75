/*
allocation.go - Multi-year allocation of deferrable spend

PURPOSE:
  Given per-year global limits and the demand split into non-deferrable
  (obligatory or high priority) and deferrable spend, compute how much
  deferrable demand each year can actually fund, where the gaps and
  surpluses are, and which forward shifts would close the gaps.

DETERMINISM:
  Years are processed in ascending order. A year with a gap scans the
  following years nearest-first for surplus capacity, shifting the minimum
  of (remaining gap, that year's surplus) until the gap closes or no
  surplus years remain.

SEE ALSO:
  - gap.go: Single-year analysis
  - forecast: Supplies projected demand for years without entries
*/
package optimize

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// ALLOCATION TYPES
// =============================================================================

type YearAllocation struct {
	Year                int
	Limit               decimal.Decimal
	NonDeferrable       decimal.Decimal
	DeferrableDemand    decimal.Decimal
	DeferrableAllocated decimal.Decimal
	TotalAllocated      decimal.Decimal
	Gap                 decimal.Decimal
	Surplus             decimal.Decimal
}

type Shift struct {
	FromYear int
	ToYear   int
	Amount   decimal.Decimal
	Reason   string
}

type AllocationPlan struct {
	Years  []YearAllocation
	Shifts []Shift
}

// =============================================================================
// OPTIMIZE ALLOCATION
// =============================================================================

// OptimizeAllocation computes the year-by-year allocation of deferrable
// spend across the configured limits. Pure function; years missing from
// limits are ignored.
func OptimizeAllocation(entries []budget.BudgetEntry, limits map[int]decimal.Decimal) AllocationPlan {
	years := make([]int, 0, len(limits))
	for year := range limits {
		years = append(years, year)
	}
	sort.Ints(years)

	plan := AllocationPlan{}
	for _, year := range years {
		limit := limits[year]

		nonDeferrable := decimal.Zero
		deferrable := decimal.Zero
		for i := range entries {
			e := &entries[i]
			if !e.CountsTowardTotals() {
				continue
			}
			amount := e.Amount(year)
			if e.IsProtected() || budget.NormalizePriority(e.Priority) == budget.PriorityHigh {
				nonDeferrable = nonDeferrable.Add(amount)
			} else {
				deferrable = deferrable.Add(amount)
			}
		}

		remaining := limit.Sub(nonDeferrable)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		allocated := decimal.Min(deferrable, remaining)

		gap := deferrable.Sub(allocated)
		if gap.IsNegative() {
			gap = decimal.Zero
		}
		surplus := remaining.Sub(allocated)
		if surplus.IsNegative() {
			surplus = decimal.Zero
		}

		plan.Years = append(plan.Years, YearAllocation{
			Year:                year,
			Limit:               limit,
			NonDeferrable:       nonDeferrable,
			DeferrableDemand:    deferrable,
			DeferrableAllocated: allocated,
			TotalAllocated:      nonDeferrable.Add(allocated),
			Gap:                 gap,
			Surplus:             surplus,
		})
	}

	// Close gaps by shifting into the nearest later year with surplus.
	for i := range plan.Years {
		gapYear := &plan.Years[i]
		for j := i + 1; j < len(plan.Years) && gapYear.Gap.IsPositive(); j++ {
			donor := &plan.Years[j]
			if !donor.Surplus.IsPositive() {
				continue
			}
			amount := decimal.Min(gapYear.Gap, donor.Surplus)
			plan.Shifts = append(plan.Shifts, Shift{
				FromYear: gapYear.Year,
				ToYear:   donor.Year,
				Amount:   amount,
				Reason: fmt.Sprintf("shift %s from %d to %d to balance the budget",
					amount.StringFixed(0), gapYear.Year, donor.Year),
			})
			gapYear.Gap = gapYear.Gap.Sub(amount)
			donor.Surplus = donor.Surplus.Sub(amount)
		}
	}

	return plan
}

// MultiYearAllocation runs the allocation optimizer across every year with
// a configured global limit. Fails with ErrNoLimitConfigured when no limits
// exist at all.
func (eng *Engine) MultiYearAllocation(ctx context.Context) (AllocationPlan, error) {
	limits, err := eng.Store.ListLimits(ctx)
	if err != nil {
		return AllocationPlan{}, err
	}
	if len(limits) == 0 {
		return AllocationPlan{}, budget.ErrNoLimitConfigured
	}

	limitMap := make(map[int]decimal.Decimal, len(limits))
	for _, l := range limits {
		limitMap[l.Year] = l.Limit
	}

	entries, err := eng.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return AllocationPlan{}, err
	}

	return OptimizeAllocation(entries, limitMap), nil
}

// =============================================================================
// DEPARTMENT ALLOCATION - Informational limit check per department
// =============================================================================

type DepartmentAllocation struct {
	Code        string
	Name        string
	Limit       decimal.Decimal
	Total       decimal.Decimal
	EntryCount  int
	Variance    decimal.Decimal
	IsOverLimit bool
}

// DepartmentAllocation sums each department's demand for a year against its
// informational limit, sorted by variance descending (worst offender first).
func (eng *Engine) DepartmentAllocation(ctx context.Context, year int) ([]DepartmentAllocation, error) {
	departments, err := eng.Store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := eng.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]*DepartmentAllocation, len(departments))
	var result []DepartmentAllocation
	for _, d := range departments {
		byCode[d.Code] = &DepartmentAllocation{Code: d.Code, Name: d.Name, Limit: d.BudgetLimit}
	}

	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		alloc, ok := byCode[e.DepartmentCode]
		if !ok {
			continue
		}
		alloc.Total = alloc.Total.Add(e.Amount(year))
		alloc.EntryCount++
	}

	for _, d := range departments {
		alloc := byCode[d.Code]
		alloc.Variance = alloc.Total.Sub(alloc.Limit)
		alloc.IsOverLimit = alloc.Limit.IsPositive() && alloc.Variance.IsPositive()
		result = append(result, *alloc)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Variance.Equal(result[j].Variance) {
			return result[i].Variance.GreaterThan(result[j].Variance)
		}
		return result[i].Code < result[j].Code
	})
	return result, nil
}
