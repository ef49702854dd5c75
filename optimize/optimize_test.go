package optimize_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/optimize"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func entry(id budget.EntryID, dept string, priority budget.Priority, obligatory bool, amounts map[int]string) budget.BudgetEntry {
	parsed := make(map[int]decimal.Decimal, len(amounts))
	for year, raw := range amounts {
		parsed[year] = budget.MustDecimal(raw)
	}
	return budget.BudgetEntry{
		ID:             id,
		DepartmentCode: dept,
		TaskName:       "task",
		Priority:       priority,
		IsObligatory:   obligatory,
		Status:         budget.StatusDraft,
		Amounts:        parsed,
	}
}

func amount(s string) decimal.Decimal {
	return budget.MustDecimal(s)
}

// =============================================================================
// GAP ANALYSIS TESTS
// =============================================================================

func TestAnalyzeGap_OverLimit(t *testing.T) {
	// GIVEN: 250 total demand against a limit of 150
	// WHEN: Analyzing the gap
	// THEN: Variance is 100, over by 66.67%

	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, true, map[int]string{2025: "100"}),
		entry(2, "DI", budget.PriorityLow, false, map[int]string{2025: "70"}),
		entry(3, "DA", budget.PriorityMedium, false, map[int]string{2025: "80"}),
	}

	gap := optimize.AnalyzeGap(entries, amount("150"), 2025)

	assert.Equal(t, "250", gap.CurrentTotal.String())
	assert.Equal(t, "100", gap.Variance.String())
	assert.True(t, gap.IsOverLimit)
	assert.Equal(t, "66.67", gap.OverPercentage.Round(2).String())
	assert.Equal(t, "100", gap.ObligatoryTotal.String())
	assert.Equal(t, "100", gap.PriorityBreakdown[budget.PriorityObligatory].String())
	assert.Equal(t, "170", gap.DepartmentBreakdown["DI"].String())
	assert.Equal(t, "80", gap.DepartmentBreakdown["DA"].String())
}

func TestAnalyzeGap_UnderLimit(t *testing.T) {
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityMedium, false, map[int]string{2025: "90"}),
	}

	gap := optimize.AnalyzeGap(entries, amount("150"), 2025)

	assert.Equal(t, "-60", gap.Variance.String())
	assert.False(t, gap.IsOverLimit)
	assert.True(t, gap.OverPercentage.IsZero())
}

func TestAnalyzeGap_SkipsRejectedAndSuperseded(t *testing.T) {
	rejected := entry(1, "DI", budget.PriorityMedium, false, map[int]string{2025: "500"})
	rejected.Status = budget.StatusRejected
	superseded := entry(2, "DI", budget.PriorityMedium, false, map[int]string{2025: "400"})
	superseded.Status = budget.StatusSuperseded
	live := entry(3, "DI", budget.PriorityMedium, false, map[int]string{2025: "100"})

	gap := optimize.AnalyzeGap([]budget.BudgetEntry{rejected, superseded, live}, amount("50"), 2025)

	assert.Equal(t, "100", gap.CurrentTotal.String())
}

func TestAnalyzeGap_IsOrderIndependent(t *testing.T) {
	a := entry(1, "DI", budget.PriorityLow, false, map[int]string{2025: "70"})
	b := entry(2, "DA", budget.PriorityHigh, false, map[int]string{2025: "30"})

	forward := optimize.AnalyzeGap([]budget.BudgetEntry{a, b}, amount("50"), 2025)
	backward := optimize.AnalyzeGap([]budget.BudgetEntry{b, a}, amount("50"), 2025)

	assert.True(t, forward.CurrentTotal.Equal(backward.CurrentTotal))
	assert.True(t, forward.Variance.Equal(backward.Variance))
}

// =============================================================================
// CUT SUGGESTER TESTS
// =============================================================================

func TestSuggestCuts_DeferThenReduce(t *testing.T) {
	// GIVEN: obligatory 100, low 50, medium 80 against a limit of 150
	// WHEN: Suggesting cuts for the full gap of 80
	// THEN: The low entry is deferred in full (50), the medium entry is
	//       reduced by the remaining 30, and the obligatory entry is
	//       reported protected.

	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, false, map[int]string{2025: "100"}),
		entry(2, "DI", budget.PriorityLow, false, map[int]string{2025: "50"}),
		entry(3, "DA", budget.PriorityMedium, false, map[int]string{2025: "80"}),
	}
	plan := optimize.SuggestCuts(entries, amount("150"), nil, 2025)

	require.Len(t, plan.Suggestions, 2)
	require.Len(t, plan.ProtectedItems, 1)

	first := plan.Suggestions[0]
	assert.Equal(t, budget.EntryID(2), first.EntryID)
	assert.Equal(t, optimize.ActionDefer, first.Action)
	assert.Equal(t, "50", first.Savings.String())
	assert.True(t, first.SuggestedAmount.IsZero())

	second := plan.Suggestions[1]
	assert.Equal(t, budget.EntryID(3), second.EntryID)
	assert.Equal(t, optimize.ActionReduce, second.Action)
	assert.Equal(t, "50", second.SuggestedAmount.String())
	assert.Equal(t, "30", second.Savings.String())

	assert.Equal(t, budget.EntryID(1), plan.ProtectedItems[0].EntryID)
	assert.Equal(t, "80", plan.AchievableReduction.String())
	assert.True(t, plan.CanMeetTarget)
}

func TestSuggestCuts_UnderLimitReturnsEmptyPlan(t *testing.T) {
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, false, map[int]string{2025: "100"}),
		entry(2, "DI", budget.PriorityLow, false, map[int]string{2025: "50"}),
		entry(3, "DA", budget.PriorityMedium, false, map[int]string{2025: "80"}),
	}
	plan := optimize.SuggestCuts(entries, amount("300"), nil, 2025)

	assert.Empty(t, plan.Suggestions)
	assert.True(t, plan.CanMeetTarget)
}

func TestSuggestCuts_NeverTouchesObligatory(t *testing.T) {
	// Only protected entries exist, so the gap cannot be closed.
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, false, map[int]string{2025: "200"}),
		entry(2, "DA", budget.PriorityMedium, true, map[int]string{2025: "150"}),
	}
	plan := optimize.SuggestCuts(entries, amount("100"), nil, 2025)

	assert.Empty(t, plan.Suggestions)
	assert.Len(t, plan.ProtectedItems, 2)
	assert.False(t, plan.CanMeetTarget)
	assert.True(t, plan.AchievableReduction.IsZero())
}

func TestSuggestCuts_CutOrderDiscretionaryFirst(t *testing.T) {
	// Equal amounts across the four cut tiers. Suggestions must come out
	// discretionary, low, medium, high.
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityHigh, false, map[int]string{2025: "100"}),
		entry(2, "DI", budget.PriorityMedium, false, map[int]string{2025: "100"}),
		entry(3, "DI", budget.PriorityLow, false, map[int]string{2025: "100"}),
		entry(4, "DI", budget.PriorityDiscretionary, false, map[int]string{2025: "100"}),
	}
	target := amount("400")
	plan := optimize.SuggestCuts(entries, amount("0"), &target, 2025)

	require.Len(t, plan.Suggestions, 4)
	assert.Equal(t, budget.EntryID(4), plan.Suggestions[0].EntryID)
	assert.Equal(t, budget.EntryID(3), plan.Suggestions[1].EntryID)
	assert.Equal(t, budget.EntryID(2), plan.Suggestions[2].EntryID)
	assert.Equal(t, budget.EntryID(1), plan.Suggestions[3].EntryID)
}

func TestSuggestCuts_LargeDeferrableGetsReducedNotOverCut(t *testing.T) {
	// A deferrable entry larger than the remaining target must be reduced
	// by exactly the target, never zeroed.
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityLow, false, map[int]string{2025: "500"}),
	}
	target := amount("120")
	plan := optimize.SuggestCuts(entries, amount("1000"), &target, 2025)

	require.Len(t, plan.Suggestions, 1)
	s := plan.Suggestions[0]
	assert.Equal(t, optimize.ActionReduce, s.Action)
	assert.Equal(t, "380", s.SuggestedAmount.String())
	assert.Equal(t, "120", s.Savings.String())
	assert.True(t, plan.CanMeetTarget)
}

func TestSuggestCuts_SavingsNeverExceedTarget(t *testing.T) {
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityMedium, false, map[int]string{2025: "300"}),
		entry(2, "DA", budget.PriorityMedium, false, map[int]string{2025: "200"}),
	}
	target := amount("100")
	plan := optimize.SuggestCuts(entries, amount("0"), &target, 2025)

	assert.Equal(t, "100", plan.AchievableReduction.String())
}

// =============================================================================
// MULTI-YEAR ALLOCATION TESTS
// =============================================================================

func TestOptimizeAllocation_ShiftsGapToSurplusYear(t *testing.T) {
	// GIVEN: 2025 is short 20 on deferrable demand, 2026 has 30 surplus
	// WHEN: Optimizing the allocation
	// THEN: One shift of 20 from 2025 to 2026

	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, true, map[int]string{2025: "90", 2026: "50"}),
		entry(2, "DI", budget.PriorityLow, false, map[int]string{2025: "30", 2026: "40"}),
	}
	limits := map[int]decimal.Decimal{
		2025: amount("100"),
		2026: amount("120"),
	}

	plan := optimize.OptimizeAllocation(entries, limits)

	require.Len(t, plan.Years, 2)
	y25, y26 := plan.Years[0], plan.Years[1]

	assert.Equal(t, "90", y25.NonDeferrable.String())
	assert.Equal(t, "30", y25.DeferrableDemand.String())
	assert.Equal(t, "10", y25.DeferrableAllocated.String())

	assert.Equal(t, "50", y26.NonDeferrable.String())
	assert.Equal(t, "40", y26.DeferrableDemand.String())
	assert.Equal(t, "40", y26.DeferrableAllocated.String())

	require.Len(t, plan.Shifts, 1)
	shift := plan.Shifts[0]
	assert.Equal(t, 2025, shift.FromYear)
	assert.Equal(t, 2026, shift.ToYear)
	assert.Equal(t, "20", shift.Amount.String())
}

func TestOptimizeAllocation_NoSurplusMeansGapStays(t *testing.T) {
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityLow, false, map[int]string{2025: "200", 2026: "200"}),
	}
	limits := map[int]decimal.Decimal{
		2025: amount("100"),
		2026: amount("100"),
	}

	plan := optimize.OptimizeAllocation(entries, limits)

	assert.Empty(t, plan.Shifts)
	assert.Equal(t, "100", plan.Years[0].Gap.String())
	assert.Equal(t, "100", plan.Years[1].Gap.String())
}

func TestOptimizeAllocation_HighPriorityCountsAsNonDeferrable(t *testing.T) {
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityHigh, false, map[int]string{2025: "60"}),
		entry(2, "DI", budget.PriorityMedium, false, map[int]string{2025: "40"}),
	}
	limits := map[int]decimal.Decimal{2025: amount("100")}

	plan := optimize.OptimizeAllocation(entries, limits)

	require.Len(t, plan.Years, 1)
	assert.Equal(t, "60", plan.Years[0].NonDeferrable.String())
	assert.Equal(t, "40", plan.Years[0].DeferrableDemand.String())
	assert.Equal(t, "40", plan.Years[0].DeferrableAllocated.String())
	assert.True(t, plan.Years[0].Gap.IsZero())
}

func TestOptimizeAllocation_NonDeferrableAboveLimit(t *testing.T) {
	// Obligatory spend alone exceeds the limit; the deferrable demand gets
	// nothing and the whole of it is a gap.
	entries := []budget.BudgetEntry{
		entry(1, "DI", budget.PriorityObligatory, true, map[int]string{2025: "150"}),
		entry(2, "DI", budget.PriorityLow, false, map[int]string{2025: "50"}),
	}
	limits := map[int]decimal.Decimal{2025: amount("100")}

	plan := optimize.OptimizeAllocation(entries, limits)

	require.Len(t, plan.Years, 1)
	assert.True(t, plan.Years[0].DeferrableAllocated.IsZero())
	assert.Equal(t, "50", plan.Years[0].Gap.String())
	assert.True(t, plan.Years[0].Surplus.IsZero())
}
