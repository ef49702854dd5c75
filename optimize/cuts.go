/*
cuts.go - Cut Suggester: rank candidates and propose defer/reduce actions

PURPOSE:
  Given entries over the global limit, propose a deterministic plan of
  deferrals and reductions that reaches a target saving while never
  touching protected items.

POLICY:
  1. Partition: obligatory entries (tier or flag) go to ProtectedItems and
     are never candidates.
  2. Rank: candidates sort by cut order (discretionary, low, medium, high),
     then by descending amount, then by ascending id.
  3. Greedy selection: deferrable tiers (discretionary/low) whose full
     amount fits in the remaining target are deferred entirely; everything
     else is reduced by exactly the remaining target, never more.

  The plan is read-only. Applying a suggestion is a separate, explicit
  operation (apply.go) so a human stays in the loop.

SEE ALSO:
  - budget/types.go: CutRank order table
  - apply.go: ApplySuggestion
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
// SUGGESTION TYPES
// =============================================================================

type Action string

const (
	ActionDefer  Action = "defer"
	ActionReduce Action = "reduce"
)

type Suggestion struct {
	EntryID         budget.EntryID
	TaskName        string
	Department      string
	Priority        budget.Priority
	Action          Action
	CurrentAmount   decimal.Decimal
	SuggestedAmount decimal.Decimal
	Savings         decimal.Decimal
	Reason          string
}

type ProtectedItem struct {
	EntryID  budget.EntryID
	TaskName string
	Amount   decimal.Decimal
	Reason   string
}

type SuggestionPlan struct {
	Year                int
	Gap                 GapAnalysis
	TargetReduction     decimal.Decimal
	AchievableReduction decimal.Decimal
	CanMeetTarget       bool
	Suggestions         []Suggestion
	ProtectedItems      []ProtectedItem
}

// =============================================================================
// SUGGEST CUTS
// =============================================================================

// SuggestCuts builds a suggestion plan for a year. target nil means "cut
// exactly back to the limit" (the gap variance). Pure and read-only.
func SuggestCuts(entries []budget.BudgetEntry, limit decimal.Decimal, target *decimal.Decimal, year int) SuggestionPlan {
	gap := AnalyzeGap(entries, limit, year)

	plan := SuggestionPlan{
		Year:                year,
		Gap:                 gap,
		AchievableReduction: decimal.Zero,
	}

	if target != nil {
		plan.TargetReduction = *target
	} else {
		plan.TargetReduction = gap.Variance
	}

	// Partition protected items first; they are reported but never ranked.
	var candidates []budget.BudgetEntry
	for i := range entries {
		e := entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		if e.IsProtected() {
			if e.Amount(year).IsPositive() {
				plan.ProtectedItems = append(plan.ProtectedItems, ProtectedItem{
					EntryID:  e.ID,
					TaskName: e.DisplayName(),
					Amount:   e.Amount(year),
					Reason:   "obligatory task / legal requirement",
				})
			}
			continue
		}
		if !e.Amount(year).IsPositive() {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(plan.ProtectedItems, func(i, j int) bool {
		return plan.ProtectedItems[i].EntryID < plan.ProtectedItems[j].EntryID
	})

	// Already within limit: nothing to do.
	if !plan.TargetReduction.IsPositive() {
		plan.CanMeetTarget = true
		return plan
	}

	// Rank by (cut order, -amount, id). Unknown priorities count as medium.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]
		ra, _ := budget.CutRank(budget.NormalizePriority(a.Priority))
		rb, _ := budget.CutRank(budget.NormalizePriority(b.Priority))
		if ra != rb {
			return ra < rb
		}
		amtA, amtB := a.Amount(year), b.Amount(year)
		if !amtA.Equal(amtB) {
			return amtA.GreaterThan(amtB)
		}
		return a.ID < b.ID
	})

	remaining := plan.TargetReduction
	for i := range candidates {
		if !remaining.IsPositive() {
			break
		}
		e := &candidates[i]
		amount := e.Amount(year)
		tier := budget.NormalizePriority(e.Priority)

		var s Suggestion
		if tier.Deferrable() && !amount.GreaterThan(remaining) {
			// Full deferral: the whole amount moves out of this year.
			s = Suggestion{
				EntryID:         e.ID,
				TaskName:        e.DisplayName(),
				Department:      e.DepartmentCode,
				Priority:        tier,
				Action:          ActionDefer,
				CurrentAmount:   amount,
				SuggestedAmount: decimal.Zero,
				Savings:         amount,
				Reason:          fmt.Sprintf("defer to %d - task is not critical in %d", year+1, year),
			}
		} else {
			// Partial reduction capped at the remaining target.
			suggested := amount.Sub(remaining)
			if suggested.IsNegative() {
				suggested = decimal.Zero
			}
			s = Suggestion{
				EntryID:         e.ID,
				TaskName:        e.DisplayName(),
				Department:      e.DepartmentCode,
				Priority:        tier,
				Action:          ActionReduce,
				CurrentAmount:   amount,
				SuggestedAmount: suggested,
				Savings:         amount.Sub(suggested),
				Reason:          fmt.Sprintf("reduce to %s - retains core scope", suggested.StringFixed(0)),
			}
		}

		plan.Suggestions = append(plan.Suggestions, s)
		plan.AchievableReduction = plan.AchievableReduction.Add(s.Savings)
		remaining = remaining.Sub(s.Savings)
	}

	plan.CanMeetTarget = !plan.AchievableReduction.LessThan(plan.TargetReduction)
	return plan
}

// SuggestCuts fetches the snapshot for a year and builds the plan.
// Fails with ConfigError when no global limit is configured.
func (eng *Engine) SuggestCuts(ctx context.Context, year int, target *decimal.Decimal) (SuggestionPlan, error) {
	limit, err := eng.Store.GetLimit(ctx, year)
	if err != nil {
		return SuggestionPlan{}, err
	}
	if limit == nil {
		return SuggestionPlan{}, &budget.ConfigError{Year: year}
	}

	entries, err := eng.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return SuggestionPlan{}, err
	}

	return SuggestCuts(entries, limit.Limit, target, year), nil
}
