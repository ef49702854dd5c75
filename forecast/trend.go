/*
Package forecast projects budget demand across future years and flags
anomalous entries.

PURPOSE:
  Feeds the allocation optimizer with projected multi-year demand and
  gives the central office an early-warning pass over submitted entries:
  statistical outliers, large amounts without justification, and entries
  whose priority disagrees with their budget classification.

MODEL:
  The trend model is deliberately simple: a compounding year-over-year
  growth rate derived from the per-year amounts already on file, falling
  back to a configured default when fewer than two positive yearly totals
  exist. Confidence decays linearly from 0.9 to 0.5 across the horizon.

  This is a planning aid, not an econometric model. Output is read-only
  and never mutates entries.

SEE ALSO:
  - anomaly.go: Outlier and classification checks
  - optimize/allocation.go: Consumer of projected demand
*/
package forecast

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// CATEGORIES - Keyword classification for the breakdown
// =============================================================================

// categoryKeywords classifies entries for the forecast breakdown. Matching
// is against the concatenated task name, description, and justification.
var categoryKeywords = map[string][]string{
	"cybersecurity":          {"cyber", "security", "csirt", "soc", "bezpiecze"},
	"digital_transformation": {"transformation", "digitis", "digitiz", "cyfryz", "eidas"},
	"maintenance":            {"maintenance", "utrzyman", "eksploat", "support", "serwis"},
	"contracts":              {"contract", "umowa", "realizacja"},
	"staff":                  {"salar", "wynagrodzen", "staff", "kadry", "zus"},
}

const categoryOther = "other"

// Categorize assigns an entry to the first matching category, checked in a
// fixed order for determinism.
func Categorize(e *budget.BudgetEntry) string {
	text := normalize(e.TaskName + " " + e.Description + " " + e.Justification)
	for _, cat := range categoryOrder() {
		for _, kw := range categoryKeywords[cat] {
			if containsWord(text, kw) {
				return cat
			}
		}
	}
	return categoryOther
}

func categoryOrder() []string {
	cats := make([]string, 0, len(categoryKeywords))
	for c := range categoryKeywords {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// =============================================================================
// TREND LABELS
// =============================================================================

const (
	TrendRapidlyIncreasing = "rapidly_increasing"
	TrendIncreasing        = "increasing"
	TrendStable            = "stable"
	TrendDecreasing        = "decreasing"
)

// TrendLabel maps an annualized growth percentage to a trend label.
func TrendLabel(annualGrowthPct decimal.Decimal) string {
	switch {
	case annualGrowthPct.GreaterThan(decimal.NewFromInt(15)):
		return TrendRapidlyIncreasing
	case annualGrowthPct.GreaterThan(decimal.NewFromInt(2)):
		return TrendIncreasing
	case annualGrowthPct.GreaterThanOrEqual(decimal.NewFromInt(-2)):
		return TrendStable
	default:
		return TrendDecreasing
	}
}

// =============================================================================
// FORECAST
// =============================================================================

type YearForecast struct {
	Year           int
	PredictedTotal decimal.Decimal
	Confidence     decimal.Decimal
	Trend          string
	ByCategory     map[string]decimal.Decimal
}

type Result struct {
	BaseYear        int
	BaseTotal       decimal.Decimal
	AnnualGrowthPct decimal.Decimal
	Trend           string
	Forecasts       []YearForecast
}

// Forecast projects totals for horizon years beyond baseYear. Growth comes
// from the year-over-year history of per-year amounts up to baseYear; with
// fewer than two positive yearly totals it falls back to defaultGrowth
// (a rate, e.g. 0.03 for 3%).
func Forecast(entries []budget.BudgetEntry, baseYear, horizon int, defaultGrowth decimal.Decimal) Result {
	totals := yearTotals(entries)

	baseTotal := totals[baseYear]
	growth := historicalGrowth(totals, baseYear, defaultGrowth)
	growthPct := growth.Mul(decimal.NewFromInt(100))

	result := Result{
		BaseYear:        baseYear,
		BaseTotal:       baseTotal,
		AnnualGrowthPct: growthPct,
		Trend:           TrendLabel(growthPct),
	}

	baseByCategory := categoryTotals(entries, baseYear)
	factor := decimal.NewFromInt(1).Add(growth)

	compounded := decimal.NewFromInt(1)
	for offset := 1; offset <= horizon; offset++ {
		compounded = compounded.Mul(factor)

		byCategory := make(map[string]decimal.Decimal, len(baseByCategory))
		for cat, amount := range baseByCategory {
			byCategory[cat] = amount.Mul(compounded)
		}

		result.Forecasts = append(result.Forecasts, YearForecast{
			Year:           baseYear + offset,
			PredictedTotal: baseTotal.Mul(compounded),
			Confidence:     confidence(offset, horizon),
			Trend:          result.Trend,
			ByCategory:     byCategory,
		})
	}

	return result
}

// confidence decays linearly from 0.9 (first horizon year) to 0.5 (last).
func confidence(offset, horizon int) decimal.Decimal {
	high := decimal.NewFromFloat(0.9)
	if horizon <= 1 {
		return high
	}
	span := decimal.NewFromFloat(0.4)
	step := decimal.NewFromInt(int64(offset - 1)).
		Div(decimal.NewFromInt(int64(horizon - 1)))
	return high.Sub(span.Mul(step))
}

// historicalGrowth averages year-over-year growth across consecutive years
// with positive totals up to and including baseYear.
func historicalGrowth(totals map[int]decimal.Decimal, baseYear int, fallback decimal.Decimal) decimal.Decimal {
	var years []int
	for year, total := range totals {
		if year <= baseYear && total.IsPositive() {
			years = append(years, year)
		}
	}
	if len(years) < 2 {
		return fallback
	}
	sort.Ints(years)

	sum := decimal.Zero
	samples := 0
	for i := 1; i < len(years); i++ {
		if years[i] != years[i-1]+1 {
			continue
		}
		prev, cur := totals[years[i-1]], totals[years[i]]
		sum = sum.Add(cur.Div(prev).Sub(decimal.NewFromInt(1)))
		samples++
	}
	if samples == 0 {
		return fallback
	}
	return sum.Div(decimal.NewFromInt(int64(samples)))
}

func yearTotals(entries []budget.BudgetEntry) map[int]decimal.Decimal {
	totals := make(map[int]decimal.Decimal)
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		for year, amount := range e.Amounts {
			totals[year] = totals[year].Add(amount)
		}
	}
	return totals
}

func categoryTotals(entries []budget.BudgetEntry, year int) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		amount := e.Amount(year)
		if !amount.IsPositive() {
			continue
		}
		cat := Categorize(e)
		totals[cat] = totals[cat].Add(amount)
	}
	return totals
}
