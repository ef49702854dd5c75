package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// ANOMALY TYPES
// =============================================================================

const (
	AnomalyOutlier                = "statistical_outlier"
	AnomalyMissingJustification   = "missing_justification"
	AnomalyClassificationMismatch = "classification_mismatch"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

type Anomaly struct {
	EntryID  budget.EntryID
	TaskName string
	Type     string
	Severity string
	Detail   string
	Amount   decimal.Decimal
}

// justificationThreshold is the amount above which an entry must carry a
// substantive justification.
var justificationThreshold = decimal.NewFromInt(10000)

const minJustificationLen = 20

// zScoreThreshold flags amounts more than three standard deviations from
// their cohort mean.
const zScoreThreshold = 3.0

// legallyMandatedParagraphs cover salaries and statutory employer
// contributions. Entries booked here should never be marked optional.
var legallyMandatedParagraphs = map[int]bool{
	4010: true,
	4110: true,
	4120: true,
	4440: true,
	4480: true,
	4520: true,
}

// investmentKeywords must appear somewhere in an entry booked under the
// investment paragraph range.
var investmentKeywords = []string{
	"investment", "inwestyc", "zakup", "purchase", "budowa",
	"construction", "modernizacja", "modernization", "infrastruktur",
	"sprzet", "hardware", "equipment",
}

// =============================================================================
// DETECTION
// =============================================================================

// DetectAnomalies runs all checks over the given entries for one year.
// Results are ordered by severity (high first), then entry ID.
func DetectAnomalies(entries []budget.BudgetEntry, year int) []Anomaly {
	var anomalies []Anomaly
	anomalies = append(anomalies, statisticalOutliers(entries, year)...)
	anomalies = append(anomalies, missingJustifications(entries, year)...)
	anomalies = append(anomalies, classificationMismatches(entries, year)...)

	sort.SliceStable(anomalies, func(i, j int) bool {
		ri, rj := severityRank(anomalies[i].Severity), severityRank(anomalies[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return anomalies[i].EntryID < anomalies[j].EntryID
	})
	return anomalies
}

func severityRank(s string) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// statisticalOutliers groups entries by paragraph group (first digit of the
// paragraph code) and flags amounts with |z| > 3 inside their cohort.
// Cohorts smaller than three entries are skipped.
func statisticalOutliers(entries []budget.BudgetEntry, year int) []Anomaly {
	type member struct {
		entry  *budget.BudgetEntry
		amount float64
	}
	cohorts := make(map[int][]member)
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		amount := e.Amount(year)
		if !amount.IsPositive() {
			continue
		}
		group := e.Paragraph / 100
		cohorts[group] = append(cohorts[group], member{entry: e, amount: amount.InexactFloat64()})
	}

	var anomalies []Anomaly
	for _, members := range cohorts {
		if len(members) < 3 {
			continue
		}
		amounts := make([]float64, len(members))
		for i, m := range members {
			amounts[i] = m.amount
		}
		mean, stddev := meanStddev(amounts)
		if stddev == 0 {
			continue
		}
		for _, m := range members {
			z := (m.amount - mean) / stddev
			if math.Abs(z) <= zScoreThreshold {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				EntryID:  m.entry.ID,
				TaskName: m.entry.DisplayName(),
				Type:     AnomalyOutlier,
				Severity: SeverityHigh,
				Detail: fmt.Sprintf("amount deviates %.1f standard deviations from the paragraph group mean of %.2f",
					z, mean),
				Amount: m.entry.Amount(year),
			})
		}
	}
	return anomalies
}

func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// missingJustifications flags entries above the threshold whose
// justification is empty or too short to mean anything.
func missingJustifications(entries []budget.BudgetEntry, year int) []Anomaly {
	var anomalies []Anomaly
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		amount := e.Amount(year)
		if !amount.GreaterThan(justificationThreshold) {
			continue
		}
		if len(strings.TrimSpace(e.Justification)) >= minJustificationLen {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			EntryID:  e.ID,
			TaskName: e.DisplayName(),
			Type:     AnomalyMissingJustification,
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("amount %s exceeds %s but has no substantive justification", amount, justificationThreshold),
			Amount:   amount,
		})
	}
	return anomalies
}

// classificationMismatches checks two rules: entries booked under an
// investment paragraph (6000 and up) must mention investment activity, and
// entries under legally mandated paragraphs must not carry an optional
// priority.
func classificationMismatches(entries []budget.BudgetEntry, year int) []Anomaly {
	var anomalies []Anomaly
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		amount := e.Amount(year)

		if e.Paragraph >= 6000 && !mentionsInvestment(e) {
			anomalies = append(anomalies, Anomaly{
				EntryID:  e.ID,
				TaskName: e.DisplayName(),
				Type:     AnomalyClassificationMismatch,
				Severity: SeverityMedium,
				Detail:   fmt.Sprintf("paragraph %d is an investment classification but the entry describes no investment activity", e.Paragraph),
				Amount:   amount,
			})
		}

		if legallyMandatedParagraphs[e.Paragraph] && e.Priority.Deferrable() {
			anomalies = append(anomalies, Anomaly{
				EntryID:  e.ID,
				TaskName: e.DisplayName(),
				Type:     AnomalyClassificationMismatch,
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("paragraph %d covers legally mandated spending but priority is %s", e.Paragraph, e.Priority),
				Amount:   amount,
			})
		}
	}
	return anomalies
}

func mentionsInvestment(e *budget.BudgetEntry) bool {
	text := normalize(e.TaskName + " " + e.Description + " " + e.Justification)
	for _, kw := range investmentKeywords {
		if containsWord(text, kw) {
			return true
		}
	}
	return false
}

// =============================================================================
// TEXT HELPERS
// =============================================================================

// normalize lowercases and collapses whitespace and punctuation to single
// spaces so keyword matching is insensitive to formatting.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// containsWord reports whether the keyword appears as a substring of the
// normalized text. Keywords are stems, so prefix matches inside words count.
func containsWord(text, keyword string) bool {
	return strings.Contains(text, keyword)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs forecasts and anomaly scans against the store.
type Engine struct {
	Store         budget.Store
	DefaultGrowth decimal.Decimal
}

func NewEngine(store budget.Store, defaultGrowth decimal.Decimal) *Engine {
	return &Engine{Store: store, DefaultGrowth: defaultGrowth}
}

// Forecast projects totals for the years after baseYear.
func (g *Engine) Forecast(ctx context.Context, baseYear, horizon int) (Result, error) {
	entries, err := g.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("listing entries for forecast: %w", err)
	}
	return Forecast(entries, baseYear, horizon, g.DefaultGrowth), nil
}

// DetectAnomalies scans all counted entries for the given year.
func (g *Engine) DetectAnomalies(ctx context.Context, year int) ([]Anomaly, error) {
	entries, err := g.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing entries for anomaly scan: %w", err)
	}
	return DetectAnomalies(entries, year), nil
}
