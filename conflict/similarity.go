/*
Package conflict detects overlapping budget entries across departments and
resolves them.

PURPOSE:
  Departments file entries independently, and the same procurement or
  project regularly shows up twice under different names. The detector
  scores every cross-department pair and persists candidates above a
  similarity floor; the resolver consolidates, keeps, or defers the pair
  under version checks so a stale snapshot never clobbers a newer edit.

SCORING:
  similarity = 0.40 * text ratio
             + 0.40 * category overlap (Jaccard over keyword categories)
             + 0.20 * paragraph match

  Bands: >= 0.85 duplicate, >= 0.70 overlap, >= 0.60 similar. Pairs below
  0.60 are not recorded.

SEE ALSO:
  - resolve.go: Applying a resolution to a detected pair
  - budget/store.go: ConflictStore persistence contract
*/
package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// CONFLICT TYPES AND WEIGHTS
// =============================================================================

const (
	TypeDuplicate = "duplicate"
	TypeOverlap   = "overlap"
	TypeSimilar   = "similar"
)

const (
	duplicateThreshold = 0.85
	overlapThreshold   = 0.70
	similarThreshold   = 0.60
)

const (
	textWeight      = 0.40
	categoryWeight  = 0.40
	paragraphWeight = 0.20
)

// consolidationFactor is the share of the combined amount kept when two
// entries are merged. The remainder is the assumed saving from doing the
// work once.
const consolidationFactor = 0.85

// maxCompareRunes caps the text fed to the ratio computation. The DP table
// is quadratic in input length and entry descriptions can be long.
const maxCompareRunes = 400

// spendCategories bucket entries by what the money buys. Keywords are stems
// in both Polish and English since entries arrive in either language.
var spendCategories = map[string][]string{
	"cybersecurity":  {"cyber", "security", "bezpiecze", "soc", "csirt", "antywir", "firewall"},
	"cloud":          {"cloud", "chmur", "saas", "iaas", "hosting"},
	"hardware":       {"hardware", "sprzet", "server", "serwer", "laptop", "komputer"},
	"software":       {"software", "oprogramowan", "licen", "license", "system"},
	"network":        {"network", "siec", "lan", "wan", "lacz", "internet"},
	"training":       {"training", "szkolen", "kurs", "certyf"},
	"consulting":     {"consult", "doradz", "audyt", "audit", "analiz"},
	"infrastructure": {"infrastruktur", "infrastructure", "budowa", "modernizacja", "utrzyman", "maintenance"},
}

// =============================================================================
// PAIR SCORING
// =============================================================================

type Candidate struct {
	EntryA     budget.EntryID
	EntryB     budget.EntryID
	Type       string
	Similarity float64

	// PotentialSavings is the estimated saving from consolidating, taken
	// as the consolidation share of the smaller amount.
	PotentialSavings decimal.Decimal
}

// Score computes the similarity of two entries. It is symmetric.
func Score(a, b *budget.BudgetEntry) float64 {
	text := textRatio(entryText(a), entryText(b))
	category := categoryJaccard(a, b)

	paragraph := 0.0
	if a.Paragraph == b.Paragraph {
		paragraph = 1.0
	}

	return textWeight*text + categoryWeight*category + paragraphWeight*paragraph
}

// Classify maps a similarity score to a conflict type, or "" when the score
// is below the reporting floor.
func Classify(similarity float64) string {
	switch {
	case similarity >= duplicateThreshold:
		return TypeDuplicate
	case similarity >= overlapThreshold:
		return TypeOverlap
	case similarity >= similarThreshold:
		return TypeSimilar
	default:
		return ""
	}
}

// DetectPairs scores every cross-department pair with a positive amount for
// the year and returns candidates at or above the similarity floor, highest
// similarity first.
func DetectPairs(entries []budget.BudgetEntry, year int) []Candidate {
	var eligible []*budget.BudgetEntry
	for i := range entries {
		e := &entries[i]
		if !e.CountsTowardTotals() {
			continue
		}
		if !e.Amount(year).IsPositive() {
			continue
		}
		eligible = append(eligible, e)
	}

	var candidates []Candidate
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			a, b := eligible[i], eligible[j]
			if a.DepartmentCode == b.DepartmentCode {
				continue
			}
			similarity := Score(a, b)
			kind := Classify(similarity)
			if kind == "" {
				continue
			}
			// Stable ordering inside the pair keeps the store key
			// independent of scan order.
			if a.ID > b.ID {
				a, b = b, a
			}
			smaller := decimal.Min(a.Amount(year), b.Amount(year))
			candidates = append(candidates, Candidate{
				EntryA:           a.ID,
				EntryB:           b.ID,
				Type:             kind,
				Similarity:       similarity,
				PotentialSavings: smaller.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(consolidationFactor))),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		if candidates[i].EntryA != candidates[j].EntryA {
			return candidates[i].EntryA < candidates[j].EntryA
		}
		return candidates[i].EntryB < candidates[j].EntryB
	})
	return candidates
}

func entryText(e *budget.BudgetEntry) string {
	return normalize(e.TaskName + " " + e.Description)
}

// textRatio is 2*matches/(len(a)+len(b)) where matches is the length of the
// longest common subsequence. Equals 1.0 for identical strings, 0.0 for
// disjoint ones.
func textRatio(a, b string) float64 {
	ra, rb := truncateRunes(a), truncateRunes(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	// One-row LCS table.
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

func truncateRunes(s string) []rune {
	r := []rune(s)
	if len(r) > maxCompareRunes {
		r = r[:maxCompareRunes]
	}
	return r
}

// categoryJaccard is |A intersect B| / |A union B| over the spend categories
// each entry matches. Two uncategorized entries score 0.
func categoryJaccard(a, b *budget.BudgetEntry) float64 {
	ca := categoriesOf(a)
	cb := categoriesOf(b)
	if len(ca) == 0 && len(cb) == 0 {
		return 0.0
	}

	union := make(map[string]bool, len(ca)+len(cb))
	intersect := 0
	for c := range ca {
		union[c] = true
	}
	for c := range cb {
		if ca[c] {
			intersect++
		}
		union[c] = true
	}
	return float64(intersect) / float64(len(union))
}

func categoriesOf(e *budget.BudgetEntry) map[string]bool {
	text := normalize(e.TaskName + " " + e.Description + " " + e.Justification)
	matched := make(map[string]bool)
	for cat, keywords := range spendCategories {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matched[cat] = true
				break
			}
		}
	}
	return matched
}

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

// =============================================================================
// DETECTOR - Store-backed scan
// =============================================================================

// Detector scans the store and persists detected pairs.
type Detector struct {
	Store budget.Store
}

func NewDetector(store budget.Store) *Detector {
	return &Detector{Store: store}
}

// Scan detects conflicts for the year and upserts each candidate. Records
// already resolved keep their resolution; pending ones get their similarity
// refreshed. Returns the persisted records, highest similarity first.
func (d *Detector) Scan(ctx context.Context, year int) ([]budget.ConflictRecord, error) {
	entries, err := d.Store.ListEntries(ctx, budget.EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing entries for conflict scan: %w", err)
	}

	candidates := DetectPairs(entries, year)
	records := make([]budget.ConflictRecord, 0, len(candidates))
	for _, c := range candidates {
		rec, err := d.Store.UpsertConflict(ctx, budget.ConflictRecord{
			EntryA:     c.EntryA,
			EntryB:     c.EntryB,
			Type:       c.Type,
			Similarity: c.Similarity,
			Status:     budget.ConflictPending,
		})
		if err != nil {
			return nil, fmt.Errorf("recording conflict between entries %d and %d: %w", c.EntryA, c.EntryB, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
