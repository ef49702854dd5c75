package conflict_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	memorystore "github.com/warp/budget-engine/budget/store"
	"github.com/warp/budget-engine/conflict"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func entry(id budget.EntryID, dept, task, description string, paragraph int, amounts map[int]string) budget.BudgetEntry {
	parsed := make(map[int]decimal.Decimal, len(amounts))
	for year, raw := range amounts {
		parsed[year] = budget.MustDecimal(raw)
	}
	return budget.BudgetEntry{
		ID:             id,
		DepartmentCode: dept,
		TaskName:       task,
		Description:    description,
		Paragraph:      paragraph,
		Priority:       budget.PriorityMedium,
		Status:         budget.StatusDraft,
		Amounts:        parsed,
	}
}

func seed(t *testing.T, store budget.Store, e budget.BudgetEntry) budget.BudgetEntry {
	t.Helper()
	err := store.InsertEntry(context.Background(), &e, budget.AuditEntry{
		Action: budget.AuditEntryCreated, Actor: "test",
	})
	require.NoError(t, err)
	return e
}

// =============================================================================
// SCORING TESTS
// =============================================================================

func TestScore_IdenticalEntries(t *testing.T) {
	a := entry(1, "DI", "Cybersecurity monitoring platform", "SOC monitoring with SIEM", 4300, nil)
	b := entry(2, "DF", "Cybersecurity monitoring platform", "SOC monitoring with SIEM", 4300, nil)

	score := conflict.Score(&a, &b)

	// Identical text, identical categories, same paragraph.
	assert.InDelta(t, 1.0, score, 0.001)
	assert.Equal(t, conflict.TypeDuplicate, conflict.Classify(score))
}

func TestScore_IsSymmetric(t *testing.T) {
	a := entry(1, "DI", "Cybersecurity monitoring platform", "SOC deployment", 4300, nil)
	b := entry(2, "DF", "Security monitoring services", "SOC purchase for finance systems", 4210, nil)

	assert.InDelta(t, conflict.Score(&a, &b), conflict.Score(&b, &a), 0.0001)
}

func TestScore_UnrelatedEntries(t *testing.T) {
	a := entry(1, "DI", "Cybersecurity monitoring platform", "SOC deployment", 4300, nil)
	b := entry(2, "DA", "Fleet renewal", "Replacement of passenger vehicles", 6060, nil)

	score := conflict.Score(&a, &b)

	assert.Less(t, score, 0.6)
	assert.Equal(t, "", conflict.Classify(score))
}

func TestClassify_Bands(t *testing.T) {
	assert.Equal(t, conflict.TypeDuplicate, conflict.Classify(0.85))
	assert.Equal(t, conflict.TypeOverlap, conflict.Classify(0.84))
	assert.Equal(t, conflict.TypeOverlap, conflict.Classify(0.70))
	assert.Equal(t, conflict.TypeSimilar, conflict.Classify(0.69))
	assert.Equal(t, conflict.TypeSimilar, conflict.Classify(0.60))
	assert.Equal(t, "", conflict.Classify(0.59))
}

// =============================================================================
// PAIR DETECTION TESTS
// =============================================================================

func TestDetectPairs_CrossDepartmentOnly(t *testing.T) {
	// Identical entries in the SAME department are not a conflict; the
	// same pair across departments is.
	sameA := entry(1, "DI", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})
	sameB := entry(2, "DI", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})
	cross := entry(3, "DF", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "80"})

	candidates := conflict.DetectPairs([]budget.BudgetEntry{sameA, sameB, cross}, 2025)

	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.Equal(t, budget.EntryID(3), c.EntryB)
	}
}

func TestDetectPairs_SkipsZeroAmountYears(t *testing.T) {
	a := entry(1, "DI", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2026: "100"})
	b := entry(2, "DF", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})

	candidates := conflict.DetectPairs([]budget.BudgetEntry{a, b}, 2025)
	assert.Empty(t, candidates)
}

func TestDetectPairs_PotentialSavings(t *testing.T) {
	// Savings = 15% of the smaller amount.
	a := entry(1, "DI", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "200"})
	b := entry(2, "DF", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})

	candidates := conflict.DetectPairs([]budget.BudgetEntry{a, b}, 2025)

	require.Len(t, candidates, 1)
	assert.Equal(t, "15", candidates[0].PotentialSavings.Round(4).String())
}

func TestDetectPairs_StablePairOrder(t *testing.T) {
	// Pair keys come out (lower ID, higher ID) regardless of input order.
	a := entry(7, "DI", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})
	b := entry(2, "DF", "Cybersecurity monitoring", "SOC with SIEM", 4300, map[int]string{2025: "100"})

	candidates := conflict.DetectPairs([]budget.BudgetEntry{a, b}, 2025)

	require.Len(t, candidates, 1)
	assert.Equal(t, budget.EntryID(2), candidates[0].EntryA)
	assert.Equal(t, budget.EntryID(7), candidates[0].EntryB)
}

// =============================================================================
// DETECTOR SCAN TESTS
// =============================================================================

func TestDetectorScan_PersistsPending(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	detector := conflict.NewDetector(store)

	seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))

	records, err := detector.Scan(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, budget.ConflictPending, records[0].Status)
	assert.NotEmpty(t, records[0].ID)

	// A rescan refreshes rather than duplicates.
	again, err := detector.Scan(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, records[0].ID, again[0].ID)

	persisted, err := store.ListConflicts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

// =============================================================================
// RESOLUTION TESTS
// =============================================================================

func detectOne(t *testing.T, store budget.Store) budget.ConflictRecord {
	t.Helper()
	records, err := conflict.NewDetector(store).Scan(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func TestResolve_Consolidate(t *testing.T) {
	// GIVEN: Two overlapping entries, 200 and 100 in 2025
	// WHEN: Consolidating into the first
	// THEN: The kept entry holds 255 (85% of 300), the other is zeroed and
	//       superseded, and the saving is 45.

	ctx := context.Background()
	store := memorystore.NewMemory()
	keepSrc := seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	otherSrc := seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))
	rec := detectOne(t, store)

	outcome, err := conflict.NewResolver(store).Resolve(ctx, conflict.Request{
		ConflictID:  rec.ID,
		Resolution:  conflict.ResolutionConsolidate,
		KeepEntryID: keepSrc.ID,
		Year:        2025,
		Actor:       "reviewer",
	})
	require.NoError(t, err)

	assert.Equal(t, budget.ConflictResolved, outcome.Conflict.Status)
	assert.Equal(t, string(conflict.ResolutionConsolidate), outcome.Conflict.Resolution)

	assert.Equal(t, "255", outcome.Kept.Amount(2025).Round(4).String())
	assert.True(t, outcome.Other.Amount(2025).IsZero())
	assert.Equal(t, budget.StatusSuperseded, outcome.Other.Status)
	assert.Equal(t, "45", outcome.Savings.Round(4).String())
	assert.Contains(t, outcome.Other.Notes, "superseded by")

	// Audit trail covers both entries.
	keptHistory, err := store.AuditByEntry(ctx, keepSrc.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.AuditConflictResolved, keptHistory[len(keptHistory)-1].Action)
	otherHistory, err := store.AuditByEntry(ctx, otherSrc.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.AuditConflictResolved, otherHistory[len(otherHistory)-1].Action)
}

func TestResolve_KeepBothTouchesNoAmounts(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	a := seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))
	rec := detectOne(t, store)

	outcome, err := conflict.NewResolver(store).Resolve(ctx, conflict.Request{
		ConflictID: rec.ID,
		Resolution: conflict.ResolutionKeepBoth,
		Year:       2025,
		Actor:      "reviewer",
	})
	require.NoError(t, err)

	assert.Equal(t, budget.ConflictResolved, outcome.Conflict.Status)
	assert.True(t, outcome.Savings.IsZero())

	after, err := store.GetEntry(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", after.Amount(2025).String())
	assert.Equal(t, budget.StatusDraft, after.Status)
}

func TestResolve_DeferOne(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	keepSrc := seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	otherSrc := seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100", 2026: "50"}))
	rec := detectOne(t, store)

	outcome, err := conflict.NewResolver(store).Resolve(ctx, conflict.Request{
		ConflictID:  rec.ID,
		Resolution:  conflict.ResolutionDeferOne,
		KeepEntryID: keepSrc.ID,
		Year:        2025,
		Actor:       "reviewer",
	})
	require.NoError(t, err)

	require.Equal(t, otherSrc.ID, outcome.Other.ID)
	assert.True(t, outcome.Other.Amount(2025).IsZero())
	assert.Equal(t, "150", outcome.Other.Amount(2026).String())
	assert.Equal(t, "200", outcome.Kept.Amount(2025).String())
}

func TestResolve_UnknownConflict(t *testing.T) {
	store := memorystore.NewMemory()

	_, err := conflict.NewResolver(store).Resolve(context.Background(), conflict.Request{
		ConflictID: "missing",
		Resolution: conflict.ResolutionKeepBoth,
	})
	assert.ErrorIs(t, err, budget.ErrConflictNotFound)
}

func TestResolve_AlreadyResolved(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))
	rec := detectOne(t, store)

	resolver := conflict.NewResolver(store)
	_, err := resolver.Resolve(ctx, conflict.Request{
		ConflictID: rec.ID, Resolution: conflict.ResolutionKeepBoth, Year: 2025,
	})
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, conflict.Request{
		ConflictID: rec.ID, Resolution: conflict.ResolutionKeepBoth, Year: 2025,
	})
	assert.ErrorIs(t, err, budget.ErrInvalidResolution)
}

func TestResolve_KeepIDOutsidePair(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))
	rec := detectOne(t, store)

	_, err := conflict.NewResolver(store).Resolve(ctx, conflict.Request{
		ConflictID:  rec.ID,
		Resolution:  conflict.ResolutionConsolidate,
		KeepEntryID: 9999,
		Year:        2025,
	})
	assert.ErrorIs(t, err, budget.ErrInvalidResolution)

	// Conflict must still be pending after the failed attempt.
	after, err := store.GetConflict(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, budget.ConflictPending, after.Status)
}

func TestResolve_UnknownResolution(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	seed(t, store, entry(0, "DI", "Cybersecurity monitoring platform", "SOC with SIEM", 4300, map[int]string{2025: "200"}))
	seed(t, store, entry(0, "DF", "Cybersecurity monitoring services", "SOC with SIEM", 4300, map[int]string{2025: "100"}))
	rec := detectOne(t, store)

	_, err := conflict.NewResolver(store).Resolve(ctx, conflict.Request{
		ConflictID: rec.ID,
		Resolution: "delete_everything",
		Year:       2025,
	})
	assert.ErrorIs(t, err, budget.ErrInvalidResolution)
}
