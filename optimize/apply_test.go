package optimize_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	memorystore "github.com/warp/budget-engine/budget/store"
	"github.com/warp/budget-engine/optimize"
)

// =============================================================================
// ENGINE TESTS - store-backed operations
// =============================================================================

func seedEntry(t *testing.T, store budget.Store, e budget.BudgetEntry) budget.BudgetEntry {
	t.Helper()
	err := store.InsertEntry(context.Background(), &e, budget.AuditEntry{
		Action: budget.AuditEntryCreated, Actor: "test",
	})
	require.NoError(t, err)
	return e
}

func TestEngineGapAnalysis_NoLimitConfigured(t *testing.T) {
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)

	_, err := eng.GapAnalysis(context.Background(), 2025)

	var cfgErr *budget.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 2025, cfgErr.Year)
}

func TestEngineMultiYear_NoLimitsAtAll(t *testing.T) {
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)

	_, err := eng.MultiYearAllocation(context.Background())
	assert.ErrorIs(t, err, budget.ErrNoLimitConfigured)
}

func TestApplySuggestion_DeferMovesAmountToNextYear(t *testing.T) {
	// GIVEN: A low-priority entry with 100 in 2025
	// WHEN: Applying a defer
	// THEN: 2025 drops to zero, 2026 gains 100, status flips to
	//       needs_revision and the change is audited.

	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)
	e := seedEntry(t, store, entry(0, "DI", budget.PriorityLow, false, map[int]string{2025: "100", 2026: "40"}))

	result, err := eng.ApplySuggestion(ctx, e.ID, optimize.ActionDefer, nil, 2025, "reviewer")
	require.NoError(t, err)

	assert.Equal(t, "100", result.OldAmount.String())
	assert.True(t, result.NewAmount.IsZero())
	assert.True(t, result.Entry.Amount(2025).IsZero())
	assert.Equal(t, "140", result.Entry.Amount(2026).String())
	assert.Equal(t, budget.StatusNeedsRevision, result.Entry.Status)
	assert.Contains(t, result.Entry.Notes, "[deferred 100 from 2025 to 2026]")

	history, err := store.AuditByEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, budget.AuditOptimization, history[len(history)-1].Action)
}

func TestApplySuggestion_ReduceSetsNewAmount(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)
	e := seedEntry(t, store, entry(0, "DI", budget.PriorityMedium, false, map[int]string{2025: "200"}))

	newAmount := amount("140")
	result, err := eng.ApplySuggestion(ctx, e.ID, optimize.ActionReduce, &newAmount, 2025, "reviewer")
	require.NoError(t, err)

	assert.Equal(t, "140", result.Entry.Amount(2025).String())
	assert.Contains(t, result.Entry.Notes, "[reduced from 200 to 140 for 2025]")
}

func TestApplySuggestion_ReduceRequiresAmount(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)
	e := seedEntry(t, store, entry(0, "DI", budget.PriorityMedium, false, map[int]string{2025: "200"}))

	_, err := eng.ApplySuggestion(ctx, e.ID, optimize.ActionReduce, nil, 2025, "reviewer")

	var vErr *budget.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestApplySuggestion_NegativeAmountRejected(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)
	e := seedEntry(t, store, entry(0, "DI", budget.PriorityMedium, false, map[int]string{2025: "200"}))

	bad := amount("-10")
	_, err := eng.ApplySuggestion(ctx, e.ID, optimize.ActionReduce, &bad, 2025, "reviewer")

	var vErr *budget.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestApplySuggestion_ProtectedEntryRefused(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)
	e := seedEntry(t, store, entry(0, "DA", budget.PriorityObligatory, true, map[int]string{2025: "500"}))

	_, err := eng.ApplySuggestion(ctx, e.ID, optimize.ActionDefer, nil, 2025, "reviewer")

	var pErr *budget.ProtectedEntryError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, e.ID, pErr.EntryID)

	// Entry must be untouched.
	after, err := store.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "500", after.Amount(2025).String())
}

func TestApplySuggestion_UnknownEntry(t *testing.T) {
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)

	_, err := eng.ApplySuggestion(context.Background(), 9999, optimize.ActionDefer, nil, 2025, "reviewer")
	assert.True(t, errors.Is(err, budget.ErrEntryNotFound))
}

func TestEngineDepartmentAllocation_WorstOffenderFirst(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewMemory()
	eng := optimize.NewEngine(store)

	require.NoError(t, store.SaveDepartment(ctx, budget.Department{Code: "DI", Name: "Informatics", BudgetLimit: amount("100")}))
	require.NoError(t, store.SaveDepartment(ctx, budget.Department{Code: "DA", Name: "Administration", BudgetLimit: amount("100")}))

	seedEntry(t, store, entry(0, "DI", budget.PriorityMedium, false, map[int]string{2025: "90"}))
	seedEntry(t, store, entry(0, "DA", budget.PriorityMedium, false, map[int]string{2025: "180"}))

	allocations, err := eng.DepartmentAllocation(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	assert.Equal(t, "DA", allocations[0].Code)
	assert.True(t, allocations[0].IsOverLimit)
	assert.Equal(t, "80", allocations[0].Variance.String())
	assert.Equal(t, "DI", allocations[1].Code)
	assert.False(t, allocations[1].IsOverLimit)
}
