/*
handlers_test.go - HTTP-level tests for the API

Tests run the chi router against an in-memory SQLite store and drive the
endpoints the way the frontend does: entry lifecycle, version-checked
edits, optimization, conflicts, forecast, and the demo loader.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logx"
	"github.com/warp/budget-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logx.New(logx.Config{
		Handler: slog.NewTextHandler(io.Discard, nil),
	})
	h := NewHandler(store, 2025, 4, budget.MustDecimal("0.03"), log)
	return h, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func createEntry(t *testing.T, router http.Handler, dept, task string, priority string, amount string) EntryDTO {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/entries", map[string]any{
		"department_code": dept,
		"task_name":       task,
		"justification":   "recurring annual operating expense",
		"paragraph":       4300,
		"priority":        priority,
		"amounts":         map[string]string{"2025": amount},
		"actor":           "tester",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[EntryDTO](t, rec)
}

// =============================================================================
// ENTRY LIFECYCLE TESTS
// =============================================================================

func TestEntryLifecycle_CreateUpdateSubmitApprove(t *testing.T) {
	_, router := newTestServer(t)

	created := createEntry(t, router, "DI", "SOC platform", "medium", "500")
	assert.Equal(t, budget.StatusDraft, created.Status)
	assert.EqualValues(t, 1, created.Version)

	// Version-checked update.
	rec := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/entries/%d", created.ID), map[string]any{
		"task_name":        "SOC monitoring platform",
		"expected_version": created.Version,
		"actor":            "tester",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[EntryDTO](t, rec)
	assert.Equal(t, "SOC monitoring platform", updated.TaskName)
	assert.EqualValues(t, 2, updated.Version)

	// A stale version must be refused.
	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/entries/%d", created.ID), map[string]any{
		"task_name":        "stale write",
		"expected_version": created.Version,
		"actor":            "tester",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Submit, then approve.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/submit", created.ID), map[string]any{"actor": "tester"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, budget.StatusSubmitted, decode[EntryDTO](t, rec).Status)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/approve", created.ID), map[string]any{"actor": "director"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, budget.StatusApproved, decode[EntryDTO](t, rec).Status)

	// Submitted entries are not editable, and draft->approve is not a thing;
	// a second approve must fail the transition check.
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/approve", created.ID), map[string]any{"actor": "director"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// History shows every step.
	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/entries/%d/history", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]AuditDTO](t, rec)
	require.Len(t, history, 4)
	assert.Equal(t, budget.AuditEntryCreated, history[0].Action)
	assert.Equal(t, budget.AuditEntryApproved, history[3].Action)
}

func TestEntryReject_RecordsReason(t *testing.T) {
	_, router := newTestServer(t)
	created := createEntry(t, router, "DI", "Portal redesign", "low", "200")

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/submit", created.ID), map[string]any{"actor": "tester"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/reject", created.ID), map[string]any{
		"actor": "director", "reason": "duplicate of the shared services program",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decode[EntryDTO](t, rec)
	assert.Equal(t, budget.StatusRejected, rejected.Status)
	assert.Contains(t, rejected.Notes, "duplicate of the shared services program")
}

func TestSubmit_RequiresCompleteEntry(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/entries", map[string]any{
		"department_code": "DI",
		"task_name":       "No paragraph",
		"priority":        "medium",
		"amounts":         map[string]string{"2025": "100"},
		"actor":           "tester",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[EntryDTO](t, rec)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/entries/%d/submit", created.ID), map[string]any{"actor": "tester"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntry_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/entries/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// DEPARTMENT LOCK TESTS
// =============================================================================

func TestLockedDepartment_RefusesEdits(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/departments", map[string]any{
		"code": "DI", "name": "Informatics",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	created := createEntry(t, router, "DI", "SOC platform", "medium", "500")

	rec = doJSON(t, router, http.MethodPost, "/api/departments/DI/lock", map[string]any{
		"locked": true, "actor": "scheduler",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/entries/%d", created.ID), map[string]any{
		"task_name":        "should fail",
		"expected_version": created.Version,
		"actor":            "tester",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/entries", map[string]any{
		"department_code": "DI", "task_name": "new while locked",
		"paragraph": 4300, "priority": "low",
		"amounts": map[string]string{"2025": "10"}, "actor": "tester",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPTIMIZATION TESTS
// =============================================================================

func TestGapAnalysisAndSuggestions(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPut, "/api/limits/2025", map[string]any{
		"limit": "150", "actor": "office",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	createEntry(t, router, "DI", "Obligatory baseline", "obligatory", "100")
	low := createEntry(t, router, "DI", "Deferrable work", "low", "50")
	createEntry(t, router, "DA", "Medium project", "medium", "80")

	rec = doJSON(t, router, http.MethodGet, "/api/optimization/gap-analysis?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	gap := decode[GapAnalysisDTO](t, rec)
	assert.Equal(t, "230", gap.CurrentTotal.String())
	assert.Equal(t, "80", gap.Variance.String())
	assert.True(t, gap.IsOverLimit)

	rec = doJSON(t, router, http.MethodGet, "/api/optimization/suggestions?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[SuggestionPlanDTO](t, rec)
	require.Len(t, plan.Suggestions, 2)
	assert.True(t, plan.CanMeetTarget)

	// Apply the defer suggestion.
	rec = doJSON(t, router, http.MethodPost, "/api/optimization/apply", map[string]any{
		"entry_id": low.ID, "action": "defer", "year": 2025, "actor": "office",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/entries/%d", low.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[EntryDTO](t, rec)
	assert.Equal(t, "0", after.Amounts[2025].String())
	assert.Equal(t, "50", after.Amounts[2026].String())
	assert.Equal(t, budget.StatusNeedsRevision, after.Status)
}

func TestGapAnalysis_NoLimitConfigured(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/optimization/gap-analysis?year=2031", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONFLICT TESTS
// =============================================================================

func TestConflictDetectAndResolve(t *testing.T) {
	_, router := newTestServer(t)

	keep := createEntry(t, router, "DI", "Cybersecurity monitoring platform", "high", "200")
	other := createEntry(t, router, "DF", "Cybersecurity monitoring services", "medium", "100")

	rec := doJSON(t, router, http.MethodPost, "/api/conflicts/detect?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detected := decode[[]ConflictDTO](t, rec)
	require.Len(t, detected, 1)
	assert.Equal(t, "pending", detected[0].Status)

	rec = doJSON(t, router, http.MethodPost, "/api/conflicts/"+detected[0].ID+"/resolve", map[string]any{
		"resolution":    "consolidate",
		"keep_entry_id": keep.ID,
		"year":          2025,
		"actor":         "office",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/entries/%d", other.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	superseded := decode[EntryDTO](t, rec)
	assert.Equal(t, budget.StatusSuperseded, superseded.Status)
	assert.Equal(t, "0", superseded.Amounts[2025].String())

	rec = doJSON(t, router, http.MethodGet, "/api/conflicts/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, summary["total"])
}

// =============================================================================
// FORECAST AND DASHBOARD TESTS
// =============================================================================

func TestForecastEndpoint(t *testing.T) {
	_, router := newTestServer(t)
	createEntry(t, router, "DI", "Operations", "medium", "1000")

	rec := doJSON(t, router, http.MethodGet, "/api/forecast?base_year=2025&horizon=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	forecast := decode[ForecastDTO](t, rec)
	assert.Equal(t, 2025, forecast.BaseYear)
	require.Len(t, forecast.Forecasts, 2)
	assert.Equal(t, 2026, forecast.Forecasts[0].Year)
}

func TestAnomaliesEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	// Big amount, one-word justification.
	rec := doJSON(t, router, http.MethodPost, "/api/entries", map[string]any{
		"department_code": "DA", "task_name": "Fleet renewal",
		"justification": "Vehicles", "paragraph": 4210, "priority": "low",
		"amounts": map[string]string{"2025": "890000"}, "actor": "tester",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/forecast/anomalies?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anomalies := decode[[]AnomalyDTO](t, rec)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "missing_justification", anomalies[0].Type)
}

func TestDashboardStats(t *testing.T) {
	_, router := newTestServer(t)
	createEntry(t, router, "DI", "SOC platform", "medium", "500")

	rec := doJSON(t, router, http.MethodGet, "/api/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, stats["entry_count"])
	assert.EqualValues(t, 2025, stats["base_year"])
}

// =============================================================================
// DEMO LOADER TESTS
// =============================================================================

func TestDemoLoad_SeedsWorkingDataset(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/demo/load", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryDTO](t, rec)
	assert.NotEmpty(t, entries)

	// The demo is seeded over the limit so the gap analysis has work.
	rec = doJSON(t, router, http.MethodGet, "/api/optimization/gap-analysis?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	gap := decode[GapAnalysisDTO](t, rec)
	assert.True(t, gap.IsOverLimit)

	// And the cross-department cybersecurity pair is detectable.
	rec = doJSON(t, router, http.MethodPost, "/api/conflicts/detect?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detected := decode[[]ConflictDTO](t, rec)
	assert.NotEmpty(t, detected)
}

// =============================================================================
// SCHEDULER TESTS
// =============================================================================

func TestScheduler_LocksExpiredDepartments(t *testing.T) {
	h, router := newTestServer(t)

	past := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	rec := doJSON(t, router, http.MethodPost, "/api/departments", map[string]any{
		"code": "DI", "name": "Informatics", "edit_deadline": past,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	log := logx.New(logx.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	s := NewScheduler(h, time.Hour, log)
	s.RunNow(context.Background())

	rec = doJSON(t, router, http.MethodGet, "/api/departments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	departments := decode[[]DepartmentDTO](t, rec)
	require.Len(t, departments, 1)
	assert.True(t, departments[0].EditsLocked)
}
