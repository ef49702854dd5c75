// Package store provides an in-memory budget.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[budget.EntryID]budget.BudgetEntry
	departments map[string]budget.Department
	limits      map[int]budget.GlobalLimit
	conflicts   map[string]budget.ConflictRecord
	audit       []budget.AuditEntry
	nextID      budget.EntryID
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[budget.EntryID]budget.BudgetEntry),
		departments: make(map[string]budget.Department),
		limits:      make(map[int]budget.GlobalLimit),
		conflicts:   make(map[string]budget.ConflictRecord),
		nextID:      1,
	}
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) GetEntry(_ context.Context, id budget.EntryID) (*budget.BudgetEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	copied := cloneEntry(e)
	return &copied, nil
}

func (m *Memory) ListEntries(_ context.Context, filter budget.EntryFilter) ([]budget.BudgetEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.BudgetEntry
	for _, e := range m.entries {
		if filter.DepartmentCode != "" && e.DepartmentCode != filter.DepartmentCode {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Year != 0 && !e.Amount(filter.Year).IsPositive() {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) InsertEntry(_ context.Context, e *budget.BudgetEntry, audit budget.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextID
	m.nextID++
	e.Version = 1
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	m.entries[e.ID] = cloneEntry(*e)

	audit.EntryID = e.ID
	m.appendAuditLocked(audit)
	return nil
}

func (m *Memory) UpdateEntries(_ context.Context, updates ...budget.EntryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntriesLocked(updates)
}

// updateEntriesLocked checks every version before writing anything, so a
// failed batch leaves the store unchanged.
func (m *Memory) updateEntriesLocked(updates []budget.EntryUpdate) error {
	for _, u := range updates {
		current, ok := m.entries[u.Entry.ID]
		if !ok {
			return budget.ErrEntryNotFound
		}
		if current.Version != u.ExpectedVersion {
			return &budget.VersionConflictError{
				EntryID:  u.Entry.ID,
				Expected: u.ExpectedVersion,
				Actual:   current.Version,
			}
		}
	}

	for _, u := range updates {
		e := cloneEntry(u.Entry)
		e.Version = u.ExpectedVersion + 1
		e.UpdatedAt = time.Now().UTC()
		m.entries[e.ID] = e
		m.appendAuditLocked(u.Audit)
	}
	return nil
}

// =============================================================================
// DEPARTMENT STORE
// =============================================================================

func (m *Memory) GetDepartment(_ context.Context, code string) (*budget.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.departments[code]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDepartments(_ context.Context) ([]budget.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]budget.Department, 0, len(m.departments))
	for _, d := range m.departments {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (m *Memory) SaveDepartment(_ context.Context, d budget.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.departments[d.Code]; ok {
		d.CreatedAt = existing.CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.departments[d.Code] = d
	return nil
}

func (m *Memory) SetDepartmentLock(_ context.Context, code string, locked bool, audit budget.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.departments[code]
	if !ok {
		return budget.ErrDepartmentNotFound
	}
	d.EditsLocked = locked
	m.departments[code] = d
	m.appendAuditLocked(audit)
	return nil
}

// =============================================================================
// LIMIT STORE
// =============================================================================

func (m *Memory) GetLimit(_ context.Context, year int) (*budget.GlobalLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.limits[year]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) ListLimits(_ context.Context) ([]budget.GlobalLimit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]budget.GlobalLimit, 0, len(m.limits))
	for _, l := range m.limits {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Year < result[j].Year })
	return result, nil
}

func (m *Memory) SetLimit(_ context.Context, limit budget.GlobalLimit, audit budget.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit.UpdatedAt = time.Now().UTC()
	m.limits[limit.Year] = limit
	m.appendAuditLocked(audit)
	return nil
}

// =============================================================================
// CONFLICT STORE
// =============================================================================

func (m *Memory) UpsertConflict(_ context.Context, c budget.ConflictRecord) (budget.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.conflicts {
		if samePair(existing, c) {
			existing.Similarity = c.Similarity
			existing.Type = c.Type
			existing.UpdatedAt = time.Now().UTC()
			m.conflicts[id] = existing
			return existing, nil
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = budget.ConflictPending
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.conflicts[c.ID] = c
	return c, nil
}

func (m *Memory) GetConflict(_ context.Context, id string) (*budget.ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListConflicts(_ context.Context, status string) ([]budget.ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.ConflictRecord
	for _, c := range m.conflicts {
		if status != "" && c.Status != status {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Similarity != result[j].Similarity {
			return result[i].Similarity > result[j].Similarity
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) ResolveConflict(_ context.Context, id, resolution, notes string, updates []budget.EntryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[id]
	if !ok {
		return budget.ErrConflictNotFound
	}

	if err := m.updateEntriesLocked(updates); err != nil {
		return err
	}

	c.Status = budget.ConflictResolved
	c.Resolution = resolution
	c.ResolutionNotes = notes
	c.UpdatedAt = time.Now().UTC()
	m.conflicts[id] = c
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry budget.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	return nil
}

func (m *Memory) appendAuditLocked(entry budget.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, entry)
}

func (m *Memory) AuditByEntry(_ context.Context, id budget.EntryID) ([]budget.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.AuditEntry
	for _, a := range m.audit {
		if a.EntryID == id {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *Memory) AuditRecent(_ context.Context, limit int) ([]budget.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]budget.AuditEntry, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.audit[n-1-i]
	}
	return result, nil
}

// Reset wipes all data. Used by the demo loader and tests.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[budget.EntryID]budget.BudgetEntry)
	m.departments = make(map[string]budget.Department)
	m.limits = make(map[int]budget.GlobalLimit)
	m.conflicts = make(map[string]budget.ConflictRecord)
	m.audit = nil
	m.nextID = 1
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneEntry(e budget.BudgetEntry) budget.BudgetEntry {
	copied := e
	copied.Amounts = make(map[int]decimal.Decimal, len(e.Amounts))
	for year, a := range e.Amounts {
		copied.Amounts[year] = a
	}
	return copied
}

func samePair(a, b budget.ConflictRecord) bool {
	return (a.EntryA == b.EntryA && a.EntryB == b.EntryB) ||
		(a.EntryA == b.EntryB && a.EntryB == b.EntryA)
}
