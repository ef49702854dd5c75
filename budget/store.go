/*
store.go - Persistence interfaces for the budget planning engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  consumes read-only snapshots of entries and limits; mutations go through
  version-checked updates that carry their audit entry so update and audit
  land atomically.

KEY INTERFACES:
  EntryStore:      Entry reads plus version-checked, audited writes
  DepartmentStore: Departments and their limits/locks
  LimitStore:      Global limits per fiscal year
  ConflictStore:   Persisted duplicate-detection candidates
  AuditLog:        Append-only mutation history

AUDIT CONTRACT:
  Every mutation writes an audit row with old/new values. The audit log is
  append-only: no Update, no Delete. Entries themselves are never deleted
  either; consolidations mark the losing entry superseded instead.

ATOMICITY:
  InsertEntry, UpdateEntries, and ResolveConflict are all-or-nothing. A
  failed operation leaves the store exactly as it was.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - budget/store: In-memory for tests and dev mode

SEE ALSO:
  - store/sqlite/sqlite.go: Concrete implementation
  - optimize/apply.go: Main writer through these interfaces
*/
package budget

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY STORE
// =============================================================================

// EntryFilter narrows ListEntries. Zero values mean "no filter".
type EntryFilter struct {
	DepartmentCode string
	Status         Status

	// Year, when non-zero, restricts to entries with a positive amount
	// for that year.
	Year int
}

// EntryUpdate is a version-checked write bundled with its audit entry.
type EntryUpdate struct {
	Entry           BudgetEntry
	ExpectedVersion int64
	Audit           AuditEntry
}

// EntryStore handles budget entry persistence.
type EntryStore interface {
	// GetEntry returns the entry or (nil, nil) when it does not exist.
	GetEntry(ctx context.Context, id EntryID) (*BudgetEntry, error)

	// ListEntries returns entries matching the filter, ordered by id.
	ListEntries(ctx context.Context, filter EntryFilter) ([]BudgetEntry, error)

	// InsertEntry creates the entry at version 1, assigns its id, and
	// appends the audit entry atomically.
	InsertEntry(ctx context.Context, e *BudgetEntry, audit AuditEntry) error

	// UpdateEntries applies version-checked updates atomically. Either all
	// updates and their audit entries land, or none do. A mismatch fails
	// with VersionConflictError; a missing entry with ErrEntryNotFound.
	UpdateEntries(ctx context.Context, updates ...EntryUpdate) error
}

// =============================================================================
// DEPARTMENT STORE
// =============================================================================

type DepartmentStore interface {
	// GetDepartment returns the department or (nil, nil) when unknown.
	GetDepartment(ctx context.Context, code string) (*Department, error)

	ListDepartments(ctx context.Context) ([]Department, error)

	// SaveDepartment inserts or updates a department by code.
	SaveDepartment(ctx context.Context, d Department) error

	// SetDepartmentLock flips the edit lock, appending the audit entry.
	SetDepartmentLock(ctx context.Context, code string, locked bool, audit AuditEntry) error
}

// =============================================================================
// LIMIT STORE
// =============================================================================

type LimitStore interface {
	// GetLimit returns the global limit for a year or (nil, nil) when none
	// is configured.
	GetLimit(ctx context.Context, year int) (*GlobalLimit, error)

	ListLimits(ctx context.Context) ([]GlobalLimit, error)

	// SetLimit inserts or replaces the limit for its year.
	SetLimit(ctx context.Context, limit GlobalLimit, audit AuditEntry) error
}

// =============================================================================
// CONFLICT STORE
// =============================================================================

// ConflictRecord is a persisted duplicate-detection candidate.
type ConflictRecord struct {
	ID              string
	EntryA          EntryID
	EntryB          EntryID
	Type            string
	Similarity      float64
	Status          string // pending | resolved
	Resolution      string
	ResolutionNotes string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
)

type ConflictStore interface {
	// UpsertConflict records a detected pair, keyed on (EntryA, EntryB).
	// Re-detection refreshes similarity and type but preserves resolution
	// state and the record id.
	UpsertConflict(ctx context.Context, c ConflictRecord) (ConflictRecord, error)

	// GetConflict returns the conflict or (nil, nil) when unknown.
	GetConflict(ctx context.Context, id string) (*ConflictRecord, error)

	// ListConflicts returns conflicts, optionally filtered by status,
	// ordered by similarity descending.
	ListConflicts(ctx context.Context, status string) ([]ConflictRecord, error)

	// ResolveConflict marks the conflict resolved and applies the entry
	// updates in the same transaction. All-or-nothing.
	ResolveConflict(ctx context.Context, id, resolution, notes string, updates []EntryUpdate) error
}

// =============================================================================
// AUDIT LOG - Append-only, one row per mutation
// =============================================================================

type AuditAction string

const (
	AuditEntryCreated     AuditAction = "entry_created"
	AuditEntryUpdated     AuditAction = "entry_updated"
	AuditEntrySubmitted   AuditAction = "entry_submitted"
	AuditEntryApproved    AuditAction = "entry_approved"
	AuditEntryRejected    AuditAction = "entry_rejected"
	AuditOptimization     AuditAction = "optimization_applied"
	AuditConflictResolved AuditAction = "conflict_resolved"
	AuditDepartmentLocked AuditAction = "department_locked"
	AuditLimitSet         AuditAction = "limit_set"
)

// AuditEntry records who changed what. OldValues/NewValues hold JSON
// snapshots of the mutated fields.
type AuditEntry struct {
	ID        string
	EntryID   EntryID
	Action    AuditAction
	OldValues string
	NewValues string
	Actor     string
	Notes     string
	Timestamp time.Time
}

type AuditLog interface {
	// AppendAudit records a standalone audit entry (mutations bundled with
	// entry updates append theirs through EntryStore).
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditByEntry returns the mutation history for one entry, oldest first.
	AuditByEntry(ctx context.Context, id EntryID) ([]AuditEntry, error)

	// AuditRecent returns the most recent audit entries across all records.
	AuditRecent(ctx context.Context, limit int) ([]AuditEntry, error)
}

// =============================================================================
// STORE - Everything the engine needs
// =============================================================================

type Store interface {
	EntryStore
	DepartmentStore
	LimitStore
	ConflictStore
	AuditLog
}
