/*
Package sqlite provides the SQLite-backed implementation of the budget
storage interfaces.

PURPOSE:
  Implements budget.Store (entries, departments, limits, conflicts, audit)
  on SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  budget_entries: Line items with their lifecycle state and version
  entry_amounts:  Per-year amounts, one row per (entry, year)
  departments:    Departments with limits, deadlines, and edit locks
  global_limits:  One spending limit per fiscal year
  conflicts:      Detected duplicate candidates, keyed on the entry pair
  audit_log:      Append-only mutation history

VERSION CHECKS:
  Entry updates run as UPDATE ... WHERE id = ? AND version = ?. Zero rows
  affected means either the entry vanished or the caller read a stale
  version; the two cases map to ErrEntryNotFound and VersionConflictError.

AMOUNTS:
  Decimal amounts are stored as TEXT to avoid floating-point drift. The
  entry_amounts table is replaced wholesale on every entry update, so the
  stored amounts always mirror the entry's Amounts map.

APPEND-ONLY ENFORCEMENT:
  No DELETE on budget_entries or audit_log. Entries leave circulation by
  status (rejected, superseded), never by removal.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// Store implements budget.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Budget entries (never deleted; lifecycle via status)
	CREATE TABLE IF NOT EXISTS budget_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		department_code TEXT NOT NULL,
		task_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		justification TEXT NOT NULL DEFAULT '',
		paragraph INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL,
		is_obligatory BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_department
		ON budget_entries(department_code);
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON budget_entries(status);

	-- Per-year amounts, replaced wholesale on entry update
	CREATE TABLE IF NOT EXISTS entry_amounts (
		entry_id INTEGER NOT NULL REFERENCES budget_entries(id),
		year INTEGER NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (entry_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_amounts_year
		ON entry_amounts(year);

	-- Departments
	CREATE TABLE IF NOT EXISTS departments (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		director_name TEXT NOT NULL DEFAULT '',
		budget_limit TEXT NOT NULL DEFAULT '0',
		edit_deadline TEXT,
		edits_locked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Global limits, one per fiscal year
	CREATE TABLE IF NOT EXISTS global_limits (
		year INTEGER PRIMARY KEY,
		limit_amount TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Detected conflicts, keyed on the entry pair
	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		entry_a INTEGER NOT NULL REFERENCES budget_entries(id),
		entry_b INTEGER NOT NULL REFERENCES budget_entries(id),
		type TEXT NOT NULL,
		similarity REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		resolution TEXT NOT NULL DEFAULT '',
		resolution_notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (entry_a, entry_b)
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_status
		ON conflicts(status);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		entry_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		old_values TEXT NOT NULL DEFAULT '',
		new_values TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entry
		ON audit_log(entry_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp
		ON audit_log(timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (budget.EntryStore interface)
// =============================================================================

// GetEntry retrieves an entry by ID, or (nil, nil) when it does not exist.
func (s *Store) GetEntry(ctx context.Context, id budget.EntryID) (*budget.BudgetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getEntry(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getEntry(ctx context.Context, db querier, id budget.EntryID) (*budget.BudgetEntry, error) {
	query := `
		SELECT id, department_code, task_name, description, justification, paragraph,
		       priority, is_obligatory, status, notes, version,
		       created_by, updated_by, created_at, updated_at
		FROM budget_entries
		WHERE id = ?
	`

	var e budget.BudgetEntry
	var createdAt, updatedAt string
	err := db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.DepartmentCode, &e.TaskName, &e.Description, &e.Justification,
		&e.Paragraph, &e.Priority, &e.IsObligatory, &e.Status, &e.Notes,
		&e.Version, &e.CreatedBy, &e.UpdatedBy, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entry: %w", err)
	}

	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if err := s.loadAmounts(ctx, db, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) loadAmounts(ctx context.Context, db querier, e *budget.BudgetEntry) error {
	rows, err := db.QueryContext(ctx,
		"SELECT year, amount FROM entry_amounts WHERE entry_id = ?", e.ID)
	if err != nil {
		return fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	e.Amounts = make(map[int]decimal.Decimal)
	for rows.Next() {
		var year int
		var amount string
		if err := rows.Scan(&year, &amount); err != nil {
			return err
		}
		e.Amounts[year] = budget.MustDecimal(amount)
	}
	return rows.Err()
}

// ListEntries returns entries matching the filter, ordered by id.
func (s *Store) ListEntries(ctx context.Context, filter budget.EntryFilter) ([]budget.BudgetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, department_code, task_name, description, justification, paragraph,
		       priority, is_obligatory, status, notes, version,
		       created_by, updated_by, created_at, updated_at
		FROM budget_entries
		WHERE 1=1
	`
	var args []any
	if filter.DepartmentCode != "" {
		query += " AND department_code = ?"
		args = append(args, filter.DepartmentCode)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []budget.BudgetEntry
	for rows.Next() {
		var e budget.BudgetEntry
		var createdAt, updatedAt string
		if err := rows.Scan(
			&e.ID, &e.DepartmentCode, &e.TaskName, &e.Description, &e.Justification,
			&e.Paragraph, &e.Priority, &e.IsObligatory, &e.Status, &e.Notes,
			&e.Version, &e.CreatedBy, &e.UpdatedBy, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		if err := s.loadAmounts(ctx, s.db, &entries[i]); err != nil {
			return nil, err
		}
	}

	if filter.Year != 0 {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Amount(filter.Year).IsPositive() {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return entries, nil
}

// InsertEntry creates the entry at version 1, assigns its id, and appends
// the audit entry atomically.
func (s *Store) InsertEntry(ctx context.Context, e *budget.BudgetEntry, audit budget.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now

	res, err := tx.ExecContext(ctx, `
		INSERT INTO budget_entries
		(department_code, task_name, description, justification, paragraph,
		 priority, is_obligatory, status, notes, version,
		 created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.DepartmentCode, e.TaskName, e.Description, e.Justification, e.Paragraph,
		e.Priority, e.IsObligatory, e.Status, e.Notes, e.Version,
		e.CreatedBy, e.UpdatedBy,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted id: %w", err)
	}
	e.ID = budget.EntryID(id)

	if err := s.saveAmountsTx(ctx, tx, e); err != nil {
		return err
	}

	audit.EntryID = e.ID
	if err := s.appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateEntries applies version-checked updates atomically.
func (s *Store) UpdateEntries(ctx context.Context, updates ...budget.EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range updates {
		if err := s.updateEntryTx(ctx, tx, updates[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) updateEntryTx(ctx context.Context, tx *sql.Tx, u budget.EntryUpdate) error {
	e := u.Entry
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE budget_entries SET
			department_code = ?, task_name = ?, description = ?, justification = ?,
			paragraph = ?, priority = ?, is_obligatory = ?, status = ?, notes = ?,
			version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		e.DepartmentCode, e.TaskName, e.Description, e.Justification,
		e.Paragraph, e.Priority, e.IsObligatory, e.Status, e.Notes,
		e.UpdatedBy, now.Format(time.RFC3339),
		e.ID, u.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry %d: %w", e.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var actual int64
		err := tx.QueryRowContext(ctx,
			"SELECT version FROM budget_entries WHERE id = ?", e.ID).Scan(&actual)
		if err == sql.ErrNoRows {
			return budget.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		return &budget.VersionConflictError{
			EntryID:  e.ID,
			Expected: u.ExpectedVersion,
			Actual:   actual,
		}
	}

	if err := s.saveAmountsTx(ctx, tx, &e); err != nil {
		return err
	}

	audit := u.Audit
	audit.EntryID = e.ID
	return s.appendAuditTx(ctx, tx, audit)
}

// saveAmountsTx replaces the entry's amount rows with its Amounts map.
func (s *Store) saveAmountsTx(ctx context.Context, tx *sql.Tx, e *budget.BudgetEntry) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_amounts WHERE entry_id = ?", e.ID); err != nil {
		return fmt.Errorf("failed to clear amounts: %w", err)
	}
	for year, amount := range e.Amounts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entry_amounts (entry_id, year, amount) VALUES (?, ?, ?)",
			e.ID, year, amount.String()); err != nil {
			return fmt.Errorf("failed to save amount for %d: %w", year, err)
		}
	}
	return nil
}

// =============================================================================
// DEPARTMENT STORE
// =============================================================================

// GetDepartment retrieves a department by code, or (nil, nil) when unknown.
func (s *Store) GetDepartment(ctx context.Context, code string) (*budget.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d budget.Department
	var limit, createdAt string
	var deadline sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, director_name, budget_limit, edit_deadline, edits_locked, created_at
		FROM departments WHERE code = ?
	`, code).Scan(&d.Code, &d.Name, &d.DirectorName, &limit, &deadline, &d.EditsLocked, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query department: %w", err)
	}

	d.BudgetLimit = budget.MustDecimal(limit)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if deadline.Valid {
		t, _ := time.Parse(time.RFC3339, deadline.String)
		d.EditDeadline = &t
	}
	return &d, nil
}

// ListDepartments returns all departments ordered by code.
func (s *Store) ListDepartments(ctx context.Context) ([]budget.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, director_name, budget_limit, edit_deadline, edits_locked, created_at
		FROM departments ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query departments: %w", err)
	}
	defer rows.Close()

	var departments []budget.Department
	for rows.Next() {
		var d budget.Department
		var limit, createdAt string
		var deadline sql.NullString
		if err := rows.Scan(&d.Code, &d.Name, &d.DirectorName, &limit, &deadline, &d.EditsLocked, &createdAt); err != nil {
			return nil, err
		}
		d.BudgetLimit = budget.MustDecimal(limit)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if deadline.Valid {
			t, _ := time.Parse(time.RFC3339, deadline.String)
			d.EditDeadline = &t
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

// SaveDepartment inserts or updates a department by code.
func (s *Store) SaveDepartment(ctx context.Context, d budget.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deadline *string
	if d.EditDeadline != nil {
		t := d.EditDeadline.Format(time.RFC3339)
		deadline = &t
	}

	query := `
		INSERT INTO departments (code, name, director_name, budget_limit, edit_deadline, edits_locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			director_name = excluded.director_name,
			budget_limit = excluded.budget_limit,
			edit_deadline = excluded.edit_deadline,
			edits_locked = excluded.edits_locked
	`

	_, err := s.db.ExecContext(ctx, query,
		d.Code, d.Name, d.DirectorName, d.BudgetLimit.String(),
		deadline, d.EditsLocked, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// SetDepartmentLock flips the edit lock, appending the audit entry.
func (s *Store) SetDepartmentLock(ctx context.Context, code string, locked bool, audit budget.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE departments SET edits_locked = ? WHERE code = ?", locked, code)
	if err != nil {
		return fmt.Errorf("failed to update department lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return budget.ErrDepartmentNotFound
	}

	if err := s.appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// LIMIT STORE
// =============================================================================

// GetLimit retrieves the global limit for a year, or (nil, nil) when none
// is configured.
func (s *Store) GetLimit(ctx context.Context, year int) (*budget.GlobalLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l budget.GlobalLimit
	var limit, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT year, limit_amount, updated_at FROM global_limits WHERE year = ?",
		year,
	).Scan(&l.Year, &limit, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query limit: %w", err)
	}

	l.Limit = budget.MustDecimal(limit)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &l, nil
}

// ListLimits returns all configured limits ordered by year.
func (s *Store) ListLimits(ctx context.Context) ([]budget.GlobalLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT year, limit_amount, updated_at FROM global_limits ORDER BY year")
	if err != nil {
		return nil, fmt.Errorf("failed to query limits: %w", err)
	}
	defer rows.Close()

	var limits []budget.GlobalLimit
	for rows.Next() {
		var l budget.GlobalLimit
		var limit, updatedAt string
		if err := rows.Scan(&l.Year, &limit, &updatedAt); err != nil {
			return nil, err
		}
		l.Limit = budget.MustDecimal(limit)
		l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// SetLimit inserts or replaces the limit for its year.
func (s *Store) SetLimit(ctx context.Context, limit budget.GlobalLimit, audit budget.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO global_limits (year, limit_amount, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			limit_amount = excluded.limit_amount,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		limit.Year, limit.Limit.String(),
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}

	if err := s.appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// CONFLICT STORE
// =============================================================================

// UpsertConflict records a detected pair. Re-detection refreshes similarity
// and type but preserves resolution state and the record id.
func (s *Store) UpsertConflict(ctx context.Context, c budget.ConflictRecord) (budget.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	existing, err := s.conflictByPair(ctx, c.EntryA, c.EntryB)
	if err != nil {
		return budget.ConflictRecord{}, err
	}

	if existing != nil {
		existing.Type = c.Type
		existing.Similarity = c.Similarity
		existing.UpdatedAt = now
		_, err := s.db.ExecContext(ctx,
			"UPDATE conflicts SET type = ?, similarity = ?, updated_at = ? WHERE id = ?",
			existing.Type, existing.Similarity, now.Format(time.RFC3339), existing.ID)
		if err != nil {
			return budget.ConflictRecord{}, fmt.Errorf("failed to refresh conflict: %w", err)
		}
		return *existing, nil
	}

	c.ID = uuid.NewString()
	c.Status = budget.ConflictPending
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, entry_a, entry_b, type, similarity, status, resolution, resolution_notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)
	`, c.ID, c.EntryA, c.EntryB, c.Type, c.Similarity, c.Status,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return budget.ConflictRecord{}, fmt.Errorf("failed to insert conflict: %w", err)
	}
	return c, nil
}

func (s *Store) conflictByPair(ctx context.Context, a, b budget.EntryID) (*budget.ConflictRecord, error) {
	query := `
		SELECT id, entry_a, entry_b, type, similarity, status, resolution, resolution_notes, created_at, updated_at
		FROM conflicts
		WHERE (entry_a = ? AND entry_b = ?) OR (entry_a = ? AND entry_b = ?)
	`
	row := s.db.QueryRowContext(ctx, query, a, b, b, a)
	return scanConflict(row)
}

// GetConflict retrieves a conflict by id, or (nil, nil) when unknown.
func (s *Store) GetConflict(ctx context.Context, id string) (*budget.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, entry_a, entry_b, type, similarity, status, resolution, resolution_notes, created_at, updated_at
		FROM conflicts WHERE id = ?
	`, id)
	return scanConflict(row)
}

func scanConflict(row *sql.Row) (*budget.ConflictRecord, error) {
	var c budget.ConflictRecord
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.EntryA, &c.EntryB, &c.Type, &c.Similarity,
		&c.Status, &c.Resolution, &c.ResolutionNotes, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// ListConflicts returns conflicts, optionally filtered by status, ordered by
// similarity descending.
func (s *Store) ListConflicts(ctx context.Context, status string) ([]budget.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entry_a, entry_b, type, similarity, status, resolution, resolution_notes, created_at, updated_at
		FROM conflicts
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY similarity DESC, entry_a ASC, entry_b ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []budget.ConflictRecord
	for rows.Next() {
		var c budget.ConflictRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.EntryA, &c.EntryB, &c.Type, &c.Similarity,
			&c.Status, &c.Resolution, &c.ResolutionNotes, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks the conflict resolved and applies the entry updates
// in the same transaction.
func (s *Store) ResolveConflict(ctx context.Context, id, resolution, notes string, updates []budget.EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE conflicts SET status = ?, resolution = ?, resolution_notes = ?, updated_at = ?
		WHERE id = ?
	`, budget.ConflictResolved, resolution, notes,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return budget.ErrConflictNotFound
	}

	for i := range updates {
		if err := s.updateEntryTx(ctx, tx, updates[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit records a standalone audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry budget.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appendAuditTx(ctx context.Context, tx *sql.Tx, entry budget.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, entry_id, action, old_values, new_values, actor, notes, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.EntryID, entry.Action, entry.OldValues, entry.NewValues,
		entry.Actor, entry.Notes, entry.Timestamp.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditByEntry returns the mutation history for one entry, oldest first.
func (s *Store) AuditByEntry(ctx context.Context, id budget.EntryID) ([]budget.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entry_id, action, old_values, new_values, actor, notes, timestamp
		FROM audit_log
		WHERE entry_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	return s.queryAudit(ctx, query, id)
}

// AuditRecent returns the most recent audit entries across all records.
func (s *Store) AuditRecent(ctx context.Context, limit int) ([]budget.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entry_id, action, old_values, new_values, actor, notes, timestamp
		FROM audit_log
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`
	return s.queryAudit(ctx, query, limit)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]budget.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []budget.AuditEntry
	for rows.Next() {
		var a budget.AuditEntry
		var timestamp string
		if err := rows.Scan(&a.ID, &a.EntryID, &a.Action, &a.OldValues,
			&a.NewValues, &a.Actor, &a.Notes, &timestamp); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entry_amounts", "conflicts", "audit_log", "budget_entries", "departments", "global_limits"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
