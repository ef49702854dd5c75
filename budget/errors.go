/*
errors.go - Centralized error types for the budget engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - Missing limits or year configuration
  2. Not-found errors - Unknown entries, departments, conflicts
  3. Protection errors - Attempts to cut or defer an obligatory entry
  4. Validation errors - Bad amounts, missing fields, bad resolutions
  5. Concurrency errors - Optimistic version check failures

USAGE:
  Callers classify with errors.Is():

    if errors.Is(err, budget.ErrProtectedEntry) {
        // refuse with 409
    }

SEE ALSO:
  - store.go: Store implementations return these errors
  - optimize/apply.go, conflict/resolve.go: Main producers
*/
package budget

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoLimitConfigured is returned when no global limit exists for the
	// requested year. Gap analysis cannot run without one.
	ErrNoLimitConfigured = errors.New("no global limit configured for year")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("budget entry not found")

	// ErrDepartmentNotFound is returned when a referenced department doesn't exist.
	ErrDepartmentNotFound = errors.New("department not found")

	// ErrConflictNotFound is returned when a referenced conflict doesn't exist.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrProtectedEntry is returned on any attempt to cut, defer, or
	// consolidate away an obligatory entry.
	ErrProtectedEntry = errors.New("entry is protected")

	// ErrInvalidResolution is returned for malformed conflict resolutions,
	// e.g. consolidate without a kept entry.
	ErrInvalidResolution = errors.New("invalid conflict resolution")

	// ErrVersionConflict is returned when an optimistic version check fails.
	ErrVersionConflict = errors.New("entry version conflict")

	// ErrDepartmentLocked is returned when editing an entry whose department
	// is past its edit deadline.
	ErrDepartmentLocked = errors.New("department edits are locked")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError names the missing configuration.
type ConfigError struct {
	Year int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no global limit configured for year %d", e.Year)
}

func (e *ConfigError) Unwrap() error { return ErrNoLimitConfigured }

// ProtectedEntryError identifies the protected entry and why it is protected.
type ProtectedEntryError struct {
	EntryID EntryID
	Reason  string
}

func (e *ProtectedEntryError) Error() string {
	return fmt.Sprintf("entry %d is protected: %s", e.EntryID, e.Reason)
}

func (e *ProtectedEntryError) Unwrap() error { return ErrProtectedEntry }

// VersionConflictError reports an optimistic concurrency failure.
type VersionConflictError struct {
	EntryID  EntryID
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("entry %d version conflict: expected %d, found %d",
		e.EntryID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// ValidationError reports a bad field on an entry or request.
type ValidationError struct {
	Field   string
	Message string
	Amount  *decimal.Decimal
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrDepartmentNotFound) ||
		errors.Is(err, ErrConflictNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than a storage or internal failure.
func IsClientError(err error) bool {
	var vErr *ValidationError
	return errors.Is(err, ErrProtectedEntry) ||
		errors.Is(err, ErrInvalidResolution) ||
		errors.Is(err, ErrNoLimitConfigured) ||
		errors.Is(err, ErrDepartmentLocked) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.As(err, &vErr)
}

// IsConflict returns true for optimistic concurrency failures, which a
// client may resolve by re-reading and retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
