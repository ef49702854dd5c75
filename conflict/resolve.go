/*
resolve.go - Apply a resolution to a detected conflict

PURPOSE:
  Takes a pending conflict and applies one of three resolutions under
  version checks, with the conflict state change and all entry mutations
  landing in a single store transaction.

RESOLUTIONS:
  consolidate: The kept entry absorbs the combined amounts, scaled down by
               the consolidation factor. The other entry is zeroed and
               marked superseded. It is never deleted, so the audit trail
               and the conflict record stay coherent.
  keep_both:   Both entries stand; the conflict is closed with a note.
  defer_one:   The non-kept entry's current year amount moves to the next
               year. Both entries survive.

SEE ALSO:
  - similarity.go: Where conflicts come from
  - budget/store.go: ResolveConflict atomicity contract
*/
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// RESOLUTIONS
// =============================================================================

type Resolution string

const (
	ResolutionConsolidate Resolution = "consolidate"
	ResolutionKeepBoth    Resolution = "keep_both"
	ResolutionDeferOne    Resolution = "defer_one"
)

// Resolver applies resolutions to persisted conflicts.
type Resolver struct {
	Store budget.Store
}

func NewResolver(store budget.Store) *Resolver {
	return &Resolver{Store: store}
}

// Request carries a resolution decision.
type Request struct {
	ConflictID string
	Resolution Resolution

	// KeepEntryID selects the surviving entry for consolidate and the
	// entry that stays in the current year for defer_one. Ignored for
	// keep_both.
	KeepEntryID budget.EntryID

	// Year is the fiscal year the resolution operates on.
	Year int

	Actor string
	Notes string
}

// Outcome reports what the resolution changed.
type Outcome struct {
	Conflict budget.ConflictRecord
	Kept     *budget.BudgetEntry
	Other    *budget.BudgetEntry
	Savings  decimal.Decimal
}

// Resolve applies the requested resolution.
//
// Fails with:
//   - ErrConflictNotFound for an unknown conflict
//   - ErrInvalidResolution for an already resolved conflict, an unknown
//     resolution, or a KeepEntryID outside the pair
//   - ErrEntryNotFound when either entry has vanished
//   - VersionConflictError when an entry changed since it was read
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Outcome, error) {
	rec, err := r.Store.GetConflict(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, budget.ErrConflictNotFound
	}
	if rec.Status == budget.ConflictResolved {
		return nil, fmt.Errorf("conflict %s already resolved: %w", rec.ID, budget.ErrInvalidResolution)
	}

	entryA, err := r.Store.GetEntry(ctx, rec.EntryA)
	if err != nil {
		return nil, err
	}
	entryB, err := r.Store.GetEntry(ctx, rec.EntryB)
	if err != nil {
		return nil, err
	}
	if entryA == nil || entryB == nil {
		return nil, budget.ErrEntryNotFound
	}

	var outcome *Outcome
	switch req.Resolution {
	case ResolutionConsolidate:
		outcome, err = r.consolidate(ctx, rec, entryA, entryB, req)
	case ResolutionKeepBoth:
		outcome, err = r.keepBoth(ctx, rec, entryA, entryB, req)
	case ResolutionDeferOne:
		outcome, err = r.deferOne(ctx, rec, entryA, entryB, req)
	default:
		return nil, fmt.Errorf("unknown resolution %q: %w", req.Resolution, budget.ErrInvalidResolution)
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// consolidate merges both entries into the kept one at the consolidation
// factor and supersedes the other.
func (r *Resolver) consolidate(ctx context.Context, rec *budget.ConflictRecord, entryA, entryB *budget.BudgetEntry, req Request) (*Outcome, error) {
	keep, other, err := pickKeep(entryA, entryB, req.KeepEntryID)
	if err != nil {
		return nil, err
	}

	factor := decimal.NewFromFloat(consolidationFactor)
	savings := decimal.Zero

	keepOld := snapshotAmounts(keep)
	otherOld := snapshotAmounts(other)

	years := make(map[int]bool)
	for y := range keep.Amounts {
		years[y] = true
	}
	for y := range other.Amounts {
		years[y] = true
	}
	for y := range years {
		combined := keep.Amount(y).Add(other.Amount(y))
		merged := combined.Mul(factor)
		savings = savings.Add(combined.Sub(merged))
		keep.SetAmount(y, merged)
		other.SetAmount(y, decimal.Zero)
	}

	keep.Notes = appendNote(keep.Notes, fmt.Sprintf("[consolidated with entry %d, conflict %s]", other.ID, rec.ID))
	keep.UpdatedBy = req.Actor
	other.Status = budget.StatusSuperseded
	other.Notes = appendNote(other.Notes, fmt.Sprintf("[superseded by entry %d, conflict %s]", keep.ID, rec.ID))
	other.UpdatedBy = req.Actor

	updates := []budget.EntryUpdate{
		{
			Entry:           *keep,
			ExpectedVersion: keep.Version,
			Audit:           resolutionAudit(keep.ID, req, keepOld, snapshotAmounts(keep)),
		},
		{
			Entry:           *other,
			ExpectedVersion: other.Version,
			Audit:           resolutionAudit(other.ID, req, otherOld, snapshotAmounts(other)),
		},
	}
	if err := r.finish(ctx, rec, req, updates); err != nil {
		return nil, err
	}
	return r.outcome(ctx, rec.ID, keep.ID, other.ID, savings)
}

// keepBoth closes the conflict without touching either entry.
func (r *Resolver) keepBoth(ctx context.Context, rec *budget.ConflictRecord, entryA, entryB *budget.BudgetEntry, req Request) (*Outcome, error) {
	if err := r.finish(ctx, rec, req, nil); err != nil {
		return nil, err
	}
	return r.outcome(ctx, rec.ID, entryA.ID, entryB.ID, decimal.Zero)
}

// deferOne pushes the non-kept entry's current year amount to the next year.
func (r *Resolver) deferOne(ctx context.Context, rec *budget.ConflictRecord, entryA, entryB *budget.BudgetEntry, req Request) (*Outcome, error) {
	keep, other, err := pickKeep(entryA, entryB, req.KeepEntryID)
	if err != nil {
		return nil, err
	}

	amount := other.Amount(req.Year)
	otherOld := snapshotAmounts(other)

	other.SetAmount(req.Year, decimal.Zero)
	other.SetAmount(req.Year+1, other.Amount(req.Year+1).Add(amount))
	other.Notes = appendNote(other.Notes, fmt.Sprintf("[deferred %s from %d to %d, conflict %s]",
		amount.StringFixed(0), req.Year, req.Year+1, rec.ID))
	other.UpdatedBy = req.Actor

	updates := []budget.EntryUpdate{
		{
			Entry:           *other,
			ExpectedVersion: other.Version,
			Audit:           resolutionAudit(other.ID, req, otherOld, snapshotAmounts(other)),
		},
	}
	if err := r.finish(ctx, rec, req, updates); err != nil {
		return nil, err
	}
	return r.outcome(ctx, rec.ID, keep.ID, other.ID, decimal.Zero)
}

// finish marks the conflict resolved and applies the updates atomically.
func (r *Resolver) finish(ctx context.Context, rec *budget.ConflictRecord, req Request, updates []budget.EntryUpdate) error {
	return r.Store.ResolveConflict(ctx, rec.ID, string(req.Resolution), req.Notes, updates)
}

func (r *Resolver) outcome(ctx context.Context, conflictID string, keepID, otherID budget.EntryID, savings decimal.Decimal) (*Outcome, error) {
	rec, err := r.Store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	kept, err := r.Store.GetEntry(ctx, keepID)
	if err != nil {
		return nil, err
	}
	other, err := r.Store.GetEntry(ctx, otherID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Conflict: *rec,
		Kept:     kept,
		Other:    other,
		Savings:  savings,
	}, nil
}

func pickKeep(entryA, entryB *budget.BudgetEntry, keepID budget.EntryID) (keep, other *budget.BudgetEntry, err error) {
	switch keepID {
	case entryA.ID:
		return entryA, entryB, nil
	case entryB.ID:
		return entryB, entryA, nil
	default:
		return nil, nil, fmt.Errorf("keep_entry_id %d is not part of the conflict: %w", keepID, budget.ErrInvalidResolution)
	}
}

func resolutionAudit(entryID budget.EntryID, req Request, oldValues, newValues string) budget.AuditEntry {
	return budget.AuditEntry{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		Action:    budget.AuditConflictResolved,
		OldValues: oldValues,
		NewValues: newValues,
		Actor:     req.Actor,
		Notes:     fmt.Sprintf("conflict %s resolved as %s", req.ConflictID, req.Resolution),
		Timestamp: time.Now().UTC(),
	}
}

func snapshotAmounts(e *budget.BudgetEntry) string {
	b, err := json.Marshal(map[string]any{
		"status":  e.Status,
		"amounts": e.Amounts,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
