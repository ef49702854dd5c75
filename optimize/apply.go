/*
apply.go - Apply an accepted suggestion to the entry store

PURPOSE:
  The only mutating operation in this package. Takes an accepted defer or
  reduce suggestion and applies it under a version check, writing the audit
  entry in the same store transaction.

SEMANTICS:
  defer:  current year amount becomes the suggested value (normally zero)
          and the freed delta is added to the next year's amount.
  reduce: current year amount becomes the new amount.

  Either way the entry drops to needs_revision so the owning department
  reviews and resubmits. Protected entries are refused outright.

SEE ALSO:
  - cuts.go: Where suggestions come from
  - budget/store.go: UpdateEntries atomicity contract
*/
package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// ApplyResult reports the applied change.
type ApplyResult struct {
	Entry     budget.BudgetEntry
	Action    Action
	OldAmount decimal.Decimal
	NewAmount decimal.Decimal
}

// ApplySuggestion applies a defer or reduce action to one entry.
//
// Fails with:
//   - ErrEntryNotFound for an unknown entry
//   - ProtectedEntryError for an obligatory entry
//   - ValidationError for a bad action or negative amount
//   - VersionConflictError when the entry changed since it was read
func (eng *Engine) ApplySuggestion(ctx context.Context, entryID budget.EntryID, action Action, newAmount *decimal.Decimal, year int, actor string) (*ApplyResult, error) {
	entry, err := eng.Store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, budget.ErrEntryNotFound
	}
	if entry.IsProtected() {
		return nil, &budget.ProtectedEntryError{
			EntryID: entryID,
			Reason:  "obligatory task / legal requirement",
		}
	}

	oldAmount := entry.Amount(year)
	oldStatus := entry.Status
	var applied decimal.Decimal

	switch action {
	case ActionDefer:
		applied = decimal.Zero
		if newAmount != nil {
			applied = *newAmount
		}
		if applied.IsNegative() {
			return nil, &budget.ValidationError{Field: "new_amount", Message: "amount must be non-negative"}
		}
		delta := oldAmount.Sub(applied)
		entry.SetAmount(year, applied)
		entry.SetAmount(year+1, entry.Amount(year+1).Add(delta))
		entry.Notes = appendNote(entry.Notes, fmt.Sprintf("[deferred %s from %d to %d]", delta.StringFixed(0), year, year+1))

	case ActionReduce:
		if newAmount == nil {
			return nil, &budget.ValidationError{Field: "new_amount", Message: "reduce requires a new amount"}
		}
		applied = *newAmount
		if applied.IsNegative() {
			return nil, &budget.ValidationError{Field: "new_amount", Message: "amount must be non-negative"}
		}
		entry.SetAmount(year, applied)
		entry.Notes = appendNote(entry.Notes, fmt.Sprintf("[reduced from %s to %s for %d]", oldAmount.StringFixed(0), applied.StringFixed(0), year))

	default:
		return nil, &budget.ValidationError{Field: "action", Message: "action must be defer or reduce"}
	}

	entry.Status = budget.StatusNeedsRevision
	entry.UpdatedBy = actor

	audit := budget.AuditEntry{
		ID:      uuid.NewString(),
		EntryID: entry.ID,
		Action:  budget.AuditOptimization,
		OldValues: amountSnapshot(map[string]any{
			"year": year, "amount": oldAmount, "status": oldStatus,
		}),
		NewValues: amountSnapshot(map[string]any{
			"year": year, "amount": applied, "status": entry.Status, "action": string(action),
		}),
		Actor:     actor,
		Notes:     fmt.Sprintf("optimization %s applied for %d", action, year),
		Timestamp: time.Now().UTC(),
	}

	update := budget.EntryUpdate{
		Entry:           *entry,
		ExpectedVersion: entry.Version,
		Audit:           audit,
	}
	if err := eng.Store.UpdateEntries(ctx, update); err != nil {
		return nil, err
	}

	updated, err := eng.Store.GetEntry(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	return &ApplyResult{
		Entry:     *updated,
		Action:    action,
		OldAmount: oldAmount,
		NewAmount: applied,
	}, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func amountSnapshot(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}
