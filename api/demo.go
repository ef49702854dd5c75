/*
demo.go - Demo dataset loader

PURPOSE:
  Seeds a deterministic dataset for development and demos. The data is
  shaped so every engine has something to show: the base year demand
  exceeds the global limit, two departments file near-identical
  cybersecurity tasks, and a few entries trip the anomaly scan.

WARNING:
  Loading the demo RESETS the store. Never expose this in production.

SEE ALSO:
  - handlers.go: Other endpoints
  - server.go: Route registration
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/budget-engine/budget"
)

// Resetter is implemented by stores that can wipe all data. The demo loader
// requires it; stores without it cannot serve the demo endpoint.
type Resetter interface {
	Reset(ctx context.Context) error
}

// LoadDemo resets the store and seeds the demo dataset.
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		writeError(w, http.StatusBadRequest, "Store does not support demo reset", nil)
		return
	}
	if err := resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := h.seedDemo(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}

	h.Log.Info("demo dataset loaded", "base_year", h.BaseYear)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"base_year": h.BaseYear,
	})
}

func (h *Handler) seedDemo(ctx context.Context) error {
	y := h.BaseYear

	// Global limits: base year demand is seeded well above this limit so the
	// gap analysis and cut suggester have real work to do.
	limits := []budget.GlobalLimit{
		{Year: y, Limit: budget.MustDecimal("5000000")},
		{Year: y + 1, Limit: budget.MustDecimal("5200000")},
		{Year: y + 2, Limit: budget.MustDecimal("5400000")},
		{Year: y + 3, Limit: budget.MustDecimal("5600000")},
	}
	for _, l := range limits {
		audit := seedAudit(budget.AuditLimitSet, "demo")
		if err := h.Store.SetLimit(ctx, l, audit); err != nil {
			return err
		}
	}

	departments := []budget.Department{
		{Code: "DI", Name: "Department of Informatics", DirectorName: "A. Kowalska", BudgetLimit: budget.MustDecimal("2500000")},
		{Code: "DA", Name: "Department of Administration", DirectorName: "J. Nowak", BudgetLimit: budget.MustDecimal("1800000")},
		{Code: "DF", Name: "Department of Finance", DirectorName: "M. Wisniewski", BudgetLimit: budget.MustDecimal("1500000")},
	}
	for _, d := range departments {
		if err := h.Store.SaveDepartment(ctx, d); err != nil {
			return err
		}
	}

	entries := []budget.BudgetEntry{
		// Legally mandated baseline, untouchable by the cut suggester.
		{
			DepartmentCode: "DA", TaskName: "Payroll and social insurance",
			Justification: "Statutory salary obligations for all permanent staff",
			Paragraph:     4010, Priority: budget.PriorityObligatory, IsObligatory: true,
			Amounts: yearAmounts(y, "1850000", "1900000", "1960000", "2020000"),
		},
		{
			DepartmentCode: "DA", TaskName: "Building maintenance contracts",
			Justification: "Multi-year maintenance agreements for headquarters facilities",
			Paragraph:     4270, Priority: budget.PriorityHigh, IsObligatory: true,
			Amounts: yearAmounts(y, "420000", "430000", "440000", "450000"),
		},
		// Near-duplicate cybersecurity tasks across two departments. These
		// should land in the duplicate or overlap band of the conflict scan.
		{
			DepartmentCode: "DI", TaskName: "Cybersecurity monitoring platform",
			Description:   "Deployment of a SOC monitoring platform with SIEM integration",
			Justification: "Continuous security monitoring mandated by the national cybersecurity framework",
			Paragraph:     4300, Priority: budget.PriorityHigh,
			Amounts: yearAmounts(y, "680000", "700000", "720000", "740000"),
		},
		{
			DepartmentCode: "DF", TaskName: "Cybersecurity monitoring services",
			Description:   "Purchase of SOC monitoring services with SIEM integration",
			Justification: "Security monitoring of financial systems required by the cybersecurity framework",
			Paragraph:     4300, Priority: budget.PriorityMedium,
			Amounts: yearAmounts(y, "540000", "550000", "560000", "570000"),
		},
		// Deferrable discretionary work, first in line for cuts.
		{
			DepartmentCode: "DI", TaskName: "Office equipment refresh",
			Justification: "Replacement of workstations older than five years",
			Paragraph:     4210, Priority: budget.PriorityDiscretionary,
			Amounts: yearAmounts(y, "350000", "0", "0", "0"),
		},
		{
			DepartmentCode: "DI", TaskName: "Intranet portal redesign",
			Justification: "Modernization of the internal portal and document workflow",
			Paragraph:     4300, Priority: budget.PriorityLow,
			Amounts: yearAmounts(y, "280000", "120000", "0", "0"),
		},
		{
			DepartmentCode: "DF", TaskName: "Financial reporting system upgrade",
			Justification: "Upgrade of the consolidation module to the vendor's supported release",
			Paragraph:     4300, Priority: budget.PriorityMedium,
			Amounts: yearAmounts(y, "460000", "80000", "0", "0"),
		},
		// Training cohort in paragraph 4700, one entry far above its peers.
		{
			DepartmentCode: "DA", TaskName: "Staff training: public procurement",
			Justification: "Annual procurement law training for contracting officers",
			Paragraph:     4700, Priority: budget.PriorityMedium,
			Amounts: yearAmounts(y, "45000", "47000", "49000", "51000"),
		},
		{
			DepartmentCode: "DF", TaskName: "Staff training: accounting standards",
			Justification: "Training on updated public sector accounting standards",
			Paragraph:     4700, Priority: budget.PriorityMedium,
			Amounts: yearAmounts(y, "38000", "39000", "40000", "41000"),
		},
		{
			DepartmentCode: "DI", TaskName: "Staff training: cloud certification",
			Justification: "Certification program for the infrastructure team",
			Paragraph:     4700, Priority: budget.PriorityLow,
			Amounts: yearAmounts(y, "52000", "54000", "0", "0"),
		},
		{
			DepartmentCode: "DI", TaskName: "Executive leadership program",
			Justification: "External leadership academy",
			Paragraph:     4700, Priority: budget.PriorityDiscretionary,
			Amounts: yearAmounts(y, "520000", "0", "0", "0"),
		},
		// Large amount with a one-word justification: missing_justification.
		{
			DepartmentCode: "DA", TaskName: "Fleet renewal",
			Justification: "Vehicles",
			Paragraph:     6060, Priority: budget.PriorityLow,
			Amounts: yearAmounts(y, "890000", "0", "0", "0"),
		},
		// Investment paragraph without investment wording: classification_mismatch.
		{
			DepartmentCode: "DF", TaskName: "Consulting retainer",
			Justification: "Ongoing advisory support for the finance director",
			Paragraph:     6050, Priority: budget.PriorityMedium,
			Amounts: yearAmounts(y, "150000", "150000", "0", "0"),
		},
	}

	for i := range entries {
		e := &entries[i]
		e.Status = budget.StatusDraft
		e.CreatedBy = "demo"
		e.UpdatedBy = "demo"
		audit := seedAudit(budget.AuditEntryCreated, "demo")
		if err := h.Store.InsertEntry(ctx, e, audit); err != nil {
			return err
		}
	}
	return nil
}

// yearAmounts builds an amounts map starting at base for up to four years.
// Zero amounts are skipped.
func yearAmounts(base int, amounts ...string) map[int]decimal.Decimal {
	m := make(map[int]decimal.Decimal, len(amounts))
	for i, raw := range amounts {
		d := budget.MustDecimal(raw)
		if d.IsZero() {
			continue
		}
		m[base+i] = d
	}
	return m
}

func seedAudit(action budget.AuditAction, actor string) budget.AuditEntry {
	return budget.AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	}
}
