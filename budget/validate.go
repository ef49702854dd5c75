package budget

import (
	"strconv"
	"strings"
)

// ValidateAmounts rejects negative amounts on any year.
func ValidateAmounts(e *BudgetEntry) error {
	for year, amount := range e.Amounts {
		if amount.IsNegative() {
			a := amount
			return &ValidationError{
				Field:   "amounts",
				Message: "amount must be non-negative for year " + strconv.Itoa(year),
				Amount:  &a,
			}
		}
	}
	return nil
}

// ValidateForSubmit checks everything required before an entry may leave
// draft: a task name, a department, a paragraph classification, and
// non-negative amounts.
func ValidateForSubmit(e *BudgetEntry) error {
	if strings.TrimSpace(e.TaskName) == "" && strings.TrimSpace(e.Description) == "" {
		return &ValidationError{Field: "task_name", Message: "task name or description is required"}
	}
	if strings.TrimSpace(e.DepartmentCode) == "" {
		return &ValidationError{Field: "department_code", Message: "department is required"}
	}
	if e.Paragraph <= 0 {
		return &ValidationError{Field: "paragraph", Message: "paragraph classification is required"}
	}
	return ValidateAmounts(e)
}

// Editable reports whether an entry may be mutated through the edit
// operation. Drafts are always editable; approved entries only
// administratively.
func Editable(s Status) bool {
	return s == StatusDraft || s == StatusApproved || s == StatusNeedsRevision
}
