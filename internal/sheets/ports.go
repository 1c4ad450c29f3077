package sheets

import (
	"context"

	"spendly/internal/core"
)

// Ports for outbound adapters.
type (
	// ExpenseMirror keeps a copy of the expenses table in a spreadsheet.
	ExpenseMirror interface {
		// Append adds the row and returns a reference to where it landed.
		Append(ctx context.Context, e core.ExpenseRecord) (rowRef string, err error)
		// Delete removes the row for id. A missing row is not an error.
		Delete(ctx context.Context, id core.RecordID) error
	}
)

// Header is the first row of a mirror sheet.
var Header = []string{"id", "created_at", "name", "category", "amount", "user_id"}

// Row renders e in Header order.
func Row(e core.ExpenseRecord) []string {
	return []string{
		e.ID.String(),
		e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		e.Name,
		e.Category.String(),
		e.Amount.Format(),
		e.OwnerID,
	}
}
