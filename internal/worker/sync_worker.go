// Package worker mirrors expense change events into a spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"

	"spendly/internal/amqp"
	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/sheets"
	"spendly/internal/storage"
)

// ExpenseReader loads the current state of a row.
type ExpenseReader interface {
	GetExpense(ctx context.Context, id core.RecordID) (core.ExpenseRecord, error)
}

var _ ExpenseReader = (*storage.SQLiteRepository)(nil)

// SyncWorker applies expense events to a mirror. Events are handled one at
// a time in delivery order.
type SyncWorker struct {
	expenses ExpenseReader
	mirror   sheets.ExpenseMirror
	logger   *log.Logger
}

func NewSyncWorker(expenses ExpenseReader, mirror sheets.ExpenseMirror, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &SyncWorker{
		expenses: expenses,
		mirror:   mirror,
		logger:   logger,
	}
}

// HandleEvent is an amqp consumer handler. A returned error makes the
// consumer retry the event with backoff until its retries run out.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	w.logger.InfoContext(ctx, "Processing expense event",
		log.FieldEventType, ev.Type,
		log.FieldExpenseID, ev.ID,
		log.FieldUserID, ev.UserID)

	switch ev.Type {
	case amqp.EventCreated:
		return w.mirrorCreated(ctx, core.RecordID(ev.ID))
	case amqp.EventDeleted:
		if err := w.mirror.Delete(ctx, core.RecordID(ev.ID)); err != nil {
			return fmt.Errorf("delete from mirror: %w", err)
		}
		w.logger.InfoContext(ctx, "Removed expense from mirror", log.FieldExpenseID, ev.ID)
		return nil
	default:
		// ExpenseEventFromJSON rejects unknown types, so this is a bug upstream.
		w.logger.WarnContext(ctx, "Ignoring event with unknown type", log.FieldEventType, ev.Type)
		return nil
	}
}

func (w *SyncWorker) mirrorCreated(ctx context.Context, id core.RecordID) error {
	e, err := w.expenses.GetExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before we got to it; the delete event follows.
		w.logger.InfoContext(ctx, "Expense no longer exists, skipping", log.FieldExpenseID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	ref, err := w.mirror.Append(ctx, e)
	if err != nil {
		return fmt.Errorf("append to mirror: %w", err)
	}

	w.logger.InfoContext(ctx, "Mirrored expense",
		append(log.NewFields().
			WithOperation(log.OpMirror).
			WithExpense(e.ID.String(), e.Name, e.Amount.String(), e.Category.String()).
			ToSlice(), "sheets_ref", ref)...)
	return nil
}
