// Package services holds the backend's business logic: accounts and tokens,
// and owner-scoped expense rows with change events.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendly/internal/amqp"
	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
	"spendly/internal/storage"
)

// ExpenseRepository is the slice of storage the expense service needs.
type ExpenseRepository interface {
	InsertExpense(ctx context.Context, e core.ExpenseRecord) (core.ExpenseRecord, error)
	SelectExpenses(ctx context.Context, owner string, f remote.Filter, o remote.Order) ([]core.ExpenseRecord, error)
	DeleteExpenses(ctx context.Context, owner string, f remote.Filter) ([]core.RecordID, error)
}

// EventPublisher announces expense changes to downstream consumers.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, ev *amqp.ExpenseEvent) error
}

var _ ExpenseRepository = (*storage.SQLiteRepository)(nil)
var _ EventPublisher = (*amqp.Client)(nil)

// ExpenseService orchestrates expense operations across SQLite and AMQP
type ExpenseService struct {
	repo      ExpenseRepository
	publisher EventPublisher
	now       func() time.Time
	log       *log.Logger
}

// NewExpenseService creates the service. publisher may be nil, in which case
// no events are sent.
func NewExpenseService(repo ExpenseRepository, publisher EventPublisher) *ExpenseService {
	return &ExpenseService{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		log:       log.Default(log.ComponentExpenses),
	}
}

// WithLogger replaces the default logger.
func (s *ExpenseService) WithLogger(l *log.Logger) *ExpenseService {
	s.log = l.WithComponent(log.ComponentExpenses)
	return s
}

// Create stores rows on behalf of owner. The owner always comes from the
// caller's identity; a user_id in the payload must match it. Missing
// timestamps are filled in.
func (s *ExpenseService) Create(ctx context.Context, owner string, rows []core.ExpenseRecord) ([]core.ExpenseRecord, error) {
	if len(rows) == 0 {
		return nil, &core.ValidationError{Message: "Empty or invalid json"}
	}

	prepared := make([]core.ExpenseRecord, 0, len(rows))
	for _, row := range rows {
		if row.OwnerID != "" && row.OwnerID != owner {
			return nil, ErrRowPolicy
		}
		row.OwnerID = owner
		row.ID = ""
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now().UTC()
		}
		if err := row.Validate(); err != nil {
			return nil, &core.ValidationError{Message: err.Error()}
		}
		prepared = append(prepared, row)
	}

	created := make([]core.ExpenseRecord, 0, len(prepared))
	for _, row := range prepared {
		stored, err := s.repo.InsertExpense(ctx, row)
		if err != nil {
			return created, fmt.Errorf("save expense: %w", err)
		}
		created = append(created, stored)

		s.log.InfoContext(ctx, "Expense created", log.NewFields().
			WithOperation(log.OpCreate).
			WithUser(owner).
			WithExpense(stored.ID.String(), stored.Name, stored.Amount.String(), stored.Category.String()).
			ToSlice()...)
		s.publish(ctx, amqp.EventCreated, stored.ID, owner)
	}
	return created, nil
}

// List returns owner's rows matching filter.
func (s *ExpenseService) List(ctx context.Context, owner string, filter remote.Filter, order remote.Order) ([]core.ExpenseRecord, error) {
	rows, err := s.repo.SelectExpenses(ctx, owner, filter, order)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return rows, nil
}

// Delete removes owner's rows matching filter. An empty filter is refused.
func (s *ExpenseService) Delete(ctx context.Context, owner string, filter remote.Filter) ([]core.RecordID, error) {
	if filter.Column == "" {
		return nil, ErrUnfilteredDelete
	}
	ids, err := s.repo.DeleteExpenses(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("delete expenses: %w", err)
	}
	for _, id := range ids {
		s.publish(ctx, amqp.EventDeleted, id, owner)
	}
	s.log.InfoContext(ctx, "Expenses deleted",
		log.FieldOperation, log.OpDelete, log.FieldUserID, owner, log.FieldCount, len(ids))
	return ids, nil
}

// publish sends a change event. Failures are logged and never fail the
// request: the row is already committed.
func (s *ExpenseService) publish(ctx context.Context, t amqp.EventType, id core.RecordID, owner string) {
	if s.publisher == nil {
		s.log.DebugContext(ctx, "AMQP client not available, skipping event",
			log.FieldEventType, t, log.FieldExpenseID, id)
		return
	}
	if err := s.publisher.PublishExpenseEvent(ctx, amqp.NewExpenseEvent(t, id.String(), owner)); err != nil {
		s.log.ErrorContext(ctx, "Failed to publish expense event",
			log.FieldOperation, log.OpPublish, log.FieldEventType, t, log.FieldExpenseID, id, log.FieldError, err)
	}
}

var (
	// ErrRowPolicy is returned when a row names another user as owner.
	ErrRowPolicy = errors.New("new row violates row-level security policy for table \"expenses\"")
	// ErrUnfilteredDelete guards against deleting every row.
	ErrUnfilteredDelete = errors.New("DELETE requires a WHERE clause")
)
