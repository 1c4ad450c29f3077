package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
)

// ExpenseStore is the client view of the signed-in user's expenses. Every
// mutation is followed by a full re-fetch.
type ExpenseStore struct {
	table    remote.ExpenseTable
	sessions *SessionManager
	now      func() time.Time
	log      *log.Logger

	mu       sync.Mutex
	items    []core.ExpenseRecord
	deleting map[core.RecordID]struct{}
}

type StoreOption func(*ExpenseStore)

// WithStoreClock overrides the clock used for created_at.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *ExpenseStore) { s.now = now }
}

// NewExpenseStore creates the store and subscribes it to identity changes:
// a sign-in triggers a fetch, a sign-out clears the list.
func NewExpenseStore(table remote.ExpenseTable, sessions *SessionManager, logger *log.Logger, opts ...StoreOption) *ExpenseStore {
	if logger == nil {
		logger = log.Default(log.ComponentStore)
	}
	s := &ExpenseStore{
		table:    table,
		sessions: sessions,
		now:      time.Now,
		log:      logger.WithComponent(log.ComponentStore),
		deleting: map[core.RecordID]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	sessions.Subscribe(s.onIdentity)
	return s
}

func (s *ExpenseStore) onIdentity(ctx context.Context, sess *core.Session) {
	if !sess.Authenticated() {
		s.Clear()
		return
	}
	// Errors are already logged; the screen re-fetches on demand.
	_ = s.FetchAll(ctx)
}

// FetchAll replaces the list with the user's rows, newest first. On a
// remote error the previous list is kept and the error returned.
func (s *ExpenseStore) FetchAll(ctx context.Context) error {
	sess := s.sessions.Current()
	if !sess.Authenticated() {
		return core.ErrNotAuthenticated
	}

	rows, err := s.table.Select(ctx, remote.Eq(remote.ColumnUserID, sess.UserID), remote.NewestFirst())
	if err != nil {
		s.log.WarnContext(ctx, "Failed to fetch expenses, keeping previous list",
			log.FieldOperation, log.OpList, log.FieldUserID, sess.UserID, log.FieldError, err)
		return err
	}

	// A sign-out or account switch while the select was in flight makes
	// these rows stale; the list must stay as the identity change left it.
	s.mu.Lock()
	if cur := s.sessions.Current(); !cur.Authenticated() || cur.UserID != sess.UserID {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "Discarding expenses fetched for a previous identity", log.FieldUserID, sess.UserID)
		return nil
	}
	s.items = rows
	s.mu.Unlock()

	s.log.DebugContext(ctx, "Fetched expenses", log.FieldUserID, sess.UserID, log.FieldCount, len(rows))
	return nil
}

// Add validates the input, inserts a row owned by the current user and
// re-fetches. Amounts accept a dot or comma decimal separator. When only the
// re-fetch fails the created row is returned together with the error.
func (s *ExpenseStore) Add(ctx context.Context, name, amount, category string) (core.ExpenseRecord, error) {
	if err := core.RequireFields("name", name, "amount", amount); err != nil {
		return core.ExpenseRecord{}, err
	}
	sess := s.sessions.Current()
	if !sess.Authenticated() {
		return core.ExpenseRecord{}, core.ErrNotAuthenticated
	}

	money, err := core.ParseAmount(amount)
	if err != nil {
		return core.ExpenseRecord{}, &core.ValidationError{Fields: []string{"amount"}, Message: "Please enter a valid amount"}
	}
	cat := core.DefaultCategory
	if strings.TrimSpace(category) != "" {
		if cat, err = core.ParseCategory(category); err != nil {
			return core.ExpenseRecord{}, &core.ValidationError{Fields: []string{"category"}, Message: "Please choose a valid category"}
		}
	}

	row := core.ExpenseRecord{
		OwnerID:   sess.UserID,
		Name:      strings.TrimSpace(name),
		Amount:    money,
		Category:  cat,
		CreatedAt: s.now().UTC(),
	}
	if err := row.Validate(); err != nil {
		return core.ExpenseRecord{}, &core.ValidationError{Fields: []string{"name"}, Message: err.Error()}
	}

	created, err := s.table.Insert(ctx, row)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to add expense",
			log.FieldOperation, log.OpCreate, log.FieldUserID, sess.UserID, log.FieldError, err)
		return core.ExpenseRecord{}, err
	}
	s.log.InfoContext(ctx, "Expense added", log.NewFields().
		WithOperation(log.OpCreate).
		WithUser(sess.UserID).
		WithExpense(created.ID.String(), created.Name, created.Amount.String(), created.Category.String()).
		ToSlice()...)

	return created, s.FetchAll(ctx)
}

// Delete removes one row and re-fetches. A second delete of the same id
// while the first is in flight fails with core.ErrBusy.
func (s *ExpenseStore) Delete(ctx context.Context, id core.RecordID) error {
	if !s.sessions.Current().Authenticated() {
		return core.ErrNotAuthenticated
	}

	s.mu.Lock()
	if _, ok := s.deleting[id]; ok {
		s.mu.Unlock()
		return core.ErrBusy
	}
	s.deleting[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	if err := s.table.Delete(ctx, remote.Eq(remote.ColumnID, id.String())); err != nil {
		s.log.ErrorContext(ctx, "Failed to delete expense",
			log.FieldOperation, log.OpDelete, log.FieldExpenseID, id, log.FieldError, err)
		return err
	}
	s.log.InfoContext(ctx, "Expense deleted", log.FieldExpenseID, id)
	return s.FetchAll(ctx)
}

// Deleting reports whether a delete of id is in flight.
func (s *ExpenseStore) Deleting(id core.RecordID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleting[id]
	return ok
}

// Items returns a copy of the list, newest first.
func (s *ExpenseStore) Items() []core.ExpenseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ExpenseRecord(nil), s.items...)
}

// Total returns the exact sum of the list. Format it for display; rounding
// happens only then.
func (s *ExpenseStore) Total() core.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Total(s.items)
}

// Clear empties the list.
func (s *ExpenseStore) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}
