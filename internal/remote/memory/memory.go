// Package memory is an in-process stand-in for the backend service. It keeps
// accounts, the current session and the expenses table in memory and applies
// the same ownership rule as the hosted table.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spendly/internal/core"
	"spendly/internal/remote"
)

const minPasswordLength = 6

type account struct {
	user remote.User
	hash []byte
}

type Store struct {
	mu                  sync.Mutex
	requireConfirmation bool
	now                 func() time.Time

	accounts map[string]*account // by lower-cased email
	session  *remote.AuthSession
	rows     []core.ExpenseRecord
	nextID   int64
}

// Ensure interface conformance
var (
	_ remote.AuthProvider = (*Store)(nil)
	_ remote.ExpenseTable = (*Store)(nil)
)

type Option func(*Store)

// WithConfirmation makes sign-in fail until Confirm is called for the email.
func WithConfirmation() Option {
	return func(s *Store) { s.requireConfirmation = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		accounts: map[string]*account{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignUp implements remote.AuthProvider.
func (s *Store) SignUp(_ context.Context, email, password string) (remote.User, error) {
	email = strings.TrimSpace(email)
	if len(password) < minPasswordLength {
		return remote.User{}, &core.RemoteAuthError{Status: 422, Message: fmt.Sprintf("Password should be at least %d characters.", minPasswordLength)}
	}
	if !strings.Contains(email, "@") {
		return remote.User{}, &core.RemoteAuthError{Status: 400, Message: "Unable to validate email address: invalid format"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.accounts[key]; ok {
		return remote.User{}, &core.RemoteAuthError{Status: 422, Message: "User already registered"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return remote.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := remote.User{ID: uuid.NewString(), Email: email, Metadata: map[string]any{}}
	if !s.requireConfirmation {
		t := s.now()
		u.EmailConfirmedAt = &t
	}
	s.accounts[key] = &account{user: u, hash: hash}
	return u, nil
}

// Confirm marks the account as verified.
func (s *Store) Confirm(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return false
	}
	t := s.now()
	a.user.EmailConfirmedAt = &t
	return true
}

// SignIn implements remote.AuthProvider.
func (s *Store) SignIn(_ context.Context, email, password string) (remote.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return remote.AuthSession{}, &core.RemoteAuthError{Status: 400, Message: "Invalid login credentials"}
	}
	if a.user.EmailConfirmedAt == nil {
		return remote.AuthSession{}, &core.RemoteAuthError{Status: 400, Message: "Email not confirmed"}
	}
	sess := remote.AuthSession{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    s.now().Add(time.Hour),
		User:         copyUser(a.user),
	}
	s.session = &sess
	return sess, nil
}

// SignOut implements remote.AuthProvider.
func (s *Store) SignOut(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// GetSession implements remote.AuthProvider.
func (s *Store) GetSession(_ context.Context) (*remote.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Expired(s.now()) {
		return nil, nil
	}
	sess := *s.session
	sess.User = copyUser(sess.User)
	return &sess, nil
}

// UpdateUser implements remote.AuthProvider.
func (s *Store) UpdateUser(_ context.Context, metadata map[string]any) (remote.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.currentAccount()
	if err != nil {
		return remote.User{}, err
	}
	for k, v := range metadata {
		a.user.Metadata[k] = v
	}
	s.session.User = copyUser(a.user)
	return copyUser(a.user), nil
}

// Select implements remote.ExpenseTable.
func (s *Store) Select(_ context.Context, filter remote.Filter, order remote.Order) ([]core.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, err := s.currentOwner()
	if err != nil {
		return nil, err
	}
	out := make([]core.ExpenseRecord, 0, len(s.rows))
	for _, r := range s.rows {
		if r.OwnerID != owner {
			continue
		}
		ok, err := matches(r, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	if err := sortRows(out, order); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert implements remote.ExpenseTable.
func (s *Store) Insert(_ context.Context, row core.ExpenseRecord) (core.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, err := s.currentOwner()
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	if row.OwnerID != owner {
		return core.ExpenseRecord{}, &core.RemoteDataError{Op: "insert", Status: 403,
			Message: `new row violates row-level security policy for table "expenses"`}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	s.nextID++
	row.ID = core.RecordID(strconv.FormatInt(s.nextID, 10))
	s.rows = append(s.rows, row)
	return row, nil
}

// Delete implements remote.ExpenseTable.
func (s *Store) Delete(_ context.Context, filter remote.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, err := s.currentOwner()
	if err != nil {
		return err
	}
	if _, err := matches(core.ExpenseRecord{}, filter); err != nil {
		return err
	}
	kept := s.rows[:0]
	for _, r := range s.rows {
		if ok, _ := matches(r, filter); ok && r.OwnerID == owner {
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return nil
}

// Len returns the number of rows across all owners.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *Store) currentAccount() (*account, error) {
	if s.session == nil || s.session.Expired(s.now()) {
		return nil, &core.RemoteAuthError{Status: 401, Message: "Auth session missing!"}
	}
	a, ok := s.accounts[strings.ToLower(s.session.User.Email)]
	if !ok {
		return nil, &core.RemoteAuthError{Status: 404, Message: "User not found"}
	}
	return a, nil
}

func (s *Store) currentOwner() (string, error) {
	if s.session == nil || s.session.Expired(s.now()) {
		return "", &core.RemoteDataError{Status: 401, Message: "JWT expired"}
	}
	return s.session.User.ID, nil
}

func matches(r core.ExpenseRecord, f remote.Filter) (bool, error) {
	switch f.Column {
	case "":
		return true, nil
	case remote.ColumnID:
		return string(r.ID) == f.Value, nil
	case remote.ColumnUserID:
		return r.OwnerID == f.Value, nil
	case "name":
		return r.Name == f.Value, nil
	case "category":
		return string(r.Category) == f.Value, nil
	}
	return false, unknownColumn(f.Column)
}

func sortRows(rows []core.ExpenseRecord, o remote.Order) error {
	var less func(a, b core.ExpenseRecord) bool
	switch o.Column {
	case "":
		return nil
	case remote.ColumnCreatedAt:
		less = func(a, b core.ExpenseRecord) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "amount":
		less = func(a, b core.ExpenseRecord) bool { return a.Amount.LessThan(b.Amount.Decimal) }
	case "name":
		less = func(a, b core.ExpenseRecord) bool { return a.Name < b.Name }
	default:
		return unknownColumn(o.Column)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if o.Ascending {
			return less(rows[i], rows[j])
		}
		return less(rows[j], rows[i])
	})
	return nil
}

func unknownColumn(col string) error {
	return &core.RemoteDataError{Status: 400, Message: fmt.Sprintf("column expenses.%s does not exist", col)}
}

func copyUser(u remote.User) remote.User {
	meta := make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		meta[k] = v
	}
	u.Metadata = meta
	return u
}
