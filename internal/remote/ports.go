// Package remote declares the outbound ports to the backend service: an auth
// provider and the single expenses table. Adapters live in sub-packages.
package remote

import (
	"context"
	"time"

	"spendly/internal/core"
)

// Column names of the expenses table.
const (
	TableExpenses = "expenses"

	ColumnID        = "id"
	ColumnUserID    = "user_id"
	ColumnCreatedAt = "created_at"
)

// Metadata keys stored on the remote user.
const (
	MetaUsername     = "username"
	MetaProfilePhoto = "profile_photo"
)

type (
	// User is the auth provider's view of an account.
	User struct {
		ID               string         `json:"id"`
		Email            string         `json:"email"`
		EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
		Metadata         map[string]any `json:"user_metadata,omitempty"`
	}

	// AuthSession is a signed-in session issued by the provider.
	AuthSession struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
		User         User      `json:"user"`
	}

	// Filter is a single column equality, the only predicate the data API
	// is used with.
	Filter struct {
		Column string
		Value  string
	}

	// Order sorts a select by one column.
	Order struct {
		Column    string
		Ascending bool
	}
)

// Ports for outbound adapters.
type (
	AuthProvider interface {
		// SignUp registers an account. Providers that require email
		// confirmation return the user without starting a session.
		SignUp(ctx context.Context, email, password string) (User, error)
		SignIn(ctx context.Context, email, password string) (AuthSession, error)
		SignOut(ctx context.Context) error
		// GetSession returns the persisted session, or nil when there is none.
		GetSession(ctx context.Context) (*AuthSession, error)
		UpdateUser(ctx context.Context, metadata map[string]any) (User, error)
	}

	ExpenseTable interface {
		Select(ctx context.Context, filter Filter, order Order) ([]core.ExpenseRecord, error)
		Insert(ctx context.Context, row core.ExpenseRecord) (core.ExpenseRecord, error)
		Delete(ctx context.Context, filter Filter) error
	}
)

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// NewestFirst orders rows by creation time, descending.
func NewestFirst() Order {
	return Order{Column: ColumnCreatedAt}
}

// MetaString reads a string metadata value.
func (u User) MetaString(key string) string {
	if u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}

// Expired reports whether the session's access token is no longer valid at now.
func (s AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
