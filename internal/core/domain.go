package core

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

type (
	// RecordID is the server-assigned identifier of an expense row. The
	// remote table may use numeric or uuid keys, so it is kept opaque.
	RecordID string

	// ExpenseRecord is one user-owned spending entry as stored remotely.
	ExpenseRecord struct {
		ID        RecordID  `json:"id,omitempty"`
		OwnerID   string    `json:"user_id"`
		Name      string    `json:"name"`
		Amount    Money     `json:"amount"`
		Category  Category  `json:"category"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Session is the authenticated identity of the current user.
	Session struct {
		UserID       string
		Email        string
		DisplayName  string
		ProfilePhoto string // data URI
	}
)

const maxNameLength = 200

var (
	ErrEmptyName     = errors.New("empty name")
	ErrNameTooLong   = errors.New("name too long (max 200 characters)")
	ErrEmptyOwner    = errors.New("empty owner")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrZeroTimestamp = errors.New("created_at cannot be zero")
)

func (id RecordID) String() string { return string(id) }

// UnmarshalJSON accepts both string and numeric ids.
func (id *RecordID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = RecordID(n.String())
	return nil
}

// Int64 returns the numeric form of the id, when it has one.
func (id RecordID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// Validate checks the fields a client sets before insert. The id is
// assigned by the server and is not checked here.
func (e ExpenseRecord) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if len(e.Name) > maxNameLength {
		return ErrNameTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Category.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// Authenticated reports whether the session carries an identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// Label returns the name to greet the user with.
func (s *Session) Label() string {
	if s == nil {
		return ""
	}
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Email
}
