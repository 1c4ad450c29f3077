// Package app holds the client-side state of spendly: who is signed in, the
// user's expense list and the single configurable screen driving both.
package app

import (
	"context"
	"strings"
	"sync"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
)

// SignUpNotice is shown after a successful registration.
const SignUpNotice = "Account created! Please check your email to verify your account."

// Confirmer guards destructive actions.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// IdentityListener is notified after every identity change. s is nil when
// the user signed out.
type IdentityListener func(ctx context.Context, s *core.Session)

// SessionManager owns the current identity and wraps the auth provider.
type SessionManager struct {
	auth  remote.AuthProvider
	table remote.ExpenseTable
	log   *log.Logger

	mu        sync.Mutex
	session   *core.Session
	inflight  int
	listeners []IdentityListener
}

func NewSessionManager(auth remote.AuthProvider, table remote.ExpenseTable, logger *log.Logger) *SessionManager {
	if logger == nil {
		logger = log.Default(log.ComponentSession)
	}
	return &SessionManager{
		auth:  auth,
		table: table,
		log:   logger.WithComponent(log.ComponentSession),
	}
}

// Subscribe registers l for identity changes.
func (m *SessionManager) Subscribe(l IdentityListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Current returns a copy of the signed-in identity, or nil.
func (m *SessionManager) Current() *core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

// Busy reports whether an auth call is in flight.
func (m *SessionManager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight > 0
}

func (m *SessionManager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight > 0 {
		return core.ErrBusy
	}
	m.inflight++
	return nil
}

func (m *SessionManager) end() {
	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
}

// setIdentity swaps the identity and notifies listeners outside the lock.
func (m *SessionManager) setIdentity(ctx context.Context, s *core.Session) {
	m.mu.Lock()
	m.session = s
	listeners := append([]IdentityListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		var cp *core.Session
		if s != nil {
			c := *s
			cp = &c
		}
		l(ctx, cp)
	}
}

func sessionFromUser(u remote.User) *core.Session {
	return &core.Session{
		UserID:       u.ID,
		Email:        u.Email,
		DisplayName:  u.MetaString(remote.MetaUsername),
		ProfilePhoto: u.MetaString(remote.MetaProfilePhoto),
	}
}

// Restore resumes a persisted session. Absence or failure leaves the
// manager signed out; failures are only logged.
func (m *SessionManager) Restore(ctx context.Context) *core.Session {
	if err := m.begin(); err != nil {
		return m.Current()
	}
	defer m.end()

	sess, err := m.auth.GetSession(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "Failed to restore session", log.FieldOperation, log.OpRestore, log.FieldError, err)
		return nil
	}
	if sess == nil || sess.User.ID == "" {
		m.log.DebugContext(ctx, "No persisted session", log.FieldOperation, log.OpRestore)
		return nil
	}

	s := sessionFromUser(sess.User)
	m.setIdentity(ctx, s)
	m.log.InfoContext(ctx, "Session restored", log.FieldUserID, s.UserID)
	return m.Current()
}

// SignUp registers a new account. It never signs in: the caller shows the
// returned notice and switches to the login form.
func (m *SessionManager) SignUp(ctx context.Context, email, password string) (string, error) {
	if err := core.RequireFields("email", email, "password", password); err != nil {
		return "", err
	}
	if err := m.begin(); err != nil {
		return "", err
	}
	defer m.end()

	u, err := m.auth.SignUp(ctx, strings.TrimSpace(email), password)
	if err != nil {
		m.log.WarnContext(ctx, "Sign up failed", log.FieldOperation, log.OpSignUp, log.FieldError, err)
		return "", err
	}
	m.log.InfoContext(ctx, "Account created", log.FieldOperation, log.OpSignUp, log.FieldUserID, u.ID)
	return SignUpNotice, nil
}

// SignIn authenticates and sets the identity.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) (*core.Session, error) {
	if err := core.RequireFields("email", email, "password", password); err != nil {
		return nil, err
	}
	if err := m.begin(); err != nil {
		return nil, err
	}

	sess, err := m.auth.SignIn(ctx, strings.TrimSpace(email), password)
	m.end()
	if err != nil {
		m.log.WarnContext(ctx, "Sign in failed", log.FieldOperation, log.OpSignIn, log.FieldError, err)
		return nil, err
	}

	s := sessionFromUser(sess.User)
	m.setIdentity(ctx, s)
	m.log.InfoContext(ctx, "Signed in", log.FieldUserID, s.UserID)
	return m.Current(), nil
}

// SignOut ends the session. Identity is cleared even when the provider
// call fails; that failure is logged and not returned.
func (m *SessionManager) SignOut(ctx context.Context) {
	// Sign out never waits for, or is refused by, another auth call.
	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()

	if err := m.auth.SignOut(ctx); err != nil {
		m.log.WarnContext(ctx, "Remote sign out failed", log.FieldOperation, log.OpSignOut, log.FieldError, err)
	}
	m.end()

	m.setIdentity(ctx, nil)
	m.log.InfoContext(ctx, "Signed out")
}

// UpdateProfile stores the display name and photo as user metadata and
// merges them into the current identity.
func (m *SessionManager) UpdateProfile(ctx context.Context, displayName, photoDataURI string) (*core.Session, error) {
	current := m.Current()
	if !current.Authenticated() {
		return nil, core.ErrNotAuthenticated
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, &core.ValidationError{Fields: []string{"username"}, Message: "Please enter a username"}
	}
	if err := m.begin(); err != nil {
		return nil, err
	}

	u, err := m.auth.UpdateUser(ctx, map[string]any{
		remote.MetaUsername:     displayName,
		remote.MetaProfilePhoto: photoDataURI,
	})
	m.end()
	if err != nil {
		m.log.WarnContext(ctx, "Profile update failed", log.FieldOperation, log.OpProfile, log.FieldError, err)
		return nil, err
	}

	updated := *current
	updated.DisplayName = displayName
	updated.ProfilePhoto = photoDataURI
	if name := u.MetaString(remote.MetaUsername); name != "" {
		updated.DisplayName = name
	}
	m.mu.Lock()
	// A sign-out may have raced the update.
	if m.session != nil && m.session.UserID == updated.UserID {
		m.session = &updated
	}
	m.mu.Unlock()

	m.log.InfoContext(ctx, "Profile updated", log.FieldUserID, updated.UserID)
	return &updated, nil
}

// DeleteAccount removes every expense of the current user and signs out.
// It is not atomic: sign out runs even when the delete fails, and the
// delete error is returned.
func (m *SessionManager) DeleteAccount(ctx context.Context, confirm Confirmer) error {
	current := m.Current()
	if !current.Authenticated() {
		return core.ErrNotAuthenticated
	}
	if confirm == nil || !confirm.Confirm("Delete your account and all of your expenses? This cannot be undone.") {
		return core.ErrNotConfirmed
	}

	err := m.table.Delete(ctx, remote.Eq(remote.ColumnUserID, current.UserID))
	if err != nil {
		m.log.ErrorContext(ctx, "Failed to delete account data", log.FieldUserID, current.UserID, log.FieldError, err)
	} else {
		m.log.InfoContext(ctx, "Account data deleted", log.FieldUserID, current.UserID)
	}

	m.SignOut(ctx)
	return err
}
