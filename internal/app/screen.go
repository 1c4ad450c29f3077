package app

import (
	"context"
	"errors"
	"sync"

	"spendly/internal/core"
	"spendly/internal/photo"
)

// Features enumerates the optional sections of the screen.
type Features struct {
	SettingsPanel bool
	PhotoUpload   bool
	DeleteAccount bool
}

// FullFeatures enables every optional section.
func FullFeatures() Features {
	return Features{SettingsPanel: true, PhotoUpload: true, DeleteAccount: true}
}

// BasicFeatures is the plain tracker: auth, list, add, delete, total.
func BasicFeatures() Features {
	return Features{}
}

// FeaturesByName resolves "full" or "basic".
func FeaturesByName(name string) (Features, bool) {
	switch name {
	case "full":
		return FullFeatures(), true
	case "basic":
		return BasicFeatures(), true
	}
	return Features{}, false
}

// AuthMode selects which credential form is shown.
type AuthMode int

const (
	ModeLogin AuthMode = iota
	ModeSignUp
)

func (m AuthMode) String() string {
	if m == ModeSignUp {
		return "signup"
	}
	return "login"
}

type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeSuccess
	NoticeError
)

// Notice is the last message shown to the user.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Form is the editable input of the screen.
type Form struct {
	Mode     AuthMode
	Email    string
	Password string

	Name     string
	Amount   string
	Category core.Category

	DisplayName string
	PhotoDraft  string // data URI awaiting save
}

// Row is an expense with its display style.
type Row struct {
	core.ExpenseRecord
	Style    core.CategoryStyle
	Deleting bool
}

// View is a snapshot for rendering.
type View struct {
	Session *core.Session
	Rows    []Row
	Total   string
	Busy    bool
	Form    Form
	Notice  Notice
	Feature Features
}

// Screen is the single configurable expense screen. It routes user actions
// to the session manager and the expense store and records the outcome as
// a notice.
type Screen struct {
	sessions *SessionManager
	store    *ExpenseStore
	features Features

	mu     sync.Mutex
	form   Form
	notice Notice
}

func NewScreen(sessions *SessionManager, store *ExpenseStore, features Features) *Screen {
	return &Screen{
		sessions: sessions,
		store:    store,
		features: features,
		form:     Form{Mode: ModeLogin, Category: core.DefaultCategory},
	}
}

// Restore resumes a persisted session; the store fetches on identity.
func (s *Screen) Restore(ctx context.Context) *core.Session {
	sess := s.sessions.Restore(ctx)
	if sess != nil {
		s.mu.Lock()
		s.form.DisplayName = sess.DisplayName
		s.mu.Unlock()
	}
	return sess
}

// Teardown drops the screen state. The persisted session is kept.
func (s *Screen) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form = Form{Mode: ModeLogin, Category: core.DefaultCategory}
	s.notice = Notice{}
}

func (s *Screen) Features() Features { return s.features }

// Form returns a copy of the current input.
func (s *Screen) Form() Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

func (s *Screen) Notice() Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// DismissNotice clears the last notice.
func (s *Screen) DismissNotice() {
	s.mu.Lock()
	s.notice = Notice{}
	s.mu.Unlock()
}

func (s *Screen) setNotice(kind NoticeKind, text string) {
	s.mu.Lock()
	s.notice = Notice{Kind: kind, Text: text}
	s.mu.Unlock()
}

// fail records err as the notice and returns it.
func (s *Screen) fail(err error) error {
	s.setNotice(NoticeError, core.UserMessage(err))
	return err
}

func (s *Screen) SetMode(m AuthMode) {
	s.mu.Lock()
	s.form.Mode = m
	s.mu.Unlock()
}

func (s *Screen) ToggleMode() AuthMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.form.Mode == ModeLogin {
		s.form.Mode = ModeSignUp
	} else {
		s.form.Mode = ModeLogin
	}
	return s.form.Mode
}

func (s *Screen) SetCredentials(email, password string) {
	s.mu.Lock()
	s.form.Email, s.form.Password = email, password
	s.mu.Unlock()
}

// SetExpense fills the expense form. An empty category keeps the current
// selection.
func (s *Screen) SetExpense(name, amount string, category core.Category) {
	s.mu.Lock()
	s.form.Name, s.form.Amount = name, amount
	if category != "" {
		s.form.Category = category
	}
	s.mu.Unlock()
}

// SubmitAuth signs up or signs in depending on the form mode. A successful
// sign-up switches to login mode; both clear the credentials on success.
func (s *Screen) SubmitAuth(ctx context.Context) error {
	f := s.Form()
	if f.Mode == ModeSignUp {
		notice, err := s.sessions.SignUp(ctx, f.Email, f.Password)
		if err != nil {
			return s.fail(err)
		}
		s.mu.Lock()
		s.form.Mode = ModeLogin
		s.form.Email, s.form.Password = "", ""
		s.notice = Notice{Kind: NoticeSuccess, Text: notice}
		s.mu.Unlock()
		return nil
	}

	sess, err := s.sessions.SignIn(ctx, f.Email, f.Password)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.form.Email, s.form.Password = "", ""
	s.form.DisplayName = sess.DisplayName
	s.notice = Notice{}
	s.mu.Unlock()
	return nil
}

// Logout always ends up signed out.
func (s *Screen) Logout(ctx context.Context) {
	s.sessions.SignOut(ctx)
	s.mu.Lock()
	s.form = Form{Mode: ModeLogin, Category: core.DefaultCategory}
	s.notice = Notice{}
	s.mu.Unlock()
}

// Refresh re-fetches the list.
func (s *Screen) Refresh(ctx context.Context) error {
	if err := s.store.FetchAll(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

// AddExpense submits the expense form. The form is cleared on success and
// left intact on failure.
func (s *Screen) AddExpense(ctx context.Context) error {
	f := s.Form()
	created, err := s.store.Add(ctx, f.Name, f.Amount, f.Category.String())
	if err != nil && created.ID == "" {
		return s.fail(err)
	}

	s.mu.Lock()
	s.form.Name, s.form.Amount = "", ""
	s.form.Category = core.DefaultCategory
	s.mu.Unlock()
	if err != nil {
		// Saved, but the re-fetch failed.
		return s.fail(err)
	}
	s.setNotice(NoticeSuccess, "Expense added!")
	return nil
}

// DeleteExpense removes one entry.
func (s *Screen) DeleteExpense(ctx context.Context, id core.RecordID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.fail(err)
	}
	s.setNotice(NoticeSuccess, "Expense deleted!")
	return nil
}

// LoadPhoto reads a local image into the profile form.
func (s *Screen) LoadPhoto(path string) error {
	if !s.features.PhotoUpload {
		return core.ErrFeatureDisabled
	}
	uri, err := photo.Load(path)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.form.PhotoDraft = uri
	s.mu.Unlock()
	return nil
}

// SaveProfile writes the display name and photo. Without the photo
// section the current photo is kept.
func (s *Screen) SaveProfile(ctx context.Context, displayName string) error {
	if !s.features.SettingsPanel {
		return core.ErrFeatureDisabled
	}
	current := s.sessions.Current()
	if !current.Authenticated() {
		return s.fail(core.ErrNotAuthenticated)
	}
	f := s.Form()
	photoURI := current.ProfilePhoto
	if f.PhotoDraft != "" {
		photoURI = f.PhotoDraft
	}

	sess, err := s.sessions.UpdateProfile(ctx, displayName, photoURI)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.form.DisplayName = sess.DisplayName
	s.form.PhotoDraft = ""
	s.notice = Notice{Kind: NoticeSuccess, Text: "Profile updated!"}
	s.mu.Unlock()
	return nil
}

// DeleteAccount removes the user's data after confirmation and signs out.
func (s *Screen) DeleteAccount(ctx context.Context, confirm Confirmer) error {
	if !s.features.DeleteAccount {
		return core.ErrFeatureDisabled
	}
	err := s.sessions.DeleteAccount(ctx, confirm)
	if errors.Is(err, core.ErrNotConfirmed) {
		return err
	}
	s.mu.Lock()
	s.form = Form{Mode: ModeLogin, Category: core.DefaultCategory}
	s.mu.Unlock()
	if err != nil {
		return s.fail(err)
	}
	s.setNotice(NoticeSuccess, "Account deleted.")
	return nil
}

// View returns a render snapshot.
func (s *Screen) View() View {
	items := s.store.Items()
	rows := make([]Row, len(items))
	for i, it := range items {
		rows[i] = Row{ExpenseRecord: it, Style: it.Category.Style(), Deleting: s.store.Deleting(it.ID)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Session: s.sessions.Current(),
		Rows:    rows,
		Total:   s.store.Total().Format(),
		Busy:    s.sessions.Busy(),
		Form:    s.form,
		Notice:  s.notice,
		Feature: s.features,
	}
}
