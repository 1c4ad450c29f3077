package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrBusy             = errors.New("operation already in progress")
	ErrNotConfirmed     = errors.New("action not confirmed")
	ErrFeatureDisabled  = errors.New("feature disabled")
)

// ValidationError reports missing or malformed input detected before any
// remote call is made.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// RequireFields returns a ValidationError naming every empty field, or nil.
// Arguments are name/value pairs.
func RequireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Fields: missing, Message: "Please fill all fields"}
}

// RemoteAuthError carries the auth provider's message verbatim.
type RemoteAuthError struct {
	Status  int
	Message string
}

func (e *RemoteAuthError) Error() string { return e.Message }

// RemoteDataError carries the data API's message verbatim.
type RemoteDataError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteDataError) Error() string { return e.Message }

// LocalIOError is raised for local input (files) rejected before upload.
type LocalIOError struct {
	Path    string
	Message string
	Err     error
}

func (e *LocalIOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// UserMessage returns the text shown to the user for err. Remote messages
// are passed through unchanged.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve *ValidationError
		ae *RemoteAuthError
		de *RemoteDataError
		le *LocalIOError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ae):
		return ae.Message
	case errors.As(err, &de):
		return de.Message
	case errors.As(err, &le):
		return le.Message
	}
	return err.Error()
}
