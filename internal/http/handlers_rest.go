package http

import (
	"errors"
	"net/http"
	"strings"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/services"
	"spendly/internal/storage"
)

// tableOwner resolves the caller of a table request. Requests carrying only
// the anonymous key act as nobody and see no rows.
func (s *Server) tableOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" || token == s.anonKey {
		return "", true
	}
	claims, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		var ae *services.AuthError
		if errors.As(err, &ae) {
			writeTableError(w, http.StatusUnauthorized, "PGRST301", ae.Message)
			return "", false
		}
		s.writeTableFailure(w, r, err)
		return "", false
	}
	return claims.Subject, true
}

// writeTableFailure maps service errors to the table API's error codes.
func (s *Server) writeTableFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		qe *queryError
		ve *core.ValidationError
		uc *storage.UnknownColumnError
	)
	switch {
	case errors.As(err, &qe):
		writeTableError(w, http.StatusBadRequest, "PGRST100", qe.Error())
	case errors.As(err, &uc):
		writeTableError(w, http.StatusBadRequest, "42703", uc.Error())
	case errors.As(err, &ve):
		writeTableError(w, http.StatusBadRequest, "23514", ve.Error())
	case errors.Is(err, services.ErrRowPolicy):
		writeTableError(w, http.StatusForbidden, "42501", err.Error())
	case errors.Is(err, services.ErrUnfilteredDelete):
		writeTableError(w, http.StatusBadRequest, "21000", err.Error())
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTableError(w, http.StatusRequestEntityTooLarge, "PGRST413", "Request body too large")
			return
		}
		log.FromContext(r.Context()).WithComponent(log.ComponentStorage).
			ErrorContext(r.Context(), "Table request failed", log.FieldError, err)
		writeTableError(w, http.StatusInternalServerError, "XX000", "Internal server error")
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.tableOwner(w, r)
	if !ok {
		return
	}
	q, err := parseTableQuery(r.URL.Query())
	if err != nil {
		s.writeTableFailure(w, r, err)
		return
	}
	if owner == "" {
		writeJSON(w, http.StatusOK, []core.ExpenseRecord{})
		return
	}

	rows, err := s.expenses.List(r.Context(), owner, q.Filter, q.Order)
	if err != nil {
		s.writeTableFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsOrEmpty(rows))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.tableOwner(w, r)
	if !ok {
		return
	}
	if owner == "" {
		writeTableError(w, http.StatusUnauthorized, "42501", services.ErrRowPolicy.Error())
		return
	}

	rows, err := decodeRows(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeTableFailure(w, r, err)
			return
		}
		writeTableError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json")
		return
	}

	created, err := s.expenses.Create(r.Context(), owner, rows)
	if err != nil {
		s.writeTableFailure(w, r, err)
		return
	}
	if wantsRepresentation(r.Header) {
		writeJSON(w, http.StatusCreated, created)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.tableOwner(w, r)
	if !ok {
		return
	}
	q, err := parseTableQuery(r.URL.Query())
	if err != nil {
		s.writeTableFailure(w, r, err)
		return
	}
	if q.Filter.Column == "" {
		s.writeTableFailure(w, r, services.ErrUnfilteredDelete)
		return
	}
	if owner != "" {
		if _, err := s.expenses.Delete(r.Context(), owner, q.Filter); err != nil {
			s.writeTableFailure(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleUnknownTable(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if table == "expenses" {
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeTableError(w, http.StatusMethodNotAllowed, "PGRST117", "Unsupported HTTP method: "+r.Method)
		return
	}
	writeTableError(w, http.StatusNotFound, "42P01", "relation \"public."+table+"\" does not exist")
}
