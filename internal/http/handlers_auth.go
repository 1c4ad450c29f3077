package http

import (
	"context"
	"errors"
	"net/http"

	"spendly/internal/log"
	"spendly/internal/services"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateUserRequest struct {
	Data map[string]any `json:"data"`
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *services.Claims {
	c, _ := ctx.Value(claimsKey{}).(*services.Claims)
	return c
}

// withUser requires a user access token; the anonymous key is not enough.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || token == s.anonKey {
			writeAuthError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
			return
		}
		claims, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeAuthFailure(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = log.IntoContext(ctx, log.FromContext(ctx).With(log.FieldUserID, claims.Subject))
		next(w, r.WithContext(ctx))
	}
}

// writeAuthFailure reports AuthErrors as they are and hides anything else.
func (s *Server) writeAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ae *services.AuthError
	if errors.As(err, &ae) {
		writeAuthError(w, ae.Status, ae.Code, ae.Message)
		return
	}
	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
		ErrorContext(r.Context(), "Auth request failed", log.FieldError, err)
	writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "Internal server error")
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, maxAuthBody, &req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "Signup requires a valid password")
		return
	}

	u, tokens, err := s.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthFailure(w, r, err)
		return
	}
	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).InfoContext(r.Context(), "User signed up",
		log.FieldOperation, log.OpSignUp, log.FieldUserID, u.ID, "confirmed", tokens != nil)

	if tokens != nil {
		writeJSON(w, http.StatusOK, newTokenResponse(tokens))
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var (
		tokens *services.Tokens
		err    error
		op     string
	)
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		op = log.OpSignIn
		var req credentialsRequest
		if err := decodeJSON(w, r, maxAuthBody, &req); err != nil {
			writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
			return
		}
		tokens, err = s.auth.SignIn(r.Context(), req.Email, req.Password)
	case "refresh_token":
		op = log.OpRefresh
		var req refreshRequest
		if err := decodeJSON(w, r, maxAuthBody, &req); err != nil {
			writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
			return
		}
		tokens, err = s.auth.Refresh(r.Context(), req.RefreshToken)
	default:
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported_grant_type")
		return
	}
	if err != nil {
		s.writeAuthFailure(w, r, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).InfoContext(r.Context(), "Session issued",
		log.FieldOperation, op, log.FieldUserID, tokens.User.ID)
	writeJSON(w, http.StatusOK, newTokenResponse(tokens))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.SignOut(r.Context(), claimsFrom(r.Context())); err != nil {
		s.writeAuthFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.User(r.Context(), claimsFrom(r.Context()))
	if err != nil {
		s.writeAuthFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, maxAuthBody, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAuthError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
			return
		}
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	u, err := s.auth.UpdateMetadata(r.Context(), claimsFrom(r.Context()), req.Data)
	if err != nil {
		s.writeAuthFailure(w, r, err)
		return
	}
	log.FromContext(r.Context()).WithComponent(log.ComponentAuth).InfoContext(r.Context(), "User metadata updated",
		log.FieldOperation, log.OpProfile, log.FieldCount, len(req.Data))
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Confirm(r.Context(), r.URL.Query().Get("token")); err != nil {
		var ae *services.AuthError
		if errors.As(err, &ae) {
			http.Error(w, ae.Message, ae.Status)
			return
		}
		s.writeAuthFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Email confirmed. You can now sign in.\n"))
}
