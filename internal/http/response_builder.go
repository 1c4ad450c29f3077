package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"spendly/internal/services"
	"spendly/internal/storage"
)

// authErrorBody is the error shape of /auth/v1.
type authErrorBody struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Msg       string `json:"msg"`
}

// tableErrorBody is the error shape of /rest/v1.
type tableErrorBody struct {
	Code    string  `json:"code"`
	Details *string `json:"details"`
	Hint    *string `json:"hint"`
	Message string  `json:"message"`
}

// userResponse is an account as the auth API returns it.
type userResponse struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud"`
	Role             string         `json:"role"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func newUserResponse(u storage.User) userResponse {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return userResponse{
		ID:               u.ID,
		Aud:              "authenticated",
		Role:             "authenticated",
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		UserMetadata:     meta,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func newTokenResponse(t *services.Tokens) tokenResponse {
	return tokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    t.ExpiresIn,
		ExpiresAt:    t.ExpiresAt.Unix(),
		RefreshToken: t.RefreshToken,
		User:         newUserResponse(t.User),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, authErrorBody{Code: status, ErrorCode: code, Msg: msg})
}

func writeTableError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, tableErrorBody{Code: code, Message: msg})
}

// rowsOrEmpty keeps an empty result encoded as [] rather than null.
func rowsOrEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
