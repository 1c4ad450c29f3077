package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendly/internal/log"
	"spendly/internal/services"
	"spendly/internal/storage"
)

const (
	testAnonKey = "test-anon-key"
	testSecret  = "0123456789abcdef0123456789abcdef"
)

type testEnv struct {
	srv  *Server
	repo *storage.SQLiteRepository
}

func newTestEnv(t *testing.T, requireConfirmation bool) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "spendly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	auth := services.NewAuthService(repo, services.AuthConfig{
		JWTSecret:           testSecret,
		AccessTokenTTL:      time.Hour,
		RequireConfirmation: requireConfirmation,
		PublicURL:           "http://localhost:8081",
	})
	expenses := services.NewExpenseService(repo, nil)
	logger := log.New(log.Config{Output: io.Discard})

	srv := NewServer(Config{Addr: ":0", AnonKey: testAnonKey, RateLimitPerMinute: 1000}, auth, expenses, repo, logger)
	t.Cleanup(srv.limiter.Stop)
	return &testEnv{srv: srv, repo: repo}
}

type call struct {
	method string
	target string
	body   any
	bearer string
	apiKey string
	header map[string]string
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		if s, ok := c.body.(string); ok {
			body = strings.NewReader(s)
		} else {
			b, err := json.Marshal(c.body)
			require.NoError(t, err)
			body = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(c.method, c.target, body)
	if c.apiKey == "" {
		c.apiKey = testAnonKey
	}
	if c.apiKey != "-" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signUp(t *testing.T, email string) tokenResponse {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, target: "/auth/v1/signup",
		body: credentialsRequest{Email: email, Password: "secret1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	require.NotEmpty(t, tr.AccessToken)
	return tr
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, call{method: http.MethodGet, target: path, apiKey: "-"})
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	}

	require.NoError(t, env.repo.Close())
	rec := env.do(t, call{method: http.MethodGet, target: "/readyz", apiKey: "-"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses", apiKey: "-"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No API key found in request", decode[tableErrorBody](t, rec).Message)

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/signup", apiKey: "wrong", body: credentialsRequest{}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API key", decode[authErrorBody](t, rec).Msg)

	rec = env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses?apikey=" + testAnonKey, apiKey: "-"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignUpWithConfirmation(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, call{method: http.MethodPost, target: "/auth/v1/signup",
		body: credentialsRequest{Email: "ann@example.com", Password: "secret1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[userResponse](t, rec)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Nil(t, u.EmailConfirmedAt)
	assert.NotContains(t, rec.Body.String(), "access_token")

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=password",
		body: credentialsRequest{Email: "ann@example.com", Password: "secret1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email not confirmed", decode[authErrorBody](t, rec).Msg)

	stored, err := env.repo.GetUserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	rec = env.do(t, call{method: http.MethodGet, target: "/auth/v1/verify?token=" + stored.ConfirmationToken, apiKey: "-"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, target: "/auth/v1/verify?token=" + stored.ConfirmationToken, apiKey: "-"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=password",
		body: credentialsRequest{Email: "ann@example.com", Password: "secret1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenGrants(t *testing.T) {
	env := newTestEnv(t, false)
	first := env.signUp(t, "ann@example.com")

	rec := env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=password",
		body: credentialsRequest{Email: "ann@example.com", Password: "nope-nope"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid login credentials", decode[authErrorBody](t, rec).Msg)

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=refresh_token",
		body: refreshRequest{RefreshToken: first.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[tokenResponse](t, rec)
	assert.Equal(t, "bearer", refreshed.TokenType)
	assert.NotEqual(t, first.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, first.User.ID, refreshed.User.ID)

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=magic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/token?grant_type=password", body: "{not json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserEndpoints(t *testing.T) {
	env := newTestEnv(t, false)
	tr := env.signUp(t, "ann@example.com")

	rec := env.do(t, call{method: http.MethodGet, target: "/auth/v1/user"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, call{method: http.MethodPut, target: "/auth/v1/user", bearer: tr.AccessToken,
		body: updateUserRequest{Data: map[string]any{"username": "ann", "profile_photo": "data:image/png;base64,AA=="}}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann", decode[userResponse](t, rec).UserMetadata["username"])

	rec = env.do(t, call{method: http.MethodGet, target: "/auth/v1/user", bearer: tr.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[userResponse](t, rec)
	assert.Equal(t, "data:image/png;base64,AA==", u.UserMetadata["profile_photo"])

	rec = env.do(t, call{method: http.MethodPost, target: "/auth/v1/logout", bearer: tr.AccessToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, target: "/auth/v1/user", bearer: tr.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpensesTable(t *testing.T) {
	env := newTestEnv(t, false)
	ann := env.signUp(t, "ann@example.com")
	bob := env.signUp(t, "bob@example.com")
	rep := map[string]string{"Prefer": "return=representation"}

	rec := env.do(t, call{method: http.MethodPost, target: "/rest/v1/expenses", bearer: ann.AccessToken, header: rep,
		body: []map[string]any{
			{"user_id": ann.User.ID, "name": "Lunch", "amount": "12.5", "category": "Food", "created_at": "2025-03-01T08:00:00Z"},
			{"name": "Bus", "amount": 7.255, "category": "Transport", "created_at": "2025-03-02T08:00:00Z"},
		}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[[]map[string]any](t, rec)
	require.Len(t, created, 2)
	assert.Equal(t, ann.User.ID, created[1]["user_id"])

	// single object body, no representation
	rec = env.do(t, call{method: http.MethodPost, target: "/rest/v1/expenses", bearer: bob.AccessToken,
		body: map[string]any{"name": "Film", "amount": "9", "category": "Entertainment"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	rec = env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses?select=*&user_id=eq." + ann.User.ID + "&order=created_at.desc", bearer: ann.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]map[string]any](t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bus", rows[0]["name"])
	assert.Equal(t, "7.255", rows[0]["amount"])

	// bob cannot read ann's rows even when asking for them
	rec = env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses?user_id=eq." + ann.User.ID, bearer: bob.AccessToken})
	assert.Equal(t, "[]\n", rec.Body.String())

	// nor write as ann
	rec = env.do(t, call{method: http.MethodPost, target: "/rest/v1/expenses", bearer: bob.AccessToken,
		body: map[string]any{"user_id": ann.User.ID, "name": "X", "amount": "1", "category": "Food"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "42501", decode[tableErrorBody](t, rec).Code)

	// anonymous callers see nothing and cannot insert
	rec = env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses"})
	assert.Equal(t, "[]\n", rec.Body.String())
	rec = env.do(t, call{method: http.MethodPost, target: "/rest/v1/expenses",
		body: map[string]any{"name": "X", "amount": "1", "category": "Food"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	id := rows[0]["id"].(string)
	rec = env.do(t, call{method: http.MethodDelete, target: "/rest/v1/expenses?id=eq." + id, bearer: ann.AccessToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, target: "/rest/v1/expenses", bearer: ann.AccessToken})
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestExpensesTableErrors(t *testing.T) {
	env := newTestEnv(t, false)
	ann := env.signUp(t, "ann@example.com")

	tests := []struct {
		name   string
		c      call
		status int
		code   string
	}{
		{"unknown filter column", call{method: http.MethodGet, target: "/rest/v1/expenses?colour=eq.red"}, http.StatusBadRequest, "42703"},
		{"unknown order column", call{method: http.MethodGet, target: "/rest/v1/expenses?order=colour.desc"}, http.StatusBadRequest, "42703"},
		{"unsupported operator", call{method: http.MethodGet, target: "/rest/v1/expenses?id=gt.3"}, http.StatusBadRequest, "PGRST100"},
		{"unfiltered delete", call{method: http.MethodDelete, target: "/rest/v1/expenses"}, http.StatusBadRequest, "21000"},
		{"invalid json", call{method: http.MethodPost, target: "/rest/v1/expenses", body: "{"}, http.StatusBadRequest, "PGRST102"},
		{"empty body", call{method: http.MethodPost, target: "/rest/v1/expenses"}, http.StatusBadRequest, "PGRST102"},
		{"bad category", call{method: http.MethodPost, target: "/rest/v1/expenses",
			body: map[string]any{"name": "X", "amount": "1", "category": "Rent"}}, http.StatusBadRequest, "23514"},
		{"other table", call{method: http.MethodGet, target: "/rest/v1/incomes"}, http.StatusNotFound, "42P01"},
		{"unsupported method", call{method: http.MethodPatch, target: "/rest/v1/expenses"}, http.StatusMethodNotAllowed, "PGRST117"},
		{"bad token", call{method: http.MethodGet, target: "/rest/v1/expenses", bearer: "garbage"}, http.StatusUnauthorized, "PGRST301"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.c.bearer == "" {
				tt.c.bearer = ann.AccessToken
			}
			rec := env.do(t, tt.c)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[tableErrorBody](t, rec).Code)
		})
	}
}
