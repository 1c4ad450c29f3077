package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendly/internal/core"
	"spendly/internal/remote"
)

const (
	testKey = "anon-key"

	userAnn = "6f1c1f0e-2a4b-4c7d-9e8f-0a1b2c3d4e5f"
	userBob = "0b5e7d2c-8f3a-4e61-a9d4-3c2b1a0f9e8d"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func newTestClient(t *testing.T, h http.Handler, store SessionStore) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, APIKey: testKey, Sessions: store, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenBody(access string, expiresAt time.Time) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    expiresAt.Unix(),
		"refresh_token": "refresh-" + access,
		"user":          map[string]any{"id": userAnn, "email": "a@b.com", "user_metadata": map[string]any{"username": "Ann"}},
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{URL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestSignInPersistsSessionAndSendsAPIKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.Header.Get("apikey"))
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "secret1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, tokenBody("tok1", time.Now().Add(time.Hour)))
	})

	store := NewFileSessionStore(filepath.Join(t.TempDir(), "session.json"))
	c := newTestClient(t, mux, store)
	ctx := context.Background()

	_, err := c.SignIn(ctx, "a@b.com", "nope")
	var ae *core.RemoteAuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "Invalid login credentials", ae.Message)
	assert.Equal(t, http.StatusBadRequest, ae.Status)

	sess, err := c.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "tok1", sess.AccessToken)
	assert.Equal(t, "Ann", sess.User.MetaString(remote.MetaUsername))

	// A fresh client over the same file restores the session.
	c2, err := New(Config{URL: c.baseURL.String(), APIKey: testKey, Sessions: NewFileSessionStore(store.path)})
	require.NoError(t, err)
	restored, err := c2.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "tok1", restored.AccessToken)

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSignUpDoesNotStartSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body.Email {
		case "taken@b.com":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "msg": "User already registered"})
		case "auto@b.com":
			writeJSON(w, http.StatusOK, tokenBody("auto", time.Now().Add(time.Hour)))
		default:
			writeJSON(w, http.StatusOK, map[string]any{"id": userBob, "email": body.Email})
		}
	})
	store := NewMemorySessionStore()
	c := newTestClient(t, mux, store)
	ctx := context.Background()

	u, err := c.SignUp(ctx, "new@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, userBob, u.ID)

	u, err = c.SignUp(ctx, "auto@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, userAnn, u.ID)
	sess, _ := store.Load()
	assert.Nil(t, sess, "signup must not persist a session")

	_, err = c.SignUp(ctx, "taken@b.com", "secret1")
	assert.EqualError(t, err, "User already registered")
}

func TestGetSessionRefreshesExpiredToken(t *testing.T) {
	var refreshes int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.RefreshToken != "refresh-old" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		atomic.AddInt32(&refreshes, 1)
		writeJSON(w, http.StatusOK, tokenBody("new", time.Now().Add(time.Hour)))
	})
	store := NewMemorySessionStore()
	c := newTestClient(t, mux, store)
	ctx := context.Background()

	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(-time.Minute)}))
	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "new", sess.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "x", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute)}))
	sess, err = c.GetSession(ctx)
	assert.Error(t, err)
	assert.Nil(t, sess)
	left, _ := store.Load()
	assert.Nil(t, left, "failed refresh must discard the session")
}

func TestSignOutClearsSessionEvenWhenRevokeFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "database is down"})
	})
	store := NewMemorySessionStore()
	c := newTestClient(t, mux, store)
	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	err := c.SignOut(context.Background())
	assert.EqualError(t, err, "database is down")
	sess, _ := store.Load()
	assert.Nil(t, sess)
}

func TestUpdateUserRequiresSession(t *testing.T) {
	c := newTestClient(t, http.NewServeMux(), NewMemorySessionStore())
	_, err := c.UpdateUser(context.Background(), map[string]any{"username": "x"})
	assert.EqualError(t, err, "Auth session missing!")
}

func TestUpdateUserStoresMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body struct {
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"id": userAnn, "email": "a@b.com", "user_metadata": body.Data})
	})
	store := NewMemorySessionStore()
	c := newTestClient(t, mux, store)
	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	u, err := c.UpdateUser(context.Background(), map[string]any{remote.MetaUsername: "Ann", remote.MetaProfilePhoto: "data:image/png;base64,AA=="})
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.MetaString(remote.MetaUsername))
	assert.Equal(t, userAnn, u.ID)

	sess, _ := store.Load()
	assert.Equal(t, "data:image/png;base64,AA==", sess.User.MetaString(remote.MetaProfilePhoto))
}

func TestTableCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/expenses", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "created_at.desc.nullslast", q.Get("order"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, testKey, r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":7,"user_id":"u1","name":"Coffee","amount":3.5,"category":"Food","created_at":"2025-01-01T10:00:00Z"}]`))
	})
	mux.HandleFunc("POST /rest/v1/expenses", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Prefer"), "return=representation")
		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		_, hasID := rows[0]["id"]
		assert.False(t, hasID, "client must not send an id")
		rows[0]["id"] = 8
		writeJSON(w, http.StatusCreated, rows)
	})
	mux.HandleFunc("DELETE /rest/v1/expenses", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.404" {
			writeJSON(w, http.StatusForbidden, map[string]string{"code": "42501", "message": "permission denied for table expenses"})
			return
		}
		assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	store := NewMemorySessionStore()
	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	c := newTestClient(t, mux, store)
	ctx := context.Background()

	rows, err := c.Select(ctx, remote.Eq(remote.ColumnUserID, "u1"), remote.NewestFirst())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, core.RecordID("7"), rows[0].ID)
	assert.Equal(t, "3.50", rows[0].Amount.Format())

	created, err := c.Insert(ctx, core.ExpenseRecord{
		ID: "ignored", OwnerID: "u1", Name: "Tea", Amount: core.MustParseMoney("1.20"),
		Category: core.Food, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.RecordID("8"), created.ID)
	assert.Equal(t, "1.20", created.Amount.Format())

	require.NoError(t, c.Delete(ctx, remote.Eq(remote.ColumnID, "7")))

	err = c.Delete(ctx, remote.Eq(remote.ColumnID, "404"))
	var de *core.RemoteDataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "permission denied for table expenses", de.Message)
	assert.Equal(t, "delete", de.Op)

	assert.Error(t, c.Delete(ctx, remote.Filter{}), "unfiltered delete must be refused locally")
}

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"msg":"User already registered"}`, "User already registered"},
		{`{"message":"JWT expired","code":"PGRST301"}`, "JWT expired"},
		{`{"error":"invalid_grant","error_description":"Email not confirmed"}`, "Email not confirmed"},
		{`{}`, "Bad Request"},
		{`upstream timeout`, "upstream timeout"},
	}
	for _, tc := range cases {
		if got := errorMessage(http.StatusBadRequest, []byte(tc.body)); got != tc.want {
			t.Errorf("errorMessage(%s) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestCanceledContextSendsNothing(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTeapot)
	})
	store := NewMemorySessionStore()
	require.NoError(t, store.Save(remote.AuthSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	c := newTestClient(t, mux, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SignIn(ctx, "a@b.com", "secret1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = c.Select(ctx, remote.Eq(remote.ColumnUserID, "u1"), remote.NewestFirst())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Delete(ctx, remote.Eq(remote.ColumnID, "7")), context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestAuthFailure(t *testing.T) {
	cases := []struct {
		err        string
		wantStatus int
		wantMsg    string
	}{
		{"response status code 422: {\"code\":422,\"msg\":\"User already registered\"}\n", 422, "User already registered"},
		{"response status code 400: {\"error\":\"invalid_grant\",\"error_description\":\"Email not confirmed\"}", 400, "Email not confirmed"},
		{"response status code 502", 502, "Bad Gateway"},
		{"dial tcp: connection refused", 0, "dial tcp: connection refused"},
	}
	for _, tc := range cases {
		status, msg := authFailure(errors.New(tc.err))
		assert.Equal(t, tc.wantStatus, status, tc.err)
		assert.Equal(t, tc.wantMsg, msg, tc.err)
	}
}

func TestDataFailure(t *testing.T) {
	assert.Equal(t, "JWT expired", dataFailure(errors.New("(PGRST301) JWT expired")))
	assert.Equal(t, "connection reset", dataFailure(errors.New("connection reset")))
}
