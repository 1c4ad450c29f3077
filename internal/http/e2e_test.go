package http

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendly/internal/app"
	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
	"spendly/internal/remote/rest"
)

// TestClientAgainstServer drives the client application through the real
// REST adapter against an in-process backend.
func TestClientAgainstServer(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.srv.Handler)
	t.Cleanup(ts.Close)

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	newClient := func() (*app.SessionManager, *app.ExpenseStore) {
		c, err := rest.New(rest.Config{
			URL:        ts.URL,
			APIKey:     testAnonKey,
			Sessions:   rest.NewFileSessionStore(sessionFile),
			HTTPClient: ts.Client(),
		})
		require.NoError(t, err)
		logger := log.New(log.Config{Output: io.Discard})
		sessions := app.NewSessionManager(c, c, logger)
		return sessions, app.NewExpenseStore(c, sessions, logger)
	}
	ctx := context.Background()
	sessions, store := newClient()

	notice, err := sessions.SignUp(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, app.SignUpNotice, notice)
	assert.Nil(t, sessions.Current())

	_, err = sessions.SignIn(ctx, "ann@example.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, "Email not confirmed", core.UserMessage(err))

	u, err := env.repo.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	_, err = env.srv.auth.Confirm(ctx, u.ConfirmationToken)
	require.NoError(t, err)

	sess, err := sessions.SignIn(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)

	_, err = store.Add(ctx, "Lunch", "12.5", "Food")
	require.NoError(t, err)
	_, err = store.Add(ctx, "Bus", "7,255", "Transport")
	require.NoError(t, err)
	require.Len(t, store.Items(), 2)
	assert.Equal(t, "Bus", store.Items()[0].Name)
	assert.Equal(t, "19.76", store.Total().Format())

	_, err = sessions.UpdateProfile(ctx, "Ann", "")
	require.NoError(t, err)

	// a second process restores the persisted session
	sessions2, store2 := newClient()
	restored := sessions2.Restore(ctx)
	require.NotNil(t, restored)
	assert.Equal(t, "Ann", restored.Label())
	assert.Len(t, store2.Items(), 2)

	require.NoError(t, store2.Delete(ctx, store2.Items()[0].ID))
	assert.Len(t, store2.Items(), 1)

	err = sessions2.DeleteAccount(ctx, app.ConfirmFunc(func(string) bool { return true }))
	require.NoError(t, err)
	assert.Nil(t, sessions2.Current())

	rows, err := env.repo.SelectExpenses(ctx, u.ID, remote.Filter{}, remote.Order{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
