package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
)

func authErr(err error) error {
	status, msg := authFailure(err)
	return &core.RemoteAuthError{Status: status, Message: msg}
}

func userFrom(u types.User) remote.User {
	out := remote.User{Email: u.Email, Metadata: u.UserMetadata}
	if u.ID != uuid.Nil {
		out.ID = u.ID.String()
	}
	return out
}

// SignUp implements remote.AuthProvider. A session returned by providers
// that confirm automatically is discarded: signing up never signs in.
func (c *Client) SignUp(ctx context.Context, email, password string) (remote.User, error) {
	var resp *types.SignupResponse
	err := c.call(ctx, log.OpSignUp, func() (err error) {
		resp, err = c.auth("").Signup(types.SignupRequest{Email: email, Password: password})
		return err
	}, authErr)
	if err != nil {
		return remote.User{}, err
	}
	if resp.Session.AccessToken != "" {
		return userFrom(resp.Session.User), nil
	}
	return userFrom(resp.User), nil
}

// SignIn implements remote.AuthProvider.
func (c *Client) SignIn(ctx context.Context, email, password string) (remote.AuthSession, error) {
	var resp *types.TokenResponse
	err := c.call(ctx, log.OpSignIn, func() (err error) {
		resp, err = c.auth("").SignInWithEmailPassword(email, password)
		return err
	}, authErr)
	if err != nil {
		return remote.AuthSession{}, err
	}
	sess, err := c.sessionFrom(resp.Session)
	if err != nil {
		return remote.AuthSession{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sessions.Save(sess); err != nil {
		return remote.AuthSession{}, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// SignOut implements remote.AuthProvider. The local session is dropped even
// when the revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, loadErr := c.sessions.Load()
	if err := c.sessions.Clear(); err != nil {
		c.log.WarnContext(ctx, "Failed to clear persisted session", log.FieldError, err)
	}
	if loadErr != nil {
		return fmt.Errorf("load session: %w", loadErr)
	}
	if sess == nil {
		return nil
	}
	return c.call(ctx, log.OpSignOut, func() error {
		return c.auth(sess.AccessToken).Logout()
	}, authErr)
}

// GetSession implements remote.AuthProvider. An expired session is
// refreshed once; if that fails the persisted session is discarded.
func (c *Client) GetSession(ctx context.Context) (*remote.AuthSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSession(ctx)
}

func (c *Client) currentSession(ctx context.Context) (*remote.AuthSession, error) {
	sess, err := c.sessions.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(c.now().Add(10 * time.Second)) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		_ = c.sessions.Clear()
		return nil, nil
	}

	var resp *types.TokenResponse
	err = c.call(ctx, log.OpRefresh, func() (err error) {
		resp, err = c.auth("").RefreshToken(sess.RefreshToken)
		return err
	}, authErr)
	if err != nil {
		c.log.InfoContext(ctx, "Session refresh failed, discarding session", log.FieldError, err)
		_ = c.sessions.Clear()
		return nil, err
	}
	refreshed, err := c.sessionFrom(resp.Session)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Save(refreshed); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return &refreshed, nil
}

// UpdateUser implements remote.AuthProvider.
func (c *Client) UpdateUser(ctx context.Context, metadata map[string]any) (remote.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.currentSession(ctx)
	if err != nil {
		return remote.User{}, err
	}
	if sess == nil {
		return remote.User{}, &core.RemoteAuthError{Status: http.StatusUnauthorized, Message: "Auth session missing!"}
	}

	var resp *types.UpdateUserResponse
	err = c.call(ctx, log.OpProfile, func() (err error) {
		resp, err = c.auth(sess.AccessToken).UpdateUser(types.UpdateUserRequest{Data: metadata})
		return err
	}, authErr)
	if err != nil {
		return remote.User{}, err
	}

	u := userFrom(resp.User)
	sess.User = u
	if err := c.sessions.Save(*sess); err != nil {
		return remote.User{}, fmt.Errorf("persist session: %w", err)
	}
	return u, nil
}

// accessToken returns the bearer for table calls; the anonymous key is used
// when nobody is signed in.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.currentSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	return sess.AccessToken, nil
}

func (c *Client) sessionFrom(s types.Session) (remote.AuthSession, error) {
	if s.AccessToken == "" || s.User.ID == uuid.Nil {
		return remote.AuthSession{}, fmt.Errorf("token response without session")
	}
	sess := remote.AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         userFrom(s.User),
	}
	switch {
	case s.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return sess, nil
}
