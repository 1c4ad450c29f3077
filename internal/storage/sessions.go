package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is a sign-in of one user. The refresh token rotates on every use;
// a revoked session invalidates its access tokens too.
type Session struct {
	ID           string
	UserID       string
	RefreshToken string
	CreatedAt    time.Time
	RevokedAt    *time.Time
}

func (s Session) Active() bool { return s.RevokedAt == nil }

func scanSession(row rowScanner) (Session, error) {
	var (
		s       Session
		created string
		revoked sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &created, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return Session{}, err
	}
	if s.RevokedAt, err = parseNullTime(revoked); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_token, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.RefreshToken, formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, refresh_token, created_at, revoked_at FROM sessions WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, err
}

// RotateRefreshToken swaps oldToken for newToken on an active session and
// returns it. A reused or unknown token yields ErrNotFound.
func (r *SQLiteRepository) RotateRefreshToken(ctx context.Context, oldToken, newToken string) (Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT id, user_id, refresh_token, created_at, revoked_at FROM sessions WHERE refresh_token = ? AND revoked_at IS NULL`, oldToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("find session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET refresh_token = ? WHERE id = ?`, newToken, s.ID); err != nil {
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit: %w", err)
	}
	s.RefreshToken = newToken
	return s, nil
}

// RevokeSession ends a session. Revoking twice is not an error.
func (r *SQLiteRepository) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
