package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// User is an account row.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Metadata          map[string]any
	EmailConfirmedAt  *time.Time
	ConfirmationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const userColumns = `id, email, password_hash, metadata, email_confirmed_at, confirmation_token, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (User, error) {
	var (
		u         User
		meta      string
		confirmed sql.NullString
		token     sql.NullString
		created   string
		updated   string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &meta, &confirmed, &token, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
		return User{}, fmt.Errorf("decode metadata: %w", err)
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	var err error
	if u.EmailConfirmedAt, err = parseNullTime(confirmed); err != nil {
		return User{}, err
	}
	u.ConfirmationToken = token.String
	if u.CreatedAt, err = parseTime(created); err != nil {
		return User{}, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser inserts u. ErrEmailTaken is returned for a duplicate email,
// compared case-insensitively.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) error {
	meta, err := json.Marshal(nonNilMeta(u.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	token := sql.NullString{String: u.ConfirmationToken, Valid: u.ConfirmationToken != ""}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, string(meta), nullTime(u.EmailConfirmedAt), token,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, err
}

// ConfirmUser marks the account owning token as verified and consumes the
// token.
func (r *SQLiteRepository) ConfirmUser(ctx context.Context, token string, at time.Time) (User, error) {
	if token == "" {
		return User{}, ErrNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE confirmation_token = ?`, token))
	if err != nil {
		return User{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET email_confirmed_at = ?, confirmation_token = NULL, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), u.ID); err != nil {
		return User{}, fmt.Errorf("confirm user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}

	confirmed := at.UTC()
	u.EmailConfirmedAt = &confirmed
	u.ConfirmationToken = ""
	u.UpdatedAt = confirmed
	return u, nil
}

// UpdateUserMetadata merges metadata into the stored user metadata.
func (r *SQLiteRepository) UpdateUserMetadata(ctx context.Context, id string, metadata map[string]any, at time.Time) (User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return User{}, err
	}
	for k, v := range metadata {
		u.Metadata[k] = v
	}
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return User{}, fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(meta), formatTime(at), id); err != nil {
		return User{}, fmt.Errorf("update metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}
	u.UpdatedAt = at.UTC()
	return u, nil
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
