package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spendly/internal/log"
	"spendly/internal/storage"
)

const minPasswordLength = 6

// AccountRepository is the slice of storage the auth service needs.
type AccountRepository interface {
	CreateUser(ctx context.Context, u storage.User) error
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
	ConfirmUser(ctx context.Context, token string, at time.Time) (storage.User, error)
	UpdateUserMetadata(ctx context.Context, id string, metadata map[string]any, at time.Time) (storage.User, error)

	CreateSession(ctx context.Context, s storage.Session) error
	GetSession(ctx context.Context, id string) (storage.Session, error)
	RotateRefreshToken(ctx context.Context, oldToken, newToken string) (storage.Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

var _ AccountRepository = (*storage.SQLiteRepository)(nil)

// AuthError is returned for requests the auth API rejects. Message is shown
// to end users as is.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func authError(status int, code, msg string) *AuthError {
	return &AuthError{Status: status, Code: code, Message: msg}
}

var (
	errInvalidCredentials = authError(http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
	errEmailNotConfirmed  = authError(http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
	errUserExists         = authError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	errBadRefreshToken    = authError(http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
	errBadJWT             = authError(http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
	errSessionGone        = authError(http.StatusUnauthorized, "session_not_found", "Session from session_id claim in JWT does not exist")
	errBadConfirmation    = authError(http.StatusForbidden, "otp_expired", "Email link is invalid or has expired")
)

// AuthConfig configures token issuance.
type AuthConfig struct {
	JWTSecret           string
	AccessTokenTTL      time.Duration
	RequireConfirmation bool
	// PublicURL is used to build confirmation links.
	PublicURL string
}

// Claims is the access token payload.
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Tokens is an issued session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	ExpiresAt    time.Time
	User         storage.User
}

// AuthService registers users and issues and checks their tokens.
type AuthService struct {
	repo AccountRepository
	cfg  AuthConfig
	now  func() time.Time
	log  *log.Logger
}

func NewAuthService(repo AccountRepository, cfg AuthConfig) *AuthService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	return &AuthService{repo: repo, cfg: cfg, now: time.Now, log: log.Default(log.ComponentAuth)}
}

// WithLogger replaces the default logger.
func (s *AuthService) WithLogger(l *log.Logger) *AuthService {
	s.log = l.WithComponent(log.ComponentAuth)
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account. When confirmation is required the user
// is returned without tokens and a confirmation link is logged; otherwise
// the account is confirmed at once and a session is issued.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (storage.User, *Tokens, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return storage.User{}, nil, authError(http.StatusBadRequest, "validation_failed", "Unable to validate email address: invalid format")
	}
	if len(password) < minPasswordLength {
		return storage.User{}, nil, authError(http.StatusUnprocessableEntity, "weak_password",
			fmt.Sprintf("Password should be at least %d characters.", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.cfg.RequireConfirmation {
		u.ConfirmationToken = uuid.NewString()
	} else {
		u.EmailConfirmedAt = &now
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return storage.User{}, nil, errUserExists
		}
		return storage.User{}, nil, fmt.Errorf("create user: %w", err)
	}

	if s.cfg.RequireConfirmation {
		// No mailer: operators copy the link from the log.
		s.log.InfoContext(ctx, "Confirmation link issued",
			log.FieldUserID, u.ID,
			log.FieldEmail, u.Email,
			log.FieldLink, s.confirmationLink(u.ConfirmationToken))
		return u, nil, nil
	}

	tokens, err := s.issue(ctx, u)
	if err != nil {
		return storage.User{}, nil, err
	}
	return u, tokens, nil
}

func (s *AuthService) confirmationLink(token string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	return base + "/auth/v1/verify?" + url.Values{"token": {token}, "type": {"signup"}}.Encode()
}

// SignIn checks a password and issues a new session.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Tokens, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	if u.EmailConfirmedAt == nil {
		return nil, errEmailNotConfirmed
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errBadRefreshToken
	}
	next := uuid.NewString()
	sess, err := s.repo.RotateRefreshToken(ctx, refreshToken, next)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errBadRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	u, err := s.repo.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return s.tokensFor(u, sess.ID, next)
}

// Authenticate verifies an access token and that its session is still
// active.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authError(http.StatusUnauthorized, "bad_jwt", "invalid JWT: token is expired")
		}
		return nil, errBadJWT
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errBadJWT
	}

	sess, err := s.repo.GetSession(ctx, claims.SessionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !sess.Active()) {
		return nil, errSessionGone
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return claims, nil
}

// SignOut revokes the session the token belongs to.
func (s *AuthService) SignOut(ctx context.Context, claims *Claims) error {
	if err := s.repo.RevokeSession(ctx, claims.SessionID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.log.InfoContext(ctx, "Session revoked", log.FieldOperation, log.OpSignOut, log.FieldUserID, claims.Subject)
	return nil
}

// User returns the account behind claims.
func (s *AuthService) User(ctx context.Context, claims *Claims) (storage.User, error) {
	u, err := s.repo.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, authError(http.StatusNotFound, "user_not_found", "User not found")
	}
	return u, err
}

// UpdateMetadata merges data into the user's metadata.
func (s *AuthService) UpdateMetadata(ctx context.Context, claims *Claims, data map[string]any) (storage.User, error) {
	u, err := s.repo.UpdateUserMetadata(ctx, claims.Subject, data, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, authError(http.StatusNotFound, "user_not_found", "User not found")
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// Confirm marks the account holding token as confirmed.
func (s *AuthService) Confirm(ctx context.Context, token string) (storage.User, error) {
	if token == "" {
		return storage.User{}, errBadConfirmation
	}
	u, err := s.repo.ConfirmUser(ctx, token, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, errBadConfirmation
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("confirm user: %w", err)
	}
	s.log.InfoContext(ctx, "Email confirmed", log.FieldUserID, u.ID)
	return u, nil
}

func (s *AuthService) issue(ctx context.Context, u storage.User) (*Tokens, error) {
	sess := storage.Session{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		RefreshToken: uuid.NewString(),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.tokensFor(u, sess.ID, sess.RefreshToken)
}

func (s *AuthService) tokensFor(u storage.User, sessionID, refreshToken string) (*Tokens, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTokenTTL).Truncate(time.Second)
	claims := &Claims{
		Email:     u.Email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Tokens{
		AccessToken:  signed,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
		ExpiresAt:    exp.UTC(),
		User:         u,
	}, nil
}
