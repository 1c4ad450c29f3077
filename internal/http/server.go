// Package http serves the auth (/auth/v1) and table (/rest/v1) API used by
// the spendly client.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"spendly/internal/log"
	"spendly/internal/middleware/ratelimit"
	"spendly/internal/middleware/security"
	"spendly/internal/middleware/trace"
	"spendly/internal/services"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the server settings.
type Config struct {
	Addr               string
	AnonKey            string
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	auth     *services.AuthService
	expenses *services.ExpenseService
	ready    Pinger
	anonKey  string

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, auth *services.AuthService, expenses *services.ExpenseService, ready Pinger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	s := &Server{
		auth:     auth,
		expenses: expenses,
		ready:    ready,
		anonKey:  cfg.AnonKey,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector: security.NewDetector(),
		tracer:   trace.NewMiddleware(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("POST /auth/v1/signup", s.requireAPIKey(authAPI, s.handleSignUp))
	mux.Handle("POST /auth/v1/token", s.requireAPIKey(authAPI, s.handleToken))
	mux.Handle("POST /auth/v1/logout", s.requireAPIKey(authAPI, s.withUser(s.handleLogout)))
	mux.Handle("GET /auth/v1/user", s.requireAPIKey(authAPI, s.withUser(s.handleGetUser)))
	mux.Handle("PUT /auth/v1/user", s.requireAPIKey(authAPI, s.withUser(s.handleUpdateUser)))
	// Opened from an email client, so no key.
	mux.HandleFunc("GET /auth/v1/verify", s.handleVerify)

	mux.Handle("GET /rest/v1/expenses", s.requireAPIKey(tableAPI, s.handleSelect))
	mux.Handle("POST /rest/v1/expenses", s.requireAPIKey(tableAPI, s.handleInsert))
	mux.Handle("DELETE /rest/v1/expenses", s.requireAPIKey(tableAPI, s.handleDelete))
	mux.HandleFunc("/rest/v1/", handleUnknownTable)

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(h)
	h = log.AccessLog(s.detector.ExtractClientIP)(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(logger.WithComponent(log.ComponentHTTP))(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded", log.FieldClientIP, s.detector.ExtractClientIP(r))
	writeJSON(w, http.StatusTooManyRequests, authErrorBody{
		Code:      http.StatusTooManyRequests,
		ErrorCode: "over_request_rate_limit",
		Msg:       "Rate limit exceeded. Please try again later.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"requests": m.TotalRequests,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type apiKind int

const (
	authAPI apiKind = iota
	tableAPI
)

// requireAPIKey rejects requests without the project's anonymous key.
func (s *Server) requireAPIKey(kind apiKind, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		msg := ""
		switch {
		case key == "":
			msg = "No API key found in request"
		case key != s.anonKey:
			msg = "Invalid API key"
		}
		if msg != "" {
			if kind == tableAPI {
				writeTableError(w, http.StatusUnauthorized, "PGRST301", msg)
			} else {
				writeAuthError(w, http.StatusUnauthorized, "no_authorization", msg)
			}
			return
		}
		next(w, r)
	})
}
