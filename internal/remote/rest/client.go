// Package rest is the adapter for the backend service. Auth calls go through
// the gotrue client (/auth/v1) and table calls through the postgrest client
// (/rest/v1), so it works against the hosted provider and against
// spendly-backend alike.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"

	"spendly/internal/log"
	"spendly/internal/remote"
)

const (
	authPath = "/auth/v1"
	restPath = "/rest/v1"
)

// Config holds the static connection settings.
type Config struct {
	URL        string
	APIKey     string
	Sessions   SessionStore
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *log.Logger
}

type Client struct {
	baseURL  *url.URL
	apiKey   string
	http     *http.Client
	sessions SessionStore
	now      func() time.Time
	log      *log.Logger

	// Serialises session reads/refreshes so two callers do not race on
	// the same refresh token.
	mu sync.Mutex
}

// Ensure interface conformance
var (
	_ remote.AuthProvider = (*Client)(nil)
	_ remote.ExpenseTable = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("missing backend URL")
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:  u,
		apiKey:   cfg.APIKey,
		http:     cfg.HTTPClient,
		sessions: cfg.Sessions,
		now:      cfg.Now,
		log:      cfg.Logger,
	}
	if c.http == nil {
		c.http = newHTTPClientWithPooling()
	}
	if c.sessions == nil {
		c.sessions = NewMemorySessionStore()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = log.Default(log.ComponentREST)
	}
	return c, nil
}

// newHTTPClientWithPooling creates an HTTP client with connection pooling,
// keep-alive and an overall request timeout.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// auth returns a gotrue client acting as token. An empty token sends the
// anonymous key only.
func (c *Client) auth(token string) gotrue.Client {
	gc := gotrue.New("", c.apiKey).
		WithCustomGoTrueURL(c.baseURL.String() + authPath).
		WithClient(*c.http)
	if token != "" {
		gc = gc.WithToken(token)
	}
	return gc
}

// table returns a postgrest client whose requests carry token, or the
// anonymous key when nobody is signed in.
func (c *Client) table(token string) *postgrest.Client {
	if token == "" {
		token = c.apiKey
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["apikey"] = c.apiKey
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return postgrest.NewClient(c.baseURL.String()+restPath, "", headers)
}

// call runs one SDK request and maps its failure through wrap. The SDKs take
// no context, so cancellation is honoured before the request starts and the
// HTTP client timeout bounds it once sent.
func (c *Client) call(ctx context.Context, op string, fn func() error, wrap func(error) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	if err := fn(); err != nil {
		c.log.WarnContext(ctx, "Backend request failed",
			log.FieldOperation, op,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldError, err)
		return wrap(err)
	}
	c.log.DebugContext(ctx, "Backend request completed",
		log.FieldOperation, op,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

var (
	// gotrue reports failures as "response status code <n>: <body>".
	authErrPattern = regexp.MustCompile(`(?s)^response status code (\d+)(?::\s*(.*))?$`)
	// postgrest reports failures as "(<code>) <message>".
	dataErrPattern = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)
)

// authFailure splits a gotrue error into the HTTP status and the service's
// own message.
func authFailure(err error) (int, string) {
	m := authErrPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, err.Error()
	}
	status, _ := strconv.Atoi(m[1])
	return status, errorMessage(status, []byte(m[2]))
}

// dataFailure extracts the message of a postgrest error.
func dataFailure(err error) string {
	if m := dataErrPattern.FindStringSubmatch(err.Error()); m != nil && strings.TrimSpace(m[2]) != "" {
		return m[2]
	}
	return err.Error()
}

// errorBody covers the error shapes of both the auth and the table API.
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

// errorMessage extracts the service's own message so it can be shown
// verbatim; it falls back to the HTTP status text.
func errorMessage(status int, raw []byte) string {
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
			if strings.TrimSpace(m) != "" {
				return m
			}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && !strings.HasPrefix(s, "{") && len(s) < 200 {
		return s
	}
	return http.StatusText(status)
}
