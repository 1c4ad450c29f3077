package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Static client configuration. The anonymous key is public by design of the
// backend service; it only identifies the project.
const (
	DefaultBackendURL = "http://localhost:8081"
	DefaultAnonKey    = "spendly-anon-key"

	minJWTSecretLength = 32
)

type Config struct {
	// Client
	Backend     string // rest or memory
	BackendURL  string
	AnonKey     string
	SessionFile string
	Features    string // full or basic
	HTTPTimeout time.Duration

	// Logging
	LogLevel string

	// HTTP Server
	Port      string
	PublicURL string

	// Database
	SQLiteDBPath string

	// Auth
	JWTSecret           string
	AccessTokenTTL      time.Duration
	RequireConfirmation bool

	// Rate limiting
	RateLimitPerMinute int

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string
}

func Load() *Config {
	port := getEnv("PORT", "8081")
	cfg := &Config{
		Backend:     getEnv("SPENDLY_BACKEND", "rest"),
		BackendURL:  getEnv("SPENDLY_URL", DefaultBackendURL),
		AnonKey:     getEnv("SPENDLY_ANON_KEY", DefaultAnonKey),
		SessionFile: getEnv("SPENDLY_SESSION_FILE", defaultSessionFile()),
		Features:    getEnv("SPENDLY_FEATURES", "full"),
		HTTPTimeout: getEnvDuration("SPENDLY_HTTP_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("SPENDLY_LOG_LEVEL", "info"),

		Port:      port,
		PublicURL: getEnv("SPENDLY_PUBLIC_URL", "http://localhost:"+port),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendly.db"),

		JWTSecret:           getEnv("SPENDLY_JWT_SECRET", ""),
		AccessTokenTTL:      getEnvDuration("SPENDLY_ACCESS_TOKEN_TTL", time.Hour),
		RequireConfirmation: getEnvBool("SPENDLY_REQUIRE_CONFIRMATION", false),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendly"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_events"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Expenses"),
		GoogleOAuthClientFile: getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:  getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON: getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:  getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
	}

	return cfg
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "spendly", "session.json")
}

// ValidateClient checks the settings used by the terminal client.
func (c *Config) ValidateClient() error {
	var errors []string

	switch c.Backend {
	case "rest":
		errors = append(errors, validateHTTPURL("backend URL", c.BackendURL)...)
		if c.SessionFile == "" {
			errors = append(errors, "session file path cannot be empty when using rest backend")
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("invalid backend '%s': must be one of [rest memory]", c.Backend))
	}

	switch c.Features {
	case "full", "basic":
	default:
		errors = append(errors, fmt.Sprintf("invalid feature set '%s': must be one of [full basic]", c.Features))
	}

	if c.HTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 1 second", c.HTTPTimeout))
	}

	return combine(errors)
}

// ValidateServer checks the settings used by spendly-backend.
func (c *Config) ValidateServer() error {
	var errors []string

	errors = append(errors, validatePort(c.Port)...)
	errors = append(errors, validateHTTPURL("public URL", c.PublicURL)...)
	errors = append(errors, validateSQLitePath(c.SQLiteDBPath)...)

	if len(c.JWTSecret) < minJWTSecretLength {
		errors = append(errors, fmt.Sprintf("JWT secret must be at least %d characters (set SPENDLY_JWT_SECRET)", minJWTSecretLength))
	}
	if c.AccessTokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid access token TTL %v: must be at least 1 minute", c.AccessTokenTTL))
	} else if c.AccessTokenTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid access token TTL %v: must be at most 24 hours", c.AccessTokenTTL))
	}
	if c.AnonKey == "" {
		errors = append(errors, "anon key cannot be empty")
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if c.AMQPURL != "" {
		errors = append(errors, c.validateAMQP()...)
	}

	return combine(errors)
}

// ValidateWorker checks the settings used by spendly-worker.
func (c *Config) ValidateWorker() error {
	var errors []string

	errors = append(errors, validateSQLitePath(c.SQLiteDBPath)...)

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP URL is required for the worker")
	} else {
		errors = append(errors, c.validateAMQP()...)
	}

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required for the worker")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required for the worker")
	}

	hasClientFile := c.GoogleOAuthClientFile != ""
	hasClientJSON := c.GoogleOAuthClientJSON != ""
	if !hasClientFile && !hasClientJSON {
		errors = append(errors, "either GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_JSON must be provided")
	}
	hasTokenFile := c.GoogleOAuthTokenFile != ""
	hasTokenJSON := c.GoogleOAuthTokenJSON != ""
	if !hasTokenFile && !hasTokenJSON {
		errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided")
	}
	if hasClientFile {
		if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
		}
	}
	if hasTokenFile {
		if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
		}
	}

	return combine(errors)
}

func (c *Config) validateAMQP() []string {
	var errors []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return errors
}

func validatePort(p string) []string {
	port, err := strconv.Atoi(p)
	if err != nil {
		return []string{fmt.Sprintf("invalid port '%s': must be a number", p)}
	}
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("invalid port %d: must be between 1 and 65535", port)}
	}
	return nil
}

func validateHTTPURL(name, raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return []string{fmt.Sprintf("invalid %s '%s'", name, raw)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", name, u.Scheme)}
	}
	if u.Host == "" {
		return []string{fmt.Sprintf("invalid %s '%s': missing host", name, raw)}
	}
	return nil
}

func validateSQLitePath(path string) []string {
	if path == "" {
		return []string{"SQLite database path cannot be empty"}
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return []string{fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err)}
			}
		}
	}
	return nil
}

func combine(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
