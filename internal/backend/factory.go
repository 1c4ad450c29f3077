package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"spendly/internal/remote/memory"
	"spendly/internal/remote/rest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RESTBackend:
		return f.createRESTBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createRESTBackend(ctx context.Context, config Config) (*BackendResult, error) {
	var httpClient *http.Client
	if config.HTTPTimeout > 0 {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	client, err := rest.New(rest.Config{
		URL:        config.URL,
		APIKey:     config.APIKey,
		Sessions:   rest.NewFileSessionStore(config.SessionFile),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST client: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized REST backend",
		"url", config.URL,
		"session_file", config.SessionFile)

	return &BackendResult{
		Auth:  client,
		Table: client,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*BackendResult, error) {
	var opts []memory.Option
	if config.RequireConfirmation {
		opts = append(opts, memory.WithConfirmation())
	}
	store := memory.New(opts...)

	f.logger.InfoContext(ctx, "Initialized memory backend",
		"require_confirmation", config.RequireConfirmation)

	return &BackendResult{
		Auth:  store,
		Table: store,
	}, nil
}
