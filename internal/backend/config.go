package backend

import (
	"fmt"

	"spendly/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.Backend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.Backend)
	}

	return Config{
		Type:                backendType,
		URL:                 appConfig.BackendURL,
		APIKey:              appConfig.AnonKey,
		SessionFile:         appConfig.SessionFile,
		HTTPTimeout:         appConfig.HTTPTimeout,
		RequireConfirmation: appConfig.RequireConfirmation,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case RESTBackend:
		if c.URL == "" {
			return fmt.Errorf("backend URL is required for rest backend")
		}
		if c.SessionFile == "" {
			return fmt.Errorf("session file is required for rest backend")
		}
	case MemoryBackend:
		// nothing to check
	}

	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{RESTBackend.String(), MemoryBackend.String()}
}
