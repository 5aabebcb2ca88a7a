package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/pkg/onboarding"
)

// Config holds configuration for the billing API handler
type Config struct {
	// Engine runs the daily sweep (required)
	Engine *membill.Engine

	// Onboarding runs the member onboarding flow (required)
	Onboarding *onboarding.Service

	// Now returns the current time, used as the sweep day when the request
	// carries no explicit date (default: time.Now)
	Now func() time.Time

	// OnError handles errors
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional structured logging for API operations
	Logger membill.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Onboarding == nil {
		return fmt.Errorf("onboarding service is required")
	}
	return nil
}

// NewHandler creates a new billing API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = &membill.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}
