package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// Config holds configuration for the billing API handler
type Config struct {
	// Provider is the payment backend (required)
	Provider billing.Provider

	// GetPrincipal extracts the authenticated caller from the request.
	// If nil, the principal stored by the auth middleware is used.
	GetPrincipal func(*http.Request) (*identity.Principal, bool)

	// DefaultSuccessURL, DefaultCancelURL and DefaultReturnURL are used when
	// the request body omits them.
	DefaultSuccessURL string
	DefaultCancelURL  string
	DefaultReturnURL  string

	// MaxBodyBytes caps request bodies (default 64 KiB)
	MaxBodyBytes int64

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default JSON error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; defaults to a no-op logger
	Logger logging.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}
	return nil
}

// NewHandler creates a new billing API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetPrincipal == nil {
		config.GetPrincipal = FromContext
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		config:   config,
		validate: newValidator(),
		logger:   logging.OrNoop(config.Logger),
	}, nil
}

// FromContext returns the principal stored on the request context by the
// authentication middleware.
func FromContext(r *http.Request) (*identity.Principal, bool) {
	return identity.PrincipalFrom(r.Context())
}
