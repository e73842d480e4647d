// Package config defines the process configuration for the billing service.
//
// Values come from the environment, optionally seeded from a .env file, and
// are validated once at startup. Any missing required value or invalid format
// fails startup before the listener opens.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/entitlement"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	StorageMemory    = "memory"
	StoragePostgres  = "postgres"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
	StorageTiered    = "tiered"
)

// Config is the top-level configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server     ServerConfig
	Stripe     StripeConfig
	FusionAuth FusionAuthConfig
	Auth       AuthConfig
	Webhook    WebhookConfig
	Billing    BillingConfig
	Storage    StorageConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"25s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// StripeConfig holds payment processor credentials.
type StripeConfig struct {
	WebhookSecret      string        `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	APIKey             string        `envconfig:"STRIPE_API_KEY" validate:"required"`
	SignatureTolerance time.Duration `envconfig:"STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// FusionAuthConfig holds identity provider settings.
type FusionAuthConfig struct {
	URL         string        `envconfig:"FUSIONAUTH_URL" validate:"required,url"`
	APIKey      string        `envconfig:"FUSIONAUTH_API_KEY" validate:"required"`
	TenantID    string        `envconfig:"FUSIONAUTH_TENANT_ID"`
	Timeout     time.Duration `envconfig:"FUSIONAUTH_TIMEOUT" default:"10s"`
	TripAfter   uint32        `envconfig:"FUSIONAUTH_TRIP_AFTER" default:"5" validate:"min=1"`
	OpenTimeout time.Duration `envconfig:"FUSIONAUTH_OPEN_TIMEOUT" default:"30s"`
}

// AuthConfig holds access-token verification settings.
type AuthConfig struct {
	SigningKey string        `envconfig:"AUTH_SIGNING_KEY" validate:"required,min=16"`
	Issuer     string        `envconfig:"AUTH_ISSUER"`
	Audience   string        `envconfig:"AUTH_AUDIENCE"`
	Leeway     time.Duration `envconfig:"AUTH_LEEWAY" default:"30s"`
}

// WebhookConfig holds reconciliation settings.
type WebhookConfig struct {
	MaxRetries   int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	BaseDelay    time.Duration `envconfig:"WEBHOOK_BASE_DELAY" default:"100ms"`
	VerifyOwner  bool          `envconfig:"WEBHOOK_VERIFY_OWNER" default:"false"`
	RateLimit    int           `envconfig:"WEBHOOK_RATE_LIMIT" default:"100" validate:"min=1"`
	RateWindow   time.Duration `envconfig:"WEBHOOK_RATE_WINDOW" default:"1m"`
	MaxBodyBytes int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"262144" validate:"min=1024"`
	OwnerKey     string        `envconfig:"METADATA_OWNER_KEY" default:"user_id" validate:"required"`
	GroupsKey    string        `envconfig:"METADATA_GROUPS_KEY" default:"group_ids" validate:"required"`
}

// BillingConfig holds the plan catalogue and redirect defaults.
type BillingConfig struct {
	Plans      string `envconfig:"BILLING_PLANS"`
	SuccessURL string `envconfig:"BILLING_SUCCESS_URL" validate:"omitempty,url"`
	CancelURL  string `envconfig:"BILLING_CANCEL_URL" validate:"omitempty,url"`
	ReturnURL  string `envconfig:"BILLING_RETURN_URL" validate:"omitempty,url"`
}

// StorageConfig selects and configures the customer link store.
type StorageConfig struct {
	Backend          string        `envconfig:"STORAGE_BACKEND" default:"memory" validate:"oneof=memory postgres redis firestore tiered"`
	PostgresDSN      string        `envconfig:"DATABASE_URL"`
	PostgresMaxConns int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	PostgresMinConns int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL         time.Duration `envconfig:"REDIS_LINK_TTL" default:"24h"`
	FirestoreProject string        `envconfig:"FIRESTORE_PROJECT_ID"`
	TieredAsync      bool          `envconfig:"STORAGE_TIERED_ASYNC" default:"true"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"toxbook" validate:"required"`
}

// RetryPolicy returns the webhook retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Webhook.MaxRetries,
		BaseDelay:  c.Webhook.BaseDelay,
	}
}

// Mapper returns the metadata mapper for the configured keys.
func (c *Config) Mapper() entitlement.Mapper {
	return entitlement.NewMapper(c.Webhook.OwnerKey, c.Webhook.GroupsKey)
}

// Plans parses the plan catalogue.
func (c *Config) Plans() (map[string]billing.Plan, error) {
	return billing.ParsePlans(c.Billing.Plans)
}

// validate checks rules that span fields.
func (c *Config) validate() error {
	var errs []error

	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Plans(); err != nil {
		errs = append(errs, fmt.Errorf("BILLING_PLANS: %w", err))
	}

	s := c.Storage
	switch s.Backend {
	case StoragePostgres:
		if s.PostgresDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case StorageRedis:
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case StorageFirestore:
		if s.FirestoreProject == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend"))
		}
	case StorageTiered:
		if s.RedisAddr == "" || s.PostgresDSN == "" {
			errs = append(errs, errors.New("REDIS_ADDR and DATABASE_URL are required for the tiered backend"))
		}
	}

	return errors.Join(errs...)
}
