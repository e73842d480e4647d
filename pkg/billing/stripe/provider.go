package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/billing/internal"
	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

const (
	providerName             = "stripe"
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (secrets, plans, retry policy, etc.)

	// Directory is the identity provider that receives group memberships (required).
	Directory identity.Directory

	// Customers persists owner -> customer links (optional).
	// If nil, lookups fall back to the slow Stripe Search API.
	Customers billing.CustomerStore

	// API overrides the Stripe API client. If nil, one is built from APIKey.
	API API

	// SignatureTolerance bounds the age of a signed delivery (default 5m).
	SignatureTolerance time.Duration

	// OnApplied is called after an event granted group memberships.
	OnApplied func(ctx context.Context, res *billing.Result)

	// RetryOptions are passed to every identity-provider retry.
	RetryOptions []retry.Option
}

// Provider implements billing.Provider for Stripe
type Provider struct {
	api          API
	customers    billing.CustomerStore
	reconciler   *Reconciler
	rateLimiter  *internal.RateLimiter
	plans        map[string]billing.Plan
	config       Config
	maxBodyBytes int64
	metrics      billing.Metrics
	logger       logging.Logger
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Directory == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	metrics := billing.OrNoop(config.Metrics)
	logger := logging.OrNoop(config.Logger)

	verifier, err := NewVerifier(config.WebhookSecret, config.SignatureTolerance)
	if err != nil {
		return nil, err
	}

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.APIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		var opts []stripe.ClientOption
		if config.HTTPClient != nil {
			opts = append(opts, stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
				HTTPClient: config.HTTPClient,
			})))
		}
		api = NewAPI(stripe.NewClient(apiKey, opts...), metrics)
	}

	reconciler, err := NewReconciler(ReconcilerConfig{
		Verifier:     verifier,
		Customers:    api,
		Directory:    config.Directory,
		Mapper:       config.Mapper,
		Policy:       config.RetryPolicy,
		VerifyOwner:  config.VerifyOwner,
		OnApplied:    config.OnApplied,
		Logger:       logger,
		Metrics:      metrics,
		RetryOptions: config.RetryOptions,
	})
	if err != nil {
		return nil, err
	}

	limit := config.RateLimit
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := config.RateWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	limiter := internal.NewRateLimiter(limit, window)
	limiter.OnLimited(func(string) {
		metrics.RecordWebhookError(providerName, "rate_limited")
	})

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	plans := make(map[string]billing.Plan, len(config.Plans))
	for name, plan := range config.Plans {
		plans[name] = plan
	}

	return &Provider{
		api:          api,
		customers:    config.Customers,
		reconciler:   reconciler,
		rateLimiter:  limiter,
		plans:        plans,
		config:       config,
		maxBodyBytes: maxBody,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// Reconciler exposes the event reconciler for callers that verify deliveries themselves.
func (p *Provider) Reconciler() *Reconciler {
	return p.reconciler
}

// Plan returns a configured plan.
func (p *Provider) Plan(name string) (billing.Plan, bool) {
	plan, ok := p.plans[name]
	return plan, ok
}

var _ billing.Provider = (*Provider)(nil)
