package billing

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/toxbook/pkg/entitlement"
	"github.com/mihaimyh/toxbook/pkg/logging"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

// Plan is a purchasable plan: a processor price that grants a set of groups.
type Plan struct {
	Name    string
	PriceID string
	Groups  entitlement.GroupSet
}

// Config defines the standard configuration all providers accept.
type Config struct {
	// WebhookSecret verifies incoming webhook requests (required).
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// Plans is the plan catalogue keyed by plan name.
	Plans map[string]Plan

	// Mapper extracts owner and groups from event metadata. Zero value uses user_id / group_ids.
	Mapper entitlement.Mapper

	// RetryPolicy bounds identity-provider mutations. Zero value uses retry.DefaultPolicy.
	RetryPolicy retry.Policy

	// VerifyOwner looks the owner up in the identity provider before granting.
	VerifyOwner bool

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// MaxBodyBytes caps webhook bodies (default 256 KiB).
	MaxBodyBytes int64

	// RateLimit is the per-IP request budget per RateWindow (defaults 100 / minute).
	RateLimit  int
	RateWindow time.Duration

	// Metrics is an optional metrics collector.
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// Logger is an optional structured logger.
	Logger logging.Logger
}

// ParsePlans parses "plan=price:group|group,plan2=price2:group" into a catalogue.
func ParsePlans(s string) (map[string]Plan, error) {
	plans := make(map[string]Plan)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("plan %q: expected name=price:groups", entry)
		}
		name = strings.TrimSpace(name)
		price, groups, _ := strings.Cut(rest, ":")
		price = strings.TrimSpace(price)
		if name == "" || price == "" {
			return nil, fmt.Errorf("plan %q: name and price are required", entry)
		}
		if _, dup := plans[name]; dup {
			return nil, fmt.Errorf("plan %q defined twice", name)
		}
		plans[name] = Plan{
			Name:    name,
			PriceID: price,
			Groups:  entitlement.ParseGroups(strings.ReplaceAll(groups, "|", ",")),
		}
	}
	return plans, nil
}
