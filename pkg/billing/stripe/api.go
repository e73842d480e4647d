package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/toxbook/pkg/billing"
)

// CustomerLookup resolves a Stripe customer by id.
// A customer unknown to Stripe is billing.ErrCustomerNotFound.
type CustomerLookup interface {
	RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error)
}

// API is the subset of the Stripe API the provider uses.
type API interface {
	CustomerLookup
	FindCustomerByOwner(ctx context.Context, ownerKey, ownerID string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

// clientAPI implements API on a stripe.Client and records call metrics.
type clientAPI struct {
	client  *stripe.Client
	metrics billing.Metrics
}

// NewAPI wraps a Stripe client.
func NewAPI(client *stripe.Client, metrics billing.Metrics) API {
	return &clientAPI{client: client, metrics: billing.OrNoop(metrics)}
}

func (a *clientAPI) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordAPICall(providerName, endpoint, status)
	a.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

func (a *clientAPI) RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	start := time.Now()
	cust, err := a.client.V1Customers.Retrieve(ctx, id, nil)
	a.observe("/customers/{id}", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, id)
		}
		return nil, fmt.Errorf("retrieve customer %s: %w", id, err)
	}
	return cust, nil
}

// FindCustomerByOwner uses the Search API, which is eventually consistent.
func (a *clientAPI) FindCustomerByOwner(ctx context.Context, ownerKey, ownerID string) (*stripe.Customer, error) {
	start := time.Now()
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", ownerKey, escapeSearchValue(ownerID))

	for cust, err := range a.client.V1Customers.Search(ctx, params) {
		if err != nil {
			a.observe("/customers/search", start, err)
			return nil, fmt.Errorf("stripe search error: %w", err)
		}
		// Search can return loose matches
		if !cust.Deleted && cust.Metadata[ownerKey] == ownerID {
			a.observe("/customers/search", start, nil)
			return cust, nil
		}
	}
	a.observe("/customers/search", start, nil)
	return nil, fmt.Errorf("%w: owner %s", billing.ErrCustomerNotFound, ownerID)
}

func (a *clientAPI) CreateCustomer(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	start := time.Now()
	cust, err := a.client.V1Customers.Create(ctx, params)
	a.observe("/customers", start, err)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

func (a *clientAPI) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	start := time.Now()
	sess, err := a.client.V1CheckoutSessions.Create(ctx, params)
	a.observe("/checkout/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func (a *clientAPI) CreatePortalSession(
	ctx context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	start := time.Now()
	sess, err := a.client.V1BillingPortalSessions.Create(ctx, params)
	a.observe("/billing_portal/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	return sess, nil
}

func isNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}

func escapeSearchValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}
