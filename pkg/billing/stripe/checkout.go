package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// CheckoutURL creates a subscription Checkout Session for plan and returns its URL.
// The session and the subscription carry the owner id and the plan's groups;
// checkout.session.completed grants from the session metadata. Payment intents
// raised by the subscription's invoices carry no metadata and are ignored.
func (p *Provider) CheckoutURL(ctx context.Context, owner billing.Owner, plan, successURL, cancelURL string) (string, error) {
	pl, ok := p.plans[plan]
	if !ok {
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}
	if strings.TrimSpace(owner.ID) == "" {
		return "", fmt.Errorf("%w: owner id is required", billing.ErrMissingMetadata)
	}

	// Fail on real lookup errors instead of creating a duplicate customer.
	link, err := p.ensureCustomer(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	ownerKey, groupsKey := p.metadataKeys()
	metadata := map[string]string{
		ownerKey:  owner.ID,
		groupsKey: pl.Groups.CSV(),
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(link.CustomerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(pl.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(owner.ID),
		SubscriptionData:  &stripe.CheckoutSessionCreateSubscriptionDataParams{},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
		params.SubscriptionData.AddMetadata(k, v)
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}

	p.logger.Info("checkout session created",
		logging.F("owner", owner.ID),
		logging.F("plan", plan),
		logging.F("customer_id", link.CustomerID),
		logging.F("session_id", session.ID),
	)
	return session.URL, nil
}

// CheckoutURLForPayment creates a one-time payment checkout for plan. The
// payment intent carries the metadata so payment_intent.succeeded can grant.
func (p *Provider) CheckoutURLForPayment(
	ctx context.Context, owner billing.Owner, plan, successURL, cancelURL string,
) (string, error) {
	pl, ok := p.plans[plan]
	if !ok {
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}
	if strings.TrimSpace(owner.ID) == "" {
		return "", fmt.Errorf("%w: owner id is required", billing.ErrMissingMetadata)
	}

	link, err := p.ensureCustomer(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	ownerKey, groupsKey := p.metadataKeys()
	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(link.CustomerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(pl.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(owner.ID),
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: map[string]string{
				ownerKey:  owner.ID,
				groupsKey: pl.Groups.CSV(),
			},
		},
	}
	params.AddMetadata(ownerKey, owner.ID)
	params.AddMetadata(groupsKey, pl.Groups.CSV())

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session and returns the URL.
// The owner must already be a customer.
func (p *Provider) PortalURL(ctx context.Context, ownerID, returnURL string) (string, error) {
	link, err := p.Customer(ctx, ownerID)
	if err != nil {
		return "", err
	}

	session, err := p.api.CreatePortalSession(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(link.CustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// Customer returns the owner's customer link: the store first (fast path),
// then the Stripe Search API (slow path), persisting what search finds.
func (p *Provider) Customer(ctx context.Context, ownerID string) (*billing.CustomerLink, error) {
	if p.customers != nil {
		link, err := p.customers.GetCustomerLink(ctx, ownerID)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, billing.ErrCustomerNotFound) {
			return nil, err
		}
	}

	ownerKey, _ := p.metadataKeys()
	cust, err := p.api.FindCustomerByOwner(ctx, ownerKey, ownerID)
	if err != nil {
		return nil, err
	}

	link := &billing.CustomerLink{
		OwnerID:    ownerID,
		TenantID:   cust.Metadata["tenant_id"],
		CustomerID: cust.ID,
		UpdatedAt:  time.Now().UTC(),
	}
	p.saveLink(ctx, link)
	return link, nil
}

// ensureCustomer resolves the owner's customer, creating one tagged with the
// owner id when none exists.
func (p *Provider) ensureCustomer(ctx context.Context, owner billing.Owner) (*billing.CustomerLink, error) {
	link, err := p.Customer(ctx, owner.ID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, billing.ErrCustomerNotFound) {
		return nil, err
	}

	ownerKey, _ := p.metadataKeys()
	params := &stripe.CustomerCreateParams{}
	if owner.Email != "" {
		params.Email = stripe.String(owner.Email)
	}
	params.AddMetadata(ownerKey, owner.ID)
	if owner.TenantID != "" {
		params.AddMetadata("tenant_id", owner.TenantID)
	}
	// Idempotency key collapses concurrent first checkouts for one owner.
	params.SetIdempotencyKey("customer-" + owner.ID)

	cust, err := p.api.CreateCustomer(ctx, params)
	if err != nil {
		return nil, err
	}

	link = &billing.CustomerLink{
		OwnerID:    owner.ID,
		TenantID:   owner.TenantID,
		CustomerID: cust.ID,
		UpdatedAt:  time.Now().UTC(),
	}
	p.saveLink(ctx, link)
	p.logger.Info("stripe customer created",
		logging.F("owner", owner.ID),
		logging.F("customer_id", cust.ID),
	)
	return link, nil
}

func (p *Provider) saveLink(ctx context.Context, link *billing.CustomerLink) {
	if p.customers == nil {
		return
	}
	if err := p.customers.SetCustomerLink(ctx, link); err != nil {
		// Stripe metadata remains the source of truth; the link is a cache.
		p.logger.Warn("failed to persist customer link",
			logging.F("owner", link.OwnerID),
			logging.F("customer_id", link.CustomerID),
			logging.F("error", err),
		)
	}
}

func (p *Provider) metadataKeys() (owner, groups string) {
	return p.config.Mapper.Keys()
}
