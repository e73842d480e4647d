package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/identity/memory"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

const (
	testSecret     = "whsec_test_secret"
	testOwner      = "user-1"
	testCustomerID = "cus_123"
)

func signPayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"livemode":    false,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func paymentSucceeded(t *testing.T, id, owner, groups, customer string) []byte {
	t.Helper()
	md := map[string]any{"group_ids": groups}
	if owner != "" {
		md["user_id"] = owner
	}
	obj := map[string]any{
		"id":       "pi_" + id,
		"object":   "payment_intent",
		"metadata": md,
	}
	if customer != "" {
		obj["customer"] = customer
	}
	return eventPayload(t, id, "payment_intent.succeeded", obj)
}

type signedDelivery struct {
	payload []byte
	header  string
}

func sign(payload []byte) signedDelivery {
	return signedDelivery{payload: payload, header: signPayload(testSecret, payload, time.Now())}
}

// fakeAPI is an in-memory stand-in for the Stripe API.
type fakeAPI struct {
	mu sync.Mutex

	customers   map[string]*stripe.Customer
	retrieveErr error

	retrieveCalls int
	searchCalls   int
	created       []*stripe.CustomerCreateParams
	sessions      []*stripe.CheckoutSessionCreateParams
	portals       []*stripe.BillingPortalSessionCreateParams
}

func newFakeAPI(customers ...*stripe.Customer) *fakeAPI {
	f := &fakeAPI{customers: make(map[string]*stripe.Customer)}
	for _, c := range customers {
		f.customers[c.ID] = c
	}
	return f
}

func customer(id, owner string) *stripe.Customer {
	return &stripe.Customer{ID: id, Metadata: map[string]string{"user_id": owner}}
}

func (f *fakeAPI) RetrieveCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, id)
	}
	return c, nil
}

func (f *fakeAPI) FindCustomerByOwner(_ context.Context, ownerKey, ownerID string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	for _, c := range f.customers {
		if !c.Deleted && c.Metadata[ownerKey] == ownerID {
			return c, nil
		}
	}
	return nil, billing.ErrCustomerNotFound
}

func (f *fakeAPI) CreateCustomer(_ context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, params)
	c := &stripe.Customer{
		ID:       fmt.Sprintf("cus_new_%d", len(f.created)),
		Metadata: params.Metadata,
	}
	f.customers[c.ID] = c
	return c, nil
}

func (f *fakeAPI) CreateCheckoutSession(
	_ context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(f.sessions))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *fakeAPI) CreatePortalSession(
	_ context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portals = append(f.portals, params)
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/p/" + *params.Customer}, nil
}

// noSleep records backoff delays without waiting.
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *noSleep) sleep(_ context.Context, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delays = append(n.delays, d)
	return nil
}

type reconcilerFixture struct {
	api        *fakeAPI
	directory  *memory.Directory
	sleeper    *noSleep
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T, mutate func(*ReconcilerConfig)) *reconcilerFixture {
	t.Helper()
	verifier, err := NewVerifier(testSecret, 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	fx := &reconcilerFixture{
		api:       newFakeAPI(customer(testCustomerID, testOwner)),
		directory: memory.New(),
		sleeper:   &noSleep{},
	}
	cfg := ReconcilerConfig{
		Verifier:     verifier,
		Customers:    fx.api,
		Directory:    fx.directory,
		Policy:       retry.Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond},
		RetryOptions: []retry.Option{retry.WithSleep(fx.sleeper.sleep)},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	fx.reconciler, err = NewReconciler(cfg)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	return fx
}

func (fx *reconcilerFixture) reconcile(d signedDelivery) *billing.Result {
	return fx.reconciler.Reconcile(context.Background(), d.payload, d.header, nil)
}

// recordingMetrics captures billing metrics calls.
type recordingMetrics struct {
	billing.NoopMetrics
	mu      sync.Mutex
	events  []string
	errors  []string
	retries int
	grants  int
}

func (m *recordingMetrics) RecordWebhookEvent(_, kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, kind+":"+outcome)
}

func (m *recordingMetrics) RecordWebhookError(_, errorKind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorKind)
}

func (m *recordingMetrics) RecordRetryAttempt(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) RecordGrant(string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants++
}
