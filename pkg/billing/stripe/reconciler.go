package stripe

import (
	"context"
	"errors"
	"time"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/pkg/entitlement"
	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
	"github.com/mihaimyh/toxbook/pkg/retry"
)

const opAddMembers = "identity.add_members"

// ReconcilerConfig wires a Reconciler.
type ReconcilerConfig struct {
	Verifier  *Verifier
	Customers CustomerLookup
	Directory identity.Directory
	Mapper    entitlement.Mapper
	Policy    retry.Policy

	// VerifyOwner looks the owner up before granting; an unknown owner is a conflict.
	VerifyOwner bool

	// OnApplied is called after a grant was applied.
	OnApplied func(ctx context.Context, res *billing.Result)

	Logger  logging.Logger
	Metrics billing.Metrics

	// RetryOptions are appended to every retry.Do call.
	RetryOptions []retry.Option
}

// Reconciler turns verified Stripe events into identity-provider group memberships.
// It holds no per-event state and is safe for concurrent use.
type Reconciler struct {
	verifier    *Verifier
	customers   CustomerLookup
	directory   identity.Directory
	mapper      entitlement.Mapper
	policy      retry.Policy
	verifyOwner bool
	onApplied   func(ctx context.Context, res *billing.Result)
	logger      logging.Logger
	metrics     billing.Metrics
	retryOpts   []retry.Option
}

// NewReconciler validates cfg and builds a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Verifier == nil || cfg.Customers == nil || cfg.Directory == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	policy := cfg.Policy
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		verifier:    cfg.Verifier,
		customers:   cfg.Customers,
		directory:   cfg.Directory,
		mapper:      cfg.Mapper,
		policy:      policy,
		verifyOwner: cfg.VerifyOwner,
		onApplied:   cfg.OnApplied,
		logger:      logging.OrNoop(cfg.Logger),
		metrics:     billing.OrNoop(cfg.Metrics),
		retryOpts:   cfg.RetryOptions,
	}, nil
}

// Reconcile verifies payload and applies it. done reports that the caller has
// already answered the delivery; retries stop once it does. It may be nil.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte, signatureHeader string, done retry.Signal) *billing.Result {
	res := &billing.Result{State: billing.StateVerifying}

	ev, err := r.verifier.Verify(payload, signatureHeader)
	if err != nil {
		res.Err = err
		var re *billing.ReconcileError
		if errors.As(err, &re) {
			res.EventID = re.EventID
		}
		r.logger.Warn("webhook verification failed",
			logging.F("event_id", res.EventID),
			logging.F("state", res.State.String()),
			logging.F("error_kind", billing.KindOf(err).String()),
			logging.F("error", err),
		)
		return res
	}

	res.EventID = ev.ID
	res.EventType = ev.Type
	res.Kind = ev.Kind
	res.Created = ev.Created
	r.transition(res, billing.StateDispatching)

	return r.dispatch(ctx, ev, res, done)
}

// Apply reconciles an already verified event.
func (r *Reconciler) Apply(ctx context.Context, ev *Event, done retry.Signal) *billing.Result {
	res := &billing.Result{
		EventID:   ev.ID,
		EventType: ev.Type,
		Kind:      ev.Kind,
		Created:   ev.Created,
		State:     billing.StateDispatching,
	}
	return r.dispatch(ctx, ev, res, done)
}

func (r *Reconciler) dispatch(ctx context.Context, ev *Event, res *billing.Result, done retry.Signal) *billing.Result {
	switch ev.Kind {
	case billing.EventPaymentSucceeded:
		// Subscription invoices raise their own payment intents without our
		// metadata; checkout.session.completed grants for those.
		if ev.InvoiceID != "" {
			r.ignore(res, "invoice payment")
			break
		}
		r.transition(res, billing.StateApplying)
		r.apply(ctx, ev, res, done)
	case billing.EventCheckoutCompleted:
		if !ev.Successful() {
			r.ignore(res, "checkout not paid")
			break
		}
		r.transition(res, billing.StateApplying)
		r.apply(ctx, ev, res, done)
	case billing.EventPaymentFailed, billing.EventCustomerCreated:
		r.ignore(res, "no entitlement change")
	default:
		r.ignore(res, "unrecognized event type")
	}

	if res.Err == nil {
		r.transition(res, billing.StateDone)
		if res.Applied() && r.onApplied != nil {
			r.onApplied(ctx, res)
		}
	} else {
		r.logger.Error("webhook reconciliation failed",
			logging.F("event_id", res.EventID),
			logging.F("event_type", res.EventType),
			logging.F("state", res.State.String()),
			logging.F("error_kind", billing.KindOf(res.Err).String()),
			logging.F("error", res.Err),
		)
	}
	return res
}

func (r *Reconciler) apply(ctx context.Context, ev *Event, res *billing.Result, done retry.Signal) {
	owner, ok := r.mapper.Owner(ev.Metadata)
	if !ok {
		res.Err = billing.NewReconcileError(billing.KindMissingMetadata, ev.ID,
			errors.New("owner identifier missing from metadata"))
		return
	}
	if ev.CustomerID == "" {
		res.Err = billing.NewReconcileError(billing.KindMissingMetadata, ev.ID,
			errors.New("event references no customer"))
		return
	}

	cust, err := r.customers.RetrieveCustomer(ctx, ev.CustomerID)
	switch {
	case errors.Is(err, billing.ErrCustomerNotFound):
		res.Err = billing.NewReconcileError(billing.KindConflict, ev.ID, err)
		return
	case err != nil:
		res.Err = billing.NewReconcileError(billing.KindDependencyFailure, ev.ID, err)
		return
	case cust.Deleted:
		res.Err = billing.NewReconcileError(billing.KindConflict, ev.ID, errors.New("customer is deleted"))
		return
	}
	if custOwner, _ := r.mapper.Owner(cust.Metadata); custOwner != owner {
		r.logger.Warn("event owner does not match customer owner",
			logging.F("event_id", ev.ID),
			logging.F("customer_id", cust.ID),
			logging.F("event_owner", owner),
			logging.F("customer_owner", custOwner),
		)
		res.Err = billing.NewReconcileError(billing.KindConflict, ev.ID, errors.New("customer owner mismatch"))
		return
	}

	grant := r.mapper.Map(ev.ID, ev.Metadata)
	res.Grant = &grant
	if grant.Empty() {
		r.logger.Info("event grants no groups",
			logging.F("event_id", ev.ID),
			logging.F("owner", owner),
		)
		return
	}

	if r.verifyOwner {
		if err := r.checkOwner(ctx, ev.ID, owner, done); err != nil {
			res.Err = err
			return
		}
	}

	opts := append([]retry.Option{
		retry.WithSignal(done),
		retry.WithLogger(r.logger),
		retry.OnRetry(func(int, time.Duration, error) {
			r.metrics.RecordRetryAttempt(opAddMembers)
		}),
	}, r.retryOpts...)

	members := grant.Members()
	_, err = retry.Do(ctx, opAddMembers, r.policy, func(ctx context.Context) (struct{}, error) {
		start := time.Now()
		err := r.directory.AddMembers(ctx, members)
		r.observeIdentity("/api/group/member", start, err)
		return struct{}{}, err
	}, opts...)
	if err != nil {
		res.Err = billing.NewReconcileError(billing.KindDependencyFailure, ev.ID, err)
		return
	}

	r.metrics.RecordGrant(providerName, grant.GroupIDs.Len())
	r.logger.Info("entitlement granted",
		logging.F("event_id", ev.ID),
		logging.F("owner", owner),
		logging.F("groups", grant.GroupIDs.CSV()),
	)
}

func (r *Reconciler) checkOwner(ctx context.Context, eventID, owner string, done retry.Signal) error {
	missing := false
	_, err := retry.Do(ctx, "identity.retrieve_user", r.policy, func(ctx context.Context) (struct{}, error) {
		start := time.Now()
		_, err := r.directory.RetrieveUser(ctx, owner)
		r.observeIdentity("/api/user/{id}", start, err)
		if errors.Is(err, identity.ErrUserNotFound) {
			missing = true
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, append([]retry.Option{retry.WithSignal(done), retry.WithLogger(r.logger)}, r.retryOpts...)...)
	if err != nil {
		return billing.NewReconcileError(billing.KindDependencyFailure, eventID, err)
	}
	if missing {
		return billing.NewReconcileError(billing.KindConflict, eventID, identity.ErrUserNotFound)
	}
	return nil
}

func (r *Reconciler) observeIdentity(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordAPICall("identity", endpoint, status)
	r.metrics.RecordAPICallDuration("identity", endpoint, time.Since(start))
}

func (r *Reconciler) ignore(res *billing.Result, reason string) {
	r.transition(res, billing.StateIgnoring)
	r.logger.Info("webhook event ignored",
		logging.F("event_id", res.EventID),
		logging.F("event_type", res.EventType),
		logging.F("kind", res.Kind.String()),
		logging.F("reason", reason),
	)
}

func (r *Reconciler) transition(res *billing.Result, to billing.State) {
	r.logger.Debug("webhook state transition",
		logging.F("event_id", res.EventID),
		logging.F("event_type", res.EventType),
		logging.F("from", res.State.String()),
		logging.F("to", to.String()),
		logging.F("outcome", res.Outcome()),
	)
	res.State = to
}
