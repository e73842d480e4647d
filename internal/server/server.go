// Package server wires configuration, adapters and HTTP routes into a
// runnable billing service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/toxbook/internal/config"
	httpmw "github.com/mihaimyh/toxbook/middleware/http"
	"github.com/mihaimyh/toxbook/pkg/api"
	"github.com/mihaimyh/toxbook/pkg/billing"
	prommetrics "github.com/mihaimyh/toxbook/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/toxbook/pkg/billing/stripe"
	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/identity/fusionauth"
	"github.com/mihaimyh/toxbook/pkg/logging"
	zlog "github.com/mihaimyh/toxbook/pkg/logging/zerolog"
)

const requestIDHeader = "X-Request-ID"

// App is the assembled service.
type App struct {
	Handler http.Handler

	config *config.Config
	store  *customerStore
	logger logging.Logger
}

// NewLogger builds the process logger: JSON, or console output in the local environment.
func NewLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Environment == "local" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "toxbook").Logger()
}

// New builds every adapter named by cfg. The directory may be nil, in which
// case a FusionAuth directory is created from cfg.
func New(ctx context.Context, cfg *config.Config, directory identity.Directory, zl zerolog.Logger) (*App, error) {
	logger := zlog.NewLogger(zl)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, cfg.Metrics.Namespace)

	if directory == nil {
		fa, err := fusionauth.New(fusionauth.Config{
			BaseURL:     cfg.FusionAuth.URL,
			APIKey:      cfg.FusionAuth.APIKey,
			TenantID:    cfg.FusionAuth.TenantID,
			Timeout:     cfg.FusionAuth.Timeout,
			TripAfter:   cfg.FusionAuth.TripAfter,
			OpenTimeout: cfg.FusionAuth.OpenTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("fusionauth: %w", err)
		}
		directory = fa
	}

	verifier, err := identity.NewTokenVerifier(identity.TokenConfig{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Leeway:     cfg.Auth.Leeway,
	})
	if err != nil {
		return nil, err
	}

	plans, err := cfg.Plans()
	if err != nil {
		return nil, err
	}

	store, err := newCustomerStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("customer store: %w", err)
	}

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			WebhookSecret: cfg.Stripe.WebhookSecret,
			APIKey:        cfg.Stripe.APIKey,
			Plans:         plans,
			Mapper:        cfg.Mapper(),
			RetryPolicy:   cfg.RetryPolicy(),
			VerifyOwner:   cfg.Webhook.VerifyOwner,
			HTTPClient:    &http.Client{Timeout: 10 * time.Second},
			MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
			RateLimit:     cfg.Webhook.RateLimit,
			RateWindow:    cfg.Webhook.RateWindow,
			Metrics:       metrics,
			Logger:        logger,
		},
		Directory:          directory,
		Customers:          store,
		SignatureTolerance: cfg.Stripe.SignatureTolerance,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("stripe provider: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Provider:          provider,
		DefaultSuccessURL: cfg.Billing.SuccessURL,
		DefaultCancelURL:  cfg.Billing.CancelURL,
		DefaultReturnURL:  cfg.Billing.ReturnURL,
		Logger:            logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	router := NewRouter(Routes{
		Provider:       provider,
		API:            handler,
		Verifier:       verifier,
		Gatherer:       registry,
		Ready:          store.Ping,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	return &App{
		Handler: router,
		config:  cfg,
		store:   store,
		logger:  logger,
	}, nil
}

// Close releases storage connections.
func (a *App) Close() {
	a.store.Close()
}

// Routes are the collaborators the router needs.
type Routes struct {
	Provider       billing.Provider
	API            *api.Handler
	Verifier       httpmw.Authenticator
	Gatherer       prometheus.Gatherer
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
	Logger         logging.Logger
}

// NewRouter mounts the webhook, billing, metrics and health endpoints.
func NewRouter(rt Routes) http.Handler {
	logger := logging.OrNoop(rt.Logger)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	if rt.RequestTimeout > 0 {
		r.Use(middleware.Timeout(rt.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if rt.Ready != nil {
			if err := rt.Ready(req.Context()); err != nil {
				logger.Warn("readiness check failed", logging.F("error", err))
				writeStatus(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	if rt.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Handle("/webhooks/"+rt.Provider.Name(), rt.Provider.WebhookHandler())

	if rt.API != nil && rt.Verifier != nil {
		r.Route("/billing", func(r chi.Router) {
			r.Use(httpmw.Middleware(httpmw.Config{Verifier: rt.Verifier, Logger: logger}))
			r.Post("/checkout", rt.API.Checkout)
			r.Post("/portal", rt.API.Portal)
			r.Get("/customer", rt.API.GetCustomer)
		})
	}

	return r
}

// requestID propagates X-Request-ID, generating a UUID when absent.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				logging.F("request_id", middleware.GetReqID(r.Context())),
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path),
				logging.F("status", ww.Status()),
				logging.F("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status}) //nolint:errcheck // Response already committed
}

// Run serves the app until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort("", a.config.Server.Port),
		Handler:      a.Handler,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", logging.F("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
