// Package fusionauth implements identity.Directory on top of the FusionAuth API.
package fusionauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FusionAuth/go-client/pkg/fusionauth"
	"github.com/sony/gobreaker/v2"

	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// Config holds the FusionAuth connection settings.
type Config struct {
	BaseURL string
	APIKey  string

	// TenantID scopes API calls when the key is not tenant-bound.
	TenantID string

	// Timeout bounds each HTTP call (default 10s).
	Timeout time.Duration

	// BreakerName identifies the circuit in logs (default "fusionauth").
	BreakerName string

	// TripAfter is the number of consecutive failures that opens the circuit (default 5).
	TripAfter uint32

	// OpenTimeout is how long the circuit stays open before probing (default 30s).
	OpenTimeout time.Duration

	HTTPClient *http.Client
	Logger     logging.Logger
}

// APIError carries FusionAuth's error payload for a failed call.
type APIError struct {
	Op         string
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("fusionauth %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("fusionauth %s: status %d: %s", e.Op, e.StatusCode, strings.Join(e.Messages, "; "))
}

// Directory is the FusionAuth-backed identity.Directory.
type Directory struct {
	client  *fusionauth.FusionAuthClient
	breaker *gobreaker.CircuitBreaker[any]
	logger  logging.Logger
}

// New creates a directory client.
func New(cfg Config) (*Directory, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fusionauth base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fusionauth API key is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid fusionauth base URL: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "fusionauth"
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := logging.OrNoop(cfg.Logger)

	client := fusionauth.NewClient(httpClient, base, cfg.APIKey)
	if cfg.TenantID != "" {
		client.TenantId = cfg.TenantID
	}

	tripAfter := cfg.TripAfter
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		// A missing user is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, identity.ErrUserNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("identity provider circuit state changed",
				logging.F("breaker", name),
				logging.F("from", from.String()),
				logging.F("to", to.String()),
			)
		},
	})

	return &Directory{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// RetrieveUser implements identity.Directory.
func (d *Directory) RetrieveUser(ctx context.Context, id string) (*identity.User, error) {
	res, err := d.breaker.Execute(func() (any, error) {
		resp, faErrs, err := d.client.RetrieveUserWithContext(ctx, id)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, &APIError{Op: "retrieve user"}
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, identity.ErrUserNotFound
		}
		if failed(resp.StatusCode, faErrs) {
			return nil, apiError("retrieve user", resp.StatusCode, faErrs)
		}
		return &identity.User{
			ID:       resp.User.Id,
			Email:    resp.User.Email,
			TenantID: resp.User.TenantId,
			Active:   resp.User.Active,
		}, nil
	})
	if err != nil {
		return nil, d.mapError(err)
	}
	return res.(*identity.User), nil
}

// AddMembers implements identity.Directory. FusionAuth treats re-adding an
// existing member as a no-op.
func (d *Directory) AddMembers(ctx context.Context, members map[string][]string) error {
	if len(members) == 0 {
		return nil
	}

	req := fusionauth.MemberRequest{Members: make(map[string][]fusionauth.GroupMember, len(members))}
	for group, subjects := range members {
		for _, s := range subjects {
			req.Members[group] = append(req.Members[group], fusionauth.GroupMember{UserId: s})
		}
	}

	_, err := d.breaker.Execute(func() (any, error) {
		resp, faErrs, err := d.client.CreateGroupMembersWithContext(ctx, req)
		if err != nil {
			return nil, err
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if failed(status, faErrs) {
			return nil, apiError("add group members", status, faErrs)
		}
		return nil, nil
	})
	if err != nil {
		return d.mapError(err)
	}
	return nil
}

func (d *Directory) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	return err
}

func failed(status int, faErrs *fusionauth.Errors) bool {
	if status < 200 || status > 299 {
		return true
	}
	return faErrs != nil && (len(faErrs.GeneralErrors) > 0 || len(faErrs.FieldErrors) > 0)
}

func apiError(op string, status int, faErrs *fusionauth.Errors) error {
	e := &APIError{Op: op, StatusCode: status}
	if faErrs != nil {
		for _, ge := range faErrs.GeneralErrors {
			e.Messages = append(e.Messages, ge.Code+": "+ge.Message)
		}
		for field, fes := range faErrs.FieldErrors {
			for _, fe := range fes {
				e.Messages = append(e.Messages, field+": "+fe.Code)
			}
		}
	}
	return e
}

var _ identity.Directory = (*Directory)(nil)
