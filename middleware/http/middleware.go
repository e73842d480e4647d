// Package http provides net/http middleware that authenticates callers with
// Bearer access tokens and stores the verified principal on the request context.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// Authenticator verifies an Authorization header value.
// *identity.TokenVerifier satisfies it.
type Authenticator interface {
	VerifyAuthorization(header string) (*identity.Principal, error)
}

// Config holds middleware configuration
type Config struct {
	// Verifier validates the Authorization header (required)
	Verifier Authenticator

	// Skip bypasses authentication for matching requests (optional)
	Skip func(r *http.Request) bool

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, returns 401 with a JSON body
	OnUnauthorized func(w http.ResponseWriter, r *http.Request, err error)

	// Logger receives rejected-token diagnostics (optional)
	Logger logging.Logger
}

// Middleware creates an HTTP middleware that requires a valid Bearer token
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Verifier == nil {
		panic("middleware/http: verifier is required")
	}
	logger := logging.OrNoop(config.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skip != nil && config.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := config.Verifier.VerifyAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug("rejected access token",
					logging.F("path", r.URL.Path),
					logging.F("error", err),
				)
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r, err)
					return
				}
				Unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
		})
	}
}

// HandlerFunc creates the middleware for a single http.HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// Unauthorized writes the default 401 response.
func Unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="toxbook"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"}) //nolint:errcheck // Response already committed
}

// Principal returns the principal stored by the middleware.
func Principal(r *http.Request) (*identity.Principal, bool) {
	return identity.PrincipalFrom(r.Context())
}
