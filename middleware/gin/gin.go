// Package gin provides Gin middleware for Bearer token authentication
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// PrincipalKey is the gin context key holding the verified principal.
const PrincipalKey = "toxbook:principal"

// Authenticator verifies an Authorization header value.
type Authenticator interface {
	VerifyAuthorization(header string) (*identity.Principal, error)
}

// Config holds middleware configuration
type Config struct {
	// Verifier validates the Authorization header (required)
	Verifier Authenticator

	// OnUnauthorized is called when the token is missing or invalid.
	// It must abort the context. If nil, aborts with 401 JSON.
	OnUnauthorized func(c *gongin.Context, err error)

	// Logger receives rejected-token diagnostics (optional)
	Logger logging.Logger
}

// Middleware creates a Gin middleware that requires a valid Bearer token.
// The principal is available via Principal(c) and on c.Request's context.
func Middleware(config Config) gongin.HandlerFunc {
	if config.Verifier == nil {
		panic("middleware/gin: verifier is required")
	}
	logger := logging.OrNoop(config.Logger)

	return func(c *gongin.Context) {
		principal, err := config.Verifier.VerifyAuthorization(c.GetHeader("Authorization"))
		if err != nil {
			logger.Debug("rejected access token",
				logging.F("path", c.FullPath()),
				logging.F("error", err),
			)
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c, err)
				return
			}
			c.Header("WWW-Authenticate", `Bearer realm="toxbook"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			return
		}

		c.Set(PrincipalKey, principal)
		c.Request = c.Request.WithContext(identity.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// Principal returns the principal stored by the middleware.
func Principal(c *gongin.Context) (*identity.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*identity.Principal)
	return p, ok && p != nil
}
