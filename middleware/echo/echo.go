// Package echo provides Echo middleware for Bearer token authentication
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// PrincipalKey is the echo context key holding the verified principal.
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
	// If nil, responds 401 JSON.
	OnUnauthorized func(c echo.Context, err error) error

	// Logger receives rejected-token diagnostics (optional)
	Logger logging.Logger
}

// Middleware creates an Echo middleware that requires a valid Bearer token
func Middleware(config Config) echo.MiddlewareFunc {
	if config.Verifier == nil {
		panic("middleware/echo: verifier is required")
	}
	logger := logging.OrNoop(config.Logger)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := config.Verifier.VerifyAuthorization(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				logger.Debug("rejected access token",
					logging.F("path", c.Path()),
					logging.F("error", err),
				)
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c, err)
				}
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="toxbook"`)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			c.Set(PrincipalKey, principal)
			c.SetRequest(c.Request().WithContext(identity.WithPrincipal(c.Request().Context(), principal)))
			return next(c)
		}
	}
}

// Principal returns the principal stored by the middleware.
func Principal(c echo.Context) (*identity.Principal, bool) {
	p, ok := c.Get(PrincipalKey).(*identity.Principal)
	return p, ok && p != nil
}
