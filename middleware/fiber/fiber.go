// Package fiber provides Fiber middleware for Bearer token authentication
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/toxbook/pkg/identity"
	"github.com/mihaimyh/toxbook/pkg/logging"
)

// PrincipalKey is the fiber locals key holding the verified principal.
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
	OnUnauthorized func(c *fiber.Ctx, err error) error

	// Logger receives rejected-token diagnostics (optional)
	Logger logging.Logger
}

// Middleware creates a Fiber middleware that requires a valid Bearer token.
// The principal is stored in c.Locals and on c.UserContext().
func Middleware(config Config) fiber.Handler {
	if config.Verifier == nil {
		panic("middleware/fiber: verifier is required")
	}
	logger := logging.OrNoop(config.Logger)

	return func(c *fiber.Ctx) error {
		principal, err := config.Verifier.VerifyAuthorization(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			logger.Debug("rejected access token",
				logging.F("path", c.Path()),
				logging.F("error", err),
			)
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c, err)
			}
			c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="toxbook"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		c.Locals(PrincipalKey, principal)
		c.SetUserContext(identity.WithPrincipal(c.UserContext(), principal))
		return c.Next()
	}
}

// Principal returns the principal stored by the middleware.
func Principal(c *fiber.Ctx) (*identity.Principal, bool) {
	p, ok := c.Locals(PrincipalKey).(*identity.Principal)
	return p, ok && p != nil
}
