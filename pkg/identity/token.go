package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the FusionAuth access-token claims this service understands.
type Claims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email,omitempty"`
	TenantID      string   `json:"tid,omitempty"`
	ApplicationID string   `json:"applicationId,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// Principal is the authenticated caller derived from a verified token.
type Principal struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
}

// TokenConfig configures access-token verification.
type TokenConfig struct {
	// SigningKey is the HMAC key of the FusionAuth application (required).
	SigningKey string

	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must be present in the aud claim (FusionAuth uses the application id).
	Audience string

	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// TokenVerifier validates bearer tokens issued by the identity provider.
type TokenVerifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewTokenVerifier creates a verifier. An empty signing key is a configuration error.
func NewTokenVerifier(cfg TokenConfig) (*TokenVerifier, error) {
	key := strings.TrimSpace(cfg.SigningKey)
	if key == "" {
		return nil, fmt.Errorf("token signing key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &TokenVerifier{
		key:    []byte(key),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses and validates a raw token.
func (v *TokenVerifier) Verify(raw string) (*Principal, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{
		SubjectID: claims.Subject,
		TenantID:  claims.TenantID,
		Email:     claims.Email,
		Roles:     claims.Roles,
	}, nil
}

// VerifyAuthorization verifies a "Bearer <token>" header value.
func (v *TokenVerifier) VerifyAuthorization(header string) (*Principal, error) {
	raw, ok := BearerToken(header)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", ErrInvalidToken)
	}
	return v.Verify(raw)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
