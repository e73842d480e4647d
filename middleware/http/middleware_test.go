package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/toxbook/pkg/identity"
)

const testKey = "test-signing-key-0123456789abcdef"

func newVerifier(t *testing.T) *identity.TokenVerifier {
	t.Helper()
	v, err := identity.NewTokenVerifier(identity.TokenConfig{SigningKey: testKey})
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return v
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "tenant-a",
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return raw
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := Principal(r)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(p.SubjectID + "@" + p.TenantID))
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	handler := Middleware(Config{Verifier: newVerifier(t)})(echoPrincipal())

	req := httptest.NewRequest(http.MethodGet, "/billing/customer", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "user1@tenant-a" {
		t.Errorf("Expected principal user1@tenant-a, got %q", w.Body.String())
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "garbage token", header: "Bearer not.a.token"},
	}

	handler := Middleware(Config{Verifier: newVerifier(t)})(echoPrincipal())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("Expected WWW-Authenticate header")
			}
		})
	}
}

func TestMiddleware_CustomUnauthorized(t *testing.T) {
	var got error
	handler := Middleware(Config{
		Verifier: newVerifier(t),
		OnUnauthorized: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusForbidden)
		},
	})(echoPrincipal())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	if !errors.Is(got, identity.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", got)
	}
}

func TestMiddleware_Skip(t *testing.T) {
	handler := Middleware(Config{
		Verifier: newVerifier(t),
		Skip:     func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}

func TestHandlerFunc(t *testing.T) {
	wrap := HandlerFunc(Config{Verifier: newVerifier(t)})
	handler := wrap(echoPrincipal().ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "bearer "+signToken(t, "user2"))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestMiddleware_RequiresVerifier(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic without verifier")
		}
	}()
	Middleware(Config{})
}
