package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		ExpiresIn: time.Hour,
	}
}

func TestIssueAndParseToken(t *testing.T) {
	cfg := testTokenConfig()
	signed, claims, err := IssueToken(cfg, 7, "patient")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}

	parsed, err := ParseToken(cfg, signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.UserID != 7 {
		t.Errorf("expected user id 7, got %d", parsed.UserID)
	}
	if parsed.Role != "patient" {
		t.Errorf("expected role patient, got %s", parsed.Role)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	signed, _, err := IssueToken(testTokenConfig(), 7, "patient")
	if err != nil {
		t.Fatal(err)
	}
	other := TokenConfig{Secret: []byte("ffffffffffffffffffffffffffffffff"), ExpiresIn: time.Hour}
	if _, err := ParseToken(other, signed); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestParseToken_Expired(t *testing.T) {
	cfg := testTokenConfig()
	cfg.ExpiresIn = -time.Minute
	signed, _, err := IssueToken(cfg, 7, "patient")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(testTokenConfig(), signed); err == nil {
		t.Error("expected error for expired token")
	}
}

func doAuthedRequest(t *testing.T, mw echo.MiddlewareFunc, header string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := testTokenConfig()
	signed, _, _ := IssueToken(cfg, 7, "patient")
	mw := JWTMiddleware(cfg, nil)
	if err := doAuthedRequest(t, mw, "Bearer "+signed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(testTokenConfig(), nil)
	err := doAuthedRequest(t, mw, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	cfg := testTokenConfig()
	signed, claims, _ := IssueToken(cfg, 7, "patient")

	revoked := NewTokenRevocationStore()
	defer revoked.Close()
	revoked.Revoke(claims.ID, claims.UserID, claims.ExpiresAt.Time)

	mw := JWTMiddleware(cfg, revoked)
	err := doAuthedRequest(t, mw, "Bearer "+signed)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked token, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(UserRoleKey, "researcher")

	err := RequireRole("researcher")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Set(UserRoleKey, "patient")
	err = RequireRole("researcher")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRevocationStore_Cleanup(t *testing.T) {
	s := NewTokenRevocationStore()
	defer s.Close()

	s.Revoke("expired", 1, time.Now().Add(-time.Minute))
	s.Revoke("live", 1, time.Now().Add(time.Hour))

	s.cleanup()

	if s.IsRevoked("expired") {
		t.Error("expected expired entry to be cleaned up")
	}
	if !s.IsRevoked("live") {
		t.Error("expected live entry to remain")
	}
}
