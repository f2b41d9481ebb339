package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, header string) (error, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(NewTokenIssuer(testSigningKey, time.Hour))
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return err, c
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err, _ := runMiddleware(t, "")
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err, _ := runMiddleware(t, tt.header)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin@nmk.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "admin@nmk.com",
	}, testSigningKey)

	err, c := runMiddleware(t, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := AdminFromContext(c.Request().Context()); got != "admin@nmk.com" {
		t.Errorf("expected admin@nmk.com in context, got %q", got)
	}
	if got, _ := c.Get("admin").(string); got != "admin@nmk.com" {
		t.Errorf("expected admin@nmk.com on echo context, got %q", got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin@nmk.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, testSigningKey)

	err, _ := runMiddleware(t, "Bearer "+token)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin@nmk.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte("some-other-key"))

	err, _ := runMiddleware(t, "Bearer "+token)
	assertUnauthorized(t, err)
}

func TestOptional_Disabled(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/add-patient", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := Optional(false, JWTMiddleware(NewTokenIssuer(testSigningKey, time.Hour)))
	if err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatalf("expected pass-through, got %v", err)
	}

	mw = Optional(true, JWTMiddleware(NewTokenIssuer(testSigningKey, time.Hour)))
	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(e.NewContext(req, httptest.NewRecorder()))
	assertUnauthorized(t, err)
}

func TestQueryToken(t *testing.T) {
	tokens := NewTokenIssuer(testSigningKey, time.Hour)
	tok, _, err := tokens.Issue("admin@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var admin string
	h := QueryToken()(JWTMiddleware(tokens)(func(c echo.Context) error {
		admin = AdminFromContext(c.Request().Context())
		return nil
	}))
	if err := h(c); err != nil {
		t.Fatalf("expected query token to authenticate, got %v", err)
	}
	if admin != "admin@example.com" {
		t.Errorf("expected admin@example.com, got %q", admin)
	}
}

func TestQueryToken_HeaderWins(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	c := e.NewContext(req, httptest.NewRecorder())

	_ = QueryToken()(func(c echo.Context) error { return nil })(c)
	if got := c.Request().Header.Get("Authorization"); got != "Bearer from-header" {
		t.Errorf("expected header to be kept, got %q", got)
	}
}
