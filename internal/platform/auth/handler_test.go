package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestLoginHandler(t *testing.T) (*LoginHandler, *TokenIssuer) {
	tokens := NewTokenIssuer(testSigningKey, time.Hour)
	return NewLoginHandler(testCredentials(t), tokens, zerolog.Nop()), tokens
}

func postLogin(t *testing.T, h *LoginHandler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Login(e.NewContext(req, rec))
}

func TestLoginHandler_Success(t *testing.T) {
	h, tokens := newTestLoginHandler(t)

	rec, err := postLogin(t, h, `{"email":"admin@nmk.com","password":"s3cret"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Login successful" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expected expiresIn 3600, got %d", resp.ExpiresIn)
	}
	claims, err := tokens.Parse(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Subject != "Admin@nmk.com" {
		t.Errorf("expected configured email as subject, got %q", claims.Subject)
	}
}

func TestLoginHandler_Failures(t *testing.T) {
	h, _ := newTestLoginHandler(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"wrong password", `{"email":"admin@nmk.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"x@nmk.com","password":"s3cret"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"admin@nmk.com"}`, http.StatusBadRequest},
		{"malformed json", `{"email":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := postLogin(t, h, tt.body)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, httpErr.Code)
			}
		})
	}
}

func TestLoginHandler_RegisterRoutes(t *testing.T) {
	h, _ := newTestLoginHandler(t)
	e := echo.New()
	h.RegisterRoutes(e)

	found := false
	for _, r := range e.Routes() {
		if r.Method == http.MethodPost && r.Path == "/login" {
			found = true
		}
	}
	if !found {
		t.Error("expected POST /login to be registered")
	}
}
