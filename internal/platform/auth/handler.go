package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// LoginHandler exchanges admin credentials for a session token.
type LoginHandler struct {
	creds  *Credentials
	tokens *TokenIssuer
	logger zerolog.Logger
}

func NewLoginHandler(creds *Credentials, tokens *TokenIssuer, logger zerolog.Logger) *LoginHandler {
	return &LoginHandler{creds: creds, tokens: tokens, logger: logger}
}

// RegisterRoutes mounts POST /login behind the given middleware.
func (h *LoginHandler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST("/login", h.Login, mw...)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (h *LoginHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	if err := h.creds.Verify(req.Email, req.Password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("admin login rejected")
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	token, _, err := h.tokens.Issue(h.creds.Email())
	if err != nil {
		h.logger.Error().Err(err).Msg("issue admin token")
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	h.logger.Info().Str("admin", h.creds.Email()).Msg("admin logged in")
	return c.JSON(http.StatusOK, loginResponse{
		Message:   "Login successful",
		Token:     token,
		ExpiresIn: int64(h.tokens.TTL().Seconds()),
	})
}
