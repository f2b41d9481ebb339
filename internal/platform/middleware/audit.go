package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nmk/rehab-ledger/internal/platform/auth"
)

// AuditEntry records one ledger mutation: who changed what, and the outcome.
type AuditEntry struct {
	Admin      string
	Action     string // create, update, delete, payment
	PatientID  string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request (POST, PUT, PATCH, DELETE) after
// the handler has run. Reads and /login are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := actionFor(req.Method, c.Path())
			if action == "" {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			entry := AuditEntry{
				Admin:      auth.AdminFromContext(c.Request().Context()),
				Action:     action,
				PatientID:  patientIDParam(c),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "ledger_audit").
				Str("request_id", entry.RequestID).
				Str("admin", entry.Admin).
				Str("action", entry.Action).
				Str("patient_id", entry.PatientID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("ledger_change")

			return err
		}
	}
}

func actionFor(method, route string) string {
	if route == "/login" {
		return ""
	}
	switch method {
	case http.MethodPost:
		if route == "/add-payment" || route == "/patients/:id/pay" {
			return "payment"
		}
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return ""
	}
}

func patientIDParam(c echo.Context) string {
	for _, name := range []string{"id", "patientId"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}
