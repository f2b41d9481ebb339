package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nmk/rehab-ledger/internal/platform/auth"
)

func auditRequest(t *testing.T, method, route, path string, params map[string]string, handler echo.HandlerFunc, rec ...AuditRecorder) (*bytes.Buffer, []AuditEntry) {
	t.Helper()
	var buf bytes.Buffer
	var entries []AuditEntry
	recorders := append([]AuditRecorder{AuditRecorderFunc(func(e AuditEntry) error {
		entries = append(entries, e)
		return nil
	})}, rec...)

	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.AdminKey, "admin@nmk.com"))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(route)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	c.Set("request_id", "req-42")

	Audit(zerolog.New(&buf), recorders...)(handler)(c)
	return &buf, entries
}

func TestAudit_RecordsPayment(t *testing.T) {
	buf, entries := auditRequest(t, http.MethodPost, "/patients/:id/pay", "/patients/P003/pay",
		map[string]string{"id": "P003"},
		func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Action != "payment" || got.PatientID != "P003" || got.Admin != "admin@nmk.com" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.StatusCode != http.StatusOK || got.RequestID != "req-42" {
		t.Errorf("unexpected status/request id: %+v", got)
	}
	if !strings.Contains(buf.String(), `"type":"ledger_audit"`) {
		t.Errorf("expected structured audit log line, got %s", buf.String())
	}
}

func TestAudit_UsesHTTPErrorStatus(t *testing.T) {
	_, entries := auditRequest(t, http.MethodDelete, "/patients/:id", "/patients/P404",
		map[string]string{"id": "P404"},
		func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "Patient not found") })

	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != "delete" || entries[0].StatusCode != http.StatusNotFound {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestAudit_SkipsReadsAndLogin(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	if _, entries := auditRequest(t, http.MethodGet, "/patients", "/patients", nil, ok); len(entries) != 0 {
		t.Errorf("expected reads to be skipped, got %d entries", len(entries))
	}
	if _, entries := auditRequest(t, http.MethodPost, "/login", "/login", nil, ok); len(entries) != 0 {
		t.Errorf("expected login to be skipped, got %d entries", len(entries))
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	failing := AuditRecorderFunc(func(AuditEntry) error { return errors.New("disk full") })
	buf, entries := auditRequest(t, http.MethodPut, "/patients/:id", "/patients/P001",
		map[string]string{"id": "P001"},
		func(c echo.Context) error { return c.NoContent(http.StatusOK) }, failing)

	if len(entries) != 1 || entries[0].Action != "update" {
		t.Errorf("expected update entry from first recorder, got %+v", entries)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Error("expected recorder failure to be logged")
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		method, route, want string
	}{
		{http.MethodPost, "/add-patient", "create"},
		{http.MethodPost, "/add-payment", "payment"},
		{http.MethodPut, "/patients/:id", "update"},
		{http.MethodDelete, "/patients/:id", "delete"},
		{http.MethodGet, "/dashboard", ""},
		{http.MethodPost, "/login", ""},
	}
	for _, tt := range tests {
		if got := actionFor(tt.method, tt.route); got != tt.want {
			t.Errorf("actionFor(%s, %s) = %q, want %q", tt.method, tt.route, got, tt.want)
		}
	}
}
