package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/nmk/rehab-ledger/internal/platform/db"
	"github.com/nmk/rehab-ledger/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the ledger API. protected guards admin routes and
// intake guards patient intake, which may be public.
func (h *Handler) RegisterRoutes(e *echo.Echo, protected, intake echo.MiddlewareFunc) {
	e.GET("/health/store", db.PingHandler(h.svc, nil))

	// Public reads
	e.GET("/patients", h.ListPatients)
	e.GET("/patients/:id", h.GetPatient)

	e.POST("/add-patient", h.CreatePatient, intake)

	// Admin
	e.PUT("/patients/:id", h.UpdatePatient, protected)
	e.DELETE("/patients/:id", h.DeletePatient, protected)
	e.POST("/add-payment", h.AddPayment, protected)
	e.POST("/patients/:id/pay", h.PayPatient, protected)
	e.GET("/payments", h.ListPayments, protected)
	e.GET("/payments/:patientId", h.ListPatientPayments, protected)
	e.GET("/dashboard", h.Dashboard, protected)
	e.GET("/reconciliation", h.Reconciliation, protected)
}

// fail maps a service error onto the response contract: 400 for validation
// and invariant errors, 404 for a missing patient and a 500 body carrying the
// store failure otherwise.
func fail(c echo.Context, op string, err error) error {
	switch KindOf(err) {
	case KindValidation, KindInvariant:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   op,
		"details": err.Error(),
	})
}

// listResponse renders {count, <key>}. When the client asks for a page the
// items are cut down and the paging metadata is added.
func listResponse[T any](c echo.Context, key string, items []T) map[string]interface{} {
	body := map[string]interface{}{}
	if p, ok := pagination.FromContext(c); ok {
		body = p.Meta(len(items))
		items = pagination.Page(items, p)
	}
	body["count"] = len(items)
	body[key] = items
	return body
}

// -- Patients --

type createPatientResponse struct {
	Message   string          `json:"message"`
	PatientID string          `json:"patientId"`
	Balance   decimal.Decimal `json:"balance"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), &in)
	if err != nil {
		return fail(c, "Failed to add patient", err)
	}
	return c.JSON(http.StatusOK, createPatientResponse{
		Message:   "Patient added successfully!",
		PatientID: p.ID,
		Balance:   p.Balance,
	})
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return fail(c, "Failed to fetch patients", err)
	}
	return c.JSON(http.StatusOK, listResponse(c, "patients", patients))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, "Failed to fetch patient", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), c.Param("id"), &in)
	if err != nil {
		return fail(c, "Failed to update patient", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":        "Patient updated successfully!",
		"updatedBalance": p.Balance,
	})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id := c.Param("id")
	if err := h.svc.SoftDelete(c.Request().Context(), id); err != nil {
		return fail(c, "Failed to delete patient", err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Patient %s soft deleted successfully", id),
	})
}

// -- Payments --

type paymentResponse struct {
	Message string `json:"message"`
	*PaymentReceipt
}

func (h *Handler) AddPayment(c echo.Context) error {
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.pay(c, &in)
}

// PayPatient is the older payment route that takes the patient from the path.
func (h *Handler) PayPatient(c echo.Context) error {
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.PatientID = c.Param("id")
	return h.pay(c, &in)
}

func (h *Handler) pay(c echo.Context, in *PaymentInput) error {
	receipt, err := h.svc.ApplyPayment(c.Request().Context(), in)
	if err != nil {
		return fail(c, "Failed to add payment", err)
	}
	return c.JSON(http.StatusOK, paymentResponse{
		Message:        "Payment added successfully!",
		PaymentReceipt: receipt,
	})
}

func (h *Handler) ListPayments(c echo.Context) error {
	return h.listPayments(c, "")
}

func (h *Handler) ListPatientPayments(c echo.Context) error {
	return h.listPayments(c, c.Param("patientId"))
}

func (h *Handler) listPayments(c echo.Context, patientID string) error {
	payments, err := h.svc.ListPayments(c.Request().Context(), patientID)
	if err != nil {
		return fail(c, "Failed to fetch payments", err)
	}
	return c.JSON(http.StatusOK, listResponse(c, "payments", payments))
}

// -- Aggregates --

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return fail(c, "Failed to load dashboard", err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Reconciliation(c echo.Context) error {
	found, err := h.svc.Reconcile(c.Request().Context())
	if err != nil {
		return fail(c, "Failed to reconcile ledger", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":         len(found),
		"discrepancies": found,
	})
}
