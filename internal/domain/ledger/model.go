package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers, as the front-end expects.
	decimal.MarshalJSONWithoutQuotes = true
}

type Status string

const (
	StatusActive  Status = "Active"
	StatusDeleted Status = "Deleted"
)

type PickupType string

const (
	PickupSelf   PickupType = "Self"
	PickupPickup PickupType = "Pickup"
)

// Patient is one row of the Patients table.
type Patient struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	GuardianName  string          `json:"guardianName"`
	Mobile        string          `json:"mobile"`
	AdmissionDate string          `json:"admissionDate"`
	AddictionType string          `json:"addictionType"`
	TotalFees     decimal.Decimal `json:"totalFees"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Balance       decimal.Decimal `json:"balance"`
	Status        Status          `json:"status"`
	PickupType    PickupType      `json:"pickupType"`
	Distance      *int            `json:"distance"`
}

// IsVisible reports whether p shows up in listings and aggregates. Lookups by
// id ignore it.
func IsVisible(p *Patient) bool {
	return p.Status == StatusActive
}

func (p *Patient) recomputeBalance() {
	p.Balance = p.TotalFees.Sub(p.PaidAmount)
}

// PatientView is a listed patient with the time elapsed since admission.
type PatientView struct {
	*Patient
	Months int `json:"months"`
	Days   int `json:"days"`
}

// Payment is one row of the Payments table. Payments are never edited.
type Payment struct {
	ID          string          `json:"id"`
	PatientID   string          `json:"patientId"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	PaymentMode string          `json:"paymentMode"`
	ReceivedBy  string          `json:"receivedBy"`
}

// PatientInput is the request body of intake and update.
type PatientInput struct {
	Name          string              `json:"name"`
	GuardianName  string              `json:"guardianName"`
	Guardian      string              `json:"guardian"`
	Mobile        string              `json:"mobile"`
	AdmissionDate string              `json:"admissionDate"`
	AddictionType string              `json:"addictionType"`
	TotalFees     decimal.NullDecimal `json:"totalFees"`
	PaidAmount    decimal.NullDecimal `json:"paidAmount"`
	PickupType    string              `json:"pickupType"`
	Distance      json.RawMessage     `json:"distance"`
}

func (in *PatientInput) guardian() string {
	if in.GuardianName != "" {
		return in.GuardianName
	}
	return in.Guardian
}

// PaymentInput is the request body of a payment.
type PaymentInput struct {
	PatientID   string              `json:"patientId"`
	Amount      decimal.NullDecimal `json:"amount"`
	PaymentMode string              `json:"paymentMode"`
	ReceivedBy  string              `json:"receivedBy"`
}

// PaymentReceipt is the outcome of a successful payment.
type PaymentReceipt struct {
	PaymentID         string          `json:"paymentId"`
	UpdatedPaidAmount decimal.Decimal `json:"updatedPaidAmount"`
	RemainingBalance  decimal.Decimal `json:"remainingBalance"`
}

// Dashboard aggregates active patients.
type Dashboard struct {
	TotalPatients   int             `json:"totalPatients"`
	TotalCollection decimal.Decimal `json:"totalCollection"`
	TotalPending    decimal.Decimal `json:"totalPending"`
}

// Discrepancy kinds reported by Reconcile.
const (
	DiscrepancyBalanceMismatch    = "balance_mismatch"
	DiscrepancyPaidExceedsFees    = "paid_exceeds_fees"
	DiscrepancyPaymentsExceedPaid = "payments_exceed_paid"
	DiscrepancyUnrecordedPaid     = "unrecorded_paid"
	DiscrepancyOrphanPayment      = "orphan_payment"
)

// Discrepancy is one inconsistency between the two tables.
type Discrepancy struct {
	Kind      string          `json:"kind"`
	Severity  string          `json:"severity"`
	PatientID string          `json:"patientId,omitempty"`
	PaymentID string          `json:"paymentId,omitempty"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
	Detail    string          `json:"detail"`
}

const dateLayout = "2006-01-02"

// elapsed returns whole calendar months and the remaining days between the
// admission date and now. Unparseable or future dates yield zero.
func elapsed(admission string, now time.Time) (months, days int) {
	start, err := time.Parse(dateLayout, admission)
	if err != nil {
		return 0, 0
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if start.After(today) {
		return 0, 0
	}

	months = (today.Year()-start.Year())*12 + int(today.Month()-start.Month())
	anchor := start.AddDate(0, months, 0)
	for months > 0 && anchor.After(today) {
		months--
		anchor = start.AddDate(0, months, 0)
	}
	days = int(today.Sub(anchor).Hours() / 24)
	return months, days
}
