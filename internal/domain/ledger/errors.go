package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidMobile       = errors.New("invalid mobile number")
	ErrInvalidDistance     = errors.New("distance must be a positive whole number of km for pickup")
	ErrInvalidPickupType   = errors.New("pickup type must be Self or Pickup")
	ErrInvalidAmount       = errors.New("invalid payment amount")
	ErrInvalidFees         = errors.New("total fees must be a non-negative amount")
	ErrInvalidDate         = errors.New("admission date must be YYYY-MM-DD")
	ErrNameRequired        = errors.New("name is required")
	ErrPatientIDRequired   = errors.New("patient id is required")
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrNotFound            = errors.New("patient not found")
	ErrPatientInactive     = errors.New("patient is not active")
	ErrOverpayment         = errors.New("payment exceeds total fees")
	ErrInvalidFeeChange    = errors.New("total fees cannot be less than the amount already paid")
)

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	KindStore Kind = iota
	KindValidation
	KindNotFound
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	default:
		return "store"
	}
}

var validationErrors = []error{
	ErrInvalidMobile, ErrInvalidDistance, ErrInvalidPickupType, ErrInvalidAmount,
	ErrInvalidFees, ErrInvalidDate, ErrNameRequired, ErrPatientIDRequired,
}

var invariantErrors = []error{ErrPatientInactive, ErrOverpayment, ErrInvalidFeeChange}

// KindOf returns the kind of err. Anything unrecognised is a store failure.
func KindOf(err error) Kind {
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	for _, e := range validationErrors {
		if errors.Is(err, e) {
			return KindValidation
		}
	}
	for _, e := range invariantErrors {
		if errors.Is(err, e) {
			return KindInvariant
		}
	}
	return KindStore
}

// StoreError is a failure of the underlying table store.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeErr wraps err as a *StoreError unless it already is one or carries a
// domain sentinel.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || KindOf(err) != KindStore {
		return err
	}
	return &StoreError{Op: op, Transient: isTransient(err), Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// Stage is how far a payment got before it stopped.
type Stage int

const (
	StageValidated Stage = iota
	StagePaidAmountUpdated
	StagePaymentRecorded
)

func (s Stage) String() string {
	switch s {
	case StagePaidAmountUpdated:
		return "PaidAmountUpdated"
	case StagePaymentRecorded:
		return "PaymentRecorded"
	default:
		return "Validated"
	}
}

// PartialPaymentError reports a payment whose patient row was updated but
// whose payment row was not written, on a store without transactions.
type PartialPaymentError struct {
	PatientID string
	Stage     Stage
	Err       error
}

func (e *PartialPaymentError) Error() string {
	return fmt.Sprintf("payment for %s stopped after %s: %v", e.PatientID, e.Stage, e.Err)
}

func (e *PartialPaymentError) Unwrap() error {
	return e.Err
}
