package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the system of record for patients and payments.
type Store interface {
	// ListPatients returns every patient row, deleted ones included, in
	// table order.
	ListPatients(ctx context.Context) ([]*Patient, error)
	// FindPatient looks a patient up by id regardless of status.
	FindPatient(ctx context.Context, id string) (*Patient, error)
	InsertPatient(ctx context.Context, p *Patient) error
	// UpdatePatient rewrites the identity, contact and fee columns of p.
	// Status, pickup type and distance are left untouched.
	UpdatePatient(ctx context.Context, p *Patient) error
	// UpdateLedger writes the paid amount and balance of one patient.
	UpdateLedger(ctx context.Context, id string, paid, balance decimal.Decimal) error
	SetStatus(ctx context.Context, id string, status Status) error

	ListPayments(ctx context.Context) ([]*Payment, error)
	AppendPayment(ctx context.Context, pay *Payment) error

	// IDs returns the identifiers of seq in table order.
	IDs(ctx context.Context, seq Sequence) ([]string, error)
	Ping(ctx context.Context) error
}

// Transactor is implemented by stores that can run several calls as one
// unit of work. Store calls made with the ctx passed to fn join it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
