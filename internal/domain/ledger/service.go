package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nmk/rehab-ledger/internal/platform/websocket"
)

type Service struct {
	store  Store
	ids    IDSource
	mobile MobilePolicy
	logger zerolog.Logger
	feed   websocket.Publisher
	now    func() time.Time
}

// NewService wires the ledger rules to a store. A nil ids falls back to
// deriving identifiers from the tables.
func NewService(store Store, ids IDSource, mobile MobilePolicy, logger zerolog.Logger) *Service {
	if ids == nil {
		ids = LogIDSource{}
	}
	return &Service{
		store:  store,
		ids:    ids,
		mobile: mobile,
		logger: logger.With().Str("component", "ledger").Logger(),
		now:    time.Now,
	}
}

// transactional reports whether multi-step operations are atomic.
func (s *Service) transactional() bool {
	_, ok := s.store.(Transactor)
	return ok
}

// unit runs fn as one unit of work when the store supports it.
func (s *Service) unit(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := s.store.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx)
}

func (s *Service) logFailure(op string, err error) {
	var se *StoreError
	if !errors.As(err, &se) {
		return
	}
	s.logger.Error().Err(se.Err).Str("op", op).Str("store_op", se.Op).
		Bool("transient", se.Transient).Msg("ledger store failure")
}

func (s *Service) nextID(ctx context.Context, seq Sequence) (string, error) {
	existing, err := s.store.IDs(ctx, seq)
	if err != nil {
		return "", err
	}
	return s.ids.Next(ctx, seq, existing)
}

// -- Patients --

// CreatePatient validates an intake and appends it as a new Active patient.
func (s *Service) CreatePatient(ctx context.Context, in *PatientInput) (*Patient, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	mobile, err := s.mobile.Validate(in.Mobile)
	if err != nil {
		return nil, err
	}
	admission, err := validateDate(in.AdmissionDate)
	if err != nil {
		return nil, err
	}
	pickupType, distance, err := pickup(in.PickupType, in.Distance)
	if err != nil {
		return nil, err
	}
	if !in.TotalFees.Valid || in.TotalFees.Decimal.IsNegative() || !validAmount(in.TotalFees.Decimal) {
		return nil, ErrInvalidFees
	}
	paid := decimal.Zero
	if in.PaidAmount.Valid {
		paid = in.PaidAmount.Decimal
	}
	if paid.IsNegative() || !validAmount(paid) {
		return nil, ErrInvalidAmount
	}
	if paid.GreaterThan(in.TotalFees.Decimal) {
		return nil, ErrOverpayment
	}

	p := &Patient{
		Name:          name,
		GuardianName:  strings.TrimSpace(in.guardian()),
		Mobile:        mobile,
		AdmissionDate: admission,
		AddictionType: strings.TrimSpace(in.AddictionType),
		TotalFees:     in.TotalFees.Decimal,
		PaidAmount:    paid,
		Status:        StatusActive,
		PickupType:    pickupType,
		Distance:      distance,
	}
	p.recomputeBalance()

	err = s.unit(ctx, func(ctx context.Context) error {
		id, err := s.nextID(ctx, PatientSeq)
		if err != nil {
			return err
		}
		p.ID = id
		return s.store.InsertPatient(ctx, p)
	})
	if err != nil {
		s.logFailure("create patient", err)
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient admitted")
	s.notify(ctx, EventPatientCreated, p.ID, p)
	return p, nil
}

// GetPatient looks a patient up by id whatever its status.
func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrPatientIDRequired
	}
	p, err := s.store.FindPatient(ctx, id)
	if err != nil {
		s.logFailure("get patient", err)
		return nil, err
	}
	return p, nil
}

// ListPatients returns the visible patients with their time since admission.
func (s *Service) ListPatients(ctx context.Context) ([]PatientView, error) {
	all, err := s.store.ListPatients(ctx)
	if err != nil {
		s.logFailure("list patients", err)
		return nil, err
	}
	now := s.now()
	views := make([]PatientView, 0, len(all))
	for _, p := range all {
		if !IsVisible(p) {
			continue
		}
		months, days := elapsed(p.AdmissionDate, now)
		views = append(views, PatientView{Patient: p, Months: months, Days: days})
	}
	return views, nil
}

// UpdatePatient rewrites a patient's details. The paid amount always comes
// from the stored row; totalFees keeps its stored value when omitted.
func (s *Service) UpdatePatient(ctx context.Context, id string, in *PatientInput) (*Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrPatientIDRequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	mobile, err := s.mobile.Validate(in.Mobile)
	if err != nil {
		return nil, err
	}
	admission, err := validateDate(in.AdmissionDate)
	if err != nil {
		return nil, err
	}
	if in.TotalFees.Valid && (in.TotalFees.Decimal.IsNegative() || !validAmount(in.TotalFees.Decimal)) {
		return nil, ErrInvalidFees
	}

	var p *Patient
	err = s.unit(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.FindPatient(ctx, id)
		if err != nil {
			return err
		}
		fees := p.TotalFees
		if in.TotalFees.Valid {
			fees = in.TotalFees.Decimal
		}
		if fees.LessThan(p.PaidAmount) {
			return fmt.Errorf("%w: fees %s, paid %s", ErrInvalidFeeChange, fees, p.PaidAmount)
		}

		p.Name = name
		p.GuardianName = strings.TrimSpace(in.guardian())
		p.Mobile = mobile
		p.AdmissionDate = admission
		p.AddictionType = strings.TrimSpace(in.AddictionType)
		p.TotalFees = fees
		p.recomputeBalance()
		return s.store.UpdatePatient(ctx, p)
	})
	if err != nil {
		s.logFailure("update patient", err)
		return nil, err
	}
	s.notify(ctx, EventPatientUpdated, p.ID, p)
	return p, nil
}

// SoftDelete marks a patient Deleted. Payments are left alone.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrPatientIDRequired
	}
	err := s.unit(ctx, func(ctx context.Context) error {
		if _, err := s.store.FindPatient(ctx, id); err != nil {
			return err
		}
		return s.store.SetStatus(ctx, id, StatusDeleted)
	})
	if err != nil {
		s.logFailure("soft delete", err)
		return err
	}
	s.logger.Info().Str("patient_id", id).Msg("patient soft deleted")
	s.notify(ctx, EventPatientDeleted, id, map[string]string{"status": string(StatusDeleted)})
	return nil
}

// -- Payments --

// ApplyPayment adds amount to a patient's paid total and records a payment
// row dated today. On a store without transactions a failure after the
// patient row was written is returned as a *PartialPaymentError.
func (s *Service) ApplyPayment(ctx context.Context, in *PaymentInput) (*PaymentReceipt, error) {
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return nil, ErrPatientIDRequired
	}
	if !in.Amount.Valid || !in.Amount.Decimal.IsPositive() || !validAmount(in.Amount.Decimal) {
		return nil, ErrInvalidAmount
	}
	amount := in.Amount.Decimal

	stage := StageValidated
	var receipt *PaymentReceipt
	err := s.unit(ctx, func(ctx context.Context) error {
		p, err := s.store.FindPatient(ctx, patientID)
		if err != nil {
			return err
		}
		if !IsVisible(p) {
			return fmt.Errorf("%w: %s is %s", ErrPatientInactive, p.ID, p.Status)
		}
		paid := p.PaidAmount.Add(amount)
		if paid.GreaterThan(p.TotalFees) {
			return fmt.Errorf("%w: remaining balance is %s", ErrOverpayment, p.TotalFees.Sub(p.PaidAmount))
		}
		balance := p.TotalFees.Sub(paid)

		if err := s.store.UpdateLedger(ctx, p.ID, paid, balance); err != nil {
			return err
		}
		stage = StagePaidAmountUpdated

		payID, err := s.nextID(ctx, PaymentSeq)
		if err != nil {
			return err
		}
		pay := &Payment{
			ID:          payID,
			PatientID:   p.ID,
			Amount:      amount,
			Date:        s.now().UTC().Format(dateLayout),
			PaymentMode: strings.TrimSpace(in.PaymentMode),
			ReceivedBy:  strings.TrimSpace(in.ReceivedBy),
		}
		if err := s.store.AppendPayment(ctx, pay); err != nil {
			return err
		}
		stage = StagePaymentRecorded

		receipt = &PaymentReceipt{PaymentID: payID, UpdatedPaidAmount: paid, RemainingBalance: balance}
		return nil
	})
	if err != nil {
		if stage == StagePaidAmountUpdated && !s.transactional() {
			err = &PartialPaymentError{PatientID: patientID, Stage: stage, Err: err}
			s.logger.Error().Err(err).Str("patient_id", patientID).Str("stage", stage.String()).
				Msg("payment left partially applied")
		}
		s.logFailure("apply payment", err)
		return nil, err
	}
	s.logger.Info().Str("patient_id", patientID).Str("payment_id", receipt.PaymentID).
		Str("amount", amount.String()).Msg("payment recorded")
	s.notify(ctx, EventPaymentApplied, patientID, receipt)
	return receipt, nil
}

// ListPayments returns every payment, or those of one patient when
// patientID is set.
func (s *Service) ListPayments(ctx context.Context, patientID string) ([]*Payment, error) {
	all, err := s.store.ListPayments(ctx)
	if err != nil {
		s.logFailure("list payments", err)
		return nil, err
	}
	patientID = strings.TrimSpace(patientID)
	out := make([]*Payment, 0, len(all))
	for _, pay := range all {
		if patientID == "" || pay.PatientID == patientID {
			out = append(out, pay)
		}
	}
	return out, nil
}

// -- Aggregates --

// Dashboard sums the visible patients. Pending is derived from fees and paid
// so a stale balance cell cannot skew it.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	all, err := s.store.ListPatients(ctx)
	if err != nil {
		s.logFailure("dashboard", err)
		return nil, err
	}
	d := &Dashboard{TotalCollection: decimal.Zero, TotalPending: decimal.Zero}
	for _, p := range all {
		if !IsVisible(p) {
			continue
		}
		d.TotalPatients++
		d.TotalCollection = d.TotalCollection.Add(p.PaidAmount)
		d.TotalPending = d.TotalPending.Add(p.TotalFees.Sub(p.PaidAmount))
	}
	return d, nil
}

// Reconcile cross-checks both tables and reports every inconsistency. Deleted
// patients are included since their payments still count.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	var (
		patients []*Patient
		payments []*Payment
	)
	err := s.unit(ctx, func(ctx context.Context) error {
		var err error
		if patients, err = s.store.ListPatients(ctx); err != nil {
			return err
		}
		payments, err = s.store.ListPayments(ctx)
		return err
	})
	if err != nil {
		s.logFailure("reconcile", err)
		return nil, err
	}
	return reconcile(patients, payments), nil
}

func reconcile(patients []*Patient, payments []*Payment) []Discrepancy {
	sums := make(map[string]decimal.Decimal, len(patients))
	known := make(map[string]bool, len(patients))
	for _, p := range patients {
		known[p.ID] = true
	}

	out := []Discrepancy{}
	for _, pay := range payments {
		if !known[pay.PatientID] {
			out = append(out, Discrepancy{
				Kind: DiscrepancyOrphanPayment, Severity: "error",
				PatientID: pay.PatientID, PaymentID: pay.ID,
				Expected: decimal.Zero, Actual: pay.Amount,
				Detail: "payment references an unknown patient",
			})
			continue
		}
		sums[pay.PatientID] = sums[pay.PatientID].Add(pay.Amount)
	}

	for _, p := range patients {
		want := p.TotalFees.Sub(p.PaidAmount)
		if !p.Balance.Equal(want) {
			out = append(out, Discrepancy{
				Kind: DiscrepancyBalanceMismatch, Severity: "error", PatientID: p.ID,
				Expected: want, Actual: p.Balance,
				Detail: "balance differs from totalFees - paidAmount",
			})
		}
		if p.PaidAmount.GreaterThan(p.TotalFees) {
			out = append(out, Discrepancy{
				Kind: DiscrepancyPaidExceedsFees, Severity: "error", PatientID: p.ID,
				Expected: p.TotalFees, Actual: p.PaidAmount,
				Detail: "paidAmount exceeds totalFees",
			})
		}
		sum := sums[p.ID]
		switch {
		case sum.GreaterThan(p.PaidAmount):
			out = append(out, Discrepancy{
				Kind: DiscrepancyPaymentsExceedPaid, Severity: "error", PatientID: p.ID,
				Expected: p.PaidAmount, Actual: sum,
				Detail: "recorded payments exceed paidAmount",
			})
		case sum.LessThan(p.PaidAmount):
			out = append(out, Discrepancy{
				Kind: DiscrepancyUnrecordedPaid, Severity: "info", PatientID: p.ID,
				Expected: p.PaidAmount, Actual: sum,
				Detail: "part of paidAmount has no payment rows, e.g. paid at intake",
			})
		}
	}
	return out
}

// Ping checks that the store is reachable, and the identifier source too
// when it depends on a remote counter.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := s.ids.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
