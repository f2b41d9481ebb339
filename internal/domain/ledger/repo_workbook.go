package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nmk/rehab-ledger/internal/platform/workbook"
)

const (
	PatientsSheet = "Patients"
	PaymentsSheet = "Payments"
)

// Patients sheet columns, zero-based.
const (
	colID = iota
	colName
	colGuardian
	colMobile
	colAdmissionDate
	colAddictionType
	colTotalFees
	colPaidAmount
	colBalance
	colStatus
	colPickupType
	colDistance
)

// Payments sheet columns, zero-based.
const (
	colPaymentID = iota
	colPaymentPatientID
	colAmount
	colDate
	colPaymentMode
	colReceivedBy
)

// Sheets is the layout of a ledger workbook.
var Sheets = map[string][]string{
	PatientsSheet: {"ID", "Name", "Guardian", "Mobile", "AdmissionDate", "AddictionType",
		"TotalFees", "PaidAmount", "Balance", "Status", "PickupType", "Distance"},
	PaymentsSheet: {"PaymentID", "PatientID", "Amount", "Date", "PaymentMode", "ReceivedBy"},
}

type sessionKey struct{}

// WorkbookStore keeps the ledger in an .xlsx workbook.
type WorkbookStore struct {
	wb *workbook.Workbook
}

// OpenWorkbookStore opens (or creates) the workbook at path.
func OpenWorkbookStore(path string) (*WorkbookStore, error) {
	wb, err := workbook.Open(path, Sheets)
	if err != nil {
		return nil, err
	}
	return newWorkbookStore(wb), nil
}

func newWorkbookStore(wb *workbook.Workbook) *WorkbookStore {
	return &WorkbookStore{wb: wb}
}

// Close releases the workbook file.
func (r *WorkbookStore) Close() error {
	return r.wb.Close()
}

// InTx runs fn inside one locked session that is saved once at the end, or
// discarded when fn fails.
func (r *WorkbookStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sessionKey{}).(*workbook.Session); ok {
		return fn(ctx)
	}
	return r.wb.Update(ctx, func(s *workbook.Session) error {
		return fn(context.WithValue(ctx, sessionKey{}, s))
	})
}

// read runs fn on the session of the surrounding unit of work, or on a fresh
// read-only one.
func (r *WorkbookStore) read(ctx context.Context, fn func(s *workbook.Session) error) error {
	if s, ok := ctx.Value(sessionKey{}).(*workbook.Session); ok {
		return fn(s)
	}
	return r.wb.View(ctx, fn)
}

func (r *WorkbookStore) write(ctx context.Context, fn func(s *workbook.Session) error) error {
	if s, ok := ctx.Value(sessionKey{}).(*workbook.Session); ok {
		return fn(s)
	}
	return r.wb.Update(ctx, fn)
}

func (r *WorkbookStore) ListPatients(ctx context.Context) ([]*Patient, error) {
	var out []*Patient
	err := r.read(ctx, func(s *workbook.Session) error {
		rows, err := s.Rows(PatientsSheet)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if strings.TrimSpace(row[colID]) == "" {
				continue
			}
			out = append(out, patientFromRow(row))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("list patients", err)
	}
	return out, nil
}

// locate returns the sheet row number holding patient id.
func locate(s *workbook.Session, id string) (int, []string, error) {
	rows, err := s.Rows(PatientsSheet)
	if err != nil {
		return 0, nil, err
	}
	for i, row := range rows {
		if strings.TrimSpace(row[colID]) == id {
			return i + 2, row, nil
		}
	}
	return 0, nil, ErrNotFound
}

func (r *WorkbookStore) FindPatient(ctx context.Context, id string) (*Patient, error) {
	var p *Patient
	err := r.read(ctx, func(s *workbook.Session) error {
		_, row, err := locate(s, id)
		if err != nil {
			return err
		}
		p = patientFromRow(row)
		return nil
	})
	if err != nil {
		return nil, storeErr("find patient", err)
	}
	return p, nil
}

func (r *WorkbookStore) InsertPatient(ctx context.Context, p *Patient) error {
	err := r.write(ctx, func(s *workbook.Session) error {
		_, err := s.AppendRow(PatientsSheet, patientRow(p))
		return err
	})
	return storeErr("insert patient", err)
}

func (r *WorkbookStore) UpdatePatient(ctx context.Context, p *Patient) error {
	err := r.write(ctx, func(s *workbook.Session) error {
		rowNum, _, err := locate(s, p.ID)
		if err != nil {
			return err
		}
		return s.WriteRow(PatientsSheet, rowNum, patientRow(p)[:colStatus])
	})
	return storeErr("update patient", err)
}

func (r *WorkbookStore) UpdateLedger(ctx context.Context, id string, paid, balance decimal.Decimal) error {
	err := r.write(ctx, func(s *workbook.Session) error {
		rowNum, _, err := locate(s, id)
		if err != nil {
			return err
		}
		if err := s.WriteCell(PatientsSheet, rowNum, colPaidAmount, cellAmount(paid)); err != nil {
			return err
		}
		return s.WriteCell(PatientsSheet, rowNum, colBalance, cellAmount(balance))
	})
	return storeErr("update paid amount", err)
}

func (r *WorkbookStore) SetStatus(ctx context.Context, id string, status Status) error {
	err := r.write(ctx, func(s *workbook.Session) error {
		rowNum, _, err := locate(s, id)
		if err != nil {
			return err
		}
		return s.WriteCell(PatientsSheet, rowNum, colStatus, string(status))
	})
	return storeErr("set patient status", err)
}

func (r *WorkbookStore) ListPayments(ctx context.Context) ([]*Payment, error) {
	var out []*Payment
	err := r.read(ctx, func(s *workbook.Session) error {
		rows, err := s.Rows(PaymentsSheet)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if strings.TrimSpace(row[colPaymentID]) == "" {
				continue
			}
			out = append(out, &Payment{
				ID:          strings.TrimSpace(row[colPaymentID]),
				PatientID:   strings.TrimSpace(row[colPaymentPatientID]),
				Amount:      parseAmount(row[colAmount]),
				Date:        row[colDate],
				PaymentMode: row[colPaymentMode],
				ReceivedBy:  row[colReceivedBy],
			})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("list payments", err)
	}
	return out, nil
}

func (r *WorkbookStore) AppendPayment(ctx context.Context, pay *Payment) error {
	err := r.write(ctx, func(s *workbook.Session) error {
		_, err := s.AppendRow(PaymentsSheet, []interface{}{
			pay.ID, pay.PatientID, cellAmount(pay.Amount), pay.Date, pay.PaymentMode, pay.ReceivedBy,
		})
		return err
	})
	return storeErr("append payment", err)
}

func (r *WorkbookStore) IDs(ctx context.Context, seq Sequence) ([]string, error) {
	sheet := PatientsSheet
	if seq == PaymentSeq {
		sheet = PaymentsSheet
	}
	var ids []string
	err := r.read(ctx, func(s *workbook.Session) error {
		col, err := s.Column(sheet, 0)
		ids = col
		return err
	})
	if err != nil {
		return nil, storeErr("read "+seq.Name+" ids", err)
	}
	return ids, nil
}

// Ping reads the patient sheet header to prove the workbook is usable.
func (r *WorkbookStore) Ping(ctx context.Context) error {
	err := r.read(ctx, func(s *workbook.Session) error {
		_, err := s.Column(PatientsSheet, colID)
		return err
	})
	return storeErr("ping workbook", err)
}

func patientFromRow(row []string) *Patient {
	p := &Patient{
		ID:            strings.TrimSpace(row[colID]),
		Name:          row[colName],
		GuardianName:  row[colGuardian],
		Mobile:        strings.TrimSpace(row[colMobile]),
		AdmissionDate: strings.TrimSpace(row[colAdmissionDate]),
		AddictionType: row[colAddictionType],
		TotalFees:     parseAmount(row[colTotalFees]),
		PaidAmount:    parseAmount(row[colPaidAmount]),
		Balance:       parseAmount(row[colBalance]),
		Status:        parseStatusCell(row[colStatus]),
		PickupType:    parsePickupCell(row[colPickupType]),
	}
	if p.PickupType == PickupPickup {
		if d, err := strconv.Atoi(strings.TrimSpace(row[colDistance])); err == nil && d > 0 {
			p.Distance = &d
		}
	}
	return p
}

func patientRow(p *Patient) []interface{} {
	var distance interface{} = ""
	if p.Distance != nil {
		distance = *p.Distance
	}
	return []interface{}{
		p.ID, p.Name, p.GuardianName, p.Mobile, p.AdmissionDate, p.AddictionType,
		cellAmount(p.TotalFees), cellAmount(p.PaidAmount), cellAmount(p.Balance),
		string(p.Status), string(p.PickupType), distance,
	}
}

// parseAmount reads a monetary cell. Blank or unparseable cells are zero.
func parseAmount(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// cellAmount keeps amounts within the column bound numeric in the sheet,
// as integers or as floats that read back equal. Anything else is written as
// its exact decimal string.
func cellAmount(d decimal.Decimal) interface{} {
	if d.Abs().LessThan(maxAmount) {
		if d.IsInteger() {
			return d.IntPart()
		}
		if f := d.InexactFloat64(); decimal.NewFromFloat(f).Equal(d) {
			return f
		}
	}
	return d.String()
}

func (r *WorkbookStore) String() string {
	return fmt.Sprintf("workbook(%s)", r.wb.Path())
}
