package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nmk/rehab-ledger/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGStore keeps the ledger in Postgres. It is also an IDSource backed by
// database sequences.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (r *PGStore) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// InTx runs fn in one transaction.
func (r *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

const patientCols = `display_id, name, guardian_name, mobile,
	COALESCE(to_char(admission_date, 'YYYY-MM-DD'), ''), addiction_type,
	total_fees::text, paid_amount::text, balance::text, status, pickup_type, distance_km`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p                   Patient
		fees, paid, balance string
		status, pickupType  string
		distance            *int32
	)
	err := row.Scan(&p.ID, &p.Name, &p.GuardianName, &p.Mobile, &p.AdmissionDate, &p.AddictionType,
		&fees, &paid, &balance, &status, &pickupType, &distance)
	if err != nil {
		return nil, err
	}
	p.TotalFees = parseAmount(fees)
	p.PaidAmount = parseAmount(paid)
	p.Balance = parseAmount(balance)
	p.Status = parseStatusCell(status)
	p.PickupType = parsePickupCell(pickupType)
	if distance != nil && p.PickupType == PickupPickup {
		d := int(*distance)
		p.Distance = &d
	}
	return &p, nil
}

func (r *PGStore) ListPatients(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY row_no`)
	if err != nil {
		return nil, storeErr("list patients", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, storeErr("scan patient", err)
		}
		out = append(out, p)
	}
	return out, storeErr("list patients", rows.Err())
}

// FindPatient locks the row when called inside a transaction.
func (r *PGStore) FindPatient(ctx context.Context, id string) (*Patient, error) {
	q := `SELECT ` + patientCols + ` FROM patient WHERE display_id = $1`
	if db.TxFromContext(ctx) != nil {
		q += ` FOR UPDATE`
	}
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find patient", err)
	}
	return p, nil
}

func nullableDate(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableDistance(d *int) interface{} {
	if d == nil {
		return nil
	}
	return int32(*d)
}

func (r *PGStore) InsertPatient(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			uid, display_id, name, guardian_name, mobile, admission_date, addiction_type,
			total_fees, paid_amount, balance, status, pickup_type, distance_km
		) VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12,$13)`,
		uuid.New(), p.ID, p.Name, p.GuardianName, p.Mobile, nullableDate(p.AdmissionDate), p.AddictionType,
		p.TotalFees.String(), p.PaidAmount.String(), p.Balance.String(),
		string(p.Status), string(p.PickupType), nullableDistance(p.Distance),
	)
	return storeErr("insert patient", err)
}

func (r *PGStore) exec(ctx context.Context, op, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGStore) UpdatePatient(ctx context.Context, p *Patient) error {
	return r.exec(ctx, "update patient", `
		UPDATE patient SET
			name = $2, guardian_name = $3, mobile = $4, admission_date = $5::date, addiction_type = $6,
			total_fees = $7::numeric, paid_amount = $8::numeric, balance = $9::numeric, updated_at = NOW()
		WHERE display_id = $1`,
		p.ID, p.Name, p.GuardianName, p.Mobile, nullableDate(p.AdmissionDate), p.AddictionType,
		p.TotalFees.String(), p.PaidAmount.String(), p.Balance.String(),
	)
}

func (r *PGStore) UpdateLedger(ctx context.Context, id string, paid, balance decimal.Decimal) error {
	return r.exec(ctx, "update paid amount", `
		UPDATE patient SET paid_amount = $2::numeric, balance = $3::numeric, updated_at = NOW()
		WHERE display_id = $1`,
		id, paid.String(), balance.String(),
	)
}

func (r *PGStore) SetStatus(ctx context.Context, id string, status Status) error {
	return r.exec(ctx, "set patient status",
		`UPDATE patient SET status = $2, updated_at = NOW() WHERE display_id = $1`,
		id, string(status),
	)
}

func (r *PGStore) ListPayments(ctx context.Context) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT display_id, patient_id, amount::text, to_char(paid_on, 'YYYY-MM-DD'), payment_mode, received_by
		FROM payment ORDER BY row_no`)
	if err != nil {
		return nil, storeErr("list payments", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var pay Payment
		var amount string
		if err := rows.Scan(&pay.ID, &pay.PatientID, &amount, &pay.Date, &pay.PaymentMode, &pay.ReceivedBy); err != nil {
			return nil, storeErr("scan payment", err)
		}
		pay.Amount = parseAmount(amount)
		out = append(out, &pay)
	}
	return out, storeErr("list payments", rows.Err())
}

func (r *PGStore) AppendPayment(ctx context.Context, pay *Payment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment (uid, display_id, patient_id, amount, paid_on, payment_mode, received_by)
		VALUES ($1, $2, $3, $4::numeric, $5::date, $6, $7)`,
		uuid.New(), pay.ID, pay.PatientID, pay.Amount.String(), pay.Date, pay.PaymentMode, pay.ReceivedBy,
	)
	return storeErr("append payment", err)
}

func table(seq Sequence) (tbl, sequence string) {
	if seq == PaymentSeq {
		return "payment", "payment_display_seq"
	}
	return "patient", "patient_display_seq"
}

func (r *PGStore) IDs(ctx context.Context, seq Sequence) ([]string, error) {
	tbl, _ := table(seq)
	rows, err := r.conn(ctx).Query(ctx, `SELECT display_id FROM `+tbl+` ORDER BY row_no`)
	if err != nil {
		return nil, storeErr("read "+seq.Name+" ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("read "+seq.Name+" ids", err)
	}
	return ids, nil
}

// Next draws from the sequence's Postgres sequence, first lifting it past the
// last identifier in the table so imported rows are never reissued.
func (r *PGStore) Next(ctx context.Context, seq Sequence, existing []string) (string, error) {
	floor, err := seq.Last(existing)
	if err != nil {
		return "", err
	}
	_, sequence := table(seq)

	var n int64
	err = r.conn(ctx).QueryRow(ctx, `SELECT nextval('`+sequence+`')`).Scan(&n)
	if err != nil {
		return "", storeErr("allocate "+seq.Name+" id", err)
	}
	if n <= floor {
		err = r.conn(ctx).QueryRow(ctx, `SELECT setval('`+sequence+`', $1)`, floor+1).Scan(&n)
		if err != nil {
			return "", storeErr("allocate "+seq.Name+" id", err)
		}
	}
	return seq.Format(n), nil
}

func (r *PGStore) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return storeErr("ping database", err)
	}
	return nil
}

func (r *PGStore) String() string {
	return fmt.Sprintf("postgres(max_conns=%d)", r.pool.Config().MaxConns)
}
