package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const billCols = `id, patient_ref, doctor_ref, appointment_ref, patient_snapshot, doctor_snapshot,
	status, consultation_fee, hospital_charges, items, tax_rate, discount, discount_reason,
	totals, payments, bill_date, due_date, notes,
	finalized_at, finalized_by, cancelled_at, cancelled_by, cancel_reason, paid_at,
	version, created_at, updated_at`

func (r *billRepoPG) scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.PatientRef, &b.DoctorRef, &b.AppointmentRef, &b.Patient, &b.Doctor,
		&b.Status, &b.ConsultationFee, &b.HospitalCharges, &b.Items, &b.TaxRate, &b.Discount, &b.DiscountReason,
		&b.Totals, &b.Payments, &b.BillDate, &b.DueDate, &b.Notes,
		&b.FinalizedAt, &b.FinalizedBy, &b.CancelledAt, &b.CancelledBy, &b.CancelReason, &b.PaidAt,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	if err := b.CheckTotals(); err != nil {
		return fmt.Errorf("create bill: %w", err)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill (id, patient_ref, doctor_ref, appointment_ref, patient_snapshot, doctor_snapshot,
			status, consultation_fee, hospital_charges, items, tax_rate, discount, discount_reason,
			totals, subtotal, total_amount, paid_amount, balance_amount, payments,
			bill_date, due_date, notes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		b.ID, b.PatientRef, b.DoctorRef, b.AppointmentRef, b.Patient, b.Doctor,
		b.Status, b.ConsultationFee, b.HospitalCharges, b.Items, b.TaxRate, b.Discount, b.DiscountReason,
		b.Totals, b.Subtotal, b.TotalAmount, b.PaidAmount, b.BalanceAmount, b.Payments,
		b.BillDate, b.DueDate, b.Notes, b.Version,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && b.AppointmentRef != nil {
			return ErrDuplicateAppointment
		}
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func (r *billRepoPG) get(ctx context.Context, where string, arg interface{}) (*Bill, error) {
	b, err := r.scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &Error{Kind: ErrNotFound, Message: fmt.Sprintf("bill %v not found", arg)}
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *billRepoPG) GetByAppointment(ctx context.Context, appointmentRef string) (*Bill, error) {
	return r.get(ctx, "appointment_ref = $1", appointmentRef)
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	if err := b.CheckTotals(); err != nil {
		return fmt.Errorf("update bill %s: %w", b.ID, err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bill SET status=$3, doctor_ref=$4, consultation_fee=$5, hospital_charges=$6, items=$7,
			tax_rate=$8, discount=$9, discount_reason=$10,
			totals=$11, subtotal=$12, total_amount=$13, paid_amount=$14, balance_amount=$15, payments=$16,
			due_date=$17, notes=$18, finalized_at=$19, finalized_by=$20,
			cancelled_at=$21, cancelled_by=$22, cancel_reason=$23, paid_at=$24,
			version = version + 1, updated_at = $25
		WHERE id = $1 AND version = $2`,
		b.ID, b.Version, b.Status, b.DoctorRef, b.ConsultationFee, b.HospitalCharges, b.Items,
		b.TaxRate, b.Discount, b.DiscountReason,
		b.Totals, b.Subtotal, b.TotalAmount, b.PaidAmount, b.BalanceAmount, b.Payments,
		b.DueDate, b.Notes, b.FinalizedAt, b.FinalizedBy,
		b.CancelledAt, b.CancelledBy, b.CancelReason, b.PaidAt,
		b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update bill %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var current int
		err := r.conn(ctx).QueryRow(ctx, `SELECT version FROM bill WHERE id = $1`, b.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundError(b.ID)
		}
		if err != nil {
			return fmt.Errorf("read bill version: %w", err)
		}
		return conflictError(current)
	}
	b.Version++
	return nil
}

func buildWhere(f ListFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	idx := 1
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.PatientRef != "" {
		clauses = append(clauses, fmt.Sprintf("patient_ref = $%d", idx))
		args = append(args, f.PatientRef)
		idx++
	}
	if f.DoctorRef != "" {
		clauses = append(clauses, fmt.Sprintf("doctor_ref = $%d", idx))
		args = append(args, f.DoctorRef)
	}
	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

func (r *billRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	where, args := buildWhere(f)
	var total int
	items := []*Bill{}
	err := db.ReadSnapshot(ctx, func(ctx context.Context) error {
		if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bill WHERE `+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count bills: %w", err)
		}
		n := len(args)
		query := fmt.Sprintf(`SELECT %s FROM bill WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, billCols, where, n+1, n+2)
		rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return fmt.Errorf("list bills: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			b, err := r.scanBill(rows)
			if err != nil {
				return err
			}
			items = append(items, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *billRepoPG) ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]*Bill, error) {
	query := `SELECT ` + billCols + ` FROM bill
		WHERE status IN ('pending', 'finalized', 'partial')
		  AND due_date IS NOT NULL AND due_date < $1 AND balance_amount > 0
		ORDER BY due_date`
	args := []interface{}{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overdue candidates: %w", err)
	}
	defer rows.Close()
	var out []*Bill
	for rows.Next() {
		b, err := r.scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
