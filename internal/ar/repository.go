package ar

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists payment applications in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePayment inserts a payment application.
func (r *Repository) CreatePayment(ctx context.Context, input PaymentInput) (*PaymentApplication, error) {
	if r == nil {
		return nil, errors.New("ar repository not initialised")
	}
	var payment PaymentApplication
	err := r.pool.QueryRow(ctx, `INSERT INTO payment_applications (receipt_no, invoice_ref, amount, method, note, excluded, paid_at, created_at)
VALUES ($1,$2,$3,$4,$5,false,$6,NOW())
RETURNING id, receipt_no, invoice_ref, amount, method, note, excluded, paid_at, created_at`,
		input.ReceiptNo, input.InvoiceRef, input.Amount, input.Method, input.Note, input.PaidAt).
		Scan(&payment.ID, &payment.ReceiptNo, &payment.InvoiceRef, &payment.Amount, &payment.Method, &payment.Note, &payment.Excluded, &payment.PaidAt, &payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SumPayments totals non-excluded applications for an invoice reference.
func (r *Repository) SumPayments(ctx context.Context, invoiceRef string) (float64, error) {
	if r == nil {
		return 0, errors.New("ar repository not initialised")
	}
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payment_applications WHERE invoice_ref=$1 AND NOT excluded`, invoiceRef).Scan(&total)
	return total, err
}

// ExcludeReceipt flags every application under the receipt as excluded.
func (r *Repository) ExcludeReceipt(ctx context.Context, receiptNo string) (int64, error) {
	if r == nil {
		return 0, errors.New("ar repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE payment_applications SET excluded=true WHERE receipt_no=$1 AND NOT excluded`, receiptNo)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPayments lists applications for an invoice, excluded rows included.
func (r *Repository) ListPayments(ctx context.Context, invoiceRef string) ([]PaymentApplication, error) {
	if r == nil {
		return nil, errors.New("ar repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, receipt_no, invoice_ref, amount, method, note, excluded, paid_at, created_at
FROM payment_applications WHERE invoice_ref=$1 ORDER BY paid_at, id`, invoiceRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []PaymentApplication{}
	for rows.Next() {
		var p PaymentApplication
		if err := rows.Scan(&p.ID, &p.ReceiptNo, &p.InvoiceRef, &p.Amount, &p.Method, &p.Note, &p.Excluded, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
