package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists billing documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	UpsertDocument(ctx context.Context, doc Document) (int64, error)
	ReplaceLines(ctx context.Context, documentID int64, lines []Line) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const documentColumns = `id, ref_no, doc_type, customer_code, doc_date, tax_rate, header_discount, gross, tax, grand, net, debit, credit, order_refs, created_by, created_at, updated_at`

func (r *Repository) GetDocumentByRef(ctx context.Context, refNo string) (Document, error) {
	if r == nil {
		return Document{}, errors.New("billing repository not initialised")
	}
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE ref_no=$1`, refNo))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = r.getLines(ctx, doc.ID)
	return doc, err
}

func (r *Repository) GetDocumentByID(ctx context.Context, id int64) (Document, error) {
	if r == nil {
		return Document{}, errors.New("billing repository not initialised")
	}
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = r.getLines(ctx, doc.ID)
	return doc, err
}

// ListInvoices returns invoice-type documents, newest first.
func (r *Repository) ListInvoices(ctx context.Context) ([]Document, error) {
	if r == nil {
		return nil, errors.New("billing repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE doc_type=$1 ORDER BY doc_date DESC, id DESC`, string(TypeInvoice))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *Repository) getLines(ctx context.Context, documentID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, item_code, qty, unit_price, is_return, amount FROM document_lines WHERE document_id=$1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ItemCode, &l.Qty, &l.UnitPrice, &l.IsReturn, &l.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetLink loads the link for a credit note.
func (r *Repository) GetLink(ctx context.Context, creditNoteID int64) (CreditNoteLink, error) {
	if r == nil {
		return CreditNoteLink{}, errors.New("billing repository not initialised")
	}
	var link CreditNoteLink
	err := r.pool.QueryRow(ctx, `SELECT credit_note_id, invoice_id, linked_at FROM credit_note_links WHERE credit_note_id=$1`, creditNoteID).
		Scan(&link.CreditNoteID, &link.InvoiceID, &link.LinkedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditNoteLink{}, shared.ErrNotFound
		}
		return CreditNoteLink{}, err
	}
	return link, nil
}

// UpsertLink creates or repoints the link; credit_note_id is the unique key.
func (r *Repository) UpsertLink(ctx context.Context, link CreditNoteLink) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO credit_note_links (credit_note_id, invoice_id, linked_at)
VALUES ($1,$2,NOW())
ON CONFLICT (credit_note_id) DO UPDATE SET invoice_id=EXCLUDED.invoice_id, linked_at=NOW()`, link.CreditNoteID, link.InvoiceID)
	return err
}

// SumLinkedNet sums the net of credit notes linked to an invoice.
func (r *Repository) SumLinkedNet(ctx context.Context, invoiceID int64) (float64, error) {
	if r == nil {
		return 0, errors.New("billing repository not initialised")
	}
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(d.net), 0)
FROM credit_note_links l
JOIN documents d ON d.id = l.credit_note_id
WHERE l.invoice_id=$1`, invoiceID).Scan(&total)
	return total, err
}

// ListLinkedCreditNotes lists credit notes linked to an invoice.
func (r *Repository) ListLinkedCreditNotes(ctx context.Context, invoiceID int64) ([]Document, error) {
	if r == nil {
		return nil, errors.New("billing repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT d.id, d.ref_no, d.doc_type, d.customer_code, d.doc_date, d.tax_rate, d.header_discount, d.gross, d.tax, d.grand, d.net, d.debit, d.credit, d.order_refs, d.created_by, d.created_at, d.updated_at
FROM credit_note_links l
JOIN documents d ON d.id = l.credit_note_id
WHERE l.invoice_id=$1
ORDER BY d.doc_date, d.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *txRepository) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO documents (ref_no, doc_type, customer_code, doc_date, tax_rate, header_discount, gross, tax, grand, net, debit, credit, order_refs, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
ON CONFLICT (ref_no) DO UPDATE SET
  customer_code=EXCLUDED.customer_code, doc_date=EXCLUDED.doc_date,
  tax_rate=EXCLUDED.tax_rate, header_discount=EXCLUDED.header_discount,
  gross=EXCLUDED.gross, tax=EXCLUDED.tax, grand=EXCLUDED.grand, net=EXCLUDED.net,
  debit=EXCLUDED.debit, credit=EXCLUDED.credit, order_refs=EXCLUDED.order_refs, updated_at=NOW()
RETURNING id`,
		doc.RefNo, string(doc.Type), doc.CustomerCode, doc.Date, doc.TaxRate, doc.HeaderDiscount,
		doc.Gross, doc.Tax, doc.Grand, doc.Net, doc.Debit, doc.Credit, doc.OrderRefs, nullInt(doc.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) ReplaceLines(ctx context.Context, documentID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO document_lines (document_id, item_code, qty, unit_price, is_return, amount)
VALUES ($1,$2,$3,$4,$5,$6)`, documentID, line.ItemCode, line.Qty, line.UnitPrice, line.IsReturn, line.Amount); err != nil {
			return err
		}
	}
	return nil
}

type docScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row docScanner) (Document, error) {
	var doc Document
	var createdBy *int64
	err := row.Scan(&doc.ID, &doc.RefNo, &doc.Type, &doc.CustomerCode, &doc.Date, &doc.TaxRate, &doc.HeaderDiscount,
		&doc.Gross, &doc.Tax, &doc.Grand, &doc.Net, &doc.Debit, &doc.Credit, &doc.OrderRefs, &createdBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.ErrNotFound
		}
		return Document{}, err
	}
	if createdBy != nil {
		doc.CreatedBy = *createdBy
	}
	return doc, nil
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
