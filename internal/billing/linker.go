package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LinkRepositoryPort abstracts link persistence for the linker.
type LinkRepositoryPort interface {
	GetDocumentByRef(ctx context.Context, refNo string) (Document, error)
	GetDocumentByID(ctx context.Context, id int64) (Document, error)
	GetLink(ctx context.Context, creditNoteID int64) (CreditNoteLink, error)
	UpsertLink(ctx context.Context, link CreditNoteLink) error
	SumLinkedNet(ctx context.Context, invoiceID int64) (float64, error)
	ListLinkedCreditNotes(ctx context.Context, invoiceID int64) ([]Document, error)
}

// Linker maintains the credit-note to invoice relation and derives the
// invoice's post-credit-note monetary view.
type Linker struct {
	repo  LinkRepositoryPort
	audit AuditPort
}

// NewLinker builds Linker.
func NewLinker(repo LinkRepositoryPort, audit AuditPort) *Linker {
	return &Linker{repo: repo, audit: audit}
}

// Link points the credit note at the invoice. Re-linking repoints the
// existing record; there is never more than one link per credit note.
func (l *Linker) Link(ctx context.Context, creditNoteID int64, invoiceRef string) (LinkResult, error) {
	if creditNoteID == 0 {
		return LinkResult{}, shared.NewValidationError("credit_note_id", "required")
	}
	if invoiceRef == "" {
		return LinkResult{}, shared.NewValidationError("invoice_ref", "required")
	}
	invoice, err := l.repo.GetDocumentByRef(ctx, invoiceRef)
	if err != nil {
		return LinkResult{}, fmt.Errorf("resolve invoice %s: %w", invoiceRef, err)
	}
	if invoice.Type != TypeInvoice {
		return LinkResult{}, fmt.Errorf("resolve invoice %s: %w", invoiceRef, shared.ErrNotFound)
	}
	creditNote, err := l.repo.GetDocumentByID(ctx, creditNoteID)
	if err != nil {
		return LinkResult{}, fmt.Errorf("resolve credit note %d: %w", creditNoteID, err)
	}
	if creditNote.Type != TypeCreditNote {
		return LinkResult{}, fmt.Errorf("resolve credit note %d: %w", creditNoteID, shared.ErrNotFound)
	}

	outcome := LinkCreated
	existing, err := l.repo.GetLink(ctx, creditNoteID)
	switch {
	case err == nil && existing.InvoiceID == invoice.ID:
		return LinkResult{Link: existing, Outcome: LinkUnchanged}, nil
	case err == nil:
		outcome = LinkUpdated
	case !isNotFound(err):
		return LinkResult{}, err
	}

	link := CreditNoteLink{CreditNoteID: creditNoteID, InvoiceID: invoice.ID}
	if err := l.repo.UpsertLink(ctx, link); err != nil {
		return LinkResult{}, err
	}
	if l.audit != nil {
		_ = l.audit.Record(ctx, shared.AuditLog{
			Action:   "billing:link",
			Entity:   "credit_note_link",
			EntityID: fmt.Sprintf("%d", creditNoteID),
			Meta:     map[string]any{"invoice_id": invoice.ID, "invoice_ref": invoiceRef, "outcome": string(outcome)},
		})
	}
	return LinkResult{Link: link, Outcome: outcome}, nil
}

// TotalLinkedCreditNotes sums the net of every credit note linked to the
// invoice, zero when none.
func (l *Linker) TotalLinkedCreditNotes(ctx context.Context, invoiceID int64) (float64, error) {
	return l.repo.SumLinkedNet(ctx, invoiceID)
}

// LinkedCreditNotes lists the credit-note documents linked to an invoice.
func (l *Linker) LinkedCreditNotes(ctx context.Context, invoiceID int64) ([]Document, error) {
	return l.repo.ListLinkedCreditNotes(ctx, invoiceID)
}

// AdjustedAmounts derives the invoice totals after linked credit notes.
// Credit notes reduce gross/grand/net directly and tax proportionally,
// so the original invoice and its lines stay an untouched historical
// record. All figures are floored at zero.
func (l *Linker) AdjustedAmounts(ctx context.Context, invoice Document) (AdjustedAmounts, error) {
	if invoice.Type != TypeInvoice {
		return AdjustedAmounts{}, ErrNotAnInvoice
	}
	totalCN, err := l.repo.SumLinkedNet(ctx, invoice.ID)
	if err != nil {
		return AdjustedAmounts{}, err
	}
	adj := AdjustedAmounts{
		Gross: floorZero(invoice.Gross - totalCN),
		Grand: floorZero(invoice.Grand - totalCN),
		Net:   floorZero(invoice.Net - totalCN),
		Tax:   invoice.Tax,
	}
	if invoice.Grand > 0 {
		adj.Tax = floorZero(invoice.Tax * (1 - totalCN/invoice.Grand))
	}
	return adj, nil
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
