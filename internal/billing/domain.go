package billing

import (
	"errors"
	"fmt"
	"time"
)

// DocumentType classifies invoice-like documents.
type DocumentType string

const (
	// TypeInvoice is a standard customer invoice.
	TypeInvoice DocumentType = "INVOICE"
	// TypeCreditNote offsets an invoice.
	TypeCreditNote DocumentType = "CREDIT_NOTE"
	// TypeCashBill is an over-the-counter sale settled immediately.
	TypeCashBill DocumentType = "CASH_BILL"
	// TypeSalesOrder is a confirmed order awaiting invoicing.
	TypeSalesOrder DocumentType = "SALES_ORDER"
	// TypeDeliveryOrder accompanies goods out of the warehouse.
	TypeDeliveryOrder DocumentType = "DELIVERY_ORDER"
	// TypeQuotation is a priced offer, not yet a trade.
	TypeQuotation DocumentType = "QUOTATION"
)

// ParseDocumentType validates a raw document type string.
func ParseDocumentType(raw string) (DocumentType, error) {
	t := DocumentType(raw)
	switch t {
	case TypeInvoice, TypeCreditNote, TypeCashBill, TypeSalesOrder, TypeDeliveryOrder, TypeQuotation:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDocumentType, raw)
}

// CreditClass reports whether the type reduces the customer's owed
// balance. Every other type is debit-class.
func (t DocumentType) CreditClass() bool {
	return t == TypeCreditNote
}

// MovesStock reports whether saving a document of this type posts
// ledger movements. Quotations and sales orders reserve nothing.
func (t DocumentType) MovesStock() bool {
	switch t {
	case TypeInvoice, TypeCreditNote, TypeCashBill, TypeDeliveryOrder:
		return true
	}
	return false
}

// Line is one traded item row on a document.
type Line struct {
	ID         int64
	DocumentID int64
	ItemCode   string
	Qty        float64
	UnitPrice  float64
	IsReturn   bool
	Amount     float64
}

// Document is an invoice-like record identified by its reference number.
type Document struct {
	ID             int64
	RefNo          string
	Type           DocumentType
	CustomerCode   string
	Date           time.Time
	TaxRate        float64
	HeaderDiscount float64
	Gross          float64
	Tax            float64
	Grand          float64
	Net            float64
	Debit          float64
	Credit         float64
	OrderRefs      []string
	Lines          []Line
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreditNoteLink maps one credit note to the invoice it offsets. The
// credit-note id is unique; an invoice may carry many links.
type CreditNoteLink struct {
	CreditNoteID int64
	InvoiceID    int64
	LinkedAt     time.Time
}

// LinkOutcome describes what Link did with the record.
type LinkOutcome string

const (
	// LinkCreated means no link existed for the credit note.
	LinkCreated LinkOutcome = "CREATED"
	// LinkUpdated means an existing link was repointed.
	LinkUpdated LinkOutcome = "UPDATED"
	// LinkUnchanged means the link already pointed at the invoice.
	LinkUnchanged LinkOutcome = "UNCHANGED"
)

// LinkResult returns the resulting link plus its outcome.
type LinkResult struct {
	Link    CreditNoteLink
	Outcome LinkOutcome
}

// AdjustedAmounts is an invoice's monetary view after subtracting linked
// credit notes. Computed on read, never stored back.
type AdjustedAmounts struct {
	Gross float64
	Tax   float64
	Grand float64
	Net   float64
}

// ErrInvalidDocumentType indicates an unknown document type.
var ErrInvalidDocumentType = errors.New("billing: invalid document type")

// ErrNotAnInvoice indicates an operation that only applies to invoices.
var ErrNotAnInvoice = errors.New("billing: document is not an invoice")
