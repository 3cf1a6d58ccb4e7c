package ar

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort defines data access methods for AR.
type RepositoryPort interface {
	CreatePayment(ctx context.Context, input PaymentInput) (*PaymentApplication, error)
	SumPayments(ctx context.Context, invoiceRef string) (float64, error)
	ListPayments(ctx context.Context, invoiceRef string) ([]PaymentApplication, error)
	ExcludeReceipt(ctx context.Context, receiptNo string) (int64, error)
}

// BillingPort is the slice of billing the calculator reads.
type BillingPort interface {
	GetDocument(ctx context.Context, refNo string) (billing.Document, error)
}

// LinkerPort exposes the adjusted (post-credit-note) invoice view.
type LinkerPort interface {
	AdjustedAmounts(ctx context.Context, invoice billing.Document) (billing.AdjustedAmounts, error)
}

// InvoiceLister enumerates invoice documents for the outstanding view.
type InvoiceLister interface {
	ListInvoices(ctx context.Context) ([]billing.Document, error)
}

// Service computes payable balances. Payment status is never stored; it
// is recomputed from payments and the adjusted invoice net on every read.
type Service struct {
	repo      RepositoryPort
	billing   BillingPort
	linker    LinkerPort
	invoices  InvoiceLister
	cache     *Cache
	tolerance float64
	flight    singleflight.Group
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, billingPort BillingPort, linker LinkerPort, invoices InvoiceLister, cache *Cache) *Service {
	return &Service{repo: repo, billing: billingPort, linker: linker, invoices: invoices, cache: cache, tolerance: DefaultTolerance}
}

// RegisterPayment records an application against an invoice. The amount
// is not checked against the adjusted net; overpayment surfaces only in
// the outstanding computation, matching how receipts behave upstream.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (*PaymentApplication, error) {
	if input.InvoiceRef == "" {
		return nil, shared.NewValidationError("invoice_ref", "required")
	}
	if input.Amount <= 0 {
		return nil, shared.NewValidationError("amount", "must be positive")
	}
	if _, err := s.billing.GetDocument(ctx, input.InvoiceRef); err != nil {
		return nil, err
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now().UTC()
	}
	payment, err := s.repo.CreatePayment(ctx, input)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
	return payment, nil
}

// ExcludeReceipt soft-deletes every application under a receipt. The
// rows stay queryable but stop counting towards paid totals.
func (s *Service) ExcludeReceipt(ctx context.Context, receiptNo string) (int64, error) {
	if receiptNo == "" {
		return 0, shared.NewValidationError("receipt_no", "required")
	}
	affected, err := s.repo.ExcludeReceipt(ctx, receiptNo)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, shared.ErrNotFound
	}
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
	return affected, nil
}

// TotalPayments sums non-excluded applications for the invoice reference.
func (s *Service) TotalPayments(ctx context.Context, invoiceRef string) (float64, error) {
	if invoiceRef == "" {
		return 0, shared.NewValidationError("invoice_ref", "required")
	}
	return s.repo.SumPayments(ctx, invoiceRef)
}

// Outstanding returns the payable balance, floored at zero.
func (s *Service) Outstanding(ctx context.Context, invoice billing.Document) (float64, error) {
	adj, err := s.linker.AdjustedAmounts(ctx, invoice)
	if err != nil {
		return 0, err
	}
	paid, err := s.repo.SumPayments(ctx, invoice.RefNo)
	if err != nil {
		return 0, err
	}
	balance := adj.Net - paid
	if balance < 0 {
		return 0, nil
	}
	return balance, nil
}

// IsOutstanding reports whether payments fall short of the adjusted net
// by more than the tolerance band.
func (s *Service) IsOutstanding(ctx context.Context, invoice billing.Document) (bool, error) {
	adj, err := s.linker.AdjustedAmounts(ctx, invoice)
	if err != nil {
		return false, err
	}
	paid, err := s.repo.SumPayments(ctx, invoice.RefNo)
	if err != nil {
		return false, err
	}
	return paid < adj.Net-s.tolerance, nil
}

// ListOutstanding builds the unpaid-invoice view, settled invoices
// excluded. The result is cached; any document or payment write bumps
// the cache version.
func (s *Service) ListOutstanding(ctx context.Context) ([]OutstandingInvoice, error) {
	if s.cache == nil {
		return s.listOutstanding(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "ar", "outstanding")
	if err != nil {
		return s.listOutstanding(ctx)
	}
	// Collapse concurrent cache misses into one load.
	resultChan := s.flight.DoChan(key, func() (any, error) {
		var cached []OutstandingInvoice
		err := s.cache.FetchJSON(context.WithoutCancel(ctx), key, &cached, func(ctx context.Context) (any, error) {
			return s.listOutstanding(ctx)
		})
		return cached, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]OutstandingInvoice), nil
	}
}

func (s *Service) listOutstanding(ctx context.Context) ([]OutstandingInvoice, error) {
	invoices, err := s.invoices.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	result := []OutstandingInvoice{}
	for _, invoice := range invoices {
		adj, err := s.linker.AdjustedAmounts(ctx, invoice)
		if err != nil {
			return nil, err
		}
		paid, err := s.repo.SumPayments(ctx, invoice.RefNo)
		if err != nil {
			return nil, err
		}
		if paid >= adj.Net-s.tolerance {
			continue
		}
		result = append(result, OutstandingInvoice{
			RefNo:        invoice.RefNo,
			CustomerCode: invoice.CustomerCode,
			Date:         invoice.Date,
			AdjustedNet:  adj.Net,
			Paid:         paid,
			Outstanding:  adj.Net - paid,
		})
	}
	return result, nil
}

// Aging groups outstanding balances into age buckets as of the given
// date.
func (s *Service) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	rows, err := s.listOutstanding(ctx)
	if err != nil {
		return AgingBucket{}, err
	}
	var bucket AgingBucket
	for _, row := range rows {
		days := int(asOf.Sub(row.Date).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current += row.Outstanding
		case days <= 30:
			bucket.Bucket30 += row.Outstanding
		case days <= 60:
			bucket.Bucket60 += row.Outstanding
		case days <= 90:
			bucket.Bucket90 += row.Outstanding
		default:
			bucket.Bucket120 += row.Outstanding
		}
	}
	return bucket, nil
}

// ListPayments lists applications for an invoice, excluded ones included
// so corrections stay visible.
func (s *Service) ListPayments(ctx context.Context, invoiceRef string) ([]PaymentApplication, error) {
	if invoiceRef == "" {
		return nil, shared.NewValidationError("invoice_ref", "required")
	}
	return s.repo.ListPayments(ctx, invoiceRef)
}
