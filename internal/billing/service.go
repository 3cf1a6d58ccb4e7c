package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts document persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocumentByRef(ctx context.Context, refNo string) (Document, error)
	GetDocumentByID(ctx context.Context, id int64) (Document, error)
	ListInvoices(ctx context.Context) ([]Document, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LedgerPort is the slice of the stock ledger the save flow needs.
type LedgerPort interface {
	Append(ctx context.Context, input ledger.AppendInput) (ledger.AppendResult, error)
}

// LinkerPort is the slice of the credit-note linker the save flow needs.
type LinkerPort interface {
	Link(ctx context.Context, creditNoteID int64, invoiceRef string) (LinkResult, error)
}

// MetricsPort records billing-level counters.
type MetricsPort interface {
	IncDegradedSave(step string)
}

// Invalidator drops derived read caches after a document changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service orchestrates document saves: persist, total, post stock, link.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	linker      LinkerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MetricsPort
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, linker LinkerPort, audit AuditPort, idem *shared.IdempotencyStore, metrics MetricsPort, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerPort, linker: linker, audit: audit, idempotency: idem, metrics: metrics, invalidator: invalidator, logger: logger}
}

// LineInput describes one traded row on a document being saved.
type LineInput struct {
	ItemCode  string  `json:"item_code" validate:"required"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	IsReturn  bool    `json:"is_return"`
}

// SaveInput describes a document save request.
type SaveInput struct {
	RefNo          string
	Type           DocumentType
	CustomerCode   string
	Date           time.Time
	TaxRate        float64
	HeaderDiscount float64
	OrderRefs      []string
	Lines          []LineInput
	InvoiceRef     string
	OrderRefID     string
	IdempotencyKey string
	ActorID        int64
}

// DegradedStep names a save step that failed without failing the save.
type DegradedStep string

const (
	// DegradedStock means one or more ledger appends failed.
	DegradedStock DegradedStep = "ledger"
	// DegradedLink means the credit-note link could not be recorded.
	DegradedLink DegradedStep = "link"
)

// SaveResult reports the saved document plus everything that went
// sideways on the best-effort steps, so callers can distinguish "saved
// cleanly" from "saved, but posting or linking degraded".
type SaveResult struct {
	Document      Document
	StockWarnings []ledger.StockWarning
	Degraded      []DegradedStep
	StockErr      string
	LinkErr       string
	LinkOutcome   LinkOutcome
}

// Clean reports whether every step of the save succeeded.
func (r SaveResult) Clean() bool {
	return len(r.Degraded) == 0
}

// SaveDocument persists the document and its lines in one transaction,
// recomputes header totals, posts stock movements and, for credit notes
// carrying an invoice reference, records the link. Stock posting and
// linking are best-effort: their failure degrades the result instead of
// rolling back the saved document.
func (s *Service) SaveDocument(ctx context.Context, input SaveInput) (SaveResult, error) {
	if input.RefNo == "" {
		return SaveResult{}, shared.NewValidationError("ref_no", "required")
	}
	if _, err := ParseDocumentType(string(input.Type)); err != nil {
		return SaveResult{}, shared.NewValidationError("type", err.Error())
	}
	if len(input.Lines) == 0 {
		return SaveResult{}, shared.NewValidationError("lines", "at least one line required")
	}
	for i, line := range input.Lines {
		if line.ItemCode == "" {
			return SaveResult{}, shared.NewValidationError(fmt.Sprintf("lines[%d].item_code", i), "required")
		}
		if line.Qty <= 0 {
			return SaveResult{}, shared.NewValidationError(fmt.Sprintf("lines[%d].qty", i), "must be positive")
		}
		if line.UnitPrice < 0 {
			return SaveResult{}, shared.NewValidationError(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
	}
	if input.TaxRate < 0 {
		return SaveResult{}, shared.NewValidationError("tax_rate", "must not be negative")
	}
	insertedKey := false
	key := ""
	if s.idempotency != nil && input.IdempotencyKey != "" {
		key = fmt.Sprintf("%s:%s:%s", input.Type, input.RefNo, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "billing"); err != nil {
			return SaveResult{}, err
		}
		insertedKey = true
	}

	doc := Document{
		RefNo:          input.RefNo,
		Type:           input.Type,
		CustomerCode:   input.CustomerCode,
		Date:           input.Date,
		TaxRate:        input.TaxRate,
		HeaderDiscount: input.HeaderDiscount,
		OrderRefs:      input.OrderRefs,
		CreatedBy:      input.ActorID,
	}
	if doc.Date.IsZero() {
		doc.Date = time.Now().UTC()
	}
	for _, line := range input.Lines {
		doc.Lines = append(doc.Lines, Line{
			ItemCode:  line.ItemCode,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			IsReturn:  line.IsReturn,
		})
	}
	CalculateDocument(&doc)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.UpsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = id
		return tx.ReplaceLines(ctx, id, doc.Lines)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return SaveResult{}, err
	}

	result := SaveResult{Document: doc}

	if doc.Type.MovesStock() {
		s.postStock(ctx, &result, input)
	}

	if doc.Type == TypeCreditNote && input.InvoiceRef != "" {
		linkResult, err := s.linker.Link(ctx, doc.ID, input.InvoiceRef)
		if err != nil {
			// saved, but the link is missing; surfaced, never fatal
			result.Degraded = append(result.Degraded, DegradedLink)
			result.LinkErr = err.Error()
			if s.metrics != nil {
				s.metrics.IncDegradedSave(string(DegradedLink))
			}
			s.logger.Warn("credit note saved without link",
				slog.String("ref_no", doc.RefNo),
				slog.String("invoice_ref", input.InvoiceRef),
				slog.Any("error", err))
		} else {
			result.LinkOutcome = linkResult.Outcome
		}
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("billing:save:%s", doc.Type),
			Entity:   "document",
			EntityID: doc.RefNo,
			Meta:     map[string]any{"net": doc.Net, "clean": result.Clean()},
		})
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
	return result, nil
}

// postStock appends one ledger movement per line. Failures degrade the
// save instead of failing it: document issuance wins over strict stock
// enforcement.
func (s *Service) postStock(ctx context.Context, result *SaveResult, input SaveInput) {
	doc := result.Document
	degraded := false
	for _, line := range doc.Lines {
		kind := ledger.MovementInvoiceSale
		if line.IsReturn {
			kind = ledger.MovementInvoiceReturn
		}
		if doc.Type == TypeCreditNote {
			// credit notes bring goods back unless the line itself
			// reverses a return
			kind = ledger.MovementInvoiceReturn
			if line.IsReturn {
				kind = ledger.MovementInvoiceSale
			}
		}
		appendRes, err := s.ledger.Append(ctx, ledger.AppendInput{
			ItemCode: line.ItemCode,
			Quantity: line.Qty,
			Kind:     kind,
			RefKind:  ledger.ReferenceOrder,
			RefID:    input.OrderRefID,
			Note:     fmt.Sprintf("%s %s", doc.Type, doc.RefNo),
			ActorID:  input.ActorID,
		})
		if err != nil {
			degraded = true
			result.StockErr = err.Error()
			s.logger.Warn("stock posting failed for saved document",
				slog.String("ref_no", doc.RefNo),
				slog.String("item_code", line.ItemCode),
				slog.Any("error", err))
			continue
		}
		if appendRes.Warning != nil {
			result.StockWarnings = append(result.StockWarnings, *appendRes.Warning)
		}
	}
	if degraded {
		result.Degraded = append(result.Degraded, DegradedStock)
		if s.metrics != nil {
			s.metrics.IncDegradedSave(string(DegradedStock))
		}
	}
}

// GetDocument loads a document with its lines by reference number.
func (s *Service) GetDocument(ctx context.Context, refNo string) (Document, error) {
	if refNo == "" {
		return Document{}, shared.NewValidationError("ref_no", "required")
	}
	return s.repo.GetDocumentByRef(ctx, refNo)
}

// Recalculate reloads a document and recomputes its totals, persisting
// the header. Used after line edits by external collaborators.
func (s *Service) Recalculate(ctx context.Context, refNo string) (Document, error) {
	doc, err := s.GetDocument(ctx, refNo)
	if err != nil {
		return Document{}, err
	}
	CalculateDocument(&doc)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.UpsertDocument(ctx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
	return doc, nil
}
