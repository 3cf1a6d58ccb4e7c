package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryDocRepo struct {
	docs   map[string]Document
	nextID int64
}

type memoryDocTx struct {
	repo *memoryDocRepo
}

func newMemoryDocRepo() *memoryDocRepo {
	return &memoryDocRepo{docs: make(map[string]Document)}
}

func (r *memoryDocRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryDocTx{repo: r})
}

func (r *memoryDocRepo) GetDocumentByRef(ctx context.Context, refNo string) (Document, error) {
	doc, ok := r.docs[refNo]
	if !ok {
		return Document{}, shared.ErrNotFound
	}
	return doc, nil
}

func (r *memoryDocRepo) GetDocumentByID(ctx context.Context, id int64) (Document, error) {
	for _, doc := range r.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return Document{}, shared.ErrNotFound
}

func (r *memoryDocRepo) ListInvoices(ctx context.Context) ([]Document, error) {
	var docs []Document
	for _, doc := range r.docs {
		if doc.Type == TypeInvoice {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (tx *memoryDocTx) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	if existing, ok := tx.repo.docs[doc.RefNo]; ok {
		doc.ID = existing.ID
	} else {
		tx.repo.nextID++
		doc.ID = tx.repo.nextID
	}
	tx.repo.docs[doc.RefNo] = doc
	return doc.ID, nil
}

func (tx *memoryDocTx) ReplaceLines(ctx context.Context, documentID int64, lines []Line) error {
	for ref, doc := range tx.repo.docs {
		if doc.ID == documentID {
			doc.Lines = lines
			tx.repo.docs[ref] = doc
		}
	}
	return nil
}

type fakeLedger struct {
	appends  []ledger.AppendInput
	failItem string
	negative bool
}

func (f *fakeLedger) Append(ctx context.Context, input ledger.AppendInput) (ledger.AppendResult, error) {
	if input.ItemCode == f.failItem {
		return ledger.AppendResult{}, errors.New("store unavailable")
	}
	f.appends = append(f.appends, input)
	result := ledger.AppendResult{Entry: ledger.Entry{ItemCode: input.ItemCode, Delta: input.Kind.SignedDelta(input.Quantity)}}
	if f.negative && input.Kind.Outbound() {
		result.Warning = &ledger.StockWarning{ItemCode: input.ItemCode, BalanceAfter: -1}
	}
	return result, nil
}

type fakeLinker struct {
	calls   int
	failRef string
	outcome LinkOutcome
}

func (f *fakeLinker) Link(ctx context.Context, creditNoteID int64, invoiceRef string) (LinkResult, error) {
	f.calls++
	if invoiceRef == f.failRef {
		return LinkResult{}, shared.ErrNotFound
	}
	outcome := f.outcome
	if outcome == "" {
		outcome = LinkCreated
	}
	return LinkResult{Link: CreditNoteLink{CreditNoteID: creditNoteID, InvoiceID: 1}, Outcome: outcome}, nil
}

type fakeMetrics struct {
	degraded map[string]int
}

func (f *fakeMetrics) IncDegradedSave(step string) {
	if f.degraded == nil {
		f.degraded = make(map[string]int)
	}
	f.degraded[step]++
}

func TestSaveDocumentComputesAndPersists(t *testing.T) {
	repo := newMemoryDocRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, &fakeLinker{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.SaveDocument(ctx, SaveInput{
		RefNo:   "INV-100",
		Type:    TypeInvoice,
		TaxRate: 6,
		Lines: []LineInput{
			{ItemCode: "A", Qty: 10, UnitPrice: 100},
			{ItemCode: "B", Qty: 2, UnitPrice: 50, IsReturn: true},
		},
	})
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.InDelta(t, 900.0, result.Document.Gross, 1e-9)
	require.InDelta(t, 954.0, result.Document.Net, 1e-9)

	saved, err := repo.GetDocumentByRef(ctx, "INV-100")
	require.NoError(t, err)
	require.Len(t, saved.Lines, 2)

	require.Len(t, led.appends, 2)
	require.Equal(t, ledger.MovementInvoiceSale, led.appends[0].Kind)
	require.Equal(t, ledger.MovementInvoiceReturn, led.appends[1].Kind)
}

func TestSaveDocumentStockDegradation(t *testing.T) {
	repo := newMemoryDocRepo()
	led := &fakeLedger{failItem: "B"}
	metrics := &fakeMetrics{}
	svc := NewService(repo, led, &fakeLinker{}, nil, nil, metrics, nil, nil)

	result, err := svc.SaveDocument(context.Background(), SaveInput{
		RefNo: "INV-101",
		Type:  TypeInvoice,
		Lines: []LineInput{
			{ItemCode: "A", Qty: 1, UnitPrice: 10},
			{ItemCode: "B", Qty: 1, UnitPrice: 10},
		},
	})
	require.NoError(t, err)
	require.False(t, result.Clean())
	require.Contains(t, result.Degraded, DegradedStock)
	require.NotEmpty(t, result.StockErr)
	require.Equal(t, 1, metrics.degraded[string(DegradedStock)])

	// the document itself is saved despite the posting failure
	_, err = repo.GetDocumentByRef(context.Background(), "INV-101")
	require.NoError(t, err)
	// the healthy line still posted
	require.Len(t, led.appends, 1)
}

func TestSaveDocumentLinkDegradation(t *testing.T) {
	repo := newMemoryDocRepo()
	linker := &fakeLinker{failRef: "INV-GONE"}
	metrics := &fakeMetrics{}
	svc := NewService(repo, &fakeLedger{}, linker, nil, nil, metrics, nil, nil)

	result, err := svc.SaveDocument(context.Background(), SaveInput{
		RefNo:      "CN-7",
		Type:       TypeCreditNote,
		InvoiceRef: "INV-GONE",
		Lines:      []LineInput{{ItemCode: "A", Qty: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)
	require.False(t, result.Clean())
	require.Contains(t, result.Degraded, DegradedLink)
	require.NotEmpty(t, result.LinkErr)
	require.Equal(t, 1, linker.calls)
	require.Equal(t, 1, metrics.degraded[string(DegradedLink)])

	_, err = repo.GetDocumentByRef(context.Background(), "CN-7")
	require.NoError(t, err)
}

func TestSaveDocumentLinksCreditNote(t *testing.T) {
	repo := newMemoryDocRepo()
	linker := &fakeLinker{outcome: LinkUpdated}
	svc := NewService(repo, &fakeLedger{}, linker, nil, nil, nil, nil, nil)

	result, err := svc.SaveDocument(context.Background(), SaveInput{
		RefNo:      "CN-8",
		Type:       TypeCreditNote,
		InvoiceRef: "INV-1",
		Lines:      []LineInput{{ItemCode: "A", Qty: 1, UnitPrice: 10}},
	})
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.Equal(t, LinkUpdated, result.LinkOutcome)
}

func TestSaveDocumentNoStockForOrders(t *testing.T) {
	repo := newMemoryDocRepo()
	led := &fakeLedger{}
	svc := NewService(repo, led, &fakeLinker{}, nil, nil, nil, nil, nil)

	_, err := svc.SaveDocument(context.Background(), SaveInput{
		RefNo: "SO-1",
		Type:  TypeSalesOrder,
		Lines: []LineInput{{ItemCode: "A", Qty: 5, UnitPrice: 10}},
	})
	require.NoError(t, err)
	require.Empty(t, led.appends)
}

func TestSaveDocumentPropagatesStockWarnings(t *testing.T) {
	repo := newMemoryDocRepo()
	led := &fakeLedger{negative: true}
	svc := NewService(repo, led, &fakeLinker{}, nil, nil, nil, nil, nil)

	result, err := svc.SaveDocument(context.Background(), SaveInput{
		RefNo: "INV-102",
		Type:  TypeInvoice,
		Lines: []LineInput{{ItemCode: "A", Qty: 500, UnitPrice: 10}},
	})
	require.NoError(t, err)
	require.True(t, result.Clean())
	require.Len(t, result.StockWarnings, 1)
}

func TestSaveDocumentValidation(t *testing.T) {
	svc := NewService(newMemoryDocRepo(), &fakeLedger{}, &fakeLinker{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.SaveDocument(ctx, SaveInput{Type: TypeInvoice, Lines: []LineInput{{ItemCode: "A", Qty: 1}}})
	require.True(t, shared.IsValidation(err))

	_, err = svc.SaveDocument(ctx, SaveInput{RefNo: "X", Type: "RECEIPT", Lines: []LineInput{{ItemCode: "A", Qty: 1}}})
	require.True(t, shared.IsValidation(err))

	_, err = svc.SaveDocument(ctx, SaveInput{RefNo: "X", Type: TypeInvoice})
	require.True(t, shared.IsValidation(err))

	_, err = svc.SaveDocument(ctx, SaveInput{RefNo: "X", Type: TypeInvoice, Lines: []LineInput{{ItemCode: "A", Qty: -1}}})
	require.True(t, shared.IsValidation(err))
}

func TestRecalculateIsStable(t *testing.T) {
	repo := newMemoryDocRepo()
	svc := NewService(repo, &fakeLedger{}, &fakeLinker{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.SaveDocument(ctx, SaveInput{
		RefNo:   "INV-103",
		Type:    TypeInvoice,
		TaxRate: 6,
		Lines:   []LineInput{{ItemCode: "A", Qty: 3, UnitPrice: 99.99}},
	})
	require.NoError(t, err)

	recalced, err := svc.Recalculate(ctx, "INV-103")
	require.NoError(t, err)
	require.Equal(t, first.Document.Gross, recalced.Gross)
	require.Equal(t, first.Document.Tax, recalced.Tax)
	require.Equal(t, first.Document.Grand, recalced.Grand)
	require.Equal(t, first.Document.Net, recalced.Net)
}
