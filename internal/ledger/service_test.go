package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	items   map[string]Item
	entries []Entry
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[string]Item)}
}

func (r *memoryRepo) addItem(code string, baseline float64) {
	r.items[code] = Item{Code: code, BaselineQty: baseline, CachedQty: baseline}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, itemCode string) (Item, error) {
	item, ok := r.items[itemCode]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (r *memoryRepo) SumDeltas(ctx context.Context, itemCode string) (float64, int64, error) {
	var sum float64
	var count int64
	for _, e := range r.entries {
		if e.ItemCode == itemCode {
			sum += e.Delta
			count++
		}
	}
	return sum, count, nil
}

func (r *memoryRepo) GetHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.ItemCode == filter.ItemCode {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListItemCodes(ctx context.Context) ([]string, error) {
	var codes []string
	for code := range r.items {
		codes = append(codes, code)
	}
	return codes, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, itemCode string) (Item, error) {
	return tx.repo.GetItem(ctx, itemCode)
}

func (tx *memoryTx) SumDeltas(ctx context.Context, itemCode string) (float64, int64, error) {
	return tx.repo.SumDeltas(ctx, itemCode)
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry.ID, nil
}

func (tx *memoryTx) UpdateItemQuantity(ctx context.Context, itemCode string, qty float64) error {
	item := tx.repo.items[itemCode]
	item.CachedQty = qty
	tx.repo.items[itemCode] = item
	return nil
}

func (tx *memoryTx) GetEntry(ctx context.Context, entryID int64) (Entry, error) {
	for _, e := range tx.repo.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return Entry{}, shared.ErrNotFound
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, entryID int64) error {
	for i, e := range tx.repo.entries {
		if e.ID == entryID {
			tx.repo.entries = append(tx.repo.entries[:i], tx.repo.entries[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

type countingMetrics struct {
	warnings int
}

func (m *countingMetrics) IncStockWarning() { m.warnings++ }

func TestAppendSequenceYieldsRunningBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	res, err := svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 100, Kind: MovementStockIn})
	require.NoError(t, err)
	require.InDelta(t, 0.0, res.Entry.BalanceBefore, 1e-9)
	require.InDelta(t, 100.0, res.Entry.BalanceAfter, 1e-9)

	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 30, Kind: MovementInvoiceSale})
	require.NoError(t, err)
	require.InDelta(t, -30.0, res.Entry.Delta, 1e-9)
	require.InDelta(t, 70.0, res.Entry.BalanceAfter, 1e-9)

	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 5, Kind: MovementInvoiceReturn})
	require.NoError(t, err)
	require.InDelta(t, 75.0, res.Entry.BalanceAfter, 1e-9)

	qty, err := svc.CurrentStock(ctx, "ITEM1")
	require.NoError(t, err)
	require.InDelta(t, 75.0, qty, 1e-9)
}

func TestSignEnforcement(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	res, err := svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 5, Kind: MovementStockOut})
	require.NoError(t, err)
	require.InDelta(t, -5.0, res.Entry.Delta, 1e-9)

	// a caller passing a negative quantity still gets -5
	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: -5, Kind: MovementStockOut})
	require.NoError(t, err)
	require.InDelta(t, -5.0, res.Entry.Delta, 1e-9)

	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: -5, Kind: MovementStockIn})
	require.NoError(t, err)
	require.InDelta(t, 5.0, res.Entry.Delta, 1e-9)

	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: -3, Kind: MovementAdjustment})
	require.NoError(t, err)
	require.InDelta(t, -3.0, res.Entry.Delta, 1e-9)

	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 3, Kind: MovementAdjustment})
	require.NoError(t, err)
	require.InDelta(t, 3.0, res.Entry.Delta, 1e-9)
}

func TestBalanceSnapshotConsistency(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	inputs := []AppendInput{
		{ItemCode: "ITEM1", Quantity: 12, Kind: MovementStockIn},
		{ItemCode: "ITEM1", Quantity: 7, Kind: MovementInvoiceSale},
		{ItemCode: "ITEM1", Quantity: 2.5, Kind: MovementAdjustment},
		{ItemCode: "ITEM1", Quantity: 4, Kind: MovementStockOut},
	}
	for _, input := range inputs {
		res, err := svc.Append(ctx, input)
		require.NoError(t, err)
		require.InDelta(t, res.Entry.Delta, res.Entry.BalanceAfter-res.Entry.BalanceBefore, 1e-9)
	}
}

func TestInsufficientStockWarnsButProceeds(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	metrics := &countingMetrics{}
	svc := NewService(repo, nil, nil, metrics, nil)
	ctx := context.Background()

	res, err := svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 10, Kind: MovementInvoiceSale})
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	require.InDelta(t, -10.0, res.Warning.BalanceAfter, 1e-9)
	require.Equal(t, 1, metrics.warnings)

	// adjustments may go negative without warning
	res, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: -1, Kind: MovementAdjustment})
	require.NoError(t, err)
	require.Nil(t, res.Warning)
	require.Equal(t, 1, metrics.warnings)
}

func TestBaselineFallback(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("LEGACY", 42)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	qty, err := svc.CurrentStock(ctx, "LEGACY")
	require.NoError(t, err)
	require.InDelta(t, 42.0, qty, 1e-9)

	// first entry starts from the baseline
	res, err := svc.Append(ctx, AppendInput{ItemCode: "LEGACY", Quantity: 8, Kind: MovementStockOut})
	require.NoError(t, err)
	require.InDelta(t, 42.0, res.Entry.BalanceBefore, 1e-9)
	require.InDelta(t, 34.0, res.Entry.BalanceAfter, 1e-9)

	// once history exists only the ledger sum counts
	qty, err = svc.CurrentStock(ctx, "LEGACY")
	require.NoError(t, err)
	require.InDelta(t, -8.0, qty, 1e-9)
}

func TestAppendUnknownItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.Append(context.Background(), AppendInput{ItemCode: "GHOST", Quantity: 1, Kind: MovementStockIn})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAppendValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{Quantity: 1, Kind: MovementStockIn})
	require.True(t, shared.IsValidation(err))

	_, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 0, Kind: MovementAdjustment})
	require.True(t, shared.IsValidation(err))

	_, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 1, Kind: "SHRINKAGE"})
	require.True(t, shared.IsValidation(err))

	_, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 1, Kind: MovementStockIn, RefID: "not-a-uuid"})
	require.True(t, shared.IsValidation(err))
}

func TestRebuildProjection(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 50, Kind: MovementStockIn})
	require.NoError(t, err)

	// corrupt the cached projection
	item := repo.items["ITEM1"]
	item.CachedQty = 999
	repo.items["ITEM1"] = item

	res, err := svc.RebuildProjection(ctx, "ITEM1")
	require.NoError(t, err)
	require.True(t, res.Diverged)
	require.InDelta(t, 999.0, res.Previous, 1e-9)
	require.InDelta(t, 50.0, res.Current, 1e-9)
	require.InDelta(t, 50.0, repo.items["ITEM1"].CachedQty, 1e-9)

	res, err = svc.RebuildProjection(ctx, "ITEM1")
	require.NoError(t, err)
	require.False(t, res.Diverged)
}

func TestDeleteEntryRepairsProjection(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem("ITEM1", 0)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 10, Kind: MovementStockIn})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{ItemCode: "ITEM1", Quantity: 4, Kind: MovementStockOut})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, first.Entry.ID, 7))

	qty, err := svc.CurrentStock(ctx, "ITEM1")
	require.NoError(t, err)
	require.InDelta(t, -4.0, qty, 1e-9)
	require.InDelta(t, -4.0, repo.items["ITEM1"].CachedQty, 1e-9)

	require.ErrorIs(t, svc.DeleteEntry(ctx, 12345, 7), shared.ErrNotFound)
}
