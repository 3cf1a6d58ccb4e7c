package ar

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/billing"
)

type countingLister struct {
	inner *fakeBilling
	calls int
}

func (c *countingLister) ListInvoices(ctx context.Context) ([]billing.Document, error) {
	c.calls++
	return c.inner.ListInvoices(ctx)
}

func TestListOutstandingCachesUntilBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	now := time.Now().UTC()
	repo := &memoryPayRepo{}
	bill := &fakeBilling{docs: map[string]billing.Document{
		"INV-1": invoiceDoc("INV-1", 300, now),
	}}
	lister := &countingLister{inner: bill}
	svc := NewService(repo, bill, &fakeAdjuster{credits: map[string]float64{}}, lister, cache)
	ctx := context.Background()

	rows, err := svc.ListOutstanding(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, lister.calls)

	rows, err = svc.ListOutstanding(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, lister.calls)

	// Registering a payment bumps the version, so the next read reloads.
	_, err = svc.RegisterPayment(ctx, PaymentInput{ReceiptNo: "R-1", InvoiceRef: "INV-1", Amount: 100})
	require.NoError(t, err)

	rows, err = svc.ListOutstanding(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 200, rows[0].Outstanding, 1e-9)
	require.Equal(t, 2, lister.calls)
}

func TestCacheDegradesWithoutClient(t *testing.T) {
	var cache *Cache
	key, err := cache.BuildKey(context.Background(), "ar", "outstanding")
	require.NoError(t, err)
	require.Equal(t, "ar:outstanding", key)

	var dest []OutstandingInvoice
	err = cache.FetchJSON(context.Background(), key, &dest, func(context.Context) (any, error) {
		return []OutstandingInvoice{{RefNo: "INV-1"}}, nil
	})
	require.NoError(t, err)
	require.Len(t, dest, 1)
}
