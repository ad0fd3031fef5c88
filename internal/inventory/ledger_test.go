package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
)

func newLedger(t *testing.T, products ...catalog.Product) (*Ledger, *catalog.Store) {
	t.Helper()
	fake := dynamotest.New(map[string]string{"products": "product_id"})
	store := catalog.NewStore(fake, "products")
	for _, p := range products {
		require.NoError(t, store.Put(context.Background(), p))
	}
	return NewLedger(fake, "products", zap.NewNop()), store
}

func tracked(id string, qty int64) catalog.Product {
	return catalog.Product{
		ProductID: id,
		Type:      catalog.TypePhysical,
		Published: true,
		Active:    true,
		Price:     1000,
		Inventory: catalog.Inventory{TrackQuantity: true, Quantity: qty, LowStockThreshold: 2},
	}
}

func TestReserveAndRelease(t *testing.T) {
	l, store := newLedger(t, tracked("p1", 5))
	ctx := context.Background()

	lvl, err := l.Reserve(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lvl.Quantity)
	assert.Equal(t, catalog.StockLow, lvl.StockStatus)
	assert.Equal(t, int64(3), lvl.TotalSales)

	p, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StockLow, p.StockStatus)

	_, err = l.Reserve(ctx, "p1", 3)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int64(2), ise.Available)
	assert.Equal(t, int64(3), ise.Requested)

	lvl, err = l.Release(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), lvl.Quantity)
	assert.Equal(t, int64(0), lvl.TotalSales)
	assert.Equal(t, catalog.StockInStock, lvl.StockStatus)
}

func TestReserve_DrainsToOutOfStock(t *testing.T) {
	l, store := newLedger(t, tracked("p1", 1))
	ctx := context.Background()

	lvl, err := l.Reserve(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lvl.Quantity)

	p, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StockOut, p.StockStatus)
}

func TestReserve_Backorder(t *testing.T) {
	p := tracked("p1", 1)
	p.AllowBackorder = true
	l, _ := newLedger(t, p)

	lvl, err := l.Reserve(context.Background(), "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), lvl.Quantity)
	assert.Equal(t, catalog.StockBackorder, lvl.StockStatus)
}

func TestReserve_Rejects(t *testing.T) {
	untracked := tracked("p2", 0)
	untracked.TrackQuantity = false
	l, _ := newLedger(t, tracked("p1", 5), untracked)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = l.Reserve(ctx, "missing", 1)
	require.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = l.Reserve(ctx, "p2", 1)
	require.ErrorIs(t, err, ErrNotTracked)

	_, err = l.Release(ctx, "p2", 1)
	require.ErrorIs(t, err, ErrNotTracked)

	_, err = l.Release(ctx, "missing", 1)
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestRecordAndUndoSale(t *testing.T) {
	untracked := tracked("p1", 0)
	untracked.TrackQuantity = false
	l, store := newLedger(t, untracked)
	ctx := context.Background()

	require.NoError(t, l.RecordSale(ctx, "p1", 2))
	require.NoError(t, l.RecordSale(ctx, "p1", 1))
	require.NoError(t, l.UndoSale(ctx, "p1", 1))

	p, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.TotalSales)
	assert.Equal(t, int64(0), p.Quantity)

	require.ErrorIs(t, l.RecordSale(ctx, "missing", 1), catalog.ErrProductNotFound)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	const stock = 7
	l, store := newLedger(t, tracked("p1", stock))
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "p1", 1)
			switch {
			case err == nil:
				reserved.Add(1)
			case assert.ErrorIs(t, err, ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(stock), reserved.Load())
	assert.Equal(t, int64(20-stock), rejected.Load())

	p, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assert.Equal(t, int64(stock), p.TotalSales)
	assert.Equal(t, catalog.StockOut, p.StockStatus)
}
