package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
)

func TestStore_PutGet(t *testing.T) {
	fake := dynamotest.New(map[string]string{"products": "product_id"})
	s := NewStore(fake, "products")
	ctx := context.Background()

	err := s.Put(ctx, Product{
		ProductID: "p1",
		Name:      "Mug",
		Type:      TypePhysical,
		Published: true,
		Active:    true,
		Price:     1200,
		Inventory: Inventory{TrackQuantity: true, Quantity: 3, LowStockThreshold: 5},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Mug", got.Name)
	assert.Equal(t, int64(3), got.Quantity)
	assert.Equal(t, StockLow, got.StockStatus)
	assert.True(t, got.Tracked())
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCurrentPrice(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	p := Product{Price: 1000, SalePrice: 800, SaleStartsAt: &start, SaleEndsAt: &end}
	assert.Equal(t, int64(800), p.CurrentPrice(now))
	assert.Equal(t, int64(1000), p.CurrentPrice(end.Add(time.Minute)))
	assert.Equal(t, int64(1000), p.CurrentPrice(start.Add(-time.Minute)))

	p.SaleStartsAt, p.SaleEndsAt = nil, nil
	assert.Equal(t, int64(800), p.CurrentPrice(now), "open-ended sale")

	p.SalePrice = 1200
	assert.Equal(t, int64(1000), p.CurrentPrice(now), "sale price above base is ignored")
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, StockInStock, StockStatus(10, 3, false))
	assert.Equal(t, StockLow, StockStatus(3, 3, false))
	assert.Equal(t, StockOut, StockStatus(0, 3, false))
	assert.Equal(t, StockBackorder, StockStatus(-2, 3, true))
	assert.Equal(t, StockBackorder, StockStatus(0, 0, true))
}
