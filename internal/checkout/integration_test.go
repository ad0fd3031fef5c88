//go:build integration

package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/coupons"
	"github.com/imrishuroy/go-storefront-checkout/internal/entitlements"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

// startDynamoDB runs DynamoDB Local and returns a client pointed at it.
func startDynamoDB(t *testing.T) aws.DynamoDBAPI {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			ExposedPorts: []string{"8000/tcp"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.PortEndpoint(ctx, "8000/tcp", "http")
	require.NoError(t, err)

	t.Setenv("AWS_ACCESS_KEY_ID", "local")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "local")
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: "us-east-1", Endpoint: endpoint})
	require.NoError(t, err)

	require.NoError(t, aws.EnsureTables(ctx, clients.DynamoDB,
		aws.TableSpec{Name: "carts", Key: "cart_id"},
		aws.TableSpec{Name: "orders", Key: "order_id"},
		aws.TableSpec{Name: "products", Key: "product_id"},
		aws.TableSpec{Name: "coupons", Key: "code"},
		aws.TableSpec{Name: "entitlements", Key: "entitlement_id"},
	))
	return clients.DynamoDB
}

func TestIntegration_ConcurrentCheckoutsAgainstDynamoDBLocal(t *testing.T) {
	db := startDynamoDB(t)
	ctx := context.Background()
	lg := zaptest.NewLogger(t)

	catalogStore := catalog.NewStore(db, "products")
	couponStore := coupons.NewStore(db, "coupons")
	cartStore := carts.NewStore(db, "carts")
	validator := coupons.NewStoreValidator(couponStore)
	cartSvc := carts.NewService(cartStore, carts.Deps{
		Catalog:         catalogStore,
		Coupons:         validator,
		Owned:           entitlements.NewStore(db, "entitlements"),
		ShippingMethods: map[string]int64{"standard": 90000},
	}, carts.Policy{Pricing: pricing.Policy{TaxRate: decimal.RequireFromString("0.09")}}, lg)
	pipeline := NewPipeline(Deps{
		DB:        db,
		Carts:     cartSvc,
		CartStore: cartStore,
		Orders:    orders.NewStore(db, "orders"),
		Catalog:   catalogStore,
		Stock:     inventory.NewLedger(db, "products", lg),
		Coupons:   validator,
		Ledger:    coupons.NewLedger(couponStore),
	}, Options{}, lg)

	const stock, buyers = 3, 8
	require.NoError(t, catalogStore.Put(ctx, physicalProduct("lamp", 1000000, stock)))
	limit := int64(buyers)
	require.NoError(t, couponStore.Put(ctx, coupons.Coupon{Code: "TEN", DiscountType: pricing.DiscountPercentage, Value: 10, Active: true, UsageLimit: &limit}))

	reqs := make([]Request, buyers)
	for i := range reqs {
		owner := carts.Owner{GuestToken: "guest-" + string(rune('a'+i))}
		c, err := cartSvc.Create(ctx, owner)
		require.NoError(t, err)
		_, err = cartSvc.AddItem(ctx, c.CartID, owner, "lamp", 1)
		require.NoError(t, err)
		_, err = cartSvc.ApplyCoupon(ctx, c.CartID, owner, "TEN")
		require.NoError(t, err)
		c, err = cartSvc.SelectShipping(ctx, c.CartID, owner, "standard")
		require.NoError(t, err)
		assert.Equal(t, int64(1071000), c.Totals.Total)
		reqs[i] = request(c)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed []*orders.Order
	)
	for _, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := pipeline.Checkout(ctx, req)
			if err != nil {
				assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
				return
			}
			mu.Lock()
			placed = append(placed, o)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, placed, stock)
	p, err := catalogStore.Get(ctx, "lamp")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assert.Equal(t, catalog.StockOut, p.StockStatus)
	assert.Equal(t, int64(stock), p.TotalSales)

	cp, err := couponStore.Get(ctx, "TEN")
	require.NoError(t, err)
	assert.LessOrEqual(t, cp.UsageCount, limit)
	assert.Len(t, cp.UsageHistory, int(cp.UsageCount))
}
