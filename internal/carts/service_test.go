package carts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/coupons"
	"github.com/imrishuroy/go-storefront-checkout/internal/entitlements"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

type fixture struct {
	svc          *Service
	store        *Store
	catalog      *catalog.Store
	coupons      *coupons.Store
	entitlements *entitlements.Store
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New(map[string]string{
		"carts":        "cart_id",
		"products":     "product_id",
		"coupons":      "code",
		"entitlements": "entitlement_id",
	})
	f := &fixture{
		store:        NewStore(fake, "carts"),
		catalog:      catalog.NewStore(fake, "products"),
		coupons:      coupons.NewStore(fake, "coupons"),
		entitlements: entitlements.NewStore(fake, "entitlements"),
		now:          t0,
	}
	f.svc = NewService(f.store, Deps{
		Catalog:         f.catalog,
		Coupons:         coupons.NewStoreValidator(f.coupons),
		Owned:           f.entitlements,
		ShippingMethods: map[string]int64{"standard": 900, "express": 1500},
	}, pol, zap.NewNop())
	f.svc.nowFunc = func() time.Time { return f.now }

	ctx := context.Background()
	require.NoError(t, f.catalog.Put(ctx, physical("mug", 1200, 5).Product))
	require.NoError(t, f.catalog.Put(ctx, digital("ebook", 900).Product))
	require.NoError(t, f.coupons.Put(ctx, coupons.Coupon{Code: "TEN", DiscountType: pricing.DiscountPercentage, Value: 10, Active: true}))
	return f
}

func TestService_CartLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := Owner{GuestToken: "g1"}

	c, err := f.svc.Create(ctx, guest)
	require.NoError(t, err)

	c, err = f.svc.AddItem(ctx, c.CartID, guest, "mug", 2)
	require.NoError(t, err)
	c, err = f.svc.ApplyCoupon(ctx, c.CartID, guest, "ten")
	require.NoError(t, err)
	c, err = f.svc.SelectShipping(ctx, c.CartID, guest, "express")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, c.CartID, guest)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), got.Totals.Subtotal)
	assert.Equal(t, int64(240), got.Totals.Discount)
	assert.Equal(t, int64(1500), got.Totals.Shipping)
	assert.True(t, got.Totals.Consistent())

	_, err = f.svc.SelectShipping(ctx, c.CartID, guest, "teleport")
	require.ErrorIs(t, err, ErrUnknownShippingMethod)

	_, err = f.svc.AddItem(ctx, c.CartID, guest, "mug", 4)
	require.Error(t, err)
	_, err = f.svc.AddItem(ctx, c.CartID, guest, "nope", 1)
	require.ErrorIs(t, err, ErrProductUnavailable)

	c, err = f.svc.UpdateQuantity(ctx, c.CartID, guest, "mug", 0)
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	_, err = f.svc.UpdateQuantity(ctx, c.CartID, guest, "mug", 1)
	require.ErrorIs(t, err, ErrItemNotFound)

	c, err = f.svc.Clear(ctx, c.CartID, guest)
	require.NoError(t, err)
	assert.Nil(t, c.Coupon)
}

func TestService_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, Owner{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, c.CartID, Owner{UserID: "u2"})
	require.ErrorIs(t, err, ErrOwnershipMismatch)
	_, err = f.svc.AddItem(ctx, c.CartID, Owner{GuestToken: "g"}, "mug", 1)
	require.ErrorIs(t, err, ErrOwnershipMismatch)
	_, err = f.svc.Get(ctx, "missing", Owner{UserID: "u1"})
	require.ErrorIs(t, err, ErrCartNotFound)
	_, err = f.svc.Create(ctx, Owner{})
	require.ErrorIs(t, err, ErrInvalidOwner)
}

func TestService_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1"}

	c, err := f.svc.Create(ctx, owner)
	require.NoError(t, err)

	f.now = t0.Add(DefaultTTL + time.Minute)
	_, err = f.svc.AddItem(ctx, c.CartID, owner, "mug", 1)
	require.ErrorIs(t, err, ErrCartExpired)

	stored, err := f.store.Get(ctx, c.CartID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, stored.Status)
	assert.Equal(t, ReasonExpired, stored.ArchiveReason)

	got, err := f.svc.Get(ctx, c.CartID, owner)
	require.NoError(t, err, "archived carts stay readable")
	_, err = f.svc.AddItem(ctx, got.CartID, owner, "mug", 1)
	require.ErrorIs(t, err, ErrCartNotActive)
}

func TestService_ExtendExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1"}

	c, err := f.svc.Create(ctx, owner)
	require.NoError(t, err)
	_, err = f.svc.ExtendExpiry(ctx, c.CartID, owner, 20)
	require.NoError(t, err)

	f.now = t0.Add(10 * 24 * time.Hour)
	_, err = f.svc.Get(ctx, c.CartID, owner)
	require.NoError(t, err)
}

func TestService_MergeDropsOwnedDigital(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := Owner{GuestToken: "g1"}
	user := Owner{UserID: "u1"}

	require.NoError(t, f.entitlements.Grant(ctx, "u1", "ebook", "o-old", 0, 0))

	gc, err := f.svc.Create(ctx, guest)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, gc.CartID, guest, "mug", 2)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, gc.CartID, guest, "ebook", 1)
	require.NoError(t, err, "guests own nothing")

	uc, err := f.svc.Create(ctx, user)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, uc.CartID, user, "mug", 1)
	require.NoError(t, err)

	merged, err := f.svc.Merge(ctx, gc.CartID, "g1", uc.CartID, "u1")
	require.NoError(t, err)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, "mug", merged.Items[0].ProductID)
	assert.Equal(t, 3, merged.Items[0].Quantity)
	assert.Equal(t, int64(3600), merged.Totals.Subtotal)

	src, err := f.store.Get(ctx, gc.CartID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, src.Status)
	assert.Equal(t, ReasonMerged, src.ArchiveReason)
	assert.Equal(t, uc.CartID, src.MergedInto)

	_, err = f.svc.Merge(ctx, gc.CartID, "g1", uc.CartID, "u1")
	require.ErrorIs(t, err, ErrCartNotActive)
}

func TestService_MergeCreatesUserCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := Owner{GuestToken: "g1"}

	gc, err := f.svc.Create(ctx, guest)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, gc.CartID, guest, "mug", 4)
	require.NoError(t, err)
	_, err = f.svc.ApplyCoupon(ctx, gc.CartID, guest, "TEN")
	require.NoError(t, err)

	// stock dropped since the guest added the line
	mug := physical("mug", 1200, 2).Product
	require.NoError(t, f.catalog.Put(ctx, mug))

	merged, err := f.svc.Merge(ctx, gc.CartID, "g1", "", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", merged.UserID)
	assert.Empty(t, merged.Items, "line exceeding stock is dropped")
	require.NotNil(t, merged.Coupon)

	stored, err := f.store.Get(ctx, merged.CartID)
	require.NoError(t, err)
	assert.Equal(t, merged.CartID, stored.CartID)
}

func TestService_SweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.Create(ctx, Owner{UserID: "u1"})
	require.NoError(t, err)
	f.now = t0.Add(5 * 24 * time.Hour)
	fresh, err := f.svc.Create(ctx, Owner{UserID: "u2"})
	require.NoError(t, err)

	f.now = t0.Add(8 * 24 * time.Hour)
	n, err := f.svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Get(ctx, old.CartID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)
	got, err = f.store.Get(ctx, fresh.CartID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	n, err = f.svc.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}
