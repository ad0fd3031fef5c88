package coupons

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

func newStore(t *testing.T, coupons ...Coupon) *Store {
	t.Helper()
	s := NewStore(dynamotest.New(map[string]string{"coupons": "code"}), "coupons")
	for _, c := range coupons {
		require.NoError(t, s.Put(context.Background(), c))
	}
	return s
}

func limit(n int64) *int64 { return &n }

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	base := Coupon{Code: "SAVE10", DiscountType: pricing.DiscountPercentage, Value: 10, Active: true}
	req := Request{Code: "SAVE10", UserID: "u1", Subtotal: 50000, Lines: []Line{
		{ProductID: "a", LineTotal: 30000},
		{ProductID: "b", LineTotal: 20000},
	}}

	tests := []struct {
		name    string
		mutate  func(c *Coupon)
		req     func(r *Request)
		want    int64
		wantErr error
	}{
		{name: "percentage of subtotal", want: 5000},
		{name: "capped", mutate: func(c *Coupon) { c.MaxDiscount = 1000 }, want: 1000},
		{name: "fixed", mutate: func(c *Coupon) { c.DiscountType, c.Value = pricing.DiscountFixed, 7000 }, want: 7000},
		{name: "eligible lines only", mutate: func(c *Coupon) { c.EligibleProductIDs = []string{"b"} }, want: 2000},
		{name: "inactive", mutate: func(c *Coupon) { c.Active = false }, wantErr: ErrCouponInactive},
		{name: "not started", mutate: func(c *Coupon) { c.ValidFrom = &future }, wantErr: ErrCouponNotStarted},
		{name: "expired", mutate: func(c *Coupon) { c.ValidUntil = &past }, wantErr: ErrCouponExpired},
		{name: "cap reached", mutate: func(c *Coupon) { c.UsageLimit, c.UsageCount = limit(2), 2 }, wantErr: ErrUsageLimitReached},
		{name: "minimum subtotal", mutate: func(c *Coupon) { c.MinSubtotal = 60000 }, wantErr: ErrMinimumSubtotal},
		{name: "no eligible items", mutate: func(c *Coupon) { c.EligibleProductIDs = []string{"z"} }, wantErr: ErrNoEligibleItems},
		{
			name:    "guest with per-user limit",
			mutate:  func(c *Coupon) { c.PerUserLimit = 1 },
			req:     func(r *Request) { r.UserID = "" },
			wantErr: ErrLoginRequired,
		},
		{
			name: "per-user limit reached",
			mutate: func(c *Coupon) {
				c.PerUserLimit = 1
				c.UsageHistory = []UsageEntry{{UserID: "u1", OrderID: "o0"}}
			},
			wantErr: ErrPerUserLimitReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := base, req
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			if tt.req != nil {
				tt.req(&r)
			}
			got, err := Evaluate(c, r, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, c.DiscountType, got.Type)
		})
	}
}

func TestStoreValidator(t *testing.T) {
	s := newStore(t, Coupon{Code: "welcome", DiscountType: pricing.DiscountFixed, Value: 500, Active: true})
	v := NewStoreValidator(s)

	d, err := v.Validate(context.Background(), Request{Code: " Welcome ", Subtotal: 1000})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME", d.Code)
	assert.Equal(t, int64(500), d.Amount)

	_, err = v.Validate(context.Background(), Request{Code: "nope", Subtotal: 1000})
	require.ErrorIs(t, err, ErrCouponNotFound)
}

func TestConsume(t *testing.T) {
	s := newStore(t, Coupon{Code: "ONE", DiscountType: pricing.DiscountFixed, Value: 500, Active: true, UsageLimit: limit(1)})
	l := NewLedger(s)
	ctx := context.Background()

	require.NoError(t, l.Consume(ctx, "ONE", "u1", "o1", 500))
	require.ErrorIs(t, l.Consume(ctx, "ONE", "u2", "o2", 500), ErrUsageConflict)

	c, err := s.Get(ctx, "ONE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsageCount)
	assert.Equal(t, int64(500), c.TotalDiscount)
	require.Len(t, c.UsageHistory, 1)
	assert.Equal(t, "o1", c.UsageHistory[0].OrderID)
	assert.Equal(t, 1, c.UsesBy("u1"))
}

func TestConsume_Unlimited(t *testing.T) {
	s := newStore(t, Coupon{Code: "ANY", DiscountType: pricing.DiscountFixed, Value: 100, Active: true})
	l := NewLedger(s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Consume(ctx, "ANY", "", fmt.Sprintf("o%d", i), 100))
	}
	c, err := s.Get(ctx, "ANY")
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.UsageCount)
	assert.Equal(t, int64(500), c.TotalDiscount)
	assert.Nil(t, c.UsageLimit)
}

func TestConsume_ConcurrentNeverExceedsCap(t *testing.T) {
	const capacity = 3
	s := newStore(t, Coupon{Code: "RUSH", DiscountType: pricing.DiscountFixed, Value: 100, Active: true, UsageLimit: limit(capacity)})
	l := NewLedger(s)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// retry on conflict to drive the count all the way to the cap
			for attempt := 0; attempt < 50; attempt++ {
				err := l.Consume(ctx, "RUSH", fmt.Sprintf("u%d", i), fmt.Sprintf("o%d", i), 100)
				if err == nil {
					succeeded.Add(1)
					return
				}
				if !assert.ErrorIs(t, err, ErrUsageConflict) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	c, err := s.Get(ctx, "RUSH")
	require.NoError(t, err)
	assert.Equal(t, int64(capacity), succeeded.Load())
	assert.Equal(t, int64(capacity), c.UsageCount)
	assert.Len(t, c.UsageHistory, capacity)
}
