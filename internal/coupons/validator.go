package coupons

import (
	"context"
	"slices"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

var (
	ErrCouponNotFound      = apperr.Errorf(apperr.ENOTFOUND, "coupons.validate", "Coupon not found")
	ErrCouponInactive      = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Coupon is not active")
	ErrCouponExpired       = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Coupon has expired")
	ErrCouponNotStarted    = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Coupon is not valid yet")
	ErrMinimumSubtotal     = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Cart subtotal is below the coupon minimum")
	ErrNoEligibleItems     = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Coupon does not apply to any item in the cart")
	ErrUsageLimitReached   = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Coupon usage limit reached")
	ErrPerUserLimitReached = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "You have already used this coupon")
	ErrLoginRequired       = apperr.Errorf(apperr.EUNPROCESSABLE, "coupons.validate", "Sign in to use this coupon")
)

// Validator decides whether a coupon applies without touching the ledger.
type Validator interface {
	Validate(ctx context.Context, req Request) (*Discount, error)
}

// StoreValidator validates against the coupons table.
type StoreValidator struct {
	store   *Store
	nowFunc func() time.Time
}

func NewStoreValidator(store *Store) *StoreValidator {
	return &StoreValidator{store: store, nowFunc: time.Now}
}

func (v *StoreValidator) Validate(ctx context.Context, req Request) (*Discount, error) {
	c, err := v.store.Get(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	return Evaluate(*c, req, v.nowFunc())
}

// Evaluate applies the coupon rules to req at now.
func Evaluate(c Coupon, req Request, now time.Time) (*Discount, error) {
	switch {
	case !c.Active:
		return nil, ErrCouponInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return nil, ErrCouponNotStarted
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return nil, ErrCouponExpired
	case c.Exhausted():
		return nil, ErrUsageLimitReached
	case c.MinSubtotal > 0 && req.Subtotal < c.MinSubtotal:
		return nil, ErrMinimumSubtotal
	}

	base := req.Subtotal
	if len(c.EligibleProductIDs) > 0 {
		base = 0
		for _, l := range req.Lines {
			if slices.Contains(c.EligibleProductIDs, l.ProductID) {
				base += l.LineTotal
			}
		}
		if base == 0 {
			return nil, ErrNoEligibleItems
		}
	}

	if c.PerUserLimit > 0 {
		// per-user limits cannot be checked for anonymous buyers
		if req.UserID == "" {
			return nil, ErrLoginRequired
		}
		if c.UsesBy(req.UserID) >= c.PerUserLimit {
			return nil, ErrPerUserLimitReached
		}
	}

	d := pricing.Discount{Type: c.DiscountType, Value: c.Value, MaxDiscount: c.MaxDiscount}
	return &Discount{
		Code:        c.Code,
		Type:        c.DiscountType,
		Value:       c.Value,
		MaxDiscount: c.MaxDiscount,
		Amount:      d.Amount(base),

		EligibleProductIDs: c.EligibleProductIDs,
	}, nil
}
