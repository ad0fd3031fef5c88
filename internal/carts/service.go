package carts

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/coupons"
)

// Ownership answers whether a user already holds a digital product.
type Ownership interface {
	Has(ctx context.Context, userID, productID string) (bool, error)
}

// Deps are the collaborators of Service.
type Deps struct {
	Catalog catalog.Lookup
	Coupons coupons.Validator
	Owned   Ownership
	// ShippingMethods maps a method name to its cost.
	ShippingMethods map[string]int64
}

// Service runs cart commands against storage.
type Service struct {
	store   *Store
	deps    Deps
	policy  Policy
	lg      *zap.Logger
	nowFunc func() time.Time
	newID   func() string
}

func NewService(store *Store, deps Deps, policy Policy, lg *zap.Logger) *Service {
	return &Service{
		store:   store,
		deps:    deps,
		policy:  policy,
		lg:      lg,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Policy returns the pricing and lifetime rules carts are computed with.
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) Create(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := New(s.newID(), owner, s.policy, s.nowFunc())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get loads a cart the owner may see. Archived carts are returned as is; an
// expired active cart is archived and reported as ErrCartExpired.
func (s *Service) Get(ctx context.Context, cartID string, owner Owner) (*Cart, error) {
	c, err := s.store.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !c.OwnedBy(owner) {
		return nil, ErrOwnershipMismatch
	}
	now := s.nowFunc()
	if c.Status == StatusActive && c.Expired(now) {
		if _, err := s.store.ArchiveExpired(ctx, c.CartID, now); err != nil {
			s.lg.Warn("archive expired cart", zap.String("cart_id", c.CartID), zap.Error(err))
		}
		return nil, ErrCartExpired
	}
	return c, nil
}

// GetActive is Get restricted to carts that still accept commands.
func (s *Service) GetActive(ctx context.Context, cartID string, owner Owner) (*Cart, error) {
	c, err := s.Get(ctx, cartID, owner)
	if err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, ErrCartNotActive
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, cartID string, owner Owner, productID string, qty int) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		o, err := s.offer(ctx, c.Owner(), productID)
		if err != nil {
			return c, err
		}
		return c.AddItem(o, qty, s.policy, now)
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, cartID string, owner Owner, productID string, qty int) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		if qty == 0 {
			return c.RemoveItem(productID, s.policy, now)
		}
		if _, ok := c.Item(productID); !ok {
			return c, ErrItemNotFound
		}
		o, err := s.offer(ctx, c.Owner(), productID)
		if err != nil {
			return c, err
		}
		return c.UpdateQuantity(o, qty, s.policy, now)
	})
}

func (s *Service) RemoveItem(ctx context.Context, cartID string, owner Owner, productID string) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		return c.RemoveItem(productID, s.policy, now)
	})
}

// ApplyCoupon validates code against the current lines and stores the
// snapshot. The ledger is consumed only at checkout.
func (s *Service) ApplyCoupon(ctx context.Context, cartID string, owner Owner, code string) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		d, err := s.deps.Coupons.Validate(ctx, CouponRequest(c, code))
		if err != nil {
			return c, err
		}
		return c.ApplyCoupon(Snapshot(*d), s.policy, now), nil
	})
}

func (s *Service) RemoveCoupon(ctx context.Context, cartID string, owner Owner) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		return c.RemoveCoupon(s.policy, now), nil
	})
}

func (s *Service) SelectShipping(ctx context.Context, cartID string, owner Owner, method string) (*Cart, error) {
	cost, ok := s.deps.ShippingMethods[method]
	if !ok {
		return nil, ErrUnknownShippingMethod
	}
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		return c.SelectShipping(method, cost, s.policy, now), nil
	})
}

func (s *Service) Clear(ctx context.Context, cartID string, owner Owner) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		return c.Clear(s.policy, now), nil
	})
}

func (s *Service) ExtendExpiry(ctx context.Context, cartID string, owner Owner, days int) (*Cart, error) {
	return s.mutate(ctx, cartID, owner, func(c Cart, now time.Time) (Cart, error) {
		return c.ExtendExpiry(days, s.policy, now)
	})
}

// Merge moves a guest cart's lines into the user's cart. Each line goes
// through AddItem again; lines that no longer pass are dropped. The guest
// cart is archived whatever survived. An empty userCartID creates the
// user's cart.
func (s *Service) Merge(ctx context.Context, guestCartID, guestToken, userCartID, userID string) (*Cart, error) {
	if userID == "" || guestToken == "" {
		return nil, ErrInvalidOwner
	}
	guest, err := s.GetActive(ctx, guestCartID, Owner{GuestToken: guestToken})
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	user := Owner{UserID: userID}
	var dst Cart
	if userCartID == "" {
		if dst, err = New(s.newID(), user, s.policy, now); err != nil {
			return nil, err
		}
	} else {
		c, err := s.GetActive(ctx, userCartID, user)
		if err != nil {
			return nil, err
		}
		dst = *c
	}

	for _, it := range guest.Items {
		o, err := s.offer(ctx, user, it.ProductID)
		if err == nil {
			var next Cart
			if next, err = dst.AddItem(o, it.Quantity, s.policy, now); err == nil {
				dst = next
				continue
			}
		}
		s.lg.Debug("drop merged line",
			zap.String("cart_id", guest.CartID),
			zap.String("product_id", it.ProductID),
			zap.Error(err),
		)
	}
	if dst.Coupon == nil && guest.Coupon != nil {
		if d, err := s.deps.Coupons.Validate(ctx, CouponRequest(dst, guest.Coupon.Code)); err == nil {
			dst = dst.ApplyCoupon(Snapshot(*d), s.policy, now)
		}
	}
	if dst.Shipping == nil && guest.Shipping != nil {
		dst = dst.SelectShipping(guest.Shipping.Method, guest.Shipping.Cost, s.policy, now)
	}
	dst = dst.touch(s.policy, now)

	if err := s.store.SaveMerged(ctx, dst, guest.CartID, now); err != nil {
		return nil, err
	}
	return &dst, nil
}

// SweepExpired archives up to limit carts that expired without being
// touched. Housekeeping only; reads already archive lazily.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := s.nowFunc()
	expired, err := s.store.ScanExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, c := range expired {
		ok, err := s.store.ArchiveExpired(ctx, c.CartID, now)
		if err != nil {
			return archived, errors.Wrapf(err, "archive cart %s", c.CartID)
		}
		if ok {
			archived++
		}
	}
	return archived, nil
}

func (s *Service) mutate(ctx context.Context, cartID string, owner Owner, fn func(Cart, time.Time) (Cart, error)) (*Cart, error) {
	c, err := s.GetActive(ctx, cartID, owner)
	if err != nil {
		return nil, err
	}
	next, err := fn(*c, s.nowFunc())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

// offer loads the product and, for one-time digital goods, whether the
// buyer already owns it. Guests never own anything.
func (s *Service) offer(ctx context.Context, owner Owner, productID string) (Offer, error) {
	p, err := s.deps.Catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return Offer{}, ErrProductUnavailable
		}
		return Offer{}, err
	}
	o := Offer{Product: *p}
	if p.IsDigital() && p.OneTimePurchase && owner.UserID != "" && s.deps.Owned != nil {
		if o.Owned, err = s.deps.Owned.Has(ctx, owner.UserID, productID); err != nil {
			return Offer{}, err
		}
	}
	return o, nil
}

// CouponRequest builds the validator input for the cart's current lines.
func CouponRequest(c Cart, code string) coupons.Request {
	req := coupons.Request{Code: code, UserID: c.UserID, Subtotal: c.Totals.Subtotal}
	for _, it := range c.Items {
		req.Lines = append(req.Lines, coupons.Line{ProductID: it.ProductID, LineTotal: it.LineTotal})
	}
	return req
}

// Snapshot converts a validator verdict into the stored coupon snapshot.
func Snapshot(d coupons.Discount) CouponSnapshot {
	return CouponSnapshot{
		Code:               d.Code,
		DiscountType:       d.Type,
		Value:              d.Value,
		MaxDiscount:        d.MaxDiscount,
		EligibleProductIDs: d.EligibleProductIDs,
		Amount:             d.Amount,
	}
}
