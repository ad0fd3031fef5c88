// Package carts implements the pre-purchase shopping cart. Cart is a pure
// aggregate: every command returns an updated copy with totals recomputed,
// the expiry slid forward and the activity timestamp refreshed. Service adds
// storage, catalog and coupon lookups on top.
package carts

import (
	"slices"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Archive reasons.
const (
	ReasonConverted = "converted"
	ReasonMerged    = "merged"
	ReasonExpired   = "expired"
)

const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrCartNotFound          = apperr.Errorf(apperr.ENOTFOUND, "carts", "Cart not found")
	ErrCartExpired           = apperr.Errorf(apperr.EGONE, "carts", "Cart has expired")
	ErrOwnershipMismatch     = apperr.Errorf(apperr.EFORBIDDEN, "carts", "Cart belongs to another buyer")
	ErrCartNotActive         = apperr.Errorf(apperr.ECONFLICT, "carts", "Cart is no longer active")
	ErrInvalidOwner          = apperr.Errorf(apperr.EINVALID, "carts", "A cart needs exactly one of user id or guest token")
	ErrInvalidQuantity       = apperr.Errorf(apperr.EINVALID, "carts", "Quantity must be a positive integer")
	ErrItemNotFound          = apperr.Errorf(apperr.ENOTFOUND, "carts", "Item is not in the cart")
	ErrProductUnavailable    = apperr.Errorf(apperr.EUNPROCESSABLE, "carts", "Product is not available for purchase")
	ErrAlreadyOwned          = apperr.Errorf(apperr.EUNPROCESSABLE, "carts", "You already own this product")
	ErrSingleQuantity        = apperr.Errorf(apperr.EUNPROCESSABLE, "carts", "This product can only be bought once")
	ErrUnknownShippingMethod = apperr.Errorf(apperr.EINVALID, "carts", "Unknown shipping method")
	ErrInvalidExtension      = apperr.Errorf(apperr.EINVALID, "carts", "Expiry can be extended by 1 to 30 days")
)

// Owner identifies the buyer acting on a cart. A request may carry both ids
// (a signed-in user still holding a guest token); a cart stores exactly one.
type Owner struct {
	UserID     string
	GuestToken string
}

// ValidForCreate reports whether exactly one identity is set.
func (o Owner) ValidForCreate() bool {
	return (o.UserID == "") != (o.GuestToken == "")
}

// Recipient is the notification address of the buyer.
func (o Owner) Recipient() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "guest:" + o.GuestToken
}

// Item is one cart line. LineTotal is always Quantity*UnitPrice.
type Item struct {
	ProductID   string              `dynamodbav:"product_id" json:"product_id"`
	Name        string              `dynamodbav:"name" json:"name"`
	ProductType catalog.ProductType `dynamodbav:"product_type" json:"product_type"`
	Quantity    int                 `dynamodbav:"quantity" json:"quantity"`
	UnitPrice   int64               `dynamodbav:"unit_price" json:"unit_price"`
	LineTotal   int64               `dynamodbav:"line_total" json:"line_total"`
	AddedAt     time.Time           `dynamodbav:"added_at" json:"added_at"`
}

// CouponSnapshot is the coupon as validated when it was applied. Amount is
// re-derived from the other fields on every recompute.
type CouponSnapshot struct {
	Code               string               `dynamodbav:"code" json:"code"`
	DiscountType       pricing.DiscountType `dynamodbav:"discount_type" json:"discount_type"`
	Value              int64                `dynamodbav:"value" json:"value"`
	MaxDiscount        int64                `dynamodbav:"max_discount,omitempty" json:"max_discount,omitempty"`
	EligibleProductIDs []string             `dynamodbav:"eligible_product_ids,omitempty" json:"eligible_product_ids,omitempty"`
	Amount             int64                `dynamodbav:"amount" json:"amount"`
}

// Shipping is the buyer's selected shipping method.
type Shipping struct {
	Method string `dynamodbav:"method" json:"method"`
	Cost   int64  `dynamodbav:"cost" json:"cost"`
}

// Cart is the item stored in the carts table.
type Cart struct {
	CartID     string          `dynamodbav:"cart_id" json:"cart_id"` // PK
	UserID     string          `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	GuestToken string          `dynamodbav:"guest_token,omitempty" json:"-"`
	Items      []Item          `dynamodbav:"items" json:"items"`
	Coupon     *CouponSnapshot `dynamodbav:"coupon,omitempty" json:"coupon,omitempty"`
	Shipping   *Shipping       `dynamodbav:"shipping,omitempty" json:"shipping,omitempty"`
	Totals     pricing.Totals  `dynamodbav:"totals" json:"totals"`
	Status     Status          `dynamodbav:"status" json:"status"`

	// ExpiresAt is stored as epoch seconds so the sweep can compare it.
	ExpiresAt    time.Time `dynamodbav:"expires_at,unixtime" json:"expires_at"`
	LastActivity time.Time `dynamodbav:"last_activity" json:"last_activity"`
	CreatedAt    time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at" json:"updated_at"`

	OrderID       string `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	MergedInto    string `dynamodbav:"merged_into,omitempty" json:"merged_into,omitempty"`
	ArchiveReason string `dynamodbav:"archive_reason,omitempty" json:"archive_reason,omitempty"`
}

// Policy carries the rules a command needs besides its arguments.
type Policy struct {
	Pricing pricing.Policy
	TTL     time.Duration
}

// Offer is a product as the buyer can currently get it.
type Offer struct {
	Product catalog.Product
	// Owned is set when the buyer already holds an entitlement.
	Owned bool
}

// New returns an empty active cart for owner.
func New(cartID string, owner Owner, pol Policy, now time.Time) (Cart, error) {
	if !owner.ValidForCreate() {
		return Cart{}, ErrInvalidOwner
	}
	c := Cart{
		CartID:     cartID,
		UserID:     owner.UserID,
		GuestToken: owner.GuestToken,
		Items:      []Item{},
		Status:     StatusActive,
		CreatedAt:  now,
	}
	return c.touch(pol, now), nil
}

// Owner returns the buyer the cart belongs to.
func (c Cart) Owner() Owner {
	return Owner{UserID: c.UserID, GuestToken: c.GuestToken}
}

// OwnedBy reports whether o may act on the cart.
func (c Cart) OwnedBy(o Owner) bool {
	if c.UserID != "" {
		return o.UserID == c.UserID
	}
	return c.GuestToken != "" && o.GuestToken == c.GuestToken
}

// Expired reports whether the sliding window has passed.
func (c Cart) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c Cart) Active() bool {
	return c.Status == StatusActive && c.OrderID == ""
}

// NeedsShipping reports whether any physical line remains.
func (c Cart) NeedsShipping() bool {
	return slices.ContainsFunc(c.Items, func(it Item) bool { return it.ProductType != catalog.TypeDigital })
}

// Item returns the line for productID.
func (c Cart) Item(productID string) (Item, bool) {
	i := c.index(productID)
	if i < 0 {
		return Item{}, false
	}
	return c.Items[i], true
}

// AddItem adds qty of the offered product. An existing line keeps its price
// snapshot and sums the quantity.
func (c Cart) AddItem(o Offer, qty int, pol Policy, now time.Time) (Cart, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	next := c.clone()
	i := next.index(o.Product.ProductID)
	want := qty
	if i >= 0 {
		want += next.Items[i].Quantity
	}
	if err := checkOffer(o, want); err != nil {
		return c, err
	}
	if i >= 0 {
		next.Items[i].Quantity = want
		next.Items[i].LineTotal = pricing.LineTotal(want, next.Items[i].UnitPrice)
	} else {
		price := o.Product.CurrentPrice(now)
		next.Items = append(next.Items, Item{
			ProductID:   o.Product.ProductID,
			Name:        o.Product.Name,
			ProductType: o.Product.Type,
			Quantity:    qty,
			UnitPrice:   price,
			LineTotal:   pricing.LineTotal(qty, price),
			AddedAt:     now,
		})
	}
	return next.touch(pol, now), nil
}

// UpdateQuantity sets the line quantity. Zero removes the line.
func (c Cart) UpdateQuantity(o Offer, qty int, pol Policy, now time.Time) (Cart, error) {
	if qty == 0 {
		return c.RemoveItem(o.Product.ProductID, pol, now)
	}
	if qty < 0 {
		return c, ErrInvalidQuantity
	}
	i := c.index(o.Product.ProductID)
	if i < 0 {
		return c, ErrItemNotFound
	}
	if err := checkOffer(o, qty); err != nil {
		return c, err
	}
	next := c.clone()
	next.Items[i].Quantity = qty
	next.Items[i].LineTotal = pricing.LineTotal(qty, next.Items[i].UnitPrice)
	return next.touch(pol, now), nil
}

func (c Cart) RemoveItem(productID string, pol Policy, now time.Time) (Cart, error) {
	i := c.index(productID)
	if i < 0 {
		return c, ErrItemNotFound
	}
	next := c.clone()
	next.Items = slices.Delete(next.Items, i, i+1)
	return next.touch(pol, now), nil
}

// ApplyCoupon stores a validated coupon snapshot, replacing any previous one.
func (c Cart) ApplyCoupon(s CouponSnapshot, pol Policy, now time.Time) Cart {
	next := c.clone()
	next.Coupon = &s
	return next.touch(pol, now)
}

func (c Cart) RemoveCoupon(pol Policy, now time.Time) Cart {
	next := c.clone()
	next.Coupon = nil
	return next.touch(pol, now)
}

func (c Cart) SelectShipping(method string, cost int64, pol Policy, now time.Time) Cart {
	next := c.clone()
	next.Shipping = &Shipping{Method: method, Cost: cost}
	return next.touch(pol, now)
}

// Clear drops every line and the coupon. The shipping selection stays.
func (c Cart) Clear(pol Policy, now time.Time) Cart {
	next := c.clone()
	next.Items = []Item{}
	next.Coupon = nil
	return next.touch(pol, now)
}

// ExtendExpiry moves the expiry to days from now, then recomputes like any
// other command.
func (c Cart) ExtendExpiry(days int, pol Policy, now time.Time) (Cart, error) {
	if days < 1 || days > 30 {
		return c, ErrInvalidExtension
	}
	next := c.clone().touch(pol, now)
	if ext := now.Add(time.Duration(days) * 24 * time.Hour); ext.After(next.ExpiresAt) {
		next.ExpiresAt = ext
	}
	return next, nil
}

// Archive retires the cart.
func (c Cart) Archive(reason string, now time.Time) Cart {
	next := c.clone()
	next.Status = StatusArchived
	next.ArchiveReason = reason
	next.UpdatedAt = now
	return next
}

// Recompute derives discount and totals from the lines, coupon and shipping.
func (c Cart) Recompute(pol pricing.Policy) Cart {
	next := c.clone()
	var subtotal int64
	for _, it := range next.Items {
		subtotal += it.LineTotal
	}
	var discount int64
	if next.Coupon != nil {
		discount = next.Coupon.amount(next.Items)
		next.Coupon.Amount = discount
	}
	var ship int64
	if next.Shipping != nil {
		ship = next.Shipping.Cost
	}
	next.Totals = pol.Compute(subtotal, discount, ship, next.NeedsShipping())
	return next
}

func (s CouponSnapshot) amount(items []Item) int64 {
	var base int64
	for _, it := range items {
		if len(s.EligibleProductIDs) == 0 || slices.Contains(s.EligibleProductIDs, it.ProductID) {
			base += it.LineTotal
		}
	}
	return pricing.Discount{Type: s.DiscountType, Value: s.Value, MaxDiscount: s.MaxDiscount}.Amount(base)
}

func checkOffer(o Offer, qty int) error {
	p := o.Product
	if !p.Purchasable() {
		return ErrProductUnavailable
	}
	if p.IsDigital() && p.OneTimePurchase {
		if o.Owned {
			return ErrAlreadyOwned
		}
		if qty > 1 {
			return ErrSingleQuantity
		}
	}
	if p.Tracked() && !p.AllowBackorder && int64(qty) > p.Quantity {
		return &inventory.InsufficientStockError{ProductID: p.ProductID, Requested: int64(qty), Available: max(p.Quantity, 0)}
	}
	return nil
}

func (c Cart) touch(pol Policy, now time.Time) Cart {
	ttl := pol.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	next := c.Recompute(pol.Pricing)
	next.ExpiresAt = now.Add(ttl)
	next.LastActivity = now
	next.UpdatedAt = now
	return next
}

func (c Cart) index(productID string) int {
	return slices.IndexFunc(c.Items, func(it Item) bool { return it.ProductID == productID })
}

// clone copies the slices and pointers so commands never alias the receiver.
func (c Cart) clone() Cart {
	next := c
	next.Items = slices.Clone(c.Items)
	if next.Items == nil {
		next.Items = []Item{}
	}
	if c.Coupon != nil {
		cp := *c.Coupon
		cp.EligibleProductIDs = slices.Clone(c.Coupon.EligibleProductIDs)
		next.Coupon = &cp
	}
	if c.Shipping != nil {
		sh := *c.Shipping
		next.Shipping = &sh
	}
	return next
}
