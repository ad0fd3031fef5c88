package coupons

import (
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

// Coupon is the item stored in the coupons table. The usage fields form the
// ledger and are only written by Ledger.Consume.
type Coupon struct {
	Code               string               `dynamodbav:"code"` // PK
	DiscountType       pricing.DiscountType `dynamodbav:"discount_type"`
	Value              int64                `dynamodbav:"value"`
	MaxDiscount        int64                `dynamodbav:"max_discount,omitempty"`
	MinSubtotal        int64                `dynamodbav:"min_subtotal,omitempty"`
	EligibleProductIDs []string             `dynamodbav:"eligible_product_ids,omitempty,stringset"`
	PerUserLimit       int                  `dynamodbav:"per_user_limit,omitempty"`
	ValidFrom          *time.Time           `dynamodbav:"valid_from,omitempty"`
	ValidUntil         *time.Time           `dynamodbav:"valid_until,omitempty"`
	Active             bool                 `dynamodbav:"active"`

	UsageCount int64 `dynamodbav:"usage_count"`
	// UsageLimit nil means unlimited; the attribute is then absent.
	UsageLimit    *int64       `dynamodbav:"usage_limit,omitempty"`
	TotalDiscount int64        `dynamodbav:"total_discount"`
	UsageHistory  []UsageEntry `dynamodbav:"usage_history"`

	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// UsageEntry records one consumed slot.
type UsageEntry struct {
	UserID  string    `dynamodbav:"user_id,omitempty"`
	OrderID string    `dynamodbav:"order_id"`
	Amount  int64     `dynamodbav:"amount"`
	At      time.Time `dynamodbav:"at"`
}

// UsesBy counts the slots consumed by userID.
func (c Coupon) UsesBy(userID string) int {
	n := 0
	for _, u := range c.UsageHistory {
		if u.UserID == userID {
			n++
		}
	}
	return n
}

// Exhausted reports whether the cap has been reached.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// Discount is the verdict of a successful validation.
type Discount struct {
	Code        string               `json:"code"`
	Type        pricing.DiscountType `json:"discount_type"`
	Value       int64                `json:"value"`
	MaxDiscount int64                `json:"max_discount,omitempty"`
	Amount      int64                `json:"amount"`

	// EligibleProductIDs restricts the discount base. Empty means the whole subtotal.
	EligibleProductIDs []string `json:"eligible_product_ids,omitempty"`
}

// Line is the part of a cart line the validator needs.
type Line struct {
	ProductID string
	LineTotal int64
}

// Request asks whether a code applies to a buyer's lines.
type Request struct {
	Code     string
	UserID   string // empty for guests
	Subtotal int64
	Lines    []Line
}
