// Package pricing computes line and order totals. Amounts are integer minor
// currency units; rates go through decimal and round half away from zero.
package pricing

import (
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Totals is the cached price breakdown of a cart or order.
type Totals struct {
	Subtotal int64 `dynamodbav:"subtotal" json:"subtotal"`
	Discount int64 `dynamodbav:"discount" json:"discount"`
	Tax      int64 `dynamodbav:"tax" json:"tax"`
	Shipping int64 `dynamodbav:"shipping" json:"shipping"`
	Total    int64 `dynamodbav:"total" json:"total"`
}

// Policy holds the store-wide pricing rules.
type Policy struct {
	TaxRate decimal.Decimal
	// FreeShippingOver waives shipping when subtotal-discount reaches it. 0 disables.
	FreeShippingOver int64
}

// Discount describes how much a coupon takes off.
type Discount struct {
	Type DiscountType
	// Value is a percentage (10 = 10%) or a fixed amount.
	Value int64
	// MaxDiscount caps the discount. 0 means uncapped.
	MaxDiscount int64
}

// LineTotal returns quantity * unit price.
func LineTotal(qty int, unitPrice int64) int64 {
	return int64(qty) * unitPrice
}

// Amount computes the discount for base, never more than base.
func (d Discount) Amount(base int64) int64 {
	if base <= 0 || d.Value <= 0 {
		return 0
	}
	var amount int64
	switch d.Type {
	case DiscountPercentage:
		amount = round(decimal.NewFromInt(base).Mul(decimal.NewFromInt(d.Value)).Div(decimal.NewFromInt(100)))
	case DiscountFixed:
		amount = d.Value
	}
	if d.MaxDiscount > 0 && amount > d.MaxDiscount {
		amount = d.MaxDiscount
	}
	if amount > base {
		amount = base
	}
	return amount
}

// Compute builds the totals. shipping is the selected method cost and is
// dropped entirely when needsShipping is false.
func (p Policy) Compute(subtotal, discount, shipping int64, needsShipping bool) Totals {
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	taxable := subtotal - discount
	if !needsShipping || (p.FreeShippingOver > 0 && taxable >= p.FreeShippingOver) {
		shipping = 0
	}
	tax := round(decimal.NewFromInt(taxable).Mul(p.TaxRate))
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    taxable + tax + shipping,
	}
}

// Consistent reports whether total = subtotal - discount + tax + shipping.
func (t Totals) Consistent() bool {
	return t.Total == t.Subtotal-t.Discount+t.Tax+t.Shipping
}

func round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
