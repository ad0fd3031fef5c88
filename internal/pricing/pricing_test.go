package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCompute_PercentageCouponWithShippingAndTax(t *testing.T) {
	p := Policy{TaxRate: decimal.RequireFromString("0.09")}
	d := Discount{Type: DiscountPercentage, Value: 10}

	discount := d.Amount(1_000_000)
	got := p.Compute(1_000_000, discount, 90_000, true)

	assert.Equal(t, Totals{
		Subtotal: 1_000_000,
		Discount: 100_000,
		Tax:      81_000,
		Shipping: 90_000,
		Total:    1_071_000,
	}, got)
	assert.True(t, got.Consistent())
}

func TestDiscount_Amount(t *testing.T) {
	cases := []struct {
		name string
		d    Discount
		base int64
		want int64
	}{
		{"percentage", Discount{Type: DiscountPercentage, Value: 15}, 1000, 150},
		{"percentage rounds down below half", Discount{Type: DiscountPercentage, Value: 15}, 1003, 150},
		{"percentage rounds half up", Discount{Type: DiscountPercentage, Value: 15}, 1010, 152},
		{"percentage rounding", Discount{Type: DiscountPercentage, Value: 50}, 1001, 501},
		{"percentage capped", Discount{Type: DiscountPercentage, Value: 50, MaxDiscount: 200}, 1000, 200},
		{"fixed", Discount{Type: DiscountFixed, Value: 300}, 1000, 300},
		{"fixed floored at base", Discount{Type: DiscountFixed, Value: 5000}, 1000, 1000},
		{"empty base", Discount{Type: DiscountFixed, Value: 5000}, 0, 0},
		{"unknown type", Discount{Type: "bogus", Value: 10}, 1000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.Amount(tc.base))
		})
	}
}

func TestCompute_Shipping(t *testing.T) {
	p := Policy{TaxRate: decimal.Zero, FreeShippingOver: 500}

	assert.Equal(t, int64(0), p.Compute(100, 0, 90, false).Shipping, "digital-only carts ship free")
	assert.Equal(t, int64(90), p.Compute(100, 0, 90, true).Shipping)
	assert.Equal(t, int64(0), p.Compute(600, 0, 90, true).Shipping, "over the threshold")
	assert.Equal(t, int64(90), p.Compute(600, 200, 90, true).Shipping, "threshold applies after discount")
}

func TestCompute_DiscountClamped(t *testing.T) {
	p := Policy{TaxRate: decimal.RequireFromString("0.1")}
	got := p.Compute(100, 150, 0, false)
	assert.Equal(t, int64(100), got.Discount)
	assert.Equal(t, int64(0), got.Total)
	assert.True(t, got.Consistent())
}
