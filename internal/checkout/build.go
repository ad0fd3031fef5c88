package checkout

import (
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

// reprice refreshes every line from the catalog and recomputes the totals.
// The stored cart keeps its own snapshot.
func reprice(c carts.Cart, products []*catalog.Product, pol carts.Policy, now time.Time) carts.Cart {
	items := make([]carts.Item, len(c.Items))
	for i, it := range c.Items {
		p := products[i]
		it.Name = p.Name
		it.ProductType = p.Type
		it.UnitPrice = p.CurrentPrice(now)
		it.LineTotal = pricing.LineTotal(it.Quantity, it.UnitPrice)
		items[i] = it
	}
	c.Items = items
	return c.Recompute(pol.Pricing)
}

func buildOrder(orderID string, c carts.Cart, products []*catalog.Product, held []reservation, req Request, now time.Time) orders.Order {
	reserved := make(map[string]bool, len(held))
	for _, r := range held {
		reserved[r.productID] = true
	}

	items := make([]orders.Item, len(c.Items))
	for i, it := range c.Items {
		line := orders.Item{
			ProductID:         it.ProductID,
			Name:              it.Name,
			ProductType:       it.ProductType,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			LineTotal:         it.LineTotal,
			InventoryReserved: reserved[it.ProductID],
		}
		if p := products[i]; p.IsDigital() {
			line.Download = &orders.Download{Limit: p.DownloadLimit, ExpiresInDays: p.DownloadExpiryDays}
		}
		items[i] = line
	}

	buyer := orders.Actor{UserID: c.UserID, GuestToken: c.GuestToken}
	o := orders.Order{
		OrderID:     orderID,
		OrderNumber: orders.NewOrderNumber(now),
		UserID:      c.UserID,
		GuestToken:  c.GuestToken,
		CartID:      c.CartID,
		Items:       items,
		Contact:     req.Contact,
		Shipping:    orders.ShippingInfo{Cost: c.Totals.Shipping},
		Payment:     orders.Payment{Method: req.PaymentMethod, Status: orders.PaymentPending},
		Totals:      c.Totals,
		Status:      orders.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.StatusHistory = []orders.HistoryEntry{{Status: orders.StatusPending, Actor: buyer.String(), At: now, Note: "order placed"}}
	if c.Shipping != nil && c.NeedsShipping() {
		o.Shipping.Method = c.Shipping.Method
		o.Shipping.Address = req.Address
	}
	if c.Coupon != nil {
		o.Coupon = &orders.CouponSnapshot{
			Code:         c.Coupon.Code,
			DiscountType: c.Coupon.DiscountType,
			Value:        c.Coupon.Value,
			Amount:       c.Coupon.Amount,
		}
	}
	return o
}
