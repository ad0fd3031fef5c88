package validation

import "encoding/json"

// AddItemRequest is the payload for POST /carts/:id/items
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=999"`
}

// UpdateQuantityRequest is the payload for PATCH /carts/:id/items/:productId.
// A zero quantity removes the line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=999"`
}

type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type SelectShippingRequest struct {
	Method string `json:"method" validate:"required"`
}

type ExtendCartRequest struct {
	Days int `json:"days" validate:"required,min=1,max=30"`
}

// MergeCartRequest merges a guest cart into the signed-in user's cart. An
// empty UserCartID creates a new user cart.
type MergeCartRequest struct {
	GuestCartID string `json:"guest_cart_id" validate:"required"`
	GuestToken  string `json:"guest_token" validate:"required"`
	UserCartID  string `json:"user_cart_id,omitempty"`
}

// Contact is the buyer's contact block.
type Contact struct {
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"max=32"`
}

// Address is a postal shipping address.
type Address struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// CheckoutRequest is the payload for POST /carts/:id/checkout
type CheckoutRequest struct {
	Contact       Contact  `json:"contact"`
	Address       *Address `json:"shipping_address,omitempty" validate:"omitempty"`
	PaymentMethod string   `json:"payment_method" validate:"required,oneof=card paypal bank_transfer"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ShipOrderRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=64"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=128"`
}

// RefundOrderRequest refunds part or all of the paid amount. Zero refunds everything.
type RefundOrderRequest struct {
	Amount int64  `json:"amount" validate:"min=0"`
	Reason string `json:"reason" validate:"max=500"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled refunded"`
	Note   string `json:"note" validate:"max=500"`
}

// PaymentCallbackRequest is what the payment gateway posts to /payments/callback
type PaymentCallbackRequest struct {
	OrderID       string          `json:"order_id" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=completed failed"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	Gateway       string          `json:"gateway" validate:"required"`
	Reason        string          `json:"reason,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}
