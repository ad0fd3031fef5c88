package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

type Status string

// Order statuses
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

type PaymentStatus string

// Payment statuses
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Order represents the item stored in the orders table. Totals and line
// prices are frozen at creation.
type Order struct {
	OrderID     string `dynamodbav:"order_id" json:"order_id"` // PK
	OrderNumber string `dynamodbav:"order_number" json:"order_number"`
	UserID      string `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	GuestToken  string `dynamodbav:"guest_token,omitempty" json:"-"`
	CartID      string `dynamodbav:"cart_id" json:"cart_id"`

	Items    []Item          `dynamodbav:"items" json:"items"`
	Contact  Contact         `dynamodbav:"contact" json:"contact"`
	Shipping ShippingInfo    `dynamodbav:"shipping" json:"shipping"`
	Payment  Payment         `dynamodbav:"payment" json:"payment"`
	Totals   pricing.Totals  `dynamodbav:"totals" json:"totals"`
	Coupon   *CouponSnapshot `dynamodbav:"coupon,omitempty" json:"coupon,omitempty"`

	Status        Status         `dynamodbav:"status" json:"status"`
	StatusHistory []HistoryEntry `dynamodbav:"status_history" json:"status_history"`
	Cancellation  *Cancellation  `dynamodbav:"cancellation,omitempty" json:"cancellation,omitempty"`
	Refund        *Refund        `dynamodbav:"refund,omitempty" json:"refund,omitempty"`
	Shipment      *Shipment      `dynamodbav:"shipment,omitempty" json:"shipment,omitempty"`

	// RestockPending marks a cancelled order whose lines are not all back in
	// stock. The reconcile sweep picks these up.
	RestockPending bool `dynamodbav:"restock_pending,omitempty" json:"-"`

	Deleted   bool       `dynamodbav:"deleted" json:"-"`
	DeletedAt *time.Time `dynamodbav:"deleted_at,omitempty" json:"-"`
	DeletedBy string     `dynamodbav:"deleted_by,omitempty" json:"-"`

	Version   int64     `dynamodbav:"version" json:"version"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Item is a denormalised order line.
type Item struct {
	ProductID         string              `dynamodbav:"product_id" json:"product_id"`
	Name              string              `dynamodbav:"name" json:"name"`
	ProductType       catalog.ProductType `dynamodbav:"product_type" json:"product_type"`
	Quantity          int                 `dynamodbav:"quantity" json:"quantity"`
	UnitPrice         int64               `dynamodbav:"unit_price" json:"unit_price"`
	LineTotal         int64               `dynamodbav:"line_total" json:"line_total"`
	InventoryReserved bool                `dynamodbav:"inventory_reserved" json:"-"`
	Download          *Download           `dynamodbav:"download,omitempty" json:"download,omitempty"`
	// Restocked is set once a cancellation gave this line's stock back.
	Restocked bool `dynamodbav:"restocked,omitempty" json:"-"`
}

// Download bounds access to a digital line. Zero values mean unlimited.
type Download struct {
	Limit         int `dynamodbav:"limit" json:"limit"`
	ExpiresInDays int `dynamodbav:"expires_in_days" json:"expires_in_days"`
}

type Contact struct {
	Name  string `dynamodbav:"name" json:"name"`
	Email string `dynamodbav:"email" json:"email"`
	Phone string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

type Address struct {
	Line1      string `dynamodbav:"line1" json:"line1"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	PostalCode string `dynamodbav:"postal_code" json:"postal_code"`
	Country    string `dynamodbav:"country" json:"country"`
}

type ShippingInfo struct {
	Method  string   `dynamodbav:"method,omitempty" json:"method,omitempty"`
	Cost    int64    `dynamodbav:"cost" json:"cost"`
	Address *Address `dynamodbav:"address,omitempty" json:"address,omitempty"`
}

type Payment struct {
	Method        string        `dynamodbav:"method" json:"method"`
	Status        PaymentStatus `dynamodbav:"status" json:"status"`
	Gateway       string        `dynamodbav:"gateway,omitempty" json:"gateway,omitempty"`
	TransactionID string        `dynamodbav:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Amount        int64         `dynamodbav:"amount" json:"amount"`
	RawResponse   string        `dynamodbav:"raw_response,omitempty" json:"-"`
	PaidAt        *time.Time    `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
	FailureReason string        `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`
}

type CouponSnapshot struct {
	Code         string               `dynamodbav:"code" json:"code"`
	DiscountType pricing.DiscountType `dynamodbav:"discount_type" json:"discount_type"`
	Value        int64                `dynamodbav:"value" json:"value"`
	Amount       int64                `dynamodbav:"amount" json:"amount"`
}

// HistoryEntry is one status change. The history is append-only.
type HistoryEntry struct {
	Status Status    `dynamodbav:"status" json:"status"`
	Actor  string    `dynamodbav:"actor" json:"actor"`
	At     time.Time `dynamodbav:"at" json:"at"`
	Note   string    `dynamodbav:"note,omitempty" json:"note,omitempty"`
}

type Cancellation struct {
	Actor             string    `dynamodbav:"actor" json:"actor"`
	Reason            string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	At                time.Time `dynamodbav:"at" json:"at"`
	InventoryReleased bool      `dynamodbav:"inventory_released" json:"inventory_released"`
}

type Refund struct {
	Actor  string    `dynamodbav:"actor" json:"actor"`
	Amount int64     `dynamodbav:"amount" json:"amount"`
	Reason string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	At     time.Time `dynamodbav:"at" json:"at"`
}

type Shipment struct {
	Carrier        string     `dynamodbav:"carrier,omitempty" json:"carrier,omitempty"`
	TrackingNumber string     `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `dynamodbav:"shipped_at,omitempty" json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`
}

// AllDigital reports whether nothing in the order ships.
func (o Order) AllDigital() bool {
	for _, it := range o.Items {
		if it.ProductType != catalog.TypeDigital {
			return false
		}
	}
	return len(o.Items) > 0
}

func (o Order) needsRestock() bool {
	for _, it := range o.Items {
		if !it.Restocked {
			return true
		}
	}
	return false
}

// Buyer is the key the buyer is known by in notifications and entitlements.
func (o Order) Buyer() string {
	if o.UserID != "" {
		return o.UserID
	}
	return "guest:" + o.GuestToken
}

// Recipient is the notification address of the buyer.
func (o Order) Recipient() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "guest:" + o.GuestToken
}

// PlacedBy reports whether a is the buyer.
func (o Order) PlacedBy(a Actor) bool {
	if o.UserID != "" {
		return a.UserID == o.UserID
	}
	return o.GuestToken != "" && a.GuestToken == o.GuestToken
}

// Actor is whoever drives a transition: a buyer, staff, or a system hook.
type Actor struct {
	UserID     string
	GuestToken string
	// System names a non-human actor such as a payment gateway.
	System string
}

func (a Actor) String() string {
	switch {
	case a.System != "":
		return "system:" + a.System
	case a.UserID != "":
		return "user:" + a.UserID
	case a.GuestToken != "":
		return "guest"
	}
	return "anonymous"
}

// NewOrderNumber builds the human readable ORD-YYMMDD-XXXXXXXX number.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("060102") + "-" + suffix
}
