package catalog

import "time"

// ProductType distinguishes shippable goods from downloads.
type ProductType string

const (
	TypePhysical ProductType = "physical"
	TypeDigital  ProductType = "digital"
)

// Stock statuses derived from the tracked quantity.
const (
	StockInStock   = "in_stock"
	StockLow       = "low_stock"
	StockOut       = "out_of_stock"
	StockBackorder = "on_backorder"
)

// Inventory is embedded in the product document.
type Inventory struct {
	TrackQuantity     bool   `dynamodbav:"track_quantity"`
	Quantity          int64  `dynamodbav:"quantity"`
	LowStockThreshold int64  `dynamodbav:"low_stock_threshold"`
	AllowBackorder    bool   `dynamodbav:"allow_backorder"`
	StockStatus       string `dynamodbav:"stock_status"`
	TotalSales        int64  `dynamodbav:"total_sales"`
}

// Product is the item stored in the products table. Inventory fields are
// flattened into the document so ledger updates can address them directly.
type Product struct {
	ProductID string      `dynamodbav:"product_id"` // PK
	Name      string      `dynamodbav:"name"`
	Type      ProductType `dynamodbav:"product_type"`
	Published bool        `dynamodbav:"published"`
	Active    bool        `dynamodbav:"active"`

	Price        int64      `dynamodbav:"price"`
	SalePrice    int64      `dynamodbav:"sale_price,omitempty"`
	SaleStartsAt *time.Time `dynamodbav:"sale_starts_at,omitempty"`
	SaleEndsAt   *time.Time `dynamodbav:"sale_ends_at,omitempty"`

	// OneTimePurchase digital products can be owned once per user.
	OneTimePurchase    bool `dynamodbav:"one_time_purchase,omitempty"`
	DownloadLimit      int  `dynamodbav:"download_limit,omitempty"`
	DownloadExpiryDays int  `dynamodbav:"download_expiry_days,omitempty"`

	Inventory

	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// CurrentPrice returns the sale price while a sale is running, else the base price.
func (p Product) CurrentPrice(now time.Time) int64 {
	if p.SalePrice <= 0 || p.SalePrice >= p.Price {
		return p.Price
	}
	if p.SaleStartsAt != nil && now.Before(*p.SaleStartsAt) {
		return p.Price
	}
	if p.SaleEndsAt != nil && now.After(*p.SaleEndsAt) {
		return p.Price
	}
	return p.SalePrice
}

// Purchasable reports whether the product can be put in a cart.
func (p Product) Purchasable() bool {
	return p.Published && p.Active
}

// IsDigital reports whether the product needs no shipping.
func (p Product) IsDigital() bool {
	return p.Type == TypeDigital
}

// Tracked reports whether the inventory ledger governs this product.
func (p Product) Tracked() bool {
	return p.Type == TypePhysical && p.TrackQuantity
}

// StockStatus derives the status from quantity, threshold and backorder policy.
func StockStatus(qty, lowThreshold int64, allowBackorder bool) string {
	switch {
	case qty <= 0 && allowBackorder:
		return StockBackorder
	case qty <= 0:
		return StockOut
	case qty <= lowThreshold:
		return StockLow
	default:
		return StockInStock
	}
}
