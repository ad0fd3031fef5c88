// Package app wires the configured services for the binaries.
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/coupons"
	"github.com/imrishuroy/go-storefront-checkout/internal/entitlements"
	"github.com/imrishuroy/go-storefront-checkout/internal/handlers"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/identity"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/notify"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/pricing"
)

// App holds the services built from one Config.
type App struct {
	Carts       *carts.Service
	Checkout    *checkout.Pipeline
	Orders      *orders.Service
	Idempotency *idempotency.Store
}

// Tables lists every table the services use with its partition key.
func Tables(t config.TablesConfig) []aws.TableSpec {
	return []aws.TableSpec{
		{Name: t.Carts, Key: "cart_id"},
		{Name: t.Orders, Key: "order_id"},
		{Name: t.Products, Key: "product_id"},
		{Name: t.Coupons, Key: "code"},
		{Name: t.Users, Key: "user_id"},
		{Name: t.Entitlements, Key: "entitlement_id"},
		{Name: t.Idempotency, Key: "idempotency_key"},
	}
}

// New builds the services over clients. Notifications go to SQS when a queue
// is configured and metrics to CloudWatch when enabled.
func New(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, lg *zap.Logger) (*App, error) {
	if cfg.AWS.CreateTables {
		if err := aws.EnsureTables(ctx, clients.DynamoDB, Tables(cfg.Tables)...); err != nil {
			return nil, err
		}
	}
	rate, err := cfg.Pricing.Rate()
	if err != nil {
		return nil, err
	}
	methods, err := cfg.Pricing.Methods()
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Queue.NotificationsURL != "" {
		notifier = notify.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.Queue.NotificationsURL))
	}
	var metrics aws.Metrics = aws.NopMetrics{}
	if cfg.Metrics.Enabled {
		metrics = aws.NewMetricsEmitter(clients.CloudWatch, cfg.Metrics.Namespace, lg.Named("metrics"))
	}

	db := clients.DynamoDB
	catalogStore := catalog.NewStore(db, cfg.Tables.Products)
	couponStore := coupons.NewStore(db, cfg.Tables.Coupons)
	validator := coupons.NewStoreValidator(couponStore)
	grants := entitlements.NewStore(db, cfg.Tables.Entitlements)
	stock := inventory.NewLedger(db, cfg.Tables.Products, lg.Named("inventory"))
	cartStore := carts.NewStore(db, cfg.Tables.Carts)
	orderStore := orders.NewStore(db, cfg.Tables.Orders)

	cartSvc := carts.NewService(cartStore, carts.Deps{
		Catalog:         catalogStore,
		Coupons:         validator,
		Owned:           grants,
		ShippingMethods: methods,
	}, carts.Policy{
		Pricing: pricing.Policy{TaxRate: rate, FreeShippingOver: cfg.Pricing.FreeShippingOver},
		TTL:     cfg.Cart.TTL,
	}, lg.Named("carts"))

	return &App{
		Carts: cartSvc,
		Checkout: checkout.NewPipeline(checkout.Deps{
			DB:        db,
			Carts:     cartSvc,
			CartStore: cartStore,
			Orders:    orderStore,
			Catalog:   catalogStore,
			Stock:     stock,
			Coupons:   validator,
			Ledger:    coupons.NewLedger(couponStore),
			Notifier:  notifier,
			Metrics:   metrics,
		}, checkout.Options{}, lg.Named("checkout")),
		Orders: orders.NewService(orderStore, orders.Deps{
			Directory: identity.NewStore(db, cfg.Tables.Users),
			Stock:     stock,
			Grants:    grants,
			Notifier:  notifier,
			Metrics:   metrics,
		}, lg.Named("orders")),
		Idempotency: idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
	}, nil
}

// HandlerConfig adapts the services for handlers.Register.
func (a *App) HandlerConfig(cfg *config.Config, lg *zap.Logger) handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Carts:          a.Carts,
		Checkout:       a.Checkout,
		Orders:         a.Orders,
		Idempotency:    a.Idempotency,
		Logger:         lg.Named("http"),
		CallbackSecret: cfg.CallbackSecret,
	}
}
