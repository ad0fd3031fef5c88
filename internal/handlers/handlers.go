package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// Caller identity headers. Authentication happens upstream.
const (
	HeaderUserID         = "X-User-ID"
	HeaderGuestToken     = "X-Guest-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-Id"
	HeaderCallbackSecret = "X-Callback-Secret"
)

var ErrNoIdentity = apperr.Errorf(apperr.EUNAUTHORIZED, "handlers", "Send X-User-ID or X-Guest-Token")

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Carts       *carts.Service
	Checkout    *checkout.Pipeline
	Orders      *orders.Service
	Idempotency *idempotency.Store
	Logger      *zap.Logger
	// CallbackSecret, when set, must be sent by the payment gateway.
	CallbackSecret string
}

type api struct {
	HandlerConfig
	v *validatorv10.Validate
}

// Register mounts every route on r.
func Register(r *gin.Engine, cfg HandlerConfig) {
	a := &api{HandlerConfig: cfg, v: validation.New()}
	r.Use(requestLogger(cfg.Logger))

	cg := r.Group("/carts")
	cg.POST("", a.createCart)
	cg.GET("/:id", a.getCart)
	cg.POST("/:id/items", a.addItem)
	cg.PATCH("/:id/items/:productId", a.updateItem)
	cg.DELETE("/:id/items/:productId", a.removeItem)
	cg.DELETE("/:id/items", a.clearCart)
	cg.POST("/:id/coupon", a.applyCoupon)
	cg.DELETE("/:id/coupon", a.removeCoupon)
	cg.PUT("/:id/shipping", a.selectShipping)
	cg.POST("/:id/extend", a.extendCart)
	cg.POST("/:id/merge", a.mergeCart)
	cg.POST("/:id/checkout", a.checkout)

	og := r.Group("/orders")
	og.GET("/:id", a.getOrder)
	og.POST("/:id/cancel", a.cancelOrder)
	og.POST("/:id/ship", a.shipOrder)
	og.POST("/:id/deliver", a.deliverOrder)
	og.POST("/:id/refund", a.refundOrder)
	og.POST("/:id/status", a.updateOrderStatus)
	og.DELETE("/:id", a.deleteOrder)

	r.POST("/payments/callback", a.paymentCallback)
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Next()

		lg.Info("request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func owner(c *gin.Context) carts.Owner {
	return carts.Owner{UserID: c.GetHeader(HeaderUserID), GuestToken: c.GetHeader(HeaderGuestToken)}
}

func actor(c *gin.Context) (orders.Actor, error) {
	a := orders.Actor{UserID: c.GetHeader(HeaderUserID), GuestToken: c.GetHeader(HeaderGuestToken)}
	if a.UserID == "" && a.GuestToken == "" {
		return a, ErrNoIdentity
	}
	return a, nil
}
