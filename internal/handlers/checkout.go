package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

const headerReplayed = "Idempotent-Replayed"

// checkout places an order from cart :id. The Idempotency-Key header makes
// retries safe: a finished attempt is replayed byte for byte, a failed one may
// be retried with the same key.
func (a *api) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	clientKey := c.GetHeader(HeaderIdempotencyKey)
	if clientKey == "" {
		writeError(c, a.Logger, idempotency.ErrMissingKey)
		return
	}

	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	cartID := c.Param("id")
	o := owner(c)

	canonical, err := json.Marshal(req)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	key := idempotency.Key("checkout:"+cartID, clientKey)
	fp := idempotency.Fingerprint(cartID, o.UserID, o.GuestToken, string(canonical))

	rec, err := a.Idempotency.Begin(ctx, key, fp)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	if rec != nil {
		if !rec.Replayable() {
			writeError(c, a.Logger, idempotency.ErrInProgress)
			return
		}
		c.Header(headerReplayed, "true")
		if rec.OrderID != "" {
			c.Header("Location", "/orders/"+rec.OrderID)
		}
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		return
	}

	order, err := a.Checkout.Checkout(ctx, checkoutRequest(cartID, o, req))
	if err != nil {
		if markErr := a.Idempotency.MarkFailed(ctx, key, err.Error()); markErr != nil {
			a.Logger.Warn("release idempotency key", zap.String("key", key), zap.Error(markErr))
		}
		if existing := a.placedOrder(c, cartID, o, err); existing != nil {
			c.Header("Location", "/orders/"+existing.OrderID)
			c.AbortWithStatusJSON(HTTPStatus(err), gin.H{
				"error":    apperr.Code(err),
				"message":  apperr.Message(err),
				"order_id": existing.OrderID,
			})
			return
		}
		writeError(c, a.Logger, err)
		return
	}

	body, err := json.Marshal(order)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	if err := a.Idempotency.MarkDone(ctx, key, order.OrderID, string(body), http.StatusCreated); err != nil {
		a.Logger.Warn("store idempotent response",
			zap.String("key", key),
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}
	c.Header("Location", "/orders/"+order.OrderID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// placedOrder finds the order a converted cart already turned into, so a
// buyer whose first attempt lost its response learns where the order is.
// Returns nil unless err says the cart is gone and the caller placed it.
func (a *api) placedOrder(c *gin.Context, cartID string, o carts.Owner, err error) *orders.Order {
	if !errors.Is(err, carts.ErrCartNotActive) && !errors.Is(err, checkout.ErrOutcomeUnknown) {
		return nil
	}
	existing, findErr := a.Orders.FindOpenByCart(c.Request.Context(), cartID)
	if findErr != nil {
		a.Logger.Warn("find order for cart", zap.String("cart_id", cartID), zap.Error(findErr))
		return nil
	}
	if existing == nil || !existing.PlacedBy(orders.Actor{UserID: o.UserID, GuestToken: o.GuestToken}) {
		return nil
	}
	return existing
}

func checkoutRequest(cartID string, o carts.Owner, req validation.CheckoutRequest) checkout.Request {
	out := checkout.Request{
		CartID: cartID,
		Owner:  o,
		Contact: orders.Contact{
			Name:  req.Contact.Name,
			Email: req.Contact.Email,
			Phone: req.Contact.Phone,
		},
		PaymentMethod: req.PaymentMethod,
	}
	if ad := req.Address; ad != nil {
		out.Address = &orders.Address{
			Line1:      ad.Line1,
			Line2:      ad.Line2,
			City:       ad.City,
			State:      ad.State,
			PostalCode: ad.PostalCode,
			Country:    ad.Country,
		}
	}
	return out
}
