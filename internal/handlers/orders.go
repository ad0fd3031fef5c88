package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

var errBadCallbackSecret = apperr.Errorf(apperr.EUNAUTHORIZED, "handlers", "Invalid callback secret")

func (a *api) getOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	a.respondOrder(c)(a.Orders.View(c.Request.Context(), c.Param("id"), who))
}

func (a *api) cancelOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	var req validation.CancelOrderRequest
	if err := validation.BindOptional(c, &req, a.v); err != nil {
		return
	}
	a.respondOrder(c)(a.Orders.Cancel(c.Request.Context(), c.Param("id"), who, req.Reason))
}

func (a *api) shipOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	var req validation.ShipOrderRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondOrder(c)(a.Orders.Ship(c.Request.Context(), c.Param("id"), who, req.Carrier, req.TrackingNumber))
}

func (a *api) deliverOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	a.respondOrder(c)(a.Orders.Deliver(c.Request.Context(), c.Param("id"), who))
}

func (a *api) refundOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	var req validation.RefundOrderRequest
	if err := validation.BindOptional(c, &req, a.v); err != nil {
		return
	}
	a.respondOrder(c)(a.Orders.Refund(c.Request.Context(), c.Param("id"), who, req.Amount, req.Reason))
}

func (a *api) updateOrderStatus(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondOrder(c)(a.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), who, orders.Status(req.Status), req.Note))
}

func (a *api) deleteOrder(c *gin.Context) {
	who, err := actor(c)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	if _, err := a.Orders.SoftDelete(c.Request.Context(), c.Param("id"), who); err != nil {
		writeError(c, a.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// paymentCallback applies a gateway notification. Replays are harmless since
// both outcomes are no-ops once applied.
func (a *api) paymentCallback(c *gin.Context) {
	if a.CallbackSecret != "" {
		got := c.GetHeader(HeaderCallbackSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.CallbackSecret)) != 1 {
			writeError(c, a.Logger, errBadCallbackSecret)
			return
		}
	}
	var req validation.PaymentCallbackRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}

	ctx := c.Request.Context()
	raw := string(req.Raw)
	if req.Status == "completed" {
		a.respondOrder(c)(a.Orders.MarkAsPaid(ctx, req.OrderID, req.TransactionID, req.Gateway, raw))
		return
	}
	a.respondOrder(c)(a.Orders.MarkPaymentFailed(ctx, req.OrderID, req.TransactionID, req.Gateway, req.Reason, raw))
}

func (a *api) respondOrder(c *gin.Context) func(*orders.Order, error) {
	return func(o *orders.Order, err error) {
		if err != nil {
			writeError(c, a.Logger, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}
