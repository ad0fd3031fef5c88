package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

var statusByCode = map[string]int{
	apperr.EINVALID:       http.StatusBadRequest,
	apperr.EUNAUTHORIZED:  http.StatusUnauthorized,
	apperr.EFORBIDDEN:     http.StatusForbidden,
	apperr.ENOTFOUND:      http.StatusNotFound,
	apperr.ECONFLICT:      http.StatusConflict,
	apperr.EGONE:          http.StatusGone,
	apperr.EUNPROCESSABLE: http.StatusUnprocessableEntity,
	apperr.EINTERNAL:      http.StatusInternalServerError,
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	if s, ok := statusByCode[apperr.Code(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": code, "message": ...} plus details for
// the typed errors clients can act on. Internal errors are logged, never shown.
func writeError(c *gin.Context, lg *zap.Logger, err error) {
	code := apperr.Code(err)
	body := gin.H{"error": code, "message": apperr.Message(err)}

	var (
		cve *checkout.CartValidationError
		ise *inventory.InsufficientStockError
		ite *orders.InvalidTransitionError
	)
	switch {
	case errors.As(err, &cve):
		body["problems"] = cve.Problems
	case errors.As(err, &ise):
		body["product_id"] = ise.ProductID
		body["available"] = ise.Available
	case errors.As(err, &ite):
		body["from"] = ite.From
		body["to"] = ite.To
	}

	if code == apperr.EINTERNAL {
		lg.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(HTTPStatus(err), body)
}
