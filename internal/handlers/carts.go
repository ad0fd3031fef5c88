package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-checkout/internal/carts"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// createCart opens a cart for the signed-in user, or for a guest. A guest
// without a token gets a fresh one in the response header.
func (a *api) createCart(c *gin.Context) {
	o := owner(c)
	if o.UserID != "" {
		o.GuestToken = ""
	} else if o.GuestToken == "" {
		o.GuestToken = uuid.NewString()
		c.Header(HeaderGuestToken, o.GuestToken)
	}
	cart, err := a.Carts.Create(c.Request.Context(), o)
	if err != nil {
		writeError(c, a.Logger, err)
		return
	}
	c.Header("Location", "/carts/"+cart.CartID)
	c.JSON(http.StatusCreated, cart)
}

func (a *api) getCart(c *gin.Context) {
	a.respondCart(c)(a.Carts.Get(c.Request.Context(), c.Param("id"), owner(c)))
}

func (a *api) addItem(c *gin.Context) {
	var req validation.AddItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondCart(c)(a.Carts.AddItem(c.Request.Context(), c.Param("id"), owner(c), req.ProductID, req.Quantity))
}

func (a *api) updateItem(c *gin.Context) {
	var req validation.UpdateQuantityRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondCart(c)(a.Carts.UpdateQuantity(c.Request.Context(), c.Param("id"), owner(c), c.Param("productId"), *req.Quantity))
}

func (a *api) removeItem(c *gin.Context) {
	a.respondCart(c)(a.Carts.RemoveItem(c.Request.Context(), c.Param("id"), owner(c), c.Param("productId")))
}

func (a *api) clearCart(c *gin.Context) {
	a.respondCart(c)(a.Carts.Clear(c.Request.Context(), c.Param("id"), owner(c)))
}

func (a *api) applyCoupon(c *gin.Context) {
	var req validation.ApplyCouponRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondCart(c)(a.Carts.ApplyCoupon(c.Request.Context(), c.Param("id"), owner(c), req.Code))
}

func (a *api) removeCoupon(c *gin.Context) {
	a.respondCart(c)(a.Carts.RemoveCoupon(c.Request.Context(), c.Param("id"), owner(c)))
}

func (a *api) selectShipping(c *gin.Context) {
	var req validation.SelectShippingRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondCart(c)(a.Carts.SelectShipping(c.Request.Context(), c.Param("id"), owner(c), req.Method))
}

func (a *api) extendCart(c *gin.Context) {
	var req validation.ExtendCartRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	a.respondCart(c)(a.Carts.ExtendExpiry(c.Request.Context(), c.Param("id"), owner(c), req.Days))
}

// mergeCart folds a guest cart into the caller's cart :id. The path id "new"
// asks for a fresh user cart.
func (a *api) mergeCart(c *gin.Context) {
	var req validation.MergeCartRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		writeError(c, a.Logger, ErrNoIdentity)
		return
	}
	userCartID := c.Param("id")
	if userCartID == "new" {
		userCartID = req.UserCartID
	}
	a.respondCart(c)(a.Carts.Merge(c.Request.Context(), req.GuestCartID, req.GuestToken, userCartID, userID))
}

func (a *api) respondCart(c *gin.Context) func(*carts.Cart, error) {
	return func(cart *carts.Cart, err error) {
		if err != nil {
			writeError(c, a.Logger, err)
			return
		}
		c.JSON(http.StatusOK, cart)
	}
}
