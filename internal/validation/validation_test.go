package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func intPtr(v int) *int { return &v }

func TestCheckoutRequest_Valid(t *testing.T) {
	v := New()

	req := CheckoutRequest{
		Contact: Contact{Name: "Ada", Email: "ada@example.com"},
		Address: &Address{
			Line1:      "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
		PaymentMethod: "card",
	}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}

	// digital carts send no address
	req.Address = nil
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid without address, got error: %v", err)
	}
}

func TestCheckoutRequest_Invalid(t *testing.T) {
	v := New()

	cases := map[string]CheckoutRequest{
		"bad email":      {Contact: Contact{Email: "nope"}, PaymentMethod: "card"},
		"unknown method": {PaymentMethod: "barter"},
		"bad country":    {PaymentMethod: "card", Address: &Address{Line1: "x", City: "y", PostalCode: "1", Country: "USA"}},
		"missing city":   {PaymentMethod: "card", Address: &Address{Line1: "x", PostalCode: "1", Country: "US"}},
	}
	for name, req := range cases {
		if err := v.Struct(req); err == nil {
			t.Fatalf("%s: expected validation error, got nil", name)
		}
	}
}

func TestUpdateQuantityRequest_ZeroIsAllowed(t *testing.T) {
	v := New()

	if err := v.Struct(UpdateQuantityRequest{Quantity: intPtr(0)}); err != nil {
		t.Fatalf("expected zero to be valid, got %v", err)
	}
	if err := v.Struct(UpdateQuantityRequest{}); err == nil {
		t.Fatal("expected missing quantity to fail")
	}
	if err := v.Struct(UpdateQuantityRequest{Quantity: intPtr(-1)}); err == nil {
		t.Fatal("expected negative quantity to fail")
	}
}

func TestPaymentCallback_FailedNeedsReason(t *testing.T) {
	v := New()

	req := PaymentCallbackRequest{OrderID: "o1", Status: "failed", TransactionID: "tx", Gateway: "stripe"}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for failed payment without reason, got nil")
	}
	req.Reason = "card declined"
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	req = PaymentCallbackRequest{OrderID: "o1", Status: "completed", TransactionID: "tx", Gateway: "stripe"}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	for name, body := range map[string]string{
		"malformed": `{"product_id":`,
		"invalid":   `{"product_id":"p1","quantity":0}`,
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/carts/c1/items", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")

		var req AddItemRequest
		if err := BindAndValidate(c, &req, v); err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"error":"invalid"`) {
			t.Fatalf("%s: unexpected body %s", name, w.Body.String())
		}
	}
}

func TestBindOptional_EmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders/o1/cancel", nil)

	var req CancelOrderRequest
	if err := BindOptional(c, &req, New()); err != nil {
		t.Fatalf("expected empty body to pass, got %v", err)
	}
}
