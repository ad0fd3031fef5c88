package checkout

import (
	"fmt"
	"strings"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
)

var (
	ErrEmptyCart        = apperr.Errorf(apperr.EUNPROCESSABLE, "checkout.validate", "Cart is empty")
	ErrShippingRequired = apperr.Errorf(apperr.EUNPROCESSABLE, "checkout.validate", "Select a shipping method first")
	ErrAddressRequired  = apperr.Errorf(apperr.EINVALID, "checkout.validate", "A shipping address is required")
	ErrContactRequired  = apperr.Errorf(apperr.EINVALID, "checkout.validate", "A contact email is required")
)

// ErrOutcomeUnknown means the order commit could not be confirmed either way.
var ErrOutcomeUnknown = apperr.Errorf(apperr.ECONFLICT, "checkout.commit", "Order status could not be confirmed; check your orders before retrying")

// Line problem reasons.
const (
	ReasonNotFound    = "not_found"
	ReasonUnpublished = "unpublished"
	ReasonInactive    = "inactive"
)

// LineProblem explains why one cart line cannot be bought.
type LineProblem struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// CartValidationError lists every line that failed validation.
type CartValidationError struct {
	Problems []LineProblem
}

func (e *CartValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.ProductID+" "+p.Reason)
	}
	return fmt.Sprintf("cart has %d unavailable lines: %s", len(e.Problems), strings.Join(parts, ", "))
}

func (e *CartValidationError) Code() string { return apperr.EUNPROCESSABLE }
