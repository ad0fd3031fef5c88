package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a declined payment must say why
	v.RegisterStructValidation(paymentCallbackStructValidation, PaymentCallbackRequest{})

	return v
}

func paymentCallbackStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PaymentCallbackRequest)
	if req.Status == "failed" && req.Reason == "" {
		sl.ReportError(req.Reason, "reason", "Reason", "required_if_failed", "")
	}
}
