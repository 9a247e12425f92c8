package validation

import (
	"fmt"
	"regexp"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-pipeline/internal/orders"
)

var skuPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{1,31}$`)

// New returns a configured validator with the custom tags and struct-level checks registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	if err := v.RegisterValidation("sku", func(fl validatorv10.FieldLevel) bool {
		return skuPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register sku validator: %v", err))
	}

	// when the client sends the total it displayed, it must match the lines plus delivery
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	v.RegisterStructValidation(statusUpdateStructValidation, StatusUpdateRequest{})

	return v
}

// checkoutStructValidation verifies Amount equals the items plus delivery fee (to the cent).
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)
	if req.Amount == 0 {
		return
	}
	sum := orders.SnapshotTotal(req.Items, req.Delivery.Fee)
	if sum != req.Amount {
		sl.ReportError(req.Amount, "amount", "Amount", "amount_match_items", fmt.Sprintf("items sum %.2f != amount %.2f", sum, req.Amount))
	}
}

func statusUpdateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StatusUpdateRequest)
	if req.From != "" && req.To != "" && !orders.CanTransition(req.From, req.To) {
		sl.ReportError(req.To, "to", "To", "allowed_transition", req.From+"->"+req.To)
	}
}
