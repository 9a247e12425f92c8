package validation

import "github.com/imrishuroy/go-checkout-pipeline/internal/orders"

// CheckoutRequest is the payload for POST /checkout.
type CheckoutRequest struct {
	Form     orders.CheckoutForm       `json:"form" validate:"required"`
	Items    []orders.CartSnapshotItem `json:"items" validate:"required,min=1,max=50,dive"` // at least one line
	Delivery orders.Delivery           `json:"delivery" validate:"required"`
	Amount   float64                   `json:"amount,omitempty" validate:"omitempty,gt=0"` // total the client displayed, optional
}

// AddCartItemRequest is the payload for POST /cart/items.
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=999"`
}

// StatusUpdateRequest is the payload for PATCH /orders/:orderNumber/status.
type StatusUpdateRequest struct {
	From string `json:"from" validate:"required,oneof=confirmed processing shipped delivered cancelled"`
	To   string `json:"to" validate:"required,oneof=confirmed processing shipped delivered cancelled"`
}

// MaterializeRequest is the payload for POST /orders/materialize.
type MaterializeRequest struct {
	OrderNumber string            `json:"order_number" validate:"required,max=64"`
	Source      string            `json:"source" validate:"omitempty,oneof=webhook manual manual_recovery"`
	PaymentData map[string]string `json:"paymentData,omitempty"` // gateway fields the caller already holds
}
