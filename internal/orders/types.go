package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Address is a billing or shipping snapshot taken at checkout.
type Address struct {
	Line1      string `dynamodbav:"line1" json:"line1" validate:"required,max=200"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty" validate:"max=200"`
	City       string `dynamodbav:"city" json:"city" validate:"required,max=100"`
	Province   string `dynamodbav:"province,omitempty" json:"province,omitempty" validate:"max=100"`
	PostalCode string `dynamodbav:"postal_code" json:"postal_code" validate:"required,max=20"`
	Country    string `dynamodbav:"country" json:"country" validate:"required,len=2"`
}

// CheckoutForm is the customer-entered part of a checkout.
type CheckoutForm struct {
	FirstName string   `dynamodbav:"first_name" json:"first_name" validate:"required,max=100"`
	LastName  string   `dynamodbav:"last_name" json:"last_name" validate:"required,max=100"`
	Email     string   `dynamodbav:"email" json:"email" validate:"required,email"`
	Phone     string   `dynamodbav:"phone,omitempty" json:"phone,omitempty" validate:"omitempty,e164"`
	Billing   Address  `dynamodbav:"billing" json:"billing"`
	Shipping  *Address `dynamodbav:"shipping,omitempty" json:"shipping,omitempty"`
}

// ShippingAddress falls back to billing when no separate shipping address was given.
func (f CheckoutForm) ShippingAddress() Address {
	if f.Shipping != nil {
		return *f.Shipping
	}
	return f.Billing
}

// CartSnapshotItem is one cart line frozen at checkout time.
type CartSnapshotItem struct {
	ProductID string  `dynamodbav:"product_id" json:"product_id" validate:"required"`
	Name      string  `dynamodbav:"name" json:"name" validate:"required,max=200"`
	SKU       string  `dynamodbav:"sku" json:"sku" validate:"required,sku"`
	Price     float64 `dynamodbav:"price" json:"price" validate:"gt=0"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity" validate:"min=1,max=999"`
}

// Delivery is the chosen shipping method.
type Delivery struct {
	Method string  `dynamodbav:"method" json:"method" validate:"required"`
	Fee    float64 `dynamodbav:"fee" json:"fee" validate:"gte=0"`
}

// PendingOrder is the pre-payment snapshot consumed once by the materializer.
type PendingOrder struct {
	OrderNumber  string             `dynamodbav:"order_number" json:"order_number"` // PK
	UserID       string             `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	SessionID    string             `dynamodbav:"session_id,omitempty" json:"session_id,omitempty"`
	FormData     CheckoutForm       `dynamodbav:"form_data" json:"form_data"`
	CartData     []CartSnapshotItem `dynamodbav:"cart_data" json:"cart_data"`
	DeliveryData Delivery           `dynamodbav:"delivery_data" json:"delivery_data"`
	TotalAmount  float64            `dynamodbav:"total_amount" json:"total_amount"`
	CreatedAt    time.Time          `dynamodbav:"created_at" json:"created_at"`
	ExpiresAt    int64              `dynamodbav:"expires_at" json:"expires_at"` // TTL epoch seconds
}

// Order is the durable record created from a paid pending order.
type Order struct {
	OrderNumber      string      `dynamodbav:"order_number" json:"order_number"` // PK, idempotency anchor
	OrderID          string      `dynamodbav:"order_id" json:"order_id"`
	UserID           string      `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	SessionID        string      `dynamodbav:"session_id,omitempty" json:"session_id,omitempty"`
	Email            string      `dynamodbav:"email" json:"email"`
	CustomerName     string      `dynamodbav:"customer_name" json:"customer_name"`
	Status           string      `dynamodbav:"status" json:"status"`
	PaymentStatus    string      `dynamodbav:"payment_status" json:"payment_status"`
	PaymentReference string      `dynamodbav:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	Source           string      `dynamodbav:"source,omitempty" json:"source,omitempty"`
	TotalAmount      float64     `dynamodbav:"total_amount" json:"total_amount"`
	DeliveryMethod   string      `dynamodbav:"delivery_method,omitempty" json:"delivery_method,omitempty"`
	DeliveryFee      float64     `dynamodbav:"delivery_fee" json:"delivery_fee"`
	BillingAddress   Address     `dynamodbav:"billing_address" json:"billing_address"`
	ShippingAddress  Address     `dynamodbav:"shipping_address" json:"shipping_address"`
	Items            []OrderItem `dynamodbav:"-" json:"items,omitempty"` // stored in the order_items table
	CreatedAt        time.Time   `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `dynamodbav:"updated_at" json:"updated_at"`
}

// OrderItem is a frozen copy of one purchased line; never re-joined against the catalog.
type OrderItem struct {
	OrderID     string  `dynamodbav:"order_id" json:"order_id"` // PK
	Line        int     `dynamodbav:"line" json:"line"`         // SK
	ProductID   string  `dynamodbav:"product_id" json:"product_id"`
	ProductName string  `dynamodbav:"product_name" json:"product_name"`
	ProductSKU  string  `dynamodbav:"product_sku" json:"product_sku"`
	UnitPrice   float64 `dynamodbav:"unit_price" json:"unit_price"`
	Quantity    int     `dynamodbav:"quantity" json:"quantity"`
	TotalPrice  float64 `dynamodbav:"total_price" json:"total_price"`
}

// LineTotal returns price * quantity rounded to cents.
func LineTotal(price float64, quantity int) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity))).Round(2).Float64()
	return f
}

// SnapshotTotal sums the cart lines plus the delivery fee, rounded to cents.
func SnapshotTotal(items []CartSnapshotItem, deliveryFee float64) float64 {
	sum := decimal.NewFromFloat(deliveryFee)
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	f, _ := sum.Round(2).Float64()
	return f
}
