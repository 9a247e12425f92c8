package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxLines caps distinct products per cart so a whole cart fits in one migration transaction.
const MaxLines = 50

// Item is one cart row. Exactly one of SessionID/UserID is set, matching OwnerKey.
type Item struct {
	OwnerKey  string    `dynamodbav:"owner_key" json:"-"`           // PK
	ProductID string    `dynamodbav:"product_id" json:"product_id"` // SK
	SessionID string    `dynamodbav:"session_id,omitempty" json:"session_id,omitempty"`
	UserID    string    `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	Name      string    `dynamodbav:"name" json:"name"`
	SKU       string    `dynamodbav:"sku" json:"sku"`
	Price     float64   `dynamodbav:"price" json:"price"`
	Quantity  int       `dynamodbav:"quantity" json:"quantity"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Session lifecycle states derived from the terminal markers.
const (
	StateActive    = "active"
	StateAbandoned = "abandoned"
	StateConverted = "converted"
)

// Session is the per-session aggregate used for abandonment campaigns.
type Session struct {
	SessionID     string     `dynamodbav:"session_id" json:"session_id"` // PK
	UserID        string     `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	Email         string     `dynamodbav:"email,omitempty" json:"email,omitempty"`
	TotalValue    float64    `dynamodbav:"total_value" json:"total_value"`
	ItemCount     int        `dynamodbav:"item_count" json:"item_count"`
	CreatedAt     time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	AbandonedAt   *time.Time `dynamodbav:"abandoned_at,omitempty" json:"abandoned_at,omitempty"`
	AbandonReason string     `dynamodbav:"abandon_reason,omitempty" json:"abandon_reason,omitempty"`
	ConvertedAt   *time.Time `dynamodbav:"converted_at,omitempty" json:"converted_at,omitempty"`
	OrderID       string     `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
}

// State reports the lifecycle state. Conversion wins over a stale abandonment marker.
func (s Session) State() string {
	switch {
	case s.ConvertedAt != nil:
		return StateConverted
	case s.AbandonedAt != nil:
		return StateAbandoned
	default:
		return StateActive
	}
}

// ComputeTotal returns sum(price * quantity), rounded to cents.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.Round(2)
}

// ItemCount sums quantities.
func ItemCount(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
