package idempotency

import "time"

// Status values for delivery records
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record tracks one gateway notification through the async webhook path.
// The key is the gateway's payment id, so redelivered notifications collapse onto it.
type Record struct {
	DeliveryKey string    `dynamodbav:"delivery_key"` // PK
	Status      string    `dynamodbav:"status"`
	OrderNumber string    `dynamodbav:"order_number,omitempty"`
	OrderID     string    `dynamodbav:"order_id,omitempty"`
	Outcome     string    `dynamodbav:"outcome,omitempty"`
	Attempts    int       `dynamodbav:"attempts"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
	ExpiresAt   int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note        string    `dynamodbav:"note,omitempty"`
}
