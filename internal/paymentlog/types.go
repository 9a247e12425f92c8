// Package paymentlog is the append-only audit trail of gateway interactions.
package paymentlog

import "time"

// EventType enumerates the recorded gateway interactions.
type EventType string

const (
	WebhookReceived      EventType = "webhook_received"
	SignatureVerified    EventType = "signature_verified"
	SignatureFailed      EventType = "signature_failed"
	ProcessingCompleted  EventType = "processing_completed"
	ProcessingFailed     EventType = "processing_failed"
	RetryAttempted       EventType = "retry_attempted"
	PendingOrderNotFound EventType = "pending_order_not_found"
	InvalidPayload       EventType = "invalid_payload"
)

// Event is one payment log row. MPaymentID equals the order number.
type Event struct {
	PaymentID     string            `dynamodbav:"payment_id" json:"payment_id"` // PK
	MPaymentID    string            `dynamodbav:"m_payment_id,omitempty" json:"m_payment_id,omitempty"`
	PFPaymentID   string            `dynamodbav:"pf_payment_id,omitempty" json:"pf_payment_id,omitempty"`
	PaymentStatus string            `dynamodbav:"payment_status,omitempty" json:"payment_status,omitempty"`
	EventType     EventType         `dynamodbav:"event_type" json:"event_type"`
	EventData     map[string]string `dynamodbav:"event_data,omitempty" json:"event_data,omitempty"`
	ErrorMessage  string            `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt     time.Time         `dynamodbav:"created_at" json:"created_at"`
}
