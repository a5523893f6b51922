package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// PAYMENT RECORD
// ============================================================================

// PaymentStatus represents the status of a payment record
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"    // Created, collaborator not yet answered
	PaymentStatusProcessing PaymentStatus = "processing" // Accepted by the collaborator, capture pending
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded" // Fully refunded
)

// Payment is the local record of a booking's payment, keyed by the client transaction reference
type Payment struct {
	ID               string        `json:"id" db:"id"`
	BookingID        uuid.UUID     `json:"booking_id" db:"booking_id"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	Amount           int64         `json:"amount" db:"amount"`
	Currency         string        `json:"currency" db:"currency"`
	Status           PaymentStatus `json:"status" db:"status"`
	GatewayPaymentID *string       `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	PaymentMethod    *string       `json:"payment_method,omitempty" db:"payment_method"`
	FailureReason    *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	RefundID         *string       `json:"refund_id,omitempty" db:"refund_id"`
	RefundAmount     int64         `json:"refund_amount" db:"refund_amount"`
	RefundStatus     RefundStatus  `json:"refund_status" db:"refund_status"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	RefundedAt       *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// INBOUND PAYMENT EVENTS
// ============================================================================

// PaymentEventKind is the normalized type of an inbound payment event
type PaymentEventKind string

const (
	PaymentEventCompleted       PaymentEventKind = "payment_completed"
	PaymentEventFailed          PaymentEventKind = "payment_failed"
	PaymentEventRefundProcessed PaymentEventKind = "refund_processed"
)

// gateway-native names accepted as aliases
var paymentEventAliases = map[string]PaymentEventKind{
	"payment_completed": PaymentEventCompleted,
	"payment.captured":  PaymentEventCompleted,
	"payment_failed":    PaymentEventFailed,
	"payment.failed":    PaymentEventFailed,
	"refund_processed":  PaymentEventRefundProcessed,
	"refund.processed":  PaymentEventRefundProcessed,
}

// ParsePaymentEventKind maps a wire event name to its kind. ok is false for unknown events.
func ParsePaymentEventKind(name string) (PaymentEventKind, bool) {
	kind, ok := paymentEventAliases[name]
	return kind, ok
}

// PaymentWebhookEvent is the envelope posted by the payment collaborator
type PaymentWebhookEvent struct {
	ID        string              `json:"id"`
	Event     string              `json:"event"`
	CreatedAt int64               `json:"created_at"`
	Payload   PaymentEventPayload `json:"payload"`
}

// PaymentEventPayload carries the nested entity for the event
type PaymentEventPayload struct {
	Payment *PaymentEventEntityWrapper `json:"payment,omitempty"`
	Refund  *PaymentEventEntityWrapper `json:"refund,omitempty"`
}

// PaymentEventEntityWrapper wraps an entity the way the gateway nests it
type PaymentEventEntityWrapper struct {
	Entity PaymentEventEntity `json:"entity"`
}

// PaymentEventEntity is the payment or refund object inside an event
type PaymentEventEntity struct {
	ID               string            `json:"id"`
	PaymentID        string            `json:"payment_id,omitempty"` // set on refund entities
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	Method           string            `json:"method,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Notes            map[string]string `json:"notes,omitempty"`
}

// Entity returns the entity relevant to the event kind, or nil if it is missing
func (e *PaymentWebhookEvent) Entity(kind PaymentEventKind) *PaymentEventEntity {
	switch kind {
	case PaymentEventRefundProcessed:
		if e.Payload.Refund != nil {
			return &e.Payload.Refund.Entity
		}
	default:
		if e.Payload.Payment != nil {
			return &e.Payload.Payment.Entity
		}
	}
	return nil
}

// LocalPaymentID returns our transaction reference for the entity.
// The collaborator echoes it in notes.payment_id; without it the gateway id is used.
func (en *PaymentEventEntity) LocalPaymentID() string {
	if id := en.Notes["payment_id"]; id != "" {
		return id
	}
	if en.PaymentID != "" {
		return en.PaymentID
	}
	return en.ID
}
