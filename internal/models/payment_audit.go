package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAuditEvent represents the type of audited payment event
type PaymentAuditEvent string

const (
	AuditPaymentInitiated      PaymentAuditEvent = "payment_initiated"
	AuditPaymentResponse       PaymentAuditEvent = "payment_response"
	AuditWebhookReceived       PaymentAuditEvent = "webhook_received"
	AuditWebhookRejected       PaymentAuditEvent = "webhook_rejected"
	AuditPaymentCompleted      PaymentAuditEvent = "payment_completed"
	AuditPaymentFailed         PaymentAuditEvent = "payment_failed"
	AuditRefundRequested       PaymentAuditEvent = "refund_requested"
	AuditRefundCompleted       PaymentAuditEvent = "refund_completed"
	AuditRefundFailed          PaymentAuditEvent = "refund_failed"
	AuditReconciliationNoop    PaymentAuditEvent = "reconciliation_noop"
	AuditReconciliationIgnored PaymentAuditEvent = "reconciliation_ignored"
)

// PaymentAuditSource identifies where the event originated
type PaymentAuditSource string

const (
	AuditSourceBackend PaymentAuditSource = "backend"
	AuditSourceWebhook PaymentAuditSource = "webhook"
	AuditSourceGateway PaymentAuditSource = "gateway_api"
	AuditSourceWorker  PaymentAuditSource = "refund_worker"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID *string    `json:"payment_id,omitempty" db:"payment_id"`
	EventID   *string    `json:"event_id,omitempty" db:"event_id"`

	EventType   PaymentAuditEvent  `json:"event_type" db:"event_type"`
	EventSource PaymentAuditSource `json:"event_source" db:"event_source"`

	Amount   *int64  `json:"amount,omitempty" db:"amount"`
	Currency *string `json:"currency,omitempty" db:"currency"`

	SignatureValid *bool   `json:"signature_valid,omitempty" db:"signature_valid"`
	RawBody        *string `json:"raw_body,omitempty" db:"raw_body"`
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate    bool    `json:"is_duplicate" db:"is_duplicate"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	ProcessingTimeMs *int       `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentAuditEvent, source PaymentAuditSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking ID for the audit
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPaymentID sets our transaction reference
func (pa *PaymentAudit) SetPaymentID(id string) *PaymentAudit {
	if id != "" {
		pa.PaymentID = &id
	}
	return pa
}

// SetEventID sets the collaborator's event id
func (pa *PaymentAudit) SetEventID(id string) *PaymentAudit {
	if id != "" {
		pa.EventID = &id
	}
	return pa
}

// SetAmount sets the amount carried by the event
func (pa *PaymentAudit) SetAmount(amount int64, currency string) *PaymentAudit {
	pa.Amount = &amount
	if currency != "" {
		pa.Currency = &currency
	}
	return pa
}

// SetSignature records whether the event signature verified
func (pa *PaymentAudit) SetSignature(valid bool) *PaymentAudit {
	pa.SignatureValid = &valid
	return pa
}

// SetRawBody stores the raw body exactly as received
func (pa *PaymentAudit) SetRawBody(body []byte) *PaymentAudit {
	s := string(body)
	pa.RawBody = &s
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	now := time.Now()
	pa.ProcessedAt = &now
	return pa
}

// MarkAsDuplicate marks this event as a replay of an already applied event
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
