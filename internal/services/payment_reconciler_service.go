package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body
const SignatureHeader = "X-Payment-Signature"

var (
	ErrInvalidSignature = validationError("invalid_signature", "Webhook signature verification failed")
	ErrMalformedEvent   = validationError("malformed_event", "Webhook payload could not be parsed")
)

// PaymentEventHandler applies payment notifications to bookings
type PaymentEventHandler interface {
	HandlePaymentCompleted(ctx context.Context, bookingID uuid.UUID) (bool, error)
	HandlePaymentFailed(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error)
	HandleRefundProcessed(ctx context.Context, bookingID uuid.UUID, amount int64) (bool, error)
}

// WebhookRequest is an inbound payment event as received over HTTP
type WebhookRequest struct {
	Body      []byte
	Signature string
	IPAddress string
	UserAgent string
}

// WebhookResult tells the collaborator what happened to its event
type WebhookResult struct {
	Status  string `json:"status"` // processed, duplicate or ignored
	EventID string `json:"event_id,omitempty"`
	Event   string `json:"event,omitempty"`
}

const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// PaymentReconcilerService verifies and applies asynchronous payment events.
// Every payment status change is conditional, so a redelivered event is a no-op.
type PaymentReconcilerService struct {
	payments PaymentStore
	audits   PaymentAuditStore
	bookings PaymentEventHandler
	secret   []byte
	logger   *logrus.Logger
}

// NewPaymentReconcilerService creates a new reconciler
func NewPaymentReconcilerService(
	payments PaymentStore,
	audits PaymentAuditStore,
	bookings PaymentEventHandler,
	webhookSecret string,
	logger *logrus.Logger,
) *PaymentReconcilerService {
	return &PaymentReconcilerService{
		payments: payments,
		audits:   audits,
		bookings: bookings,
		secret:   []byte(webhookSecret),
		logger:   logger,
	}
}

// SignPayload returns the signature the collaborator is expected to send for body
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time
func (s *PaymentReconcilerService) VerifySignature(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" || len(s.secret) == 0 {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// ProcessWebhook verifies, parses and applies one payment event.
// Unknown event types and unknown payments are acknowledged and ignored.
func (s *PaymentReconcilerService) ProcessWebhook(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	start := time.Now()

	// 1. Verify signature
	valid := s.VerifySignature(req.Body, req.Signature)
	received := models.NewPaymentAudit(models.AuditWebhookReceived, models.AuditSourceWebhook).
		SetSignature(valid).
		SetRawBody(req.Body).
		SetMetadata(req.IPAddress, req.UserAgent)

	if !valid {
		s.logger.WithField("ip", req.IPAddress).Warn("Payment webhook rejected: invalid signature")
		s.audit(ctx, received)
		s.audit(ctx, models.NewPaymentAudit(models.AuditWebhookRejected, models.AuditSourceWebhook).
			SetSignature(false).
			SetError("invalid signature").
			SetMetadata(req.IPAddress, req.UserAgent))
		return nil, ErrInvalidSignature
	}

	// 2. Parse
	var evt models.PaymentWebhookEvent
	if err := json.Unmarshal(req.Body, &evt); err != nil || evt.Event == "" {
		s.audit(ctx, received)
		s.audit(ctx, models.NewPaymentAudit(models.AuditWebhookRejected, models.AuditSourceWebhook).
			SetSignature(true).
			SetError("malformed payload"))
		return nil, ErrMalformedEvent
	}
	received.SetEventID(evt.ID)

	kind, known := models.ParsePaymentEventKind(evt.Event)
	if !known {
		s.audit(ctx, received)
		s.audit(ctx, models.NewPaymentAudit(models.AuditReconciliationIgnored, models.AuditSourceWebhook).
			SetEventID(evt.ID).
			SetError("unhandled event type "+evt.Event).
			SetProcessingTime(start))
		return &WebhookResult{Status: WebhookIgnored, EventID: evt.ID, Event: evt.Event}, nil
	}

	entity := evt.Entity(kind)
	if entity == nil {
		s.audit(ctx, received)
		s.audit(ctx, models.NewPaymentAudit(models.AuditWebhookRejected, models.AuditSourceWebhook).
			SetEventID(evt.ID).
			SetSignature(true).
			SetError("event has no "+string(kind)+" entity"))
		return nil, ErrMalformedEvent
	}

	paymentID := entity.LocalPaymentID()
	received.SetPaymentID(paymentID).SetAmount(entity.Amount, entity.Currency)
	s.audit(ctx, received)

	// 3. Resolve payment
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, internalError("Failed to load payment", err)
	}
	if payment == nil {
		s.audit(ctx, models.NewPaymentAudit(models.AuditReconciliationIgnored, models.AuditSourceWebhook).
			SetEventID(evt.ID).
			SetPaymentID(paymentID).
			SetError("unknown payment").
			SetProcessingTime(start))
		return &WebhookResult{Status: WebhookIgnored, EventID: evt.ID, Event: evt.Event}, nil
	}

	// 4. Apply
	changed, err := s.apply(ctx, kind, payment, entity)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   evt.ID,
			"event":      kind,
			"payment_id": payment.ID,
			"booking_id": payment.BookingID,
		}).Error("Failed to apply payment event")
		return nil, internalError("Failed to apply payment event", err)
	}

	result := models.NewPaymentAudit(auditTypeFor(kind), models.AuditSourceWebhook).
		SetBooking(payment.BookingID).
		SetPaymentID(payment.ID).
		SetEventID(evt.ID).
		SetAmount(entity.Amount, entity.Currency).
		SetProcessingTime(start)

	if !changed {
		s.audit(ctx, models.NewPaymentAudit(models.AuditReconciliationNoop, models.AuditSourceWebhook).
			SetBooking(payment.BookingID).
			SetPaymentID(payment.ID).
			SetEventID(evt.ID).
			SetProcessingTime(start).
			MarkAsDuplicate())
		s.logger.WithFields(logrus.Fields{
			"event_id":   evt.ID,
			"event":      kind,
			"payment_id": payment.ID,
		}).Info("Payment event already applied")
		return &WebhookResult{Status: WebhookDuplicate, EventID: evt.ID, Event: evt.Event}, nil
	}

	if kind == models.PaymentEventFailed {
		result.SetError(entity.ErrorDescription)
	}
	s.audit(ctx, result)

	s.logger.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event":      kind,
		"payment_id": payment.ID,
		"booking_id": payment.BookingID,
	}).Info("Payment event applied")

	return &WebhookResult{Status: WebhookProcessed, EventID: evt.ID, Event: evt.Event}, nil
}

// apply updates the payment record and then the booking. It reports whether either changed.
func (s *PaymentReconcilerService) apply(
	ctx context.Context,
	kind models.PaymentEventKind,
	payment *models.Payment,
	entity *models.PaymentEventEntity,
) (bool, error) {
	switch kind {
	case models.PaymentEventCompleted:
		applied, err := s.payments.MarkCompleted(ctx, payment.ID, entity.ID, entity.Method)
		if err != nil {
			return false, err
		}
		// a capture for an already cancelled booking still has to reach the booking
		changed, err := s.bookings.HandlePaymentCompleted(ctx, payment.BookingID)
		if err != nil {
			return false, err
		}
		return applied || changed, nil

	case models.PaymentEventFailed:
		applied, err := s.payments.MarkFailed(ctx, payment.ID, entity.ErrorDescription)
		if err != nil || !applied {
			return false, err
		}
		if _, err := s.bookings.HandlePaymentFailed(ctx, payment.BookingID, entity.ErrorDescription); err != nil {
			return false, err
		}
		return true, nil

	case models.PaymentEventRefundProcessed:
		applied, err := s.payments.RecordRefund(ctx, payment.ID, entity.ID, entity.Amount)
		if err != nil {
			return false, err
		}
		changed, err := s.bookings.HandleRefundProcessed(ctx, payment.BookingID, entity.Amount)
		if err != nil {
			return false, err
		}
		return applied || changed, nil
	}
	return false, nil
}

// ListPaymentAudit returns the audit trail of one payment, oldest first
func (s *PaymentReconcilerService) ListPaymentAudit(ctx context.Context, paymentID string) ([]models.PaymentAudit, error) {
	entries, err := s.audits.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, internalError("Failed to load payment audit", err)
	}
	return entries, nil
}

func (s *PaymentReconcilerService) audit(ctx context.Context, a *models.PaymentAudit) {
	if err := s.audits.Log(ctx, a); err != nil {
		s.logger.WithError(err).WithField("event_type", a.EventType).Warn("Payment audit entry dropped")
	}
}

func auditTypeFor(kind models.PaymentEventKind) models.PaymentAuditEvent {
	switch kind {
	case models.PaymentEventFailed:
		return models.AuditPaymentFailed
	case models.PaymentEventRefundProcessed:
		return models.AuditRefundCompleted
	default:
		return models.AuditPaymentCompleted
	}
}
