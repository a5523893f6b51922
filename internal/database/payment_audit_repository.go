package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, payment_id, event_id,
			event_type, event_source,
			amount, currency,
			signature_valid, raw_body, error_message, is_duplicate,
			ip_address, user_agent,
			processing_time_ms, created_at, processed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.PaymentID, audit.EventID,
		audit.EventType, audit.EventSource,
		audit.Amount, audit.Currency,
		audit.SignatureValid, audit.RawBody, audit.ErrorMessage, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent,
		audit.ProcessingTimeMs, audit.CreatedAt, audit.ProcessedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"payment_id": audit.PaymentID,
		}).Error("Failed to write payment audit entry")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"payment_id": audit.PaymentID,
	}).Debug("Payment audit logged")

	return nil
}

// ListByPayment returns the audit trail for a payment, oldest first
func (r *PaymentAuditRepository) ListByPayment(ctx context.Context, paymentID string) ([]models.PaymentAudit, error) {
	query := `
		SELECT id, booking_id, payment_id, event_id, event_type, event_source,
			amount, currency, signature_valid, raw_body, error_message, is_duplicate,
			ip_address, user_agent, processing_time_ms, created_at, processed_at
		FROM payment_audits
		WHERE payment_id = $1
		ORDER BY created_at ASC`

	audits := []models.PaymentAudit{}
	if err := r.db.SelectContext(ctx, &audits, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
