package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/models"
)

const paymentColumns = `
	id, booking_id, user_id, amount, currency, status,
	gateway_payment_id, payment_method, failure_reason,
	refund_id, refund_amount, refund_status,
	completed_at, refunded_at, created_at, updated_at`

// PaymentRepository handles payment records.
// Status changes are conditional updates so replayed events become no-ops.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment record. A reused transaction reference is ErrDuplicateKey.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.RefundStatus == "" {
		p.RefundStatus = models.RefundStatusNotApplicable
	}

	query := `
		INSERT INTO payments (
			id, booking_id, user_id, amount, currency, status, refund_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.BookingID, p.UserID, p.Amount, p.Currency, p.Status, p.RefundStatus, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s", ErrDuplicateKey, p.ID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID returns a payment by transaction reference, or nil
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetByBookingID returns the payment attached to a booking, or nil
func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &p, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment for booking: %w", err)
	}
	return &p, nil
}

// MarkProcessing records that the collaborator accepted the payment
func (r *PaymentRepository) MarkProcessing(ctx context.Context, id string, gatewayPaymentID string) (bool, error) {
	query := `
		UPDATE payments SET
			status = 'processing',
			gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	return r.execApplied(ctx, query, id, gatewayPaymentID)
}

// MarkCompleted moves a pending or processing payment to completed
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id, gatewayPaymentID, method string) (bool, error) {
	query := `
		UPDATE payments SET
			status = 'completed',
			gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
			payment_method = COALESCE(NULLIF($3, ''), payment_method),
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`
	return r.execApplied(ctx, query, id, gatewayPaymentID, method)
}

// MarkFailed moves a pending or processing payment to failed
func (r *PaymentRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	query := `
		UPDATE payments SET
			status = 'failed',
			failure_reason = NULLIF($2, ''),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`
	return r.execApplied(ctx, query, id, reason)
}

// RecordRefund stores a processed refund. A full refund moves the payment to refunded.
// A refund already recorded as completed is left untouched.
func (r *PaymentRepository) RecordRefund(ctx context.Context, id, refundID string, amount int64) (bool, error) {
	query := `
		UPDATE payments SET
			refund_id = NULLIF($2, ''),
			refund_amount = $3,
			refund_status = 'completed',
			refunded_at = NOW(),
			status = CASE WHEN $3 >= amount THEN 'refunded' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND refund_status <> 'completed'`
	return r.execApplied(ctx, query, id, refundID, amount)
}

// SetRefundStatus tracks a refund that was requested but not yet processed
func (r *PaymentRepository) SetRefundStatus(ctx context.Context, id string, status models.RefundStatus, amount int64) (bool, error) {
	query := `
		UPDATE payments SET
			refund_status = $2,
			refund_amount = $3,
			updated_at = NOW()
		WHERE id = $1 AND refund_status <> 'completed'`
	return r.execApplied(ctx, query, id, status, amount)
}

func (r *PaymentRepository) execApplied(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}
