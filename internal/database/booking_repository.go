package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/santosh227/airline-booking-service/internal/models"
)

const bookingColumns = `
	id, booking_reference, user_id, flight_id, seats, seat_count, payment_id, status,
	price_per_seat, total_cost, currency, departure_at, seats_reserved,
	created_at, confirmed_at, cancelled_at, completed_at, updated_at,
	cancellation_reason, cancelled_by,
	refund_amount, refund_status, refund_attempts, refund_next_attempt_at, refund_last_error`

// BookingRepository handles booking and status history persistence
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// CREATE / READ
// ============================================================================

// Create inserts a new booking together with its initial status history.
// A clash on booking_reference is reported as ErrDuplicateKey.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bookings (
			id, booking_reference, user_id, flight_id, seats, seat_count, payment_id, status,
			price_per_seat, total_cost, currency, departure_at, seats_reserved,
			created_at, updated_at, refund_amount, refund_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err = tx.ExecContext(ctx, query,
		b.ID, b.BookingReference, b.UserID, b.FlightID, b.Seats, b.SeatCount, b.PaymentID, b.Status,
		b.PricePerSeat, b.TotalCost, b.Currency, b.DepartureAt, b.SeatsReserved,
		b.CreatedAt, b.UpdatedAt, b.RefundAmount, b.RefundStatus,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	for _, entry := range b.StatusHistory {
		if err := insertHistory(ctx, tx, b.ID, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// ReferenceExists reports whether a booking reference is already taken
func (r *BookingRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM bookings WHERE booking_reference = $1)`, reference)
	if err != nil {
		return false, fmt.Errorf("failed to check booking reference: %w", err)
	}
	return exists, nil
}

// GetByID retrieves a booking by ID, or nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByReference retrieves a booking by its human-readable reference
func (r *BookingRepository) GetByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_reference = $1`, reference)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := r.db.GetContext(ctx, &b, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// ListByUser returns a user's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// GetStatusHistory returns a booking's history in the order it was written
func (r *BookingRepository) GetStatusHistory(ctx context.Context, bookingID uuid.UUID) ([]models.StatusHistoryEntry, error) {
	query := `
		SELECT status, changed_at, changed_by, reason
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY id ASC`

	history := []models.StatusHistoryEntry{}
	if err := r.db.SelectContext(ctx, &history, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	return history, nil
}

// ============================================================================
// STATUS TRANSITIONS (compare-and-set on the previous status)
// ============================================================================

// SaveTransition persists a booking after an in-memory Transition.
// The update only applies while the stored status still equals from;
// otherwise ErrStaleBooking is returned and nothing is written.
// The newest history entry is appended in the same transaction.
func (r *BookingRepository) SaveTransition(ctx context.Context, b *models.Booking, from models.BookingStatus) error {
	entry, ok := b.LastHistoryEntry()
	if !ok || entry.Status != b.Status {
		return fmt.Errorf("booking %s has no history entry for status %s", b.ID, b.Status)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE bookings SET
			status = $3,
			confirmed_at = $4,
			cancelled_at = $5,
			completed_at = $6,
			cancellation_reason = $7,
			cancelled_by = $8,
			price_per_seat = $9,
			total_cost = $10,
			currency = $11,
			departure_at = $12,
			seats_reserved = $13,
			refund_amount = $14,
			refund_status = $15,
			updated_at = $16
		WHERE id = $1 AND status = $2`

	result, err := tx.ExecContext(ctx, query,
		b.ID, from,
		b.Status, b.ConfirmedAt, b.CancelledAt, b.CompletedAt,
		b.CancellationReason, b.CancelledBy,
		b.PricePerSeat, b.TotalCost, b.Currency, b.DepartureAt, b.SeatsReserved,
		b.RefundAmount, b.RefundStatus, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleBooking
	}

	if err := insertHistory(ctx, tx, b.ID, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status transition: %w", err)
	}
	return nil
}

// MarkSeatsReserved records that the ledger granted capacity to the booking,
// along with the pricing observed at reservation time
func (r *BookingRepository) MarkSeatsReserved(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings SET
			seats_reserved = TRUE,
			price_per_seat = $2,
			total_cost = $3,
			currency = $4,
			departure_at = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = 'payment_processing' AND seats_reserved = FALSE`

	result, err := r.db.ExecContext(ctx, query, b.ID, b.PricePerSeat, b.TotalCost, b.Currency, b.DepartureAt)
	if err != nil {
		return fmt.Errorf("failed to mark seats reserved: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleBooking
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID, entry models.StatusHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO booking_status_history (booking_id, status, changed_at, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		bookingID, entry.Status, entry.Timestamp, entry.ChangedBy, entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// ============================================================================
// REFUND QUEUE
// ============================================================================

// ClaimDueRefunds moves up to limit due refunds to processing and returns them.
// Due means pending and past its backoff, or stuck in processing since before
// staleBefore (the worker died mid-call or the refund webhook never came).
// SKIP LOCKED lets several workers drain the queue without claiming the same
// booking twice.
func (r *BookingRepository) ClaimDueRefunds(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Booking, error) {
	query := `
		UPDATE bookings SET
			refund_status = 'processing',
			refund_attempts = refund_attempts + 1,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM bookings
			WHERE (refund_status = 'pending'
			       AND (refund_next_attempt_at IS NULL OR refund_next_attempt_at <= $1))
			   OR (refund_status = 'processing' AND updated_at <= $2)
			ORDER BY cancelled_at ASC NULLS FIRST
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + bookingColumns

	claimed := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &claimed, query, now, staleBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due refunds: %w", err)
	}
	return claimed, nil
}

// UpdateRefundStatus moves a booking's refund to status to, but only from one of the
// given statuses. It reports whether a row changed.
func (r *BookingRepository) UpdateRefundStatus(
	ctx context.Context,
	bookingID uuid.UUID,
	from []models.RefundStatus,
	to models.RefundStatus,
	lastError *string,
	nextAttemptAt *time.Time,
) (bool, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	query := `
		UPDATE bookings SET
			refund_status = $2,
			refund_last_error = $3,
			refund_next_attempt_at = $4,
			updated_at = NOW()
		WHERE id = $1 AND refund_status = ANY($5)`

	result, err := r.db.ExecContext(ctx, query, bookingID, to, lastError, nextAttemptAt, pq.Array(fromStrings))
	if err != nil {
		return false, fmt.Errorf("failed to update refund status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// ScheduleRefund queues a refund for a cancelled booking that had none,
// e.g. when a payment is captured after the booking was already compensated
func (r *BookingRepository) ScheduleRefund(ctx context.Context, bookingID uuid.UUID, amount int64) (bool, error) {
	query := `
		UPDATE bookings SET
			refund_amount = LEAST($2, total_cost),
			refund_status = 'pending',
			refund_next_attempt_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'cancelled' AND refund_status = 'not_applicable'`

	result, err := r.db.ExecContext(ctx, query, bookingID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to schedule refund: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// ============================================================================
// COMPLETION
// ============================================================================

// ListDepartedConfirmed returns confirmed bookings whose departure is before cutoff
func (r *BookingRepository) ListDepartedConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed' AND departure_at IS NOT NULL AND departure_at < $1
		ORDER BY departure_at ASC
		LIMIT $2`

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list departed bookings: %w", err)
	}
	return bookings, nil
}
