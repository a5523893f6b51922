package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUSES (matches DB CHECK constraints)
// ============================================================================

// BookingStatus represents the lifecycle status of a booking
type BookingStatus string

const (
	BookingStatusInitialized       BookingStatus = "initialized"        // Record created, nothing reserved
	BookingStatusPendingPayment    BookingStatus = "pending_payment"    // Waiting for the payment step
	BookingStatusPaymentProcessing BookingStatus = "payment_processing" // Seats being reserved, payment in flight
	BookingStatusConfirmed         BookingStatus = "confirmed"          // Seats held and payment accepted
	BookingStatusCancelled         BookingStatus = "cancelled"          // Terminal
	BookingStatusCompleted         BookingStatus = "completed"          // Terminal, travel date passed
)

// IsTerminal reports whether no further transition is possible from this status
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// IsValid reports whether s is a known booking status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusInitialized, BookingStatusPendingPayment, BookingStatusPaymentProcessing,
		BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// Actor identifies who caused a status change
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// RefundStatus tracks the refund attached to a cancelled booking
type RefundStatus string

const (
	RefundStatusNotApplicable RefundStatus = "not_applicable"
	RefundStatusPending       RefundStatus = "pending"    // Waiting for the refund worker
	RefundStatusProcessing    RefundStatus = "processing" // Submitted to the payment collaborator
	RefundStatusCompleted     RefundStatus = "completed"
	RefundStatusFailed        RefundStatus = "failed" // Retries exhausted, needs manual follow-up
)

// ============================================================================
// BOOKING
// ============================================================================

// StatusHistoryEntry is one append-only record of a status change
type StatusHistoryEntry struct {
	Status    BookingStatus `json:"status" db:"status"`
	Timestamp time.Time     `json:"timestamp" db:"changed_at"`
	ChangedBy Actor         `json:"changed_by" db:"changed_by"`
	Reason    string        `json:"reason,omitempty" db:"reason"`
}

// Booking is a user's reservation of seats on one flight.
// Amounts are in minor currency units (paise for INR).
type Booking struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	BookingReference string        `json:"booking_reference" db:"booking_reference"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	FlightID         uuid.UUID     `json:"flight_id" db:"flight_id"`
	Seats            SeatList      `json:"seats" db:"seats"`
	SeatCount        int           `json:"seat_count" db:"seat_count"`
	PaymentID        string        `json:"payment_id" db:"payment_id"`
	Status           BookingStatus `json:"status" db:"status"`

	// Pricing, filled in once capacity is reserved
	PricePerSeat int64      `json:"price_per_seat" db:"price_per_seat"`
	TotalCost    int64      `json:"total_cost" db:"total_cost"`
	Currency     string     `json:"currency" db:"currency"`
	DepartureAt  *time.Time `json:"departure_at,omitempty" db:"departure_at"`

	// SeatsReserved is true while this booking holds capacity in the ledger
	SeatsReserved bool `json:"-" db:"seats_reserved"`

	// Lifecycle timestamps, each set once when the matching status is entered
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	// Cancellation
	CancellationReason *string `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancelledBy        *Actor  `json:"cancelled_by,omitempty" db:"cancelled_by"`

	// Refund
	RefundAmount        int64        `json:"refund_amount" db:"refund_amount"`
	RefundStatus        RefundStatus `json:"refund_status" db:"refund_status"`
	RefundAttempts      int          `json:"-" db:"refund_attempts"`
	RefundNextAttemptAt *time.Time   `json:"-" db:"refund_next_attempt_at"`
	RefundLastError     *string      `json:"-" db:"refund_last_error"`

	StatusHistory []StatusHistoryEntry `json:"status_history,omitempty" db:"-"`
}

// CanBeCancelled reports whether the booking is still in a non-terminal status
func (b *Booking) CanBeCancelled() bool {
	return !b.Status.IsTerminal()
}

// IsOwnedBy reports whether the booking belongs to the given user
func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID == userID
}

// ApplyPricing records the per-seat price and total cost for the booking's seats
func (b *Booking) ApplyPricing(pricePerSeat int64, currency string, departureAt time.Time) {
	b.PricePerSeat = pricePerSeat
	b.TotalCost = pricePerSeat * int64(b.SeatCount)
	if currency != "" {
		b.Currency = currency
	}
	if !departureAt.IsZero() {
		d := departureAt
		b.DepartureAt = &d
	}
}

// SetRefund records the refund owed for a cancellation, clamped to the total cost
func (b *Booking) SetRefund(amount int64) {
	if amount < 0 {
		amount = 0
	}
	if amount > b.TotalCost {
		amount = b.TotalCost
	}
	b.RefundAmount = amount
	if amount > 0 {
		b.RefundStatus = RefundStatusPending
	} else {
		b.RefundStatus = RefundStatusNotApplicable
	}
}

// Clone returns a copy of the booking that shares no mutable state with b
func (b *Booking) Clone() *Booking {
	c := *b
	c.Seats = append(SeatList(nil), b.Seats...)
	c.StatusHistory = append([]StatusHistoryEntry(nil), b.StatusHistory...)
	return &c
}
