package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// REQUEST TYPES
// ============================================================================

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	FlightID  uuid.UUID `json:"flight_id" binding:"required"`
	Seats     []string  `json:"seats" binding:"required,min=1"`
	PaymentID string    `json:"payment_id" binding:"required"` // client transaction reference
}

// CancelBookingRequest is the body of PATCH /bookings/:booking_id/cancel
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// ListBookingsQuery holds pagination for GET /bookings
type ListBookingsQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// PricingBreakdown describes how the total cost was computed
type PricingBreakdown struct {
	PricePerSeat int64  `json:"price_per_seat"`
	SeatCount    int    `json:"seat_count"`
	TotalCost    int64  `json:"total_cost"`
	Currency     string `json:"currency"`
}

// FlightUpdate is the ledger state observed after a reservation or release
type FlightUpdate struct {
	FlightID       uuid.UUID `json:"flight_id"`
	AvailableSeats int       `json:"available_seats"`
	TotalSeats     int       `json:"total_seats"`
}

// CreateBookingResponse is returned for a confirmed booking
type CreateBookingResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Booking      *Booking         `json:"booking"`
	Pricing      PricingBreakdown `json:"pricing"`
	FlightUpdate *FlightUpdate    `json:"flight_update,omitempty"`
}

// SeatReleaseOutcome reports what happened when seats were returned to the ledger
type SeatReleaseOutcome struct {
	Attempted  bool          `json:"attempted"`
	Successful bool          `json:"successful"`
	Error      string        `json:"error,omitempty"`
	Flight     *FlightUpdate `json:"flight,omitempty"`
}

// CancelBookingResponse is returned by the cancellation endpoint
type CancelBookingResponse struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Booking      *Booking           `json:"booking"`
	RefundAmount int64              `json:"refund_amount"`
	RefundStatus RefundStatus       `json:"refund_status"`
	SeatRelease  SeatReleaseOutcome `json:"seat_release"`
}

// BookingStatusResponse is the lightweight projection returned by GET /bookings/:id/status
type BookingStatusResponse struct {
	BookingID          uuid.UUID       `json:"booking_id"`
	BookingReference   string          `json:"booking_reference"`
	Status             BookingStatus   `json:"status"`
	CanBeCancelled     bool            `json:"can_be_cancelled"`
	AllowedNext        []BookingStatus `json:"allowed_transitions"`
	RefundStatus       RefundStatus    `json:"refund_status"`
	RefundAmount       int64           `json:"refund_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	ConfirmedAt        *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
}

// NewBookingStatusResponse builds the status projection for a booking
func NewBookingStatusResponse(b *Booking) *BookingStatusResponse {
	return &BookingStatusResponse{
		BookingID:          b.ID,
		BookingReference:   b.BookingReference,
		Status:             b.Status,
		CanBeCancelled:     b.CanBeCancelled(),
		AllowedNext:        AllowedTransitions(b.Status),
		RefundStatus:       b.RefundStatus,
		RefundAmount:       b.RefundAmount,
		CreatedAt:          b.CreatedAt,
		ConfirmedAt:        b.ConfirmedAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
		CancellationReason: b.CancellationReason,
	}
}
