package services

import (
	"time"

	"github.com/santosh227/airline-booking-service/internal/models"
)

// FullRefundWindow is how far ahead of departure a cancellation still earns a full refund.
// A cancellation with exactly this much time left is already in the partial band.
const FullRefundWindow = 24 * time.Hour

// CalculateRefund returns the refundable amount, in minor units, for cancelling b at now.
//
// Bookings that can no longer be cancelled refund nothing. With more than
// FullRefundWindow left before departure the whole total is refunded, otherwise
// half of it rounded down.
func CalculateRefund(b *models.Booking, now time.Time) int64 {
	if b == nil || !b.CanBeCancelled() || b.TotalCost <= 0 {
		return 0
	}
	// price and departure are recorded together at reservation; a booking
	// without a departure was never priced, so there is nothing to refund
	if b.DepartureAt == nil {
		return 0
	}

	if b.DepartureAt.Sub(now) > FullRefundWindow {
		return b.TotalCost
	}
	return b.TotalCost / 2
}
