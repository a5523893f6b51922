package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []BookingStatus{
	BookingStatusInitialized,
	BookingStatusPendingPayment,
	BookingStatusPaymentProcessing,
	BookingStatusConfirmed,
	BookingStatusCancelled,
	BookingStatusCompleted,
}

func newTestBooking(status BookingStatus) *Booking {
	return &Booking{
		ID:               uuid.New(),
		BookingReference: "FL250101ABCD",
		UserID:           uuid.New(),
		FlightID:         uuid.New(),
		Seats:            SeatList{"12A", "12B"},
		SeatCount:        2,
		Status:           status,
		RefundStatus:     RefundStatusNotApplicable,
	}
}

func TestTransition_LegalityMatrix(t *testing.T) {
	legal := map[BookingStatus]map[BookingStatus]bool{
		BookingStatusInitialized:       {BookingStatusPendingPayment: true, BookingStatusCancelled: true},
		BookingStatusPendingPayment:    {BookingStatusPaymentProcessing: true, BookingStatusCancelled: true},
		BookingStatusPaymentProcessing: {BookingStatusConfirmed: true, BookingStatusCancelled: true},
		BookingStatusConfirmed:         {BookingStatusCancelled: true, BookingStatusCompleted: true},
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				b := newTestBooking(from)
				err := b.Transition(to, ActorSystem, "test", now)

				if legal[from][to] {
					require.NoError(t, err)
					assert.Equal(t, to, b.Status)
					require.Len(t, b.StatusHistory, 1)
					assert.Equal(t, to, b.StatusHistory[0].Status)
					return
				}

				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))
				assert.Equal(t, from, invalid.From)
				assert.Equal(t, to, invalid.To)
				assert.Equal(t, from, b.Status, "status must not change")
				assert.Empty(t, b.StatusHistory, "history must not change")
			})
		}
	}
}

func TestTransition_TerminalStatusesHaveNoExits(t *testing.T) {
	assert.Empty(t, AllowedTransitions(BookingStatusCancelled))
	assert.Empty(t, AllowedTransitions(BookingStatusCompleted))
}

func TestTransition_SetsTimestampsAndHistory(t *testing.T) {
	b := newTestBooking(BookingStatusInitialized)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, b.Transition(BookingStatusPendingPayment, ActorUser, "", t0))
	require.NoError(t, b.Transition(BookingStatusPaymentProcessing, ActorSystem, "", t0.Add(time.Second)))
	require.NoError(t, b.Transition(BookingStatusConfirmed, ActorSystem, "payment accepted", t0.Add(2*time.Second)))

	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, t0.Add(2*time.Second), *b.ConfirmedAt)
	assert.Nil(t, b.CancelledAt)
	assert.Nil(t, b.CompletedAt)

	require.NoError(t, b.Transition(BookingStatusCompleted, ActorSystem, "departed", t0.Add(time.Hour)))
	require.NotNil(t, b.CompletedAt)

	require.Len(t, b.StatusHistory, 4)
	last, ok := b.LastHistoryEntry()
	require.True(t, ok)
	assert.Equal(t, BookingStatusCompleted, last.Status)
	assert.Equal(t, ActorSystem, last.ChangedBy)
	assert.Equal(t, "departed", last.Reason)

	// history is in timestamp order
	for i := 1; i < len(b.StatusHistory); i++ {
		assert.False(t, b.StatusHistory[i].Timestamp.Before(b.StatusHistory[i-1].Timestamp))
	}
}

func TestTransition_CancelRecordsMetadata(t *testing.T) {
	b := newTestBooking(BookingStatusConfirmed)
	at := time.Now().UTC()

	require.NoError(t, b.Transition(BookingStatusCancelled, ActorAdmin, "schedule change", at))

	require.NotNil(t, b.CancelledAt)
	require.NotNil(t, b.CancelledBy)
	require.NotNil(t, b.CancellationReason)
	assert.Equal(t, ActorAdmin, *b.CancelledBy)
	assert.Equal(t, "schedule change", *b.CancellationReason)
	assert.False(t, b.CanBeCancelled())

	err := b.Transition(BookingStatusCancelled, ActorUser, "again", at.Add(time.Minute))
	assert.Error(t, err)
	assert.Equal(t, at, *b.CancelledAt, "cancelled_at is set exactly once")
}

func TestCanBeCancelled(t *testing.T) {
	for _, s := range allStatuses {
		b := newTestBooking(s)
		assert.Equal(t, !s.IsTerminal(), b.CanBeCancelled(), string(s))
	}
}

func TestSetRefund(t *testing.T) {
	b := newTestBooking(BookingStatusConfirmed)
	b.ApplyPricing(450000, "INR", time.Now().Add(48*time.Hour))
	assert.Equal(t, int64(900000), b.TotalCost)

	b.SetRefund(2_000_000)
	assert.Equal(t, b.TotalCost, b.RefundAmount, "refund never exceeds total cost")
	assert.Equal(t, RefundStatusPending, b.RefundStatus)

	b.SetRefund(0)
	assert.Equal(t, int64(0), b.RefundAmount)
	assert.Equal(t, RefundStatusNotApplicable, b.RefundStatus)
}
