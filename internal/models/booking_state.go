package models

import (
	"fmt"
	"time"
)

// allowedTransitions is the complete booking lifecycle graph.
// Terminal statuses have no outgoing edges.
var allowedTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusInitialized:       {BookingStatusPendingPayment, BookingStatusCancelled},
	BookingStatusPendingPayment:    {BookingStatusPaymentProcessing, BookingStatusCancelled},
	BookingStatusPaymentProcessing: {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed:         {BookingStatusCancelled, BookingStatusCompleted},
}

// InvalidTransitionError is returned when a status change is not in the lifecycle graph
type InvalidTransitionError struct {
	From BookingStatus
	To   BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid booking status transition from %s to %s", e.From, e.To)
}

// CanTransition reports whether from -> to is an allowed lifecycle edge
func CanTransition(from, to BookingStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable in one step from s
func AllowedTransitions(s BookingStatus) []BookingStatus {
	return append([]BookingStatus(nil), allowedTransitions[s]...)
}

// Transition moves the booking to a new status.
// On an illegal edge it returns *InvalidTransitionError and leaves the booking untouched.
// Otherwise it sets the timestamp belonging to the new status, records cancellation
// metadata when cancelling, and appends a history entry.
func (b *Booking) Transition(to BookingStatus, actor Actor, reason string, at time.Time) error {
	if !CanTransition(b.Status, to) {
		return &InvalidTransitionError{From: b.Status, To: to}
	}

	ts := at
	switch to {
	case BookingStatusConfirmed:
		b.ConfirmedAt = &ts
	case BookingStatusCompleted:
		b.CompletedAt = &ts
	case BookingStatusCancelled:
		b.CancelledAt = &ts
		a := actor
		b.CancelledBy = &a
		if reason != "" {
			r := reason
			b.CancellationReason = &r
		}
	}

	b.Status = to
	b.UpdatedAt = at
	b.StatusHistory = append(b.StatusHistory, StatusHistoryEntry{
		Status:    to,
		Timestamp: at,
		ChangedBy: actor,
		Reason:    reason,
	})

	return nil
}

// LastHistoryEntry returns the most recent status history entry, if any
func (b *Booking) LastHistoryEntry() (StatusHistoryEntry, bool) {
	if len(b.StatusHistory) == 0 {
		return StatusHistoryEntry{}, false
	}
	return b.StatusHistory[len(b.StatusHistory)-1], true
}
