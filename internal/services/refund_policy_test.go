package services

import (
	"testing"
	"time"

	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCalculateRefund(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	booking := func(status models.BookingStatus, total int64, untilDeparture time.Duration) *models.Booking {
		dep := now.Add(untilDeparture)
		return &models.Booking{Status: status, TotalCost: total, DepartureAt: &dep}
	}

	tests := []struct {
		name     string
		booking  *models.Booking
		expected int64
	}{
		{"24h and 1s ahead refunds everything", booking(models.BookingStatusConfirmed, 1050000, 24*time.Hour+time.Second), 1050000},
		{"23h59m59s ahead refunds half", booking(models.BookingStatusConfirmed, 1050000, 24*time.Hour-time.Second), 525000},
		{"exactly 24h ahead refunds half", booking(models.BookingStatusConfirmed, 1050000, 24*time.Hour), 525000},
		{"odd total rounds down", booking(models.BookingStatusConfirmed, 12345, time.Hour), 6172},
		{"far future", booking(models.BookingStatusPendingPayment, 800, 30*24*time.Hour), 800},
		{"already departed", booking(models.BookingStatusConfirmed, 1000, -time.Hour), 500},
		{"cancelled booking", booking(models.BookingStatusCancelled, 1000, 72*time.Hour), 0},
		{"completed booking", booking(models.BookingStatusCompleted, 1000, 72*time.Hour), 0},
		{"nothing paid", booking(models.BookingStatusInitialized, 0, 72*time.Hour), 0},
		{"unknown departure is never priced", &models.Booking{Status: models.BookingStatusConfirmed, TotalCost: 1000}, 0},
		{"nil booking", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateRefund(tt.booking, now))
		})
	}
}
