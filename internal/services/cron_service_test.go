package services

import (
	"testing"
	"time"

	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCronConfig() *config.Config {
	return &config.Config{
		Idempotency: config.IdempotencyConfig{SweepSchedule: "0 */10 * * * *"},
		Booking:     config.BookingConfig{CompletionSchedule: "0 0 * * * *", CompletionGrace: 6 * time.Hour},
	}
}

func TestCronService_StartStop(t *testing.T) {
	idem, _, _ := newTestIdempotencyService()
	f := newOrchestratorFixture(t, 5)

	s := NewCronService(f.svc, idem, testCronConfig(), testLogger())
	require.NoError(t, s.Start())

	status := s.GetJobStatus()
	assert.Equal(t, 2, status["job_count"])
	assert.Equal(t, true, status["running"])

	s.Stop()
}

func TestCronService_InvalidSchedule(t *testing.T) {
	idem, _, _ := newTestIdempotencyService()
	f := newOrchestratorFixture(t, 5)
	cfg := testCronConfig()
	cfg.Booking.CompletionSchedule = "every hour"

	s := NewCronService(f.svc, idem, cfg, testLogger())
	assert.Error(t, s.Start())
}

func TestCronService_RunCompletionNow(t *testing.T) {
	idem, store, clock := newTestIdempotencyService()
	f := newOrchestratorFixture(t, 5)

	// departed a week ago by the wall clock the job uses
	b := f.book(t, "6A")
	f.bookings.mu.Lock()
	past := time.Now().Add(-7 * 24 * time.Hour)
	f.bookings.bookings[b.ID].DepartureAt = &past
	f.bookings.mu.Unlock()

	s := NewCronService(f.svc, idem, testCronConfig(), testLogger())
	s.RunCompletionNow()
	assert.Equal(t, models.BookingStatusCompleted, f.bookings.get(b.ID).Status)

	_, err := idem.Begin(t.Context(), idemRequest("sweep-me", `{}`))
	require.NoError(t, err)
	clock.Advance(72 * time.Hour)
	s.RunSweepNow()
	rec, _ := store.Get(t.Context(), "sweep-me")
	assert.Nil(t, rec)
}
