package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/sirupsen/logrus"
)

// completionBatchSize caps how many bookings one completion run moves
const completionBatchSize = 100

// CronService manages scheduled background jobs
type CronService struct {
	cron        *cron.Cron
	bookings    *BookingOrchestratorService
	idempotency *IdempotencyService
	config      config.Config
	logger      *logrus.Logger
	jobTimeout  time.Duration
}

// NewCronService creates a new CronService
func NewCronService(
	bookings *BookingOrchestratorService,
	idempotency *IdempotencyService,
	cfg *config.Config,
	logger *logrus.Logger,
) *CronService {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:        c,
		bookings:    bookings,
		idempotency: idempotency,
		config:      *cfg,
		logger:      logger,
		jobTimeout:  5 * time.Minute,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Delete idempotency records past their retention
	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc(s.config.Idempotency.SweepSchedule, s.sweepIdempotencyKeysJob)
	if err != nil {
		return fmt.Errorf("failed to schedule idempotency sweep job: %w", err)
	}
	s.logger.WithField("schedule", s.config.Idempotency.SweepSchedule).Info("✓ Scheduled: Sweep expired idempotency keys")

	// Job 2: Mark bookings of departed flights completed
	_, err = s.cron.AddFunc(s.config.Booking.CompletionSchedule, s.completeDepartedBookingsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule booking completion job: %w", err)
	}
	s.logger.WithField("schedule", s.config.Booking.CompletionSchedule).Info("✓ Scheduled: Complete departed bookings")

	// Start the cron scheduler
	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")

	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) sweepIdempotencyKeysJob() {
	s.logger.Debug("[CRON] Starting idempotency sweep job...")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	removed, err := s.idempotency.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to sweep idempotency keys")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"removed":  removed,
		"duration": time.Since(startTime),
	}).Info("[CRON] ✓ Swept expired idempotency keys")
}

func (s *CronService) completeDepartedBookingsJob() {
	s.logger.Debug("[CRON] Starting booking completion job...")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.config.Booking.CompletionGrace)
	completed, err := s.bookings.CompleteDepartedBookings(ctx, cutoff, completionBatchSize)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to complete departed bookings")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"completed": completed,
		"duration":  time.Since(startTime),
	}).Info("[CRON] ✓ Completed departed bookings")
}

// RunSweepNow runs the idempotency sweep immediately
func (s *CronService) RunSweepNow() {
	s.logger.Info("[MANUAL] Running idempotency sweep now...")
	s.sweepIdempotencyKeysJob()
}

// RunCompletionNow runs the booking completion job immediately
func (s *CronService) RunCompletionNow() {
	s.logger.Info("[MANUAL] Running booking completion now...")
	s.completeDepartedBookingsJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
