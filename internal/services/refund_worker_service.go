package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// RefundQueue is the refund side of the booking store
type RefundQueue interface {
	ClaimDueRefunds(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Booking, error)
	UpdateRefundStatus(ctx context.Context, bookingID uuid.UUID, from []models.RefundStatus, to models.RefundStatus, lastError *string, nextAttemptAt *time.Time) (bool, error)
}

// RefundWorkerService submits queued refunds to the payment collaborator.
// Refunds are claimed with SKIP LOCKED, so several instances can run side by side.
// A claim that sits in processing past ProcessingTimeout is claimed again and
// resubmitted under the same idempotency key.
type RefundWorkerService struct {
	queue          RefundQueue
	payments       PaymentStore
	audits         PaymentAuditStore
	gateway        PaymentGateway
	events         EventPublisher
	config         config.RefundConfig
	paymentTimeout time.Duration
	logger         *logrus.Logger
	now            func() time.Time
	wake           chan struct{}
}

// NewRefundWorkerService creates a new refund worker
func NewRefundWorkerService(
	queue RefundQueue,
	payments PaymentStore,
	audits PaymentAuditStore,
	gateway PaymentGateway,
	events EventPublisher,
	cfg config.RefundConfig,
	paymentTimeout time.Duration,
	logger *logrus.Logger,
) *RefundWorkerService {
	return &RefundWorkerService{
		queue:          queue,
		payments:       payments,
		audits:         audits,
		gateway:        gateway,
		events:         events,
		config:         cfg,
		paymentTimeout: paymentTimeout,
		logger:         logger,
		now:            time.Now,
		wake:           make(chan struct{}, 1),
	}
}

// Notify asks the worker to poll now instead of waiting for the next tick. Never blocks.
func (w *RefundWorkerService) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls for due refunds until ctx is cancelled
func (w *RefundWorkerService) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.WorkerInterval)
	defer ticker.Stop()

	w.logger.WithFields(logrus.Fields{
		"interval":           w.config.WorkerInterval,
		"batch_size":         w.config.BatchSize,
		"max_attempts":       w.config.MaxAttempts,
		"processing_timeout": w.config.ProcessingTimeout,
	}).Info("Refund worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Refund worker stopped")
			return
		case <-ticker.C:
		case <-w.wake:
		}

		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("Refund batch failed")
		}
	}
}

// ProcessDue claims one batch of due refunds and submits each. It returns the batch size.
func (w *RefundWorkerService) ProcessDue(ctx context.Context) (int, error) {
	now := w.now()
	claimed, err := w.queue.ClaimDueRefunds(ctx, now, now.Add(-w.config.ProcessingTimeout), w.config.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, b := range claimed {
		w.processRefund(ctx, b)
	}
	return len(claimed), nil
}

func (w *RefundWorkerService) processRefund(ctx context.Context, b *models.Booking) {
	logger := w.logger.WithFields(logrus.Fields{
		"booking_id":    b.ID,
		"payment_id":    b.PaymentID,
		"refund_amount": b.RefundAmount,
		"attempt":       b.RefundAttempts,
	})

	// reclaimed after the last allowed attempt never reached a final answer
	if b.RefundAttempts > w.config.MaxAttempts {
		w.giveUp(ctx, b, "refund not confirmed by the payment service")
		return
	}

	reason := "booking cancelled"
	if b.CancellationReason != nil {
		reason = *b.CancellationReason
	}

	rctx, cancel := context.WithTimeout(ctx, w.paymentTimeout)
	result, err := w.gateway.RequestRefund(rctx, RefundRequest{
		PaymentID:      b.PaymentID,
		BookingID:      b.ID,
		Amount:         b.RefundAmount,
		Currency:       b.Currency,
		Reason:         reason,
		IdempotencyKey: "refund-" + b.ID.String(),
	})
	cancel()

	if err != nil {
		logger.WithError(err).Warn("Refund request failed")
		w.retryLater(ctx, b, err.Error())
		return
	}

	if result.Outcome == RefundOutcomeProcessing {
		// refund_processed webhook finishes it
		if _, err := w.payments.SetRefundStatus(ctx, b.PaymentID, models.RefundStatusProcessing, b.RefundAmount); err != nil {
			logger.WithError(err).Error("Failed to mark payment refund processing")
		}
		w.audit(ctx, models.NewPaymentAudit(models.AuditRefundRequested, models.AuditSourceWorker).
			SetBooking(b.ID).
			SetPaymentID(b.PaymentID).
			SetAmount(b.RefundAmount, b.Currency))
		logger.Info("Refund accepted, awaiting confirmation")
		return
	}

	applied, err := w.queue.UpdateRefundStatus(ctx, b.ID,
		[]models.RefundStatus{models.RefundStatusProcessing}, models.RefundStatusCompleted, nil, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to record completed refund")
		return
	}
	if _, err := w.payments.RecordRefund(ctx, b.PaymentID, result.RefundID, b.RefundAmount); err != nil {
		logger.WithError(err).Error("Failed to record refund on payment")
	}
	if !applied {
		return
	}

	w.audit(ctx, models.NewPaymentAudit(models.AuditRefundCompleted, models.AuditSourceWorker).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.RefundAmount, b.Currency))

	b.RefundStatus = models.RefundStatusCompleted
	w.events.Publish(ctx, NewBookingEvent(EventRefundCompleted, b, ""))
	logger.Info("Refund completed")
}

// retryLater puts the refund back in the queue with a linear backoff,
// or marks it failed once the attempts are used up
func (w *RefundWorkerService) retryLater(ctx context.Context, b *models.Booking, message string) {
	if b.RefundAttempts >= w.config.MaxAttempts {
		w.giveUp(ctx, b, message)
		return
	}

	next := w.now().Add(w.config.RetryBackoff * time.Duration(b.RefundAttempts))
	if _, err := w.queue.UpdateRefundStatus(ctx, b.ID, []models.RefundStatus{models.RefundStatusProcessing},
		models.RefundStatusPending, &message, &next); err != nil {
		w.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to requeue refund")
	}
}

// giveUp marks a claimed refund failed for manual follow-up
func (w *RefundWorkerService) giveUp(ctx context.Context, b *models.Booking, message string) {
	from := []models.RefundStatus{models.RefundStatusProcessing}
	if _, err := w.queue.UpdateRefundStatus(ctx, b.ID, from, models.RefundStatusFailed, &message, nil); err != nil {
		w.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to mark refund failed")
		return
	}
	if _, err := w.payments.SetRefundStatus(ctx, b.PaymentID, models.RefundStatusFailed, b.RefundAmount); err != nil {
		w.logger.WithError(err).WithField("payment_id", b.PaymentID).Error("Failed to mark payment refund failed")
	}
	w.audit(ctx, models.NewPaymentAudit(models.AuditRefundFailed, models.AuditSourceWorker).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.RefundAmount, b.Currency).
		SetError(message))

	b.RefundStatus = models.RefundStatusFailed
	w.events.Publish(ctx, NewBookingEvent(EventRefundFailed, b, message))
	w.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"attempts":   b.RefundAttempts,
	}).Error("Refund failed permanently, manual follow-up required")
}

func (w *RefundWorkerService) audit(ctx context.Context, a *models.PaymentAudit) {
	if err := w.audits.Log(ctx, a); err != nil {
		w.logger.WithError(err).WithField("event_type", a.EventType).Warn("Payment audit entry dropped")
	}
}
