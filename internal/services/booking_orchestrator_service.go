package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/santosh227/airline-booking-service/pkg/validator"
	"github.com/sirupsen/logrus"
)

// BookingStore persists bookings and their status history
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByReference(ctx context.Context, reference string) (*models.Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error)
	GetStatusHistory(ctx context.Context, bookingID uuid.UUID) ([]models.StatusHistoryEntry, error)
	SaveTransition(ctx context.Context, b *models.Booking, from models.BookingStatus) error
	MarkSeatsReserved(ctx context.Context, b *models.Booking) error
	ScheduleRefund(ctx context.Context, bookingID uuid.UUID, amount int64) (bool, error)
	UpdateRefundStatus(ctx context.Context, bookingID uuid.UUID, from []models.RefundStatus, to models.RefundStatus, lastError *string, nextAttemptAt *time.Time) (bool, error)
	ListDepartedConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error)
}

// PaymentStore persists payment records with conditional status updates
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	MarkProcessing(ctx context.Context, id, gatewayPaymentID string) (bool, error)
	MarkCompleted(ctx context.Context, id, gatewayPaymentID, method string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	RecordRefund(ctx context.Context, id, refundID string, amount int64) (bool, error)
	SetRefundStatus(ctx context.Context, id string, status models.RefundStatus, amount int64) (bool, error)
}

// PaymentAuditStore writes and reads the payment audit trail
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	ListByPayment(ctx context.Context, paymentID string) ([]models.PaymentAudit, error)
}

// RefundNotifier wakes the refund worker after a refund was queued
type RefundNotifier interface {
	Notify()
}

// Caller is the authenticated principal of a request
type Caller struct {
	UserID uuid.UUID
	Actor  models.Actor
}

func (c Caller) canAccess(b *models.Booking) bool {
	return c.Actor == models.ActorAdmin || b.IsOwnedBy(c.UserID)
}

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	MaxSeatsPerBooking   int
	ReferencePrefix      string
	ReferenceMaxAttempts int
	DefaultCurrency      string
	InventoryTimeout     time.Duration // bound on every ledger call
	PaymentTimeout       time.Duration // bound on every payment collaborator call
	CompensationTimeout  time.Duration // budget for undoing a failed saga
}

// NewBookingOrchestratorConfig derives orchestrator settings from the service config
func NewBookingOrchestratorConfig(cfg *config.Config) BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		MaxSeatsPerBooking:   cfg.Booking.MaxSeatsPerBooking,
		ReferencePrefix:      cfg.Booking.ReferencePrefix,
		ReferenceMaxAttempts: cfg.Booking.ReferenceMaxAttempts,
		DefaultCurrency:      cfg.Payment.DefaultCurrency,
		InventoryTimeout:     cfg.Inventory.Timeout,
		PaymentTimeout:       cfg.Payment.Timeout,
		CompensationTimeout:  cfg.CompensationTimeout(),
	}
}

// BookingOrchestratorService runs the booking saga, cancellations and the
// booking side of payment notifications
type BookingOrchestratorService struct {
	bookings BookingStore
	payments PaymentStore
	audits   PaymentAuditStore
	ledger   InventoryLedger
	gateway  PaymentGateway
	events   EventPublisher
	refunds  RefundNotifier
	seats    *validator.SeatValidator
	config   BookingOrchestratorConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	bookings BookingStore,
	payments PaymentStore,
	audits PaymentAuditStore,
	ledger InventoryLedger,
	gateway PaymentGateway,
	events EventPublisher,
	refunds RefundNotifier,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		bookings: bookings,
		payments: payments,
		audits:   audits,
		ledger:   ledger,
		gateway:  gateway,
		events:   events,
		refunds:  refunds,
		seats:    validator.NewSeatValidator(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// SAGA TYPES
// ============================================================================

// SagaFailureReason classifies why a booking saga was compensated
type SagaFailureReason string

const (
	FailureInvalidRequest        SagaFailureReason = "invalid_request"
	FailureInsufficientSeats     SagaFailureReason = "insufficient_seats"
	FailureFlightNotFound        SagaFailureReason = "flight_not_found"
	FailureInventoryUnavailable  SagaFailureReason = "inventory_unavailable"
	FailurePaymentReferenceInUse SagaFailureReason = "payment_reference_in_use"
	FailurePaymentDeclined       SagaFailureReason = "payment_declined"
	FailurePaymentUnavailable    SagaFailureReason = "payment_unavailable"
	FailureInternal              SagaFailureReason = "internal"
)

// SagaFailure describes the step that failed and why
type SagaFailure struct {
	Reason  SagaFailureReason
	Step    string
	Message string
	Err     error
}

func (f *SagaFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failed (%s): %s: %v", f.Step, f.Reason, f.Message, f.Err)
	}
	return fmt.Sprintf("%s failed (%s): %s", f.Step, f.Reason, f.Message)
}

func (f *SagaFailure) Unwrap() error {
	return f.Err
}

// BookingOutcome is the result of a booking saga. Failure is nil on success.
// A failed saga still carries the (cancelled) booking when one was created.
type BookingOutcome struct {
	Booking        *models.Booking
	Pricing        models.PricingBreakdown
	FlightUpdate   *models.FlightUpdate
	PaymentPending bool // payment accepted, confirmation arrives with the payment event
	SeatRelease    *models.SeatReleaseOutcome
	Failure        *SagaFailure
}

// Succeeded reports whether the saga ran to completion
func (o *BookingOutcome) Succeeded() bool {
	return o.Failure == nil
}

type sagaState struct {
	userID         uuid.UUID
	flightID       uuid.UUID
	seats          []string
	paymentID      string
	idempotencyKey string

	booking        *models.Booking
	flight         *models.FlightInventory // latest ledger snapshot
	reserved       bool                    // the ledger granted our seats
	recorded       bool                    // the booking row says the seats are held
	charged        bool                    // money was captured
	paymentPending bool
	cancelApplied  bool // our compensation won the cancellation
	release        *models.SeatReleaseOutcome
}

type sagaStep struct {
	name       string
	run        func(ctx context.Context, st *sagaState) *SagaFailure
	compensate func(ctx context.Context, st *sagaState)
}

// bookingSaga returns the purchase steps in execution order
func (s *BookingOrchestratorService) bookingSaga() []sagaStep {
	return []sagaStep{
		{name: "create_booking", run: s.stepCreateBooking},
		{name: "await_payment", run: s.stepAwaitPayment},
		{name: "check_availability", run: s.stepCheckAvailability},
		{name: "reserve_seats", run: s.stepReserveSeats, compensate: s.releaseReservedSeats},
		{name: "initiate_payment", run: s.stepInitiatePayment, compensate: s.refundCapturedPayment},
		{name: "confirm_booking", run: s.stepConfirmBooking},
	}
}

// ============================================================================
// CREATE BOOKING (saga)
// ============================================================================

// CreateBooking validates the request and runs the booking saga.
// Validation problems are returned as errors with no side effects. Once a booking
// exists every failure is compensated and reported through BookingOutcome.Failure.
func (s *BookingOrchestratorService) CreateBooking(
	ctx context.Context,
	userID uuid.UUID,
	req *models.CreateBookingRequest,
	idempotencyKey string,
) (*BookingOutcome, error) {
	// 1. Validate request
	if req.FlightID == uuid.Nil {
		return nil, validationError("invalid_flight_id", "flight_id is required")
	}
	seats, err := s.seats.ValidateSeats(req.Seats, s.config.MaxSeatsPerBooking)
	if err != nil {
		return nil, validationError("invalid_seats", err.Error())
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, validationError("invalid_payment_id", "payment_id is required")
	}

	st := &sagaState{
		userID:         userID,
		flightID:       req.FlightID,
		seats:          seats,
		paymentID:      paymentID,
		idempotencyKey: idempotencyKey,
	}

	// 2. Run steps, compensating on the first failure
	steps := s.bookingSaga()
	for i, step := range steps {
		failure := step.run(ctx, st)
		if failure == nil {
			continue
		}
		failure.Step = step.name

		if st.booking == nil {
			return nil, internalError("Failed to create booking", failure)
		}

		s.logger.WithFields(logrus.Fields{
			"booking_id":        st.booking.ID,
			"booking_reference": st.booking.BookingReference,
			"flight_id":         st.flightID,
			"step":              step.name,
			"reason":            failure.Reason,
		}).WithError(failure.Err).Warn("Booking saga failed, compensating")

		s.compensate(ctx, st, steps[:i+1], failure)
		if st.booking.Status == models.BookingStatusConfirmed {
			// the payment_completed event confirmed it while this saga was failing
			st.paymentPending = false
			s.logger.WithFields(logrus.Fields{
				"booking_id": st.booking.ID,
				"step":       step.name,
			}).Info("Booking confirmed by payment event, saga failure discarded")
			return s.outcome(st, nil), nil
		}
		return s.outcome(st, failure), nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        st.booking.ID,
		"booking_reference": st.booking.BookingReference,
		"flight_id":         st.flightID,
		"seat_count":        st.booking.SeatCount,
		"total_cost":        st.booking.TotalCost,
		"status":            st.booking.Status,
	}).Info("Booking saga completed")

	return s.outcome(st, nil), nil
}

func (s *BookingOrchestratorService) stepCreateBooking(ctx context.Context, st *sagaState) *SagaFailure {
	now := s.now()
	b := &models.Booking{
		ID:           uuid.New(),
		UserID:       st.userID,
		FlightID:     st.flightID,
		Seats:        models.SeatList(st.seats),
		SeatCount:    len(st.seats),
		PaymentID:    st.paymentID,
		Status:       models.BookingStatusInitialized,
		Currency:     s.config.DefaultCurrency,
		CreatedAt:    now,
		UpdatedAt:    now,
		RefundStatus: models.RefundStatusNotApplicable,
		StatusHistory: []models.StatusHistoryEntry{{
			Status:    models.BookingStatusInitialized,
			Timestamp: now,
			ChangedBy: models.ActorUser,
			Reason:    "booking requested",
		}},
	}

	for attempt := 1; attempt <= s.config.ReferenceMaxAttempts; attempt++ {
		ref, err := newBookingReference(s.config.ReferencePrefix, now)
		if err != nil {
			return &SagaFailure{Reason: FailureInternal, Message: "reference generation failed", Err: err}
		}

		exists, err := s.bookings.ReferenceExists(ctx, ref)
		if err != nil {
			return &SagaFailure{Reason: FailureInternal, Message: "reference check failed", Err: err}
		}
		if exists {
			continue
		}

		b.BookingReference = ref
		err = s.bookings.Create(ctx, b)
		if errors.Is(err, database.ErrDuplicateKey) {
			// taken between the check and the insert
			continue
		}
		if err != nil {
			return &SagaFailure{Reason: FailureInternal, Message: "booking could not be stored", Err: err}
		}

		st.booking = b
		return nil
	}

	return &SagaFailure{
		Reason:  FailureInternal,
		Message: fmt.Sprintf("no unique booking reference after %d attempts", s.config.ReferenceMaxAttempts),
	}
}

func (s *BookingOrchestratorService) stepAwaitPayment(ctx context.Context, st *sagaState) *SagaFailure {
	if err := s.transition(ctx, st.booking, models.BookingStatusPendingPayment, models.ActorSystem, "awaiting payment"); err != nil {
		return &SagaFailure{Reason: FailureInternal, Message: "status update failed", Err: err}
	}
	return nil
}

// stepCheckAvailability fails fast on a read; the reservation itself is still atomic
func (s *BookingOrchestratorService) stepCheckAvailability(ctx context.Context, st *sagaState) *SagaFailure {
	ctx, cancel := context.WithTimeout(ctx, s.config.InventoryTimeout)
	defer cancel()

	f, err := s.ledger.Availability(ctx, st.flightID)
	if err != nil {
		return ledgerFailure(err)
	}
	if !f.DepartureAt.After(s.now()) {
		return &SagaFailure{Reason: FailureInvalidRequest, Message: "flight has already departed"}
	}
	if f.AvailableSeats < st.booking.SeatCount {
		return &SagaFailure{
			Reason:  FailureInsufficientSeats,
			Message: fmt.Sprintf("only %d seat(s) available, %d requested", f.AvailableSeats, st.booking.SeatCount),
		}
	}

	st.flight = f
	return nil
}

func (s *BookingOrchestratorService) stepReserveSeats(ctx context.Context, st *sagaState) *SagaFailure {
	b := st.booking
	if err := s.transition(ctx, b, models.BookingStatusPaymentProcessing, models.ActorSystem, "reserving seats"); err != nil {
		return &SagaFailure{Reason: FailureInternal, Message: "status update failed", Err: err}
	}

	rctx, cancel := context.WithTimeout(ctx, s.config.InventoryTimeout)
	f, err := s.ledger.Reserve(rctx, b.FlightID, b.SeatCount)
	cancel()
	if err != nil {
		return ledgerFailure(err)
	}
	st.reserved = true
	st.flight = f

	b.ApplyPricing(f.PricePerSeat, f.Currency, f.DepartureAt)
	b.SeatsReserved = true
	if err := s.bookings.MarkSeatsReserved(ctx, b); err != nil {
		return &SagaFailure{Reason: FailureInternal, Message: "reservation could not be recorded", Err: err}
	}
	st.recorded = true

	s.logger.WithFields(logrus.Fields{
		"booking_id":      b.ID,
		"flight_id":       b.FlightID,
		"seat_count":      b.SeatCount,
		"available_seats": f.AvailableSeats,
	}).Info("Seats reserved")
	return nil
}

func (s *BookingOrchestratorService) stepInitiatePayment(ctx context.Context, st *sagaState) *SagaFailure {
	b := st.booking

	payment := &models.Payment{
		ID:        b.PaymentID,
		BookingID: b.ID,
		UserID:    b.UserID,
		Amount:    b.TotalCost,
		Currency:  b.Currency,
		Status:    models.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			return &SagaFailure{Reason: FailurePaymentReferenceInUse, Message: "payment reference has already been used", Err: err}
		}
		return &SagaFailure{Reason: FailureInternal, Message: "payment record could not be stored", Err: err}
	}

	s.audit(ctx, models.NewPaymentAudit(models.AuditPaymentInitiated, models.AuditSourceBackend).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.TotalCost, b.Currency))

	pctx, cancel := context.WithTimeout(ctx, s.config.PaymentTimeout)
	result, err := s.gateway.InitiatePayment(pctx, PaymentRequest{
		PaymentID:        b.PaymentID,
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		SeatCount:        b.SeatCount,
		Amount:           b.TotalCost,
		Currency:         b.Currency,
		IdempotencyKey:   paymentIdempotencyKey(st),
	})
	cancel()

	response := models.NewPaymentAudit(models.AuditPaymentResponse, models.AuditSourceGateway).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.TotalCost, b.Currency)

	if err != nil {
		s.audit(ctx, response.SetError(err.Error()))
		s.markPaymentFailed(ctx, b.PaymentID, err.Error())
		return &SagaFailure{Reason: FailurePaymentUnavailable, Message: "payment service unavailable", Err: err}
	}

	switch result.Outcome {
	case PaymentOutcomeDeclined:
		s.audit(ctx, response.SetError(result.FailureReason))
		s.markPaymentFailed(ctx, b.PaymentID, result.FailureReason)
		return &SagaFailure{Reason: FailurePaymentDeclined, Message: result.FailureReason}

	case PaymentOutcomeProcessing:
		s.audit(ctx, response)
		st.paymentPending = true
		if _, err := s.payments.MarkProcessing(ctx, b.PaymentID, result.GatewayPaymentID); err != nil {
			return &SagaFailure{Reason: FailureInternal, Message: "payment status could not be recorded", Err: err}
		}

	default:
		s.audit(ctx, response)
		st.charged = true
		if _, err := s.payments.MarkCompleted(ctx, b.PaymentID, result.GatewayPaymentID, result.Method); err != nil {
			return &SagaFailure{Reason: FailureInternal, Message: "payment status could not be recorded", Err: err}
		}
	}
	return nil
}

// paymentIdempotencyKey is stable across re-executions of the same client request,
// so a collaborator that honours it never charges twice
func paymentIdempotencyKey(st *sagaState) string {
	if st.idempotencyKey != "" {
		return "booking-payment-" + st.idempotencyKey
	}
	return "booking-payment-" + st.paymentID
}

func (s *BookingOrchestratorService) stepConfirmBooking(ctx context.Context, st *sagaState) *SagaFailure {
	if st.paymentPending {
		return nil
	}

	b := st.booking
	err := s.transition(ctx, b, models.BookingStatusConfirmed, models.ActorSystem, "payment completed")
	if errors.Is(err, database.ErrStaleBooking) {
		// a payment event got there first
		s.reloadBooking(ctx, st)
		switch b.Status {
		case models.BookingStatusConfirmed:
			return nil
		case models.BookingStatusCancelled:
			return &SagaFailure{Reason: FailurePaymentDeclined, Message: "payment failed while the booking was being confirmed", Err: err}
		}
	}
	if err != nil {
		return &SagaFailure{Reason: FailureInternal, Message: "booking could not be confirmed", Err: err}
	}

	s.events.Publish(ctx, NewBookingEvent(EventBookingConfirmed, b, ""))
	return nil
}

// ============================================================================
// COMPENSATION
// ============================================================================

// compensate cancels the booking first and then undoes completed steps in reverse.
// When another writer moved the booking first, the saga adopts the stored row.
// A confirmed booking is left alone. A booking cancelled elsewhere only gets the
// release or refund that writer could not know about.
func (s *BookingOrchestratorService) compensate(ctx context.Context, st *sagaState, executed []sagaStep, failure *SagaFailure) {
	// the client may be gone; compensation still has to finish
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CompensationTimeout)
	defer cancel()

	st.cancelApplied = s.cancelForFailure(ctx, st, failure)
	if !st.cancelApplied {
		s.reloadBooking(ctx, st)
		if st.booking.Status == models.BookingStatusConfirmed {
			return
		}
	}

	for i := len(executed) - 1; i >= 0; i-- {
		if executed[i].compensate != nil {
			executed[i].compensate(ctx, st)
		}
	}
}

func (s *BookingOrchestratorService) cancelForFailure(ctx context.Context, st *sagaState, failure *SagaFailure) bool {
	b := st.booking
	from := b.Status
	if from == models.BookingStatusCancelled {
		return false
	}

	next := b.Clone()
	next.SeatsReserved = false
	if st.charged {
		next.SetRefund(next.TotalCost)
	}

	reason := string(failure.Reason)
	if failure.Message != "" {
		reason += ": " + failure.Message
	}

	logger := s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"status":            from,
	})

	if err := next.Transition(models.BookingStatusCancelled, models.ActorSystem, reason, s.now()); err != nil {
		logger.WithError(err).Warn("Booking cannot be cancelled by compensation")
		return false
	}
	if err := s.bookings.SaveTransition(ctx, next, from); err != nil {
		logger.WithError(err).Error("Compensation could not cancel booking, manual reconciliation required")
		return false
	}

	*b = *next
	s.events.Publish(ctx, NewBookingEvent(EventBookingCancelled, b, reason))
	return true
}

func (s *BookingOrchestratorService) releaseReservedSeats(ctx context.Context, st *sagaState) {
	if !st.reserved {
		return
	}
	if !st.cancelApplied {
		// whoever cancelled a recorded reservation released it
		if st.booking.Status == models.BookingStatusCancelled && st.recorded {
			return
		}
		if st.booking.Status != models.BookingStatusCancelled {
			s.logger.WithFields(logrus.Fields{
				"booking_id": st.booking.ID,
				"flight_id":  st.booking.FlightID,
				"seat_count": st.booking.SeatCount,
			}).Error("Seats left reserved because the booking could not be cancelled")
			return
		}
	}
	st.release = s.releaseSeats(ctx, st.booking)
}

func (s *BookingOrchestratorService) refundCapturedPayment(ctx context.Context, st *sagaState) {
	if !st.charged {
		return
	}
	b := st.booking
	if !st.cancelApplied {
		if b.Status != models.BookingStatusCancelled {
			return
		}
		// cancelled by a payment event that did not know the gateway captured the money
		if _, err := s.queueCapturedRefund(ctx, b); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to queue refund for captured payment, manual reconciliation required")
		}
		return
	}
	if _, err := s.payments.SetRefundStatus(ctx, b.PaymentID, models.RefundStatusPending, b.RefundAmount); err != nil {
		s.logger.WithError(err).WithField("payment_id", b.PaymentID).Error("Failed to mark payment refund pending")
	}
	s.audit(ctx, models.NewPaymentAudit(models.AuditRefundRequested, models.AuditSourceBackend).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.RefundAmount, b.Currency))
	s.notifyRefunds()
}

// releaseSeats returns a booking's seats to the ledger. Failure is reported, not returned.
func (s *BookingOrchestratorService) releaseSeats(ctx context.Context, b *models.Booking) *models.SeatReleaseOutcome {
	outcome := &models.SeatReleaseOutcome{Attempted: true}

	ctx, cancel := context.WithTimeout(ctx, s.config.InventoryTimeout)
	defer cancel()

	f, err := s.ledger.Release(ctx, b.FlightID, b.SeatCount)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"flight_id":  b.FlightID,
			"seat_count": b.SeatCount,
		}).Error("Failed to release seats, manual reconciliation required")
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Successful = true
	outcome.Flight = f.Update()
	return outcome
}

func (s *BookingOrchestratorService) outcome(st *sagaState, failure *SagaFailure) *BookingOutcome {
	b := st.booking
	o := &BookingOutcome{
		Booking: b.Clone(),
		Pricing: models.PricingBreakdown{
			PricePerSeat: b.PricePerSeat,
			SeatCount:    b.SeatCount,
			TotalCost:    b.TotalCost,
			Currency:     b.Currency,
		},
		PaymentPending: st.paymentPending && failure == nil,
		SeatRelease:    st.release,
		Failure:        failure,
	}
	switch {
	case st.release != nil && st.release.Flight != nil:
		o.FlightUpdate = st.release.Flight
	case st.flight != nil:
		o.FlightUpdate = st.flight.Update()
	}
	return o
}

// ============================================================================
// CANCEL BOOKING
// ============================================================================

// CancelBooking cancels a booking on behalf of its owner or an admin.
// The status change is written first (compare-and-set), so a duplicate request
// can never release the same seats twice. Seat release failures are reported
// in the response but do not fail the cancellation.
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	bookingID uuid.UUID,
	caller Caller,
	reason string,
) (*models.CancelBookingResponse, error) {
	// 1. Load and authorize
	b, err := s.loadBooking(ctx, bookingID, caller)
	if err != nil {
		return nil, err
	}

	// 2. Check cancellable
	if !b.CanBeCancelled() {
		return nil, validationError("booking_not_cancellable",
			fmt.Sprintf("Booking cannot be cancelled in status %s", b.Status))
	}

	// 3. Refund only what was actually captured
	now := s.now()
	var refund int64
	payment, err := s.payments.GetByBookingID(ctx, b.ID)
	if err != nil {
		return nil, internalError("Failed to load payment", err)
	}
	if payment != nil && payment.Status == models.PaymentStatusCompleted {
		refund = CalculateRefund(b, now)
	}

	// 4. Transition (compare-and-set on the status we read)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", caller.Actor)
	}

	from := b.Status
	heldSeats := b.SeatsReserved
	next := b.Clone()
	next.SeatsReserved = false
	next.SetRefund(refund)
	if err := next.Transition(models.BookingStatusCancelled, caller.Actor, reason, now); err != nil {
		return nil, conflictError("invalid_transition", err.Error(), err)
	}
	if err := s.bookings.SaveTransition(ctx, next, from); err != nil {
		if errors.Is(err, database.ErrStaleBooking) {
			return nil, conflictError("booking_modified", "Booking was modified concurrently, please retry", err)
		}
		return nil, internalError("Failed to cancel booking", err)
	}
	b = next

	// 5. Release seats (non-fatal)
	release := models.SeatReleaseOutcome{}
	if heldSeats {
		release = *s.releaseSeats(ctx, b)
	}

	// 6. Hand the refund to the worker
	if b.RefundStatus == models.RefundStatusPending {
		if _, err := s.payments.SetRefundStatus(ctx, b.PaymentID, models.RefundStatusPending, b.RefundAmount); err != nil {
			s.logger.WithError(err).WithField("payment_id", b.PaymentID).Error("Failed to mark payment refund pending")
		}
		s.audit(ctx, models.NewPaymentAudit(models.AuditRefundRequested, models.AuditSourceBackend).
			SetBooking(b.ID).
			SetPaymentID(b.PaymentID).
			SetAmount(b.RefundAmount, b.Currency))
		s.notifyRefunds()
	}

	s.events.Publish(ctx, NewBookingEvent(EventBookingCancelled, b, reason))

	s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"cancelled_by":      caller.Actor,
		"refund_amount":     b.RefundAmount,
		"seats_released":    release.Successful,
	}).Info("Booking cancelled")

	if history, err := s.bookings.GetStatusHistory(ctx, b.ID); err == nil {
		b.StatusHistory = history
	}

	return &models.CancelBookingResponse{
		Success:      true,
		Message:      "Booking cancelled successfully",
		Booking:      b,
		RefundAmount: b.RefundAmount,
		RefundStatus: b.RefundStatus,
		SeatRelease:  release,
	}, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetBooking returns a booking with its status history
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, bookingID uuid.UUID, caller Caller) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID, caller)
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, b)
}

// GetBookingByReference returns a booking by its human-readable reference
func (s *BookingOrchestratorService) GetBookingByReference(ctx context.Context, reference string, caller Caller) (*models.Booking, error) {
	b, err := s.bookings.GetByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, internalError("Failed to load booking", err)
	}
	if b == nil || !caller.canAccess(b) {
		return nil, ErrBookingNotFound
	}
	return s.withHistory(ctx, b)
}

// ListBookings returns the caller's bookings, newest first
func (s *BookingOrchestratorService) ListBookings(ctx context.Context, caller Caller, limit, offset int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.bookings.ListByUser(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, internalError("Failed to list bookings", err)
	}
	return bookings, nil
}

// GetBookingStatus returns the status projection of a booking
func (s *BookingOrchestratorService) GetBookingStatus(ctx context.Context, bookingID uuid.UUID, caller Caller) (*models.BookingStatusResponse, error) {
	b, err := s.loadBooking(ctx, bookingID, caller)
	if err != nil {
		return nil, err
	}
	return models.NewBookingStatusResponse(b), nil
}

// GetStatusHistory returns a booking's status history, oldest first
func (s *BookingOrchestratorService) GetStatusHistory(ctx context.Context, bookingID uuid.UUID, caller Caller) ([]models.StatusHistoryEntry, error) {
	b, err := s.loadBooking(ctx, bookingID, caller)
	if err != nil {
		return nil, err
	}
	history, err := s.bookings.GetStatusHistory(ctx, b.ID)
	if err != nil {
		return nil, internalError("Failed to load status history", err)
	}
	return history, nil
}

// GetFlightAvailability passes a ledger read through to clients
func (s *BookingOrchestratorService) GetFlightAvailability(ctx context.Context, flightID uuid.UUID) (*models.Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.InventoryTimeout)
	defer cancel()

	f, err := s.ledger.Availability(ctx, flightID)
	if errors.Is(err, database.ErrFlightNotFound) {
		return nil, notFoundError("flight_not_found", "Flight not found")
	}
	if err != nil {
		return nil, upstreamError("inventory_unavailable", "Seat inventory is unavailable", err)
	}
	return models.NewAvailability(f), nil
}

// ============================================================================
// PAYMENT NOTIFICATIONS (called by the reconciler)
// ============================================================================

// maxNotificationAttempts bounds re-reads after losing a compare-and-set
const maxNotificationAttempts = 3

// HandlePaymentCompleted confirms a booking that is waiting for its payment.
// A booking that has moved on is left alone, except that money captured for an
// already cancelled booking is queued for a full refund. It reports whether
// anything changed.
func (s *BookingOrchestratorService) HandlePaymentCompleted(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	for attempt := 0; attempt < maxNotificationAttempts; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return false, err
		}
		if b == nil {
			return false, ErrBookingNotFound
		}

		switch {
		case b.Status == models.BookingStatusPaymentProcessing && b.SeatsReserved:
			from := b.Status
			if err := b.Transition(models.BookingStatusConfirmed, models.ActorSystem, "payment completed", s.now()); err != nil {
				return false, err
			}
			err := s.bookings.SaveTransition(ctx, b, from)
			if errors.Is(err, database.ErrStaleBooking) {
				continue
			}
			if err != nil {
				return false, err
			}
			s.events.Publish(ctx, NewBookingEvent(EventBookingConfirmed, b, "payment completed"))
			return true, nil

		case b.Status == models.BookingStatusCancelled:
			return s.queueCapturedRefund(ctx, b)

		default:
			return false, nil
		}
	}
	return false, nil
}

// HandlePaymentFailed cancels a booking whose payment failed and releases its seats
func (s *BookingOrchestratorService) HandlePaymentFailed(ctx context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	if reason == "" {
		reason = "payment failed"
	} else {
		reason = "payment failed: " + reason
	}

	for attempt := 0; attempt < maxNotificationAttempts; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return false, err
		}
		if b == nil {
			return false, ErrBookingNotFound
		}
		if b.Status != models.BookingStatusPaymentProcessing && b.Status != models.BookingStatusConfirmed {
			return false, nil
		}

		from := b.Status
		held := b.SeatsReserved
		b.SeatsReserved = false
		if err := b.Transition(models.BookingStatusCancelled, models.ActorSystem, reason, s.now()); err != nil {
			return false, err
		}
		err = s.bookings.SaveTransition(ctx, b, from)
		if errors.Is(err, database.ErrStaleBooking) {
			continue
		}
		if err != nil {
			return false, err
		}

		if held {
			s.releaseSeats(ctx, b)
		}
		s.events.Publish(ctx, NewBookingEvent(EventBookingCancelled, b, reason))
		return true, nil
	}
	return false, nil
}

// HandleRefundProcessed records a completed refund. A refund issued for a booking
// that is still active voids it: the booking is cancelled and its seats released.
func (s *BookingOrchestratorService) HandleRefundProcessed(ctx context.Context, bookingID uuid.UUID, amount int64) (bool, error) {
	for attempt := 0; attempt < maxNotificationAttempts; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return false, err
		}
		if b == nil {
			return false, ErrBookingNotFound
		}

		if b.Status == models.BookingStatusCancelled {
			applied, err := s.bookings.UpdateRefundStatus(ctx, b.ID,
				[]models.RefundStatus{models.RefundStatusPending, models.RefundStatusProcessing, models.RefundStatusFailed},
				models.RefundStatusCompleted, nil, nil)
			if err != nil || !applied {
				return false, err
			}
			b.RefundStatus = models.RefundStatusCompleted
			s.events.Publish(ctx, NewBookingEvent(EventRefundCompleted, b, ""))
			return true, nil
		}

		if !b.CanBeCancelled() {
			return false, nil
		}

		from := b.Status
		held := b.SeatsReserved
		b.SeatsReserved = false
		b.SetRefund(amount)
		if b.RefundStatus == models.RefundStatusPending {
			b.RefundStatus = models.RefundStatusCompleted
		}
		if err := b.Transition(models.BookingStatusCancelled, models.ActorSystem, "refund processed", s.now()); err != nil {
			return false, err
		}
		err = s.bookings.SaveTransition(ctx, b, from)
		if errors.Is(err, database.ErrStaleBooking) {
			continue
		}
		if err != nil {
			return false, err
		}

		if held {
			s.releaseSeats(ctx, b)
		}
		s.events.Publish(ctx, NewBookingEvent(EventBookingCancelled, b, "refund processed"))
		if b.RefundStatus == models.RefundStatusCompleted {
			s.events.Publish(ctx, NewBookingEvent(EventRefundCompleted, b, ""))
		}
		return true, nil
	}
	return false, nil
}

// ============================================================================
// COMPLETION (scheduled)
// ============================================================================

// CompleteDepartedBookings moves confirmed bookings whose flight departed before
// cutoff to completed. It returns how many were completed.
func (s *BookingOrchestratorService) CompleteDepartedBookings(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	bookings, err := s.bookings.ListDepartedConfirmed(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, b := range bookings {
		from := b.Status
		if err := b.Transition(models.BookingStatusCompleted, models.ActorSystem, "flight departed", s.now()); err != nil {
			continue
		}
		if err := s.bookings.SaveTransition(ctx, b, from); err != nil {
			if !errors.Is(err, database.ErrStaleBooking) {
				s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to complete booking")
			}
			continue
		}
		completed++
		s.events.Publish(ctx, NewBookingEvent(EventBookingCompleted, b, ""))
	}
	return completed, nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// transition applies and persists a status change. b is only updated when the
// write succeeds.
func (s *BookingOrchestratorService) transition(
	ctx context.Context,
	b *models.Booking,
	to models.BookingStatus,
	actor models.Actor,
	reason string,
) error {
	from := b.Status
	next := b.Clone()
	if err := next.Transition(to, actor, reason, s.now()); err != nil {
		return err
	}
	if err := s.bookings.SaveTransition(ctx, next, from); err != nil {
		return err
	}
	*b = *next
	return nil
}

func (s *BookingOrchestratorService) loadBooking(ctx context.Context, bookingID uuid.UUID, caller Caller) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, internalError("Failed to load booking", err)
	}
	if b == nil || !caller.canAccess(b) {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func (s *BookingOrchestratorService) withHistory(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	history, err := s.bookings.GetStatusHistory(ctx, b.ID)
	if err != nil {
		return nil, internalError("Failed to load status history", err)
	}
	b.StatusHistory = history
	return b, nil
}

// queueCapturedRefund schedules a full refund for money captured against a booking
// that was cancelled without one. It reports whether a refund was queued.
func (s *BookingOrchestratorService) queueCapturedRefund(ctx context.Context, b *models.Booking) (bool, error) {
	if b.RefundStatus != models.RefundStatusNotApplicable || b.TotalCost <= 0 {
		return false, nil
	}
	applied, err := s.bookings.ScheduleRefund(ctx, b.ID, b.TotalCost)
	if err != nil || !applied {
		return false, err
	}
	b.RefundAmount = b.TotalCost
	b.RefundStatus = models.RefundStatusPending

	if _, err := s.payments.SetRefundStatus(ctx, b.PaymentID, models.RefundStatusPending, b.TotalCost); err != nil {
		s.logger.WithError(err).WithField("payment_id", b.PaymentID).Error("Failed to mark payment refund pending")
	}
	s.audit(ctx, models.NewPaymentAudit(models.AuditRefundRequested, models.AuditSourceBackend).
		SetBooking(b.ID).
		SetPaymentID(b.PaymentID).
		SetAmount(b.TotalCost, b.Currency))
	s.logger.WithField("booking_id", b.ID).Warn("Payment captured for cancelled booking, full refund queued")
	s.notifyRefunds()
	return true, nil
}

// reloadBooking replaces the saga's copy with the stored booking after a lost
// compare-and-set. The saga keeps its copy when the read fails.
func (s *BookingOrchestratorService) reloadBooking(ctx context.Context, st *sagaState) {
	current, err := s.bookings.GetByID(ctx, st.booking.ID)
	if err != nil || current == nil {
		s.logger.WithError(err).WithField("booking_id", st.booking.ID).Error("Failed to reload booking")
		return
	}
	history, err := s.bookings.GetStatusHistory(ctx, current.ID)
	if err != nil {
		history = st.booking.StatusHistory
	}
	current.StatusHistory = history
	*st.booking = *current
}

func (s *BookingOrchestratorService) markPaymentFailed(ctx context.Context, paymentID, reason string) {
	if _, err := s.payments.MarkFailed(ctx, paymentID, reason); err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to mark payment failed")
	}
}

func (s *BookingOrchestratorService) audit(ctx context.Context, a *models.PaymentAudit) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Log(ctx, a); err != nil {
		s.logger.WithError(err).WithField("event_type", a.EventType).Warn("Payment audit entry dropped")
	}
}

func (s *BookingOrchestratorService) notifyRefunds() {
	if s.refunds != nil {
		s.refunds.Notify()
	}
}

func ledgerFailure(err error) *SagaFailure {
	switch {
	case errors.Is(err, database.ErrInsufficientCapacity):
		return &SagaFailure{Reason: FailureInsufficientSeats, Message: "not enough seats available", Err: err}
	case errors.Is(err, database.ErrFlightNotFound):
		return &SagaFailure{Reason: FailureFlightNotFound, Message: "flight not found", Err: err}
	default:
		return &SagaFailure{Reason: FailureInventoryUnavailable, Message: "seat inventory unavailable", Err: err}
	}
}
