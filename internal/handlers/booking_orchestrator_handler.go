package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/middleware"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingService is the orchestrator surface the booking endpoints use
type BookingService interface {
	CreateBooking(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest, idempotencyKey string) (*services.BookingOutcome, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, caller services.Caller, reason string) (*models.CancelBookingResponse, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID, caller services.Caller) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string, caller services.Caller) (*models.Booking, error)
	ListBookings(ctx context.Context, caller services.Caller, limit, offset int) ([]*models.Booking, error)
	GetBookingStatus(ctx context.Context, bookingID uuid.UUID, caller services.Caller) (*models.BookingStatusResponse, error)
	GetStatusHistory(ctx context.Context, bookingID uuid.UUID, caller services.Caller) ([]models.StatusHistoryEntry, error)
	GetFlightAvailability(ctx context.Context, flightID uuid.UUID) (*models.Availability, error)
}

// BookingOrchestratorHandler handles booking creation, cancellation and lookups
type BookingOrchestratorHandler struct {
	bookings BookingService
	logger   *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(bookings BookingService, logger *logrus.Logger) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// statusForFailure maps a saga failure reason onto an HTTP status
func statusForFailure(reason services.SagaFailureReason) int {
	switch reason {
	case services.FailureInvalidRequest:
		return http.StatusBadRequest
	case services.FailureInsufficientSeats, services.FailurePaymentReferenceInUse:
		return http.StatusConflict
	case services.FailureFlightNotFound:
		return http.StatusNotFound
	case services.FailurePaymentDeclined:
		return http.StatusPaymentRequired
	case services.FailurePaymentUnavailable, services.FailureInventoryUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking runs the booking saga for the authenticated user
// @Summary Create booking
// @Description Reserves seats, takes payment and confirms the booking. Requires Idempotency-Key.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param Idempotency-Key header string true "Client generated key"
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.CreateBookingResponse
// @Success 202 {object} map[string]interface{} "Payment accepted, confirmation pending"
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 402 {object} map[string]interface{} "Payment declined"
// @Failure 409 {object} map[string]interface{} "Insufficient seats or idempotency conflict"
// @Failure 502 {object} map[string]interface{} "Inventory or payment service unavailable"
// @Router /bookings [post]
func (h *BookingOrchestratorHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		errorJSON(c, http.StatusUnauthorized, "unauthorized", "user not authenticated")
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request: "+err.Error())
		return
	}

	outcome, err := h.bookings.CreateBooking(c.Request.Context(), userCtx.UserID, &req, middleware.GetIdempotencyKey(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if !outcome.Succeeded() {
		failure := outcome.Failure
		body := gin.H{
			"success": false,
			"error":   string(failure.Reason),
			"message": failure.Message,
			"step":    failure.Step,
			"booking": outcome.Booking,
		}
		if outcome.SeatRelease != nil {
			body["seat_release"] = outcome.SeatRelease
		}
		status := statusForFailure(failure.Reason)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(failure).WithField("booking_id", outcome.Booking.ID).Error("Booking saga failed")
		}
		c.JSON(status, body)
		return
	}

	if outcome.PaymentPending {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"message": "Booking created, waiting for payment confirmation",
			"booking": outcome.Booking,
			"pricing": outcome.Pricing,
		})
		return
	}

	c.JSON(http.StatusCreated, models.CreateBookingResponse{
		Success:      true,
		Message:      "Booking confirmed",
		Booking:      outcome.Booking,
		Pricing:      outcome.Pricing,
		FlightUpdate: outcome.FlightUpdate,
	})
}

// ============================================================================
// CANCEL BOOKING - PATCH /api/v1/bookings/:booking_id/cancel
// ============================================================================

// CancelBooking cancels a booking owned by the caller (or any booking for admins)
// @Summary Cancel booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param Idempotency-Key header string true "Client generated key"
// @Param booking_id path string true "Booking ID"
// @Param request body models.CancelBookingRequest false "Cancellation reason"
// @Success 200 {object} models.CancelBookingResponse
// @Failure 400 {object} map[string]interface{} "Booking not cancellable"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /bookings/{booking_id}/cancel [patch]
func (h *BookingOrchestratorHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		errorJSON(c, http.StatusUnauthorized, "unauthorized", "user not authenticated")
		return
	}

	bookingID, ok := parseUUIDParam(c, "booking_id")
	if !ok {
		return
	}

	// the body is optional
	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request: "+err.Error())
		return
	}

	response, err := h.bookings.CancelBooking(c.Request.Context(), bookingID, userCtx.Caller(), req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ============================================================================
// QUERIES
// ============================================================================

// GetBooking returns one booking with its status history
// @Router /bookings/{booking_id} [get]
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	bookingID, ok := parseUUIDParam(c, "booking_id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), bookingID, userCtx.Caller())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "booking": booking})
}

// GetBookingByReference looks a booking up by its PNR-style reference
// @Router /bookings/reference/{reference} [get]
func (h *BookingOrchestratorHandler) GetBookingByReference(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	booking, err := h.bookings.GetBookingByReference(c.Request.Context(), c.Param("reference"), userCtx.Caller())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "booking": booking})
}

// ListBookings returns the caller's bookings, newest first
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Router /bookings [get]
func (h *BookingOrchestratorHandler) ListBookings(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var query models.ListBookingsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_query", "limit and offset must be integers")
		return
	}

	bookings, err := h.bookings.ListBookings(c.Request.Context(), userCtx.Caller(), query.Limit, query.Offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// GetBookingStatus returns the lightweight status projection
// @Router /bookings/{booking_id}/status [get]
func (h *BookingOrchestratorHandler) GetBookingStatus(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	bookingID, ok := parseUUIDParam(c, "booking_id")
	if !ok {
		return
	}

	status, err := h.bookings.GetBookingStatus(c.Request.Context(), bookingID, userCtx.Caller())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetStatusHistory returns every status change of a booking in order
// @Router /bookings/{booking_id}/status-history [get]
func (h *BookingOrchestratorHandler) GetStatusHistory(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	bookingID, ok := parseUUIDParam(c, "booking_id")
	if !ok {
		return
	}

	history, err := h.bookings.GetStatusHistory(c.Request.Context(), bookingID, userCtx.Caller())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"booking_id": bookingID,
		"history":    history,
	})
}

// GetFlightAvailability returns the seat counter of a flight
// @Router /flights/{flight_id}/availability [get]
func (h *BookingOrchestratorHandler) GetFlightAvailability(c *gin.Context) {
	flightID, ok := parseUUIDParam(c, "flight_id")
	if !ok {
		return
	}

	availability, err := h.bookings.GetFlightAvailability(c.Request.Context(), flightID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": availability})
}
