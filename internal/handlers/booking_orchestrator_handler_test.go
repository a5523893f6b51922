package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/middleware"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBookingService records its inputs and returns canned results
type stubBookingService struct {
	outcome *services.BookingOutcome
	cancel  *models.CancelBookingResponse
	booking *models.Booking
	list    []*models.Booking
	status  *models.BookingStatusResponse
	history []models.StatusHistoryEntry
	avail   *models.Availability
	err     error

	gotUserID  uuid.UUID
	gotRequest *models.CreateBookingRequest
	gotKey     string
	gotCaller  services.Caller
	gotReason  string
	gotRef     string
	gotLimit   int
	gotOffset  int
}

func (s *stubBookingService) CreateBooking(_ context.Context, userID uuid.UUID, req *models.CreateBookingRequest, key string) (*services.BookingOutcome, error) {
	s.gotUserID, s.gotRequest, s.gotKey = userID, req, key
	return s.outcome, s.err
}

func (s *stubBookingService) CancelBooking(_ context.Context, _ uuid.UUID, caller services.Caller, reason string) (*models.CancelBookingResponse, error) {
	s.gotCaller, s.gotReason = caller, reason
	return s.cancel, s.err
}

func (s *stubBookingService) GetBooking(_ context.Context, _ uuid.UUID, caller services.Caller) (*models.Booking, error) {
	s.gotCaller = caller
	return s.booking, s.err
}

func (s *stubBookingService) GetBookingByReference(_ context.Context, ref string, caller services.Caller) (*models.Booking, error) {
	s.gotRef, s.gotCaller = ref, caller
	return s.booking, s.err
}

func (s *stubBookingService) ListBookings(_ context.Context, caller services.Caller, limit, offset int) ([]*models.Booking, error) {
	s.gotCaller, s.gotLimit, s.gotOffset = caller, limit, offset
	return s.list, s.err
}

func (s *stubBookingService) GetBookingStatus(_ context.Context, _ uuid.UUID, caller services.Caller) (*models.BookingStatusResponse, error) {
	s.gotCaller = caller
	return s.status, s.err
}

func (s *stubBookingService) GetStatusHistory(_ context.Context, _ uuid.UUID, caller services.Caller) ([]models.StatusHistoryEntry, error) {
	s.gotCaller = caller
	return s.history, s.err
}

func (s *stubBookingService) GetFlightAvailability(context.Context, uuid.UUID) (*models.Availability, error) {
	return s.avail, s.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// setupBookingRouter wires the handler behind a fake auth step that injects user
func setupBookingRouter(svc BookingService, user middleware.UserContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewBookingOrchestratorHandler(svc, quietLogger())

	router.Use(func(c *gin.Context) {
		c.Set(middleware.UserContextKey, user)
		c.Set(middleware.IdempotencyKeyContextKey, c.GetHeader(middleware.IdempotencyKeyHeader))
		c.Next()
	})
	router.POST("/bookings", h.CreateBooking)
	router.GET("/bookings", h.ListBookings)
	router.GET("/bookings/reference/:reference", h.GetBookingByReference)
	router.GET("/bookings/:booking_id", h.GetBooking)
	router.GET("/bookings/:booking_id/status", h.GetBookingStatus)
	router.GET("/bookings/:booking_id/status-history", h.GetStatusHistory)
	router.PATCH("/bookings/:booking_id/cancel", h.CancelBooking)
	router.GET("/flights/:flight_id/availability", h.GetFlightAvailability)
	return router
}

func sampleBooking(userID uuid.UUID, status models.BookingStatus) *models.Booking {
	return &models.Booking{
		ID:               uuid.New(),
		BookingReference: "FB250601AB12",
		UserID:           userID,
		FlightID:         uuid.New(),
		Seats:            models.SeatList{"12A", "12B"},
		SeatCount:        2,
		PricePerSeat:     450000,
		TotalCost:        900000,
		Currency:         "INR",
		Status:           status,
		CreatedAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func doJSON(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func createBody(flightID uuid.UUID) string {
	return fmt.Sprintf(`{"flight_id":%q,"seats":["12A","12B"],"payment_id":"pay_123"}`, flightID)
}

func TestCreateBooking_Confirmed(t *testing.T) {
	user := middleware.UserContext{UserID: uuid.New(), Roles: []string{"user"}}
	b := sampleBooking(user.UserID, models.BookingStatusConfirmed)
	svc := &stubBookingService{outcome: &services.BookingOutcome{
		Booking:      b,
		Pricing:      models.PricingBreakdown{PricePerSeat: 450000, SeatCount: 2, TotalCost: 900000, Currency: "INR"},
		FlightUpdate: &models.FlightUpdate{FlightID: b.FlightID, AvailableSeats: 98, TotalSeats: 100},
	}}
	router := setupBookingRouter(svc, user)

	w := doJSON(router, "POST", "/bookings", createBody(b.FlightID), map[string]string{"Idempotency-Key": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(900000), body["pricing"].(map[string]interface{})["total_cost"])
	assert.Equal(t, float64(98), body["flight_update"].(map[string]interface{})["available_seats"])

	assert.Equal(t, user.UserID, svc.gotUserID)
	assert.Equal(t, "abc", svc.gotKey)
	assert.Equal(t, []string{"12A", "12B"}, svc.gotRequest.Seats)
	assert.Equal(t, "pay_123", svc.gotRequest.PaymentID)
}

func TestCreateBooking_PaymentPending(t *testing.T) {
	user := middleware.UserContext{UserID: uuid.New()}
	b := sampleBooking(user.UserID, models.BookingStatusPaymentProcessing)
	svc := &stubBookingService{outcome: &services.BookingOutcome{Booking: b, PaymentPending: true}}
	router := setupBookingRouter(svc, user)

	w := doJSON(router, "POST", "/bookings", createBody(b.FlightID), nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "payment_processing")
}

func TestCreateBooking_SagaFailures(t *testing.T) {
	tests := []struct {
		reason services.SagaFailureReason
		want   int
	}{
		{services.FailureInvalidRequest, http.StatusBadRequest},
		{services.FailureInsufficientSeats, http.StatusConflict},
		{services.FailurePaymentReferenceInUse, http.StatusConflict},
		{services.FailureFlightNotFound, http.StatusNotFound},
		{services.FailurePaymentDeclined, http.StatusPaymentRequired},
		{services.FailurePaymentUnavailable, http.StatusBadGateway},
		{services.FailureInventoryUnavailable, http.StatusBadGateway},
		{services.FailureInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			user := middleware.UserContext{UserID: uuid.New()}
			b := sampleBooking(user.UserID, models.BookingStatusCancelled)
			svc := &stubBookingService{outcome: &services.BookingOutcome{
				Booking:     b,
				SeatRelease: &models.SeatReleaseOutcome{Attempted: true, Successful: true},
				Failure:     &services.SagaFailure{Reason: tt.reason, Step: "reserve_seats", Message: "it failed"},
			}}
			router := setupBookingRouter(svc, user)

			w := doJSON(router, "POST", "/bookings", createBody(b.FlightID), nil)

			assert.Equal(t, tt.want, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, string(tt.reason), body["error"])
			assert.Equal(t, "reserve_seats", body["step"])
			assert.NotNil(t, body["seat_release"])
		})
	}
}

func TestCreateBooking_InvalidBody(t *testing.T) {
	svc := &stubBookingService{}
	router := setupBookingRouter(svc, middleware.UserContext{UserID: uuid.New()})

	for name, body := range map[string]string{
		"not json":        `{`,
		"missing flight":  `{"seats":["1A"],"payment_id":"p"}`,
		"empty seats":     fmt.Sprintf(`{"flight_id":%q,"seats":[],"payment_id":"p"}`, uuid.New()),
		"bad flight uuid": `{"flight_id":"nope","seats":["1A"],"payment_id":"p"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(router, "POST", "/bookings", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_request")
		})
	}
	assert.Nil(t, svc.gotRequest)
}

func TestCreateBooking_ServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &services.ServiceError{Kind: services.KindValidation, Code: "invalid_seats", Message: "duplicate seat"}, http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubBookingService{err: tt.err}
			router := setupBookingRouter(svc, middleware.UserContext{UserID: uuid.New()})

			w := doJSON(router, "POST", "/bookings", createBody(uuid.New()), nil)

			assert.Equal(t, tt.want, w.Code)
			assert.NotContains(t, w.Body.String(), "boom")
		})
	}
}

func TestCancelBooking(t *testing.T) {
	user := middleware.UserContext{UserID: uuid.New(), Roles: []string{"user"}}
	b := sampleBooking(user.UserID, models.BookingStatusCancelled)

	t.Run("With reason", func(t *testing.T) {
		svc := &stubBookingService{cancel: &models.CancelBookingResponse{
			Success:      true,
			Booking:      b,
			RefundAmount: 675000,
			RefundStatus: models.RefundStatusPending,
			SeatRelease:  models.SeatReleaseOutcome{Attempted: true, Successful: true},
		}}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/"+b.ID.String()+"/cancel", `{"reason":"plans changed"}`, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(675000), body["refund_amount"])
		assert.Equal(t, "plans changed", svc.gotReason)
		assert.Equal(t, models.ActorUser, svc.gotCaller.Actor)
	})

	t.Run("Empty body", func(t *testing.T) {
		svc := &stubBookingService{cancel: &models.CancelBookingResponse{Success: true, Booking: b}}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/"+b.ID.String()+"/cancel", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, svc.gotReason)
	})

	t.Run("Admin caller", func(t *testing.T) {
		svc := &stubBookingService{cancel: &models.CancelBookingResponse{Success: true, Booking: b}}
		router := setupBookingRouter(svc, middleware.UserContext{UserID: uuid.New(), Roles: []string{"admin"}})

		w := doJSON(router, "PATCH", "/bookings/"+b.ID.String()+"/cancel", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.ActorAdmin, svc.gotCaller.Actor)
	})

	t.Run("Not cancellable", func(t *testing.T) {
		svc := &stubBookingService{err: &services.ServiceError{
			Kind: services.KindValidation, Code: "booking_not_cancellable", Message: "Booking cannot be cancelled in status completed",
		}}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/"+b.ID.String()+"/cancel", "", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "booking_not_cancellable", decode(t, w)["error"])
	})

	t.Run("Unknown booking", func(t *testing.T) {
		svc := &stubBookingService{err: services.ErrBookingNotFound}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/"+uuid.NewString()+"/cancel", "", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Concurrent modification", func(t *testing.T) {
		svc := &stubBookingService{err: &models.InvalidTransitionError{From: models.BookingStatusCancelled, To: models.BookingStatusCancelled}}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/"+b.ID.String()+"/cancel", "", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "invalid_transition", decode(t, w)["error"])
	})

	t.Run("Malformed id", func(t *testing.T) {
		svc := &stubBookingService{}
		router := setupBookingRouter(svc, user)

		w := doJSON(router, "PATCH", "/bookings/not-a-uuid/cancel", "", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_booking_id", decode(t, w)["error"])
	})
}

func TestBookingQueries(t *testing.T) {
	user := middleware.UserContext{UserID: uuid.New()}
	b := sampleBooking(user.UserID, models.BookingStatusConfirmed)

	t.Run("Get booking", func(t *testing.T) {
		svc := &stubBookingService{booking: b}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings/"+b.ID.String(), "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), b.BookingReference)
		assert.Equal(t, user.UserID, svc.gotCaller.UserID)
	})

	t.Run("By reference", func(t *testing.T) {
		svc := &stubBookingService{booking: b}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings/reference/fb250601ab12", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fb250601ab12", svc.gotRef)
	})

	t.Run("List with paging", func(t *testing.T) {
		svc := &stubBookingService{list: []*models.Booking{b}}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings?limit=5&offset=10", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), decode(t, w)["count"])
		assert.Equal(t, 5, svc.gotLimit)
		assert.Equal(t, 10, svc.gotOffset)
	})

	t.Run("List bad paging", func(t *testing.T) {
		svc := &stubBookingService{}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings?limit=many", "", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Status", func(t *testing.T) {
		svc := &stubBookingService{status: models.NewBookingStatusResponse(b)}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings/"+b.ID.String()+"/status", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "confirmed", body["status"])
		assert.Equal(t, true, body["can_be_cancelled"])
	})

	t.Run("History", func(t *testing.T) {
		svc := &stubBookingService{history: []models.StatusHistoryEntry{
			{Status: models.BookingStatusInitialized, ChangedBy: models.ActorUser},
			{Status: models.BookingStatusPendingPayment, ChangedBy: models.ActorSystem},
		}}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings/"+b.ID.String()+"/status-history", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		history := decode(t, w)["history"].([]interface{})
		assert.Len(t, history, 2)
	})

	t.Run("Not found", func(t *testing.T) {
		svc := &stubBookingService{err: services.ErrBookingNotFound}
		w := doJSON(setupBookingRouter(svc, user), "GET", "/bookings/"+uuid.NewString()+"/status", "", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "booking_not_found", decode(t, w)["error"])
	})
}

func TestGetFlightAvailability(t *testing.T) {
	user := middleware.UserContext{UserID: uuid.New()}
	flightID := uuid.New()

	svc := &stubBookingService{avail: &models.Availability{FlightID: flightID, TotalSeats: 180, AvailableSeats: 42}}
	w := doJSON(setupBookingRouter(svc, user), "GET", "/flights/"+flightID.String()+"/availability", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), decode(t, w)["data"].(map[string]interface{})["available_seats"])

	svc = &stubBookingService{err: &services.ServiceError{Kind: services.KindUpstream, Code: "inventory_unavailable", Message: "Seat inventory is unavailable"}}
	w = doJSON(setupBookingRouter(svc, user), "GET", "/flights/"+flightID.String()+"/availability", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
