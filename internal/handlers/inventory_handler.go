package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// InventoryService is the seat ledger exposed to other services
type InventoryService interface {
	Availability(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error)
	Reserve(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error)
	Release(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error)
	Upsert(ctx context.Context, flightID uuid.UUID, req *models.UpsertFlightInventoryRequest, defaultCurrency string) (*models.FlightInventory, error)
}

// InventoryHandler serves the internal seat ledger endpoints.
// Responses use the {"success","data"} envelope InventoryClient expects.
type InventoryHandler struct {
	inventory       InventoryService
	defaultCurrency string
	logger          *logrus.Logger
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(inventory InventoryService, defaultCurrency string, logger *logrus.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventory:       inventory,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// UpsertFlight registers a flight or changes its capacity and fare
// PUT /api/v1/inventory/flights/:flight_id
func (h *InventoryHandler) UpsertFlight(c *gin.Context) {
	flightID, ok := parseUUIDParam(c, "flight_id")
	if !ok {
		return
	}

	var req models.UpsertFlightInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request: "+err.Error())
		return
	}

	flight, err := h.inventory.Upsert(c.Request.Context(), flightID, &req, h.defaultCurrency)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"flight_id":       flightID,
		"flight_number":   flight.FlightNumber,
		"total_seats":     flight.TotalSeats,
		"available_seats": flight.AvailableSeats,
	}).Info("Flight inventory upserted")

	c.JSON(http.StatusOK, gin.H{"success": true, "data": flight})
}

// GetFlight returns the raw counter of a flight
// GET /api/v1/inventory/flights/:flight_id
func (h *InventoryHandler) GetFlight(c *gin.Context) {
	flightID, ok := parseUUIDParam(c, "flight_id")
	if !ok {
		return
	}

	flight, err := h.inventory.Availability(c.Request.Context(), flightID)
	if err != nil {
		h.ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": flight})
}

// ReserveSeats takes seats from a flight
// POST /api/v1/inventory/flights/:flight_id/reserve
func (h *InventoryHandler) ReserveSeats(c *gin.Context) {
	h.adjust(c, h.inventory.Reserve)
}

// ReleaseSeats returns seats to a flight
// POST /api/v1/inventory/flights/:flight_id/release
func (h *InventoryHandler) ReleaseSeats(c *gin.Context) {
	h.adjust(c, h.inventory.Release)
}

func (h *InventoryHandler) adjust(c *gin.Context, op func(context.Context, uuid.UUID, int) (*models.FlightInventory, error)) {
	flightID, ok := parseUUIDParam(c, "flight_id")
	if !ok {
		return
	}

	var req models.SeatCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "seats must be a positive integer")
		return
	}

	flight, err := op(c.Request.Context(), flightID, req.Seats)
	if err != nil {
		h.ledgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": flight})
}

// ledgerError maps ledger sentinels onto the statuses InventoryClient understands
func (h *InventoryHandler) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrFlightNotFound):
		errorJSON(c, http.StatusNotFound, "flight_not_found", "Flight not found")
	case errors.Is(err, database.ErrInsufficientCapacity):
		errorJSON(c, http.StatusConflict, "insufficient_seats", "Not enough seats available")
	default:
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Inventory operation failed")
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Inventory operation failed")
	}
}
