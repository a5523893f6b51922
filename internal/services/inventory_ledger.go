package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// InventoryLedger reserves and releases seat capacity.
// Reserve reports database.ErrInsufficientCapacity or database.ErrFlightNotFound
// without changing the counter; any other error means the ledger could not be reached.
type InventoryLedger interface {
	Availability(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error)
	Reserve(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error)
	Release(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error)
}

// InventoryRepository is the persistence behind LocalInventory
type InventoryRepository interface {
	Get(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error)
	Reserve(ctx context.Context, flightID uuid.UUID, n int) (*models.FlightInventory, error)
	Release(ctx context.Context, flightID uuid.UUID, n int) (*models.FlightInventory, error)
	Upsert(ctx context.Context, f *models.FlightInventory) (*models.FlightInventory, error)
}

// ============================================================================
// IN-PROCESS LEDGER
// ============================================================================

// LocalInventory is the ledger backed by the flight_inventory table of this service
type LocalInventory struct {
	repo    InventoryRepository
	timeout time.Duration
}

// NewLocalInventory creates a ledger over the local inventory table
func NewLocalInventory(repo InventoryRepository, timeout time.Duration) *LocalInventory {
	return &LocalInventory{repo: repo, timeout: timeout}
}

// Availability returns the current counter, or ErrFlightNotFound
func (l *LocalInventory) Availability(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	f, err := l.repo.Get(ctx, flightID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, database.ErrFlightNotFound
	}
	return f, nil
}

// Reserve takes seats with a single conditional decrement
func (l *LocalInventory) Reserve(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.repo.Reserve(ctx, flightID, seats)
}

// Release returns seats, capped at the flight's total
func (l *LocalInventory) Release(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.repo.Release(ctx, flightID, seats)
}

// Upsert registers or resizes a flight counter
func (l *LocalInventory) Upsert(ctx context.Context, flightID uuid.UUID, req *models.UpsertFlightInventoryRequest, defaultCurrency string) (*models.FlightInventory, error) {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	f, err := l.repo.Upsert(ctx, &models.FlightInventory{
		FlightID:         flightID,
		FlightNumber:     strings.ToUpper(req.FlightNumber),
		DepartureAirport: strings.ToUpper(req.DepartureAirport),
		ArrivalAirport:   strings.ToUpper(req.ArrivalAirport),
		DepartureAt:      req.DepartureAt,
		PricePerSeat:     req.PricePerSeat,
		Currency:         currency,
		TotalSeats:       req.TotalSeats,
	})
	if errors.Is(err, database.ErrCapacityBelowReserved) {
		return nil, conflictError("capacity_below_reserved", "Total seats cannot be less than seats already reserved", err)
	}
	return f, err
}

// ============================================================================
// REMOTE LEDGER (inventory service over HTTP)
// ============================================================================

// InventoryClient calls the inventory endpoints of a remote instance of this service
type InventoryClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

type inventoryEnvelope struct {
	Success bool                    `json:"success"`
	Error   string                  `json:"error,omitempty"`
	Message string                  `json:"message,omitempty"`
	Data    *models.FlightInventory `json:"data,omitempty"`
}

// NewInventoryClient creates a ledger client for cfg.ServiceURL
func NewInventoryClient(cfg config.InventoryConfig, logger *logrus.Logger) *InventoryClient {
	return &InventoryClient{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Availability reads the remote counter
func (c *InventoryClient) Availability(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error) {
	return c.do(ctx, http.MethodGet, c.flightURL(flightID), nil)
}

// Reserve asks the remote ledger to take seats
func (c *InventoryClient) Reserve(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	return c.do(ctx, http.MethodPost, c.flightURL(flightID)+"/reserve", models.SeatCountRequest{Seats: seats})
}

// Release asks the remote ledger to return seats
func (c *InventoryClient) Release(ctx context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	return c.do(ctx, http.MethodPost, c.flightURL(flightID)+"/release", models.SeatCountRequest{Seats: seats})
}

func (c *InventoryClient) flightURL(flightID uuid.UUID) string {
	return fmt.Sprintf("%s/flights/%s", c.baseURL, flightID)
}

func (c *InventoryClient) do(ctx context.Context, method, url string, payload interface{}) (*models.FlightInventory, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build inventory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", url).Error("Inventory service call failed")
		return nil, fmt.Errorf("failed to call inventory service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, database.ErrFlightNotFound
	case http.StatusConflict:
		return nil, database.ErrInsufficientCapacity
	default:
		return nil, fmt.Errorf("inventory service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope inventoryEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse inventory response: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("inventory response has no data")
	}
	return envelope.Data, nil
}
