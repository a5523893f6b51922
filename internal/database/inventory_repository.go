package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/models"
)

// ErrCapacityBelowReserved means a resize would leave fewer seats than are already held
var ErrCapacityBelowReserved = errors.New("total seats cannot be lower than seats already reserved")

const inventoryColumns = `
	flight_id, flight_number, departure_airport, arrival_airport, departure_at,
	price_per_seat, currency, total_seats, available_seats, created_at, updated_at`

// InventoryRepository is the seat inventory ledger.
// Every mutation is a single conditional statement so concurrent callers
// can never drive available_seats outside [0, total_seats].
type InventoryRepository struct {
	db *sqlx.DB
}

// NewInventoryRepository creates a new InventoryRepository
func NewInventoryRepository(db *sqlx.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// ============================================================================
// COUNTER MANAGEMENT
// ============================================================================

// Upsert registers a flight's counter, or updates its details and capacity.
// A resize keeps the number of already reserved seats constant.
func (r *InventoryRepository) Upsert(ctx context.Context, f *models.FlightInventory) (*models.FlightInventory, error) {
	query := `
		INSERT INTO flight_inventory (
			flight_id, flight_number, departure_airport, arrival_airport, departure_at,
			price_per_seat, currency, total_seats, available_seats, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, NOW(), NOW())
		ON CONFLICT (flight_id) DO UPDATE SET
			flight_number = EXCLUDED.flight_number,
			departure_airport = EXCLUDED.departure_airport,
			arrival_airport = EXCLUDED.arrival_airport,
			departure_at = EXCLUDED.departure_at,
			price_per_seat = EXCLUDED.price_per_seat,
			currency = EXCLUDED.currency,
			available_seats = flight_inventory.available_seats + (EXCLUDED.total_seats - flight_inventory.total_seats),
			total_seats = EXCLUDED.total_seats,
			updated_at = NOW()
		WHERE flight_inventory.total_seats - flight_inventory.available_seats <= EXCLUDED.total_seats
		RETURNING ` + inventoryColumns

	var out models.FlightInventory
	err := r.db.GetContext(ctx, &out, query,
		f.FlightID, f.FlightNumber, f.DepartureAirport, f.ArrivalAirport, f.DepartureAt,
		f.PricePerSeat, f.Currency, f.TotalSeats,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCapacityBelowReserved
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert flight inventory: %w", err)
	}
	return &out, nil
}

// Get returns the counter for a flight, or nil if the flight is unknown
func (r *InventoryRepository) Get(ctx context.Context, flightID uuid.UUID) (*models.FlightInventory, error) {
	var f models.FlightInventory
	query := `SELECT ` + inventoryColumns + ` FROM flight_inventory WHERE flight_id = $1`

	err := r.db.GetContext(ctx, &f, query, flightID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight inventory: %w", err)
	}
	return &f, nil
}

// ============================================================================
// RESERVE / RELEASE
// ============================================================================

// Reserve takes n seats if and only if at least n are available.
// It returns ErrInsufficientCapacity or ErrFlightNotFound when nothing was taken.
func (r *InventoryRepository) Reserve(ctx context.Context, flightID uuid.UUID, n int) (*models.FlightInventory, error) {
	if n <= 0 {
		return nil, fmt.Errorf("seat count must be positive, got %d", n)
	}

	query := `
		UPDATE flight_inventory
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE flight_id = $1 AND available_seats >= $2
		RETURNING ` + inventoryColumns

	var f models.FlightInventory
	err := r.db.GetContext(ctx, &f, query, flightID, n)
	if err == sql.ErrNoRows {
		return nil, r.missReason(ctx, flightID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seats: %w", err)
	}
	return &f, nil
}

// Release returns n seats to the flight, clamped so available never exceeds total
func (r *InventoryRepository) Release(ctx context.Context, flightID uuid.UUID, n int) (*models.FlightInventory, error) {
	if n <= 0 {
		return nil, fmt.Errorf("seat count must be positive, got %d", n)
	}

	query := `
		UPDATE flight_inventory
		SET available_seats = LEAST(total_seats, available_seats + $2), updated_at = NOW()
		WHERE flight_id = $1
		RETURNING ` + inventoryColumns

	var f models.FlightInventory
	err := r.db.GetContext(ctx, &f, query, flightID, n)
	if err == sql.ErrNoRows {
		return nil, ErrFlightNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release seats: %w", err)
	}
	return &f, nil
}

// missReason tells apart an unknown flight from a full one after a reserve matched no row
func (r *InventoryRepository) missReason(ctx context.Context, flightID uuid.UUID) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM flight_inventory WHERE flight_id = $1)`, flightID)
	if err != nil {
		return fmt.Errorf("failed to check flight inventory: %w", err)
	}
	if !exists {
		return ErrFlightNotFound
	}
	return ErrInsufficientCapacity
}
