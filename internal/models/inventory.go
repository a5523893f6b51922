package models

import (
	"time"

	"github.com/google/uuid"
)

// FlightInventory is the seat counter for one flight.
// 0 <= AvailableSeats <= TotalSeats always holds; the database enforces it with a CHECK.
type FlightInventory struct {
	FlightID         uuid.UUID `json:"flight_id" db:"flight_id"`
	FlightNumber     string    `json:"flight_number" db:"flight_number"`
	DepartureAirport string    `json:"departure_airport" db:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport" db:"arrival_airport"`
	DepartureAt      time.Time `json:"departure_at" db:"departure_at"`
	PricePerSeat     int64     `json:"price_per_seat" db:"price_per_seat"`
	Currency         string    `json:"currency" db:"currency"`
	TotalSeats       int       `json:"total_seats" db:"total_seats"`
	AvailableSeats   int       `json:"available_seats" db:"available_seats"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Update returns the counter snapshot used in API responses
func (f *FlightInventory) Update() *FlightUpdate {
	return &FlightUpdate{
		FlightID:       f.FlightID,
		AvailableSeats: f.AvailableSeats,
		TotalSeats:     f.TotalSeats,
	}
}

// Availability is the read-only view of a flight's capacity
type Availability struct {
	FlightID       uuid.UUID `json:"flight_id"`
	FlightNumber   string    `json:"flight_number"`
	DepartureAt    time.Time `json:"departure_at"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	PricePerSeat   int64     `json:"price_per_seat"`
	Currency       string    `json:"currency"`
}

// NewAvailability projects an inventory counter into an availability view
func NewAvailability(f *FlightInventory) *Availability {
	return &Availability{
		FlightID:       f.FlightID,
		FlightNumber:   f.FlightNumber,
		DepartureAt:    f.DepartureAt,
		TotalSeats:     f.TotalSeats,
		AvailableSeats: f.AvailableSeats,
		PricePerSeat:   f.PricePerSeat,
		Currency:       f.Currency,
	}
}

// Reservation is the result of successfully taking seats from the ledger
type Reservation struct {
	FlightID       uuid.UUID `json:"flight_id"`
	SeatCount      int       `json:"seat_count"`
	PricePerSeat   int64     `json:"price_per_seat"`
	Currency       string    `json:"currency"`
	DepartureAt    time.Time `json:"departure_at"`
	AvailableSeats int       `json:"available_seats"`
	TotalSeats     int       `json:"total_seats"`
}

// NewReservation builds a reservation from the counter state after the decrement
func NewReservation(f *FlightInventory, seatCount int) *Reservation {
	return &Reservation{
		FlightID:       f.FlightID,
		SeatCount:      seatCount,
		PricePerSeat:   f.PricePerSeat,
		Currency:       f.Currency,
		DepartureAt:    f.DepartureAt,
		AvailableSeats: f.AvailableSeats,
		TotalSeats:     f.TotalSeats,
	}
}

// FlightUpdate returns the counter snapshot carried by the reservation
func (r *Reservation) FlightUpdate() *FlightUpdate {
	return &FlightUpdate{FlightID: r.FlightID, AvailableSeats: r.AvailableSeats, TotalSeats: r.TotalSeats}
}

// SeatCountRequest is the body of the reserve/release ledger endpoints
type SeatCountRequest struct {
	Seats int `json:"seats" binding:"required,min=1"`
}

// UpsertFlightInventoryRequest registers or resizes a flight's counter
type UpsertFlightInventoryRequest struct {
	FlightNumber     string    `json:"flight_number" binding:"required"`
	DepartureAirport string    `json:"departure_airport" binding:"required,len=3"`
	ArrivalAirport   string    `json:"arrival_airport" binding:"required,len=3"`
	DepartureAt      time.Time `json:"departure_at" binding:"required"`
	PricePerSeat     int64     `json:"price_per_seat" binding:"required,min=1"`
	Currency         string    `json:"currency"`
	TotalSeats       int       `json:"total_seats" binding:"required,min=1"`
}
