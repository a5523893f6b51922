package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStaleBooking means the booking changed status since it was read
	ErrStaleBooking = errors.New("booking was modified concurrently")

	// ErrInsufficientCapacity means a reservation asked for more seats than are available
	ErrInsufficientCapacity = errors.New("insufficient seats available")

	// ErrFlightNotFound means no inventory counter exists for the flight
	ErrFlightNotFound = errors.New("flight not found")

	// ErrIdempotencyLockLost means the record is no longer pending under the caller's lock token
	ErrIdempotencyLockLost = errors.New("idempotency lock is no longer held")

	// ErrDuplicateKey wraps a unique constraint violation
	ErrDuplicateKey = errors.New("duplicate key")
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
