package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptySeat indicates a seat number is empty
	ErrEmptySeat = errors.New("seat number cannot be empty")

	// ErrInvalidSeat indicates a seat number is not a row (1-99) followed by a seat letter
	ErrInvalidSeat = errors.New("seat number must be a row from 1 to 99 followed by a letter A-K (no I), e.g. 14C")

	// ErrNoSeats indicates a booking requested no seats
	ErrNoSeats = errors.New("at least one seat is required")

	// ErrTooManySeats indicates a booking requested more seats than allowed
	ErrTooManySeats = errors.New("too many seats requested")

	// ErrDuplicateSeat indicates the same seat was requested twice
	ErrDuplicateSeat = errors.New("seat requested more than once")
)

// seatRegex matches a row number without leading zero and a cabin letter.
// I is skipped on aircraft seat maps.
var seatRegex = regexp.MustCompile(`^([1-9][0-9]?)([A-HJK])$`)

// SeatValidator handles seat number validation
type SeatValidator struct{}

// NewSeatValidator creates a new seat validator instance
func NewSeatValidator() *SeatValidator {
	return &SeatValidator{}
}

// Validate validates a seat number.
// Accepts 14C, 14c, " 14 C " or 14-C and returns the sanitized form (14C).
func (v *SeatValidator) Validate(seat string) (string, error) {
	if strings.TrimSpace(seat) == "" {
		return "", ErrEmptySeat
	}

	sanitized := v.Sanitize(seat)
	if !seatRegex.MatchString(sanitized) {
		return "", ErrInvalidSeat
	}
	return sanitized, nil
}

// Sanitize uppercases a seat number and strips separators
func (v *SeatValidator) Sanitize(seat string) string {
	seat = strings.ToUpper(seat)
	seat = strings.ReplaceAll(seat, " ", "")
	seat = strings.ReplaceAll(seat, "-", "")
	return seat
}

// ValidateSeats validates every seat of a booking request, rejects duplicates
// and enforces maxSeats. It returns the sanitized seats in request order.
func (v *SeatValidator) ValidateSeats(seats []string, maxSeats int) ([]string, error) {
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	if maxSeats > 0 && len(seats) > maxSeats {
		return nil, fmt.Errorf("%w: %d requested, at most %d allowed", ErrTooManySeats, len(seats), maxSeats)
	}

	seen := make(map[string]bool, len(seats))
	sanitized := make([]string, 0, len(seats))
	for _, seat := range seats {
		s, err := v.Validate(seat)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, seat)
		}
		if seen[s] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSeat, s)
		}
		seen[s] = true
		sanitized = append(sanitized, s)
	}
	return sanitized, nil
}

// IsValid is a convenience method that returns true if seat is valid
func (v *SeatValidator) IsValid(seat string) bool {
	_, err := v.Validate(seat)
	return err == nil
}
