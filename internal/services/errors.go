package services

import (
	"errors"
	"fmt"

	"github.com/santosh227/airline-booking-service/internal/models"
)

// ErrorKind classifies a service failure for the transport layer
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindUpstream   ErrorKind = "upstream" // a collaborator failed or timed out
	KindInternal   ErrorKind = "internal"
)

// ServiceError is the error type returned by services.
// Code is a stable machine-readable identifier, Message is safe to show to clients.
type ServiceError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func validationError(code, message string) *ServiceError {
	return &ServiceError{Kind: KindValidation, Code: code, Message: message}
}

func conflictError(code, message string, err error) *ServiceError {
	return &ServiceError{Kind: KindConflict, Code: code, Message: message, Err: err}
}

func notFoundError(code, message string) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Code: code, Message: message}
}

func upstreamError(code, message string, err error) *ServiceError {
	return &ServiceError{Kind: KindUpstream, Code: code, Message: message, Err: err}
}

func internalError(message string, err error) *ServiceError {
	return &ServiceError{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// KindOf returns the kind of err. Invalid state transitions are conflicts;
// anything unclassified is internal.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	var te *models.InvalidTransitionError
	if errors.As(err, &te) {
		return KindConflict
	}
	return KindInternal
}

// ErrBookingNotFound is returned when a booking does not exist or is not visible to the caller
var ErrBookingNotFound = notFoundError("booking_not_found", "Booking not found")
