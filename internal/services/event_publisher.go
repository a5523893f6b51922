package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Booking lifecycle event types, also used as routing keys
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventRefundCompleted  = "refund.completed"
	EventRefundFailed     = "refund.failed"
)

// BookingEvent is published after a booking changes in a way other services care about
type BookingEvent struct {
	ID               uuid.UUID            `json:"id"`
	Type             string               `json:"type"`
	BookingID        uuid.UUID            `json:"booking_id"`
	BookingReference string               `json:"booking_reference"`
	UserID           uuid.UUID            `json:"user_id"`
	FlightID         uuid.UUID            `json:"flight_id"`
	Status           models.BookingStatus `json:"status"`
	SeatCount        int                  `json:"seat_count"`
	TotalCost        int64                `json:"total_cost"`
	Currency         string               `json:"currency"`
	RefundAmount     int64                `json:"refund_amount"`
	RefundStatus     models.RefundStatus  `json:"refund_status"`
	Reason           string               `json:"reason,omitempty"`
	OccurredAt       time.Time            `json:"occurred_at"`
}

// NewBookingEvent snapshots b into an event of the given type
func NewBookingEvent(eventType string, b *models.Booking, reason string) BookingEvent {
	return BookingEvent{
		ID:               uuid.New(),
		Type:             eventType,
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		FlightID:         b.FlightID,
		Status:           b.Status,
		SeatCount:        b.SeatCount,
		TotalCost:        b.TotalCost,
		Currency:         b.Currency,
		RefundAmount:     b.RefundAmount,
		RefundStatus:     b.RefundStatus,
		Reason:           reason,
		OccurredAt:       time.Now(),
	}
}

// EventPublisher delivers booking events. Delivery is best effort: a failed
// publish is logged and never undoes the state change that caused it.
type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent)
}

// MessagePublisher is the broker side of BrokerEventPublisher (messaging.Client)
type MessagePublisher interface {
	Publish(routingKey, messageID string, headers map[string]interface{}, payload interface{}) error
}

// BrokerEventPublisher publishes events to the RabbitMQ topic exchange
type BrokerEventPublisher struct {
	broker MessagePublisher
	logger *logrus.Logger
}

// NewBrokerEventPublisher creates a new BrokerEventPublisher
func NewBrokerEventPublisher(broker MessagePublisher, logger *logrus.Logger) *BrokerEventPublisher {
	return &BrokerEventPublisher{broker: broker, logger: logger}
}

// Publish sends the event with its type as routing key
func (p *BrokerEventPublisher) Publish(_ context.Context, event BookingEvent) {
	headers := map[string]interface{}{
		"booking_id":        event.BookingID.String(),
		"booking_reference": event.BookingReference,
		"event_type":        event.Type,
	}

	if err := p.broker.Publish(event.Type, event.ID.String(), headers, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event":      event.Type,
			"booking_id": event.BookingID,
		}).Warn("Failed to publish booking event")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"event":      event.Type,
		"booking_id": event.BookingID,
	}).Debug("Booking event published")
}

// LogEventPublisher only logs events; used when no broker is configured
type LogEventPublisher struct {
	logger *logrus.Logger
}

// NewLogEventPublisher creates a new LogEventPublisher
func NewLogEventPublisher(logger *logrus.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger}
}

// Publish logs the event
func (p *LogEventPublisher) Publish(_ context.Context, event BookingEvent) {
	p.logger.WithFields(logrus.Fields{
		"event":             event.Type,
		"booking_id":        event.BookingID,
		"booking_reference": event.BookingReference,
		"status":            event.Status,
		"refund_status":     event.RefundStatus,
	}).Info("Booking event")
}
