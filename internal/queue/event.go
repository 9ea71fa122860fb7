// Package queue carries booking domain events over RabbitMQ: the
// payload definitions, a publisher used by the booking service and a
// background consumer that appends every event to logs/booking.log.
package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/evee/internal/model"
)

// BookingQueueName is the durable queue every booking event is sent to.
const BookingQueueName = "booking.events"

// EventType names a booking lifecycle event.
type EventType string

const (
	BookingCreated       EventType = "booking.created"
	BookingStatusChanged EventType = "booking.status_changed"
	BookingCancelled     EventType = "booking.cancelled"
	BookingDeleted       EventType = "booking.deleted"
)

// BookingEvent is published after a booking change has been committed.
// It contains enough information for downstream consumers to log,
// notify or trigger analytics without querying the primary database.
type BookingEvent struct {
	Type           EventType           `json:"type"`
	BookingID      uint64              `json:"bookingId"`
	UserID         uint64              `json:"userId"`
	StationID      uint64              `json:"stationId"`
	StationName    string              `json:"stationName"`
	PlugType       model.PlugType      `json:"plugType"`
	Status         model.BookingStatus `json:"status"`
	PreviousStatus model.BookingStatus `json:"previousStatus,omitempty"`
	StartTime      time.Time           `json:"startTime"`
	EndTime        time.Time           `json:"endTime"`
	TotalPrice     float64             `json:"totalPrice"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

// NewBookingEvent builds the event for b.  prev is the status before the
// change and may be empty.
func NewBookingEvent(t EventType, b model.Booking, prev model.BookingStatus, at time.Time) BookingEvent {
	return BookingEvent{
		Type:           t,
		BookingID:      b.ID,
		UserID:         b.UserID,
		StationID:      b.StationID,
		StationName:    b.StationName,
		PlugType:       b.PlugType,
		Status:         b.Status,
		PreviousStatus: prev,
		StartTime:      b.StartTime.UTC(),
		EndTime:        b.EndTime.UTC(),
		TotalPrice:     b.TotalPrice,
		OccurredAt:     at.UTC(),
	}
}

// LogLine renders the event as one human-friendly line.
func (ev BookingEvent) LogLine() string {
	status := string(ev.Status)
	if ev.PreviousStatus != "" && ev.PreviousStatus != ev.Status {
		status = fmt.Sprintf("%s->%s", ev.PreviousStatus, ev.Status)
	}
	return fmt.Sprintf("[%s] %s | booking_id=%d | user_id=%d | station_id=%d | station=%q | plug=%q | status=%s | window=%s..%s | total=%.2f\n",
		ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.BookingID, ev.UserID, ev.StationID, ev.StationName,
		ev.PlugType, status, ev.StartTime.Format(time.RFC3339), ev.EndTime.Format(time.RFC3339), ev.TotalPrice)
}
