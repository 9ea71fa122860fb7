package model

import (
	"math"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// HoldsSlot reports whether a booking in this status occupies one of
// the station's slots.  Only cancellation gives the slot back.
func (s BookingStatus) HoldsSlot() bool {
	return s != BookingCancelled
}

// Booking reserves one charging slot at one station for one user over
// a time window.  It corresponds to a row in the `bookings` table.
//
// Fields:
//  ID              – primary key identifier.
//  UserID          – user who made the booking.
//  StationID       – station being booked.
//  StationName     – station name at booking time.
//  StationAddress  – station address at booking time.
//  PlugType        – connector requested; one the station supports.
//  StartTime       – start of the window.
//  EndTime         – end of the window.
//  Status          – lifecycle state.
//  TotalPrice      – price for the window, rounded to 2 decimals.
//  DurationMinutes – derived, (EndTime − StartTime) in minutes.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Booking struct {
	ID              uint64        `json:"id"`
	UserID          uint64        `json:"userId"`
	StationID       uint64        `json:"stationId"`
	StationName     string        `json:"stationName"`
	StationAddress  string        `json:"stationAddress"`
	PlugType        PlugType      `json:"plugType"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          BookingStatus `json:"status"`
	TotalPrice      float64       `json:"totalPrice"`
	DurationMinutes int           `json:"durationMinutes"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Duration returns the length of the booking window.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// FillDerived recomputes the derived fields after a load or insert.
func (b *Booking) FillDerived() {
	b.DurationMinutes = int(math.Round(b.Duration().Minutes()))
}
