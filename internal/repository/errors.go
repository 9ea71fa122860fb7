// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow the service layer to
// distinguish between failure scenarios without inspecting driver
// errors.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a user is created with an email that
// is already registered.
var ErrEmailExists = errors.New("email already exists")

// ErrNoAvailability is returned when a slot is taken from a station
// whose available counter is already zero.
var ErrNoAvailability = errors.New("no available slots")

// ErrAlreadyFavorite is returned when a station is added twice to the
// same favorites list.
var ErrAlreadyFavorite = errors.New("already a favorite")

// ErrConflict is returned when an update or delete cannot be performed
// because of conflicting state, such as deleting a station that still
// has active bookings or a status change that lost a race.
var ErrConflict = errors.New("conflict")
