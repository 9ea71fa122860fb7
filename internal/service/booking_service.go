package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/policy"
	"github.com/iliyamo/evee/internal/queue"
	"github.com/iliyamo/evee/internal/repository"
)

var (
	errBookingNotFound = apperr.New(apperr.NotFound, "Booking not found")
	errBookingAccess   = apperr.New(apperr.Forbidden, "Not authorized to access this booking")
	errNoSlots         = apperr.New(apperr.InvalidRequest, "No available charging spots at this station")
)

// CreateBookingInput is the body of a booking request.
type CreateBookingInput struct {
	StationID uint64         `json:"stationId"`
	PlugType  model.PlugType `json:"plugType"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
}

// BookingView is a booking joined with its station.  Station is nil
// once the station has been deleted; the booking still carries the
// name and address snapshot.
type BookingView struct {
	model.Booking
	Station *model.Station `json:"station"`
}

// BookingService implements the booking lifecycle and keeps every
// station's available counter consistent with it.
type BookingService struct {
	db        *database.DB
	bookings  *repository.BookingRepo
	stations  *repository.StationRepo
	events    EventPublisher
	observers StationObserver
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookingService builds a BookingService.  events and observer may
// be nil.
func NewBookingService(db *database.DB, bookings *repository.BookingRepo, stations *repository.StationRepo,
	events EventPublisher, observer StationObserver, logger *zap.Logger) *BookingService {
	if events == nil {
		events = nopPublisher{}
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &BookingService{
		db:        db,
		bookings:  bookings,
		stations:  stations,
		events:    events,
		observers: observer,
		logger:    logger,
		now:       utcNow,
	}
}

// BookingPrice returns duration-in-hours times the unit price, rounded
// half away from zero to two decimals.
func BookingPrice(d time.Duration, price float64) float64 {
	hours := decimal.NewFromInt(d.Milliseconds()).Div(decimal.NewFromInt(int64(time.Hour / time.Millisecond)))
	total, _ := hours.Mul(decimal.NewFromFloat(price)).Round(2).Float64()
	return total
}

// ListMine returns the caller's bookings, newest first, each joined with
// its station.
func (s *BookingService) ListMine(ctx context.Context, actor *model.User) ([]BookingView, error) {
	list, err := s.bookings.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(list))
	seen := map[uint64]bool{}
	for _, b := range list {
		if !seen[b.StationID] {
			seen[b.StationID] = true
			ids = append(ids, b.StationID)
		}
	}
	stations, err := s.stations.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]BookingView, 0, len(list))
	for _, b := range list {
		v := BookingView{Booking: b}
		if st, ok := stations[b.StationID]; ok {
			v.Station = &st
		}
		out = append(out, v)
	}
	return out, nil
}

// ListAll returns every booking with user and station details.
func (s *BookingService) ListAll(ctx context.Context, actor *model.User) ([]repository.BookingAdminRow, error) {
	if !policy.Can(actor, policy.ActionBookingListAll, 0) {
		return nil, apperr.New(apperr.Forbidden, "Not authorized to view all bookings")
	}
	return s.bookings.ListAll(ctx)
}

// Get returns one booking to its owner or an admin.
func (s *BookingService) Get(ctx context.Context, actor *model.User, id uint64) (BookingView, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return BookingView{}, errBookingNotFound
	}
	if err != nil {
		return BookingView{}, err
	}
	if !policy.Can(actor, policy.ActionBookingView, b.UserID) {
		return BookingView{}, errBookingAccess
	}
	return s.view(ctx, b)
}

func (s *BookingService) view(ctx context.Context, b model.Booking) (BookingView, error) {
	v := BookingView{Booking: b}
	st, err := s.stations.GetByID(ctx, b.StationID)
	switch {
	case err == nil:
		v.Station = &st
	case !errors.Is(err, repository.ErrNotFound):
		return v, err
	}
	return v, nil
}

// Create books one slot at a station.  The station row is locked and the
// counter is decremented with a conditional update in the same
// transaction as the insert, so concurrent requests can never overbook.
func (s *BookingService) Create(ctx context.Context, actor *model.User, in CreateBookingInput) (BookingView, error) {
	if !policy.Can(actor, policy.ActionBookingCreate, 0) {
		return BookingView{}, apperr.New(apperr.Forbidden, "Not authorized to create bookings")
	}
	if in.StationID == 0 || in.PlugType == "" || in.StartTime.IsZero() || in.EndTime.IsZero() {
		return BookingView{}, apperr.New(apperr.InvalidRequest, "stationId, plugType, startTime and endTime are required")
	}
	if !in.EndTime.After(in.StartTime) {
		return BookingView{}, apperr.New(apperr.InvalidRequest, "End time must be after start time")
	}

	var (
		b  model.Booking
		st model.Station
	)
	now := s.now()
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		st, err = s.stations.GetForUpdateTx(ctx, tx, in.StationID)
		if errors.Is(err, repository.ErrNotFound) {
			return errStationNotFound
		}
		if err != nil {
			return err
		}
		if st.Availability.Available <= 0 {
			return errNoSlots
		}
		if !st.Supports(in.PlugType) {
			return apperr.New(apperr.InvalidRequest, fmt.Sprintf("This station does not support %s charging", in.PlugType))
		}

		b = model.Booking{
			UserID:         actor.ID,
			StationID:      st.ID,
			StationName:    st.Name,
			StationAddress: st.Address,
			PlugType:       in.PlugType,
			StartTime:      in.StartTime.UTC(),
			EndTime:        in.EndTime.UTC(),
			Status:         model.BookingPending,
			TotalPrice:     BookingPrice(in.EndTime.Sub(in.StartTime), st.Price),
		}
		if err := s.bookings.CreateTx(ctx, tx, &b, now); err != nil {
			return err
		}
		if err := s.stations.TakeSlotTx(ctx, tx, st.ID, now); errors.Is(err, repository.ErrNoAvailability) {
			return errNoSlots
		} else if err != nil {
			return err
		}
		st.Availability, err = s.stations.AvailabilityTx(ctx, tx, st.ID)
		return err
	})
	if err != nil {
		return BookingView{}, err
	}

	s.logger.Info("booking created",
		zap.Uint64("booking_id", b.ID),
		zap.Uint64("user_id", b.UserID),
		zap.Uint64("station_id", b.StationID),
		zap.Float64("total_price", b.TotalPrice))
	s.afterCommit(ctx, queue.NewBookingEvent(queue.BookingCreated, b, "", now),
		&model.StationChange{StationID: st.ID, Availability: st.Availability})
	st.UpdatedAt = now
	return BookingView{Booking: b, Station: &st}, nil
}

// UpdateStatus sets the status of a booking.  Admins may set any of the
// four statuses; the owner may only cancel.  Moving into cancelled gives
// the slot back, and moving out of cancelled takes one again.  Setting
// the current status again is a no-op, so repeated cancels never
// release twice.
func (s *BookingService) UpdateStatus(ctx context.Context, actor *model.User, id uint64, status model.BookingStatus) (BookingView, error) {
	if !status.Valid() {
		return BookingView{}, apperr.New(apperr.InvalidRequest, "Invalid status")
	}

	var (
		b      model.Booking
		prev   model.BookingStatus
		change *model.StationChange
	)
	now := s.now()
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		b, err = s.bookings.GetForUpdateTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return errBookingNotFound
		}
		if err != nil {
			return err
		}
		if err := s.authorizeStatus(actor, b, status); err != nil {
			return err
		}
		prev = b.Status
		if prev == status {
			return nil
		}

		if !prev.HoldsSlot() && status.HoldsSlot() {
			if _, err := s.stations.GetForUpdateTx(ctx, tx, b.StationID); errors.Is(err, repository.ErrNotFound) {
				return errStationNotFound
			} else if err != nil {
				return err
			}
			if err := s.stations.TakeSlotTx(ctx, tx, b.StationID, now); errors.Is(err, repository.ErrNoAvailability) {
				return errNoSlots
			} else if err != nil {
				return err
			}
		}
		moved, err := s.bookings.TransitionTx(ctx, tx, b.ID, prev, status, now)
		if err != nil {
			return err
		}
		if !moved {
			return apperr.Wrap(apperr.Conflict, "Booking was modified concurrently", repository.ErrConflict)
		}
		if prev.HoldsSlot() && !status.HoldsSlot() {
			if _, err := s.stations.ReleaseSlotTx(ctx, tx, b.StationID, now); err != nil {
				return err
			}
		}
		b.Status = status
		b.UpdatedAt = now
		if prev.HoldsSlot() != status.HoldsSlot() {
			change, err = s.stationChangeTx(ctx, tx, b.StationID)
		}
		return err
	})
	if err != nil {
		return BookingView{}, err
	}

	if prev != status {
		s.logger.Info("booking status changed",
			zap.Uint64("booking_id", b.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(status)),
			zap.Uint64("actor_id", actor.ID))
		evType := queue.BookingStatusChanged
		if status == model.BookingCancelled {
			evType = queue.BookingCancelled
		}
		s.afterCommit(ctx, queue.NewBookingEvent(evType, b, prev, now), change)
	}
	return s.view(ctx, b)
}

func (s *BookingService) authorizeStatus(actor *model.User, b model.Booking, status model.BookingStatus) error {
	if policy.Can(actor, policy.ActionBookingSetStatus, b.UserID) {
		return nil
	}
	if !policy.Can(actor, policy.ActionBookingView, b.UserID) {
		return errBookingAccess
	}
	if status == model.BookingCancelled && policy.Can(actor, policy.ActionBookingCancel, b.UserID) {
		return nil
	}
	return apperr.New(apperr.Forbidden, "Only administrators can change a booking to "+string(status))
}

// Delete hard-deletes a booking.  A booking that still holds a slot
// gives it back first.
func (s *BookingService) Delete(ctx context.Context, actor *model.User, id uint64) error {
	if !policy.Can(actor, policy.ActionBookingDelete, 0) {
		return apperr.New(apperr.Forbidden, "Not authorized to delete bookings")
	}
	var (
		b      model.Booking
		change *model.StationChange
	)
	now := s.now()
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		b, err = s.bookings.GetForUpdateTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return errBookingNotFound
		}
		if err != nil {
			return err
		}
		if b.Status.HoldsSlot() {
			if _, err := s.stations.ReleaseSlotTx(ctx, tx, b.StationID, now); err != nil {
				return err
			}
			if change, err = s.stationChangeTx(ctx, tx, b.StationID); err != nil {
				return err
			}
		}
		return s.bookings.DeleteTx(ctx, tx, b.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("booking deleted", zap.Uint64("booking_id", b.ID), zap.Uint64("actor_id", actor.ID))
	s.afterCommit(ctx, queue.NewBookingEvent(queue.BookingDeleted, b, b.Status, now), change)
	return nil
}

// stationChangeTx reads the counter after a change.  A deleted station
// yields no change.
func (s *BookingService) stationChangeTx(ctx context.Context, tx *sql.Tx, stationID uint64) (*model.StationChange, error) {
	a, err := s.stations.AvailabilityTx(ctx, tx, stationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.StationChange{StationID: stationID, Availability: a}, nil
}

// afterCommit publishes ev and notifies observers.  Failures are logged;
// the change itself is already durable.
func (s *BookingService) afterCommit(ctx context.Context, ev queue.BookingEvent, change *model.StationChange) {
	if change != nil {
		s.observers.StationChanged(ctx, *change)
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("booking event publish failed",
			zap.String("event", string(ev.Type)),
			zap.Uint64("booking_id", ev.BookingID),
			zap.Error(err))
	}
}
