package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/policy"
	"github.com/iliyamo/evee/internal/repository"
)

var errStationNotFound = apperr.New(apperr.NotFound, "Station not found")

// StationQuery is a station listing request.  Distance is only computed
// when both Lat and Lng are set.
type StationQuery struct {
	repository.StationFilter
	Lat            *float64
	Lng            *float64
	SortByDistance bool
}

// StationPatch carries the fields of a partial station update.  Nil
// fields are left unchanged.
type StationPatch struct {
	Name           *string                `json:"name"`
	Address        *string                `json:"address"`
	Location       *model.Location        `json:"location"`
	PlugTypes      *[]model.PlugType      `json:"plugTypes"`
	ChargingSpeeds *[]model.ChargingSpeed `json:"chargingSpeed"`
	Price          *float64               `json:"price"`
	PriceUnit      *string                `json:"priceUnit"`
	Availability   *model.Availability    `json:"availability"`
	WaitTime       *int                   `json:"waitTime"`
	Rating         *float64               `json:"rating"`
	Amenities      *[]string              `json:"amenities"`
	Images         *[]string              `json:"images"`
}

func (p StationPatch) apply(s *model.Station) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.Location != nil {
		s.Location = *p.Location
	}
	if p.PlugTypes != nil {
		s.PlugTypes = *p.PlugTypes
	}
	if p.ChargingSpeeds != nil {
		s.ChargingSpeeds = *p.ChargingSpeeds
	}
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.PriceUnit != nil {
		s.PriceUnit = *p.PriceUnit
	}
	if p.Availability != nil {
		s.Availability = *p.Availability
	}
	if p.WaitTime != nil {
		s.WaitTime = *p.WaitTime
	}
	if p.Rating != nil {
		s.Rating = *p.Rating
	}
	if p.Amenities != nil {
		s.Amenities = *p.Amenities
	}
	if p.Images != nil {
		s.Images = *p.Images
	}
}

// StationService is the station directory: public reads and admin
// writes.
type StationService struct {
	db        *database.DB
	stations  *repository.StationRepo
	bookings  *repository.BookingRepo
	observers StationObserver
	logger    *zap.Logger
}

// NewStationService builds a StationService.  observer may be nil.
func NewStationService(db *database.DB, stations *repository.StationRepo, bookings *repository.BookingRepo,
	observer StationObserver, logger *zap.Logger) *StationService {
	if observer == nil {
		observer = Observers(nil)
	}
	return &StationService{db: db, stations: stations, bookings: bookings, observers: observer, logger: logger}
}

// List returns the stations matching q.  With a caller coordinate each
// station carries its distance in km; SortByDistance orders by it.
func (s *StationService) List(ctx context.Context, q StationQuery) ([]model.Station, error) {
	list, err := s.stations.List(ctx, q.StationFilter)
	if err != nil {
		return nil, err
	}
	if q.Lat == nil || q.Lng == nil {
		return list, nil
	}
	for i := range list {
		d := DistanceKm(*q.Lat, *q.Lng, list[i].Location.Lat, list[i].Location.Lng)
		list[i].Distance = &d
	}
	if q.SortByDistance {
		sort.SliceStable(list, func(i, j int) bool { return *list[i].Distance < *list[j].Distance })
	}
	return list, nil
}

// Get returns one station.
func (s *StationService) Get(ctx context.Context, id uint64) (model.Station, error) {
	st, err := s.stations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return st, errStationNotFound
	}
	return st, err
}

// Create validates and stores a new station.
func (s *StationService) Create(ctx context.Context, actor *model.User, st model.Station) (model.Station, error) {
	if !policy.Can(actor, policy.ActionStationWrite, 0) {
		return st, apperr.New(apperr.Forbidden, "Not authorized to manage stations")
	}
	st.ID = 0
	st.Distance = nil
	st.Normalize()
	if err := st.Validate(); err != nil {
		return st, apperr.Wrap(apperr.InvalidRequest, err.Error(), err)
	}
	if err := s.stations.Create(ctx, &st, utcNow()); err != nil {
		return st, err
	}
	s.logger.Info("station created", zap.Uint64("station_id", st.ID), zap.String("name", st.Name))
	s.observers.StationChanged(ctx, model.StationChange{StationID: st.ID, Availability: st.Availability})
	return st, nil
}

// Update applies patch to a station and runs the same validation as
// Create.  The row is locked so concurrent bookings see either the old
// or the new counter, never a mix.
func (s *StationService) Update(ctx context.Context, actor *model.User, id uint64, patch StationPatch) (model.Station, error) {
	var st model.Station
	if !policy.Can(actor, policy.ActionStationWrite, 0) {
		return st, apperr.New(apperr.Forbidden, "Not authorized to manage stations")
	}
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		st, err = s.stations.GetForUpdateTx(ctx, tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return errStationNotFound
		}
		if err != nil {
			return err
		}
		patch.apply(&st)
		st.Normalize()
		if err := st.Validate(); err != nil {
			return apperr.Wrap(apperr.InvalidRequest, err.Error(), err)
		}
		return s.stations.UpdateTx(ctx, tx, &st, utcNow())
	})
	if err != nil {
		return st, err
	}
	s.logger.Info("station updated", zap.Uint64("station_id", st.ID))
	s.observers.StationChanged(ctx, model.StationChange{StationID: st.ID, Availability: st.Availability})
	return st, nil
}

// Delete removes a station.  It is refused while pending or confirmed
// bookings reference the station; historical bookings keep their
// snapshot of the station name and address.
func (s *StationService) Delete(ctx context.Context, actor *model.User, id uint64) error {
	if !policy.Can(actor, policy.ActionStationWrite, 0) {
		return apperr.New(apperr.Forbidden, "Not authorized to manage stations")
	}
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.stations.GetForUpdateTx(ctx, tx, id); errors.Is(err, repository.ErrNotFound) {
			return errStationNotFound
		} else if err != nil {
			return err
		}
		active, err := s.bookings.CountActiveForStationTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperr.Wrap(apperr.Conflict, "Station has active bookings", repository.ErrConflict)
		}
		return s.stations.DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("station deleted", zap.Uint64("station_id", id))
	s.observers.StationChanged(ctx, model.StationChange{StationID: id, Deleted: true})
	return nil
}
