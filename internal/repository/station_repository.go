package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
)

// StationFilter narrows a station listing.  Nil pointers and empty
// slices mean "no constraint".  PlugTypes and ChargingSpeeds match when
// the station offers any of the listed values.
type StationFilter struct {
	PlugTypes      []model.PlugType
	ChargingSpeeds []model.ChargingSpeed
	OnlyAvailable  bool
	MaxPrice       *float64
	MinRating      *float64
}

// StationRepo provides CRUD operations for stations and the atomic
// availability counter.  All timestamps are stored in UTC.
type StationRepo struct {
	db *database.DB
}

// NewStationRepo returns a StationRepo bound to db.
func NewStationRepo(db *database.DB) *StationRepo { return &StationRepo{db: db} }

const stationColumns = `id, name, address, lat, lng, plug_types, charging_speeds, price, price_unit,
	total_slots, available_slots, wait_time, rating, amenities, images, created_at, updated_at`

func scanStation(row scanner) (model.Station, error) {
	var s model.Station
	var plugs, speeds, amenities, images string
	err := row.Scan(&s.ID, &s.Name, &s.Address, &s.Location.Lat, &s.Location.Lng,
		&plugs, &speeds, &s.Price, &s.PriceUnit,
		&s.Availability.Total, &s.Availability.Available, &s.WaitTime, &s.Rating,
		&amenities, &images, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.PlugTypes = []model.PlugType{}
	s.ChargingSpeeds = []model.ChargingSpeed{}
	s.Amenities = []string{}
	s.Images = []string{}
	for _, c := range []struct {
		text string
		dst  any
	}{{plugs, &s.PlugTypes}, {speeds, &s.ChargingSpeeds}, {amenities, &s.Amenities}, {images, &s.Images}} {
		if err := fromJSONText(c.text, c.dst); err != nil {
			return s, err
		}
	}
	return s, nil
}

// List returns the stations matching f in storage order.
func (r *StationRepo) List(ctx context.Context, f StationFilter) ([]model.Station, error) {
	var (
		where []string
		args  []any
	)
	if f.OnlyAvailable {
		where = append(where, "available_slots > 0")
	}
	if f.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.MinRating != nil {
		where = append(where, "rating >= ?")
		args = append(args, *f.MinRating)
	}
	q := "SELECT " + stationColumns + " FROM stations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Station{}
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		if !anyOf(s.PlugTypes, f.PlugTypes) || !anyOf(s.ChargingSpeeds, f.ChargingSpeeds) {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// anyOf reports whether have contains at least one of want.  An empty
// want matches everything.
func anyOf[T comparable](have, want []T) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// GetByID fetches a station.  It returns ErrNotFound when absent.
func (r *StationRepo) GetByID(ctx context.Context, id uint64) (model.Station, error) {
	return r.get(ctx, r.db, "SELECT "+stationColumns+" FROM stations WHERE id = ?", id)
}

// GetForUpdateTx fetches a station inside tx and locks its row until the
// transaction ends.
func (r *StationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Station, error) {
	return r.get(ctx, tx, "SELECT "+stationColumns+" FROM stations WHERE id = ?"+r.db.ForUpdate(), id)
}

func (r *StationRepo) get(ctx context.Context, q querier, query string, id uint64) (model.Station, error) {
	s, err := scanStation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// GetMany returns the stations with the given ids keyed by id.  Missing
// ids are simply absent from the map.
func (r *StationRepo) GetMany(ctx context.Context, ids []uint64) (map[uint64]model.Station, error) {
	out := make(map[uint64]model.Station, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+stationColumns+" FROM stations WHERE id IN ("+strings.Join(marks, ",")+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// Create inserts s and fills its ID and timestamps.
func (r *StationRepo) Create(ctx context.Context, s *model.Station, now time.Time) error {
	cols, err := stationArgs(s)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO stations (name, address, lat, lng, plug_types, charging_speeds,
		price, price_unit, total_slots, available_slots, wait_time, rating, amenities, images, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append(cols, now, now)...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

// UpdateTx overwrites every mutable column of s inside tx.
func (r *StationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Station, now time.Time) error {
	cols, err := stationArgs(s)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE stations SET name = ?, address = ?, lat = ?, lng = ?, plug_types = ?,
		charging_speeds = ?, price = ?, price_unit = ?, total_slots = ?, available_slots = ?, wait_time = ?,
		rating = ?, amenities = ?, images = ?, updated_at = ? WHERE id = ?`, append(cols, now, s.ID)...)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	s.UpdatedAt = now
	return nil
}

func stationArgs(s *model.Station) ([]any, error) {
	plugs, err := jsonText(s.PlugTypes)
	if err != nil {
		return nil, err
	}
	speeds, err := jsonText(s.ChargingSpeeds)
	if err != nil {
		return nil, err
	}
	amenities, err := jsonText(s.Amenities)
	if err != nil {
		return nil, err
	}
	images, err := jsonText(s.Images)
	if err != nil {
		return nil, err
	}
	return []any{s.Name, s.Address, s.Location.Lat, s.Location.Lng, plugs, speeds, s.Price, s.PriceUnit,
		s.Availability.Total, s.Availability.Available, s.WaitTime, s.Rating, amenities, images}, nil
}

// DeleteTx removes the station and every favorite pointing at it.
// Bookings keep their name/address snapshot and are left in place.
func (r *StationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_favorites WHERE station_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM stations WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// TakeSlotTx decrements the available counter by one.  The conditional
// update makes the check and the write a single step, so concurrent
// callers can never drive the counter below zero.  It returns
// ErrNoAvailability when no slot is free.
func (r *StationRepo) TakeSlotTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE stations SET available_slots = available_slots - 1, updated_at = ? WHERE id = ? AND available_slots > 0",
		now, id)
	if err != nil {
		return err
	}
	if err := affected(res); errors.Is(err, ErrNotFound) {
		return ErrNoAvailability
	} else if err != nil {
		return err
	}
	return nil
}

// ReleaseSlotTx gives one slot back, clamped at the station total.  It
// reports whether the counter moved; a deleted station or a full
// counter is not an error.
func (r *StationRepo) ReleaseSlotTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE stations SET available_slots = available_slots + 1, updated_at = ? WHERE id = ? AND available_slots < total_slots",
		now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AvailabilityTx reads the current counter of a station inside tx.
func (r *StationRepo) AvailabilityTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Availability, error) {
	var a model.Availability
	err := tx.QueryRowContext(ctx, "SELECT total_slots, available_slots FROM stations WHERE id = ?", id).
		Scan(&a.Total, &a.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// Count returns the number of stations.
func (r *StationRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&n)
	return n, err
}
