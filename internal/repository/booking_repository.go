package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
)

// BookingRepo provides CRUD operations for bookings.  Writes that touch
// a station's availability run inside a caller-owned transaction.
type BookingRepo struct {
	db *database.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *database.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingAdminRow is a booking joined with the reduced user and station
// views shown in the admin list.  The station view falls back to the
// snapshot taken at booking time when the station has been deleted.
type BookingAdminRow struct {
	model.Booking
	User    model.UserRef    `json:"user"`
	Station model.StationRef `json:"station"`
}

const bookingColumns = `b.id, b.user_id, b.station_id, b.station_name, b.station_address, b.plug_type,
	b.start_time, b.end_time, b.status, b.total_price, b.created_at, b.updated_at`

func scanBooking(row scanner, extra ...any) (model.Booking, error) {
	var b model.Booking
	dest := append([]any{&b.ID, &b.UserID, &b.StationID, &b.StationName, &b.StationAddress, &b.PlugType,
		&b.StartTime, &b.EndTime, &b.Status, &b.TotalPrice, &b.CreatedAt, &b.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return b, err
	}
	b.FillDerived()
	return b, nil
}

// CreateTx inserts b inside tx and fills its ID and timestamps.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking, now time.Time) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO bookings (user_id, station_id, station_name, station_address,
		plug_type, start_time, end_time, status, total_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.StationID, b.StationName, b.StationAddress, b.PlugType,
		b.StartTime.UTC(), b.EndTime.UTC(), b.Status, b.TotalPrice, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.CreatedAt, b.UpdatedAt = now, now
	b.FillDerived()
	return nil
}

// GetByID fetches a booking.  It returns ErrNotFound when absent.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	return r.get(ctx, r.db, "SELECT "+bookingColumns+" FROM bookings b WHERE b.id = ?", id)
}

// GetForUpdateTx fetches a booking inside tx and locks its row.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Booking, error) {
	return r.get(ctx, tx, "SELECT "+bookingColumns+" FROM bookings b WHERE b.id = ?"+r.db.ForUpdate(), id)
}

func (r *BookingRepo) get(ctx context.Context, q querier, query string, id uint64) (model.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

// ListByUser returns the bookings of one user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings b WHERE b.user_id = ? ORDER BY b.created_at DESC, b.id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListAll returns every booking in the system, newest first, joined with
// its user and station.
func (r *BookingRepo) ListAll(ctx context.Context) ([]BookingAdminRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+`, u.id, u.name, u.email,
		COALESCE(s.name, b.station_name), COALESCE(s.address, b.station_address)
		FROM bookings b
		JOIN users u ON u.id = b.user_id
		LEFT JOIN stations s ON s.id = b.station_id
		ORDER BY b.created_at DESC, b.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []BookingAdminRow{}
	for rows.Next() {
		var row BookingAdminRow
		b, err := scanBooking(rows, &row.User.ID, &row.User.Name, &row.User.Email,
			&row.Station.Name, &row.Station.Address)
		if err != nil {
			return nil, err
		}
		row.Booking = b
		row.Station.ID = b.StationID
		out = append(out, row)
	}
	return out, rows.Err()
}

// TransitionTx moves a booking from one status to another.  The update
// only applies while the row still holds from, so it reports false when
// another writer changed the status first.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.BookingStatus, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, now, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteTx hard-deletes a booking inside tx.
func (r *BookingRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affected(res)
}

// CountActiveForStationTx counts bookings that still hold a slot at the
// station and have not completed.
func (r *BookingRepo) CountActiveForStationTx(ctx context.Context, tx *sql.Tx, stationID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bookings WHERE station_id = ? AND status IN (?, ?)",
		stationID, model.BookingPending, model.BookingConfirmed).Scan(&n)
	return n, err
}
