package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
)

// UserRepo persists users and their favorite stations.
type UserRepo struct{ db *database.DB }

func NewUserRepo(db *database.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, name, email, password_hash, profile_image, vehicle, payment_methods, role, created_at, updated_at`

func scanUser(row scanner) (model.User, error) {
	var (
		u        model.User
		image    sql.NullString
		vehicle  sql.NullString
		payments string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &image, &vehicle, &payments,
		&u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, err
	}
	u.ProfileImage = image.String
	if vehicle.Valid && vehicle.String != "" && vehicle.String != "null" {
		u.Vehicle = &model.Vehicle{}
		if err := fromJSONText(vehicle.String, u.Vehicle); err != nil {
			return u, err
		}
	}
	u.PaymentMethods = []model.PaymentMethod{}
	if err := fromJSONText(payments, &u.PaymentMethods); err != nil {
		return u, err
	}
	u.FavoriteStations = []uint64{}
	return u, nil
}

// Create inserts u (whose password is already hashed) and fills its ID
// and timestamps.  The email must be normalized by the caller.
func (r *UserRepo) Create(ctx context.Context, u *model.User, now time.Time) error {
	vehicle, payments, err := profileColumns(u)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (name, email, password_hash, profile_image, vehicle,
		payment_methods, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, nullString(u.ProfileImage), vehicle, payments, u.Role, now, now)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.CreatedAt, u.UpdatedAt = now, now
	if u.FavoriteStations == nil {
		u.FavoriteStations = []uint64{}
	}
	return nil
}

// GetByEmail fetches a user by normalized email, favorites included.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.get(ctx, "SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", model.NormalizeEmail(email))
}

// GetByID fetches a user by id, favorites included.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.get(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
}

func (r *UserRepo) get(ctx context.Context, query string, arg any) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.FavoriteStations, err = r.Favorites(ctx, u.ID)
	return u, err
}

// List returns every user ordered by id, favorites included.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	users := []model.User{}
	index := map[uint64]int{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[u.ID] = len(users)
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// favorites are read only after the first result set is closed
	favs, err := r.db.QueryContext(ctx, "SELECT user_id, station_id FROM user_favorites ORDER BY created_at, station_id")
	if err != nil {
		return nil, err
	}
	defer favs.Close()
	for favs.Next() {
		var userID, stationID uint64
		if err := favs.Scan(&userID, &stationID); err != nil {
			return nil, err
		}
		if i, ok := index[userID]; ok {
			users[i].FavoriteStations = append(users[i].FavoriteStations, stationID)
		}
	}
	return users, favs.Err()
}

// UpdateProfile writes the self-service fields of u: name, profile
// image, vehicle and payment methods.
func (r *UserRepo) UpdateProfile(ctx context.Context, u *model.User, now time.Time) error {
	vehicle, payments, err := profileColumns(u)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET name = ?, profile_image = ?, vehicle = ?, payment_methods = ?, updated_at = ? WHERE id = ?",
		u.Name, nullString(u.ProfileImage), vehicle, payments, now, u.ID)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	u.UpdatedAt = now
	return nil
}

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", hash, now, id)
	if err != nil {
		return err
	}
	return affected(res)
}

// UpdateRole changes the role of a user.
func (r *UserRepo) UpdateRole(ctx context.Context, id uint64, role model.Role, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET role = ?, updated_at = ? WHERE id = ?", role, now, id)
	if err != nil {
		return err
	}
	return affected(res)
}

// Favorites returns the favorite station ids of a user in the order
// they were added.
func (r *UserRepo) Favorites(ctx context.Context, userID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT station_id FROM user_favorites WHERE user_id = ? ORDER BY created_at, station_id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddFavorite appends a station to the favorites of a user.  It returns
// ErrAlreadyFavorite when the pair already exists.
func (r *UserRepo) AddFavorite(ctx context.Context, userID, stationID uint64, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO user_favorites (user_id, station_id, created_at) VALUES (?, ?, ?)", userID, stationID, now)
	if database.IsDuplicateKey(err) {
		return ErrAlreadyFavorite
	}
	return err
}

// RemoveFavorite drops a station from the favorites of a user.  Removing
// a station that is not a favorite is a no-op.
func (r *UserRepo) RemoveFavorite(ctx context.Context, userID, stationID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM user_favorites WHERE user_id = ? AND station_id = ?", userID, stationID)
	return err
}

func profileColumns(u *model.User) (vehicle sql.NullString, payments string, err error) {
	if u.Vehicle != nil {
		v, err := jsonText(u.Vehicle)
		if err != nil {
			return vehicle, "", err
		}
		vehicle = sql.NullString{String: v, Valid: true}
	}
	methods := u.PaymentMethods
	if methods == nil {
		methods = []model.PaymentMethod{}
	}
	payments, err = jsonText(methods)
	return vehicle, payments, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
