package database

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(120) NOT NULL,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		profile_image VARCHAR(1024) NULL,
		vehicle TEXT NULL,
		payment_methods TEXT NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS stations (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		address VARCHAR(512) NOT NULL,
		lat DOUBLE NOT NULL,
		lng DOUBLE NOT NULL,
		plug_types TEXT NOT NULL,
		charging_speeds TEXT NOT NULL,
		price DOUBLE NOT NULL,
		price_unit VARCHAR(32) NOT NULL,
		total_slots INT NOT NULL,
		available_slots INT NOT NULL,
		wait_time INT NOT NULL DEFAULT 0,
		rating DOUBLE NOT NULL DEFAULT 0,
		amenities TEXT NOT NULL,
		images TEXT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		CONSTRAINT chk_stations_slots CHECK (available_slots >= 0 AND available_slots <= total_slots)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_favorites (
		user_id BIGINT UNSIGNED NOT NULL,
		station_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME(3) NOT NULL,
		PRIMARY KEY (user_id, station_id),
		CONSTRAINT fk_fav_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		CONSTRAINT fk_fav_station FOREIGN KEY (station_id) REFERENCES stations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		station_id BIGINT UNSIGNED NOT NULL,
		station_name VARCHAR(255) NOT NULL,
		station_address VARCHAR(512) NOT NULL,
		plug_type VARCHAR(16) NOT NULL,
		start_time DATETIME(3) NOT NULL,
		end_time DATETIME(3) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		total_price DOUBLE NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		KEY idx_bookings_user (user_id, created_at),
		KEY idx_bookings_station (station_id, status),
		CONSTRAINT fk_bookings_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME(3) NOT NULL,
		revoked_at DATETIME(3) NULL,
		created_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_refresh_hash (token_hash),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		profile_image TEXT NULL,
		vehicle TEXT NULL,
		payment_methods TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		plug_types TEXT NOT NULL,
		charging_speeds TEXT NOT NULL,
		price REAL NOT NULL,
		price_unit TEXT NOT NULL,
		total_slots INTEGER NOT NULL,
		available_slots INTEGER NOT NULL,
		wait_time INTEGER NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		amenities TEXT NOT NULL,
		images TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (available_slots >= 0 AND available_slots <= total_slots)
	)`,
	`CREATE TABLE IF NOT EXISTS user_favorites (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		station_id INTEGER NOT NULL REFERENCES stations(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, station_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		station_id INTEGER NOT NULL,
		station_name TEXT NOT NULL,
		station_address TEXT NOT NULL,
		plug_type TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_price REAL NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_station ON bookings (station_id, status)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL
	)`,
}

// tables in dependency order, children first.
var tables = []string{"refresh_tokens", "bookings", "user_favorites", "stations", "users"}

// EnsureSchema creates every table that does not exist yet.
func EnsureSchema(ctx context.Context, db *DB) error {
	stmts := mysqlSchema
	if db.Dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database: ensure schema: %w", err)
		}
	}
	return nil
}

// Wipe deletes every row from every table.
func Wipe(ctx context.Context, db *DB) error {
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("database: wipe %s: %w", t, err)
		}
	}
	return nil
}
