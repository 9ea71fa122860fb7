// Package database opens the primary store and owns its schema.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iliyamo/evee/internal/config"
)

// Dialect names the SQL flavour behind a DB.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// DB is a connection pool together with the dialect it speaks.  Fallback
// is true when the configured store could not be reached and a throwaway
// in-memory database is serving instead.
type DB struct {
	*sql.DB
	Dialect  Dialect
	Fallback bool
}

// ForUpdate returns the row-locking suffix for SELECT statements run
// inside a transaction.  SQLite serializes writers, so it needs none.
func (d *DB) ForUpdate() string {
	if d.Dialect == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// Open connects to the configured store, retrying cfg.ConnectRetries
// times with cfg.RetryDelay between attempts.  When every attempt fails
// and cfg.MemoryFallback is set, an in-memory SQLite database is opened
// instead.  The schema is created before Open returns.
func Open(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		db, err := openOnce(ctx, cfg)
		if err == nil {
			if err := EnsureSchema(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("database connected",
				zap.String("driver", string(db.Dialect)),
				zap.Int("attempt", attempt))
			return db, nil
		}
		lastErr = err
		log.Warn("database connection failed",
			zap.String("driver", cfg.Driver),
			zap.Int("attempt", attempt),
			zap.Int("of", cfg.ConnectRetries),
			zap.Error(err))
		if attempt == cfg.ConnectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}

	if !cfg.MemoryFallback {
		return nil, fmt.Errorf("database: giving up after %d attempts: %w", cfg.ConnectRetries, lastErr)
	}
	db, err := OpenMemory(ctx)
	if err != nil {
		return nil, errors.Join(lastErr, err)
	}
	db.Fallback = true
	log.Warn("using in-memory database; data will not survive a restart", zap.Error(lastErr))
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database with the schema
// applied.  Every call returns an independent database.
func OpenMemory(ctx context.Context) (*DB, error) {
	db, err := openSQLite(ctx, "file::memory:", 0)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openOnce(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	switch Dialect(cfg.Driver) {
	case MySQL:
		return openMySQL(ctx, cfg)
	case SQLite:
		name := cfg.DSN
		if name == "" {
			name = "file:" + cfg.Name
		}
		return openSQLite(ctx, name, cfg.ConnectTimeout)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}

// MySQLDSN builds the driver DSN from the individual settings.  An
// explicit cfg.DSN replaces them, but the time and row-count behaviour
// the repositories rely on is forced either way.
func MySQLDSN(cfg config.DBConfig) (string, error) {
	var mc *mysql.Config
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("database: parse DB_DSN: %w", err)
		}
		mc = parsed
	} else {
		mc = mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Pass
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
		mc.DBName = cfg.Name
		mc.Timeout = cfg.ConnectTimeout
		mc.ReadTimeout = cfg.SocketTimeout
		mc.WriteTimeout = cfg.SocketTimeout
		mc.Params = map[string]string{"charset": "utf8mb4"}
	}
	mc.ParseTime = true
	mc.ClientFoundRows = true // RowsAffected counts matched rows, like SQLite
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

func openMySQL(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	dsn, err := MySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(ctx, db, cfg.ConnectTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: MySQL}, nil
}

func openSQLite(ctx context.Context, name string, timeout time.Duration) (*DB, error) {
	sep := "?"
	if strings.Contains(name, "?") {
		sep = "&"
	}
	dsn := name + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection also keeps an in-memory
	// database alive for the life of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ping(ctx, db, timeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(ctx)
}

// IsDuplicateKey reports whether err is a unique-constraint violation in
// either dialect.
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}
