package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/config"
)

func TestOpenMemoryCreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer db.Close()

	for _, table := range tables {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
	if db.ForUpdate() != "" {
		t.Fatalf("sqlite must not lock rows explicitly")
	}
	// schema creation is idempotent
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	cfg := config.Defaults().DB
	cfg.Host = "127.0.0.1"
	cfg.Port = "1" // nothing listens here
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ConnectRetries = 2
	cfg.RetryDelay = 10 * time.Millisecond

	db, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if !db.Fallback || db.Dialect != SQLite {
		t.Fatalf("expected sqlite fallback, got dialect=%s fallback=%v", db.Dialect, db.Fallback)
	}
}

func TestOpenWithoutFallbackFails(t *testing.T) {
	cfg := config.Defaults().DB
	cfg.Host = "127.0.0.1"
	cfg.Port = "1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ConnectRetries = 1
	cfg.MemoryFallback = false

	if _, err := Open(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error when fallback is disabled")
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg := config.Defaults().DB
	cfg.Pass = "secret"
	dsn, err := MySQLDSN(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"root:secret@tcp(localhost:3306)/evee", "parseTime=true", "timeout=5s", "readTimeout=45s", "clientFoundRows=true"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestMySQLDSNForcesFlagsOnExplicitDSN(t *testing.T) {
	tests := []string{
		"app:pw@tcp(db.internal:3306)/evee",
		"app:pw@tcp(db.internal:3306)/evee?parseTime=false&loc=Local&clientFoundRows=false",
	}
	for _, explicit := range tests {
		cfg := config.Defaults().DB
		cfg.DSN = explicit
		dsn, err := MySQLDSN(cfg)
		if err != nil {
			t.Fatalf("%s: %v", explicit, err)
		}
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			t.Fatalf("reparse %q: %v", dsn, err)
		}
		if mc.Addr != "db.internal:3306" || mc.User != "app" || mc.DBName != "evee" {
			t.Fatalf("%s: explicit settings lost: %q", explicit, dsn)
		}
		if !mc.ParseTime || !mc.ClientFoundRows || mc.Loc != time.UTC {
			t.Fatalf("%s: flags not forced: %q", explicit, dsn)
		}
	}

	cfg := config.Defaults().DB
	cfg.DSN = "not a dsn"
	if _, err := MySQLDSN(cfg); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

func TestIsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer db.Close()

	insert := `INSERT INTO users (name, email, password_hash, payment_methods, role, created_at, updated_at)
		VALUES (?, ?, 'x', '[]', 'user', ?, ?)`
	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, insert, "A", "a@example.com", now, now); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = db.ExecContext(ctx, insert, "B", "a@example.com", now, now)
	if !IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}
