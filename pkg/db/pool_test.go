package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig("test-dsn", DriverSQLite)

	if config.DSN != "test-dsn" {
		t.Errorf("DSN = %v, want test-dsn", config.DSN)
	}
	if config.DriverName != DriverSQLite {
		t.Errorf("DriverName = %v, want %v", config.DriverName, DriverSQLite)
	}
	if config.MaxOpenConns != 25 || config.MaxIdleConns != 5 {
		t.Errorf("conns = %d/%d, want 25/5", config.MaxOpenConns, config.MaxIdleConns)
	}
	if config.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 5m", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != 10*time.Minute {
		t.Errorf("ConnMaxIdleTime = %v, want 10m", config.ConnMaxIdleTime)
	}
}

func TestDefaultSQLiteConfig(t *testing.T) {
	mem := DefaultSQLiteConfig(":memory:")
	if mem.MaxOpenConns != 1 || mem.DriverName != DriverSQLite {
		t.Errorf("memory config = %+v", mem)
	}
	if DefaultSQLiteConfig("").DSN != mem.DSN {
		t.Error("empty path should open an in-memory database")
	}

	file := DefaultSQLiteConfig("/tmp/access.db")
	if file.DSN != "file:/tmp/access.db?_busy_timeout=5000&_journal_mode=WAL" {
		t.Errorf("file DSN = %q", file.DSN)
	}
	if got := DefaultSQLiteConfig("file:x.db?mode=ro").DSN; got != "file:x.db?mode=ro" {
		t.Errorf("explicit DSN should pass through, got %q", got)
	}
}

func TestPool_SQLite_ExecQueryMigrate(t *testing.T) {
	pool, err := NewPool(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v INTEGER NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS kv_v ON kv (v)`,
	); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?), (?, ?)`, "a", 1, "b", 2); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	rows, err := pool.Query(ctx, `SELECT k, v FROM kv ORDER BY v`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	var got []string
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, k)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("rows = %v", got)
	}
	if pool.Stats().MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", pool.Stats().MaxOpenConnections)
	}
}

func TestPool_Migrate_RollsBackOnFailure(t *testing.T) {
	pool, err := NewPool(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "rollback.db")))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	err = pool.Migrate(ctx, `CREATE TABLE t (id INTEGER)`, `THIS IS NOT SQL`)
	if err == nil {
		t.Fatal("expected migration failure")
	}
	if _, err := pool.Exec(ctx, `INSERT INTO t (id) VALUES (1)`); err == nil {
		t.Error("table from the failed migration should have been rolled back")
	}
}
