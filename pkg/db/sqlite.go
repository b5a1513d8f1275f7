package db

import (
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DriverSQLite is the database/sql name registered by go-sqlite3.
const DriverSQLite = "sqlite3"

// DefaultSQLiteConfig returns a pool configuration for the SQLite file at
// path. ":memory:" opens a database shared by every connection in the pool.
//
// SQLite serialises writers, so the pool holds a single connection.
func DefaultSQLiteConfig(path string) PoolConfig {
	cfg := DefaultPoolConfig(sqliteDSN(path), DriverSQLite)
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.ConnMaxLifetime = 0
	cfg.ConnMaxIdleTime = 0
	return cfg
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}
