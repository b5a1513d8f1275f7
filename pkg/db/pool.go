package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PoolConfig configures a database/sql connection pool.
type PoolConfig struct {
	// DSN is the database connection string
	DSN string

	// DriverName is the registered database/sql driver, e.g. DriverSQLite
	DriverName string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle
	ConnMaxIdleTime time.Duration

	// PingTimeout bounds the connectivity check in NewPool
	PingTimeout time.Duration
}

// DefaultPoolConfig returns a general purpose configuration.
func DefaultPoolConfig(dsn string, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Error is a pool configuration or state error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var errNilPool = &Error{Code: "INVALID_STATE", Message: "pool cannot be nil"}

// Validate checks the configuration without opening anything.
func (c PoolConfig) Validate() error {
	switch {
	case c.DSN == "":
		return &Error{Code: "INVALID_CONFIG", Message: "DSN cannot be empty"}
	case c.DriverName == "":
		return &Error{Code: "INVALID_CONFIG", Message: "DriverName cannot be empty"}
	case c.MaxOpenConns <= 0:
		return &Error{Code: "INVALID_CONFIG", Message: "MaxOpenConns must be positive"}
	case c.MaxIdleConns < 0:
		return &Error{Code: "INVALID_CONFIG", Message: "MaxIdleConns cannot be negative"}
	case c.MaxIdleConns > c.MaxOpenConns:
		return &Error{Code: "INVALID_CONFIG", Message: "MaxIdleConns cannot exceed MaxOpenConns"}
	case c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0:
		return &Error{Code: "INVALID_CONFIG", Message: "connection lifetimes cannot be negative"}
	}
	return nil
}

// Pool wraps *sql.DB with validated configuration and migrations.
type Pool struct {
	db     *sql.DB
	config PoolConfig
}

// NewPool validates config, opens the pool and pings it once.
func NewPool(config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.DriverName, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", config.DriverName, err)
	}

	return &Pool{db: db, config: config}, nil
}

// DB returns the underlying *sql.DB.
// Fail-fast: panics if the pool is nil or was never opened.
func (p *Pool) DB() *sql.DB {
	if p == nil || p.db == nil {
		panic("db pool not initialized")
	}
	return p.db
}

// Config returns the configuration the pool was opened with.
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Close closes the pool.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return errNilPool
	}
	return p.db.Close()
}

// Ping tests the connection.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errNilPool
	}
	return p.db.PingContext(ctx)
}

// Stats returns pool statistics; zero for a nil pool.
func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := p.check(query); err != nil {
		return nil, err
	}
	return p.db.QueryContext(ctx, query, args...)
}

// Exec executes a statement.
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := p.check(query); err != nil {
		return nil, err
	}
	return p.db.ExecContext(ctx, query, args...)
}

// Migrate runs statements in order inside one transaction.
func (p *Pool) Migrate(ctx context.Context, statements ...string) (err error) {
	if p == nil || p.db == nil {
		return errNilPool
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	for i, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (p *Pool) check(query string) error {
	if p == nil || p.db == nil {
		return errNilPool
	}
	if query == "" {
		return &Error{Code: "INVALID_INPUT", Message: "query cannot be empty"}
	}
	return nil
}
