package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fluxorio/hellopool/pkg/db"
)

var accessLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS access_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id   TEXT    NOT NULL,
		remote_addr  TEXT    NOT NULL,
		request_line TEXT    NOT NULL,
		status       TEXT    NOT NULL,
		bytes        INTEGER NOT NULL,
		queue_wait   INTEGER NOT NULL,
		duration     INTEGER NOT NULL,
		error        TEXT    NOT NULL,
		at           INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS access_log_at ON access_log (at)`,
}

// SQLiteSink appends records to the access_log table.
type SQLiteSink struct {
	pool *db.Pool
}

// OpenSQLiteSink opens (or creates) the SQLite database at path.
func OpenSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	pool, err := db.NewPool(db.DefaultSQLiteConfig(path))
	if err != nil {
		return nil, fmt.Errorf("open access log %s: %w", path, err)
	}
	s, err := NewSQLiteSink(ctx, pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSink creates the schema on pool. The sink owns pool from here on.
func NewSQLiteSink(ctx context.Context, pool *db.Pool) (*SQLiteSink, error) {
	if err := pool.Migrate(ctx, accessLogSchema...); err != nil {
		return nil, fmt.Errorf("access log schema: %w", err)
	}
	return &SQLiteSink{pool: pool}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_log
			(request_id, remote_addr, request_line, status, bytes, queue_wait, duration, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.RemoteAddr, rec.RequestLine, rec.Status, rec.Bytes,
		int64(rec.QueueWait), int64(rec.Duration), rec.Err, rec.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("insert access record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_id, remote_addr, request_line, status, bytes, queue_wait, duration, error, at
		 FROM access_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query access log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var wait, dur, at int64
		if err := rows.Scan(&rec.RequestID, &rec.RemoteAddr, &rec.RequestLine, &rec.Status,
			&rec.Bytes, &wait, &dur, &rec.Err, &at); err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		rec.QueueWait = time.Duration(wait)
		rec.Duration = time.Duration(dur)
		rec.Time = time.Unix(0, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats returns the underlying connection pool statistics.
func (s *SQLiteSink) Stats() sql.DBStats {
	return s.pool.Stats()
}

func (s *SQLiteSink) Close() error {
	return s.pool.Close()
}
