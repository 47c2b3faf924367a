// Package db provides the embedded SQLite store for the call tracker.
//
// The store is the single source of truth for calls and persons. Every
// component of the sync engine reads and writes through it; UI and push
// collaborators observe it through Subscribe and the pending queries.
//
// Architecture:
//   - Database file: <data dir>/calltrack.db
//   - WAL mode: concurrent readers during a sync pass
//   - Schema: calls, persons, kv_state, sync_runs
//   - Timestamps: epoch milliseconds (INTEGER)
//
// Multi-row writes (batch insert, recording results, remote patches) run in
// a single transaction so a pass's effects become visible atomically.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
)

// DB wraps the SQLite connection with call tracker queries.
type DB struct {
	conn   *sql.DB
	path   string
	logger zerolog.Logger

	observersMu sync.RWMutex
	observers   map[int]func(Change)
	nextObs     int
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for non-fatal store warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL for concurrent reads. The caller MUST
// call Close() when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "calltrack.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN
	// where every pooled connection picks them up. Write transactions take the
	// lock up front instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:      conn,
		path:      path,
		logger:    zerolog.Nop(),
		observers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(db)
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		composite_id TEXT PRIMARY KEY,
		system_id TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL,
		contact_name TEXT,
		photo_uri TEXT,
		call_type TEXT NOT NULL
			CHECK (call_type IN ('incoming','outgoing','missed','rejected','blocked','unknown')),
		call_date INTEGER NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		subscription_id INTEGER,
		device_id TEXT NOT NULL,
		local_recording_path TEXT,

		sync_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (sync_status IN ('pending','completed')),
		metadata_sync_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (metadata_sync_status IN ('pending','update_pending','synced')),
		recording_sync_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (recording_sync_status IN ('not_applicable','pending','found','not_found')),

		note TEXT,
		reviewed INTEGER NOT NULL DEFAULT 0,
		sync_error TEXT,
		server_updated_at INTEGER,
		processing_status TEXT,
		metadata_received INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		CHECK (recording_sync_status != 'not_applicable' OR duration = 0)
	);

	CREATE TABLE IF NOT EXISTS persons (
		phone_number TEXT PRIMARY KEY,
		last_call_type TEXT,
		last_call_duration INTEGER NOT NULL DEFAULT 0,
		last_call_date INTEGER NOT NULL DEFAULT 0,
		last_recording_path TEXT,
		last_call_composite_id TEXT,
		total_calls INTEGER NOT NULL DEFAULT 0,
		total_incoming INTEGER NOT NULL DEFAULT 0,
		total_outgoing INTEGER NOT NULL DEFAULT 0,
		total_missed INTEGER NOT NULL DEFAULT 0,
		total_duration INTEGER NOT NULL DEFAULT 0,
		contact_name TEXT,
		photo_uri TEXT,
		person_note TEXT,
		label TEXT,
		exclusion INTEGER NOT NULL DEFAULT 0 CHECK (exclusion BETWEEN 0 AND 2),
		needs_sync INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		server_updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('running','completed','failed','skipped')),
		phase TEXT,
		imported INTEGER NOT NULL DEFAULT 0,
		persons_updated INTEGER NOT NULL DEFAULT 0,
		recordings_found INTEGER NOT NULL DEFAULT 0,
		recordings_not_found INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_calls_date ON calls(call_date);
	CREATE INDEX IF NOT EXISTS idx_calls_phone ON calls(phone_number);
	CREATE INDEX IF NOT EXISTS idx_calls_recording ON calls(recording_sync_status);
	CREATE INDEX IF NOT EXISTS idx_calls_metadata ON calls(metadata_sync_status);
	CREATE INDEX IF NOT EXISTS idx_calls_processing
	    ON calls(processing_status) WHERE processing_status IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_persons_needs_sync ON persons(needs_sync) WHERE needs_sync = 1;
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ResetAll deletes every call, person and cached state row.
// Sync run history is kept.
func (db *DB) ResetAll(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"calls", "persons", "kv_state"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify(Change{Table: TableCalls, Op: OpReset})
	db.notify(Change{Table: TablePersons, Op: OpReset})
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
