package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetState returns a cached key/value entry. ok is false if the key is unset.
func (db *DB) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.conn.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState stores a key/value entry, replacing any previous value.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// DeleteState removes a key/value entry. Missing keys are not an error.
func (db *DB) DeleteState(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// SyncRun is one recorded sync pass.
type SyncRun struct {
	ID                 string
	Source             string
	Status             string
	Phase              string
	Imported           int
	PersonsUpdated     int
	RecordingsFound    int
	RecordingsNotFound int
	Error              string
	StartedAt          time.Time
	FinishedAt         *time.Time
}

// StartRun records the start of a sync pass.
func (db *DB) StartRun(ctx context.Context, id, source string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_runs (id, source, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, source, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to start sync run %s: %w", id, err)
	}
	return nil
}

// SetRunPhase records the phase a running pass is in.
func (db *DB) SetRunPhase(ctx context.Context, id, phase string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE sync_runs SET phase = ? WHERE id = ?`, phase, id)
	if err != nil {
		return fmt.Errorf("failed to update sync run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the outcome of a sync pass.
func (db *DB) FinishRun(ctx context.Context, run SyncRun) error {
	_, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET
		status = ?, phase = ?, imported = ?, persons_updated = ?,
		recordings_found = ?, recordings_not_found = ?, error = ?, finished_at = ?
	WHERE id = ?`,
		run.Status, nullString(run.Phase), run.Imported, run.PersonsUpdated,
		run.RecordingsFound, run.RecordingsNotFound, nullString(run.Error), nowMillis(),
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish sync run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent sync runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, source, status, phase, imported, persons_updated,
	       recordings_found, recordings_not_found, error, started_at, finished_at
	FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var phase, errMsg sql.NullString
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &phase, &r.Imported, &r.PersonsUpdated,
			&r.RecordingsFound, &r.RecordingsNotFound, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		r.Phase = phase.String
		r.Error = errMsg.String
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

// FailStaleRuns marks runs left in running state (by a crashed process) as failed.
func (db *DB) FailStaleRuns(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET status = 'failed', error = 'abandoned', finished_at = ?
	WHERE status = 'running'`, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale sync runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
