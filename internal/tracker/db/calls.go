package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miniclick/calltrack/internal/tracker/phone"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

const callColumns = `composite_id, system_id, phone_number, contact_name, photo_uri,
	call_type, call_date, duration, subscription_id, device_id, local_recording_path,
	sync_status, metadata_sync_status, recording_sync_status,
	note, reviewed, sync_error, server_updated_at, processing_status, metadata_received,
	created_at, updated_at`

// InsertCalls inserts new calls in a single transaction.
//
// Rows whose composite id or system id already exist are skipped, so the
// method is safe to call with overlapping batches. It returns the calls that
// were actually inserted, in input order.
func (db *DB) InsertCalls(ctx context.Context, calls []*schema.CallRecord) ([]*schema.CallRecord, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO calls (`+callColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted []*schema.CallRecord
	keys := make([]string, 0, len(calls))
	for _, c := range calls {
		c.SetDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid call %s: %w", c.CompositeID, err)
		}

		res, err := stmt.ExecContext(ctx,
			c.CompositeID,
			c.SystemID,
			c.PhoneNumber,
			nullString(c.ContactName),
			nullString(c.PhotoURI),
			string(c.CallType),
			c.CallDate,
			c.Duration,
			nullIntPtr(c.SubscriptionID),
			c.DeviceID,
			nullString(c.LocalRecordingPath),
			string(c.SyncStatus),
			string(c.MetadataSyncStatus),
			string(c.RecordingSyncStatus),
			nullString(c.Note),
			boolInt(c.Reviewed),
			nullString(c.SyncError),
			nullInt64(c.ServerUpdatedAt),
			nullString(c.ProcessingStatus),
			boolInt(c.MetadataReceived),
			c.CreatedAt.UnixMilli(),
			c.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert call %s: %w", c.CompositeID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, c)
			keys = append(keys, c.CompositeID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(inserted) > 0 {
		db.notify(Change{Table: TableCalls, Op: OpInsert, Keys: keys})
	}
	return inserted, nil
}

// CallDateRange returns the oldest and newest stored call dates.
// ok is false when the store holds no calls.
func (db *DB) CallDateRange(ctx context.Context) (minDate, maxDate int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = db.conn.QueryRowContext(ctx, `SELECT MIN(call_date), MAX(call_date) FROM calls`).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to query call date range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// KnownIDs holds the dedup keys of stored calls.
type KnownIDs struct {
	Composite map[string]struct{}
	System    map[string]struct{}
}

// Has reports whether either key is already stored.
func (k KnownIDs) Has(compositeID, systemID string) bool {
	if _, ok := k.Composite[compositeID]; ok {
		return true
	}
	_, ok := k.System[systemID]
	return ok
}

// KnownIDsSince returns the composite and system ids of calls on or after since.
func (db *DB) KnownIDsSince(ctx context.Context, since int64) (KnownIDs, error) {
	known := KnownIDs{
		Composite: make(map[string]struct{}),
		System:    make(map[string]struct{}),
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT composite_id, system_id FROM calls WHERE call_date >= ?`, since)
	if err != nil {
		return known, fmt.Errorf("failed to query known ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, sid string
		if err := rows.Scan(&cid, &sid); err != nil {
			return known, fmt.Errorf("failed to scan known ids: %w", err)
		}
		known.Composite[cid] = struct{}{}
		known.System[sid] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return known, fmt.Errorf("error iterating known ids: %w", err)
	}
	return known, nil
}

// GetCall retrieves a single call by composite id.
// Returns ErrNotFound if the call does not exist.
func (db *DB) GetCall(ctx context.Context, compositeID string) (*schema.CallRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE composite_id = ?`, compositeID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call %s: %w", compositeID, err)
	}
	return c, nil
}

// CallFilter configures ListCalls.
type CallFilter struct {
	// Number matches calls from the same line (leading '+' and last-10-digit tolerant).
	Number string
	// RecordingStatus filters by recording axis (empty = all).
	RecordingStatus schema.RecordingSyncStatus
	// MetadataStatuses filters by metadata axis (empty = all).
	MetadataStatuses []schema.MetadataSyncStatus
	// SyncStatus filters by the creation axis (empty = all).
	SyncStatus schema.SyncStatus
	// Idle excludes calls with a processing marker.
	Idle bool
	// Since filters to calls on or after this epoch ms (0 = all).
	Since int64
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// ListCalls retrieves calls matching the filter, newest first.
func (db *DB) ListCalls(ctx context.Context, f CallFilter) ([]*schema.CallRecord, error) {
	var conditions []string
	var args []interface{}

	if f.Number != "" {
		clause, clauseArgs := numberMatch(f.Number)
		conditions = append(conditions, clause)
		args = append(args, clauseArgs...)
	}
	if f.RecordingStatus != "" {
		conditions = append(conditions, "recording_sync_status = ?")
		args = append(args, string(f.RecordingStatus))
	}
	if len(f.MetadataStatuses) > 0 {
		conditions = append(conditions, "metadata_sync_status IN ("+placeholders(len(f.MetadataStatuses))+")")
		for _, s := range f.MetadataStatuses {
			args = append(args, string(s))
		}
	}
	if f.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(f.SyncStatus))
	}
	if f.Idle {
		conditions = append(conditions, "processing_status IS NULL")
	}
	if f.Since > 0 {
		conditions = append(conditions, "call_date >= ?")
		args = append(args, f.Since)
	}

	query := `SELECT ` + callColumns + ` FROM calls`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY call_date DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

// DeleteCallsBefore removes calls older than cutoff (epoch ms) and returns the
// distinct phone numbers whose calls were removed.
func (db *DB) DeleteCallsBefore(ctx context.Context, cutoff int64) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT phone_number FROM calls WHERE call_date < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query trimmed numbers: %w", err)
	}
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trimmed number: %w", err)
		}
		numbers = append(numbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trimmed numbers: %w", err)
	}

	if len(numbers) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE call_date < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("failed to trim calls: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify(Change{Table: TableCalls, Op: OpDelete})
	return numbers, nil
}

// CallStatsFor computes aggregate counters for every call from the same line
// as number.
func (db *DB) CallStatsFor(ctx context.Context, number string) (schema.CallStats, error) {
	clause, args := numberMatch(number)
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN call_type = 'incoming' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN call_type = 'outgoing' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN call_type IN ('missed','rejected','blocked') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(duration), 0)
	FROM calls
	WHERE ` + clause

	var s schema.CallStats
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(
		&s.Total, &s.Incoming, &s.Outgoing, &s.Missed, &s.TotalDuration)
	if err != nil {
		return s, fmt.Errorf("failed to compute call stats for %s: %w", number, err)
	}
	return s, nil
}

// LatestCallFor returns the newest call from the same line as number.
// Returns ErrNotFound if there is none.
func (db *DB) LatestCallFor(ctx context.Context, number string) (*schema.CallRecord, error) {
	clause, args := numberMatch(number)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE `+clause+` ORDER BY call_date DESC LIMIT 1`, args...)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest call for %s: %w", number, err)
	}
	return c, nil
}

// RecordingResult is the outcome of a recording lookup for one call.
type RecordingResult struct {
	CompositeID string
	// Path is the matched file; empty means not found.
	Path string
}

// ApplyRecordingResults persists a batch of recording lookups in one
// transaction and clears the processing marker of each call.
//
// A found result stores the path. A not-found result is terminal and queues
// a metadata push (synced -> update_pending) so the server learns there is no
// recording; calls whose metadata is already pending are left alone.
func (db *DB) ApplyRecordingResults(ctx context.Context, results []RecordingResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	keys := make([]string, 0, len(results))
	for _, r := range results {
		if r.Path != "" {
			_, err = tx.ExecContext(ctx, `
			UPDATE calls SET
				local_recording_path = ?,
				recording_sync_status = 'found',
				processing_status = NULL,
				updated_at = ?
			WHERE composite_id = ?`, r.Path, now, r.CompositeID)
			if err == nil {
				_, err = tx.ExecContext(ctx, `
				UPDATE persons SET last_recording_path = ?, updated_at = ?
				WHERE last_call_composite_id = ?`, r.Path, now, r.CompositeID)
			}
		} else {
			_, err = tx.ExecContext(ctx, `
			UPDATE calls SET
				recording_sync_status = 'not_found',
				metadata_sync_status = CASE
					WHEN metadata_sync_status = 'synced' THEN 'update_pending'
					ELSE metadata_sync_status
				END,
				processing_status = NULL,
				updated_at = ?
			WHERE composite_id = ?`, now, r.CompositeID)
		}
		if err != nil {
			return fmt.Errorf("failed to apply recording result for %s: %w", r.CompositeID, err)
		}
		keys = append(keys, r.CompositeID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify(Change{Table: TableCalls, Op: OpUpdate, Keys: keys})
	return nil
}

// SetRecordingStatus moves calls onto a recording status without touching
// the other axes. Used for calls that are never scanned.
func (db *DB) SetRecordingStatus(ctx context.Context, ids []string, status schema.RecordingSyncStatus) error {
	if len(ids) == 0 {
		return nil
	}
	args := []interface{}{string(status), nowMillis()}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET recording_sync_status = ?, processing_status = NULL, updated_at = ?
	WHERE composite_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to set recording status: %w", err)
	}
	db.notify(Change{Table: TableCalls, Op: OpUpdate, Keys: ids})
	return nil
}

// MarkProcessing sets a transient processing marker on calls.
// Markers older than the sweep timeout are treated as abandoned.
func (db *DB) MarkProcessing(ctx context.Context, ids []string, marker string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []interface{}{nullString(marker), nowMillis()}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET processing_status = ?, updated_at = ?
	WHERE composite_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark calls processing: %w", err)
	}
	return nil
}

// SweepStaleProcessing clears processing markers that have not been touched
// for longer than timeout and returns the number of calls released.
func (db *DB) SweepStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	threshold := time.Now().Add(-timeout).UnixMilli()
	res, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET processing_status = NULL
	WHERE processing_status IS NOT NULL AND updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale processing markers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateCallNote sets the note of a call and queues a metadata push.
func (db *DB) UpdateCallNote(ctx context.Context, compositeID, note string) error {
	return db.updateCallMetadata(ctx, compositeID, "note = ?", nullString(note))
}

// UpdateReviewed sets the reviewed flag of a call and queues a metadata push.
func (db *DB) UpdateReviewed(ctx context.Context, compositeID string, reviewed bool) error {
	return db.updateCallMetadata(ctx, compositeID, "reviewed = ?", boolInt(reviewed))
}

// updateCallMetadata applies a local edit. Only an acknowledged row moves to
// update_pending; a pending row already carries the edit in its first push.
func (db *DB) updateCallMetadata(ctx context.Context, compositeID, set string, value interface{}) error {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET `+set+`,
		metadata_sync_status = CASE
			WHEN metadata_sync_status = 'synced' THEN 'update_pending'
			ELSE metadata_sync_status
		END,
		updated_at = ?
	WHERE composite_id = ?`, value, nowMillis(), compositeID)
	if err != nil {
		return fmt.Errorf("failed to update call %s: %w", compositeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(Change{Table: TableCalls, Op: OpUpdate, Keys: []string{compositeID}})
	return nil
}

// MarkAllReviewed marks every unreviewed call as reviewed and returns the
// number of calls changed.
func (db *DB) MarkAllReviewed(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET reviewed = 1,
		metadata_sync_status = CASE
			WHEN metadata_sync_status = 'synced' THEN 'update_pending'
			ELSE metadata_sync_status
		END,
		updated_at = ?
	WHERE reviewed = 0`, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all calls reviewed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.notify(Change{Table: TableCalls, Op: OpUpdate})
	}
	return n, nil
}

// ResetSkippedRecordings moves answered calls whose lookup was skipped or
// failed back to pending so the next pass scans them again.
func (db *DB) ResetSkippedRecordings(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET recording_sync_status = 'pending', updated_at = ?
	WHERE recording_sync_status IN ('not_applicable','not_found') AND duration > 0`, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to reset skipped recordings: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.notify(Change{Table: TableCalls, Op: OpUpdate})
	}
	return n, nil
}

// ClearSyncStatus resets every call to its never-synced state so the next
// push re-sends everything.
func (db *DB) ClearSyncStatus(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET
		sync_status = 'pending',
		metadata_sync_status = 'pending',
		recording_sync_status = CASE WHEN duration > 0 THEN 'pending' ELSE 'not_applicable' END,
		sync_error = NULL,
		processing_status = NULL,
		updated_at = ?`, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to clear sync status: %w", err)
	}
	db.notify(Change{Table: TableCalls, Op: OpUpdate})
	return nil
}

// MarkCallsSynced records a server acknowledgement for calls: the row exists
// remotely and its metadata is current as of serverTime.
func (db *DB) MarkCallsSynced(ctx context.Context, ids []string, serverTime int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := []interface{}{serverTime, nowMillis()}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.conn.ExecContext(ctx, `
	UPDATE calls SET
		sync_status = 'completed',
		metadata_sync_status = 'synced',
		sync_error = NULL,
		server_updated_at = MAX(COALESCE(server_updated_at, 0), ?),
		updated_at = ?
	WHERE composite_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark calls synced: %w", err)
	}
	db.notify(Change{Table: TableCalls, Op: OpUpdate, Keys: ids})
	return nil
}

// SetCallSyncError records a push failure on a call without changing its axes.
func (db *DB) SetCallSyncError(ctx context.Context, compositeID, msg string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE calls SET sync_error = ?, updated_at = ? WHERE composite_id = ?`,
		nullString(msg), nowMillis(), compositeID)
	if err != nil {
		return fmt.Errorf("failed to set sync error for %s: %w", compositeID, err)
	}
	return nil
}

// StatusCounts summarizes the store for status displays.
type StatusCounts struct {
	Calls     int
	Persons   int
	Recording map[schema.RecordingSyncStatus]int
	Metadata  map[schema.MetadataSyncStatus]int
	Sync      map[schema.SyncStatus]int
}

// GetStatusCounts returns per-axis counts over all calls.
func (db *DB) GetStatusCounts(ctx context.Context) (*StatusCounts, error) {
	sc := &StatusCounts{
		Recording: make(map[schema.RecordingSyncStatus]int),
		Metadata:  make(map[schema.MetadataSyncStatus]int),
		Sync:      make(map[schema.SyncStatus]int),
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`).Scan(&sc.Calls); err != nil {
		return nil, fmt.Errorf("failed to count calls: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&sc.Persons); err != nil {
		return nil, fmt.Errorf("failed to count persons: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT sync_status, metadata_sync_status, recording_sync_status, COUNT(*)
	FROM calls GROUP BY 1, 2, 3`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s, m, r string
		var n int
		if err := rows.Scan(&s, &m, &r, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status counts: %w", err)
		}
		sc.Sync[schema.SyncStatus(s)] += n
		sc.Metadata[schema.MetadataSyncStatus(m)] += n
		sc.Recording[schema.RecordingSyncStatus(r)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return sc, nil
}

// numberMatch builds a WHERE clause matching calls from the same line as
// number: exact normalized match with or without a leading '+', or the same
// last 10 digits when the number has at least 10.
func numberMatch(number string) (string, []interface{}) {
	variants := phone.Variants(number)
	if len(variants) == 0 {
		variants = []string{number}
	}
	clause := "(phone_number IN (" + placeholders(len(variants)) + ")"
	args := make([]interface{}, 0, len(variants)+1)
	for _, v := range variants {
		args = append(args, v)
	}

	digits := phone.Digits(number)
	if len(digits) >= 10 {
		clause += ` OR (length(replace(phone_number, '+', '')) >= 10
			AND substr(replace(phone_number, '+', ''), -10) = ?)`
		args = append(args, digits[len(digits)-10:])
	}
	clause += ")"
	return clause, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (*schema.CallRecord, error) {
	var c schema.CallRecord
	var contactName, photoURI, recPath, note, syncErr, processing sql.NullString
	var subID, serverUpdated sql.NullInt64
	var callType, syncStatus, metaStatus, recStatus string
	var reviewed, metaReceived int
	var createdAt, updatedAt int64

	err := row.Scan(
		&c.CompositeID,
		&c.SystemID,
		&c.PhoneNumber,
		&contactName,
		&photoURI,
		&callType,
		&c.CallDate,
		&c.Duration,
		&subID,
		&c.DeviceID,
		&recPath,
		&syncStatus,
		&metaStatus,
		&recStatus,
		&note,
		&reviewed,
		&syncErr,
		&serverUpdated,
		&processing,
		&metaReceived,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ContactName = contactName.String
	c.PhotoURI = photoURI.String
	c.CallType = schema.CallType(callType)
	c.SubscriptionID = intPtr(subID)
	c.LocalRecordingPath = recPath.String
	c.SyncStatus = schema.SyncStatus(syncStatus)
	c.MetadataSyncStatus = schema.MetadataSyncStatus(metaStatus)
	c.RecordingSyncStatus = schema.RecordingSyncStatus(recStatus)
	c.Note = note.String
	c.Reviewed = reviewed != 0
	c.SyncError = syncErr.String
	c.ServerUpdatedAt = int64Ptr(serverUpdated)
	c.ProcessingStatus = processing.String
	c.MetadataReceived = metaReceived != 0
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

func scanCalls(rows *sql.Rows) ([]*schema.CallRecord, error) {
	var calls []*schema.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calls: %w", err)
	}
	return calls, nil
}
