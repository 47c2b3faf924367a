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

const personColumns = `phone_number, last_call_type, last_call_duration, last_call_date,
	last_recording_path, last_call_composite_id,
	total_calls, total_incoming, total_outgoing, total_missed, total_duration,
	contact_name, photo_uri, person_note, label, exclusion, needs_sync,
	created_at, updated_at, server_updated_at`

// GetPerson retrieves a person by exact phone number.
// Returns ErrNotFound if the person does not exist.
func (db *DB) GetPerson(ctx context.Context, number string) (*schema.PersonRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE phone_number = ?`, number)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person %s: %w", number, err)
	}
	return p, nil
}

// FindPersonRobust looks a person up by number, tolerating a missing or
// extra leading '+' and falling back to a last-10-digit suffix match.
// Returns ErrNotFound if no stored person matches.
func (db *DB) FindPersonRobust(ctx context.Context, number string) (*schema.PersonRecord, error) {
	variants := phone.Variants(number)
	if len(variants) == 0 {
		return nil, ErrNotFound
	}

	args := make([]interface{}, len(variants))
	for i, v := range variants {
		args[i] = v
	}
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE phone_number IN (`+placeholders(len(variants))+`)
		ORDER BY length(phone_number) DESC LIMIT 1`, args...)
	p, err := scanPerson(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up person %s: %w", number, err)
	}

	digits := phone.Digits(number)
	if len(digits) < 10 {
		return nil, ErrNotFound
	}
	row = db.conn.QueryRowContext(ctx, `
	SELECT `+personColumns+` FROM persons
	WHERE length(replace(phone_number, '+', '')) >= 10
	  AND substr(replace(phone_number, '+', ''), -10) = ?
	ORDER BY updated_at DESC LIMIT 1`, digits[len(digits)-10:])
	p, err = scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up person %s by suffix: %w", number, err)
	}
	return p, nil
}

// UpsertPersons writes persons in a single transaction. New rows take every
// field. Existing rows only take the derived columns (last call, counters,
// contact name and photo); person_note, label, exclusion, needs_sync and
// server_updated_at belong to local edits and reconciliation and are never
// overwritten here, so an edit committed while a pass was running survives.
func (db *DB) UpsertPersons(ctx context.Context, persons []*schema.PersonRecord) error {
	if len(persons) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO persons (`+personColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(phone_number) DO UPDATE SET
		last_call_type = excluded.last_call_type,
		last_call_duration = excluded.last_call_duration,
		last_call_date = excluded.last_call_date,
		last_recording_path = excluded.last_recording_path,
		last_call_composite_id = excluded.last_call_composite_id,
		total_calls = excluded.total_calls,
		total_incoming = excluded.total_incoming,
		total_outgoing = excluded.total_outgoing,
		total_missed = excluded.total_missed,
		total_duration = excluded.total_duration,
		contact_name = excluded.contact_name,
		photo_uri = excluded.photo_uri,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare person upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	keys := make([]string, 0, len(persons))
	for _, p := range persons {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid person %s: %w", p.PhoneNumber, err)
		}

		_, err := stmt.ExecContext(ctx,
			p.PhoneNumber,
			nullString(string(p.LastCallType)),
			p.LastCallDuration,
			p.LastCallDate,
			nullString(p.LastRecordingPath),
			nullString(p.LastCallCompositeID),
			p.TotalCalls,
			p.TotalIncoming,
			p.TotalOutgoing,
			p.TotalMissed,
			p.TotalDuration,
			nullString(p.ContactName),
			nullString(p.PhotoURI),
			nullString(p.PersonNote),
			nullString(p.Label),
			int(p.Exclusion),
			boolInt(p.NeedsSync),
			p.CreatedAt.UnixMilli(),
			p.UpdatedAt.UnixMilli(),
			nullInt64(p.ServerUpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert person %s: %w", p.PhoneNumber, err)
		}
		keys = append(keys, p.PhoneNumber)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify(Change{Table: TablePersons, Op: OpUpdate, Keys: keys})
	return nil
}

// PersonFilter configures ListPersons.
type PersonFilter struct {
	// IncludeHidden includes persons excluded from lists.
	IncludeHidden bool
	// NeedsSync restricts to persons with unpushed local edits.
	NeedsSync bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// ListPersons retrieves persons ordered by most recent call.
func (db *DB) ListPersons(ctx context.Context, f PersonFilter) ([]*schema.PersonRecord, error) {
	var conditions []string
	var args []interface{}

	if !f.IncludeHidden {
		conditions = append(conditions, "exclusion = ?")
		args = append(args, int(schema.Tracked))
	}
	if f.NeedsSync {
		conditions = append(conditions, "needs_sync = 1")
	}

	query := `SELECT ` + personColumns + ` FROM persons`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_call_date DESC, phone_number ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	defer rows.Close()

	var persons []*schema.PersonRecord
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating persons: %w", err)
	}
	return persons, nil
}

// ExcludedNumbers returns the numbers of persons with the given exclusion.
func (db *DB) ExcludedNumbers(ctx context.Context, e schema.Exclusion) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT phone_number FROM persons WHERE exclusion = ?`, int(e))
	if err != nil {
		return nil, fmt.Errorf("failed to query excluded numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan excluded number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating excluded numbers: %w", err)
	}
	return numbers, nil
}

// UpdatePersonNote sets a person's note and marks it for push.
func (db *DB) UpdatePersonNote(ctx context.Context, number, note string) error {
	return db.updatePerson(ctx, number, "person_note = ?", nullString(note))
}

// UpdatePersonLabel sets a person's label and marks it for push.
func (db *DB) UpdatePersonLabel(ctx context.Context, number, label string) error {
	return db.updatePerson(ctx, number, "label = ?", nullString(label))
}

// UpdatePersonName sets a person's display name and marks it for push.
func (db *DB) UpdatePersonName(ctx context.Context, number, name string) error {
	return db.updatePerson(ctx, number, "contact_name = ?", nullString(name))
}

// UpdatePersonExclusion sets a person's exclusion and marks it for push.
func (db *DB) UpdatePersonExclusion(ctx context.Context, number string, e schema.Exclusion) error {
	return db.updatePerson(ctx, number, "exclusion = ?", int(e))
}

func (db *DB) updatePerson(ctx context.Context, number, set string, value interface{}) error {
	p, err := db.FindPersonRobust(ctx, number)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE persons SET `+set+`, needs_sync = 1, updated_at = ? WHERE phone_number = ?`,
		value, nowMillis(), p.PhoneNumber)
	if err != nil {
		return fmt.Errorf("failed to update person %s: %w", p.PhoneNumber, err)
	}
	db.notify(Change{Table: TablePersons, Op: OpUpdate, Keys: []string{p.PhoneNumber}})
	return nil
}

// MarkPersonsSynced records a server acknowledgement of persons' local edits.
func (db *DB) MarkPersonsSynced(ctx context.Context, numbers []string, serverTime int64) error {
	if len(numbers) == 0 {
		return nil
	}
	args := []interface{}{serverTime, nowMillis()}
	for _, n := range numbers {
		args = append(args, n)
	}
	_, err := db.conn.ExecContext(ctx, `
	UPDATE persons SET
		needs_sync = 0,
		server_updated_at = MAX(COALESCE(server_updated_at, 0), ?),
		updated_at = ?
	WHERE phone_number IN (`+placeholders(len(numbers))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark persons synced: %w", err)
	}
	db.notify(Change{Table: TablePersons, Op: OpUpdate, Keys: numbers})
	return nil
}

func scanPerson(row rowScanner) (*schema.PersonRecord, error) {
	var p schema.PersonRecord
	var lastType, lastPath, lastID, name, photo, note, label sql.NullString
	var exclusion, needsSync int
	var createdAt, updatedAt int64
	var serverUpdated sql.NullInt64

	err := row.Scan(
		&p.PhoneNumber,
		&lastType,
		&p.LastCallDuration,
		&p.LastCallDate,
		&lastPath,
		&lastID,
		&p.TotalCalls,
		&p.TotalIncoming,
		&p.TotalOutgoing,
		&p.TotalMissed,
		&p.TotalDuration,
		&name,
		&photo,
		&note,
		&label,
		&exclusion,
		&needsSync,
		&createdAt,
		&updatedAt,
		&serverUpdated,
	)
	if err != nil {
		return nil, err
	}

	p.LastCallType = schema.CallType(lastType.String)
	p.LastRecordingPath = lastPath.String
	p.LastCallCompositeID = lastID.String
	p.ContactName = name.String
	p.PhotoURI = photo.String
	p.PersonNote = note.String
	p.Label = label.String
	p.Exclusion = schema.Exclusion(exclusion)
	p.NeedsSync = needsSync != 0
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	p.ServerUpdatedAt = int64Ptr(serverUpdated)
	return &p, nil
}
