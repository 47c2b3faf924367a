package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// CallPatch is a server-originated change to one call. Nil fields are left
// untouched. The patch only applies if ServerUpdatedAt is newer than the
// stored server timestamp.
type CallPatch struct {
	CompositeID     string
	ServerUpdatedAt int64
	Reviewed        *bool
	Note            *string
	CallerName      *string
}

// PersonPatch is a server-originated change to one person.
//
// When Create is set the person is inserted with Stats as its counters;
// otherwise Number must be the stored key and the patch applies only if
// ServerUpdatedAt is newer than the stored server timestamp.
type PersonPatch struct {
	Number          string
	Create          bool
	Stats           schema.CallStats
	ServerUpdatedAt int64
	Note            *string
	Label           *string
	Name            *string
	Exclusion       *schema.Exclusion
}

// RemoteOutcome counts how a batch of patches was applied.
type RemoteOutcome struct {
	CallsApplied   int
	CallsStale     int
	PersonsApplied int
	PersonsCreated int
	PersonsStale   int
}

// ApplyRemote applies server patches in a single transaction.
//
// The newer-than guard is evaluated inside the UPDATE, so a patch that lost
// a race with a fresher write is counted stale rather than overwriting it.
func (db *DB) ApplyRemote(ctx context.Context, calls []CallPatch, persons []PersonPatch) (RemoteOutcome, error) {
	var out RemoteOutcome
	if len(calls) == 0 && len(persons) == 0 {
		return out, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	var callKeys, personKeys []string

	for _, p := range calls {
		sets := []string{"server_updated_at = ?", "metadata_received = 1", "updated_at = ?"}
		args := []interface{}{p.ServerUpdatedAt, now}
		if p.Reviewed != nil {
			sets = append(sets, "reviewed = ?")
			args = append(args, boolInt(*p.Reviewed))
		}
		if p.Note != nil {
			sets = append(sets, "note = ?")
			args = append(args, nullString(*p.Note))
		}
		if p.CallerName != nil {
			sets = append(sets, "contact_name = ?")
			args = append(args, nullString(*p.CallerName))
		}
		args = append(args, p.CompositeID, p.ServerUpdatedAt)

		res, err := tx.ExecContext(ctx, `
		UPDATE calls SET `+strings.Join(sets, ", ")+`
		WHERE composite_id = ? AND (server_updated_at IS NULL OR server_updated_at < ?)`, args...)
		if err != nil {
			return out, fmt.Errorf("failed to apply remote call %s: %w", p.CompositeID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			out.CallsApplied++
			callKeys = append(callKeys, p.CompositeID)
		} else {
			out.CallsStale++
		}
	}

	for _, p := range persons {
		if p.Create {
			exclusion := schema.Tracked
			if p.Exclusion != nil {
				exclusion = *p.Exclusion
			}
			_, err := tx.ExecContext(ctx, `
			INSERT INTO persons (
				phone_number, total_calls, total_incoming, total_outgoing, total_missed, total_duration,
				contact_name, person_note, label, exclusion, needs_sync,
				created_at, updated_at, server_updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
				p.Number, p.Stats.Total, p.Stats.Incoming, p.Stats.Outgoing, p.Stats.Missed, p.Stats.TotalDuration,
				nullString(deref(p.Name)), nullString(deref(p.Note)), nullString(deref(p.Label)), int(exclusion),
				now, now, p.ServerUpdatedAt)
			if err != nil {
				return out, fmt.Errorf("failed to create remote person %s: %w", p.Number, err)
			}
			out.PersonsCreated++
			personKeys = append(personKeys, p.Number)
			continue
		}

		sets := []string{"server_updated_at = ?", "updated_at = ?"}
		args := []interface{}{p.ServerUpdatedAt, now}
		if p.Note != nil {
			sets = append(sets, "person_note = ?")
			args = append(args, nullString(*p.Note))
		}
		if p.Label != nil {
			sets = append(sets, "label = ?")
			args = append(args, nullString(*p.Label))
		}
		if p.Name != nil {
			sets = append(sets, "contact_name = ?")
			args = append(args, nullString(*p.Name))
		}
		if p.Exclusion != nil {
			sets = append(sets, "exclusion = ?")
			args = append(args, int(*p.Exclusion))
		}
		args = append(args, p.Number, p.ServerUpdatedAt)

		res, err := tx.ExecContext(ctx, `
		UPDATE persons SET `+strings.Join(sets, ", ")+`
		WHERE phone_number = ? AND (server_updated_at IS NULL OR server_updated_at < ?)`, args...)
		if err != nil {
			return out, fmt.Errorf("failed to apply remote person %s: %w", p.Number, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			out.PersonsApplied++
			personKeys = append(personKeys, p.Number)
		} else {
			out.PersonsStale++
		}
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(callKeys) > 0 {
		db.notify(Change{Table: TableCalls, Op: OpUpdate, Keys: callKeys})
	}
	if len(personKeys) > 0 {
		db.notify(Change{Table: TablePersons, Op: OpUpdate, Keys: personKeys})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
