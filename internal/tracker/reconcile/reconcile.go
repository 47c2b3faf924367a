// Package reconcile merges server updates into the local store and exposes
// the rows still waiting to be pushed.
//
// Every field group is last-write-wins on ServerUpdatedAt. A group the user
// edited locally and has not pushed yet is deferred: the local value stands
// until the push is acknowledged.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/phone"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// Axis selects which pending calls to list.
type Axis string

const (
	// AxisNew lists calls not yet created on the server.
	AxisNew Axis = "new"
	// AxisMetadata lists created calls whose note or review state changed.
	AxisMetadata Axis = "metadata"
	// AxisRecording lists calls whose recording lookup has not run yet.
	AxisRecording Axis = "recording"
)

// ParseAxis parses an Axis name.
func ParseAxis(s string) (Axis, error) {
	switch a := Axis(s); a {
	case AxisNew, AxisMetadata, AxisRecording:
		return a, nil
	}
	return "", fmt.Errorf("unknown axis %q (want new, metadata or recording)", s)
}

// Store is the subset of *db.DB the reconciler uses.
type Store interface {
	GetCall(ctx context.Context, compositeID string) (*schema.CallRecord, error)
	FindPersonRobust(ctx context.Context, number string) (*schema.PersonRecord, error)
	CallStatsFor(ctx context.Context, number string) (schema.CallStats, error)
	ApplyRemote(ctx context.Context, calls []db.CallPatch, persons []db.PersonPatch) (db.RemoteOutcome, error)
	ListCalls(ctx context.Context, f db.CallFilter) ([]*schema.CallRecord, error)
	ListPersons(ctx context.Context, f db.PersonFilter) ([]*schema.PersonRecord, error)
	MarkCallsSynced(ctx context.Context, ids []string, serverTime int64) error
	MarkPersonsSynced(ctx context.Context, numbers []string, serverTime int64) error
}

// Result counts how a batch was merged.
type Result struct {
	Applied  int `json:"applied"`
	Created  int `json:"created"`
	Stale    int `json:"stale"`
	Deferred int `json:"deferred"`
	// Missing counts call updates for calls this device never imported.
	Missing int `json:"missing"`
}

// Reconciler merges server updates.
type Reconciler struct {
	store  Store
	logger zerolog.Logger
}

// New creates a Reconciler.
func New(store Store, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// ApplyCalls merges call updates in one transaction. The whole batch is
// rejected if any update is invalid.
func (r *Reconciler) ApplyCalls(ctx context.Context, updates []CallUpdate) (Result, error) {
	var res Result
	for i := range updates {
		if err := updates[i].Validate(); err != nil {
			return res, err
		}
	}

	var patches []db.CallPatch
	for _, u := range updates {
		local, err := r.store.GetCall(ctx, u.CompositeID)
		if errors.Is(err, db.ErrNotFound) {
			res.Missing++
			continue
		}
		if err != nil {
			return res, err
		}
		if !newer(u.ServerUpdatedAt, local.ServerUpdatedAt) {
			res.Stale++
			continue
		}

		p := db.CallPatch{
			CompositeID:     u.CompositeID,
			ServerUpdatedAt: u.ServerUpdatedAt,
			CallerName:      u.CallerName,
			Reviewed:        u.Reviewed,
			Note:            u.Note,
		}
		if local.MetadataSyncStatus == schema.MetadataUpdatePending && (u.Note != nil || u.Reviewed != nil) {
			p.Note, p.Reviewed = nil, nil
			res.Deferred++
			if p.CallerName == nil {
				continue
			}
		}
		patches = append(patches, p)
	}

	out, err := r.store.ApplyRemote(ctx, patches, nil)
	if err != nil {
		return res, err
	}
	res.Applied = out.CallsApplied
	res.Stale += out.CallsStale

	r.logger.Debug().
		Int("applied", res.Applied).
		Int("stale", res.Stale).
		Int("deferred", res.Deferred).
		Int("missing", res.Missing).
		Msg("applied call updates")
	return res, nil
}

// ApplyPersons merges person updates in one transaction, creating persons
// the store does not know yet. The whole batch is rejected if any update is
// invalid.
func (r *Reconciler) ApplyPersons(ctx context.Context, updates []PersonUpdate) (Result, error) {
	var res Result
	for i := range updates {
		if err := updates[i].Validate(); err != nil {
			return res, err
		}
	}

	// Persons created earlier in this batch, by normalized number.
	created := make(map[string]*schema.PersonRecord)
	var patches []db.PersonPatch

	for _, u := range updates {
		number := phone.Normalize(u.Phone)

		local := created[number]
		if local == nil {
			p, err := r.store.FindPersonRobust(ctx, number)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return res, err
			}
			local = p
		}

		if local == nil {
			stats, err := r.store.CallStatsFor(ctx, number)
			if err != nil {
				return res, err
			}
			excl := mergeExclusion(schema.Tracked, u)
			patches = append(patches, db.PersonPatch{
				Number:          number,
				Create:          true,
				Stats:           stats,
				ServerUpdatedAt: u.ServerUpdatedAt,
				Note:            u.Note,
				Label:           u.Label,
				Name:            u.Name,
				Exclusion:       &excl,
			})
			sua := u.ServerUpdatedAt
			created[number] = &schema.PersonRecord{PhoneNumber: number, Exclusion: excl, ServerUpdatedAt: &sua}
			continue
		}

		if !newer(u.ServerUpdatedAt, local.ServerUpdatedAt) {
			res.Stale++
			continue
		}

		p := db.PersonPatch{
			Number:          local.PhoneNumber,
			ServerUpdatedAt: u.ServerUpdatedAt,
			Note:            u.Note,
			Label:           u.Label,
			Name:            u.Name,
		}
		if u.ExcludeFromSync != nil || u.ExcludeFromList != nil {
			excl := mergeExclusion(local.Exclusion, u)
			p.Exclusion = &excl
		}
		if local.NeedsSync {
			if p.Note == nil && p.Label == nil && p.Name == nil && p.Exclusion == nil {
				// Timestamp only; nothing to protect.
				patches = append(patches, p)
				continue
			}
			res.Deferred++
			continue
		}
		patches = append(patches, p)
		if c, ok := created[local.PhoneNumber]; ok {
			sua := u.ServerUpdatedAt
			c.ServerUpdatedAt = &sua
		}
	}

	out, err := r.store.ApplyRemote(ctx, nil, patches)
	if err != nil {
		return res, err
	}
	res.Applied = out.PersonsApplied
	res.Created = out.PersonsCreated
	res.Stale += out.PersonsStale

	r.logger.Debug().
		Int("applied", res.Applied).
		Int("created", res.Created).
		Int("stale", res.Stale).
		Int("deferred", res.Deferred).
		Msg("applied person updates")
	return res, nil
}

// Apply merges a decoded batch: persons first, then calls.
func (r *Reconciler) Apply(ctx context.Context, b Batch) (persons, calls Result, err error) {
	if persons, err = r.ApplyPersons(ctx, b.Persons); err != nil {
		return persons, calls, err
	}
	calls, err = r.ApplyCalls(ctx, b.Calls)
	return persons, calls, err
}

// PendingCalls lists calls waiting on the given axis, newest first.
func (r *Reconciler) PendingCalls(ctx context.Context, axis Axis) ([]*schema.CallRecord, error) {
	switch axis {
	case AxisNew:
		return r.store.ListCalls(ctx, db.CallFilter{SyncStatus: schema.SyncPending})
	case AxisMetadata:
		return r.store.ListCalls(ctx, db.CallFilter{
			SyncStatus:       schema.SyncCompleted,
			MetadataStatuses: []schema.MetadataSyncStatus{schema.MetadataPending, schema.MetadataUpdatePending},
		})
	case AxisRecording:
		return r.store.ListCalls(ctx, db.CallFilter{RecordingStatus: schema.RecordingPending, Idle: true})
	}
	return nil, fmt.Errorf("unknown axis %q", axis)
}

// PendingPersons lists persons with local edits not yet pushed.
func (r *Reconciler) PendingPersons(ctx context.Context) ([]*schema.PersonRecord, error) {
	return r.store.ListPersons(ctx, db.PersonFilter{IncludeHidden: true, NeedsSync: true})
}

// AckCallMetadata records that the server accepted the calls as of serverTime.
func (r *Reconciler) AckCallMetadata(ctx context.Context, ids []string, serverTime int64) error {
	return r.store.MarkCallsSynced(ctx, ids, serverTime)
}

// AckPersons records that the server accepted the persons' edits as of serverTime.
func (r *Reconciler) AckPersons(ctx context.Context, numbers []string, serverTime int64) error {
	return r.store.MarkPersonsSynced(ctx, numbers, serverTime)
}

// newer reports whether incoming beats the stored server timestamp. A row
// the server never touched accepts any update.
func newer(incoming int64, stored *int64) bool {
	return stored == nil || incoming > *stored
}

// mergeExclusion overlays the flags an update carries on the current state.
func mergeExclusion(current schema.Exclusion, u PersonUpdate) schema.Exclusion {
	sync, list := current.ExcludeFromSync(), current.ExcludeFromList()
	if u.ExcludeFromSync != nil {
		sync = *u.ExcludeFromSync
	}
	if u.ExcludeFromList != nil {
		list = *u.ExcludeFromList
	}
	return schema.ExclusionFromFlags(sync, list)
}
