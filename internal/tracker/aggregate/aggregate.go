// Package aggregate maintains per-contact records derived from stored calls.
//
// Counters are always recomputed from the call table so repeated passes are
// idempotent. Last-call fields only move forward in time. User-authored
// fields (note, label, exclusion, pending sync flag) are never touched here.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/phone"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// Store is the subset of *db.DB the aggregator needs.
type Store interface {
	FindPersonRobust(ctx context.Context, number string) (*schema.PersonRecord, error)
	CallStatsFor(ctx context.Context, number string) (schema.CallStats, error)
	LatestCallFor(ctx context.Context, number string) (*schema.CallRecord, error)
	UpsertPersons(ctx context.Context, persons []*schema.PersonRecord) error
}

// Result counts persons written by a pass.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Aggregator builds PersonRecords from calls.
type Aggregator struct {
	store  Store
	logger zerolog.Logger
}

// New creates an Aggregator.
func New(store Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger.With().Str("component", "aggregate").Logger()}
}

// Update refreshes the person for every number in callsByNumber using the
// newly imported calls as the candidate last call. All persons are written
// in one transaction.
func (a *Aggregator) Update(ctx context.Context, callsByNumber map[string][]*schema.CallRecord) (Result, error) {
	var res Result
	persons := make([]*schema.PersonRecord, 0, len(callsByNumber))

	for _, number := range sortedKeys(callsByNumber) {
		newest := newestCall(callsByNumber[number])

		// Two spellings of the same line share one person.
		if p := findEquivalent(persons, number); p != nil {
			if newest != nil {
				mergeLastCall(p, newest)
			}
			continue
		}

		p, created, err := a.load(ctx, number)
		if err != nil {
			return res, err
		}
		if err := a.refreshStats(ctx, p); err != nil {
			return res, err
		}
		if newest != nil {
			mergeLastCall(p, newest)
		}
		fillContact(p, callsByNumber[number])
		persons = append(persons, p)
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if err := a.store.UpsertPersons(ctx, persons); err != nil {
		return res, err
	}
	a.logger.Debug().Int("created", res.Created).Int("updated", res.Updated).Msg("persons aggregated")
	return res, nil
}

// Recompute re-derives counters for numbers whose calls changed outside an
// import, such as after trimming calls older than the tracking start date.
// Persons with no remaining calls keep their row with zero counters.
func (a *Aggregator) Recompute(ctx context.Context, numbers []string) (Result, error) {
	var res Result
	var persons []*schema.PersonRecord

	for _, number := range dedupe(numbers) {
		p, err := a.store.FindPersonRobust(ctx, number)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		if findEquivalent(persons, p.PhoneNumber) != nil {
			continue
		}
		if err := a.refreshStats(ctx, p); err != nil {
			return res, err
		}
		latest, err := a.store.LatestCallFor(ctx, p.PhoneNumber)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return res, err
		default:
			mergeLastCall(p, latest)
		}
		persons = append(persons, p)
		res.Updated++
	}

	if err := a.store.UpsertPersons(ctx, persons); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Aggregator) load(ctx context.Context, number string) (*schema.PersonRecord, bool, error) {
	p, err := a.store.FindPersonRobust(ctx, number)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up person %s: %w", number, err)
	}
	return &schema.PersonRecord{PhoneNumber: number}, true, nil
}

func (a *Aggregator) refreshStats(ctx context.Context, p *schema.PersonRecord) error {
	stats, err := a.store.CallStatsFor(ctx, p.PhoneNumber)
	if err != nil {
		return err
	}
	p.ApplyStats(stats)
	return nil
}

// mergeLastCall moves the last-call fields to c when it is newer than the
// stored last call. Name and photo prefer the newer non-blank value.
func mergeLastCall(p *schema.PersonRecord, c *schema.CallRecord) {
	if c.CallDate > p.LastCallDate {
		p.LastCallType = c.CallType
		p.LastCallDuration = c.Duration
		p.LastCallDate = c.CallDate
		p.LastCallCompositeID = c.CompositeID
		p.LastRecordingPath = c.LocalRecordingPath
		if c.ContactName != "" {
			p.ContactName = c.ContactName
		}
		if c.PhotoURI != "" {
			p.PhotoURI = c.PhotoURI
		}
		return
	}
	if p.ContactName == "" {
		p.ContactName = c.ContactName
	}
	if p.PhotoURI == "" {
		p.PhotoURI = c.PhotoURI
	}
}

// fillContact fills a blank name or photo from the newest call that has one.
func fillContact(p *schema.PersonRecord, calls []*schema.CallRecord) {
	var nameDate, photoDate int64 = -1, -1
	for _, c := range calls {
		if p.ContactName == "" || nameDate >= 0 {
			if c.ContactName != "" && c.CallDate > nameDate {
				p.ContactName, nameDate = c.ContactName, c.CallDate
			}
		}
		if p.PhotoURI == "" || photoDate >= 0 {
			if c.PhotoURI != "" && c.CallDate > photoDate {
				p.PhotoURI, photoDate = c.PhotoURI, c.CallDate
			}
		}
	}
}

func findEquivalent(persons []*schema.PersonRecord, number string) *schema.PersonRecord {
	for _, p := range persons {
		if phone.Equivalent(p.PhoneNumber, number) {
			return p
		}
	}
	return nil
}

func newestCall(calls []*schema.CallRecord) *schema.CallRecord {
	var newest *schema.CallRecord
	for _, c := range calls {
		if newest == nil || c.CallDate > newest.CallDate {
			newest = c
		}
	}
	return newest
}

func sortedKeys(m map[string][]*schema.CallRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
