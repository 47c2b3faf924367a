// Package importer copies new entries from the device call log into the
// local store.
//
// An import pass is incremental: it fetches only the window that can hold
// unseen entries, deduplicates by both composite and system id, and writes
// everything it keeps in one transaction. Calls older than the tracking
// start date are trimmed after every pass.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/aggregate"
	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/phone"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

const (
	// overlapWindow is re-fetched before the newest stored call so entries
	// the OS wrote late are still seen.
	overlapWindow = 48 * time.Hour
	// skipTolerance absorbs timestamp rounding between the OS log and the store.
	skipTolerance = int64(1000)
)

// SIM selections.
const (
	SimBoth = "both"
	Sim1    = "sim1"
	Sim2    = "sim2"
)

// Settings is the configuration the importer consumes.
type Settings interface {
	TrackingEnabled() bool
	// SimSelection is SimBoth, Sim1 or Sim2.
	SimSelection() string
	// SimSubscriptionID maps Sim1/Sim2 to the OS subscription id.
	SimSubscriptionID(sim string) (int, bool)
	TrackStartDate() time.Time
	DeviceID() string
}

// Store is the subset of *db.DB the importer uses.
type Store interface {
	CallDateRange(ctx context.Context) (minDate, maxDate int64, ok bool, err error)
	KnownIDsSince(ctx context.Context, since int64) (db.KnownIDs, error)
	InsertCalls(ctx context.Context, calls []*schema.CallRecord) ([]*schema.CallRecord, error)
	DeleteCallsBefore(ctx context.Context, cutoff int64) ([]string, error)
	ExcludedNumbers(ctx context.Context, e schema.Exclusion) ([]string, error)
}

// Aggregator refreshes persons. *aggregate.Aggregator satisfies it.
type Aggregator interface {
	Update(ctx context.Context, callsByNumber map[string][]*schema.CallRecord) (aggregate.Result, error)
	Recompute(ctx context.Context, numbers []string) (aggregate.Result, error)
}

// Result summarizes one import pass.
type Result struct {
	// Skipped is set when a precondition was not met.
	Skipped      string `json:"skipped,omitempty"`
	SmartSkipped bool   `json:"smart_skipped,omitempty"`

	Since       int64 `json:"since"`
	Fetched     int   `json:"fetched"`
	Inserted    int   `json:"inserted"`
	Duplicates  int   `json:"duplicates"`
	SimFiltered int   `json:"sim_filtered"`
	Excluded    int   `json:"excluded"`
	Trimmed     int   `json:"trimmed_numbers"`

	Persons aggregate.Result `json:"persons"`

	// NewCalls are the calls inserted by this pass.
	NewCalls []*schema.CallRecord `json:"-"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Importer runs import passes.
type Importer struct {
	src      Source
	store    Store
	agg      Aggregator
	settings Settings
	probe    *SimColumnProbe
	logger   zerolog.Logger
}

// New creates an Importer.
func New(src Source, store Store, agg Aggregator, settings Settings, logger zerolog.Logger) *Importer {
	return &Importer{
		src:      src,
		store:    store,
		agg:      agg,
		settings: settings,
		probe:    NewSimColumnProbe(src),
		logger:   logger.With().Str("component", "importer").Logger(),
	}
}

// Import runs one pass. Unmet preconditions and source failures are
// reported in the result; only store failures return an error.
func (im *Importer) Import(ctx context.Context) (Result, error) {
	var res Result

	if !im.settings.TrackingEnabled() {
		res.Skipped = "tracking disabled"
		return res, nil
	}
	if !im.src.PermissionGranted() {
		res.Skipped = "call log permission not granted"
		return res, nil
	}

	var startDate int64
	if t := im.settings.TrackStartDate(); !t.IsZero() {
		startDate = t.UnixMilli()
	}
	minDate, maxDate, haveCalls, err := im.store.CallDateRange(ctx)
	if err != nil {
		return res, err
	}

	// Skip the fetch when the store already covers the start date and the
	// OS log has nothing newer than the newest stored call.
	latest, haveLatest, latestErr := im.src.LatestDate(ctx)
	if latestErr != nil {
		im.logger.Warn().Err(latestErr).Msg("failed to read newest call log entry")
		res.Warnings = append(res.Warnings, fmt.Sprintf("latest date: %v", latestErr))
	} else if haveCalls && startDate >= minDate && (!haveLatest || latest <= maxDate+skipTolerance) {
		res.SmartSkipped = true
	}

	if !res.SmartSkipped {
		if err := im.fetch(ctx, startDate, minDate, maxDate, haveCalls, &res); err != nil {
			return res, err
		}
	}

	if err := im.trim(ctx, startDate, &res); err != nil {
		return res, err
	}

	im.logger.Info().
		Bool("smart_skipped", res.SmartSkipped).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Msg("import finished")
	return res, nil
}

// fetchWindow returns the earliest date that can hold unseen entries.
func fetchWindow(startDate, minDate, maxDate int64, haveCalls bool) int64 {
	if !haveCalls || startDate < minDate {
		return startDate
	}
	since := maxDate - overlapWindow.Milliseconds()
	if since < startDate {
		return startDate
	}
	return since
}

func (im *Importer) fetch(ctx context.Context, startDate, minDate, maxDate int64, haveCalls bool, res *Result) error {
	since := fetchWindow(startDate, minDate, maxDate, haveCalls)
	res.Since = since

	rows, err := im.src.Query(ctx, since)
	if err != nil {
		im.logger.Warn().Err(err).Msg("failed to query call log")
		res.Warnings = append(res.Warnings, fmt.Sprintf("query call log: %v", err))
		return nil
	}
	res.Fetched = len(rows)

	rows, err = im.filterSim(ctx, rows, res)
	if err != nil {
		return err
	}

	known, err := im.store.KnownIDsSince(ctx, since)
	if err != nil {
		return err
	}
	excluded, err := im.excludedSet(ctx)
	if err != nil {
		return err
	}

	deviceID := im.settings.DeviceID()
	probe, _ := im.probe.Detect(ctx)
	var calls []*schema.CallRecord
	for _, r := range rows {
		if r.Date < startDate {
			continue
		}
		c := im.toRecord(r, deviceID, probe)
		if known.Has(c.CompositeID, c.SystemID) {
			res.Duplicates++
			continue
		}
		// Guard against duplicates within the batch itself.
		known.Composite[c.CompositeID] = struct{}{}
		known.System[c.SystemID] = struct{}{}

		if excluded.has(c.PhoneNumber) {
			// Stored for history, never pushed.
			c.SyncStatus = schema.SyncCompleted
			c.MetadataSyncStatus = schema.MetadataSynced
		}
		calls = append(calls, c)
	}

	// A row whose system id is stored outside the fetch window (its date
	// shifted) is dropped by the insert; only stored calls feed persons.
	inserted, err := im.store.InsertCalls(ctx, calls)
	if err != nil {
		return err
	}
	res.Duplicates += len(calls) - len(inserted)
	res.Inserted = len(inserted)
	res.NewCalls = inserted

	byNumber := make(map[string][]*schema.CallRecord)
	for _, c := range inserted {
		if excluded.has(c.PhoneNumber) {
			res.Excluded++
		}
		if c.PhoneNumber == "" {
			continue
		}
		byNumber[c.PhoneNumber] = append(byNumber[c.PhoneNumber], c)
	}
	if len(byNumber) > 0 {
		pr, err := im.agg.Update(ctx, byNumber)
		if err != nil {
			return err
		}
		res.Persons = pr
	}
	return nil
}

func (im *Importer) trim(ctx context.Context, startDate int64, res *Result) error {
	numbers, err := im.store.DeleteCallsBefore(ctx, startDate)
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		return nil
	}
	res.Trimmed = len(numbers)
	pr, err := im.agg.Recompute(ctx, numbers)
	if err != nil {
		return err
	}
	res.Persons.Updated += pr.Updated
	im.logger.Info().Int("numbers", len(numbers)).Msg("trimmed calls before tracking start")
	return nil
}

func (im *Importer) filterSim(ctx context.Context, rows []Row, res *Result) ([]Row, error) {
	sel := im.settings.SimSelection()
	if sel == "" || sel == SimBoth {
		return rows, nil
	}
	want, ok := im.settings.SimSubscriptionID(sel)
	if !ok {
		return rows, nil
	}

	probe, err := im.probe.Detect(ctx)
	if err != nil {
		im.logger.Warn().Err(err).Msg("failed to detect SIM column")
		res.Warnings = append(res.Warnings, fmt.Sprintf("detect sim column: %v", err))
		return rows, nil
	}
	if probe.Kind == ProbeNone {
		return rows, nil
	}

	out := rows[:0:0]
	for _, r := range rows {
		sub, ok := probe.Subscription(r)
		if ok && sub != want {
			res.SimFiltered++
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (im *Importer) toRecord(r Row, deviceID string, probe ProbeResult) *schema.CallRecord {
	typ := schema.CallTypeFromCode(r.Type)
	number := phone.Normalize(r.Number)
	c := &schema.CallRecord{
		CompositeID: schema.CompositeID(typ, deviceID, number, r.Date),
		SystemID:    r.ID,
		PhoneNumber: number,
		ContactName: r.CachedName,
		PhotoURI:    r.CachedPhotoURI,
		CallType:    typ,
		CallDate:    r.Date,
		Duration:    r.Duration,
		DeviceID:    deviceID,
	}
	if sub, ok := probe.Subscription(r); ok {
		c.SubscriptionID = &sub
	}
	c.RecordingSyncStatus = schema.InitialRecordingStatus(c.Duration)
	return c
}

// numberSet matches numbers the way person lookup does.
type numberSet map[string]struct{}

func (im *Importer) excludedSet(ctx context.Context) (numberSet, error) {
	numbers, err := im.store.ExcludedNumbers(ctx, schema.FullyExcluded)
	if err != nil {
		return nil, err
	}
	set := make(numberSet, len(numbers))
	for _, n := range numbers {
		set[lineKey(n)] = struct{}{}
	}
	return set, nil
}

func (s numberSet) has(number string) bool {
	if len(s) == 0 || number == "" {
		return false
	}
	_, ok := s[lineKey(number)]
	return ok
}

// lineKey is the last ten digits, or all digits for shorter numbers.
func lineKey(number string) string {
	d := phone.Digits(number)
	if len(d) >= 10 {
		return d[len(d)-10:]
	}
	return d
}
