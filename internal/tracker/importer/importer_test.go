package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/aggregate"
	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// memSource is an in-memory call log.
type memSource struct {
	denied   bool
	columns  []string
	rows     []Row
	queryErr error
	queries  []int64
}

func (s *memSource) PermissionGranted() bool { return !s.denied }

func (s *memSource) LatestDate(context.Context) (int64, bool, error) {
	var latest int64
	for _, r := range s.rows {
		if r.Date > latest {
			latest = r.Date
		}
	}
	return latest, len(s.rows) > 0, nil
}

func (s *memSource) Columns(context.Context) ([]string, error) { return s.columns, nil }

func (s *memSource) Query(_ context.Context, since int64) ([]Row, error) {
	s.queries = append(s.queries, since)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []Row
	for _, r := range s.rows {
		if r.Date >= since {
			out = append(out, r)
		}
	}
	return out, nil
}

type testSettings struct {
	disabled bool
	sim      string
	subs     map[string]int
	start    time.Time
}

func (s *testSettings) TrackingEnabled() bool     { return !s.disabled }
func (s *testSettings) SimSelection() string      { return s.sim }
func (s *testSettings) TrackStartDate() time.Time { return s.start }
func (s *testSettings) DeviceID() string          { return "dev1" }

func (s *testSettings) SimSubscriptionID(sim string) (int, bool) {
	id, ok := s.subs[sim]
	return id, ok
}

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(days int, hour int) int64 {
	return day0.Add(time.Duration(days)*24*time.Hour + time.Duration(hour)*time.Hour).UnixMilli()
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func newImporter(store *db.DB, src Source, settings Settings) *Importer {
	return New(src, store, aggregate.New(store, zerolog.Nop()), settings, zerolog.Nop())
}

func TestImport_Preconditions(t *testing.T) {
	store := setupTestDB(t)

	res, err := newImporter(store, &memSource{}, &testSettings{disabled: true}).Import(context.Background())
	if err != nil || res.Skipped == "" {
		t.Errorf("disabled tracking: res=%+v err=%v", res, err)
	}

	src := &memSource{denied: true}
	res, err = newImporter(store, src, &testSettings{}).Import(context.Background())
	if err != nil || res.Skipped == "" {
		t.Errorf("denied permission: res=%+v err=%v", res, err)
	}
	if len(src.queries) != 0 {
		t.Error("source must not be queried without permission")
	}
}

func TestImport_Idempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	src := &memSource{rows: []Row{
		{ID: "1", Number: "+1 555 123 4567", Type: 1, Date: at(1, 10), Duration: 60, CachedName: "Ana"},
		{ID: "2", Number: "+15551234567", Type: 2, Date: at(2, 10), Duration: 0},
		{ID: "3", Number: "5559999999", Type: 3, Date: at(3, 10)},
	}}
	settings := &testSettings{start: day0}
	im := newImporter(store, src, settings)

	res, err := im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Inserted != 3 || res.Persons.Created != 2 || len(res.NewCalls) != 3 {
		t.Errorf("unexpected first pass: %+v", res)
	}

	c, err := store.GetCall(ctx, res.NewCalls[1].CompositeID)
	if err != nil {
		t.Fatalf("GetCall() failed: %v", err)
	}
	if c.RecordingSyncStatus != schema.RecordingNotApplicable || c.DeviceID != "dev1" {
		t.Errorf("unexpected zero-duration call: %+v", c)
	}

	p, _ := store.GetPerson(ctx, "+15551234567")
	before := *p

	// Second pass with the start date on the oldest stored call: the store
	// covers the window and the log has nothing newer, so it is skipped.
	settings.start = time.UnixMilli(at(1, 10))
	res, err = im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if !res.SmartSkipped || res.Inserted != 0 {
		t.Errorf("expected smart skip: %+v", res)
	}

	// Forced re-fetch of the same rows: all duplicates.
	src.rows = append(src.rows, Row{ID: "3", Number: "5559999999", Type: 3, Date: at(3, 10)})
	res, err = im.fetchForTest(ctx)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res.Inserted != 0 || res.Duplicates == 0 {
		t.Errorf("expected only duplicates: %+v", res)
	}

	after, _ := store.GetPerson(ctx, "+15551234567")
	if diff := cmp.Diff(before.TotalCalls, after.TotalCalls); diff != "" {
		t.Errorf("person changed on repeat import: %s", diff)
	}
	if after.LastCallDate != before.LastCallDate || after.ContactName != "Ana" {
		t.Errorf("person changed on repeat import: %+v", after)
	}
}

// fetchForTest runs the fetch phase without the smart-skip shortcut.
func (im *Importer) fetchForTest(ctx context.Context) (Result, error) {
	var res Result
	minDate, maxDate, ok, err := im.store.CallDateRange(ctx)
	if err != nil {
		return res, err
	}
	err = im.fetch(ctx, im.settings.TrackStartDate().UnixMilli(), minDate, maxDate, ok, &res)
	return res, err
}

func TestImport_FetchWindow(t *testing.T) {
	start := at(0, 0)
	tests := []struct {
		name      string
		min, max  int64
		haveCalls bool
		want      int64
	}{
		{"empty store", 0, 0, false, start},
		{"start before stored range", at(5, 0), at(10, 0), true, start},
		{"overlap two days", at(0, 0), at(10, 0), true, at(8, 0)},
		{"overlap clamped to start", at(0, 0), at(1, 0), true, start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fetchWindow(start, tt.min, tt.max, tt.haveCalls); got != tt.want {
				t.Errorf("fetchWindow() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestImport_NewerEntriesAfterSkip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	src := &memSource{rows: []Row{{ID: "1", Number: "111", Type: 1, Date: at(1, 0), Duration: 5}}}
	settings := &testSettings{start: day0}
	im := newImporter(store, src, settings)

	if _, err := im.Import(ctx); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	settings.start = time.UnixMilli(at(1, 0))
	src.rows = append(src.rows, Row{ID: "2", Number: "111", Type: 1, Date: at(1, 0) + 5000, Duration: 5})

	res, err := im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.SmartSkipped || res.Inserted != 1 {
		t.Errorf("newer entry beyond tolerance must be imported: %+v", res)
	}
}

func TestImport_ScenarioC_TrimOnStartDateChange(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	src := &memSource{rows: []Row{
		{ID: "1", Number: "111", Type: 1, Date: at(1, 0), Duration: 10},
		{ID: "2", Number: "111", Type: 2, Date: at(5, 0), Duration: 20},
		{ID: "3", Number: "222", Type: 1, Date: at(2, 0), Duration: 30},
	}}
	settings := &testSettings{start: day0}
	im := newImporter(store, src, settings)
	if _, err := im.Import(ctx); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	settings.start = day0.Add(3 * 24 * time.Hour)
	res, err := im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Trimmed != 2 {
		t.Errorf("trimmed numbers = %d, want 2", res.Trimmed)
	}

	calls, err := store.ListCalls(ctx, db.CallFilter{})
	if err != nil {
		t.Fatalf("ListCalls() failed: %v", err)
	}
	if len(calls) != 1 || calls[0].SystemID != "2" {
		t.Errorf("expected only call 2 to remain, got %d calls", len(calls))
	}

	p1, _ := store.GetPerson(ctx, "111")
	if p1.TotalCalls != 1 || p1.TotalOutgoing != 1 || p1.TotalIncoming != 0 {
		t.Errorf("person 111 not recomputed: %+v", p1)
	}
	p2, _ := store.GetPerson(ctx, "222")
	if p2.TotalCalls != 0 {
		t.Errorf("person 222 not recomputed: %+v", p2)
	}
}

func TestImport_SimFilter(t *testing.T) {
	store := setupTestDB(t)
	src := &memSource{
		columns: []string{"_id", "number", "SIM_ID"},
		rows: []Row{
			{ID: "1", Number: "111", Type: 1, Date: at(1, 0), Duration: 5, Extra: map[string]string{"sim_id": "7"}},
			{ID: "2", Number: "222", Type: 1, Date: at(1, 1), Duration: 5, Extra: map[string]string{"sim_id": "9"}},
			{ID: "3", Number: "333", Type: 1, Date: at(1, 2), Duration: 5},
		},
	}
	im := newImporter(store, src, &testSettings{start: day0, sim: Sim1, subs: map[string]int{Sim1: 7}})

	res, err := im.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.SimFiltered != 1 || res.Inserted != 2 {
		t.Errorf("unexpected result: %+v", res)
	}

	probe, _ := im.probe.Detect(context.Background())
	if diff := cmp.Diff(ProbeResult{Kind: ProbeFound, Column: "sim_id"}, probe); diff != "" {
		t.Errorf("probe mismatch (-want +got):\n%s", diff)
	}
	c, _ := store.GetCall(context.Background(), res.NewCalls[0].CompositeID)
	if c.SubscriptionID == nil {
		t.Error("subscription id should be recorded")
	}
}

func TestImport_FullyExcludedStoredAsSynced(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	if err := store.UpsertPersons(ctx, []*schema.PersonRecord{{PhoneNumber: "+15551234567", Exclusion: schema.FullyExcluded}}); err != nil {
		t.Fatalf("UpsertPersons() failed: %v", err)
	}
	src := &memSource{rows: []Row{
		{ID: "1", Number: "5551234567", Type: 1, Date: at(1, 0), Duration: 5},
		{ID: "2", Number: "222", Type: 1, Date: at(1, 1), Duration: 5},
	}}
	res, err := newImporter(store, src, &testSettings{start: day0}).Import(ctx)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", res.Excluded)
	}
	pending, _ := store.ListCalls(ctx, db.CallFilter{SyncStatus: schema.SyncPending})
	if len(pending) != 1 || pending[0].PhoneNumber != "222" {
		t.Errorf("only the tracked call should be pending, got %d", len(pending))
	}
}

func TestImport_QueryFailureIsWarning(t *testing.T) {
	store := setupTestDB(t)
	src := &memSource{queryErr: errors.New("provider crashed")}
	res, err := newImporter(store, src, &testSettings{start: day0}).Import(context.Background())
	if err != nil {
		t.Fatalf("Import() should not fail on source errors: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", res.Warnings)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.yaml")
	data := []byte(`
calls:
  - id: "1"
    number: "+15551234567"
    name: Ana
    type: 1
    date: 2024-03-15T14:30:00Z
    duration: 125
    extra: {subscription_id: "2"}
  - id: "2"
    number: "222"
    type: 3
    date: 2024-03-16T09:00:00Z
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	src := NewFileSource(path)
	ctx := context.Background()

	if !src.PermissionGranted() {
		t.Error("permission should default to granted")
	}
	latest, ok, err := src.LatestDate(ctx)
	if err != nil || !ok || latest != time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC).UnixMilli() {
		t.Errorf("LatestDate() = %d, %v, %v", latest, ok, err)
	}
	cols, _ := src.Columns(ctx)
	if diff := cmp.Diff([]string{"subscription_id"}, cols); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
	rows, err := src.Query(ctx, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC).UnixMilli())
	if err != nil || len(rows) != 1 || rows[0].ID != "2" {
		t.Errorf("Query() = %+v, %v", rows, err)
	}

	if NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).PermissionGranted() {
		t.Error("missing file should count as denied")
	}
	if _, err := ParseLog([]byte("calls:\n  - number: x\n")); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestImport_ShiftedRowOutsideWindowNotAggregated(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	// Starting exactly at the oldest call makes the next fetch window
	// max - 2 days instead of the start date.
	settings := &testSettings{start: time.UnixMilli(at(1, 10)).UTC()}

	src := &memSource{rows: []Row{
		{ID: "7", Number: "+15551234567", Type: 1, Date: at(1, 10), Duration: 30},
		{ID: "8", Number: "+15550000008", Type: 1, Date: at(10, 10), Duration: 30},
	}}
	if _, err := newImporter(store, src, settings).Import(ctx); err != nil {
		t.Fatalf("first Import() failed: %v", err)
	}
	stored, err := store.GetPerson(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetPerson() failed: %v", err)
	}

	// Row 7 now reports a date inside the fetch window (timezone change);
	// its system id is stored with the old date, outside the window.
	src.rows = []Row{
		{ID: "7", Number: "+15551234567", Type: 1, Date: at(9, 10), Duration: 30},
		{ID: "8", Number: "+15550000008", Type: 1, Date: at(10, 10), Duration: 30},
		{ID: "9", Number: "+15550000009", Type: 1, Date: at(11, 10), Duration: 30},
	}
	res, err := newImporter(store, src, settings).Import(ctx)
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if res.Inserted != 1 || len(res.NewCalls) != 1 || res.NewCalls[0].SystemID != "9" {
		t.Errorf("only call 9 is new: inserted=%d newCalls=%d", res.Inserted, len(res.NewCalls))
	}

	p, err := store.GetPerson(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetPerson() failed: %v", err)
	}
	if p.LastCallCompositeID != stored.LastCallCompositeID || p.LastCallDate != at(1, 10) {
		t.Errorf("last call moved to a call that was never stored: %q at %d", p.LastCallCompositeID, p.LastCallDate)
	}
	if _, err := store.GetCall(ctx, p.LastCallCompositeID); err != nil {
		t.Errorf("person's last call must exist: %v", err)
	}
}
