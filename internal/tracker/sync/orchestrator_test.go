package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/importer"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/recording"
	"github.com/miniclick/calltrack/internal/tracker/recsync"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

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

type stubImporter struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  importer.Result
	err     error
}

func (s *stubImporter) Import(ctx context.Context) (importer.Result, error) {
	s.calls.Add(1)
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return importer.Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

type stubRunner struct {
	calls [][]*schema.CallRecord
}

func (s *stubRunner) Run(_ context.Context, calls []*schema.CallRecord) (recsync.Result, error) {
	s.calls = append(s.calls, calls)
	return recsync.Result{Scanned: len(calls), Found: len(calls)}, nil
}

type recordingOn bool

func (r recordingOn) RecordingEnabled() bool { return bool(r) }

func seedCall(t *testing.T, store *db.DB, id string, date, duration int64) *schema.CallRecord {
	t.Helper()
	c := &schema.CallRecord{
		CompositeID: schema.CompositeID(schema.CallIncoming, "dev", "111", date),
		SystemID:    id,
		PhoneNumber: "111",
		CallType:    schema.CallIncoming,
		CallDate:    date,
		Duration:    duration,
		DeviceID:    "dev",
	}
	if _, err := store.InsertCalls(context.Background(), []*schema.CallRecord{c}); err != nil {
		t.Fatalf("InsertCalls() failed: %v", err)
	}
	return c
}

func TestSync_ScenarioD_SingleFlight(t *testing.T) {
	store := setupTestDB(t)
	imp := &stubImporter{started: make(chan struct{}), release: make(chan struct{})}
	o := New(store, imp, &stubRunner{}, recordingOn(false), nil, DefaultConfig(), zerolog.Nop())

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := o.Sync(context.Background(), "test")
		first <- outcome{res, err}
	}()

	select {
	case <-imp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the importer")
	}
	if !o.Running() {
		t.Error("Running() should report the in-flight pass")
	}

	second, err := o.Sync(context.Background(), "test")
	if err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if !second.AlreadyRunning || second.RunID != "" {
		t.Errorf("second call should be a no-op: %+v", second)
	}
	if n := imp.calls.Load(); n != 1 {
		t.Errorf("importer ran %d times, want 1", n)
	}

	close(imp.release)
	out := <-first
	if out.err != nil || out.res.AlreadyRunning {
		t.Fatalf("first sync: %+v, %v", out.res, out.err)
	}
	if o.Running() {
		t.Error("lock should be released after the pass")
	}

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != db.RunCompleted || runs[0].ID != out.res.RunID {
		t.Errorf("expected one completed run, got %+v", runs)
	}
}

func TestSync_RecordingPhase(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	stuck := seedCall(t, store, "1", 1000, 30)
	seedCall(t, store, "2", 2000, 0) // not_applicable, never listed
	if err := store.MarkProcessing(ctx, []string{stuck.CompositeID}, recsync.ProcessingMarker); err != nil {
		t.Fatalf("MarkProcessing() failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	runner := &stubRunner{}
	imp := &stubImporter{result: importer.Result{Inserted: 0}}
	o := New(store, imp, runner, recordingOn(true), nil, Config{StaleTimeout: 10 * time.Millisecond}, zerolog.Nop())

	res, err := o.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if res.Swept != 1 {
		t.Errorf("swept = %d, want 1", res.Swept)
	}
	if len(runner.calls) != 1 || len(runner.calls[0]) != 1 || runner.calls[0][0].CompositeID != stuck.CompositeID {
		t.Fatalf("recording pass should get the swept call, got %v", runner.calls)
	}

	// Recording-only pass skips the importer.
	if _, err := o.SyncRecordings(ctx, "watch"); err != nil {
		t.Fatalf("SyncRecordings() failed: %v", err)
	}
	if n := imp.calls.Load(); n != 1 {
		t.Errorf("importer ran %d times, want 1", n)
	}
	if len(runner.calls) != 2 {
		t.Errorf("recording pass ran %d times, want 2", len(runner.calls))
	}
}

type noMatch struct{}

func (noMatch) Find(context.Context, recording.Call, []recording.File) (recording.Match, bool) {
	return recording.Match{}, false
}

type memIndexer struct{ fs afero.Fs }

func (m memIndexer) BuildIndex(ctx context.Context) (*recording.Index, error) {
	return recording.BuildIndex(ctx, m.fs, recording.DefaultCatalog(), []string{"/rec"})
}

func TestSync_ProgressWellFormed(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		seedCall(t, store, fmt.Sprint(i+1), int64(i+1)*60_000, 30)
	}

	rec := &progress.Recorder{}
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/rec", 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	coord := recsync.New(store, memIndexer{fs: fs}, noMatch{}, rec, recsync.DefaultConfig(), zerolog.Nop())
	imp := &stubImporter{result: importer.Result{Inserted: 12}}
	o := New(store, imp, coord, recordingOn(true), rec, DefaultConfig(), zerolog.Nop())

	res, err := o.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if res.Recordings.Mode != recsync.ModeBatch || res.Recordings.NotFound != 12 {
		t.Errorf("unexpected recording result: %+v", res.Recordings)
	}

	if diff := cmp.Diff([]string{"start", "end", "start", "update", "end"}, rec.Kinds()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	events := rec.Events()
	if events[0].Operation != OpImport || events[2].Operation != recsync.OpRecordings || events[2].Total != 12 {
		t.Errorf("unexpected start events: %+v", events)
	}
	if events[4].Status != progress.StatusCompleted {
		t.Errorf("recording pass end = %+v", events[4])
	}
}

func TestSync_SkippedAndDisabled(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedCall(t, store, "1", 1000, 30)

	runner := &stubRunner{}
	imp := &stubImporter{result: importer.Result{Skipped: "tracking disabled"}}
	o := New(store, imp, runner, recordingOn(true), nil, DefaultConfig(), zerolog.Nop())

	if _, err := o.Sync(ctx, "test"); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Error("recording pass must not run when import preconditions fail")
	}
	runs, _ := store.ListRuns(ctx, 1)
	if len(runs) != 1 || runs[0].Status != db.RunSkipped {
		t.Errorf("expected a skipped run, got %+v", runs)
	}

	imp.result = importer.Result{Inserted: 2}
	o = New(store, imp, runner, recordingOn(false), nil, DefaultConfig(), zerolog.Nop())
	res, err := o.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if len(runner.calls) != 0 || res.Import.Inserted != 2 {
		t.Errorf("recording disabled: runner=%d res=%+v", len(runner.calls), res)
	}
}

func TestSync_FailureRecorded(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	rec := &progress.Recorder{}
	imp := &stubImporter{err: errors.New("disk full")}
	o := New(store, imp, &stubRunner{}, recordingOn(true), rec, DefaultConfig(), zerolog.Nop())

	if _, err := o.Sync(ctx, "test"); err == nil {
		t.Fatal("expected import error")
	}

	if diff := cmp.Diff([]string{"start", "end"}, rec.Kinds()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	events := rec.Events()
	if events[0].Operation != OpImport || events[1].Status != progress.StatusFailed {
		t.Errorf("events = %+v, want import start then failed end", events)
	}

	runs, _ := store.ListRuns(ctx, 1)
	if len(runs) != 1 || runs[0].Status != db.RunFailed || runs[0].Phase != PhaseImport || runs[0].Error == "" {
		t.Errorf("expected failed run in import phase, got %+v", runs)
	}
	if o.Running() {
		t.Error("lock must be released after a failure")
	}
}

func TestSync_CancelledImportEndsCancelled(t *testing.T) {
	store := setupTestDB(t)
	rec := &progress.Recorder{}
	imp := &stubImporter{started: make(chan struct{}), release: make(chan struct{})}
	o := New(store, imp, &stubRunner{}, recordingOn(true), rec, DefaultConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := o.Sync(ctx, "test")
		errc <- err
	}()
	<-imp.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	runs, _ := store.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != db.RunFailed {
		t.Errorf("cancelled pass should be recorded as failed, got %+v", runs)
	}
	events := rec.Events()
	if len(events) == 0 || events[len(events)-1].Status != progress.StatusCancelled {
		t.Errorf("expected cancelled end, got %+v", events)
	}
}
