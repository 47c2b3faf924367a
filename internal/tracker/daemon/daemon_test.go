package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
)

type fakeSyncer struct {
	mu         sync.Mutex
	full       []string
	recordings []string
}

func (f *fakeSyncer) Sync(ctx context.Context, source string) (syncpass.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = append(f.full, source)
	return syncpass.Result{RunID: source}, nil
}

func (f *fakeSyncer) SyncRecordings(ctx context.Context, source string) (syncpass.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings = append(f.recordings, source)
	return syncpass.Result{RunID: source}, nil
}

func (f *fakeSyncer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.full), len(f.recordings)
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) SweepStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func isAudio(name string) bool {
	return strings.HasSuffix(name, ".m4a") || strings.HasSuffix(name, ".mp3")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// startDaemon runs d in the background and returns a stop function.
func startDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
}

func TestDaemon_RecordingDirChanges(t *testing.T) {
	recDir := t.TempDir()
	syncer := &fakeSyncer{}

	d, err := New(syncer, nil, []string{recDir}, Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 50 * time.Millisecond,
		IsAudio:          isAudio,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	// Startup pass.
	waitFor(t, "startup sync", func() bool { full, _ := syncer.counts(); return full == 1 })
	// Let the watcher register before writing.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(recDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, rec := syncer.counts(); rec != 0 {
		t.Fatalf("non-audio file triggered %d recording passes", rec)
	}

	// Several writes within the debounce window collapse into one pass.
	path := filepath.Join(recDir, "Call_20240105_101500.m4a")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(strings.Repeat("a", i+1)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "recording pass", func() bool { _, rec := syncer.counts(); return rec >= 1 })
	time.Sleep(200 * time.Millisecond)

	full, rec := syncer.counts()
	if full != 1 {
		t.Errorf("full syncs = %d, want 1", full)
	}
	if rec != 1 {
		t.Errorf("recording passes = %d, want 1", rec)
	}
	if syncer.recordings[0] != SourceWatch {
		t.Errorf("source = %q, want %q", syncer.recordings[0], SourceWatch)
	}
}

func TestDaemon_CallLogTriggersFullSync(t *testing.T) {
	exportDir := t.TempDir()
	callLog := filepath.Join(exportDir, "calllog.csv")
	if err := os.WriteFile(callLog, []byte("number\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	syncer := &fakeSyncer{}
	var mu sync.Mutex
	var results []string
	d, err := New(syncer, nil, []string{filepath.Join(exportDir, "missing")}, Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 50 * time.Millisecond,
		IsAudio:          isAudio,
		CallLog:          callLog,
		OnResult: func(res syncpass.Result, err error) {
			mu.Lock()
			results = append(results, res.RunID)
			mu.Unlock()
		},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	waitFor(t, "startup sync", func() bool { full, _ := syncer.counts(); return full == 1 })
	time.Sleep(50 * time.Millisecond)

	// A sibling of the call log is not a recording directory.
	if err := os.WriteFile(filepath.Join(exportDir, "other.m4a"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(callLog, []byte("number\n111\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "call log sync", func() bool { full, _ := syncer.counts(); return full == 2 })
	time.Sleep(100 * time.Millisecond)

	if _, rec := syncer.counts(); rec != 0 {
		t.Errorf("recording passes = %d, want 0", rec)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 || results[0] != SourceStartup || results[1] != SourceWatch {
		t.Errorf("OnResult sources = %v", results)
	}
}

func TestDaemon_PeriodicSyncAndSweep(t *testing.T) {
	syncer := &fakeSyncer{}
	sweeper := &fakeSweeper{}
	d, err := New(syncer, sweeper, nil, Config{
		SyncInterval:     30 * time.Millisecond,
		DebounceInterval: time.Second,
		SweepInterval:    30 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := startDaemon(t, d)
	defer stop()

	waitFor(t, "timer syncs", func() bool { full, _ := syncer.counts(); return full >= 3 })
	waitFor(t, "sweeps", func() bool { return sweeper.count() >= 2 })

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.full[0] != SourceStartup || syncer.full[1] != SourceTimer {
		t.Errorf("sources = %v", syncer.full)
	}
}

func TestTakeDueChanges(t *testing.T) {
	d := &Daemon{
		config:      Config{DebounceInterval: time.Second, CallLog: "/export/calllog.csv"},
		changeQueue: make(map[string]time.Time),
	}
	now := time.Now()

	tests := []struct {
		name     string
		queue    map[string]time.Time
		wantFull bool
		wantDue  bool
		wantLeft int
	}{
		{"empty", nil, false, false, 0},
		{"recent change waits", map[string]time.Time{"/rec/a.m4a": now}, false, false, 1},
		{"quiet recording", map[string]time.Time{"/rec/a.m4a": now.Add(-2 * time.Second)}, false, true, 0},
		{"quiet call log", map[string]time.Time{
			"/export/calllog.csv": now.Add(-2 * time.Second),
			"/rec/b.m4a":          now,
		}, true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d.changeQueue = make(map[string]time.Time)
			for k, v := range tt.queue {
				d.changeQueue[k] = v
			}
			full, due := d.takeDueChanges(now)
			if full != tt.wantFull || due != tt.wantDue {
				t.Errorf("takeDueChanges() = (%v, %v), want (%v, %v)", full, due, tt.wantFull, tt.wantDue)
			}
			if len(d.changeQueue) != tt.wantLeft {
				t.Errorf("queue left = %d, want %d", len(d.changeQueue), tt.wantLeft)
			}
		})
	}
}

func TestNew_NilSyncer(t *testing.T) {
	if _, err := New(nil, nil, nil, Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error for nil syncer")
	}
}
