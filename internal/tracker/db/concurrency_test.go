package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// latencyStats summarizes query latencies from a concurrent run.
type latencyStats struct {
	Min, Max, Mean, P50, P95, P99 time.Duration
	Queries                       int
}

func computeLatencyStats(durations []time.Duration) latencyStats {
	if len(durations) == 0 {
		return latencyStats{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return latencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(sorted)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Queries: len(sorted),
	}
}

// TestConcurrentReadersDuringImport runs list and count queries from several
// goroutines while one writer imports calls and applies recording results.
// Every read must succeed; WAL keeps readers off the writer's lock.
func TestConcurrentReadersDuringImport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}
	db := setupTestDB(t)
	ctx := context.Background()

	const (
		batches   = 20
		batchSize = 25
		readers   = 8
	)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()

	// One connection per reader plus the writer.
	db.RawDB().SetMaxOpenConns(readers + 1)

	done := make(chan struct{})
	var (
		mu        sync.Mutex
		latencies []time.Duration
		readErrs  []error
		wg        sync.WaitGroup
	)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				start := time.Now()
				var err error
				if r%2 == 0 {
					_, err = db.ListCalls(ctx, CallFilter{RecordingStatus: schema.RecordingNotFound})
				} else {
					_, err = db.GetStatusCounts(ctx)
				}
				elapsed := time.Since(start)

				mu.Lock()
				latencies = append(latencies, elapsed)
				if err != nil {
					readErrs = append(readErrs, err)
				}
				mu.Unlock()
			}
		}(r)
	}

	var writeErr error
	for b := 0; b < batches && writeErr == nil; b++ {
		calls := make([]*schema.CallRecord, 0, batchSize)
		results := make([]RecordingResult, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			n := b*batchSize + i
			c := newCall(fmt.Sprintf("%d", n), fmt.Sprintf("+1555%07d", n%50), schema.CallIncoming,
				base+int64(n)*60_000, 30)
			calls = append(calls, c)
			results = append(results, RecordingResult{CompositeID: c.CompositeID})
		}
		if _, err := db.InsertCalls(ctx, calls); err != nil {
			writeErr = fmt.Errorf("batch %d insert: %w", b, err)
			break
		}
		if err := db.ApplyRecordingResults(ctx, results); err != nil {
			writeErr = fmt.Errorf("batch %d recording results: %w", b, err)
		}
	}
	close(done)
	wg.Wait()

	if writeErr != nil {
		t.Fatalf("writer failed: %v", writeErr)
	}
	for _, err := range readErrs {
		t.Errorf("read failed: %v", err)
	}

	counts, err := db.GetStatusCounts(ctx)
	if err != nil {
		t.Fatalf("GetStatusCounts() failed: %v", err)
	}
	if counts.Calls != batches*batchSize {
		t.Errorf("expected %d calls, got %d", batches*batchSize, counts.Calls)
	}
	if got := counts.Recording[schema.RecordingNotFound]; got != batches*batchSize {
		t.Errorf("expected %d not_found recordings, got %d", batches*batchSize, got)
	}

	stats := computeLatencyStats(latencies)
	t.Logf("reads=%d min=%v p50=%v p95=%v p99=%v max=%v",
		stats.Queries, stats.Min, stats.P50, stats.P95, stats.P99, stats.Max)
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P95 != 96*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("percentiles = %v/%v/%v", s.P50, s.P95, s.P99)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("mean = %v", s.Mean)
	}
	if computeLatencyStats(nil).Queries != 0 {
		t.Error("empty input should give zero stats")
	}
}
