// Package recsync attaches recording files to stored calls.
//
// Small batches run sequentially and re-list the recording directories for
// every call so files written moments ago are seen. Larger batches list the
// directories once and share that snapshot across all calls.
package recsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/recording"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// ProcessingMarker is the transient processing_status set while a call is matched.
const ProcessingMarker = "matching"

// OpRecordings is the progress operation name of a recording pass.
const OpRecordings = "match_recordings"

// Mode names how a batch was executed.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeBatch      Mode = "batch"
)

// Store is the subset of *db.DB the coordinator writes to.
type Store interface {
	ApplyRecordingResults(ctx context.Context, results []db.RecordingResult) error
	SetRecordingStatus(ctx context.Context, ids []string, status schema.RecordingSyncStatus) error
	MarkProcessing(ctx context.Context, ids []string, marker string) error
}

// Indexer lists candidate recordings. *recording.Resolver satisfies it.
type Indexer interface {
	BuildIndex(ctx context.Context) (*recording.Index, error)
}

// Finder picks the recording for a call. *recording.Matcher satisfies it.
type Finder interface {
	Find(ctx context.Context, call recording.Call, candidates []recording.File) (recording.Match, bool)
}

// Config tunes batching.
type Config struct {
	// SequentialMax is the largest batch run in sequential mode.
	SequentialMax int
	// SequentialFlush is the number of results buffered in sequential mode.
	SequentialFlush int
	// BatchFlush is the number of results buffered in batch mode.
	BatchFlush int
	// ProgressEvery reports progress at least every this many calls.
	ProgressEvery int
	// ProgressFraction reports progress at least every this fraction of the batch.
	ProgressFraction float64
	// ProgressInterval is the minimum time between progress updates.
	ProgressInterval time.Duration
}

// DefaultConfig returns the standard batching thresholds.
func DefaultConfig() Config {
	return Config{
		SequentialMax:    10,
		SequentialFlush:  10,
		BatchFlush:       50,
		ProgressEvery:    50,
		ProgressFraction: 0.05,
		ProgressInterval: 250 * time.Millisecond,
	}
}

// Result summarizes one run.
type Result struct {
	Mode          Mode     `json:"mode"`
	Scanned       int      `json:"scanned"`
	Found         int      `json:"found"`
	NotFound      int      `json:"not_found"`
	NotApplicable int      `json:"not_applicable"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Coordinator resolves recordings for batches of calls.
type Coordinator struct {
	store    Store
	indexer  Indexer
	finder   Finder
	reporter progress.Reporter
	cfg      Config
	logger   zerolog.Logger
}

// New creates a Coordinator. reporter may be nil.
func New(store Store, indexer Indexer, finder Finder, reporter progress.Reporter, cfg Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		indexer:  indexer,
		finder:   finder,
		reporter: progress.OrNop(reporter),
		cfg:      cfg,
		logger:   logger.With().Str("component", "recsync").Logger(),
	}
}

// Run resolves recordings for calls. Zero-duration calls are marked
// not_applicable without scanning. Results are flushed in chunks; on
// cancellation the buffered results are flushed before ctx.Err() is returned.
//
// Every run is one progress operation: Start, then updates, then exactly
// one End whatever the exit path.
func (c *Coordinator) Run(ctx context.Context, calls []*schema.CallRecord) (res Result, err error) {
	var skipped []string
	work := make([]*schema.CallRecord, 0, len(calls))
	for _, call := range calls {
		if call.Duration <= 0 {
			skipped = append(skipped, call.CompositeID)
			continue
		}
		work = append(work, call)
	}

	c.reporter.Start(OpRecordings, len(work))
	defer func() {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			c.reporter.End(progress.StatusCancelled, err.Error())
		case err != nil:
			c.reporter.End(progress.StatusFailed, err.Error())
		default:
			c.reporter.End(progress.StatusCompleted,
				fmt.Sprintf("%d found, %d not found", res.Found, res.NotFound))
		}
	}()

	if err := c.store.SetRecordingStatus(ctx, skipped, schema.RecordingNotApplicable); err != nil {
		return res, err
	}
	res.NotApplicable = len(skipped)

	if len(work) == 0 {
		return res, nil
	}

	ids := make([]string, len(work))
	for i, call := range work {
		ids[i] = call.CompositeID
	}
	if err := c.store.MarkProcessing(ctx, ids, ProcessingMarker); err != nil {
		return res, err
	}

	if len(work) <= c.cfg.SequentialMax {
		res.Mode = ModeSequential
		err = c.runSequential(ctx, work, &res)
		return res, err
	}
	res.Mode = ModeBatch
	err = c.runBatch(ctx, work, &res)
	return res, err
}

func (c *Coordinator) runSequential(ctx context.Context, calls []*schema.CallRecord, res *Result) error {
	b := newBuffer(c, c.cfg.SequentialFlush, res)
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return b.abort(ctx, calls[i:], err)
		}

		idx, err := c.indexer.BuildIndex(ctx)
		if err != nil {
			// Listing failed: leave the call pending for the next pass.
			c.logger.Warn().Err(err).Str("call", call.CompositeID).Msg("failed to list recordings")
			res.Warnings = append(res.Warnings, fmt.Sprintf("list recordings: %v", err))
			if err := b.release(ctx, call.CompositeID); err != nil {
				return err
			}
			continue
		}

		r := c.match(ctx, call, idx)
		if err := ctx.Err(); err != nil {
			// A cancelled match is not a not-found result.
			return b.abort(ctx, calls[i:], err)
		}
		if err := b.add(ctx, r); err != nil {
			return err
		}
		c.reporter.Update(i+1, len(calls), fmt.Sprintf("matched %d/%d recordings", i+1, len(calls)))
	}
	return b.flush(ctx)
}

func (c *Coordinator) runBatch(ctx context.Context, calls []*schema.CallRecord, res *Result) error {
	idx, err := c.indexer.BuildIndex(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to build recording index")
		res.Warnings = append(res.Warnings, fmt.Sprintf("build index: %v", err))
		return newBuffer(c, 1, res).abort(ctx, calls, nil)
	}
	defer idx.Invalidate()

	c.logger.Debug().Int("calls", len(calls)).Int("files", idx.Len()).Msg("batch recording sync")

	total := len(calls)
	step := c.cfg.ProgressEvery
	if frac := int(float64(total) * c.cfg.ProgressFraction); frac > 0 && frac < step {
		step = frac
	}
	if step <= 0 {
		step = 1
	}
	limiter := rate.NewLimiter(rate.Every(c.cfg.ProgressInterval), 1)

	b := newBuffer(c, c.cfg.BatchFlush, res)
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return b.abort(ctx, calls[i:], err)
		}
		r := c.match(ctx, call, idx)
		if err := ctx.Err(); err != nil {
			return b.abort(ctx, calls[i:], err)
		}
		if err := b.add(ctx, r); err != nil {
			return err
		}
		done := i + 1
		if (done%step == 0 || done == total) && (done == total || limiter.Allow()) {
			c.reporter.Update(done, total, fmt.Sprintf("matched %d/%d recordings", done, total))
		}
	}
	return b.flush(ctx)
}

func (c *Coordinator) match(ctx context.Context, call *schema.CallRecord, idx *recording.Index) db.RecordingResult {
	m, ok := c.finder.Find(ctx, recording.Call{
		Date:        call.CallTime(),
		Duration:    time.Duration(call.Duration) * time.Second,
		Phone:       call.PhoneNumber,
		ContactName: call.ContactName,
	}, idx.Files())
	if !ok {
		return db.RecordingResult{CompositeID: call.CompositeID}
	}
	return db.RecordingResult{CompositeID: call.CompositeID, Path: m.File.Path}
}

// buffer accumulates results and writes them in chunks.
type buffer struct {
	c       *Coordinator
	size    int
	res     *Result
	pending []db.RecordingResult
}

func newBuffer(c *Coordinator, size int, res *Result) *buffer {
	if size <= 0 {
		size = 1
	}
	return &buffer{c: c, size: size, res: res}
}

func (b *buffer) add(ctx context.Context, r db.RecordingResult) error {
	b.pending = append(b.pending, r)
	b.res.Scanned++
	if r.Path != "" {
		b.res.Found++
	} else {
		b.res.NotFound++
	}
	if len(b.pending) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *buffer) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.c.store.ApplyRecordingResults(ctx, b.pending); err != nil {
		return err
	}
	b.pending = b.pending[:0]
	return nil
}

// release clears the processing marker without recording an outcome.
func (b *buffer) release(ctx context.Context, ids ...string) error {
	return b.c.store.MarkProcessing(ctx, ids, "")
}

// abort flushes what was resolved, releases the remaining calls, and
// returns cause. Writes use a context detached from cancellation.
func (b *buffer) abort(ctx context.Context, remaining []*schema.CallRecord, cause error) error {
	wctx := context.WithoutCancel(ctx)
	if err := b.flush(wctx); err != nil {
		return err
	}
	ids := make([]string, len(remaining))
	for i, call := range remaining {
		ids[i] = call.CompositeID
	}
	if err := b.release(wctx, ids...); err != nil {
		return err
	}
	return cause
}
