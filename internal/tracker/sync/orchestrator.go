package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/importer"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/recsync"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

// Phases recorded on a running pass.
const (
	PhaseSweep      = "sweep"
	PhaseImport     = "import"
	PhaseRecordings = "recordings"
)

// OpImport is the progress operation name of the import phase.
const OpImport = "import_call_log"

// Importer runs one import pass. *importer.Importer satisfies it.
type Importer interface {
	Import(ctx context.Context) (importer.Result, error)
}

// RecordingRunner resolves recordings. *recsync.Coordinator satisfies it.
type RecordingRunner interface {
	Run(ctx context.Context, calls []*schema.CallRecord) (recsync.Result, error)
}

// Store is the subset of *db.DB the orchestrator uses.
type Store interface {
	SweepStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error)
	ListCalls(ctx context.Context, f db.CallFilter) ([]*schema.CallRecord, error)
	StartRun(ctx context.Context, id, source string) error
	SetRunPhase(ctx context.Context, id, phase string) error
	FinishRun(ctx context.Context, run db.SyncRun) error
}

// Settings is the configuration the orchestrator consumes.
type Settings interface {
	RecordingEnabled() bool
}

// Config tunes the orchestrator.
type Config struct {
	// StaleTimeout is the age after which a processing marker is abandoned.
	StaleTimeout time.Duration
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{StaleTimeout: 10 * time.Minute}
}

// Result summarizes one pass.
type Result struct {
	RunID string `json:"run_id,omitempty"`
	// AlreadyRunning is set when another pass held the lock; nothing ran.
	AlreadyRunning bool            `json:"already_running,omitempty"`
	Swept          int64           `json:"swept"`
	Import         importer.Result `json:"import"`
	Recordings     recsync.Result  `json:"recordings"`
	Duration       time.Duration   `json:"duration"`
}

// Orchestrator sequences import, aggregation and recording passes. At most
// one pass runs at a time; concurrent callers return immediately.
type Orchestrator struct {
	store      Store
	importer   Importer
	recordings RecordingRunner
	settings   Settings
	reporter   progress.Reporter
	cfg        Config
	logger     zerolog.Logger

	sem *semaphore.Weighted
}

// New creates an Orchestrator. reporter may be nil.
func New(store Store, imp Importer, rec RecordingRunner, settings Settings, reporter progress.Reporter, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultConfig().StaleTimeout
	}
	return &Orchestrator{
		store:      store,
		importer:   imp,
		recordings: rec,
		settings:   settings,
		reporter:   progress.OrNop(reporter),
		cfg:        cfg,
		logger:     logger.With().Str("component", "sync").Logger(),
		sem:        semaphore.NewWeighted(1),
	}
}

// Sync runs a full pass: sweep stale markers, import the call log (which
// aggregates persons), then resolve pending recordings. source labels the
// run record ("cli", "daemon", ...).
func (o *Orchestrator) Sync(ctx context.Context, source string) (Result, error) {
	return o.run(ctx, source, true)
}

// SyncRecordings runs only the sweep and recording phases.
func (o *Orchestrator) SyncRecordings(ctx context.Context, source string) (Result, error) {
	return o.run(ctx, source, false)
}

// Running reports whether a pass is in flight.
func (o *Orchestrator) Running() bool {
	if o.sem.TryAcquire(1) {
		o.sem.Release(1)
		return false
	}
	return true
}

func (o *Orchestrator) run(ctx context.Context, source string, withImport bool) (res Result, err error) {
	if !o.sem.TryAcquire(1) {
		syncRunsRejected.Inc()
		o.logger.Debug().Str("source", source).Msg("sync already running")
		return Result{AlreadyRunning: true}, nil
	}
	defer o.sem.Release(1)
	syncInFlight.Set(1)
	defer syncInFlight.Set(0)

	start := time.Now()
	res.RunID = uuid.NewString()
	run := db.SyncRun{ID: res.RunID, Source: source, Status: db.RunRunning}
	if err := o.store.StartRun(ctx, run.ID, source); err != nil {
		return res, err
	}

	defer func() {
		res.Duration = time.Since(start)
		run.Status = db.RunCompleted
		switch {
		case err != nil:
			run.Status = db.RunFailed
			run.Error = err.Error()
		case res.Import.Skipped != "":
			run.Status = db.RunSkipped
			run.Error = res.Import.Skipped
		}
		run.Imported = res.Import.Inserted
		run.PersonsUpdated = res.Import.Persons.Created + res.Import.Persons.Updated
		run.RecordingsFound = res.Recordings.Found
		run.RecordingsNotFound = res.Recordings.NotFound

		// The run record outlives a cancelled pass.
		if ferr := o.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
			o.logger.Error().Err(ferr).Str("run", run.ID).Msg("failed to record sync run")
		}
		syncRunsTotal.WithLabelValues(run.Status).Inc()
		syncDuration.Observe(res.Duration.Seconds())

		ev := o.logger.Info()
		if err != nil {
			ev = o.logger.Error().Err(err)
		}
		ev.Str("run", run.ID).
			Str("source", source).
			Str("status", run.Status).
			Dur("duration", res.Duration).
			Msg("sync finished")
	}()

	run.Phase = PhaseSweep
	if err := o.store.SetRunPhase(ctx, run.ID, run.Phase); err != nil {
		return res, err
	}
	swept, err := o.store.SweepStaleProcessing(ctx, o.cfg.StaleTimeout)
	if err != nil {
		return res, err
	}
	res.Swept = swept
	staleProcessingSwept.Add(float64(swept))

	if withImport {
		run.Phase = PhaseImport
		if err := o.store.SetRunPhase(ctx, run.ID, run.Phase); err != nil {
			return res, err
		}
		imp, err := o.importPhase(ctx)
		res.Import = imp
		if err != nil {
			return res, err
		}
		if imp.Skipped != "" {
			return res, nil
		}
	}

	if !o.settings.RecordingEnabled() {
		return res, nil
	}

	run.Phase = PhaseRecordings
	if err := o.store.SetRunPhase(ctx, run.ID, run.Phase); err != nil {
		return res, err
	}
	pending, err := o.store.ListCalls(ctx, db.CallFilter{RecordingStatus: schema.RecordingPending, Idle: true})
	if err != nil {
		return res, err
	}
	rec, err := o.recordings.Run(ctx, pending)
	res.Recordings = rec
	recordingsMatched.WithLabelValues("found").Add(float64(rec.Found))
	recordingsMatched.WithLabelValues("not_found").Add(float64(rec.NotFound))
	recordingsMatched.WithLabelValues("not_applicable").Add(float64(rec.NotApplicable))
	if err != nil {
		return res, fmt.Errorf("recording pass: %w", err)
	}
	return res, nil
}

// importPhase runs the importer between progress start and end.
func (o *Orchestrator) importPhase(ctx context.Context) (res importer.Result, err error) {
	o.reporter.Start(OpImport, 0)
	defer func() {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			o.reporter.End(progress.StatusCancelled, err.Error())
		case err != nil:
			o.reporter.End(progress.StatusFailed, err.Error())
		case res.Skipped != "":
			o.reporter.End(progress.StatusCompleted, res.Skipped)
		default:
			o.reporter.End(progress.StatusCompleted, fmt.Sprintf("%d new calls", res.Inserted))
		}
	}()

	res, err = o.importer.Import(ctx)
	if err != nil {
		return res, fmt.Errorf("import: %w", err)
	}
	callsImported.Add(float64(res.Inserted))
	return res, nil
}
