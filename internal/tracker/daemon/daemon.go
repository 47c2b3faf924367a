// Package daemon keeps the store current without user interaction.
//
// The daemon:
//  1. Runs a full sync on start and then on a fixed interval
//  2. Watches the recording directories and runs a recording pass once new
//     files have stopped arriving
//  3. Watches the call log export and runs a full sync when it changes
//  4. Periodically sweeps processing markers left by crashed passes
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
)

// Syncer runs sync passes. *sync.Orchestrator satisfies it.
type Syncer interface {
	Sync(ctx context.Context, source string) (syncpass.Result, error)
	SyncRecordings(ctx context.Context, source string) (syncpass.Result, error)
}

// Sweeper clears abandoned processing markers. *db.DB satisfies it.
type Sweeper interface {
	SweepStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a full sync runs
	SyncInterval time.Duration

	// DebounceInterval is how long a watched path must stay quiet before
	// its change is processed. This batches a recorder's rapid writes.
	DebounceInterval time.Duration

	// SweepInterval is how often stale processing markers are swept
	SweepInterval time.Duration

	// StaleTimeout is the age after which a processing marker is abandoned
	StaleTimeout time.Duration

	// IsAudio filters recording directory events (nil accepts all)
	IsAudio func(name string) bool

	// CallLog is the call log export to watch (optional)
	CallLog string

	// OnResult is called after every pass (optional)
	OnResult func(syncpass.Result, error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:     15 * time.Minute,
		DebounceInterval: 2 * time.Second,
		SweepInterval:    5 * time.Minute,
		StaleTimeout:     10 * time.Minute,
	}
}

// Source labels recorded on sync runs started by the daemon.
const (
	SourceStartup = "daemon-start"
	SourceTimer   = "daemon-timer"
	SourceWatch   = "daemon-watch"
)

// Daemon watches recording directories and schedules sync passes.
type Daemon struct {
	syncer  Syncer
	sweeper Sweeper
	dirs    []string
	config  Config
	logger  zerolog.Logger

	watcher *fsnotify.Watcher

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a daemon watching dirs.
func New(syncer Syncer, sweeper Sweeper, dirs []string, config Config, logger zerolog.Logger) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	def := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = def.StaleTimeout
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Daemon{
		syncer:      syncer,
		sweeper:     sweeper,
		dirs:        dirs,
		config:      config,
		logger:      logger.With().Str("component", "daemon").Logger(),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Run performs an initial sync, starts watching and blocks until ctx is
// cancelled. Missing directories are skipped with a warning.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.watcher.Close()

	d.logger.Info().Strs("dirs", d.dirs).Msg("starting daemon")
	d.runPass(ctx, true, SourceStartup)

	watched := 0
	for _, dir := range d.dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			d.logger.Warn().Str("dir", dir).Msg("recording directory not found, not watching")
			continue
		}
		if err := d.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watched++
	}
	if d.config.CallLog != "" {
		// Watch the parent so atomic replacements of the file are seen.
		if err := d.watcher.Add(filepath.Dir(d.config.CallLog)); err != nil {
			return fmt.Errorf("failed to watch call log: %w", err)
		}
	}
	d.logger.Info().Int("dirs", watched).Str("call_log", d.config.CallLog).Msg("watching")

	d.wg.Add(4)
	go d.watchFileEvents(ctx)
	go d.processChangeQueue(ctx)
	go d.periodicSync(ctx)
	go d.periodicSweep(ctx)

	<-ctx.Done()
	d.logger.Info().Msg("shutdown signal received")
	d.watcher.Close()
	d.wg.Wait()
	d.logger.Info().Msg("daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			// Only care about Create, Write, Rename
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !d.relevant(event.Name) {
				continue
			}
			d.logger.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("file event")
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (d *Daemon) relevant(path string) bool {
	if d.isCallLog(path) {
		return true
	}
	if filepath.Clean(filepath.Dir(path)) == filepath.Clean(filepath.Dir(d.config.CallLog)) && !d.watchesDir(filepath.Dir(path)) {
		// Sibling of the call log in a directory watched only for it.
		return false
	}
	return d.config.IsAudio == nil || d.config.IsAudio(filepath.Base(path))
}

func (d *Daemon) isCallLog(path string) bool {
	return d.config.CallLog != "" && filepath.Clean(path) == filepath.Clean(d.config.CallLog)
}

func (d *Daemon) watchesDir(dir string) bool {
	for _, w := range d.dirs {
		if filepath.Clean(w) == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// queueChange adds a path to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if full, due := d.takeDueChanges(time.Now()); due {
				source := SourceWatch
				d.runPass(ctx, full, source)
			}
		}
	}
}

// takeDueChanges removes changes that have been quiet for the debounce
// interval. due reports whether any were taken; full whether the call log
// was among them.
func (d *Daemon) takeDueChanges(now time.Time) (full, due bool) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = true
		if d.isCallLog(path) {
			full = true
		}
		delete(d.changeQueue, path)
	}
	return full, due
}

// periodicSync runs a full sync on every tick.
func (d *Daemon) periodicSync(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runPass(ctx, true, SourceTimer)
		}
	}
}

// periodicSweep clears processing markers between passes.
func (d *Daemon) periodicSweep(ctx context.Context) {
	defer d.wg.Done()
	if d.sweeper == nil {
		return
	}

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.sweeper.SweepStaleProcessing(ctx, d.config.StaleTimeout)
			if err != nil {
				d.logger.Warn().Err(err).Msg("failed to sweep stale processing markers")
				continue
			}
			if n > 0 {
				d.logger.Info().Int64("released", n).Msg("swept stale processing markers")
			}
		}
	}
}

func (d *Daemon) runPass(ctx context.Context, full bool, source string) {
	var (
		res syncpass.Result
		err error
	)
	if full {
		res, err = d.syncer.Sync(ctx, source)
	} else {
		res, err = d.syncer.SyncRecordings(ctx, source)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.logger.Error().Err(err).Str("source", source).Msg("sync pass failed")
	}
	if res.AlreadyRunning {
		d.logger.Debug().Str("source", source).Msg("pass already running, skipped")
		return
	}
	if d.config.OnResult != nil {
		d.config.OnResult(res, err)
	}
}
