package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/miniclick/calltrack/internal/config"
	"github.com/miniclick/calltrack/internal/logging"
	"github.com/miniclick/calltrack/internal/tracker/aggregate"
	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/importer"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/recording"
	"github.com/miniclick/calltrack/internal/tracker/recsync"
	"github.com/miniclick/calltrack/internal/tracker/reconcile"
	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
	"github.com/miniclick/calltrack/internal/ui"
)

// app holds the components one command invocation shares.
type app struct {
	settings *config.Settings
	logger   zerolog.Logger
	store    *db.DB

	closeLog func() error
	resolver *recording.Resolver
}

// loadSettings reads the configuration named by the global flags.
func loadSettings() (*config.Settings, error) {
	return config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
}

// newApp loads settings, configures logging and opens the store.
func newApp(ctx context.Context) (*app, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = settings.LogLevel
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logCfg.Format = settings.LogFormat
	logCfg.File = settings.LogFile
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(settings.DBPath(), db.WithLogger(logger))
	if err != nil {
		closeLog()
		return nil, err
	}
	if err := store.InitSchemaContext(ctx); err != nil {
		store.Close()
		closeLog()
		return nil, err
	}
	// A previous process that died mid-pass leaves its run marked running.
	if n, err := store.FailStaleRuns(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to close stale sync runs")
	} else if n > 0 {
		logger.Info().Int64("runs", n).Msg("marked interrupted sync runs as failed")
	}

	return &app{
		settings: settings,
		logger:   logger,
		store:    store,
		closeLog: closeLog,
	}, nil
}

// Close releases the store and flushes logs.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close store")
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// Resolver returns the recording directory resolver over the OS filesystem.
func (a *app) Resolver() *recording.Resolver {
	if a.resolver == nil {
		a.resolver = recording.NewResolver(afero.NewOsFs(), a.settings.Recordings.Root, recording.ResolverOptions{
			Manufacturer: a.settings.Recordings.Manufacturer,
			Settings:     a.settings,
			State:        a.store,
			Logger:       a.logger,
		})
	}
	return a.resolver
}

// Matcher builds a matcher whose duration probes are guarded by a breaker.
func (a *app) Matcher() (*recording.Matcher, error) {
	loc, err := a.settings.Location()
	if err != nil {
		return nil, err
	}
	fs := a.Resolver().Fs()
	prober := recording.NewGuardedProber(fs, recording.NewAudioProber(fs), recording.DefaultBreakerSettings(), a.logger)
	return recording.NewMatcher(prober, loc, a.logger), nil
}

// Importer builds the call log importer reading the configured export.
func (a *app) Importer() (*importer.Importer, error) {
	if a.settings.CallLog == "" {
		return nil, fmt.Errorf("call_log is not configured (run 'calltrack setup')")
	}
	if _, err := os.Stat(a.settings.CallLog); err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	agg := aggregate.New(a.store, a.logger)
	return importer.New(importer.NewFileSource(a.settings.CallLog), a.store, agg, a.settings, a.logger), nil
}

// Coordinator builds the recording batch coordinator.
func (a *app) Coordinator(reporter progress.Reporter) (*recsync.Coordinator, error) {
	matcher, err := a.Matcher()
	if err != nil {
		return nil, err
	}
	return recsync.New(a.store, a.Resolver(), matcher, reporter, recsync.DefaultConfig(), a.logger), nil
}

// Orchestrator wires a full sync pass.
func (a *app) Orchestrator(reporter progress.Reporter) (*syncpass.Orchestrator, error) {
	imp, err := a.Importer()
	if err != nil {
		return nil, err
	}
	coord, err := a.Coordinator(reporter)
	if err != nil {
		return nil, err
	}
	return syncpass.New(a.store, imp, coord, a.settings, reporter, syncpass.DefaultConfig(), a.logger), nil
}

// Reconciler builds the remote reconciler.
func (a *app) Reconciler() *reconcile.Reconciler {
	return reconcile.New(a.store, a.logger)
}

// reporter returns the progress sink for interactive commands.
func (a *app) reporter() progress.Reporter {
	if jsonOutput {
		return progress.NewLogReporter(a.logger)
	}
	return ui.NewTermReporter(os.Stderr)
}
