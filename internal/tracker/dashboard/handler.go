package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/reconcile"
	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
)

// StatsData contains per-axis call counts
type StatsData struct {
	Calls     int            `json:"calls"`
	Persons   int            `json:"persons"`
	Sync      map[string]int `json:"sync"`
	Metadata  map[string]int `json:"metadata"`
	Recording map[string]int `json:"recording"`
}

// NewStatsData converts store counts for the wire.
func NewStatsData(c *db.StatusCounts) StatsData {
	s := StatsData{
		Calls:     c.Calls,
		Persons:   c.Persons,
		Sync:      make(map[string]int, len(c.Sync)),
		Metadata:  make(map[string]int, len(c.Metadata)),
		Recording: make(map[string]int, len(c.Recording)),
	}
	for k, v := range c.Sync {
		s.Sync[string(k)] = v
	}
	for k, v := range c.Metadata {
		s.Metadata[string(k)] = v
	}
	for k, v := range c.Recording {
		s.Recording[string(k)] = v
	}
	return s
}

// PendingData counts rows waiting to be pushed, per axis
type PendingData struct {
	NewCalls       int `json:"new_calls"`
	MetadataCalls  int `json:"metadata_calls"`
	RecordingCalls int `json:"recording_calls"`
	Persons        int `json:"persons"`
}

// ReconcilerPending adapts a reconcile.Reconciler to PendingSource.
type ReconcilerPending struct {
	R *reconcile.Reconciler
}

// PendingSummary implements PendingSource.
func (p ReconcilerPending) PendingSummary(ctx context.Context) (PendingData, error) {
	var out PendingData
	for axis, dst := range map[reconcile.Axis]*int{
		reconcile.AxisNew:       &out.NewCalls,
		reconcile.AxisMetadata:  &out.MetadataCalls,
		reconcile.AxisRecording: &out.RecordingCalls,
	} {
		calls, err := p.R.PendingCalls(ctx, axis)
		if err != nil {
			return out, err
		}
		*dst = len(calls)
	}
	persons, err := p.R.PendingPersons(ctx)
	if err != nil {
		return out, err
	}
	out.Persons = len(persons)
	return out, nil
}

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	RunID           string        `json:"run_id"`
	Imported        int           `json:"imported"`
	SmartSkipped    bool          `json:"smart_skipped"`
	RecordingsFound int           `json:"recordings_found"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
}

// Handler turns store changes, progress and sync results into dashboard
// messages. It implements progress.Reporter.
type Handler struct {
	server *Server
	logger zerolog.Logger

	// updates throttles progress updates; start and end always pass.
	updates *rate.Limiter
	// stats throttles status-count refreshes triggered by store changes.
	stats *rate.Limiter
	dirty chan struct{}

	mu        sync.Mutex
	operation string
}

// NewHandler creates a handler broadcasting through server.
func NewHandler(server *Server, logger zerolog.Logger) *Handler {
	return &Handler{
		server:  server,
		logger:  logger.With().Str("component", "dashboard").Logger(),
		updates: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		stats:   rate.NewLimiter(rate.Every(time.Second), 1),
		dirty:   make(chan struct{}, 1),
	}
}

// Run refreshes stats after store changes until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.dirty:
			if err := h.stats.Wait(ctx); err != nil {
				return
			}
			msg, err := h.server.statsMessage(ctx)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to refresh stats")
				continue
			}
			h.server.Broadcast(msg)
		}
	}
}

// OnChange is a db.Subscribe callback. It never blocks the writer.
func (h *Handler) OnChange(c db.Change) {
	h.send(MessageTypeChange, c)
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

// OnSyncComplete broadcasts a finished pass.
func (h *Handler) OnSyncComplete(res syncpass.Result, err error) {
	data := SyncCompleteData{
		RunID:           res.RunID,
		Imported:        res.Import.Inserted,
		SmartSkipped:    res.Import.SmartSkipped,
		RecordingsFound: res.Recordings.Found,
		Duration:        res.Duration,
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeSyncComplete, data)
}

// Start implements progress.Reporter.
func (h *Handler) Start(operation string, total int) {
	h.mu.Lock()
	h.operation = operation
	h.mu.Unlock()
	h.send(MessageTypeProgress, progress.Event{Kind: "start", Operation: operation, Total: total, Timestamp: time.Now()})
}

// Update implements progress.Reporter.
func (h *Handler) Update(done, total int, message string) {
	if !h.updates.Allow() {
		return
	}
	h.send(MessageTypeProgress, progress.Event{Kind: "update", Operation: h.currentOp(), Done: done, Total: total, Message: message, Timestamp: time.Now()})
}

// End implements progress.Reporter.
func (h *Handler) End(status progress.Status, message string) {
	h.send(MessageTypeProgress, progress.Event{Kind: "end", Operation: h.currentOp(), Status: status, Message: message, Timestamp: time.Now()})
}

func (h *Handler) currentOp() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.operation
}

func (h *Handler) send(typ MessageType, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal message data")
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
