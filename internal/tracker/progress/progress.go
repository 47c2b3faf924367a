// Package progress reports the state of long-running sync operations.
//
// Reporters are injected into the components that do work; nothing here
// holds global state.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the terminal state of an operation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Event is one progress notification.
type Event struct {
	Kind      string    `json:"kind"` // start, update, end
	Operation string    `json:"operation"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter receives progress for one operation at a time.
// Start is followed by any number of Update calls and exactly one End.
type Reporter interface {
	Start(operation string, total int)
	Update(done, total int, message string)
	End(status Status, message string)
}

// Nop discards all progress.
type Nop struct{}

func (Nop) Start(string, int)       {}
func (Nop) Update(int, int, string) {}
func (Nop) End(Status, string)      {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}

// LogReporter writes progress to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger

	mu        sync.Mutex
	operation string
	started   time.Time
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "progress").Logger()}
}

func (r *LogReporter) Start(operation string, total int) {
	r.mu.Lock()
	r.operation = operation
	r.started = time.Now()
	r.mu.Unlock()
	r.logger.Info().Str("op", operation).Int("total", total).Msg("started")
}

func (r *LogReporter) Update(done, total int, message string) {
	r.mu.Lock()
	op := r.operation
	r.mu.Unlock()
	r.logger.Debug().Str("op", op).Int("done", done).Int("total", total).Msg(message)
}

func (r *LogReporter) End(status Status, message string) {
	r.mu.Lock()
	op, started := r.operation, r.started
	r.mu.Unlock()

	ev := r.logger.Info()
	if status == StatusFailed {
		ev = r.logger.Warn()
	}
	ev.Str("op", op).Str("status", string(status)).Dur("elapsed", time.Since(started)).Msg(message)
}

// Func adapts a callback to a Reporter, stamping each event.
type Func func(Event)

func (f Func) Start(operation string, total int) {
	f(Event{Kind: "start", Operation: operation, Total: total, Timestamp: time.Now()})
}

func (f Func) Update(done, total int, message string) {
	f(Event{Kind: "update", Done: done, Total: total, Message: message, Timestamp: time.Now()})
}

func (f Func) End(status Status, message string) {
	f(Event{Kind: "end", Status: status, Message: message, Timestamp: time.Now()})
}

// Multi fans out to several reporters.
type Multi []Reporter

func (m Multi) Start(operation string, total int) {
	for _, r := range m {
		r.Start(operation, total)
	}
}

func (m Multi) Update(done, total int, message string) {
	for _, r := range m {
		r.Update(done, total, message)
	}
}

func (m Multi) End(status Status, message string) {
	for _, r := range m {
		r.End(status, message)
	}
}

// Recorder keeps every event in memory. Used by tests and the status command.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Start(operation string, total int) {
	r.record(Event{Kind: "start", Operation: operation, Total: total, Timestamp: time.Now()})
}

func (r *Recorder) Update(done, total int, message string) {
	r.record(Event{Kind: "update", Done: done, Total: total, Message: message, Timestamp: time.Now()})
}

func (r *Recorder) End(status Status, message string) {
	r.record(Event{Kind: "end", Status: status, Message: message, Timestamp: time.Now()})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the Kind of each recorded event, in order.
func (r *Recorder) Kinds() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
