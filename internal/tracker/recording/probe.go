package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/spf13/afero"
	"github.com/tcolgate/mp3"
)

// ErrUnsupported is returned when a file's duration cannot be decoded
// because its container is not one the prober understands.
var ErrUnsupported = errors.New("unsupported audio format")

// DurationProber reads the playback duration of an audio file.
type DurationProber interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// AudioProber decodes WAV and MP3 headers through an afero filesystem.
type AudioProber struct {
	fs afero.Fs
}

// NewAudioProber creates an AudioProber reading from fs.
func NewAudioProber(fs afero.Fs) *AudioProber {
	return &AudioProber{fs: fs}
}

// Probe implements DurationProber.
func (p *AudioProber) Probe(ctx context.Context, path string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".wav" && ext != ".mp3" {
		return 0, ErrUnsupported
	}

	f, err := p.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch ext {
	case ".wav":
		return wavDuration(f)
	default:
		return mp3Duration(ctx, f)
	}
}

func wavDuration(r io.ReadSeeker) (time.Duration, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read wav duration: %w", err)
	}
	return dur, nil
}

// mp3Duration sums frame durations; MP3 has no reliable length header.
func mp3Duration(ctx context.Context, r io.Reader) (time.Duration, error) {
	d := mp3.NewDecoder(r)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("failed to decode mp3 frame: %w", err)
		}
		total += frame.Duration()
		frames++
		if frames%1024 == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	if frames == 0 {
		return 0, fmt.Errorf("no mp3 frames found")
	}
	return total, nil
}

// BreakerSettings tunes the probe circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
	Interval         time.Duration
}

// DefaultBreakerSettings returns the defaults used by the CLI.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		Interval:         time.Minute,
	}
}

type probeKey struct {
	path string
	size int64
	mod  int64
}

// GuardedProber caches probe results and stops probing for a cooldown once
// the underlying storage fails repeatedly. Unsupported formats do not count
// as failures.
type GuardedProber struct {
	fs     afero.Fs
	inner  DurationProber
	cb     *gobreaker.CircuitBreaker[time.Duration]
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[probeKey]time.Duration
}

// NewGuardedProber wraps inner with a cache and a circuit breaker.
func NewGuardedProber(fs afero.Fs, inner DurationProber, s BreakerSettings, logger zerolog.Logger) *GuardedProber {
	g := &GuardedProber{
		fs:     fs,
		inner:  inner,
		logger: logger.With().Str("component", "probe").Logger(),
		cache:  make(map[probeKey]time.Duration),
	}
	g.cb = gobreaker.NewCircuitBreaker[time.Duration](gobreaker.Settings{
		Name:        "recording-probe",
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnsupported) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("probe breaker state changed")
		},
	})
	return g
}

// Probe implements DurationProber.
func (g *GuardedProber) Probe(ctx context.Context, path string) (time.Duration, error) {
	key := probeKey{path: path}
	if info, err := g.fs.Stat(path); err == nil {
		key.size = info.Size()
		key.mod = info.ModTime().UnixNano()
	}

	g.mu.Lock()
	if d, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return d, nil
	}
	g.mu.Unlock()

	d, err := g.cb.Execute(func() (time.Duration, error) {
		return g.inner.Probe(ctx, path)
	})
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	g.cache[key] = d
	g.mu.Unlock()
	return d, nil
}

// State reports the breaker state for diagnostics.
func (g *GuardedProber) State() gobreaker.State {
	return g.cb.State()
}
