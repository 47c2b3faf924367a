package recording

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/phone"
)

// Scoring thresholds.
const (
	prefilterWindow = 2 * time.Hour

	filenameExactWindow  = 5 * time.Minute
	filenameRejectWindow = 2 * time.Hour

	noIdentityMaxDelta     = 5 * time.Minute
	uncorroboratedMaxDelta = 4 * time.Hour
	absoluteMaxDelta       = 24 * time.Hour

	durationProbeFloor = 10
	minScore           = 30

	phoneSuffixLen = 9
)

// Call is the subset of a call record the matcher needs.
type Call struct {
	Date        time.Time
	Duration    time.Duration
	Phone       string
	ContactName string
}

// Match is the winning candidate for a call.
type Match struct {
	File  File
	Score int
	Delta time.Duration
}

// Matcher scores candidate recordings against a call.
type Matcher struct {
	prober DurationProber
	loc    *time.Location
	logger zerolog.Logger
}

// NewMatcher creates a Matcher. prober may be nil, in which case duration
// never contributes to the score. loc is the zone filename dates are
// written in; nil means time.Local.
func NewMatcher(prober DurationProber, loc *time.Location, logger zerolog.Logger) *Matcher {
	if loc == nil {
		loc = time.Local
	}
	return &Matcher{
		prober: prober,
		loc:    loc,
		logger: logger.With().Str("component", "matcher").Logger(),
	}
}

// Find returns the best-scoring candidate for call, or false when no
// candidate clears every rejection rule.
func (m *Matcher) Find(ctx context.Context, call Call, candidates []File) (Match, bool) {
	id := newIdentity(call)

	var (
		best  Match
		found bool
	)
	for _, f := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !id.prefilter(f, call.Date) {
			continue
		}
		c, ok := m.score(ctx, call, id, f)
		if !ok {
			continue
		}
		if !found || c.Score > best.Score || (c.Score == best.Score && c.Delta < best.Delta) {
			best, found = c, true
		}
	}

	if found {
		m.logger.Debug().
			Str("file", best.File.Name).
			Int("score", best.Score).
			Dur("delta", best.Delta).
			Msg("matched recording")
	}
	return best, found
}

func (m *Matcher) score(ctx context.Context, call Call, id identity, f File) (Match, bool) {
	score := 0

	identityMatch := false
	switch {
	case id.phoneFull(f.Name):
		score += 40
		identityMatch = true
	case id.phoneSuffix(f.Name):
		score += 20
		identityMatch = true
	}
	if id.nameMatch(f.Name) {
		score += 25
		identityMatch = true
	}

	delta := absDur(f.ModTime.Sub(call.Date))
	corroborated := false
	if fd, ok := ParseFilenameDate(f.Name, m.loc); ok {
		fdDelta := absDur(fd.Sub(call.Date))
		switch {
		case fdDelta > filenameRejectWindow:
			// Names survive copies; mtime does not. A far-off name date is conclusive.
			return Match{}, false
		case fdDelta <= filenameExactWindow:
			score += 40
			delta = fdDelta
			corroborated = true
		default:
			// Scored on mtime, but a name date nearer than mtime still
			// bounds the rejection windows.
			score += mtimeScore(delta)
			delta = min(delta, fdDelta)
		}
	} else {
		score += mtimeScore(delta)
	}

	if score > durationProbeFloor && m.prober != nil {
		score += m.durationScore(ctx, call.Duration, f)
	}

	switch {
	case !identityMatch && delta > noIdentityMaxDelta:
		return Match{}, false
	case identityMatch && delta > uncorroboratedMaxDelta && !corroborated:
		return Match{}, false
	case delta > absoluteMaxDelta:
		return Match{}, false
	case score < minScore:
		return Match{}, false
	}
	return Match{File: f, Score: score, Delta: delta}, true
}

func (m *Matcher) durationScore(ctx context.Context, want time.Duration, f File) int {
	got, err := m.prober.Probe(ctx, f.Path)
	if err != nil {
		m.logger.Debug().Err(err).Str("file", f.Name).Msg("duration probe failed")
		return 0
	}
	diff := absDur(got - want)
	switch {
	case diff < time.Second:
		return 50
	case diff < 5*time.Second:
		return 30
	case diff < 10*time.Second:
		return 10
	case diff > time.Minute:
		return -20
	}
	return 0
}

func mtimeScore(delta time.Duration) int {
	switch {
	case delta <= 2*time.Minute:
		return 30
	case delta <= 15*time.Minute:
		return 15
	case delta <= time.Hour:
		return 5
	}
	return 0
}

// identity holds the normalized phone and name tokens of a call.
type identity struct {
	digits string
	suffix string
	tokens []string
}

func newIdentity(call Call) identity {
	var id identity
	if d := phone.Digits(call.Phone); len(d) >= phone.MinMatchDigits {
		id.digits = d
		if len(d) > phoneSuffixLen {
			id.suffix = d[len(d)-phoneSuffixLen:]
		}
	}
	for _, tok := range strings.Fields(strings.ToLower(call.ContactName)) {
		if utf8.RuneCountInString(tok) > 2 {
			id.tokens = append(id.tokens, tok)
		}
	}
	return id
}

func (id identity) phoneFull(name string) bool {
	return id.digits != "" && strings.Contains(name, id.digits)
}

func (id identity) phoneSuffix(name string) bool {
	return id.suffix != "" && strings.Contains(name, id.suffix)
}

func (id identity) nameMatch(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range id.tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func (id identity) prefilter(f File, callDate time.Time) bool {
	return absDur(f.ModTime.Sub(callDate)) <= prefilterWindow ||
		id.phoneFull(f.Name) || id.phoneSuffix(f.Name) || id.nameMatch(f.Name)
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
