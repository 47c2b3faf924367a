package importer

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// SimColumns are the vendor column names that carry the SIM subscription,
// in detection order.
var SimColumns = []string{"subscription_id", "sim_id", "sub_id", "simid", "phone_id", "sim_slot"}

// ProbeKind tells whether a SIM column was detected.
type ProbeKind int

const (
	ProbeNone ProbeKind = iota
	ProbeFound
)

// ProbeResult is the outcome of SIM column detection.
type ProbeResult struct {
	Kind   ProbeKind
	Column string
}

// Subscription reads the probed column from a row.
func (p ProbeResult) Subscription(r Row) (int, bool) {
	if p.Kind != ProbeFound {
		return 0, false
	}
	v, ok := r.Extra[p.Column]
	if !ok {
		for k, val := range r.Extra {
			if strings.EqualFold(k, p.Column) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// SimColumnProbe detects the SIM column once and caches the result.
// A failed detection is retried on the next call.
type SimColumnProbe struct {
	src Source

	mu     sync.Mutex
	done   bool
	result ProbeResult
}

// NewSimColumnProbe creates a probe over src.
func NewSimColumnProbe(src Source) *SimColumnProbe {
	return &SimColumnProbe{src: src}
}

// Detect returns the cached result, detecting it on first use.
func (p *SimColumnProbe) Detect(ctx context.Context) (ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.result, nil
	}

	cols, err := p.src.Columns(ctx)
	if err != nil {
		return ProbeResult{}, err
	}
	have := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c)] = struct{}{}
	}

	p.result = ProbeResult{Kind: ProbeNone}
	for _, name := range SimColumns {
		if _, ok := have[name]; ok {
			p.result = ProbeResult{Kind: ProbeFound, Column: name}
			break
		}
	}
	p.done = true
	return p.result, nil
}
