package schema

import (
	"fmt"
	"time"
)

// Exclusion is the single source of truth for how a contact is excluded.
type Exclusion int

const (
	// Tracked contacts are listed and synced.
	Tracked Exclusion = iota
	// ListOnlyExcluded contacts are hidden from lists but still synced.
	ListOnlyExcluded
	// FullyExcluded contacts are hidden and never synced.
	FullyExcluded
)

// String implements fmt.Stringer.
func (e Exclusion) String() string {
	switch e {
	case Tracked:
		return "tracked"
	case ListOnlyExcluded:
		return "list_only"
	case FullyExcluded:
		return "full"
	default:
		return fmt.Sprintf("exclusion(%d)", int(e))
	}
}

// ParseExclusion parses the String form of an Exclusion.
func ParseExclusion(s string) (Exclusion, error) {
	switch s {
	case "tracked", "":
		return Tracked, nil
	case "list_only":
		return ListOnlyExcluded, nil
	case "full":
		return FullyExcluded, nil
	}
	return Tracked, fmt.Errorf("unknown exclusion %q", s)
}

// ExclusionFromFlags maps the legacy boolean pair onto an Exclusion.
// Excluding a contact from sync implies hiding it, so a sync-only
// exclusion is promoted to FullyExcluded.
func ExclusionFromFlags(excludeFromSync, excludeFromList bool) Exclusion {
	switch {
	case excludeFromSync:
		return FullyExcluded
	case excludeFromList:
		return ListOnlyExcluded
	default:
		return Tracked
	}
}

// ExcludeFromSync is the legacy projection of the sync flag.
func (e Exclusion) ExcludeFromSync() bool { return e == FullyExcluded }

// ExcludeFromList is the legacy projection of the list flag.
func (e Exclusion) ExcludeFromList() bool { return e != Tracked }

// IsExcluded is the legacy combined flag (both flags set).
func (e Exclusion) IsExcluded() bool { return e.ExcludeFromSync() && e.ExcludeFromList() }

// PersonRecord is one contact keyed by normalized phone number.
//
// The counters are always recomputed from stored calls, never incremented.
type PersonRecord struct {
	PhoneNumber string `json:"phone_number"`

	// ===== Denormalized last call =====
	LastCallType        CallType `json:"last_call_type,omitempty"`
	LastCallDuration    int64    `json:"last_call_duration"`
	LastCallDate        int64    `json:"last_call_date"`
	LastRecordingPath   string   `json:"last_recording_path,omitempty"`
	LastCallCompositeID string   `json:"last_call_composite_id,omitempty"`

	// ===== Aggregates =====
	TotalCalls    int   `json:"total_calls"`
	TotalIncoming int   `json:"total_incoming"`
	TotalOutgoing int   `json:"total_outgoing"`
	TotalMissed   int   `json:"total_missed"`
	TotalDuration int64 `json:"total_duration"`

	// ===== Contact and user-authored fields =====
	ContactName string    `json:"contact_name,omitempty"`
	PhotoURI    string    `json:"photo_uri,omitempty"`
	PersonNote  string    `json:"person_note,omitempty"`
	Label       string    `json:"label,omitempty"`
	Exclusion   Exclusion `json:"exclusion"`
	NeedsSync   bool      `json:"needs_sync"`

	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ServerUpdatedAt *int64    `json:"server_updated_at,omitempty"`
}

// CallStats holds aggregate counters computed over a set of calls.
type CallStats struct {
	Total         int
	Incoming      int
	Outgoing      int
	Missed        int
	TotalDuration int64
}

// ApplyStats overwrites the aggregate counters.
func (p *PersonRecord) ApplyStats(s CallStats) {
	p.TotalCalls = s.Total
	p.TotalIncoming = s.Incoming
	p.TotalOutgoing = s.Outgoing
	p.TotalMissed = s.Missed
	p.TotalDuration = s.TotalDuration
}

// Validate checks if the PersonRecord has valid field values.
func (p *PersonRecord) Validate() error {
	if p.PhoneNumber == "" {
		return fmt.Errorf("phone_number is required")
	}
	if p.TotalCalls < 0 || p.TotalIncoming < 0 || p.TotalOutgoing < 0 || p.TotalMissed < 0 {
		return fmt.Errorf("counters must not be negative")
	}
	if p.TotalIncoming+p.TotalOutgoing+p.TotalMissed > p.TotalCalls {
		return fmt.Errorf("per-type counters exceed total_calls (%d)", p.TotalCalls)
	}
	if p.Exclusion < Tracked || p.Exclusion > FullyExcluded {
		return fmt.Errorf("invalid exclusion %d", int(p.Exclusion))
	}
	return nil
}
