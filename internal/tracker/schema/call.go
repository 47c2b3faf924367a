package schema

import (
	"fmt"
	"strings"
	"time"
)

// CallType classifies a call event as reported by the device call log.
type CallType string

const (
	CallIncoming CallType = "incoming"
	CallOutgoing CallType = "outgoing"
	CallMissed   CallType = "missed"
	CallRejected CallType = "rejected"
	CallBlocked  CallType = "blocked"
	CallUnknown  CallType = "unknown"
)

// CallTypeFromCode maps the platform call-log type code to a CallType.
func CallTypeFromCode(code int) CallType {
	switch code {
	case 1:
		return CallIncoming
	case 2:
		return CallOutgoing
	case 3:
		return CallMissed
	case 5:
		return CallRejected
	case 6:
		return CallBlocked
	default:
		return CallUnknown
	}
}

// IsMissedLike reports whether the call counts toward a person's missed total.
// Rejected and blocked calls are never answered, so they are counted as missed.
func (t CallType) IsMissedLike() bool {
	return t == CallMissed || t == CallRejected || t == CallBlocked
}

// Valid reports whether t is one of the known call types.
func (t CallType) Valid() bool {
	switch t {
	case CallIncoming, CallOutgoing, CallMissed, CallRejected, CallBlocked, CallUnknown:
		return true
	}
	return false
}

// SyncStatus tracks whether the call row itself has been created on the server.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncCompleted SyncStatus = "completed"
)

// MetadataSyncStatus tracks whether the server has the latest metadata
// (note, reviewed flag, recording outcome) for a call.
type MetadataSyncStatus string

const (
	MetadataPending       MetadataSyncStatus = "pending"
	MetadataUpdatePending MetadataSyncStatus = "update_pending"
	MetadataSynced        MetadataSyncStatus = "synced"
)

// RecordingSyncStatus tracks the recording lookup for a call.
type RecordingSyncStatus string

const (
	RecordingNotApplicable RecordingSyncStatus = "not_applicable"
	RecordingPending       RecordingSyncStatus = "pending"
	RecordingFound         RecordingSyncStatus = "found"
	RecordingNotFound      RecordingSyncStatus = "not_found"
)

// UnknownDevice is used in composite IDs when the device identifier is not known.
const UnknownDevice = "unknown_dev"

// CallRecord is one call event stored locally.
//
// The three status axes are independent: SyncStatus covers creation of the
// row on the server, MetadataSyncStatus covers later metadata pushes, and
// RecordingSyncStatus covers the local recording lookup.
type CallRecord struct {
	// ===== Identity =====
	CompositeID string `json:"composite_id"`
	SystemID    string `json:"system_id"`

	// ===== Call data =====
	PhoneNumber    string   `json:"phone_number"`
	ContactName    string   `json:"contact_name,omitempty"`
	PhotoURI       string   `json:"photo_uri,omitempty"`
	CallType       CallType `json:"call_type"`
	CallDate       int64    `json:"call_date"` // epoch ms
	Duration       int64    `json:"duration"`  // seconds
	SubscriptionID *int     `json:"subscription_id,omitempty"`
	DeviceID       string   `json:"device_id"`

	LocalRecordingPath string `json:"local_recording_path,omitempty"`

	// ===== Status axes =====
	SyncStatus          SyncStatus          `json:"sync_status"`
	MetadataSyncStatus  MetadataSyncStatus  `json:"metadata_sync_status"`
	RecordingSyncStatus RecordingSyncStatus `json:"recording_sync_status"`

	// ===== User and server fields =====
	Note             string `json:"note,omitempty"`
	Reviewed         bool   `json:"reviewed"`
	SyncError        string `json:"sync_error,omitempty"`
	ServerUpdatedAt  *int64 `json:"server_updated_at,omitempty"`
	ProcessingStatus string `json:"processing_status,omitempty"`
	MetadataReceived bool   `json:"metadata_received"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompositeID builds the dedup key for a call: type, device, number and date.
// Only digits and '+' of the number are kept.
func CompositeID(typ CallType, deviceID, phoneNumber string, callDate int64) string {
	if deviceID == "" {
		deviceID = UnknownDevice
	}
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '+' {
			return r
		}
		return -1
	}, phoneNumber)
	return fmt.Sprintf("%s-%s-%s-%d", typ, deviceID, clean, callDate)
}

// InitialRecordingStatus returns the recording status a freshly imported
// call starts in: zero-length calls never have a recording.
func InitialRecordingStatus(duration int64) RecordingSyncStatus {
	if duration > 0 {
		return RecordingPending
	}
	return RecordingNotApplicable
}

// CallTime returns CallDate as a time.Time.
func (c *CallRecord) CallTime() time.Time {
	return time.UnixMilli(c.CallDate)
}

// SetDefaults fills unset status axes and timestamps for a new record.
func (c *CallRecord) SetDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = UnknownDevice
	}
	if c.CallType == "" {
		c.CallType = CallUnknown
	}
	if c.SyncStatus == "" {
		c.SyncStatus = SyncPending
	}
	if c.MetadataSyncStatus == "" {
		c.MetadataSyncStatus = MetadataPending
	}
	if c.RecordingSyncStatus == "" {
		c.RecordingSyncStatus = InitialRecordingStatus(c.Duration)
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// Validate checks if the CallRecord has valid field values.
func (c *CallRecord) Validate() error {
	if c.CompositeID == "" {
		return fmt.Errorf("composite_id is required")
	}
	if c.SystemID == "" {
		return fmt.Errorf("system_id is required")
	}
	if !c.CallType.Valid() {
		return fmt.Errorf("invalid call_type %q", c.CallType)
	}
	if c.CallDate <= 0 {
		return fmt.Errorf("call_date must be positive (got %d)", c.CallDate)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative (got %d)", c.Duration)
	}
	switch c.SyncStatus {
	case SyncPending, SyncCompleted:
	default:
		return fmt.Errorf("invalid sync_status %q", c.SyncStatus)
	}
	switch c.MetadataSyncStatus {
	case MetadataPending, MetadataUpdatePending, MetadataSynced:
	default:
		return fmt.Errorf("invalid metadata_sync_status %q", c.MetadataSyncStatus)
	}
	switch c.RecordingSyncStatus {
	case RecordingNotApplicable:
		if c.Duration > 0 {
			return fmt.Errorf("recording_sync_status not_applicable requires zero duration (got %d)", c.Duration)
		}
	case RecordingPending, RecordingFound, RecordingNotFound:
	default:
		return fmt.Errorf("invalid recording_sync_status %q", c.RecordingSyncStatus)
	}
	return nil
}
