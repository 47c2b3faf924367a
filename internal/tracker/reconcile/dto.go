package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/miniclick/calltrack/internal/tracker/phone"
)

// ErrInvalidUpdate is returned for server updates missing their key or timestamp.
var ErrInvalidUpdate = errors.New("invalid update")

// CallUpdate is a server change to one call's metadata. Nil fields were not
// sent and are left untouched.
type CallUpdate struct {
	CompositeID     string  `json:"composite_id"`
	ServerUpdatedAt int64   `json:"server_updated_at"`
	Reviewed        *bool   `json:"reviewed,omitempty"`
	Note            *string `json:"note,omitempty"`
	CallerName      *string `json:"caller_name,omitempty"`
}

// Validate checks the key and timestamp.
func (u *CallUpdate) Validate() error {
	if u.CompositeID == "" {
		return fmt.Errorf("%w: call composite_id is required", ErrInvalidUpdate)
	}
	if u.ServerUpdatedAt <= 0 {
		return fmt.Errorf("%w: call %s: server_updated_at is required", ErrInvalidUpdate, u.CompositeID)
	}
	return nil
}

// PersonUpdate is a server change to one person. The exclusion travels as
// the legacy flag pair.
type PersonUpdate struct {
	Phone           string  `json:"phone"`
	ServerUpdatedAt int64   `json:"server_updated_at"`
	Note            *string `json:"person_note,omitempty"`
	Label           *string `json:"label,omitempty"`
	Name            *string `json:"contact_name,omitempty"`
	ExcludeFromSync *bool   `json:"exclude_from_sync,omitempty"`
	ExcludeFromList *bool   `json:"exclude_from_list,omitempty"`
}

// Validate checks the key and timestamp.
func (u *PersonUpdate) Validate() error {
	if phone.Normalize(u.Phone) == "" {
		return fmt.Errorf("%w: person phone is required", ErrInvalidUpdate)
	}
	if u.ServerUpdatedAt <= 0 {
		return fmt.Errorf("%w: person %s: server_updated_at is required", ErrInvalidUpdate, u.Phone)
	}
	return nil
}

// Batch is a decoded inbound file.
type Batch struct {
	Calls   []CallUpdate
	Persons []PersonUpdate
}

// Len returns the number of updates in the batch.
func (b Batch) Len() int { return len(b.Calls) + len(b.Persons) }

// ReadBatch decodes a JSONL stream of updates, one object per line, each
// tagged with "kind": "call" or "person".
//
//	{"kind":"call","composite_id":"...","server_updated_at":1710513000000,"reviewed":true}
//	{"kind":"person","phone":"+15551234567","server_updated_at":1710513000000,"label":"lead"}
func ReadBatch(r io.Reader) (Batch, error) {
	var b Batch
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return b, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return b, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch head.Kind {
		case "call":
			var u CallUpdate
			if err := json.Unmarshal(raw, &u); err != nil {
				return b, fmt.Errorf("invalid call at line %d: %w", lineNum, err)
			}
			if err := u.Validate(); err != nil {
				return b, fmt.Errorf("line %d: %w", lineNum, err)
			}
			b.Calls = append(b.Calls, u)
		case "person":
			var u PersonUpdate
			if err := json.Unmarshal(raw, &u); err != nil {
				return b, fmt.Errorf("invalid person at line %d: %w", lineNum, err)
			}
			if err := u.Validate(); err != nil {
				return b, fmt.Errorf("line %d: %w", lineNum, err)
			}
			b.Persons = append(b.Persons, u)
		default:
			return b, fmt.Errorf("line %d: %w: unknown kind %q", lineNum, ErrInvalidUpdate, head.Kind)
		}
	}

	return b, nil
}
