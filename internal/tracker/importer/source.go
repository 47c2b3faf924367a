package importer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Row is one entry of the device call log.
type Row struct {
	ID             string
	Number         string
	CachedName     string
	Type           int // 1 incoming, 2 outgoing, 3 missed, 5 rejected, 6 blocked
	Date           int64
	Duration       int64
	CachedPhotoURI string
	// Extra holds vendor-specific columns such as the SIM subscription.
	Extra map[string]string
}

// Source reads the device call log.
type Source interface {
	// PermissionGranted reports whether the call log may be read.
	PermissionGranted() bool
	// LatestDate returns the date of the newest entry; ok is false for an empty log.
	LatestDate(ctx context.Context) (date int64, ok bool, err error)
	// Columns lists the column names the log exposes.
	Columns(ctx context.Context) ([]string, error)
	// Query returns entries on or after since (epoch ms), newest first.
	Query(ctx context.Context, since int64) ([]Row, error)
}

// fileRow is the YAML shape of one exported call.
type fileRow struct {
	ID       string            `yaml:"id"`
	Number   string            `yaml:"number"`
	Name     string            `yaml:"name,omitempty"`
	Type     int               `yaml:"type"`
	Date     time.Time         `yaml:"date"`
	Duration int64             `yaml:"duration"`
	Photo    string            `yaml:"photo,omitempty"`
	Extra    map[string]string `yaml:"extra,omitempty"`
}

type fileLog struct {
	Permission *bool     `yaml:"permission,omitempty"`
	Columns    []string  `yaml:"columns,omitempty"`
	Calls      []fileRow `yaml:"calls"`
}

// FileSource serves a call log exported to YAML. The file is re-read on
// every query so edits are picked up by the next sync.
//
//	columns: [subscription_id]
//	calls:
//	  - id: "42"
//	    number: "+15551234567"
//	    type: 1
//	    date: 2024-03-15T14:30:00Z
//	    duration: 125
//	    extra: {subscription_id: "1"}
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ParseLog decodes a YAML call log into rows, newest first.
func ParseLog(data []byte) ([]Row, error) {
	_, rows, err := decodeLog(data)
	return rows, err
}

func decodeLog(data []byte) (*fileLog, []Row, error) {
	var log fileLog
	if err := yaml.Unmarshal(data, &log); err != nil {
		return nil, nil, fmt.Errorf("failed to parse call log: %w", err)
	}
	rows := make([]Row, 0, len(log.Calls))
	for i, c := range log.Calls {
		if c.ID == "" {
			return nil, nil, fmt.Errorf("call %d: id is required", i)
		}
		if c.Date.IsZero() {
			return nil, nil, fmt.Errorf("call %s: date is required", c.ID)
		}
		rows = append(rows, Row{
			ID:             c.ID,
			Number:         c.Number,
			CachedName:     c.Name,
			Type:           c.Type,
			Date:           c.Date.UnixMilli(),
			Duration:       c.Duration,
			CachedPhotoURI: c.Photo,
			Extra:          c.Extra,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })
	return &log, rows, nil
}

func (s *FileSource) load() (*fileLog, []Row, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read call log %s: %w", s.path, err)
	}
	return decodeLog(data)
}

// PermissionGranted implements Source. A missing file counts as denied.
func (s *FileSource) PermissionGranted() bool {
	log, _, err := s.load()
	if err != nil {
		return false
	}
	return log.Permission == nil || *log.Permission
}

// LatestDate implements Source.
func (s *FileSource) LatestDate(ctx context.Context) (int64, bool, error) {
	_, rows, err := s.load()
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Date, true, nil
}

// Columns implements Source. Without an explicit list, the union of all
// extra keys is reported.
func (s *FileSource) Columns(ctx context.Context) ([]string, error) {
	log, rows, err := s.load()
	if err != nil {
		return nil, err
	}
	if len(log.Columns) > 0 {
		return log.Columns, nil
	}
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		for k := range r.Extra {
			k = strings.ToLower(k)
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols, nil
}

// Query implements Source.
func (s *FileSource) Query(ctx context.Context, since int64) ([]Row, error) {
	_, rows, err := s.load()
	if err != nil {
		return nil, err
	}
	out := rows[:0:0]
	for _, r := range rows {
		if r.Date >= since {
			out = append(out, r)
		}
	}
	return out, nil
}
