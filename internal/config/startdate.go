package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var startParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseStartDate parses a tracking start date: RFC3339, a plain 2006-01-02
// date in loc, or a phrase such as "30 days ago" or "last monday" relative
// to now. Empty means no start date.
func ParseStartDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}

	r, err := startParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse start date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized start date %q", s)
	}
	// Relative phrases resolve to a day; start at its midnight.
	y, m, d := r.Time.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}
