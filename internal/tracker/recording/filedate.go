package recording

import (
	"regexp"
	"strconv"
	"time"
)

var (
	explicitDate = regexp.MustCompile(`(?:^|\D)(\d{8})[_-](\d{6})(?:\D|$)`)
	digitRun     = regexp.MustCompile(`\d{10,}`)
)

// ParseFilenameDate extracts the call time embedded in a recording name.
//
// Two encodings are recognized: YYYYMMDD_HHMMSS (or with '-') and a compact
// YYMMDDHHmm prefix of any run of ten or more digits. The explicit form wins
// when both are present. Dates are interpreted in loc; nil means time.Local.
func ParseFilenameDate(name string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}

	for _, m := range explicitDate.FindAllStringSubmatch(name, -1) {
		if t, err := time.ParseInLocation("20060102150405", m[1]+m[2], loc); err == nil {
			return t, true
		}
	}

	for _, run := range digitRun.FindAllString(name, -1) {
		if t, ok := parseCompact(run[:10], loc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseCompact parses YYMMDDHHmm. The two-digit year must fall in 20..40,
// which keeps phone numbers and epoch stamps from being misread as dates.
func parseCompact(s string, loc *time.Location) (time.Time, bool) {
	field := func(i int) int {
		n, _ := strconv.Atoi(s[i : i+2])
		return n
	}
	yy, mon, dd, hh, mm := field(0), field(2), field(4), field(6), field(8)
	if yy < 20 || yy > 40 || mon < 1 || mon > 12 || dd < 1 || dd > 31 || hh > 23 || mm > 59 {
		return time.Time{}, false
	}

	t := time.Date(2000+yy, time.Month(mon), dd, hh, mm, 0, 0, loc)
	// Reject dates that time.Date normalized, such as April 31st.
	if t.Day() != dd || int(t.Month()) != mon {
		return time.Time{}, false
	}
	return t, true
}
