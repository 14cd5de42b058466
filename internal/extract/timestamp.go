package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var syslogLayouts = []string{
	"Jan 2 15:04:05",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05.000000",
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
}

func (p *Parser) parseTimestamp(tokens []string) (time.Time, bool) {
	if len(tokens) >= 3 {
		stamp := tokens[0] + " " + tokens[1] + " " + tokens[2]
		if ts, err := ParseSyslogTimestamp(stamp, p.resolveYear(), p.loc); err == nil {
			return ts, true
		}
	}
	if ts, err := ParseTimestamp(tokens[0], p.loc); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func (p *Parser) resolveYear() int {
	if p.year > 0 {
		return p.year
	}
	return p.now().In(p.loc).Year()
}

// ParseSyslogTimestamp parses the yearless "Mar  3 14:02:11" stamp and pins it to year.
func ParseSyslogTimestamp(value string, year int, loc *time.Location) (time.Time, error) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range syslogLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		pinned := time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
		if pinned.Day() != t.Day() {
			// Feb 29 outside a leap year.
			return time.Time{}, fmt.Errorf("day %d does not exist in %s %d", t.Day(), t.Month(), year)
		}
		return pinned, nil
	}
	return time.Time{}, fmt.Errorf("unsupported syslog timestamp: %q", value)
}

// ParseTimestamp handles a single-token timestamp: ISO 8601 variants or unix
// seconds (9-10 digits) and milliseconds (12-13 digits). Other digit runs,
// such as a PID or a syslog version field, are rejected.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		return parseUnix(value)
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	switch len(value) {
	case 9, 10:
		return time.Unix(n, 0).UTC(), nil
	case 12, 13:
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("numeric value %q is not a unix timestamp", value)
}
