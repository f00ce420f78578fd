package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock supplies the current time. Tests freeze it.
type Clock func() time.Time

// TimeLayout is the wire format for absolute timestamps, both in requests
// and in echoed start/end values.
const TimeLayout = "2006-01-02 15:04:05"

var absoluteLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

var relativeExpr = regexp.MustCompile(`^-\s*(\d+)\s+([a-zA-Z]+?)s?$`)

var unitSeconds = map[string]int64{
	"second":    1,
	"minute":    60,
	"hour":      3600,
	"day":       86400,
	"week":      7 * 86400,
	"fortnight": 14 * 86400,
	"month":     30 * 86400,
	"year":      365 * 86400,
}

// ResolveTime converts an absolute or relative time expression into a
// concrete timestamp. Relative expressions are "now" or "-<N> <unit>",
// evaluated against the supplied clock.
func ResolveTime(s string, now Clock) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "now") {
		return now(), nil
	}
	if m := relativeExpr.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		secs, ok := unitSeconds[strings.ToLower(m[2])]
		if err == nil && ok {
			return now().Add(-time.Duration(n*secs) * time.Second), nil
		}
		return time.Time{}, &TimeParseError{Input: s}
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() != time.UTC {
				t = t.UTC()
			}
			return t, nil
		}
	}
	return time.Time{}, &TimeParseError{Input: s}
}

// FormatTime renders a timestamp in the wire format.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// unitFactor returns the multiplier from seconds to the configured epoch
// unit of a numeric time column.
func unitFactor(timeUnit string) int64 {
	switch timeUnit {
	case "ms":
		return 1_000
	case "us":
		return 1_000_000
	case "ns":
		return 1_000_000_000
	default: // "s"
		return 1
	}
}

// timeLiteral renders a resolved bound as a SQL literal for comparison
// against the time column: a quoted timestamp for temporal columns, a bare
// epoch integer for numeric ones.
func timeLiteral(t time.Time, numeric bool, timeUnit string) string {
	if numeric {
		return strconv.FormatInt(t.Unix()*unitFactor(timeUnit), 10)
	}
	return quoteStringLiteral(FormatTime(t))
}
