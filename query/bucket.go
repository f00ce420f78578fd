package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Standard bucket widths in seconds: 1s 5s 15s 30s 1m 5m 15m 30m 1h 3h 6h
// 12h 1d 1w 30d.
var bucketSteps = []int64{
	1, 5, 15, 30,
	60, 300, 900, 1800,
	3600, 10800, 21600, 43200,
	86400, 604800, 2592000,
}

const (
	autoBucketTarget = 30
	fineBucketTarget = 100
)

var granularityExpr = regexp.MustCompile(`^(\d+)\s+([a-zA-Z]+?)s?$`)

// BucketSize picks the bucket width in seconds for the given granularity
// over the [start, end] window.
func BucketSize(granularity string, start, end time.Time) (int64, error) {
	span := int64(end.Sub(start) / time.Second)
	if span < 1 {
		span = 1
	}
	switch strings.ToLower(strings.TrimSpace(granularity)) {
	case "", "auto":
		// Smallest step that keeps the bucket count at or under target.
		for _, step := range bucketSteps {
			if span/step <= autoBucketTarget {
				return step, nil
			}
		}
		return bucketSteps[len(bucketSteps)-1], nil
	case "fine":
		// Largest step still yielding at least target buckets.
		chosen := bucketSteps[0]
		for _, step := range bucketSteps {
			if span/step >= fineBucketTarget {
				chosen = step
			}
		}
		return chosen, nil
	}
	if m := granularityExpr.FindStringSubmatch(strings.TrimSpace(granularity)); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		secs, ok := unitSeconds[strings.ToLower(m[2])]
		if err == nil && ok && n > 0 {
			return n * secs, nil
		}
	}
	return 0, SchemaErrorf("Invalid granularity: %s", granularity)
}

// bucketExpr formats the SELECT expression that floors the x-axis into
// width-second buckets anchored at the resolved start, so the first bucket
// begins exactly at start.
func bucketExpr(epochExpr string, start time.Time, width int64) string {
	s := start.Unix()
	return fmt.Sprintf(
		"to_timestamp(CAST(floor((%s - %d) / %d) * %d + %d AS BIGINT))",
		epochExpr, s, width, width, s,
	)
}

// epochExpr renders the x-axis column as epoch seconds: epoch() for
// temporal columns, a unit division for numeric ones.
func epochExpr(column string, numeric bool, timeUnit string) string {
	q := QuoteIdentifier(column)
	if !numeric {
		return fmt.Sprintf("epoch(%s)", q)
	}
	if f := unitFactor(timeUnit); f != 1 {
		return fmt.Sprintf("CAST(%s AS DOUBLE) / %d", q, f)
	}
	return q
}
