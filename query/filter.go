package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// compileFilter turns one filter descriptor into a SQL predicate.
// An empty string with a nil error means the filter is a no-op.
func compileFilter(f Filter, class Class) (string, error) {
	col := QuoteIdentifier(f.Column)

	switch f.Op {
	case "empty":
		if class == ClassString {
			return col + " = ''", nil
		}
		return col + " IS NULL", nil
	case "!empty":
		if class == ClassString {
			return col + " != ''", nil
		}
		return col + " IS NOT NULL", nil
	}

	if f.Value == nil {
		return "", nil
	}
	if list, ok := f.Value.([]any); ok {
		if len(list) == 0 {
			return "", nil
		}
		if f.Op != "=" {
			return "", &FilterShapeError{Column: f.Column, Op: f.Op}
		}
		vals := make([]string, len(list))
		for i, v := range list {
			vals[i] = formatLiteral(v)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(vals, ", ")), nil
	}

	switch f.Op {
	case "contains":
		return fmt.Sprintf("%s ILIKE %s", col, containsPattern(f.Value)), nil
	case "!contains":
		return fmt.Sprintf("NOT (%s ILIKE %s)", col, containsPattern(f.Value)), nil
	case "~":
		return fmt.Sprintf("regexp_matches(%s, %s)", col, formatLiteral(f.Value)), nil
	case "=", "!=", "<", ">", "<=", ">=":
		return fmt.Sprintf("%s %s %s", col, f.Op, formatLiteral(f.Value)), nil
	}
	return "", SchemaErrorf("Unknown filter operator: %s", f.Op)
}

func containsPattern(v any) string {
	return quoteStringLiteral("%" + fmt.Sprint(v) + "%")
}

// formatLiteral renders a JSON scalar as a SQL literal: strings quoted with
// internal quotes doubled, numbers bare, booleans as TRUE/FALSE.
func formatLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return quoteStringLiteral(val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return quoteStringLiteral(fmt.Sprint(val))
	}
}
