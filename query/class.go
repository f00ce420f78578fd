package query

import "strings"

// Class buckets engine column types into the three semantic classes the
// compiler cares about.
type Class int

const (
	ClassString Class = iota
	ClassNumeric
	ClassTemporal
)

var numericTypeMarkers = []string{
	"INT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC", "FLOAT", "BIGINT", "HUGEINT",
}

// ClassOf maps a raw engine type name to its semantic class.
func ClassOf(engineType string) Class {
	t := strings.ToUpper(engineType)
	if strings.Contains(t, "TIMESTAMP") || strings.Contains(t, "DATE") {
		return ClassTemporal
	}
	for _, marker := range numericTypeMarkers {
		if strings.Contains(t, marker) {
			return ClassNumeric
		}
	}
	return ClassString
}
