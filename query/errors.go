package query

import "fmt"

// TimeParseError reports a start/end value that is neither an absolute
// timestamp nor a supported relative expression.
type TimeParseError struct {
	Input string
}

func (e *TimeParseError) Error() string {
	return fmt.Sprintf("could not parse time %q", e.Input)
}

// SchemaError reports a request that references unknown tables or columns,
// or combines parameters in a way the graph type forbids.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return e.Message
}

func SchemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// FilterShapeError reports a list-valued filter combined with an operator
// other than "=".
type FilterShapeError struct {
	Column string
	Op     string
}

func (e *FilterShapeError) Error() string {
	return fmt.Sprintf("filter on %s: operator %q does not accept a list value", e.Column, e.Op)
}

// ExecutionError wraps an engine-level failure together with the SQL that
// produced it, so the client can display both.
type ExecutionError struct {
	SQL   string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query failed: %s", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
