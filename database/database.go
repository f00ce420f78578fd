// Package database owns the embedded DuckDB handle: dataset loading, the
// table catalog, query execution and the sample-value cache.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ezyang/scubaduck/query"
)

// Database is the process-wide handle to the analytical engine. The
// underlying *sql.DB is safe for concurrent readers; the catalog is
// immutable after Open.
type Database struct {
	db      *sql.DB
	catalog *Catalog
	samples *SampleCache
}

func (d *Database) Catalog() *Catalog {
	return d.catalog
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Query runs one statement and returns the raw rows. Engine failures are
// wrapped in ExecutionError so the generated SQL travels with them.
func (d *Database) Query(ctx context.Context, sqlText string) ([][]any, error) {
	rows, err := d.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, &query.ExecutionError{SQL: sqlText, Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &query.ExecutionError{SQL: sqlText, Cause: err}
	}
	out := [][]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &query.ExecutionError{SQL: sqlText, Cause: err}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, &query.ExecutionError{SQL: sqlText, Cause: err}
	}
	return out, nil
}

// TimeRange returns the min/max of a time column over the whole table, used
// as the default window when a request omits start or end. ok is false for
// an empty table.
func (d *Database) TimeRange(ctx context.Context, table, column, timeUnit string) (time.Time, time.Time, bool, error) {
	if _, found := d.catalog.Types(table); !found {
		return time.Time{}, time.Time{}, false, fmt.Errorf("unknown table: %s", table)
	}
	sqlText := fmt.Sprintf("SELECT min(%s), max(%s) FROM %s",
		query.QuoteIdentifier(column), query.QuoteIdentifier(column), query.QuoteIdentifier(table))
	var lo, hi any
	if err := d.db.QueryRowContext(ctx, sqlText).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, false, &query.ExecutionError{SQL: sqlText, Cause: err}
	}
	if lo == nil || hi == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	min, err := asTime(lo, timeUnit)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	max, err := asTime(hi, timeUnit)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return min, max, true, nil
}

// asTime interprets a scanned min/max value as a timestamp: native for
// temporal columns, epoch integers in the configured unit for numeric ones,
// wire-format strings for text time columns.
func asTime(v any, timeUnit string) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case int64:
		return epochToTime(val, timeUnit), nil
	case int32:
		return epochToTime(int64(val), timeUnit), nil
	case float64:
		return epochToTime(int64(val), timeUnit), nil
	case string:
		return time.Parse(query.TimeLayout, val)
	case []byte:
		return time.Parse(query.TimeLayout, string(val))
	}
	return time.Time{}, fmt.Errorf("cannot interpret %T as a timestamp", v)
}

func epochToTime(v int64, timeUnit string) time.Time {
	switch timeUnit {
	case "ms":
		return time.UnixMilli(v).UTC()
	case "us":
		return time.UnixMicro(v).UTC()
	case "ns":
		return time.Unix(0, v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}
