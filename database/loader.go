package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ezyang/scubaduck/query"
)

// Bundled sample dataset, loaded when no path is given.
//
//go:embed sample.csv
var sampleCSV []byte

// FixturePath loads a fixed multi-table fixture instead of a file, used by
// tests.
const FixturePath = "TEST"

// Open loads the dataset at path into a fresh DuckDB session and computes
// the catalog. Dispatch is by filename extension: CSV is auto-inferred,
// SQLite is attached natively or copied row by row, anything else is opened
// as a native DuckDB file. An empty path loads the bundled sample CSV.
func Open(ctx context.Context, path string) (*Database, error) {
	dsn := ""
	ext := strings.ToLower(filepath.Ext(path))
	if path != "" && path != FixturePath {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database file not found: %s", path)
		}
		if ext != ".csv" && ext != ".sqlite" && ext != ".sqlite3" && ext != ".db" {
			dsn = path
		}
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SET TimeZone='UTC'"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring engine: %w", err)
	}

	switch {
	case path == "":
		err = loadSampleCSV(ctx, db)
	case path == FixturePath:
		err = loadFixture(ctx, db)
	case ext == ".csv":
		err = loadCSV(ctx, db, path)
	case ext == ".sqlite" || ext == ".sqlite3" || ext == ".db":
		err = loadSQLite(ctx, db, path)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	catalog, err := buildCatalog(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, catalog: catalog, samples: NewSampleCache(0, 0)}, nil
}

func loadCSV(ctx context.Context, db *sql.DB, path string) error {
	table := query.QuoteIdentifier(tableNameFor(path))
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_csv_auto('%s')",
		table, strings.ReplaceAll(path, "'", "''")))
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadSampleCSV(ctx context.Context, db *sql.DB) error {
	f, err := os.CreateTemp("", "scubaduck-sample-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(sampleCSV); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE events AS SELECT * FROM read_csv_auto('%s')",
		strings.ReplaceAll(f.Name(), "'", "''")))
	return err
}

// loadFixture creates the events and extra tables used by the test suite.
// extra exercises reserved-word quoting through its desc column.
func loadFixture(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE events (timestamp TIMESTAMP, event VARCHAR, value BIGINT, "user" VARCHAR)`,
		`INSERT INTO events VALUES
			('2024-01-01 00:00:00', 'login', 10, 'alice'),
			('2024-01-01 01:00:00', 'logout', 20, 'bob'),
			('2024-01-02 00:00:00', 'login', 30, 'alice'),
			('2024-01-02 03:00:00', 'login', 40, 'charlie')`,
		`CREATE TABLE extra (ts TIMESTAMP, "desc" VARCHAR, num BIGINT)`,
		`INSERT INTO extra VALUES
			('2024-01-01 00:00:00', 'x', 1),
			('2024-01-01 01:00:00', 'y', 2)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("loading fixture: %w", err)
		}
	}
	return nil
}

var nonIdent = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// tableNameFor derives a table name from a CSV filename.
func tableNameFor(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := nonIdent.ReplaceAllString(base, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "t_" + name
	}
	return name
}
