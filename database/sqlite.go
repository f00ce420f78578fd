package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ezyang/scubaduck/query"
)

// loadSQLite pulls every table of a SQLite file into the in-memory engine.
// The native sqlite extension is tried first; if it cannot be installed or
// the attach fails, the file is copied row by row through the pure-Go
// driver instead.
func loadSQLite(ctx context.Context, db *sql.DB, path string) error {
	if err := attachSQLite(ctx, db, path); err != nil {
		slog.Debug("sqlite attach failed, falling back to row copy", "path", path, "error", err)
		return copySQLite(ctx, db, path)
	}
	return nil
}

func attachSQLite(ctx context.Context, db *sql.DB, path string) error {
	if _, err := db.ExecContext(ctx, "INSTALL sqlite; LOAD sqlite"); err != nil {
		return err
	}
	quotedPath := strings.ReplaceAll(path, "'", "''")
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("ATTACH '%s' AS src (TYPE SQLITE)", quotedPath)); err != nil {
		return err
	}
	// Materialize into main so the attached file can be released and the
	// catalog sees a single namespace.
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_catalog = 'src'`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, t := range tables {
		q := query.QuoteIdentifier(t)
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM src.%s", q, q)); err != nil {
			return err
		}
	}
	_, err = db.ExecContext(ctx, "DETACH src")
	return err
}

// copySQLite reads the file through modernc.org/sqlite and bulk-inserts the
// rows into matching in-memory tables.
func copySQLite(ctx context.Context, db *sql.DB, path string) error {
	src, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening sqlite file: %w", err)
	}
	defer src.Close()

	tables, err := sqliteTableNames(ctx, src)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := copySQLiteTable(ctx, db, src, table); err != nil {
			return fmt.Errorf("copying %s: %w", table, err)
		}
	}
	return nil
}

func sqliteTableNames(ctx context.Context, src *sql.DB) ([]string, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT tbl_name FROM sqlite_master WHERE type = 'table' AND tbl_name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func copySQLiteTable(ctx context.Context, db, src *sql.DB, table string) error {
	infoRows, err := src.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", query.QuoteIdentifier(table)))
	if err != nil {
		return err
	}
	defer infoRows.Close()

	var names, defs []string
	for infoRows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := infoRows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		names = append(names, name)
		defs = append(defs, fmt.Sprintf("%s %s", query.QuoteIdentifier(name), duckTypeFor(ctype)))
	}
	if err := infoRows.Err(); err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	qt := query.QuoteIdentifier(table)
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE %s (%s)", qt, strings.Join(defs, ", "))); err != nil {
		return err
	}

	quoted := make([]string, len(names))
	placeholders := make([]string, len(names))
	for i, n := range names {
		quoted[i] = query.QuoteIdentifier(n)
		placeholders[i] = "?"
	}
	insert, err := db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qt, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return err
	}
	defer insert.Close()

	dataRows, err := src.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(quoted, ", "), qt))
	if err != nil {
		return err
	}
	defer dataRows.Close()
	for dataRows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := dataRows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		if _, err := insert.ExecContext(ctx, vals...); err != nil {
			return err
		}
	}
	return dataRows.Err()
}

// duckTypeFor maps a SQLite declared type to the engine type used for the
// copied column. LONGVARCHAR and VARCHAR(N) collapse to text, BIGINT stays
// a 64-bit integer.
func duckTypeFor(declared string) string {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "BIGINT"), strings.Contains(t, "INT"):
		return "BIGINT"
	case strings.Contains(t, "LONGVARCHAR"), strings.Contains(t, "VARCHAR"),
		strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "VARCHAR"
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATETIME"), strings.Contains(t, "DATE"):
		return "TIMESTAMP"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return "DOUBLE"
	case strings.Contains(t, "BOOL"):
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}
