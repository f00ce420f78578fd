package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ezyang/scubaduck/query"
)

// Column is one catalog entry, in table declaration order.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Catalog holds the per-table column metadata computed once at load time.
// Reads are lock-free; nothing mutates it afterwards.
type Catalog struct {
	tables  []string
	columns map[string][]Column
	types   map[string]map[string]string
}

// Tables returns the table names in sorted order.
func (c *Catalog) Tables() []string {
	return c.tables
}

// Columns returns the ordered column list for a table.
func (c *Catalog) Columns(table string) ([]Column, bool) {
	cols, ok := c.columns[table]
	return cols, ok
}

// Types returns the column name to engine type map for a table.
func (c *Catalog) Types(table string) (map[string]string, bool) {
	t, ok := c.types[table]
	return t, ok
}

// DefaultTable picks the table used when a request does not name one:
// "events" when present, else the first table.
func (c *Catalog) DefaultTable() string {
	if len(c.tables) == 0 {
		return ""
	}
	for _, t := range c.tables {
		if t == "events" {
			return t
		}
	}
	return c.tables[0]
}

// DefaultTimeColumn picks the time column used when a request does not
// specify one: "timestamp" when present, else the first temporal column.
func (c *Catalog) DefaultTimeColumn(table string) string {
	cols, ok := c.columns[table]
	if !ok {
		return ""
	}
	for _, col := range cols {
		if col.Name == "timestamp" {
			return col.Name
		}
	}
	for _, col := range cols {
		if query.ClassOf(col.Type) == query.ClassTemporal {
			return col.Name
		}
	}
	return ""
}

// buildCatalog reads table and column metadata for every loaded table.
func buildCatalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(tables)

	cat := &Catalog{
		tables:  tables,
		columns: make(map[string][]Column, len(tables)),
		types:   make(map[string]map[string]string, len(tables)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		table := table
		g.Go(func() error {
			cols, err := tableColumns(gctx, db, table)
			if err != nil {
				return err
			}
			types := make(map[string]string, len(cols))
			for _, c := range cols {
				types[c.Name] = c.Type
			}
			mu.Lock()
			cat.columns[table] = cols
			cat.types[table] = types
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cat, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", query.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull bool
			dflt    sql.NullString
			pk      bool
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: ctype})
	}
	return cols, rows.Err()
}
