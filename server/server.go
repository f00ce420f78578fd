// Package server is the thin JSON envelope over the query core.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/k0kubun/pp/v3"

	"github.com/ezyang/scubaduck/database"
	"github.com/ezyang/scubaduck/query"
)

// Server routes the HTTP API onto the query compiler and executor.
type Server struct {
	db    *database.Database
	clock query.Clock
	debug bool
	mux   *http.ServeMux
}

// New builds a server around a loaded database. A nil clock means wall
// time; tests inject a frozen one.
func New(db *database.Database, clock query.Clock) *Server {
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		db:    db,
		clock: clock,
		debug: slog.Default().Enabled(context.Background(), slog.LevelDebug),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/tables", s.handleTables)
	mux.HandleFunc("/api/columns", s.handleColumns)
	mux.HandleFunc("/api/samples", s.handleSamples)
	s.mux = mux
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params, err := query.ParamsFromJSON(r.Body)
	if err != nil {
		writeError(w, &query.SchemaError{Message: err.Error()})
		return
	}

	catalog := s.db.Catalog()
	if params.Table == "" {
		params.Table = catalog.DefaultTable()
	}
	types, ok := catalog.Types(params.Table)
	if !ok {
		writeError(w, query.SchemaErrorf("Unknown table: %s", params.Table))
		return
	}
	if !params.TimeColumnSet {
		params.TimeColumn = catalog.DefaultTimeColumn(params.Table)
	}
	if s.debug {
		pp.Fprintln(os.Stderr, params)
	}

	ctx := r.Context()
	env := query.Env{
		Columns: types,
		Now:     s.clock,
		TimeRange: func(column string) (time.Time, time.Time, bool, error) {
			return s.db.TimeRange(ctx, params.Table, column, params.TimeUnit)
		},
	}
	compiled, err := query.Compile(params, env)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("compiled query", "table", params.Table, "sql", compiled.SQL)

	rows, err := s.db.Query(ctx, compiled.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := queryResponse{
		SQL:        compiled.SQL,
		Rows:       normalizeRows(rows),
		Start:      compiled.Start,
		End:        compiled.End,
		BucketSize: compiled.BucketSize,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.db.Catalog().Tables())
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		table = s.db.Catalog().DefaultTable()
	}
	cols, ok := s.db.Catalog().Columns(table)
	if !ok {
		writeError(w, query.SchemaErrorf("Unknown table: %s", table))
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	table := q.Get("table")
	if table == "" {
		table = s.db.Catalog().DefaultTable()
	}
	values, err := s.db.SampleValues(r.Context(), table, q.Get("column"), q.Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}
