package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezyang/scubaduck/database"
	"github.com/ezyang/scubaduck/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	db, err := database.Open(context.Background(), database.FixturePath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := func() time.Time { return time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC) }
	return server.New(db, clock)
}

func postQuery(t *testing.T, srv *server.Server, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func get(t *testing.T, srv *server.Server, path string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func rowsOf(t *testing.T, resp map[string]any) [][]any {
	t.Helper()
	raw, ok := resp["rows"].([]any)
	require.True(t, ok, "no rows in %v", resp)
	out := make([][]any, len(raw))
	for i, r := range raw {
		out[i] = r.([]any)
	}
	return out
}

func TestQuerySamplesBasic(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"table": "events",
		"start": "2024-01-01 00:00:00",
		"end": "2024-01-02 00:00:00",
		"order_by": "timestamp",
		"limit": 10,
		"columns": ["timestamp", "event", "value", "user"]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"2024-01-01 00:00:00", "login", float64(10), "alice"}, rows[0])
	assert.Equal(t, []any{"2024-01-01 01:00:00", "logout", float64(20), "bob"}, rows[1])
	assert.Equal(t, []any{"2024-01-02 00:00:00", "login", float64(30), "alice"}, rows[2])
	assert.Equal(t, "2024-01-01 00:00:00", resp["start"])
	assert.Equal(t, "2024-01-02 00:00:00", resp["end"])
	assert.Contains(t, resp["sql"], "FROM events")
}

func TestQuerySamplesFilter(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"order_by": "timestamp",
		"columns": ["user"],
		"filters": [{"column": "event", "op": "=", "value": "login"}]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 3)
	assert.Equal(t, "alice", rows[0][0])
	assert.Equal(t, "alice", rows[1][0])
	assert.Equal(t, "charlie", rows[2][0])
}

func TestQuerySamplesListFilter(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"order_by": "timestamp",
		"columns": ["user", "value"],
		"filters": [{"column": "user", "op": "=", "value": ["bob", "charlie"]}]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0][0])
	assert.Equal(t, "charlie", rows[1][0])
}

func TestQuerySamplesRelativeWindow(t *testing.T) {
	srv := newTestServer(t)
	// Clock is frozen at 2024-01-02 04:00:00, so the last two hours cover
	// only the 03:00 event.
	code, resp := postQuery(t, srv, `{
		"start": "-2 hours",
		"end": "now",
		"columns": ["user"]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, "charlie", rows[0][0])
	assert.Equal(t, "2024-01-02 02:00:00", resp["start"])
	assert.Equal(t, "2024-01-02 04:00:00", resp["end"])
}

func TestQueryDefaults(t *testing.T) {
	srv := newTestServer(t)
	// Empty request: default table, auto time column, no bounds. The echoed
	// window is the table extent but no rows are filtered out.
	code, resp := postQuery(t, srv, `{}`)
	require.Equal(t, http.StatusOK, code, resp)

	assert.Len(t, rowsOf(t, resp), 4)
	assert.Equal(t, "2024-01-01 00:00:00", resp["start"])
	assert.Equal(t, "2024-01-02 03:00:00", resp["end"])
	assert.NotContains(t, resp["sql"], "WHERE")
}

func TestQueryExplicitNoTimeColumn(t *testing.T) {
	srv := newTestServer(t)
	// An explicitly empty time_column disables time filtering even when
	// bounds are present.
	code, resp := postQuery(t, srv, `{
		"time_column": "",
		"start": "-1 hour",
		"end": "now",
		"columns": ["user"]
	}`)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Len(t, rowsOf(t, resp), 4)
}

func TestQueryTableView(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"graph_type": "table",
		"group_by": ["user"],
		"aggregate": "Sum",
		"show_hits": true,
		"columns": ["value"],
		"order_by": "user"
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"alice", float64(2), float64(40)}, rows[0])
	assert.Equal(t, []any{"bob", float64(1), float64(20)}, rows[1])
	assert.Equal(t, []any{"charlie", float64(1), float64(40)}, rows[2])
}

func TestQueryTableViewInferred(t *testing.T) {
	srv := newTestServer(t)
	// group_by without an explicit graph_type means the table view.
	code, resp := postQuery(t, srv, `{
		"group_by": ["user"],
		"aggregate": "Count",
		"order_by": "user"
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 3)
	require.Len(t, rows[0], 2)
	assert.Equal(t, []any{"alice", float64(2)}, rows[0])
}

func TestQueryTableCountDistinct(t *testing.T) {
	srv := newTestServer(t)

	// Distinct count computed from the raw rows.
	code, resp := postQuery(t, srv, `{"columns": ["user"]}`)
	require.Equal(t, http.StatusOK, code, resp)
	distinct := map[any]bool{}
	for _, row := range rowsOf(t, resp) {
		distinct[row[0]] = true
	}

	code, resp = postQuery(t, srv, `{
		"graph_type": "table",
		"aggregate": "Count Distinct",
		"columns": ["user"]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(len(distinct)), rows[0][0])
	assert.Contains(t, resp["sql"], `count(DISTINCT "user")`)
}

func TestQueryTableAvgTimestamp(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"graph_type": "table",
		"aggregate": "Avg",
		"columns": ["timestamp"]
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-01 13:00:00", rows[0][0])
}

func TestQueryTimeseriesHits(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"graph_type": "timeseries",
		"start": "2024-01-01 00:00:00",
		"end": "2024-01-02 03:00:00",
		"granularity": "1 day"
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"2024-01-01 00:00:00", float64(2)}, rows[0])
	assert.Equal(t, []any{"2024-01-02 00:00:00", float64(2)}, rows[1])
	assert.Equal(t, float64(86400), resp["bucket_size"])
}

func TestQueryTimeseriesAutoBucketsAnchorAtStart(t *testing.T) {
	srv := newTestServer(t)
	// 27 hours resolve to one-hour buckets; the first bucket starts exactly
	// at the requested start.
	code, resp := postQuery(t, srv, `{
		"graph_type": "timeseries",
		"start": "2024-01-01 00:00:00",
		"end": "2024-01-02 03:00:00",
		"granularity": "Auto"
	}`)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, float64(3600), resp["bucket_size"])

	rows := rowsOf(t, resp)
	require.NotEmpty(t, rows)
	assert.Equal(t, "2024-01-01 00:00:00", rows[0][0])
}

func TestQueryTimeseriesSeriesLimit(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"graph_type": "timeseries",
		"start": "2024-01-01 00:00:00",
		"end": "2024-01-02 03:00:00",
		"granularity": "1 day",
		"group_by": ["user"],
		"aggregate": "Sum",
		"columns": ["value"],
		"limit": 2
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	// The limit keeps the first two group keys (alice, bob); charlie's
	// series is dropped entirely.
	rows := rowsOf(t, resp)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"2024-01-01 00:00:00", "alice", float64(10)}, rows[0])
	assert.Equal(t, []any{"2024-01-01 00:00:00", "bob", float64(20)}, rows[1])
	assert.Equal(t, []any{"2024-01-02 00:00:00", "alice", float64(30)}, rows[2])
}

func TestQueryDerivedColumn(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"order_by": "timestamp",
		"columns": ["value"],
		"derived_columns": {"doubled": "\"value\" * 2"}
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 4)
	assert.Equal(t, []any{float64(10), float64(20)}, rows[0])
}

func TestQueryReservedWordIdentifiers(t *testing.T) {
	srv := newTestServer(t)
	code, resp := postQuery(t, srv, `{
		"table": "extra",
		"columns": ["ts", "desc", "num"],
		"order_by": "desc"
	}`)
	require.Equal(t, http.StatusOK, code, resp)

	rows := rowsOf(t, resp)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"2024-01-01 00:00:00", "x", float64(1)}, rows[0])
	assert.Equal(t, []any{"2024-01-01 01:00:00", "y", float64(2)}, rows[1])
	assert.Contains(t, resp["sql"], `"desc"`)
}

func TestQueryErrors(t *testing.T) {
	srv := newTestServer(t)

	code, resp := postQuery(t, srv, `{"start": "nonsense"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "could not parse time")

	code, resp = postQuery(t, srv, `{"columns": ["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Unknown column: nope", resp["error"])

	code, resp = postQuery(t, srv, `{"graph_type": "samples", "group_by": ["user"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "only valid")

	code, resp = postQuery(t, srv, `{"table": "missing"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Unknown table: missing", resp["error"])

	code, resp = postQuery(t, srv, `{
		"graph_type": "timeseries",
		"x_axis": "event"
	}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "x_axis")
}

func TestQueryExecutionError(t *testing.T) {
	srv := newTestServer(t)
	// A derived expression that fails at execution time surfaces the SQL and
	// the engine message.
	code, resp := postQuery(t, srv, `{
		"columns": ["value"],
		"derived_columns": {"bad": "no_such_function(1)"}
	}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, resp["sql"])
	assert.NotEmpty(t, resp["traceback"])
}

func TestQueryMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	code, _ := get(t, srv, "/api/query")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestTablesEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv, "/api/tables")
	require.Equal(t, http.StatusOK, code)

	var tables []string
	require.NoError(t, json.Unmarshal(body, &tables))
	assert.Equal(t, []string{"events", "extra"}, tables)
}

func TestColumnsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv, "/api/columns?table=extra")
	require.Equal(t, http.StatusOK, code)

	var cols []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(body, &cols))
	require.Len(t, cols, 3)
	assert.Equal(t, "ts", cols[0].Name)
	assert.Equal(t, "desc", cols[1].Name)
	assert.Equal(t, "num", cols[2].Name)

	code, _ = get(t, srv, "/api/columns?table=missing")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSamplesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/api/samples?table=events&column=user&q=al")
	require.Equal(t, http.StatusOK, code)
	var values []string
	require.NoError(t, json.Unmarshal(body, &values))
	assert.Equal(t, []string{"alice"}, values)

	code, body = get(t, srv, "/api/samples?table=events&column=user")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &values))
	assert.Equal(t, []string{"alice", "bob", "charlie"}, values)

	// Non-string columns short-circuit to an empty list.
	code, body = get(t, srv, "/api/samples?table=events&column=value&q=1")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &values))
	assert.Empty(t, values)

	code, _ = get(t, srv, "/api/samples?table=events&column=missing")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIndexServed(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "<html")
}
