package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ezyang/scubaduck/query"
)

//go:embed static/index.html
var indexHTML []byte

type queryResponse struct {
	SQL        string  `json:"sql"`
	Rows       [][]any `json:"rows"`
	Start      string  `json:"start,omitempty"`
	End        string  `json:"end,omitempty"`
	BucketSize int64   `json:"bucket_size,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	SQL       string `json:"sql,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError maps internal failures onto the stable error kinds and their
// HTTP statuses. User-input problems are 400; anything unrecognized is 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		timeErr   *query.TimeParseError
		schemaErr *query.SchemaError
		shapeErr  *query.FilterShapeError
		execErr   *query.ExecutionError
	)
	switch {
	case errors.As(err, &timeErr), errors.As(err, &schemaErr), errors.As(err, &shapeErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &execErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     execErr.Error(),
			SQL:       execErr.SQL,
			Traceback: execErr.Cause.Error(),
		})
	default:
		slog.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// jsSafeInt is the largest integer JSON numbers can carry without loss.
const jsSafeInt = 1 << 53

// normalizeRows converts engine values into their wire shapes: timestamps
// as wire-format strings, oversized integers as decimal strings, byte
// slices as strings.
func normalizeRows(rows [][]any) [][]any {
	for _, row := range rows {
		for i, v := range row {
			row[i] = normalizeValue(v)
		}
	}
	return rows
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return query.FormatTime(val.UTC())
	case *big.Int:
		if val.IsInt64() {
			return normalizeValue(val.Int64())
		}
		return val.String()
	case big.Int:
		return normalizeValue(&val)
	case int64:
		if val > jsSafeInt || val < -jsSafeInt {
			return strconv.FormatInt(val, 10)
		}
		return val
	case uint64:
		if val > jsSafeInt {
			return strconv.FormatUint(val, 10)
		}
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case []byte:
		return string(val)
	default:
		return v
	}
}
