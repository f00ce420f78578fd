package query

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Filter is one predicate descriptor from the request.
// Value may be a scalar, a list of scalars, or nil.
type Filter struct {
	Column string
	Op     string
	Value  any
}

// DerivedColumn is a user-supplied SQL expression returned as an extra
// output column. Order matters for the output layout.
type DerivedColumn struct {
	Name string
	Expr string
}

// QueryParams is the validated parameter object the compiler consumes.
type QueryParams struct {
	Table       string
	TimeColumn  string
	TimeUnit    string
	Start       string
	End         string
	OrderBy     string
	OrderDir    string
	Limit       *int
	Columns     []string
	Derived     []DerivedColumn
	Filters     []Filter
	GraphType   string
	GroupBy     []string
	Aggregate   string
	ShowHits    bool
	XAxis       string
	Granularity string
	Fill        string

	// TimeColumnSet distinguishes an explicit empty time_column (no time
	// filtering) from an omitted one (auto-select).
	TimeColumnSet bool
}

// derivedList decodes a JSON object while preserving key order, which the
// default map decoding would lose.
type derivedList []DerivedColumn

func (d *derivedList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("derived_columns: expected object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name := keyTok.(string)
		var expr string
		if err := dec.Decode(&expr); err != nil {
			return fmt.Errorf("derived_columns[%s]: %w", name, err)
		}
		*d = append(*d, DerivedColumn{Name: name, Expr: expr})
	}
	_, err = dec.Token()
	return err
}

type filterPayload struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

type queryPayload struct {
	Table       string          `json:"table"`
	TimeColumn  *string         `json:"time_column"`
	TimeUnit    string          `json:"time_unit"`
	Start       *string         `json:"start"`
	End         *string         `json:"end"`
	OrderBy     string          `json:"order_by"`
	OrderDir    string          `json:"order_dir"`
	Limit       *int            `json:"limit"`
	Columns     []string        `json:"columns"`
	Derived     derivedList     `json:"derived_columns"`
	Filters     []filterPayload `json:"filters"`
	GraphType   string          `json:"graph_type"`
	GroupBy     []string        `json:"group_by"`
	Aggregate   string          `json:"aggregate"`
	ShowHits    bool            `json:"show_hits"`
	XAxis       string          `json:"x_axis"`
	Granularity string          `json:"granularity"`
	Fill        string          `json:"fill"`
}

// ParamsFromJSON decodes a request body into QueryParams, applying the
// documented defaults. Unknown keys are ignored.
func ParamsFromJSON(r io.Reader) (QueryParams, error) {
	var p queryPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return QueryParams{}, fmt.Errorf("invalid request body: %w", err)
	}
	params := QueryParams{
		Table:       p.Table,
		TimeUnit:    p.TimeUnit,
		OrderBy:     p.OrderBy,
		OrderDir:    strings.ToUpper(p.OrderDir),
		Limit:       p.Limit,
		Columns:     p.Columns,
		Derived:     p.Derived,
		GraphType:   p.GraphType,
		GroupBy:     p.GroupBy,
		Aggregate:   p.Aggregate,
		ShowHits:    p.ShowHits,
		XAxis:       p.XAxis,
		Granularity: p.Granularity,
		Fill:        p.Fill,
	}
	if p.TimeColumn != nil {
		params.TimeColumn = *p.TimeColumn
		params.TimeColumnSet = true
	}
	if p.Start != nil {
		params.Start = *p.Start
	}
	if p.End != nil {
		params.End = *p.End
	}
	for _, f := range p.Filters {
		params.Filters = append(params.Filters, Filter{Column: f.Column, Op: f.Op, Value: f.Value})
	}
	if params.GraphType == "" {
		// Requests that group or aggregate without naming a view mean the
		// table view; plain requests sample rows.
		if len(params.GroupBy) > 0 || params.Aggregate != "" {
			params.GraphType = GraphTable
		} else {
			params.GraphType = GraphSamples
		}
	}
	if params.OrderDir == "" {
		params.OrderDir = "ASC"
	}
	if params.TimeUnit == "" {
		params.TimeUnit = "s"
	}
	if params.Granularity == "" {
		params.Granularity = "Auto"
	}
	return params, nil
}

// Graph types.
const (
	GraphSamples    = "samples"
	GraphTable      = "table"
	GraphTimeseries = "timeseries"
)
