package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Env supplies the compiler with the catalog view of the selected table and
// the ambient services it needs. The compiler itself is a pure function and
// safe for concurrent use.
type Env struct {
	// Columns maps column name to the engine type reported by the catalog.
	Columns map[string]string
	// Now is the injectable clock used to resolve relative times.
	Now Clock
	// TimeRange returns the min/max of a time column over the base table,
	// used as the default window when start/end are omitted. ok is false
	// when the table holds no rows.
	TimeRange func(column string) (min, max time.Time, ok bool, err error)
}

// Compiled is the result of query compilation: the SQL text plus the
// resolved metadata echoed in the response.
type Compiled struct {
	SQL        string
	Start      string
	End        string
	BucketSize int64
}

// Compile translates the parameter object into a single SQL statement for
// the selected graph type.
func Compile(p QueryParams, env Env) (Compiled, error) {
	switch p.GraphType {
	case GraphSamples:
		if len(p.GroupBy) > 0 || p.Aggregate != "" {
			return Compiled{}, SchemaErrorf(
				"group_by and aggregate are only valid for table or timeseries view")
		}
	case GraphTable, GraphTimeseries:
	default:
		return Compiled{}, SchemaErrorf("Invalid graph_type: %s", p.GraphType)
	}
	if err := checkIdentifiers(p, env); err != nil {
		return Compiled{}, err
	}

	tr, err := resolveWindow(p, env)
	if err != nil {
		return Compiled{}, err
	}
	where, err := whereClauses(p, env, tr)
	if err != nil {
		return Compiled{}, err
	}

	var sql string
	out := Compiled{Start: tr.startEcho(), End: tr.endEcho()}
	switch p.GraphType {
	case GraphSamples:
		sql, err = compileSamples(p, where)
	case GraphTable:
		sql, err = compileTable(p, env, where)
	case GraphTimeseries:
		sql, out.BucketSize, err = compileTimeseries(p, env, where, tr)
	}
	if err != nil {
		return Compiled{}, err
	}
	out.SQL = sql
	return out, nil
}

// checkIdentifiers validates every column reference in the request against
// the catalog before any SQL is assembled.
func checkIdentifiers(p QueryParams, env Env) error {
	for _, c := range p.Columns {
		if _, ok := env.Columns[c]; !ok {
			return SchemaErrorf("Unknown column: %s", c)
		}
	}
	for _, c := range p.GroupBy {
		if _, ok := env.Columns[c]; !ok {
			return SchemaErrorf("Unknown column: %s", c)
		}
	}
	for _, f := range p.Filters {
		if _, ok := env.Columns[f.Column]; !ok {
			return SchemaErrorf("Unknown column: %s", f.Column)
		}
	}
	if p.TimeColumn != "" {
		if _, ok := env.Columns[p.TimeColumn]; !ok {
			return SchemaErrorf("Unknown column: %s", p.TimeColumn)
		}
	}
	if p.XAxis != "" {
		if _, ok := env.Columns[p.XAxis]; !ok {
			return SchemaErrorf("Unknown column: %s", p.XAxis)
		}
	}
	if p.OrderBy != "" {
		if _, ok := env.Columns[p.OrderBy]; ok {
			return nil
		}
		for _, d := range p.Derived {
			if d.Name == p.OrderBy {
				return nil
			}
		}
		if p.ShowHits && p.OrderBy == "Hits" {
			return nil
		}
		return SchemaErrorf("Unknown column: %s", p.OrderBy)
	}
	return nil
}

// timeWindow carries the resolved bounds for the request's time column
// (the x-axis for timeseries).
type timeWindow struct {
	column    string
	numeric   bool
	unit      string
	start     time.Time
	end       time.Time
	hasStart  bool
	hasEnd    bool
	boundLow  bool // start was supplied, so it constrains the WHERE clause
	boundHigh bool
}

func (t timeWindow) startEcho() string {
	if !t.hasStart {
		return ""
	}
	return FormatTime(t.start)
}

func (t timeWindow) endEcho() string {
	if !t.hasEnd {
		return ""
	}
	return FormatTime(t.end)
}

func resolveWindow(p QueryParams, env Env) (timeWindow, error) {
	col := p.TimeColumn
	if p.GraphType == GraphTimeseries {
		if p.XAxis != "" {
			col = p.XAxis
		}
		if col == "" {
			return timeWindow{}, SchemaErrorf("x_axis required for timeseries")
		}
		switch ClassOf(env.Columns[col]) {
		case ClassTemporal:
		case ClassNumeric:
			// Legal only as the designated time column, where values are
			// interpreted as epoch integers.
			if col != p.TimeColumn {
				return timeWindow{}, SchemaErrorf("x_axis must be a time column: %s", col)
			}
		default:
			return timeWindow{}, SchemaErrorf("x_axis must be a time column: %s", col)
		}
	}
	tr := timeWindow{column: col, unit: p.TimeUnit}
	if col == "" {
		return tr, nil
	}
	tr.numeric = ClassOf(env.Columns[col]) == ClassNumeric

	if p.Start != "" {
		t, err := ResolveTime(p.Start, env.Now)
		if err != nil {
			return tr, err
		}
		tr.start, tr.hasStart, tr.boundLow = t, true, true
	}
	if p.End != "" {
		t, err := ResolveTime(p.End, env.Now)
		if err != nil {
			return tr, err
		}
		tr.end, tr.hasEnd, tr.boundHigh = t, true, true
	}
	if (!tr.hasStart || !tr.hasEnd) && env.TimeRange != nil {
		min, max, ok, err := env.TimeRange(col)
		if err != nil {
			return tr, err
		}
		if ok {
			if !tr.hasStart {
				tr.start, tr.hasStart = min, true
			}
			if !tr.hasEnd {
				tr.end, tr.hasEnd = max, true
			}
		}
	}
	return tr, nil
}

func whereClauses(p QueryParams, env Env, tr timeWindow) ([]string, error) {
	var parts []string
	if tr.column != "" {
		q := QuoteIdentifier(tr.column)
		if tr.boundLow {
			parts = append(parts, fmt.Sprintf("%s >= %s", q, timeLiteral(tr.start, tr.numeric, tr.unit)))
		}
		if tr.boundHigh {
			parts = append(parts, fmt.Sprintf("%s <= %s", q, timeLiteral(tr.end, tr.numeric, tr.unit)))
		}
	}
	for _, f := range p.Filters {
		pred, err := compileFilter(f, ClassOf(env.Columns[f.Column]))
		if err != nil {
			return nil, err
		}
		if pred != "" {
			parts = append(parts, pred)
		}
	}
	return parts, nil
}

func whereSQL(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func compileSamples(p QueryParams, where []string) (string, error) {
	var parts []string
	for _, c := range p.Columns {
		parts = append(parts, QuoteIdentifier(c))
	}
	for _, d := range p.Derived {
		parts = append(parts, fmt.Sprintf("%s AS %s", d.Expr, QuoteIdentifier(d.Name)))
	}
	sel := "*"
	if len(parts) > 0 {
		sel = strings.Join(parts, ", ")
	}
	sql := fmt.Sprintf("SELECT %s FROM %s%s", sel, QuoteIdentifier(p.Table), whereSQL(where))
	if p.OrderBy != "" {
		sql += fmt.Sprintf(" ORDER BY %s %s", QuoteIdentifier(p.OrderBy), p.OrderDir)
	}
	if p.Limit != nil {
		sql += fmt.Sprintf(" LIMIT %d", *p.Limit)
	}
	return sql, nil
}

func compileTable(p QueryParams, env Env, where []string) (string, error) {
	groupCols := make([]string, len(p.GroupBy))
	for i, c := range p.GroupBy {
		groupCols[i] = QuoteIdentifier(c)
	}
	parts := append([]string{}, groupCols...)
	if p.ShowHits {
		parts = append(parts, `count(*) AS "Hits"`)
	}
	aggSelects, err := aggregateSelects(p, env, "")
	if err != nil {
		return "", err
	}
	if len(aggSelects) == 0 && strings.EqualFold(effectiveAggregate(p), "count") {
		aggSelects = append(aggSelects, `count(*) AS "Count"`)
	}
	parts = append(parts, aggSelects...)

	sql := fmt.Sprintf("SELECT %s FROM %s%s",
		strings.Join(parts, ", "), QuoteIdentifier(p.Table), whereSQL(where))
	if len(groupCols) > 0 {
		sql += " GROUP BY " + strings.Join(groupCols, ", ")
	}
	sql = wrapDerived(sql, p.Derived)
	if p.OrderBy != "" {
		sql += fmt.Sprintf(" ORDER BY %s %s", QuoteIdentifier(p.OrderBy), p.OrderDir)
	}
	if p.Limit != nil {
		sql += fmt.Sprintf(" LIMIT %d", *p.Limit)
	}
	return sql, nil
}

func compileTimeseries(p QueryParams, env Env, where []string, tr timeWindow) (string, int64, error) {
	start, end := tr.start, tr.end
	if !tr.hasStart || !tr.hasEnd {
		// Empty table and no explicit window; degenerate single bucket.
		now := env.Now()
		start, end = now, now
	}
	width, err := BucketSize(p.Granularity, start, end)
	if err != nil {
		return "", 0, err
	}
	bucket := bucketExpr(epochExpr(tr.column, tr.numeric, tr.unit), start, width)

	groupCols := make([]string, len(p.GroupBy))
	for i, c := range p.GroupBy {
		groupCols[i] = QuoteIdentifier(c)
	}
	parts := []string{bucket + " AS bucket"}
	parts = append(parts, groupCols...)
	aggSelects, err := aggregateSelects(p, env, tr.column)
	if err != nil {
		return "", 0, err
	}
	if len(aggSelects) == 0 {
		aggSelects = append(aggSelects, `count(*) AS "Hits"`)
	}
	parts = append(parts, aggSelects...)

	groupBy := append([]string{"bucket"}, groupCols...)
	sql := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s",
		strings.Join(parts, ", "), QuoteIdentifier(p.Table), whereSQL(where),
		strings.Join(groupBy, ", "))

	// limit restricts series, not rows: keep only buckets belonging to the
	// first limit group keys.
	if p.Limit != nil && len(groupCols) > 0 {
		keyOrder, err := seriesKeyOrder(p, env, groupCols)
		if err != nil {
			return "", 0, err
		}
		keySQL := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY %s LIMIT %d",
			strings.Join(groupCols, ", "), QuoteIdentifier(p.Table), whereSQL(where),
			strings.Join(groupCols, ", "), keyOrder, *p.Limit)
		keyTuple := strings.Join(groupCols, ", ")
		if len(groupCols) > 1 {
			keyTuple = "(" + keyTuple + ")"
		}
		sql = fmt.Sprintf("SELECT * FROM (%s) AS t WHERE %s IN (%s)", sql, keyTuple, keySQL)
	}
	sql = wrapDerived(sql, p.Derived)
	sql += " ORDER BY " + strings.Join(groupBy, ", ")
	return sql, width, nil
}

// seriesKeyOrder decides how the retained group keys are picked when a
// timeseries limit applies.
func seriesKeyOrder(p QueryParams, env Env, groupCols []string) (string, error) {
	if p.OrderBy != "" {
		for _, g := range p.GroupBy {
			if g == p.OrderBy {
				return QuoteIdentifier(p.OrderBy) + " " + p.OrderDir, nil
			}
		}
		for _, c := range p.Columns {
			if c == p.OrderBy {
				expr, err := aggregateExpr(effectiveAggregate(p), c, ClassOf(env.Columns[c]))
				if err != nil {
					return "", err
				}
				return expr + " " + p.OrderDir, nil
			}
		}
	}
	return strings.Join(groupCols, ", "), nil
}

// aggregateSelects renders the aggregated form of every selected column
// that is not already a group key. xAxis is the resolved bucket column for
// timeseries, which is represented by the bucket itself and never
// aggregated.
func aggregateSelects(p QueryParams, env Env, xAxis string) ([]string, error) {
	grouped := make(map[string]bool, len(p.GroupBy))
	for _, g := range p.GroupBy {
		grouped[g] = true
	}
	agg := effectiveAggregate(p)
	var out []string
	for _, c := range p.Columns {
		if grouped[c] || (xAxis != "" && c == xAxis) {
			continue
		}
		expr, err := aggregateExpr(agg, c, ClassOf(env.Columns[c]))
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s AS %s", expr, QuoteIdentifier(c)))
	}
	return out, nil
}

// effectiveAggregate applies the Avg default used by the UI when the
// request leaves the aggregate out.
func effectiveAggregate(p QueryParams) string {
	if p.Aggregate == "" {
		return "Avg"
	}
	return p.Aggregate
}

var quantileLabel = regexp.MustCompile(`^p(\d{1,2})$`)

// aggregateExpr maps an aggregate label onto the engine expression for one
// column, rejecting combinations the column's class cannot support.
func aggregateExpr(label, column string, class Class) (string, error) {
	q := QuoteIdentifier(column)
	switch l := strings.ToLower(label); l {
	case "avg":
		switch class {
		case ClassTemporal:
			return fmt.Sprintf("to_timestamp(avg(epoch(%s)))", q), nil
		case ClassNumeric:
			return fmt.Sprintf("avg(%s)", q), nil
		}
	case "sum":
		if class == ClassNumeric {
			return fmt.Sprintf("sum(%s)", q), nil
		}
	case "min", "max":
		if class != ClassString {
			return fmt.Sprintf("%s(%s)", l, q), nil
		}
	case "count":
		return fmt.Sprintf("count(%s)", q), nil
	case "count distinct":
		return fmt.Sprintf("count(DISTINCT %s)", q), nil
	default:
		if m := quantileLabel.FindStringSubmatch(l); m != nil {
			if class == ClassNumeric {
				nn, _ := strconv.Atoi(m[1])
				return fmt.Sprintf("quantile_cont(%s, %s)", q,
					strconv.FormatFloat(float64(nn)/100, 'g', -1, 64)), nil
			}
			break
		}
		return "", SchemaErrorf("Unknown aggregate: %s", label)
	}
	return "", SchemaErrorf("Aggregate %s cannot be applied to column %s", label, column)
}

func wrapDerived(sql string, derived []DerivedColumn) string {
	if len(derived) == 0 {
		return sql
	}
	parts := make([]string, len(derived))
	for i, d := range derived {
		parts[i] = fmt.Sprintf("%s AS %s", d.Expr, QuoteIdentifier(d.Name))
	}
	return fmt.Sprintf("SELECT *, %s FROM (%s) AS derived", strings.Join(parts, ", "), sql)
}
