package query

import (
	"regexp"
	"strings"
)

// reservedWords holds the SQL keywords that must be quoted when used as
// identifiers, plus a handful of column names (desc, value, user, ...) that
// are legal in some dialects but clash often enough to always quote.
var reservedWords = map[string]bool{
	"all":        true,
	"analyse":    true,
	"analyze":    true,
	"and":        true,
	"any":        true,
	"array":      true,
	"as":         true,
	"asc":        true,
	"between":    true,
	"both":       true,
	"by":         true,
	"case":       true,
	"cast":       true,
	"check":      true,
	"collate":    true,
	"column":     true,
	"constraint": true,
	"count":      true,
	"create":     true,
	"cross":      true,
	"current":    true,
	"default":    true,
	"desc":       true,
	"distinct":   true,
	"do":         true,
	"drop":       true,
	"else":       true,
	"end":        true,
	"except":     true,
	"exists":     true,
	"filter":     true,
	"for":        true,
	"foreign":    true,
	"from":       true,
	"full":       true,
	"group":      true,
	"having":     true,
	"in":         true,
	"inner":      true,
	"intersect":  true,
	"into":       true,
	"is":         true,
	"join":       true,
	"left":       true,
	"like":       true,
	"limit":      true,
	"natural":    true,
	"not":        true,
	"null":       true,
	"offset":     true,
	"on":         true,
	"or":         true,
	"order":      true,
	"outer":      true,
	"primary":    true,
	"references": true,
	"right":      true,
	"row":        true,
	"select":     true,
	"set":        true,
	"some":       true,
	"start":      true,
	"table":      true,
	"then":       true,
	"to":         true,
	"union":      true,
	"unique":     true,
	"user":       true,
	"using":      true,
	"value":      true,
	"values":     true,
	"when":       true,
	"where":      true,
	"window":     true,
	"with":       true,
}

var plainIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// QuoteIdentifier returns name as it should appear in generated SQL.
// Plain lowercase-safe identifiers pass through untouched; reserved words
// and anything with unusual characters get double-quoted, with embedded
// quotes doubled.
func QuoteIdentifier(name string) string {
	if plainIdentifier.MatchString(name) && !reservedWords[strings.ToLower(name)] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteStringLiteral single-quotes a string value, doubling embedded quotes.
func quoteStringLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
