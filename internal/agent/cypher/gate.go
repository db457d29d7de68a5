package cypher

import (
	"fmt"
	"regexp"
	"strings"

	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

// RowCap is appended as LIMIT to every generated query that has none.
const RowCap = 50

var (
	writeClauseRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|SET|DELETE|DETACH|DROP|REMOVE|FOREACH|LOAD\s+CSV)\b`)
	readClauseRe  = regexp.MustCompile(`(?i)\b(MATCH|CALL|WITH|RETURN)\b`)
	callRe        = regexp.MustCompile(`(?i)\bCALL\b\s*([^\s(]*)`)
	literalRe     = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\b`)
	relPropRe     = regexp.MustCompile(`\br\.\w+`)
	relDeclRe     = regexp.MustCompile(`\[\s*r\s*:`)
)

// readProcedures are the only procedures a generated query may call.
var readProcedures = map[string]bool{
	"db.index.vector.querynodes":           true,
	"db.index.fulltext.querynodes":         true,
	"db.index.fulltext.queryrelationships": true,
	"db.labels":                            true,
	"db.relationshiptypes":                 true,
	"db.propertykeys":                      true,
	"db.schema.nodetypeproperties":         true,
	"db.schema.reltypeproperties":          true,
	"db.schema.visualization":              true,
}

// CheckReadOnly rejects anything that could write or call a procedure outside
// readProcedures. CALL subqueries are allowed; their bodies go through the same
// clause checks. The check is lexical and string literals are blanked first.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(literalRe.ReplaceAllString(query, "''"))
	if q == "" {
		return errx.Unsafe(query)
	}
	if writeClauseRe.MatchString(q) || !readClauseRe.MatchString(q) {
		return errx.Unsafe(query)
	}
	for _, m := range callRe.FindAllStringSubmatch(q, -1) {
		name := m[1]
		if name == "" || strings.HasPrefix(name, "{") {
			continue
		}
		if !readProcedures[strings.ToLower(name)] {
			return errx.Unsafe(query)
		}
	}
	return nil
}

// NeedsRelBinding reports a query that reads r.<prop> without binding r in a relationship pattern.
func NeedsRelBinding(query string) bool {
	return relPropRe.MatchString(query) && !relDeclRe.MatchString(query)
}

// EnsureLimit appends a LIMIT clause when the query has none.
func EnsureLimit(query string, limit int) string {
	if limitRe.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s\nLIMIT %d", strings.TrimRight(query, " \t\r\n;"), limit)
}
