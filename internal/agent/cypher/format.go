package cypher

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

const (
	maxCellChars    = 140
	maxComplexChars = 160
	noValue         = "—"
)

var (
	moneyKeyParts = []string{"importe", "total", "factur", "presupuesto", "valor", "eu", "€"}
	rawJSONTokens = []string{" json", "en json", "formato json", "devuélveme json", "devuelveme json", "raw json"}
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
)

// WantsRawJSON reports whether the user explicitly asked for the rows as JSON.
func WantsRawJSON(question string) bool {
	q := strings.ToLower(question)
	for _, tok := range rawJSONTokens {
		if strings.Contains(q, tok) {
			return true
		}
	}
	return false
}

// CleanKeys replaces dots in column names ("c.titulo" -> "c_titulo").
func CleanKeys(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]any, len(r))
		for k, v := range r {
			row[strings.ReplaceAll(k, ".", "_")] = v
		}
		out = append(out, row)
	}
	return out
}

// FormatNumber renders x with es-ES separators: 1234567.891 -> "1.234.567,89".
func FormatNumber(x float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(x), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var sb strings.Builder
	if x < 0 && strings.Trim(s, "0.") != "" {
		sb.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(d)
	}
	if frac != "" {
		sb.WriteByte(',')
		sb.WriteString(frac)
	}
	return sb.String()
}

// FormatMoney renders an amount in euros with two decimals.
func FormatMoney(x float64) string {
	return FormatNumber(x, 2) + " €"
}

func isMoneyKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range moneyKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

func formatFloat(key string, f float64) string {
	f = math.Round(f*100) / 100
	switch {
	case isMoneyKey(key):
		return FormatMoney(f)
	case f == math.Trunc(f):
		return FormatNumber(f, 0)
	default:
		return FormatNumber(f, 2)
	}
}

// FormatValue renders one table cell.
func FormatValue(key string, v any) string {
	switch t := v.(type) {
	case nil:
		return noValue
	case bool:
		if t {
			return "sí"
		}
		return "no"
	case int:
		return formatFloat(key, float64(t))
	case int32:
		return formatFloat(key, float64(t))
	case int64:
		return formatFloat(key, float64(t))
	case float32:
		return formatFloat(key, float64(t))
	case float64:
		return formatFloat(key, t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return noValue
		}
		s = multiSpaceRe.ReplaceAllString(s, " ")
		return escapePipes(clipCell(s, maxCellChars))
	}
	b, err := json.Marshal(v)
	s := string(b)
	if err != nil {
		s = fmt.Sprint(v)
	}
	return escapePipes(clipCell(s, maxComplexChars))
}

func clipCell(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimRight(string(r[:max-1]), " \t\n") + "…"
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Columns returns the union of row keys: the first row's keys sorted, then keys
// first seen in later rows, sorted per row.
func Columns(rows []map[string]any) []string {
	var cols []string
	seen := map[string]bool{}
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// OrderedColumns puts the reader's RETURN order first, with keys cleaned like
// CleanKeys, then any remaining row keys as Columns would list them.
func OrderedColumns(keys []string, rows []map[string]any) []string {
	cols := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		k = strings.ReplaceAll(k, ".", "_")
		if !seen[k] {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	for _, k := range Columns(rows) {
		if !seen[k] {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// MarkdownTable renders rows as a GitHub table, at most maxRows rows and maxCols
// columns. A nil cols falls back to Columns.
func MarkdownTable(rows []map[string]any, cols []string, maxRows, maxCols int) string {
	if len(rows) == 0 {
		return "No se han encontrado resultados."
	}
	if len(cols) == 0 {
		cols = Columns(rows)
	}
	if maxCols > 0 && len(cols) > maxCols {
		cols = cols[:maxCols]
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	seps := make([]string, len(cols))
	for i := range seps {
		seps[i] = "---"
	}
	sb.WriteString("| " + strings.Join(seps, " | ") + " |")

	shown := rows
	if maxRows > 0 && len(rows) > maxRows {
		shown = rows[:maxRows]
	}
	for _, r := range shown {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = FormatValue(c, r[c])
		}
		sb.WriteString("\n| " + strings.Join(vals, " | ") + " |")
	}
	if len(shown) < len(rows) {
		fmt.Fprintf(&sb, "\n\n_Mostrando %d de %d filas._", len(shown), len(rows))
	}
	return sb.String()
}

// CompanyStatsAnswer is the deterministic reply for "how many contracts has X won".
func CompanyStatsAnswer(s model.CompanyStats) string {
	taxID := s.TaxID
	if taxID == "" {
		taxID = "N/D"
	}
	return fmt.Sprintf("%s (NIF: %s) ha ganado **%d** contratos.\nImporte total adjudicado (según el grafo): **%s**.",
		s.Name, taxID, s.ContractsWon, FormatMoney(s.TotalAwarded))
}

// SidebarMarkdown shows the executed query and its parameters.
func SidebarMarkdown(plan model.QueryPlan) string {
	params := plan.Params
	if params == nil {
		params = map[string]any{}
	}
	b, _ := json.Marshal(params)
	return fmt.Sprintf("### Consulta Generada (Cypher)\n```cypher\n%s\n```\n**Params:** `%s`\n", plan.Query, b)
}
