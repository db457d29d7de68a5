package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200
	maxQuestions  = 7
)

// IntentPayload is the raw classifier output before sanitizing.
type IntentPayload struct {
	Category       string
	DocType        string
	ClauseTypes    []string
	Focus          string
	CompanyQuery   string
	CompanyTaxID   string
	IsFollowUp     bool
	RewrittenQuery string
}

// legacyCategories maps labels some prompts still produce to the closed category set.
var legacyCategories = map[string]model.Category{
	"RAG_QA":       model.CategoryRetrieval,
	"CYPHER_QA":    model.CategoryStructuredQuery,
	"GENERATE_PPT": model.CategoryDraftDocument,
	"SIMPLE_CHAT":  model.CategoryPlainConversation,
}

// ExtractJSON strips code fences and surrounding prose, keeping the outermost
// object (or array when open is '[').
func ExtractJSON(content string, open, close byte) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(s, "`")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.ReplaceAll(s, "```", "")
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i >= 0 && j > i {
		s = s[i : j+1]
	}
	return strings.TrimSpace(s)
}

func decodeObject(content, component string) (m map[string]any, err error) {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", component).
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("%s: invalid utf8", component)
	}
	raw := ExtractJSON(content, '{', '}')
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%s: %w (%s)", component, err, safeSnippet(raw))
	}
	return m, nil
}

func recoverInto(component string, err *error) {
	if r := recover(); r != nil {
		logx.Error().Str("component", component).Msgf("panic recovered: %v", r)
		*err = errx.New(fmt.Errorf("%s panic", component), http.StatusInternalServerError, errx.SystemErrorMessage)
	}
}

// ParseIntent decodes the classifier's JSON. Field names of the older
// prompt generation ("intent", "doc_tipo", "extracto_tipos", "empresa_*") are accepted.
func ParseIntent(content string) (p *IntentPayload, err error) {
	defer recoverInto("intent_parser", &err)

	m, err := decodeObject(content, "intent_parser")
	if err != nil {
		return nil, err
	}
	p = &IntentPayload{
		Category:       str(m, "category", "intent"),
		DocType:        str(m, "doc_type", "doc_tipo"),
		ClauseTypes:    strList(m, "clause_types", "extracto_tipos"),
		Focus:          str(m, "focus"),
		CompanyQuery:   str(m, "company_query", "empresa_query"),
		CompanyTaxID:   str(m, "company_tax_id", "empresa_nif"),
		IsFollowUp:     boolOf(m, "is_followup", "is_follow_up"),
		RewrittenQuery: str(m, "rewritten_query"),
	}
	if c, ok := legacyCategories[strings.ToUpper(p.Category)]; ok {
		p.Category = string(c)
	}
	return p, nil
}

// ParseQueryPlan decodes {"cypher": "...", "params": {...}}. Params that are not an object are dropped.
func ParseQueryPlan(content string) (query string, params map[string]any, err error) {
	defer recoverInto("query_plan_parser", &err)

	m, err := decodeObject(content, "query_plan_parser")
	if err != nil {
		return "", nil, err
	}
	query = strings.TrimSpace(str(m, "cypher", "query"))
	params, _ = m["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return query, params, nil
}

// ParseDraftPlan decodes the planner verdict; questions are capped at seven.
func ParseDraftPlan(content string) (plan model.DraftPlan, err error) {
	defer recoverInto("draft_plan_parser", &err)

	m, err := decodeObject(content, "draft_plan_parser")
	if err != nil {
		return model.DraftPlan{}, err
	}
	plan = model.DraftPlan{
		NeedClarification: boolOf(m, "need_clarification"),
		NormalizedRequest: strings.TrimSpace(str(m, "normalized_request")),
	}
	for _, q := range strList(m, "questions") {
		if q = strings.TrimSpace(q); q != "" {
			plan.Questions = append(plan.Questions, q)
		}
	}
	if len(plan.Questions) > maxQuestions {
		plan.Questions = plan.Questions[:maxQuestions]
	}
	return plan, nil
}

// ParseSuggestions accepts a bare JSON array or {"suggestions": [...]}.
func ParseSuggestions(content string) (out []string, err error) {
	defer recoverInto("suggestions_parser", &err)

	s := strings.TrimSpace(content)
	var list []any
	if arr := ExtractJSON(s, '[', ']'); strings.HasPrefix(arr, "[") {
		if jerr := json.Unmarshal([]byte(arr), &list); jerr != nil {
			list = nil
		}
	}
	if list == nil {
		m, derr := decodeObject(s, "suggestions_parser")
		if derr != nil {
			return nil, derr
		}
		list, _ = m["suggestions"].([]any)
	}
	for _, v := range list {
		if q, ok := v.(string); ok && strings.TrimSpace(q) != "" {
			out = append(out, strings.TrimSpace(q))
		}
	}
	return out, nil
}

// LooksLikeJSON reports whether text is a JSON document or contains a fenced JSON block.
func LooksLikeJSON(text string) bool {
	t := strings.TrimSpace(text)
	if strings.Contains(strings.ToLower(t), "```json") {
		return true
	}
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return false
	}
	var v any
	return json.Unmarshal([]byte(t), &v) == nil
}

// --- helpers ---

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64, bool:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func boolOf(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

func strList(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		arr, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
