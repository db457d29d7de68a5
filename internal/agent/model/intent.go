package model

import "strings"

// Category is the closed set of operations a turn can be routed to.
type Category string

const (
	CategoryGreeting          Category = "GREETING"
	CategoryStructuredQuery   Category = "STRUCTURED_QUERY"
	CategoryRetrieval         Category = "RETRIEVAL"
	CategoryDraftDocument     Category = "DRAFT_DOCUMENT"
	CategoryPlainConversation Category = "PLAIN_CONVERSATION"
)

// Focus says whether the conversation is centred on a company or on contracts/topics.
type Focus string

const (
	FocusContract Focus = "CONTRACT"
	FocusCompany  Focus = "COMPANY"
)

// Document types stored on TIENE_DOC relationships.
const (
	DocTypePPT  = "PPT"
	DocTypePCAP = "PCAP"
)

// ClauseTypes is the closed vocabulary of extract types.
var ClauseTypes = []string{
	"normativa",
	"garantia_definitiva",
	"garantia_otros_tipos",
	"solvencia_tecnica",
	"solvencia_economica",
	"criterios_ambientales",
	"clausulas_sociales",
	"clausulas_igualdad_genero",
}

// IntentResult is produced once per turn by the intent stage and never mutated afterwards.
type IntentResult struct {
	Category       Category `json:"category"`
	Focus          Focus    `json:"focus"`
	CompanyQuery   string   `json:"company_query,omitempty"`
	CompanyTaxID   string   `json:"company_tax_id,omitempty"`
	DocType        string   `json:"doc_type,omitempty"`
	ClauseTypes    []string `json:"clause_types,omitempty"`
	IsFollowUp     bool     `json:"is_followup"`
	RewrittenQuery string   `json:"rewritten_query,omitempty"`
	// Source names the lexical rule that fired, or "model" / "fallback".
	Source string `json:"source,omitempty"`
}

// ParseCategory maps any value to a known category; unknown values become RETRIEVAL.
func ParseCategory(v string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(v))) {
	case CategoryGreeting:
		return CategoryGreeting
	case CategoryStructuredQuery:
		return CategoryStructuredQuery
	case CategoryDraftDocument:
		return CategoryDraftDocument
	case CategoryPlainConversation:
		return CategoryPlainConversation
	default:
		return CategoryRetrieval
	}
}

// ParseFocus maps any value to a known focus; unknown or empty becomes CONTRACT.
func ParseFocus(v string) Focus {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(FocusCompany), "EMPRESA":
		return FocusCompany
	default:
		return FocusContract
	}
}

// ParseDocType keeps PPT and PCAP, anything else is dropped.
func ParseDocType(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case DocTypePPT:
		return DocTypePPT
	case DocTypePCAP:
		return DocTypePCAP
	default:
		return ""
	}
}

// NormalizeClauseTypes keeps only known clause types, preserving order and dropping duplicates.
// It returns nil when nothing survives.
func NormalizeClauseTypes(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if seen[t] || !knownClauseType(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func knownClauseType(t string) bool {
	for _, k := range ClauseTypes {
		if k == t {
			return true
		}
	}
	return false
}
