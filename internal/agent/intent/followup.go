package intent

import (
	"regexp"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

const (
	maxFollowUpChars  = 160
	maxShortWords     = 8
	maxCandidateWords = 6
)

var (
	continuationRe = regexp.MustCompile(`(?i)^\s*(y|adem[aá]s|tamb[ií]en|otra\s+cosa)\b`)
	detailRe       = regexp.MustCompile(`(?i)\b(importe|presupuesto|duraci[oó]n|plazo|fecha|cuando|cu[aá]ndo|qui[eé]n(?:es)?|cu[aá]l(?:es)?|detalles?` +
		`|normativa|ley|lcsp|rglcap|ens|protecci[oó]n\s+de\s+datos|rgpd|qu[eé]\s+va|qu[eé]\s+pasa|objetivo|objeto|descripci[oó]n)\b`)
)

// HasDetailKeyword reports whether the utterance asks for a detail of the current topic.
func HasDetailKeyword(q string) bool {
	return detailRe.MatchString(q)
}

// IsNewEntity reports whether q is a short company-like candidate with no detail keyword.
// "y Vodafone?" is a new entity; "y el importe?" is not.
func IsNewEntity(q string) bool {
	c, ok := CleanCompany(q)
	return ok && wordCount(c) <= maxCandidateWords && !HasDetailKeyword(q)
}

// IsContextualFollowUp decides, without the model, whether q continues the previous topic.
func IsContextualFollowUp(q string, history []model.Turn, mem model.RouterMemory) bool {
	if len(history) == 0 || mem.Empty() {
		return false
	}
	if len([]rune(q)) > maxFollowUpChars {
		return false
	}
	if IsNewEntity(q) {
		return false
	}
	switch {
	case continuationRe.MatchString(q):
		return true
	case strings.Contains(q, "?") && HasDetailKeyword(q):
		return true
	case wordCount(q) <= maxShortWords && HasDetailKeyword(q):
		return true
	}
	return false
}

// fromMemory copies focus and filters of the previous turn into a follow-up result.
func fromMemory(mem model.RouterMemory, source string) model.IntentResult {
	focus := mem.LastFocus
	if focus == "" {
		focus = model.FocusContract
	}
	return model.IntentResult{
		Category:     model.CategoryRetrieval,
		Focus:        focus,
		CompanyQuery: mem.LastCompanyQuery,
		CompanyTaxID: mem.LastCompanyTaxID,
		DocType:      mem.LastDocType,
		ClauseTypes:  append([]string(nil), mem.LastClauseTypes...),
		IsFollowUp:   true,
		Source:       source,
	}
}
