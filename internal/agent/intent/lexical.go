package intent

import (
	"regexp"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

// Input is everything the cascade may look at.
type Input struct {
	Utterance string
	History   []model.Turn
	Memory    model.RouterMemory
}

// Rule is one deterministic predicate+extractor. Rules are tried in order; the first match wins.
type Rule struct {
	Name  string
	Match func(Input) (model.IntentResult, bool)
}

// RE2 word boundaries are ASCII only, so patterns that may start with an accented letter
// use an explicit letter/digit boundary instead of \b.
const lb = `(?:^|[^\p{L}\p{N}_])`

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*[¡¿]?\s*(hola|gracias|adios|adiós|buenas|buenos\s+d[ií]as|buenas\s+tardes|buenas\s+noches|hey|hello|hi|qu[eé]\s+tal)\s*[!.?,¡¿]*\s*$`)

	countWonRe    = regexp.MustCompile(`(?i)` + lb + `cu[aá]ntos?\s+contratos?\s+ha\s+ganado\s+(.+)$`)
	totalAmountRe = regexp.MustCompile(`(?i)` + lb + `(importe\s+total|total\s+adjudicado|cu[aá]nto\s+(?:dinero|importe))` + `.*` + lb + `(ha\s+ganado|adjudicado|a)\s+(.+)$`)

	ySimpleRe = regexp.MustCompile(`(?i)^\s*¿?\s*y\s+(.+?)(?:\s+ha\s+ganado.*)?\s*[?¿!]*\s*$`)

	anaphoraRe = regexp.MustCompile(`(?i)` + lb + `(?:(?:en|sobre|respecto\s+a|acerca\s+de|del|de\s+la|de)\s+)?` +
		`(?:el|la|los|las)?\s*` +
		`(ese|este|esa|esta|dicho|dicha|anterior|previo|[uú]ltimo|[uú]ltima|primer|primero|primera|segundo|segunda|tercer|tercero|tercera|cuarto|quinto)\s+` +
		`(contrato|expediente|pliego|texto|caso|opci[oó]n|tabla)` + `(?:$|[^\p{L}\p{N}_])`)
	anaphoraPostRe = regexp.MustCompile(`(?i)` + lb + `(contrato|expediente|pliego)\s+(anterior|previo|mencionado)` + `(?:$|[^\p{L}\p{N}_])`)

	companyMentionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:busca|buscas|buscar)\s+(?:info|informaci[oó]n)\s+(?:sobre|de)\s+(.+)$`),
		regexp.MustCompile(`(?i)\b(?:adjudicaciones|contratos)\s+(?:de|del)\s+(.+)$`),
		regexp.MustCompile(`(?i)` + lb + `qu[eé]\s+contratos?\s+(?:ha\s+)?ganado\s+(.+)$`),
		regexp.MustCompile(`(?i)\b(?:ha\s+)?ganado\s+(?:contratos?\s+)?(.+)$`),
	}
)

// Rules is the lexical cascade, in priority order.
var Rules = []Rule{
	{Name: "greeting", Match: matchGreeting},
	{Name: "company_aggregation", Match: matchCompanyAggregation},
	{Name: "elliptical_company", Match: matchEllipticalCompany},
	{Name: "anaphoric", Match: matchAnaphoric},
	{Name: "company_mention", Match: matchCompanyMention},
	{Name: "short_followup", Match: matchShortFollowUp},
}

// Lexical runs the deterministic rules and reports the first hit.
func Lexical(in Input) (model.IntentResult, bool) {
	in.Utterance = strings.TrimSpace(in.Utterance)
	if in.Utterance == "" {
		return model.IntentResult{}, false
	}
	for _, r := range Rules {
		if res, ok := r.Match(in); ok {
			res.Source = r.Name
			return res, true
		}
	}
	return model.IntentResult{}, false
}

func matchGreeting(in Input) (model.IntentResult, bool) {
	if !greetingRe.MatchString(in.Utterance) {
		return model.IntentResult{}, false
	}
	return model.IntentResult{Category: model.CategoryGreeting, Focus: model.FocusContract}, true
}

func matchCompanyAggregation(in Input) (model.IntentResult, bool) {
	var candidate string
	if m := countWonRe.FindStringSubmatch(in.Utterance); m != nil {
		candidate = m[1]
	} else if m := totalAmountRe.FindStringSubmatch(in.Utterance); m != nil {
		candidate = m[3]
	} else {
		return model.IntentResult{}, false
	}
	company, ok := CleanCompany(candidate)
	if !ok {
		return model.IntentResult{}, false
	}
	return model.IntentResult{
		Category:     model.CategoryStructuredQuery,
		Focus:        model.FocusCompany,
		CompanyQuery: company,
		CompanyTaxID: ExtractTaxID(in.Utterance),
	}, true
}

func matchEllipticalCompany(in Input) (model.IntentResult, bool) {
	if in.Memory.LastFocus != model.FocusCompany {
		return model.IntentResult{}, false
	}
	m := ySimpleRe.FindStringSubmatch(in.Utterance)
	if m == nil {
		return model.IntentResult{}, false
	}
	company, ok := CleanCompany(m[1])
	if !ok || wordCount(company) > maxCandidateWords || HasDetailKeyword(in.Utterance) {
		return model.IntentResult{}, false
	}
	return model.IntentResult{
		Category:     model.CategoryRetrieval,
		Focus:        model.FocusCompany,
		CompanyQuery: company,
		CompanyTaxID: ExtractTaxID(company),
		IsFollowUp:   true,
	}, true
}

func matchAnaphoric(in Input) (model.IntentResult, bool) {
	if !in.Memory.HasContracts() {
		return model.IntentResult{}, false
	}
	if !anaphoraRe.MatchString(in.Utterance) && !anaphoraPostRe.MatchString(in.Utterance) {
		return model.IntentResult{}, false
	}
	return fromMemory(in.Memory, ""), true
}

func matchCompanyMention(in Input) (model.IntentResult, bool) {
	for _, re := range companyMentionRes {
		m := re.FindStringSubmatch(in.Utterance)
		if m == nil {
			continue
		}
		company, ok := CleanCompany(m[1])
		if !ok {
			continue
		}
		return model.IntentResult{
			Category:     model.CategoryRetrieval,
			Focus:        model.FocusCompany,
			CompanyQuery: company,
			CompanyTaxID: ExtractTaxID(in.Utterance),
		}, true
	}
	return model.IntentResult{}, false
}

func matchShortFollowUp(in Input) (model.IntentResult, bool) {
	if !IsContextualFollowUp(in.Utterance, in.History, in.Memory) {
		return model.IntentResult{}, false
	}
	return fromMemory(in.Memory, ""), true
}
