package intent

import (
	"regexp"
	"strings"
)

var (
	taxIDRe        = regexp.MustCompile(`(?i)\b([A-Z]\d{8})\b`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
	leadingConnRe  = regexp.MustCompile(`(?i)^(contratos\s+de\s+|contrato\s+de\s+|de\s+|del\s+|sobre\s+|acerca\s+de\s+)`)
	trailingVerbRe = regexp.MustCompile(`(?i)(\s+ha\s+ganado.*|\s+ganados?.*|\s+contratos?.*)$`)
	yearRe         = regexp.MustCompile(`^\d{4}$`)
)

// demonstratives are never company names.
var demonstratives = map[string]bool{
	"eso": true, "esa": true, "ese": true, "ella": true, "ello": true,
	"esto": true, "esta": true, "este": true,
	"aquí": true, "ahí": true, "aqui": true, "ahi": true,
}

// fillers are what is left when a verb phrase swallowed the real object
// ("quién ha ganado más contratos", "ha ganado el contrato ...").
var fillers = map[string]bool{
	"el": true, "la": true, "los": true, "las": true, "lo": true, "un": true, "una": true,
	"más": true, "mas": true, "menos": true, "que": true, "qué": true, "algo": true,
}

const companyPunct = " ?¿!.,;:"

// CleanCompany normalizes a company candidate. It returns false for empty
// results, demonstratives, bare years and "en ..." phrases.
func CleanCompany(s string) (string, bool) {
	t := spaceRunRe.ReplaceAllString(strings.TrimSpace(s), " ")
	t = strings.TrimSpace(strings.Trim(t, companyPunct))
	if t == "" {
		return "", false
	}

	// Cut on the original string so the caller's casing survives.
	if loc := leadingConnRe.FindStringIndex(t); loc != nil {
		t = t[loc[1]:]
	}
	if loc := trailingVerbRe.FindStringIndex(t); loc != nil {
		t = t[:loc[0]]
	}
	t = strings.TrimSpace(strings.Trim(t, companyPunct))
	low := strings.ToLower(t)

	switch {
	case t == "":
		return "", false
	case demonstratives[low], fillers[low]:
		return "", false
	case yearRe.MatchString(t):
		return "", false
	case strings.HasPrefix(low, "en "):
		return "", false
	}
	return t, true
}

// ExtractTaxID returns the first CIF-like token (letter + 8 digits), upper-cased.
func ExtractTaxID(text string) string {
	m := taxIDRe.FindStringSubmatch(strings.ToUpper(text))
	if m == nil {
		return ""
	}
	return m[1]
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
