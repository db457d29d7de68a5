package conversations

import (
	"fmt"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

const (
	abstractClip = 1000
	chapterClip  = 900
	extractClip  = 700
	snippetWidth = 220
	notAvailable = "N/D"
)

const contextInstructions = "\n=== INSTRUCCIONES PARA EL MODELO ===\n" +
	"Responde basándote EXCLUSIVAMENTE en el contexto anterior.\n" +
	"Si no hay información suficiente, dilo.\n" +
	"Si un contrato incluye una línea 'Enlace:', inclúyela al citar ese contrato, pero sin enseñar todo el link.\n" +
	"Si lo crees conveniente, genera tablas para ofrecer resultados.\n" +
	"No inventes datos.\n" +
	"Respuesta en castellano, clara, breve y concisa."

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func amountOrNA(v *float64) string {
	if v == nil || *v == 0 {
		return notAvailable
	}
	return fmt.Sprintf("%.2f", *v)
}

// BuildContext renders the evidence as the user-side context of a retrieval answer,
// hard-truncated to maxChars.
func BuildContext(question string, b *model.EvidenceBundle, maxChars int) string {
	var sb strings.Builder
	sb.WriteString("=== PREGUNTA DEL USUARIO ===\n")
	sb.WriteString(strings.TrimSpace(question))

	if b != nil && len(b.Contracts) > 0 {
		sb.WriteString("\n\n=== CONTRATOS RELEVANTES ===")
		for _, c := range b.Contracts {
			fmt.Fprintf(&sb, "\n- Expediente: %s | Estado: %s\n  Título: %s\n", orNA(c.Expediente), orNA(c.Status), orNA(c.Title))
			if link := strings.TrimSpace(c.Link); link != "" {
				fmt.Fprintf(&sb, "  Enlace: %s\n", link)
			}
			fmt.Fprintf(&sb, "  CPV principal: %s\n", orNA(c.CPV))
			fmt.Fprintf(&sb, "  Adjudicataria: %s (NIF: %s)\n", orNA(c.AwardeeName), orNA(c.AwardeeTaxID))
			fmt.Fprintf(&sb, "  Presupuesto s/IVA: %s | Importe adjudicado: %s\n", amountOrNA(c.BudgetNoVAT), amountOrNA(c.AwardedAmount))
			fmt.Fprintf(&sb, "  Resumen: %s", model.Clip(c.Abstract, abstractClip))
		}
	}

	if b != nil && len(b.Chapters) > 0 {
		sb.WriteString("\n\n=== CAPÍTULOS RELEVANTES ===")
		for _, ch := range b.Chapters {
			fmt.Fprintf(&sb, "\n- Contrato %s | Capítulo %s (%s)\n  Texto: %s",
				orNA(ch.Expediente), orNA(ch.Heading), ch.DocType, model.Clip(ch.Text, chapterClip))
		}
	}

	if b != nil && len(b.Extracts) > 0 {
		sb.WriteString("\n\n=== EXTRACTOS RELEVANTES ===")
		for _, ex := range b.Extracts {
			fmt.Fprintf(&sb, "\n- Contrato %s | Tipo: %s (%s)\n  Texto: %s",
				orNA(ex.Expediente), orNA(ex.ClauseType), ex.DocType, model.Clip(ex.Text, extractClip))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(contextInstructions)
	return model.Clip(sb.String(), maxChars)
}

// CompanyHeader prefixes a company-focused context.
func CompanyHeader(query, taxID string) string {
	if taxID != "" {
		return fmt.Sprintf("Focus: EMPRESA (Query: '%s', NIF: %s)", query, taxID)
	}
	return fmt.Sprintf("Focus: EMPRESA (Query: '%s')", query)
}

// Shorten collapses whitespace and cuts on a word boundary so the result,
// placeholder included, is at most width runes.
func Shorten(text string, width int) string {
	words := strings.Fields(text)
	joined := strings.Join(words, " ")
	if len([]rune(joined)) <= width {
		return joined
	}
	const placeholder = " […]"
	limit := width - len([]rune(placeholder))
	var sb strings.Builder
	n := 0
	for _, w := range words {
		wl := len([]rune(w))
		extra := wl
		if n > 0 {
			extra++
		}
		if n+extra > limit {
			break
		}
		if n > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
		n += extra
	}
	if n == 0 {
		return strings.TrimSpace(placeholder)
	}
	return sb.String() + placeholder
}

// EvidenceMarkdown lists the evidence used for an answer, for the sidebar.
func EvidenceMarkdown(b *model.EvidenceBundle) string {
	lines := []string{"### Evidencias utilizadas"}
	if b == nil {
		return lines[0]
	}
	if len(b.Contracts) > 0 {
		lines = append(lines, "", "**Contratos relevantes**")
		for _, c := range b.Contracts {
			lines = append(lines, fmt.Sprintf("- Expediente **%s** · Título: %s · Adjudicataria: %s (importe adjudicado: %s)",
				orNA(c.Expediente), orNA(c.Title), orNA(c.AwardeeName), amountOrNA(c.AwardedAmount)))
		}
	}
	if len(b.Chapters) > 0 {
		lines = append(lines, "", "**Capítulos relevantes**")
		for _, ch := range b.Chapters {
			lines = append(lines, fmt.Sprintf("- Contrato **%s**, capítulo _%s_ (%s): %s",
				orNA(ch.Expediente), orNA(ch.Heading), ch.DocType, Shorten(ch.Text, snippetWidth)))
		}
	}
	if len(b.Extracts) > 0 {
		lines = append(lines, "", "**Extractos relevantes**")
		for _, ex := range b.Extracts {
			lines = append(lines, fmt.Sprintf("- Contrato **%s**, tipo _%s_ (%s): %s",
				orNA(ex.Expediente), orNA(ex.ClauseType), ex.DocType, Shorten(ex.Text, snippetWidth)))
		}
	}
	return strings.Join(lines, "\n")
}
