package intent

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/parsers"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const emptyHistory = "(Sin historial previo)"

// Classifier is the model-backed fallback of the intent stage.
type Classifier struct {
	completer *providers.Completer
	conv      model.ConversationConfig
	cfg       model.ClassifierModelConfig
}

func NewClassifier(completer *providers.Completer, conv model.ConversationConfig, cfg model.ClassifierModelConfig) *Classifier {
	return &Classifier{completer: completer, conv: conv, cfg: cfg}
}

// Classify asks the model for a structured verdict. Any failure other than
// cancellation degrades to a plain RETRIEVAL result.
func (c *Classifier) Classify(ctx context.Context, in Input) (model.IntentResult, error) {
	msgs, err := prompts.IntentClassifier(ctx, c.historyText(in), in.Utterance)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to render intent prompt")
		return fallbackResult(), nil
	}

	content, err := c.completer.Complete(ctx, msgs,
		einomodel.WithTemperature(c.cfg.Temperature),
		einomodel.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		if ctx.Err() != nil {
			return model.IntentResult{}, ctx.Err()
		}
		logx.Warn().Err(err).Msg("Intent classifier unavailable, defaulting to retrieval")
		return fallbackResult(), nil
	}

	payload, err := parsers.ParseIntent(content)
	if err != nil {
		logx.Warn().Err(err).Str("raw", content).Msg("Unparsable intent output, defaulting to retrieval")
		return fallbackResult(), nil
	}
	return Sanitize(payload, in.Utterance), nil
}

func (c *Classifier) historyText(in Input) string {
	turns := model.Tail(in.History, c.conv.Classifier.MaxTurns)
	text := model.FormatTurns(turns, c.conv.Classifier.MaxTurnChars, "...")
	if text == "" {
		text = emptyHistory + "\n"
	}
	if !in.Memory.Empty() {
		text += stateHint(in.Memory)
	}
	return text
}

func stateHint(mem model.RouterMemory) string {
	category := string(mem.LastCategory)
	if category == "" {
		category = "N/D"
	}
	focus := string(mem.LastFocus)
	if focus == "" {
		focus = string(model.FocusContract)
	}
	return fmt.Sprintf("(Estado actual del sistema: Intención=%s, Foco=%s)", category, focus)
}

// Sanitize maps a raw classifier payload onto the closed enums.
func Sanitize(p *parsers.IntentPayload, utterance string) model.IntentResult {
	res := model.IntentResult{
		Category:    model.ParseCategory(p.Category),
		Focus:       model.ParseFocus(p.Focus),
		DocType:     model.ParseDocType(p.DocType),
		ClauseTypes: model.NormalizeClauseTypes(p.ClauseTypes),
		IsFollowUp:  p.IsFollowUp,
		Source:      "model",
	}
	if company, ok := CleanCompany(p.CompanyQuery); ok {
		res.CompanyQuery = company
	}
	res.CompanyTaxID = ExtractTaxID(p.CompanyTaxID)
	if res.CompanyTaxID == "" {
		res.CompanyTaxID = ExtractTaxID(utterance)
	}
	if p.RewrittenQuery != "" {
		res.RewrittenQuery = p.RewrittenQuery
		res.IsFollowUp = false
	}
	return res
}

func fallbackResult() model.IntentResult {
	return model.IntentResult{Category: model.CategoryRetrieval, Focus: model.FocusContract, Source: "fallback"}
}
