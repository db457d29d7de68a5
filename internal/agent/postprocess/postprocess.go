// Package postprocess finishes a turn: it compresses long answers for memory,
// appends the exchange to the bounded history, proposes follow-up questions and
// commits the staged router memory.
package postprocess

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/parsers"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	suggestTemperature = float32(0.5)
	suggestMaxTokens   = 300
	suggestAnswerRunes = 1500
	summaryTemperature = float32(0.1)
)

type Processor struct {
	completer    *providers.Completer
	cfg          model.PostProcessConfig
	summaryLimit int
	maxHistory   int
}

// New returns a Processor. summaryTokens bounds the memory summaries and
// maxHistory the number of history entries kept.
func New(completer *providers.Completer, cfg model.PostProcessConfig, summaryTokens, maxHistory int) *Processor {
	return &Processor{completer: completer, cfg: cfg, summaryLimit: summaryTokens, maxHistory: maxHistory}
}

// IsTable reports answers rendered as Markdown tables; those are kept verbatim in memory.
func IsTable(answer string) bool {
	return strings.Contains(answer, "---") && strings.Contains(answer, "|")
}

// ShouldSuggest decides whether the turn earns follow-up suggestions.
func ShouldSuggest(st *model.TurnState, cfg model.PostProcessConfig) bool {
	if st.Failure != nil || strings.TrimSpace(st.Answer) == "" {
		return false
	}
	if st.DraftState == model.DraftAwaitingClarification {
		return false
	}
	n := len([]rune(st.Answer))
	switch {
	case st.Aggregation:
		return true
	case st.Intent.Category == model.CategoryPlainConversation:
		return n > cfg.PlainSuggestMinChars
	case st.Intent.Category == model.CategoryGreeting:
		return false
	}
	return n >= cfg.SuggestMinChars && !st.Evidence.Empty()
}

// Process runs the post-processing steps on st. It never fails the turn: model
// errors only drop the summary or the suggestions.
func (p *Processor) Process(ctx context.Context, st *model.TurnState) {
	memoryText := p.MemoryText(ctx, st.Answer)
	st.Session.AppendExchange(st.Original, memoryText, p.maxHistory)

	if ShouldSuggest(st, p.cfg) {
		st.Suggestions = p.Suggest(ctx, st.Original, st.Answer)
	}

	if st.Intent.Category != "" {
		st.Memory.LastCategory = st.Intent.Category
	}
	st.Session.Memory = st.Memory
	logx.Debug().
		Str("turn_id", st.TurnID).
		Int("history", len(st.Session.History)).
		Int("suggestions", len(st.Suggestions)).
		Msg("Turn post-processed")
}

// MemoryText returns what the history keeps for answer: long non-table answers
// are summarized by the model.
func (p *Processor) MemoryText(ctx context.Context, answer string) string {
	if len([]rune(answer)) <= p.cfg.SummarizeAboveChars || IsTable(answer) {
		return answer
	}
	msgs, err := prompts.MemorySummary(ctx, answer, p.summaryLimit)
	if err == nil {
		var summary string
		summary, err = p.completer.Complete(ctx, msgs,
			einomodel.WithTemperature(summaryTemperature),
			einomodel.WithMaxTokens(p.summaryLimit),
		)
		if err == nil && summary != "" {
			return summary
		}
	}
	if err != nil {
		logx.Warn().Err(err).Msg("Memory summary failed, clipping answer")
	}
	return model.Clip(answer, p.cfg.SummarizeAboveChars)
}

// Suggest asks the model for follow-up questions, deduplicated and clipped.
func (p *Processor) Suggest(ctx context.Context, question, answer string) []string {
	count := max(p.cfg.MaxSuggestions, 1)
	msgs, err := prompts.FollowUps(ctx, question, clipRunes(answer, suggestAnswerRunes), count)
	if err != nil {
		logx.Warn().Err(err).Msg("Suggestion prompt failed")
		return nil
	}
	content, err := p.completer.Complete(ctx, msgs,
		einomodel.WithTemperature(suggestTemperature),
		einomodel.WithMaxTokens(suggestMaxTokens),
	)
	if err != nil {
		logx.Warn().Err(err).Msg("Suggestion generation failed")
		return nil
	}
	list, err := parsers.ParseSuggestions(content)
	if err != nil {
		logx.Debug().Err(err).Msg("Unparsable suggestions")
		return nil
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(question)): true}
	out := make([]string, 0, count)
	for _, s := range list {
		s = clipRunes(s, p.cfg.SuggestionMaxChars)
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == count {
			break
		}
	}
	return out
}

func clipRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); n > 0 && len(r) > n {
		return strings.TrimSpace(string(r[:n]))
	}
	return s
}
