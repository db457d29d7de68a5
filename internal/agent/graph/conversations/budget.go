package conversations

import (
	"unicode/utf8"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

const truncationMarkerRunes = 5 // " […]"

// EstimateTokens is the character proxy used everywhere a prompt is sized.
func EstimateTokens(s string) int {
	return max(1, utf8.RuneCountInString(s)/4)
}

// TokenReport breaks down the estimated size of one completion request.
type TokenReport struct {
	System  int `json:"system"`
	History int `json:"history"`
	Context int `json:"context"`
	Total   int `json:"total"`
	Budget  int `json:"budget"`
}

// TrimHistory walks history newest to oldest and keeps turns while used+cost fits in budget.
// The first overflowing turn stops the walk. The result is in chronological order.
func TrimHistory(history []model.Turn, used, budget int) []model.Turn {
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Text)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	out := make([]model.Turn, len(history)-start)
	copy(out, history[start:])
	return out
}

// ClampContext cuts context so that system and context together fit in budget.
func ClampContext(system, context string, budget int) string {
	room := budget - EstimateTokens(system)
	if EstimateTokens(context) <= room {
		return context
	}
	keep := 4*room - truncationMarkerRunes
	if keep <= 0 {
		return ""
	}
	return model.Clip(context, keep)
}

// Fit applies the context ceiling, clamps the context against the budget and trims history.
func Fit(system, context string, history []model.Turn, cfg model.BudgetConfig) ([]model.Turn, string, TokenReport) {
	budget := cfg.MaxContextTokens - cfg.ReserveAnswerTokens
	context = model.Clip(context, cfg.ContextMaxChars())
	context = ClampContext(system, context, budget)

	rep := TokenReport{System: EstimateTokens(system), Context: EstimateTokens(context), Budget: budget}
	kept := TrimHistory(history, rep.System+rep.Context, budget)
	for _, t := range kept {
		rep.History += EstimateTokens(t.Text)
	}
	rep.Total = rep.System + rep.History + rep.Context
	return kept, context, rep
}
