package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

const truncatedSuffix = "... (contenido truncado)"

// Assembled is a budgeted completion request for a retrieval answer.
type Assembled struct {
	Messages []*schema.Message
	History  []model.Turn
	Context  string
	Report   TokenReport
}

// MessagesManager turns session history and evidence into bounded prompts.
type MessagesManager struct {
	budget model.BudgetConfig
	conv   model.ConversationConfig
}

func NewMessagesManager(budget model.BudgetConfig, conv model.ConversationConfig) *MessagesManager {
	return &MessagesManager{budget: budget, conv: conv}
}

// =========== Retrieval answers ===========

// RetrievalPrompt renders the evidence context, optionally prefixed with header, and fits
// it together with the recent history into the configured budget.
func (cm *MessagesManager) RetrievalPrompt(question, header string, bundle *model.EvidenceBundle, history []model.Turn) Assembled {
	ctx := BuildContext(question, bundle, cm.budget.ContextMaxChars())
	if header != "" {
		ctx = header + "\n\n" + ctx
	}
	recent := trimTail(history, cm.conv.MaxHistoryTurns)
	kept, ctx, rep := Fit(prompts.RAGSystem, ctx, recent, cm.budget)
	return Assembled{
		Messages: prompts.Answer(prompts.RAGSystem, kept, ctx),
		History:  kept,
		Context:  ctx,
		Report:   rep,
	}
}

// =========== Plain conversation ===========

// PlainChatHistory renders the last turns for the conversation-only prompt.
func (cm *MessagesManager) PlainChatHistory(history []model.Turn) string {
	recent := trimTail(history, cm.conv.PlainChat.MaxTurns)
	return strings.TrimRight(model.FormatTurns(recent, cm.conv.PlainChat.MaxTurnChars, truncatedSuffix), "\n")
}

// ====================== Helper function ======================
func trimTail(turns []model.Turn, maxTurns int) []model.Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		result := make([]model.Turn, len(turns))
		copy(result, turns)
		return result
	}
	source := turns[len(turns)-maxTurns:]
	result := make([]model.Turn, len(source))
	copy(result, source)
	return result
}
