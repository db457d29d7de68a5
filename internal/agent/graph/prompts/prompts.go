package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

var (
	//go:embed template/intent_classifier.txt
	intentClassifierPrompt string
	//go:embed template/cypher_generation.txt
	cypherGenerationPrompt string
	//go:embed template/cypher_narration_system.txt
	cypherNarrationSystem string
	//go:embed template/cypher_narration_user.txt
	cypherNarrationUser string
	//go:embed template/draft_clarification.txt
	draftClarificationPrompt string
	//go:embed template/draft_generation_system.txt
	draftGenerationSystem string
	//go:embed template/draft_generation_user.txt
	draftGenerationUser string
	//go:embed template/plain_chat_system.txt
	plainChatSystem string
	//go:embed template/plain_chat_user.txt
	plainChatUser string
	//go:embed template/followups.txt
	followUpsPrompt string
	//go:embed template/memory_summary.txt
	memorySummaryPrompt string
	//go:embed template/schema_hint.txt
	schemaHint string
)

const (
	jsonOnlySystem      = "Devuelve SOLO JSON válido."
	followUpsSystem     = "Genera preguntas de seguimiento. Responde SOLO JSON."
	memorySummarySystem = "Eres un asistente que resume de forma concisa."

	// RAGSystem grounds retrieval answers in the assembled context.
	RAGSystem = "Eres un asistente experto en contratación pública. Respondes SOLO con la información del contexto. No inventas datos."
)

// Now is the clock used for the date line of the prompts.
var Now = time.Now

func today() string {
	return Now().Format("2006-01-02")
}

// SchemaHint returns the curated description of the procurement graph.
func SchemaHint() string {
	return strings.TrimSpace(schemaHint)
}

// render formats a system+user pair through the Eino prompt component so prompt callbacks fire.
func render(ctx context.Context, name, system, user string, vars map[string]any) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(strings.TrimSpace(system)),
		schema.UserMessage(strings.TrimSpace(user)),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("%s prompt render: unexpected result", name)
	}
	return msgs, nil
}

// IntentClassifier renders the model fallback of the intent stage.
func IntentClassifier(ctx context.Context, history, question string) ([]*schema.Message, error) {
	return render(ctx, "intent_classifier", jsonOnlySystem, intentClassifierPrompt, map[string]any{
		"Today":       today(),
		"ClauseTypes": strings.Join(model.ClauseTypes, ", "),
		"History":     history,
		"Question":    question,
	})
}

// CypherGeneration renders the structured query plan request. errorHint may be empty.
func CypherGeneration(ctx context.Context, question, hint, errorHint string) ([]*schema.Message, error) {
	return render(ctx, "cypher_generation", jsonOnlySystem, cypherGenerationPrompt, map[string]any{
		"Today":      today(),
		"SchemaHint": hint,
		"ErrorHint":  errorHint,
		"Question":   question,
	})
}

// CypherNarration asks the model to explain a small result set.
func CypherNarration(ctx context.Context, question, query, rowsJSON string) ([]*schema.Message, error) {
	return render(ctx, "cypher_narration", cypherNarrationSystem, cypherNarrationUser, map[string]any{
		"Question": question,
		"Query":    query,
		"Rows":     rowsJSON,
	})
}

// DraftClarification renders the planner verdict request.
func DraftClarification(ctx context.Context, request string) ([]*schema.Message, error) {
	return render(ctx, "draft_clarification", jsonOnlySystem, draftClarificationPrompt, map[string]any{
		"Today":   today(),
		"Request": request,
	})
}

// DraftGeneration renders the document generation request.
func DraftGeneration(ctx context.Context, request, expediente, referenceTitle, chapters string) ([]*schema.Message, error) {
	return render(ctx, "draft_generation", draftGenerationSystem, draftGenerationUser, map[string]any{
		"Today":          today(),
		"Request":        request,
		"Expediente":     expediente,
		"ReferenceTitle": referenceTitle,
		"Chapters":       chapters,
	})
}

// PlainChat renders a conversation-only answer request.
func PlainChat(ctx context.Context, history, question string) ([]*schema.Message, error) {
	return render(ctx, "plain_chat", plainChatSystem, plainChatUser, map[string]any{
		"History":  history,
		"Question": question,
	})
}

// FollowUps renders the suggestion request.
func FollowUps(ctx context.Context, question, answer string, count int) ([]*schema.Message, error) {
	return render(ctx, "followups", followUpsSystem, followUpsPrompt, map[string]any{
		"Count":    count,
		"Question": question,
		"Answer":   answer,
	})
}

// MemorySummary renders the compression request for long answers.
func MemorySummary(ctx context.Context, text string, maxTokens int) ([]*schema.Message, error) {
	return render(ctx, "memory_summary", memorySummarySystem, memorySummaryPrompt, map[string]any{
		"MaxTokens": maxTokens,
		"Text":      text,
	})
}

// Answer builds the message list for a grounded answer: system, trimmed history, context.
func Answer(system string, history []model.Turn, userContext string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	for _, t := range history {
		if t.Speaker == model.SpeakerUser {
			msgs = append(msgs, schema.UserMessage(t.Text))
		} else {
			msgs = append(msgs, schema.AssistantMessage(t.Text, nil))
		}
	}
	return append(msgs, schema.UserMessage(userContext))
}
