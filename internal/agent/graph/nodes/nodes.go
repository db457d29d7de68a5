package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/techfriendly/xpider-huelva/internal/agent/cypher"
	"github.com/techfriendly/xpider-huelva/internal/agent/draft"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/conversations"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/intent"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/postprocess"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	"github.com/techfriendly/xpider-huelva/internal/agent/retrieval"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	NodeRouter            = "Router"
	NodeGreeting          = "Greeting"
	NodeStructuredQuery   = "StructuredQuery"
	NodeRetrieval         = "Retrieval"
	NodeDraftPlan         = "DraftPlan"
	NodeDraftGenerate     = "DraftGenerate"
	NodePlainConversation = "PlainConversation"
	NodePostProcess       = "PostProcess"
)

const (
	// ForcedSearchPrefix marks a question re-routed from plain conversation to retrieval.
	ForcedSearchPrefix = "busca en base de datos: "

	greetingAnswer = "Hola. Dime qué necesitas buscar.\n\n" +
		"Ejemplos:\n" +
		"- \"¿Qué contratos ha ganado Techfriendly?\"\n" +
		"- \"¿Me haces un pliego de prescripciones técnicas para el Suministro de un vehículo 4x4 para el servicio forestal?\"\n" +
		"- \"Top 10 adjudicatarias por importe adjudicado\""

	insufficientAnswer  = "No he encontrado información relevante en el grafo para responder a esta pregunta."
	emptyAnswer         = "No he podido procesar tu solicitud."
	internalErrorAnswer = "Se ha producido un error interno al procesar tu solicitud. Por favor, inténtalo de nuevo."
	companyNotFound     = "No he encontrado la empresa '%s' en el grafo."
	unsafeQueryAnswer   = "No he podido ejecutar la consulta: la consulta generada no es de solo lectura y se ha bloqueado.\n\n```cypher\n%s\n```"
	fallbackNotice      = "ℹ️ No encuentro esta información en lo hablado hasta ahora. Consultando la base de datos...\n\n"

	companyMatches   = 3
	companyContracts = 12
	plainMaxTokens   = 1000
)

var missingInfoPhrases = []string{
	"no se dispone de información",
	"no aparece en el historial",
	"no tengo datos sobre",
	"no he encontrado",
	"desconozco",
}

// IntentDetector runs the intent cascade.
type IntentDetector interface {
	Detect(ctx context.Context, in intent.Input) (model.IntentResult, error)
}

// StructuredAnswerer generates, gates and runs read-only queries.
type StructuredAnswerer interface {
	Answer(ctx context.Context, question string) (model.QueryOutcome, error)
}

// CompanyCatalog answers company-level aggregations without the model.
type CompanyCatalog interface {
	CompanyStats(ctx context.Context, query, taxID string) (*model.CompanyStats, error)
	ContractsByCompany(ctx context.Context, query, taxID string, kCompanies, kContracts int) ([]model.Contract, error)
}

// Retriever selects and runs the retrieval strategy.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// DraftPlanner decides between clarifying and drafting.
type DraftPlanner interface {
	Assess(ctx context.Context, utterance string, mem model.RouterMemory) (draft.Decision, error)
}

// DraftWriter produces the document.
type DraftWriter interface {
	Generate(ctx context.Context, request string, sink model.StreamSink) (*draft.Draft, error)
}

// ======================== Router ========================

// NewRouterNode detects the intent of the current question and applies the
// draft overrides: a structured reply to a pending draft keeps drafting, any
// other intent cancels it.
func NewRouterNode(detector IntentDetector) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		res, err := detector.Detect(ctx, intent.Input{
			Utterance: st.Question,
			History:   st.Session.History,
			Memory:    st.Memory,
		})
		if err != nil {
			return fail(ctx, st, NodeRouter, err)
		}

		if res.RewrittenQuery != "" {
			st.Question = res.RewrittenQuery
			// a rewritten question is a fresh search
			res.IsFollowUp = false
		}
		if res.Focus == "" {
			res.Focus = model.FocusContract
		}
		if st.ForceRetrieval && res.Category != model.CategoryRetrieval {
			res.Category = model.CategoryRetrieval
		}
		if st.Memory.DraftPending && draft.IsStructuredReply(st.Question) {
			res.Category = model.CategoryDraftDocument
		}
		if st.Memory.DraftPending && res.Category != model.CategoryDraftDocument {
			logx.Debug().Str("turn_id", st.TurnID).Msg("Pending draft cancelled by a new topic")
			st.Memory.ClearDraft()
		}

		st.Intent = res
		logx.Debug().
			Str("turn_id", st.TurnID).
			Str("intent", string(res.Category)).
			Str("focus", string(res.Focus)).
			Str("source", res.Source).
			Bool("followup", res.IsFollowUp).
			Msg("Intent resolved")
		return st, nil
	})
}

// NewRouterCondition routes on the intent category.
func NewRouterCondition() func(context.Context, *model.TurnState) (string, error) {
	return func(ctx context.Context, st *model.TurnState) (string, error) {
		if st.Failure != nil {
			return NodePostProcess, nil
		}
		switch st.Intent.Category {
		case model.CategoryGreeting:
			return NodeGreeting, nil
		case model.CategoryStructuredQuery:
			return NodeStructuredQuery, nil
		case model.CategoryDraftDocument:
			return NodeDraftPlan, nil
		case model.CategoryPlainConversation:
			return NodePlainConversation, nil
		}
		return NodeRetrieval, nil
	}
}

// ======================== Greeting ========================

// NewGreetingNode answers greetings without touching any external service.
func NewGreetingNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		st.Answer = greetingAnswer
		return st, nil
	})
}

// ======================== Structured query ========================

// NewStructuredQueryNode answers aggregations: company statistics straight from
// the catalog, everything else through a generated read-only query. Questions
// handed over by Retrieval are rankings a single company cannot answer, so they
// always go to the generated query.
func NewStructuredQueryNode(gen StructuredAnswerer, companies CompanyCatalog) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		if st.Intent.Focus == model.FocusCompany && companies != nil && !st.CypherFallback {
			if query, taxID := retrieval.CompanyLookup(st.Intent, st.Memory); strings.TrimSpace(query) != "" {
				return companyStats(ctx, companies, st, query, taxID)
			}
		}

		out, err := gen.Answer(ctx, st.Question)
		if err != nil {
			return fail(ctx, st, NodeStructuredQuery, err)
		}
		st.Answer = out.Answer
		st.Aggregation = true
		st.Sidebar = model.Sidebar{
			Title:    "Evidencias Neo4j (Grafo)",
			Markdown: out.Sidebar,
			Props:    map[string]any{"mode": "CYPHER", "rows": len(out.Rows), "attempts": out.Attempts},
		}
		st.Memory.LastCategory = model.CategoryStructuredQuery
		st.Memory.LastFocus = model.FocusContract
		logx.Debug().Str("turn_id", st.TurnID).Int("rows", len(out.Rows)).Int("attempts", out.Attempts).Msg("Structured query answered")
		return st, nil
	})
}

func companyStats(ctx context.Context, companies CompanyCatalog, st *model.TurnState, query, taxID string) (*model.TurnState, error) {
	stats, err := companies.CompanyStats(ctx, query, taxID)
	if err != nil {
		return fail(ctx, st, NodeStructuredQuery, err)
	}
	if stats == nil {
		st.Answer = fmt.Sprintf(companyNotFound, query)
		return st, nil
	}
	contracts, err := companies.ContractsByCompany(ctx, query, taxID, companyMatches, companyContracts)
	if err != nil {
		return fail(ctx, st, NodeStructuredQuery, err)
	}
	if stats.Name == "" {
		stats.Name = query
	}

	st.Answer = cypher.CompanyStatsAnswer(*stats)
	st.Aggregation = true
	st.Evidence = &model.EvidenceBundle{Contracts: contracts}
	st.Sidebar = model.Sidebar{
		Title: "Evidencias Neo4j (Empresa)",
		Markdown: fmt.Sprintf("### Evidencias (Empresa / Agregación)\n**Input usuario:** %s\n\n**Empresa resuelta:** %s (NIF: %s)\n\n%s",
			query, stats.Name, orNA(stats.TaxID), conversations.EvidenceMarkdown(st.Evidence)),
		Props: map[string]any{"mode": "EMPRESA", "counts": counts(st.Evidence)},
	}

	mem := &st.Memory
	mem.LastCategory = model.CategoryStructuredQuery
	mem.LastFocus = model.FocusCompany
	mem.LastCompanyQuery = query
	mem.LastCompanyTaxID = stats.TaxID
	if mem.LastCompanyTaxID == "" {
		mem.LastCompanyTaxID = taxID
	}
	mem.ClearEvidence()
	mem.LastContracts = contracts
	logx.Debug().Str("turn_id", st.TurnID).Str("company", stats.Name).Int("contracts", stats.ContractsWon).Msg("Company stats answered")
	return st, nil
}

// ======================== Retrieval ========================

// NewRetrievalNode gathers evidence, assembles a budgeted prompt and streams
// the grounded answer. Aggregations over a cached company are handed to
// StructuredQuery instead.
func NewRetrievalNode(r Retriever, mm *conversations.MessagesManager, answerer *providers.Completer, cfg model.AnswerModelConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		res, err := r.Retrieve(ctx, retrieval.Request{Question: st.Question, Intent: st.Intent, Memory: st.Memory})
		if err != nil {
			return fail(ctx, st, NodeRetrieval, err)
		}
		st.Memory = res.Memory

		if res.NeedsAggregation && !st.CypherFallback {
			logx.Debug().Str("turn_id", st.TurnID).Msg("Aggregation over cached company, falling back to structured query")
			st.CypherFallback = true
			st.Intent.Category = model.CategoryStructuredQuery
			st.Intent.Focus = model.FocusCompany
			return st, nil
		}

		st.Evidence = res.Bundle
		if res.Insufficient || res.Bundle.Empty() {
			st.Answer = insufficientAnswer
			return st, nil
		}

		header := ""
		if res.CompanyQuery != "" {
			header = conversations.CompanyHeader(res.CompanyQuery, res.CompanyTaxID)
		}
		asm := mm.RetrievalPrompt(st.Question, header, res.Bundle, st.Session.History)
		text, err := answerer.Stream(ctx, asm.Messages, st.Emit,
			einomodel.WithTemperature(cfg.Temperature),
			einomodel.WithMaxTokens(cfg.MaxTokens),
		)
		if err != nil {
			return fail(ctx, st, NodeRetrieval, err)
		}
		if text == "" {
			text = emptyAnswer
		}
		st.Answer = text
		st.Streamed = st.Sink != nil

		filters := map[string]any{"doc_tipo": st.Intent.DocType, "extracto_tipos": st.Intent.ClauseTypes}
		if res.CompanyQuery != "" {
			filters = map[string]any{"empresa": res.CompanyQuery}
		}
		st.Sidebar = model.Sidebar{
			Title:    retrievalTitle(res.Mode),
			Markdown: conversations.EvidenceMarkdown(res.Bundle),
			Props: map[string]any{
				"mode":    res.Mode,
				"filters": filters,
				"tokens":  map[string]int{"sent_approx": asm.Report.Total},
				"counts":  counts(res.Bundle),
			},
		}
		return st, nil
	})
}

func retrievalTitle(mode string) string {
	switch mode {
	case retrieval.ModeCompany:
		return "Evidencias RAG usadas (Empresa)"
	case retrieval.ModeFollowUp:
		return "Evidencias RAG (Contexto previo)"
	}
	return "Evidencias RAG usadas"
}

// NewRetrievalCondition sends company aggregations to StructuredQuery.
func NewRetrievalCondition() func(context.Context, *model.TurnState) (string, error) {
	return func(ctx context.Context, st *model.TurnState) (string, error) {
		if st.Failure == nil && st.CypherFallback && st.Intent.Category == model.CategoryStructuredQuery && st.Answer == "" {
			return NodeStructuredQuery, nil
		}
		return NodePostProcess, nil
	}
}

// ======================== Draft ========================

// NewDraftPlanNode runs one planner step.
func NewDraftPlanNode(planner DraftPlanner) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		d, err := planner.Assess(ctx, st.Question, st.Memory)
		if err != nil {
			return fail(ctx, st, NodeDraftPlan, err)
		}
		plan := d.Plan
		st.Draft = &plan
		st.DraftState = d.State
		st.Memory = d.Memory
		if d.State == model.DraftAwaitingClarification {
			st.Answer = d.Message
		}
		return st, nil
	})
}

// NewDraftPlanCondition drafts once the planner is READY.
func NewDraftPlanCondition() func(context.Context, *model.TurnState) (string, error) {
	return func(ctx context.Context, st *model.TurnState) (string, error) {
		if st.Failure == nil && st.DraftState == model.DraftReady {
			return NodeDraftGenerate, nil
		}
		return NodePostProcess, nil
	}
}

// NewDraftGenerateNode writes the document from the normalized request.
func NewDraftGenerateNode(writer DraftWriter) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		request := st.Question
		if st.Draft != nil && strings.TrimSpace(st.Draft.NormalizedRequest) != "" {
			request = st.Draft.NormalizedRequest
		}
		d, err := writer.Generate(ctx, request, st.Sink)
		if err != nil {
			return fail(ctx, st, NodeDraftGenerate, err)
		}

		st.Memory.LastCategory = model.CategoryDraftDocument
		if d.Answer != "" {
			st.Answer = d.Answer
			return st, nil
		}
		st.Evidence = d.Evidence()
		st.Answer = d.Markdown
		st.Streamed = st.Sink != nil
		st.Attachment = d.Attachment
		st.Sidebar = model.Sidebar{
			Title:    "Evidencias RAG usadas (PPT)",
			Markdown: conversations.EvidenceMarkdown(st.Evidence),
			Props:    map[string]any{"mode": "PPT", "reference": d.Reference.Expediente, "counts": counts(st.Evidence)},
		}
		return st, nil
	})
}

// ======================== Plain conversation ========================

// NewPlainConversationNode answers from the conversation alone. When the model
// admits the data is missing, the question is sent back to Router as a forced
// search, once per turn.
func NewPlainConversationNode(mm *conversations.MessagesManager, answerer *providers.Completer, cfg model.AnswerModelConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		msgs, err := prompts.PlainChat(ctx, mm.PlainChatHistory(st.Session.History), st.Question)
		if err != nil {
			return fail(ctx, st, NodePlainConversation, err)
		}
		text, err := answerer.Complete(ctx, msgs,
			einomodel.WithTemperature(cfg.ChatTemperature),
			einomodel.WithMaxTokens(plainMaxTokens),
		)
		if err != nil {
			return fail(ctx, st, NodePlainConversation, err)
		}
		if text == "" {
			text = emptyAnswer
		}

		if NeedsRetrieval(text) && st.PlainFallbacks == 0 {
			logx.Debug().Str("turn_id", st.TurnID).Msg("Conversation lacks the data, searching the graph")
			st.PlainFallbacks++
			st.ForceRetrieval = true
			st.Question = ForcedSearchPrefix + st.Question
			st.Emit(fallbackNotice)
			return st, nil
		}

		st.Answer = text
		st.Memory.LastCategory = model.CategoryPlainConversation
		return st, nil
	})
}

// NewPlainConversationCondition re-enters Router for a forced search.
func NewPlainConversationCondition() func(context.Context, *model.TurnState) (string, error) {
	return func(ctx context.Context, st *model.TurnState) (string, error) {
		if st.Failure == nil && st.ForceRetrieval && st.Answer == "" {
			return NodeRouter, nil
		}
		return NodePostProcess, nil
	}
}

// ======================== Post-process ========================

// NewPostProcessNode finishes the turn.
func NewPostProcessNode(p *postprocess.Processor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *model.TurnState) (*model.TurnState, error) {
		p.Process(ctx, st)
		return st, nil
	})
}
