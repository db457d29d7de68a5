package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/techfriendly/xpider-huelva/internal/agent/cypher"
	"github.com/techfriendly/xpider-huelva/internal/agent/draft"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/conversations"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/nodes"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/observers"
	"github.com/techfriendly/xpider-huelva/internal/agent/intent"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/postprocess"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	"github.com/techfriendly/xpider-huelva/internal/agent/repo"
	"github.com/techfriendly/xpider-huelva/internal/agent/retrieval"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	defaultSchemaTTL = 10 * time.Minute
	// a turn visits at most Router, PlainConversation, Router, Retrieval,
	// StructuredQuery and PostProcess
	minRunSteps = 20
)

// Runner executes one conversational turn.
type Runner interface {
	HandleTurn(ctx context.Context, utterance string, session *model.Session, opts ...TurnOption) (*model.TurnResult, error)
}

// TurnOption customizes a single HandleTurn call.
type TurnOption func(*turnOptions)

type turnOptions struct {
	turnID string
	sink   model.StreamSink
}

// WithStreamSink forwards answer chunks to sink as they are produced.
func WithStreamSink(sink model.StreamSink) TurnOption {
	return func(o *turnOptions) { o.sink = sink }
}

// WithTurnID sets the id used in logs; a random one is generated otherwise.
func WithTurnID(id string) TurnOption {
	return func(o *turnOptions) { o.turnID = id }
}

// SinkOf returns the stream sink set by opts, or nil.
func SinkOf(opts ...TurnOption) model.StreamSink {
	return applyTurnOptions(opts).sink
}

func applyTurnOptions(opts []TurnOption) *turnOptions {
	o := &turnOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config holds everything needed to compose the full response graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat
// models, the embedder and every component.
type Config struct {
	APIKey  string
	BaseURL string

	Classifier   model.ClassifierModelConfig
	Answer       model.AnswerModelConfig
	Embedding    model.EmbeddingConfig
	Retrieval    model.RetrievalConfig
	Budget       model.BudgetConfig
	Conversation model.ConversationConfig
	PostProcess  model.PostProcessConfig
	SchemaTTL    time.Duration

	Graph    model.GraphReader
	Vectors  model.VectorSearcher
	Renderer model.DocumentRenderer
}

// Models are the chat models and embedder a graph is assembled from.
type Models struct {
	Classifier einomodel.BaseChatModel
	Answer     einomodel.BaseChatModel
	Embedder   embedding.Embedder
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Intent    nodes.IntentDetector
	Cypher    nodes.StructuredAnswerer
	Companies nodes.CompanyCatalog
	Retriever nodes.Retriever
	Messages  *conversations.MessagesManager
	Answerer  *providers.Completer
	Planner   nodes.DraftPlanner
	Drafter   nodes.DraftWriter
	Post      *postprocess.Processor
	Answer    model.AnswerModelConfig
}

// GraphBuilder handles the construction of the turn graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[*model.TurnState, *model.TurnState]
}

type graphRunner struct {
	runnable compose.Runnable[*model.TurnState, *model.TurnState]
}

// HandleTurn runs the graph on a copy of session. On error the caller's
// session is untouched and no result is returned.
func (r *graphRunner) HandleTurn(ctx context.Context, utterance string, session *model.Session, opts ...TurnOption) (*model.TurnResult, error) {
	o := applyTurnOptions(opts)
	if o.turnID == "" {
		o.turnID = uuid.NewString()
	}
	if session == nil {
		session = model.NewSession(uuid.NewString())
	}

	ledger := &model.UsageLedger{}
	ctx = model.WithLedger(ctx, ledger)
	work := session.Clone()
	in := model.NewTurnState(o.turnID, utterance, work, o.sink)

	logx.Debug().Str("session_id", work.ID).Str("turn_id", o.turnID).Msg("Turn started")
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("session_id", work.ID).Str("turn_id", o.turnID).Msg("Turn aborted")
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("turn %s produced no state", o.turnID)
	}

	res := &model.TurnResult{
		Answer:      out.Answer,
		Streamed:    out.Streamed,
		Sidebar:     out.Sidebar,
		Evidence:    out.Evidence,
		Suggestions: out.Suggestions,
		Attachment:  out.Attachment,
		Session:     out.Session,
		Route:       out.Route,
		Intent:      out.Intent,
		CostUSD:     ledger.TotalUSD(),
		Failed:      out.Failure != nil,
	}
	logx.Info().
		Str("session_id", work.ID).
		Str("turn_id", o.turnID).
		Strs("route", res.Route).
		Int("llm_calls", ledger.Calls()).
		Float64("total_cost_usd", res.CostUSD).
		Bool("failed", res.Failed).
		Msg("Turn finished")
	return res, nil
}

// BuildResponseGraph creates the Gemini models and every component, builds the graph, and returns a Runner.
func BuildResponseGraph(ctx context.Context, cfg Config) (Runner, error) {
	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		ClassifierConfig: &cfg.Classifier,
		AnswerConfig:     &cfg.Answer,
	})
	if err != nil {
		return nil, err
	}
	embedder, err := providers.NewGeminiEmbedder(cms.Client, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	gc, err := Assemble(Models{Classifier: cms.Classifier, Answer: cms.Answer, Embedder: embedder}, cfg)
	if err != nil {
		return nil, err
	}
	runnable, err := BuildGraph(ctx, gc)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Response graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// NewRunner builds the graph from ready components.
func NewRunner(ctx context.Context, gc *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, gc)
	if err != nil {
		return nil, err
	}
	return &graphRunner{runnable: runnable}, nil
}

// Assemble wires the components of the turn graph over the given models and stores.
func Assemble(m Models, cfg Config) (*GraphConfig, error) {
	if m.Classifier == nil || m.Answer == nil || m.Embedder == nil {
		return nil, fmt.Errorf("chat models and embedder are required")
	}
	if cfg.Graph == nil || cfg.Vectors == nil {
		return nil, fmt.Errorf("graph reader and vector searcher are required")
	}
	ttl := cfg.SchemaTTL
	if ttl <= 0 {
		ttl = defaultSchemaTTL
	}

	classifier := providers.NewCompleter(m.Classifier, cfg.Classifier.Model)
	answerer := providers.NewCompleter(m.Answer, cfg.Answer.Model)
	catalog := repo.NewCatalog(cfg.Graph)

	return &GraphConfig{
		Intent:    intent.NewStage(intent.NewClassifier(classifier, cfg.Conversation, cfg.Classifier)),
		Cypher:    cypher.NewGenerator(answerer, cfg.Graph, cypher.NewSchemaCache(cfg.Graph, ttl)),
		Companies: catalog,
		Retriever: retrieval.NewOrchestrator(m.Embedder, cfg.Vectors, catalog, cfg.Retrieval),
		Messages:  conversations.NewMessagesManager(cfg.Budget, cfg.Conversation),
		Answerer:  answerer,
		Planner:   draft.NewPlanner(answerer),
		Drafter: draft.NewGenerator(answerer, m.Embedder, cfg.Vectors, catalog, cfg.Renderer,
			cfg.Answer.DraftMaxTokens, cfg.Retrieval.KExtracts),
		Post:   postprocess.New(answerer, cfg.PostProcess, cfg.Budget.MemorySummaryTokens, cfg.Conversation.MaxHistoryTurns),
		Answer: cfg.Answer,
	}, nil
}

// BuildGraph constructs and returns the compiled turn graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[*model.TurnState, *model.TurnState], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Intent == nil || config.Cypher == nil || config.Retriever == nil {
		return nil, fmt.Errorf("intent, query and retrieval components are required")
	}
	if config.Messages == nil || config.Answerer == nil || config.Post == nil {
		return nil, fmt.Errorf("messages manager, answer model and post-processor are required")
	}
	if config.Planner == nil || config.Drafter == nil {
		return nil, fmt.Errorf("draft planner and writer are required")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[*model.TurnState, *model.TurnState](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnTrace {
				return &model.TurnTrace{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	c := b.config
	lambdas := []struct {
		name   string
		lambda *compose.Lambda
	}{
		{nodes.NodeRouter, nodes.NewRouterNode(c.Intent)},
		{nodes.NodeGreeting, nodes.NewGreetingNode()},
		{nodes.NodeStructuredQuery, nodes.NewStructuredQueryNode(c.Cypher, c.Companies)},
		{nodes.NodeRetrieval, nodes.NewRetrievalNode(c.Retriever, c.Messages, c.Answerer, c.Answer)},
		{nodes.NodeDraftPlan, nodes.NewDraftPlanNode(c.Planner)},
		{nodes.NodeDraftGenerate, nodes.NewDraftGenerateNode(c.Drafter)},
		{nodes.NodePlainConversation, nodes.NewPlainConversationNode(c.Messages, c.Answerer, c.Answer)},
		{nodes.NodePostProcess, nodes.NewPostProcessNode(c.Post)},
	}
	for _, l := range lambdas {
		err := b.graph.AddLambdaNode(l.name, l.lambda,
			compose.WithNodeName(l.name),
			compose.WithStatePreHandler(nodes.NewTracePreHandler(l.name)),
		)
		if err != nil {
			logx.Error().Err(err).Str("node", l.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", l.name, err)
		}
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeRouter},
		{nodes.NodeGreeting, nodes.NodePostProcess},
		{nodes.NodeStructuredQuery, nodes.NodePostProcess},
		{nodes.NodeDraftGenerate, nodes.NodePostProcess},
		{nodes.NodePostProcess, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from    string
		cond    func(context.Context, *model.TurnState) (string, error)
		targets []string
	}{
		{nodes.NodeRouter, nodes.NewRouterCondition(), []string{
			nodes.NodeGreeting, nodes.NodeStructuredQuery, nodes.NodeRetrieval,
			nodes.NodeDraftPlan, nodes.NodePlainConversation, nodes.NodePostProcess,
		}},
		{nodes.NodeRetrieval, nodes.NewRetrievalCondition(), []string{nodes.NodeStructuredQuery, nodes.NodePostProcess}},
		{nodes.NodePlainConversation, nodes.NewPlainConversationCondition(), []string{nodes.NodeRouter, nodes.NodePostProcess}},
		{nodes.NodeDraftPlan, nodes.NewDraftPlanCondition(), []string{nodes.NodeDraftGenerate, nodes.NodePostProcess}},
	}

	for _, br := range branches {
		ends := make(map[string]bool, len(br.targets))
		for _, t := range br.targets {
			ends[t] = true
		}
		if err := b.graph.AddBranch(br.from, compose.NewGraphBranch(br.cond, ends)); err != nil {
			logx.Error().Err(err).Str("node", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding branch from %s: %w", br.from, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[*model.TurnState, *model.TurnState], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("xpider_turn"),
		compose.WithMaxRunSteps(minRunSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
