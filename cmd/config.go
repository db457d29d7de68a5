package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/render"
	"github.com/techfriendly/xpider-huelva/internal/agent/repo"
	"github.com/techfriendly/xpider-huelva/internal/agent/store"
	"github.com/techfriendly/xpider-huelva/internal/core"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
	pkgneo4j "github.com/techfriendly/xpider-huelva/pkg/neo4j"
	pkgqdrant "github.com/techfriendly/xpider-huelva/pkg/qdrant"
	pkgredis "github.com/techfriendly/xpider-huelva/pkg/redis"
)

const (
	backendNeo4j  = "neo4j"
	backendQdrant = "qdrant"
	backendRedis  = "redis"
	backendMemory = "memory"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis  pkgredis.Config
	Neo4j  pkgneo4j.Config
	Qdrant pkgqdrant.Config

	VectorBackend  string        `envconfig:"VECTOR_BACKEND" default:"neo4j"`
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"redis"`
	DocFormat      string        `envconfig:"DOC_FORMAT" default:"docx"`
	SchemaTTL      time.Duration `envconfig:"SCHEMA_TTL" default:"10m"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Classifier   model.ClassifierModelConfig
	Answer       model.AnswerModelConfig
	Embedding    model.EmbeddingConfig
	Retrieval    model.RetrievalConfig
	Budget       model.BudgetConfig
	Conversation model.ConversationConfig
	PostProcess  model.PostProcessConfig
}

func loadConfig() (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logx.Warn().Err(err).Str("file", envFile).Msg("Could not load env file")
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	if cfg.VectorBackend != backendNeo4j && cfg.VectorBackend != backendQdrant {
		return nil, fmt.Errorf("unsupported VECTOR_BACKEND %q (supported: neo4j, qdrant)", cfg.VectorBackend)
	}
	if cfg.SessionBackend != backendRedis && cfg.SessionBackend != backendMemory {
		return nil, fmt.Errorf("unsupported SESSION_BACKEND %q (supported: redis, memory)", cfg.SessionBackend)
	}
	return &cfg, nil
}

// app is the wired service: the turn runner, the session store and the
// connections to close on exit.
type app struct {
	cfg      *AppConfig
	runner   graph.Runner
	sessions model.SessionRepository
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// bootstrap connects every backend. sessionBackend overrides the configured one when set.
func bootstrap(ctx context.Context, quiet bool, sessionBackend string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Env),
		Quiet:       quiet && !verbose,
	})
	if sessionBackend != "" {
		cfg.SessionBackend = sessionBackend
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	driver, err := cfg.Neo4j.New(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
	graphStore := store.NewNeo4jStore(driver, cfg.Neo4j.Database)

	var vectors model.VectorSearcher = graphStore
	if cfg.VectorBackend == backendQdrant {
		client, err := cfg.Qdrant.New()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		vectors = store.NewQdrantSearcher(client, cfg.Qdrant.CollectionPrefix)
	}

	renderer, err := render.New(cfg.DocFormat)
	if err != nil {
		return nil, err
	}

	ttl := cfg.Conversation.ParsedTTL()
	switch cfg.SessionBackend {
	case backendRedis:
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.sessions = repo.NewRedisSessionRepository(rdb, ttl)
	default:
		a.sessions = repo.NewMemorySessionRepository(ttl)
	}

	a.runner, err = graph.BuildResponseGraph(ctx, graph.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Classifier:   cfg.Classifier,
		Answer:       cfg.Answer,
		Embedding:    cfg.Embedding,
		Retrieval:    cfg.Retrieval,
		Budget:       cfg.Budget,
		Conversation: cfg.Conversation,
		PostProcess:  cfg.PostProcess,
		SchemaTTL:    cfg.SchemaTTL,
		Graph:        graphStore,
		Vectors:      vectors,
		Renderer:     renderer,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().
		Str("env", cfg.Env).
		Str("vector_backend", cfg.VectorBackend).
		Str("session_backend", cfg.SessionBackend).
		Str("doc_format", renderer.Extension()).
		Msg("Service ready")
	ok = true
	return a, nil
}
