package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL             string `envconfig:"CONVERSATION_TTL" default:"2h"`
	LockTTL         string `envconfig:"CONVERSATION_LOCK_TTL" default:"3m"`
	MaxHistoryTurns int    `envconfig:"MAX_HISTORY_TURNS" default:"12"`
	Classifier      struct {
		MaxTurns     int `envconfig:"CLASSIFIER_HISTORY_TURNS" default:"4"`
		MaxTurnChars int `envconfig:"CLASSIFIER_TURN_CHARS" default:"300"`
	}
	PlainChat struct {
		MaxTurns     int `envconfig:"PLAIN_CHAT_HISTORY_TURNS" default:"5"`
		MaxTurnChars int `envconfig:"PLAIN_CHAT_TURN_CHARS" default:"8000"`
	}
}

// ParsedTTL returns the session TTL, falling back to two hours on bad input.
func (c ConversationConfig) ParsedTTL() time.Duration {
	return parseDurationOr(c.TTL, 2*time.Hour)
}

// ParsedLockTTL returns the single in-flight turn lock TTL.
func (c ConversationConfig) ParsedLockTTL() time.Duration {
	return parseDurationOr(c.LockTTL, 3*time.Minute)
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"650"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
}

type AnswerModelConfig struct {
	Model           string  `envconfig:"ANSWER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens       int     `envconfig:"ANSWER_MAX_TOKENS" default:"1200"`
	DraftMaxTokens  int     `envconfig:"DRAFT_MAX_TOKENS" default:"8000"`
	Temperature     float32 `envconfig:"ANSWER_TEMPERATURE" default:"0.2"`
	ChatTemperature float32 `envconfig:"PLAIN_CHAT_TEMPERATURE" default:"0.3"`
	ThinkingBudget  int32   `envconfig:"ANSWER_THINKING_BUDGET" default:"0"`
}

type EmbeddingConfig struct {
	Model     string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	Dimension int32  `envconfig:"EMB_DIM" default:"1024"`
	TaskType  string `envconfig:"EMBEDDING_TASK_TYPE" default:"RETRIEVAL_QUERY"`
}

type RetrievalConfig struct {
	KContracts int `envconfig:"K_CONTRATOS" default:"5"`
	KChapters  int `envconfig:"K_CAPITULOS" default:"25"`
	KExtracts  int `envconfig:"K_EXTRACTOS" default:"50"`
	// FilterWiden multiplies chapter/extract candidate counts when results are
	// narrowed to a fixed contract set.
	FilterWiden    int `envconfig:"RETRIEVAL_FILTER_WIDEN" default:"6"`
	CompanyMatches int `envconfig:"COMPANY_MATCHES" default:"3"`
	// CompanyContracts is raised to at least 25 at use sites.
	CompanyContracts int `envconfig:"COMPANY_CONTRACTS" default:"25"`
}

type BudgetConfig struct {
	MaxContextTokens    int `envconfig:"MODEL_MAX_CONTEXT_TOKENS" default:"30000"`
	ReserveAnswerTokens int `envconfig:"RESERVE_FOR_ANSWER_TOKENS" default:"6000"`
	ContextMaxTokens    int `envconfig:"RAG_CONTEXT_MAX_TOKENS" default:"12000"`
	MemorySummaryTokens int `envconfig:"MEMORY_SUMMARY_TOKENS" default:"1500"`
}

// ContextMaxChars is the hard character ceiling for a rendered context.
func (b BudgetConfig) ContextMaxChars() int {
	return b.ContextMaxTokens * 4
}

type PostProcessConfig struct {
	SummarizeAboveChars  int `envconfig:"SUMMARIZE_ABOVE_CHARS" default:"3000"`
	SuggestMinChars      int `envconfig:"SUGGEST_MIN_CHARS" default:"200"`
	PlainSuggestMinChars int `envconfig:"PLAIN_SUGGEST_MIN_CHARS" default:"100"`
	MaxSuggestions       int `envconfig:"MAX_SUGGESTIONS" default:"3"`
	SuggestionMaxChars   int `envconfig:"SUGGESTION_LABEL_MAX_CHARS" default:"100"`
}

// DefaultRetrievalConfig mirrors the envconfig defaults for tests and tools.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{KContracts: 5, KChapters: 25, KExtracts: 50, FilterWiden: 6, CompanyMatches: 3, CompanyContracts: 25}
}

func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{MaxContextTokens: 30000, ReserveAnswerTokens: 6000, ContextMaxTokens: 12000, MemorySummaryTokens: 1500}
}

func DefaultPostProcessConfig() PostProcessConfig {
	return PostProcessConfig{SummarizeAboveChars: 3000, SuggestMinChars: 200, PlainSuggestMinChars: 100, MaxSuggestions: 3, SuggestionMaxChars: 100}
}

func DefaultConversationConfig() ConversationConfig {
	var c ConversationConfig
	c.TTL = "2h"
	c.LockTTL = "3m"
	c.MaxHistoryTurns = 12
	c.Classifier.MaxTurns = 4
	c.Classifier.MaxTurnChars = 300
	c.PlainChat.MaxTurns = 5
	c.PlainChat.MaxTurnChars = 8000
	return c
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
