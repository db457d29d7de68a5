package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey           string
	BaseURL          string
	ClassifierConfig *model.ClassifierModelConfig
	AnswerConfig     *model.AnswerModelConfig
}

// ChatModels holds the classifier and answer chat models and the client they share
// with the embedder.
type ChatModels struct {
	Client          *genai.Client
	Classifier      *gemini.ChatModel
	Answer          *gemini.ChatModel
	ClassifierModel string
	AnswerModel     string
}

// NewChatModels creates both Gemini chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.ClassifierConfig == nil || config.AnswerConfig == nil {
		return nil, fmt.Errorf("chat model configs are required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	// Classification wants short deterministic JSON, so thinking stays off.
	classifier, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ClassifierConfig.Model,
		Temperature: &config.ClassifierConfig.Temperature,
		MaxTokens:   &config.ClassifierConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, fmt.Errorf("error creating classifier model: %w", err)
	}

	answerCfg := &gemini.Config{
		Client:      client,
		Model:       config.AnswerConfig.Model,
		Temperature: &config.AnswerConfig.Temperature,
		MaxTokens:   &config.AnswerConfig.MaxTokens,
	}
	if config.AnswerConfig.ThinkingBudget > 0 {
		answerCfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(config.AnswerConfig.ThinkingBudget),
		}
	}
	answer, err := gemini.NewChatModel(ctx, answerCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating answer model")
		return nil, fmt.Errorf("error creating answer model: %w", err)
	}

	logx.Debug().
		Str("classifier_model", config.ClassifierConfig.Model).
		Str("answer_model", config.AnswerConfig.Model).
		Msg("Chat models ready")

	return &ChatModels{
		Client:          client,
		Classifier:      classifier,
		Answer:          answer,
		ClassifierModel: config.ClassifierConfig.Model,
		AnswerModel:     config.AnswerConfig.Model,
	}, nil
}
