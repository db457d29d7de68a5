package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

// maxEmbedRunes bounds the text sent to the embedding model.
const maxEmbedRunes = 4000

// GeminiEmbedder implements embedding.Embedder on top of the genai Models API.
type GeminiEmbedder struct {
	client *genai.Client
	cfg    model.EmbeddingConfig
}

// NewGeminiEmbedder creates an embedder sharing the chat models' genai client.
func NewGeminiEmbedder(client *genai.Client, cfg model.EmbeddingConfig) (*GeminiEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	return &GeminiEmbedder{client: client, cfg: cfg}, nil
}

// EmbedStrings embeds each text with the configured dimensionality and task type.
func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) (out [][]float64, err error) {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      e.cfg.Model,
		Type:      e.GetType(),
		Component: components.ComponentOfEmbedding,
	})
	ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{
		Texts:  texts,
		Config: &embedding.Config{Model: e.cfg.Model},
	})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &embedding.CallbackOutput{Embeddings: out})
	}()

	cfg := &genai.EmbedContentConfig{TaskType: e.cfg.TaskType}
	if e.cfg.Dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.cfg.Dimension)
	}

	out = make([][]float64, 0, len(texts))
	for _, t := range texts {
		resp, err := e.client.Models.EmbedContent(ctx, e.cfg.Model, genai.Text(t), cfg)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			out = append(out, nil)
			continue
		}
		vals := resp.Embeddings[0].Values
		vec := make([]float64, len(vals))
		for i, v := range vals {
			vec[i] = float64(v)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *GeminiEmbedder) GetType() string {
	return "Gemini"
}

func (e *GeminiEmbedder) IsCallbacksEnabled() bool {
	return true
}

// EmbedQuery embeds a single query text. An empty text or an empty provider
// result yields a nil vector, which callers treat as insufficient evidence.
func EmbedQuery(ctx context.Context, emb embedding.Embedder, text string) ([]float64, error) {
	if text == "" {
		return nil, nil
	}
	if r := []rune(text); len(r) > maxEmbedRunes {
		text = string(r[:maxEmbedRunes])
	}
	vecs, err := emb.EmbedStrings(ctx, []string{text})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var app *errx.AppError
		if errors.As(err, &app) {
			return nil, err
		}
		return nil, errx.WrapUpstream(err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
