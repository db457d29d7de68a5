package providers

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// Completer wraps a chat model with usage accounting and upstream error mapping.
type Completer struct {
	chat  einomodel.BaseChatModel
	model string
}

// NewCompleter returns a Completer for chat, reporting usage under modelName.
func NewCompleter(chat einomodel.BaseChatModel, modelName string) *Completer {
	return &Completer{chat: chat, model: modelName}
}

// ModelName returns the configured model name.
func (c *Completer) ModelName() string {
	return c.model
}

// Complete runs a single non-streaming completion and returns the trimmed text.
func (c *Completer) Complete(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (string, error) {
	ctx = c.runInfo(ctx)
	out, err := c.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logx.Error().Err(err).Str("model", c.model).Msg("Completion failed")
		return "", errx.WrapUpstream(err)
	}
	if out == nil {
		return "", nil
	}
	if out.ResponseMeta != nil {
		c.record(ctx, out.ResponseMeta.Usage)
	}
	return strings.TrimSpace(out.Content), nil
}

// Stream runs a streaming completion, forwarding every chunk to sink, and returns the full text.
func (c *Completer) Stream(ctx context.Context, msgs []*schema.Message, sink func(string), opts ...einomodel.Option) (string, error) {
	ctx = c.runInfo(ctx)
	sr, err := c.chat.Stream(ctx, msgs, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logx.Error().Err(err).Str("model", c.model).Msg("Completion stream failed")
		return "", errx.WrapUpstream(err)
	}
	defer sr.Close()

	var sb strings.Builder
	var usage *schema.TokenUsage
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logx.Error().Err(err).Str("model", c.model).Msg("Completion stream interrupted")
			return "", errx.WrapUpstream(err)
		}
		if chunk == nil {
			continue
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage = chunk.ResponseMeta.Usage
		}
		if chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if sink != nil {
			sink(chunk.Content)
		}
	}
	c.record(ctx, usage)
	return strings.TrimSpace(sb.String()), nil
}

func (c *Completer) runInfo(ctx context.Context) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      c.model,
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})
}

func (c *Completer) record(ctx context.Context, usage *schema.TokenUsage) {
	cost := model.LedgerFrom(ctx).Record(c.model, usage)
	if usage == nil {
		return
	}
	logx.Debug().
		Str("model", c.model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("total_cost_usd", cost).
		Msg("LLM usage")
}
