package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// newPromptHandler logs which template variables were rendered and the size of the result.
func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *prompt.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			keys := make([]string, 0, len(input.Variables))
			for k := range input.Variables {
				keys = append(keys, k)
			}
			logx.Debug().Str("component", info.Name).Strs("variables", keys).Msg("Prompt render started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil {
				return ctx
			}
			chars := 0
			for _, m := range output.Result {
				if m != nil {
					chars += len([]rune(m.Content))
				}
			}
			logx.Debug().Str("component", info.Name).Int("messages", len(output.Result)).Int("chars", chars).Msg("Prompt rendered")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", info.Name).Msg("Prompt render failed")
			return ctx
		},
	}
}
