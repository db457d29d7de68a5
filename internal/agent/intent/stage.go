package intent

import (
	"context"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// ModelClassifier is the last step of the cascade.
type ModelClassifier interface {
	Classify(ctx context.Context, in Input) (model.IntentResult, error)
}

// Stage runs lexical rules first and only calls the model when none of them fires.
type Stage struct {
	classifier ModelClassifier
}

func NewStage(classifier ModelClassifier) *Stage {
	return &Stage{classifier: classifier}
}

// Detect produces the intent of one utterance.
func (s *Stage) Detect(ctx context.Context, in Input) (model.IntentResult, error) {
	if res, ok := Lexical(in); ok {
		logx.Debug().Str("rule", res.Source).Str("intent", string(res.Category)).Msg("Lexical intent")
		return res, nil
	}
	if s.classifier == nil {
		return fallbackResult(), nil
	}
	res, err := s.classifier.Classify(ctx, in)
	if err != nil {
		return model.IntentResult{}, err
	}
	logx.Debug().Str("intent", string(res.Category)).Str("focus", string(res.Focus)).Msg("Model intent")
	return res, nil
}
