// Package draft plans and writes technical-specification documents (PPT)
// modelled on a similar past document.
package draft

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/parsers"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	// MaxRounds of clarification before the planner drafts with what it has.
	MaxRounds = 2

	planTemperature = float32(0.2)
	planMaxTokens   = 500
	detailsJoiner   = "\n\nNuevos detalles/petición: "
)

// DefaultQuestions are asked when the model wants details but names none.
var DefaultQuestions = []string{
	"¿Podrías especificar para qué se va a usar exactamente?",
	"¿Qué características técnicas mínimas debe cumplir?",
	"¿Cuál es el presupuesto máximo estimado?",
}

var listLineRe = regexp.MustCompile(`(?m)^\s*(\d+\.|-|•|\*)\s+.+`)

// IsStructuredReply reports replies that look like answers to clarification
// questions: a numbered or bulleted line, three or more non-empty lines, or more than 30 words.
func IsStructuredReply(text string) bool {
	if listLineRe.MatchString(text) || len(strings.Fields(text)) > 30 {
		return true
	}
	lines := 0
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	return lines >= 3
}

// Decision is the planner outcome for one invocation.
type Decision struct {
	State   model.DraftState
	Plan    model.DraftPlan
	Request string
	// Message is the clarification text shown to the user while awaiting details.
	Message string
	Memory  model.RouterMemory
}

type Planner struct {
	completer *providers.Completer
}

func NewPlanner(completer *providers.Completer) *Planner {
	return &Planner{completer: completer}
}

// FullRequest merges a pending request with the user's new details.
func FullRequest(utterance string, mem model.RouterMemory) string {
	if mem.DraftPending && strings.TrimSpace(mem.DraftRequest) != "" {
		return mem.DraftRequest + detailsJoiner + utterance
	}
	return utterance
}

// Assess decides whether to ask for details or draft now. A fresh request is
// always clarified once; after MaxRounds rounds the planner is always READY.
func (p *Planner) Assess(ctx context.Context, utterance string, mem model.RouterMemory) (Decision, error) {
	full := FullRequest(utterance, mem)
	d := Decision{State: model.DraftAssessing, Request: full, Memory: mem}

	plan, err := p.plan(ctx, full)
	if err != nil {
		return d, err
	}
	if plan.NormalizedRequest == "" {
		plan.NormalizedRequest = full
	}
	d.Plan = plan
	d.Request = plan.NormalizedRequest

	forced := !mem.DraftPending
	if mem.DraftRounds >= MaxRounds {
		forced = false
		d.Plan.NeedClarification = false
	}

	if forced || d.Plan.NeedClarification {
		if len(d.Plan.Questions) == 0 {
			d.Plan.Questions = append([]string(nil), DefaultQuestions...)
		}
		d.Plan.NeedClarification = true
		d.State = model.DraftAwaitingClarification
		d.Message = ClarificationMessage(d.Plan.Questions)
		d.Memory.DraftPending = true
		d.Memory.DraftRequest = d.Plan.NormalizedRequest
		d.Memory.DraftRounds++
		logx.Debug().Int("round", d.Memory.DraftRounds).Int("questions", len(d.Plan.Questions)).Msg("Draft needs clarification")
		return d, nil
	}

	d.State = model.DraftReady
	d.Memory.ClearDraft()
	logx.Debug().Msg("Draft ready")
	return d, nil
}

func (p *Planner) plan(ctx context.Context, request string) (model.DraftPlan, error) {
	msgs, err := prompts.DraftClarification(ctx, request)
	if err != nil {
		return model.DraftPlan{}, err
	}
	content, err := p.completer.Complete(ctx, msgs,
		einomodel.WithTemperature(planTemperature),
		einomodel.WithMaxTokens(planMaxTokens),
	)
	if err != nil {
		return model.DraftPlan{}, err
	}
	plan, err := parsers.ParseDraftPlan(content)
	if err != nil {
		logx.Warn().Err(err).Msg("Unparsable draft plan, assuming no clarification needed")
		return model.DraftPlan{}, nil
	}
	return plan, nil
}

// ClarificationMessage lists the questions as a numbered Markdown list.
func ClarificationMessage(questions []string) string {
	var sb strings.Builder
	sb.WriteString("Necesito aclaraciones antes de generar el PPT:\n")
	for i, q := range questions {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, q)
	}
	sb.WriteString("\n\nResponde con los detalles que conozcas y redactaré el pliego.")
	return sb.String()
}
