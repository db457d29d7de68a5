package nodes

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// ===== Small helpers to keep handlers simple/readable =====

// NewTracePreHandler records the node in the run trace and exposes the route so far on the turn.
func NewTracePreHandler(node string) func(context.Context, *model.TurnState, *model.TurnTrace) (*model.TurnState, error) {
	return func(ctx context.Context, in *model.TurnState, trace *model.TurnTrace) (*model.TurnState, error) {
		trace.Visited = append(trace.Visited, node)
		in.Route = append([]string(nil), trace.Visited...)
		logx.Debug().Str("turn_id", in.TurnID).Str("node", node).Msg("Entering node")
		return in, nil
	}
}

// recoverable reports the failures a turn survives: provider outages, graph
// store outages and queries rejected by the read-only gate.
func recoverable(err error) bool {
	return errx.IsUpstream(err) || errx.IsUnsafe(err) || errx.StatusOf(err) == http.StatusBadGateway
}

// fail records err on the turn so it still reaches PostProcess with an answer
// the user can read. Only cancellation aborts the run.
func fail(ctx context.Context, st *model.TurnState, node string, err error) (*model.TurnState, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	answer := errx.UpstreamErrorMessage
	switch {
	case errx.IsUnsafe(err):
		answer = fmt.Sprintf(unsafeQueryAnswer, errx.RejectedQuery(err))
	case !recoverable(err):
		answer = internalErrorAnswer
		logx.Error().Err(err).Str("turn_id", st.TurnID).Str("node", node).Msg("Unexpected failure, answering with a notice")
		st.Fail(fmt.Errorf("%s: %w", node, err), answer)
		return st, nil
	}
	logx.Warn().Err(err).Str("turn_id", st.TurnID).Str("node", node).Msg("Turn failed, answering with a notice")
	st.Fail(err, answer)
	return st, nil
}

// NeedsRetrieval reports plain-conversation answers admitting that the data is
// not in the conversation.
func NeedsRetrieval(answer string) bool {
	a := strings.ToLower(answer)
	for _, p := range missingInfoPhrases {
		if strings.Contains(a, p) {
			return true
		}
	}
	return false
}

func counts(b *model.EvidenceBundle) map[string]int {
	if b == nil {
		return map[string]int{"contratos": 0, "capitulos": 0, "extractos": 0}
	}
	return map[string]int{"contratos": len(b.Contracts), "capitulos": len(b.Chapters), "extractos": len(b.Extracts)}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/D"
	}
	return s
}
