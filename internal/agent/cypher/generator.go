package cypher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/parsers"
	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	bindingHint = "La query usa r.<prop> pero no declara [r:REL]."

	planMaxTokens      = 650
	narrationMaxTokens = 600
	narrationTemp      = float32(0.2)
	previewRows        = 10
	narrateMaxRows     = 15
	maxTableColumns    = 8
	noResultsAnswer    = "No se han encontrado resultados."
)

// Generator turns a question into a gated read-only query, runs it and renders the rows.
type Generator struct {
	completer *providers.Completer
	graph     model.GraphReader
	schema    *SchemaCache
}

func NewGenerator(completer *providers.Completer, graph model.GraphReader, schema *SchemaCache) *Generator {
	return &Generator{completer: completer, graph: graph, schema: schema}
}

// Plan asks the model for one query plan. Unparsable output yields an empty,
// unsafe plan rather than an error.
func (g *Generator) Plan(ctx context.Context, question, errorHint string) (model.QueryPlan, error) {
	msgs, err := prompts.CypherGeneration(ctx, question, g.schema.Hint(ctx), errorHint)
	if err != nil {
		return model.QueryPlan{}, err
	}
	content, err := g.completer.Complete(ctx, msgs,
		einomodel.WithTemperature(0),
		einomodel.WithMaxTokens(planMaxTokens),
	)
	if err != nil {
		return model.QueryPlan{}, err
	}

	query, params, err := parsers.ParseQueryPlan(content)
	if err != nil {
		logx.Warn().Err(err).Msg("Unparsable query plan")
	}
	return model.QueryPlan{
		Query:  query,
		Params: params,
		Safe:   CheckReadOnly(query) == nil,
		RowCap: RowCap,
	}, nil
}

// Execute generates, gates, repairs and runs a plan. At most three plans are
// generated: the original, one binding repair and one execution repair.
// No plan that fails the gate is ever sent to the graph store.
func (g *Generator) Execute(ctx context.Context, question string) (model.QueryOutcome, error) {
	out := model.QueryOutcome{}

	plan, err := g.Plan(ctx, question, "")
	out.Attempts++
	if err != nil {
		return out, err
	}
	if !plan.Safe {
		return out, errx.Unsafe(plan.Query)
	}

	if NeedsRelBinding(plan.Query) {
		logx.Debug().Str("cypher", plan.Query).Msg("Relationship binding missing, regenerating")
		plan, err = g.Plan(ctx, question, bindingHint)
		out.Attempts++
		if err != nil {
			return out, err
		}
		if !plan.Safe {
			return out, errx.Unsafe(plan.Query)
		}
	}
	plan.Query = EnsureLimit(plan.Query, plan.RowCap)

	cols, rows, execErr := g.read(ctx, plan.Query, plan.Params)
	if execErr != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		logx.Warn().Err(execErr).Str("cypher", plan.Query).Msg("Query failed, regenerating with error hint")

		repair, err := g.Plan(ctx, question, execErr.Error())
		out.Attempts++
		if err != nil {
			return out, err
		}
		if !repair.Safe {
			return out, errx.Unsafe(repair.Query)
		}
		repair.Query = EnsureLimit(repair.Query, repair.RowCap)

		cols, rows, err = g.read(ctx, repair.Query, repair.Params)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			return out, errx.WrapGraph(fmt.Errorf("query failed after repair: %q: %w", repair.Query, err))
		}
		plan = repair
	}

	out.Plan = plan
	out.Rows = CleanKeys(rows)
	out.Columns = OrderedColumns(cols, out.Rows)
	out.Sidebar = SidebarMarkdown(plan)
	return out, nil
}

// read keeps the RETURN column order when the reader reports it.
func (g *Generator) read(ctx context.Context, query string, params map[string]any) ([]string, []map[string]any, error) {
	if cr, ok := g.graph.(model.ColumnReader); ok {
		return cr.ReadColumns(ctx, query, params)
	}
	rows, err := g.graph.Read(ctx, query, params)
	return nil, rows, err
}

// Answer runs Execute and renders the rows as JSON, a preview table or a model narration.
func (g *Generator) Answer(ctx context.Context, question string) (model.QueryOutcome, error) {
	out, err := g.Execute(ctx, question)
	if err != nil {
		return out, err
	}

	switch {
	case WantsRawJSON(question):
		b, _ := json.MarshalIndent(out.Rows, "", "  ")
		out.Answer = string(b)
	case len(out.Rows) == 0:
		out.Answer = noResultsAnswer
	case len(out.Rows) > narrateMaxRows:
		out.Answer = previewAnswer(out.Rows, out.Columns)
	default:
		out.Answer, err = g.narrate(ctx, question, out)
	}
	return out, err
}

func previewAnswer(rows []map[string]any, cols []string) string {
	table := MarkdownTable(rows[:previewRows], cols, previewRows, maxTableColumns)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Se han encontrado **%d resultados** en la base de datos.\n\n", len(rows))
	fmt.Fprintf(&sb, "**DATOS EN CONTEXTO (primeras %d filas):**\n\n%s\n\n", previewRows, table)
	fmt.Fprintf(&sb, "⚠️ **Solo las %d primeras filas están en mi memoria/contexto.** ", previewRows)
	fmt.Fprintf(&sb, "Para preguntas sobre filas fuera de estas %d, haré una nueva consulta.", previewRows)
	return sb.String()
}

// narrate asks the model to explain a small result set. Empty, JSON-looking or
// failed narrations fall back to the table.
func (g *Generator) narrate(ctx context.Context, question string, out model.QueryOutcome) (string, error) {
	table := MarkdownTable(out.Rows, out.Columns, previewRows, maxTableColumns)
	rowsJSON, _ := json.Marshal(out.Rows)

	msgs, err := prompts.CypherNarration(ctx, question, out.Plan.Query, string(rowsJSON))
	if err != nil {
		return table, nil
	}
	text, err := g.completer.Complete(ctx, msgs,
		einomodel.WithTemperature(narrationTemp),
		einomodel.WithMaxTokens(narrationMaxTokens),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return table, nil
	}
	if text == "" || parsers.LooksLikeJSON(text) {
		return table, nil
	}
	return text, nil
}
