package cypher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techfriendly/xpider-huelva/internal/agent/fakes"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query string
		safe  bool
	}{
		{"MATCH (c:ContratoRAG) RETURN count(c)", true},
		{"CALL db.index.vector.queryNodes('x', 5, $v) YIELD node RETURN node", true},
		{"WITH 1 AS x RETURN x", true},
		{"MATCH (n) DETACH DELETE n", false},
		{"CREATE (n:Foo)", false},
		{"MATCH (n) SET n.x = 1 RETURN n", false},
		{"MATCH (n) REMOVE n.x RETURN n", false},
		{"MATCH (n) FOREACH (x IN [1] | SET n.y = x)", false},
		{"LOAD CSV FROM 'file:///x' AS row RETURN row", false},
		{"CALL apoc.periodic.iterate('a','b',{})", false},
		{"CALL dbms.security.listUsers()", false},
		{"merge (n:Foo) return n", false},
		{"SHOW DATABASES", false},
		{"", false},
		{"CALL gds.graph.project('g','EmpresaRAG','*') YIELD graphName RETURN graphName", false},
		{"CALL db.clearQueryCaches() YIELD value RETURN value", false},
		{"CALL tx.setMetaData({a: 1}) RETURN 1", false},
		{"MATCH (c:ContratoRAG) CALL custom.export(c) YIELD ok RETURN ok", false},
		{"CALL `db`.labels() YIELD label RETURN label", false},
		{"CALL db.labels() YIELD label RETURN label", true},
		{"CALL DB.SCHEMA.NODETYPEPROPERTIES() YIELD nodeLabels RETURN nodeLabels", true},
		{"MATCH (e:EmpresaRAG) CALL { WITH e MATCH (e)-[:ADJUDICATARIA_DE]->(c) RETURN count(c) AS n } RETURN e.nombre, n", true},
		{"MATCH (e:EmpresaRAG) CALL (e) { MATCH (e)-[:ADJUDICATARIA_DE]->(c) RETURN count(c) AS n } RETURN e.nombre, n", true},
		{"MATCH (e:EmpresaRAG) CALL { CREATE (x:Foo) RETURN x } RETURN e", false},
		{"MATCH (c:ContratoRAG) WHERE c.titulo CONTAINS 'Call center y set de datos' RETURN c.titulo", true},
		{"MATCH (c:ContratoRAG) WHERE c.titulo = 'x' DELETE c", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			err := CheckReadOnly(tt.query)
			if tt.safe {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errx.IsUnsafe(err))
		})
	}
}

func TestNeedsRelBinding(t *testing.T) {
	assert.True(t, NeedsRelBinding("MATCH (e:Company)-[:AWARDED]->(c:Contract) RETURN r.amount"))
	assert.False(t, NeedsRelBinding("MATCH (e:Company)-[r:AWARDED]->(c:Contract) RETURN r.amount"))
	assert.False(t, NeedsRelBinding("MATCH (e)-[ r : AWARDED ]->(c) RETURN r.amount"))
	assert.False(t, NeedsRelBinding("MATCH (c:ContratoRAG) RETURN c.titulo"))
}

func TestEnsureLimit(t *testing.T) {
	assert.Equal(t, "MATCH (c) RETURN c\nLIMIT 50", EnsureLimit("MATCH (c) RETURN c;\n", 50))
	assert.Equal(t, "MATCH (c) RETURN c limit 5", EnsureLimit("MATCH (c) RETURN c limit 5", 50))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1.234.567,89", FormatNumber(1234567.891, 2))
	assert.Equal(t, "999", FormatNumber(999, 0))
	assert.Equal(t, "-1.234,50", FormatNumber(-1234.5, 2))
	assert.Equal(t, "0", FormatNumber(0, 0))
	assert.Equal(t, "1.000", FormatNumber(1000, 0))
}

func TestFormatValue(t *testing.T) {
	long := strings.Repeat("x", 200)
	tests := []struct {
		key  string
		v    any
		want string
	}{
		{"importe_total", 1500.0, "1.500,00 €"},
		{"presupuesto_sin_iva", int64(2000), "2.000,00 €"},
		{"contratos", int64(1234), "1.234"},
		{"ratio", 0.456, "0,46"},
		{"x", nil, "—"},
		{"x", true, "sí"},
		{"x", false, "no"},
		{"x", "  a  |  b ", `a \| b`},
		{"x", "   ", "—"},
		{"x", long, strings.Repeat("x", 139) + "…"},
		{"x", []any{"a", "b"}, `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.key, tt.v))
		})
	}
}

func TestMarkdownTable(t *testing.T) {
	rows := []map[string]any{
		{"nombre": "Acme", "importe": 10.5},
		{"nombre": "Beta", "importe": 3.0, "nif": "B12345678"},
	}
	want := "| importe | nombre | nif |\n| --- | --- | --- |\n" +
		"| 10,50 € | Acme | — |\n" +
		"| 3,00 € | Beta | B12345678 |"
	assert.Equal(t, want, MarkdownTable(rows, nil, 10, 8))
	assert.Equal(t, want, MarkdownTable(rows, nil, 10, 8), "deterministic")

	assert.Contains(t, MarkdownTable(rows, nil, 1, 8), "_Mostrando 1 de 2 filas._")
	assert.Equal(t, "No se han encontrado resultados.", MarkdownTable(nil, nil, 10, 8))

	ordered := MarkdownTable(rows, []string{"nombre", "importe", "nif"}, 10, 2)
	assert.True(t, strings.HasPrefix(ordered, "| nombre | importe |\n"))
}

func TestOrderedColumns(t *testing.T) {
	rows := []map[string]any{{"e_nombre": "Acme", "total": 1.0, "a": 1, "extra": 2}}
	assert.Equal(t, []string{"total", "e_nombre", "a", "extra"}, OrderedColumns([]string{"total", "e.nombre"}, rows))
	assert.Equal(t, Columns(rows), OrderedColumns(nil, rows))
}

func TestCompanyStatsAnswer(t *testing.T) {
	got := CompanyStatsAnswer(model.CompanyStats{Name: "Techfriendly SL", TaxID: "B12345678", ContractsWon: 4, TotalAwarded: 123456.7})
	assert.Equal(t, "Techfriendly SL (NIF: B12345678) ha ganado **4** contratos.\n"+
		"Importe total adjudicado (según el grafo): **123.456,70 €**.", got)
}

func TestWantsRawJSON(t *testing.T) {
	assert.True(t, WantsRawJSON("dame el top 5 en JSON"))
	assert.False(t, WantsRawJSON("top 5 adjudicatarias"))
}

func userContent(msgs []*schema.Message) string {
	for _, m := range msgs {
		if m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

func newGenerator(chat *fakes.ChatModel, graph *fakes.GraphReader) *Generator {
	return NewGenerator(providers.NewCompleter(chat, "test-model"), graph, NewSchemaCache(graph, 0))
}

func rowsOf(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"e.nombre": "Empresa", "total": float64(i)}
	}
	return rows
}

func TestExecute_BindingRepairExactlyOnce(t *testing.T) {
	chat := fakes.NewChatModel(
		`{"cypher": "MATCH (e:Company)-[:AWARDED]->(c:Contract) RETURN r.amount", "params": {}}`,
		`{"cypher": "MATCH (e:Company)-[r:AWARDED]->(c:Contract) RETURN r.amount AS amount", "params": {}}`,
		"El importe adjudicado es de 10 €.",
	)
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"amount": 10.0}}, nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "importe adjudicado")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 3, chat.CallCount(), "two plans and one narration")
	require.Equal(t, 1, graph.QueryCount())
	assert.Contains(t, graph.Queries[0], "[r:AWARDED]")
	assert.True(t, strings.HasSuffix(graph.Queries[0], "\nLIMIT 50"))
	assert.Contains(t, userContent(chat.Calls[1]), bindingHint)
	assert.Equal(t, "El importe adjudicado es de 10 €.", out.Answer)
	assert.Contains(t, out.Sidebar, "### Consulta Generada (Cypher)")
}

func TestExecute_UnsafePlanNeverRuns(t *testing.T) {
	chat := fakes.NewChatModel(`{"cypher": "MATCH (n) DETACH DELETE n"}`)
	graph := &fakes.GraphReader{}

	_, err := newGenerator(chat, graph).Answer(context.Background(), "borra todo")
	require.Error(t, err)
	assert.True(t, errx.IsUnsafe(err))
	assert.Contains(t, err.Error(), "DETACH DELETE")
	assert.Zero(t, graph.QueryCount())
}

func TestExecute_UnsafeBindingRepairNeverRuns(t *testing.T) {
	chat := fakes.NewChatModel(
		`{"cypher": "MATCH (e)-[:AWARDED]->(c) RETURN r.amount"}`,
		`{"cypher": "MATCH (e)-[r:AWARDED]->(c) SET r.amount = 0 RETURN r"}`,
	)
	graph := &fakes.GraphReader{}

	_, err := newGenerator(chat, graph).Execute(context.Background(), "importe")
	assert.True(t, errx.IsUnsafe(err))
	assert.Zero(t, graph.QueryCount())
}

func TestExecute_MalformedPlanIsUnsafe(t *testing.T) {
	chat := fakes.NewChatModel("no sé generar eso")
	graph := &fakes.GraphReader{}

	_, err := newGenerator(chat, graph).Execute(context.Background(), "algo")
	assert.True(t, errx.IsUnsafe(err))
	assert.Zero(t, graph.QueryCount())
}

func TestExecute_RepairsExecutionFailureOnce(t *testing.T) {
	chat := fakes.NewChatModel(
		`{"cypher": "MATCH (c:ContratoRAG) RETURN c.titulo AS titulo"}`,
		`{"cypher": "MATCH (c:ContratoRAG) RETURN c.titulo AS titulo LIMIT 5"}`,
	)
	calls := 0
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("Invalid input 'x'")
		}
		return nil, nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "títulos")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, graph.QueryCount())
	assert.Equal(t, "MATCH (c:ContratoRAG) RETURN c.titulo AS titulo LIMIT 5", out.Plan.Query)
	assert.Contains(t, userContent(chat.Calls[1]), "Invalid input 'x'")
	assert.Equal(t, noResultsAnswer, out.Answer)
}

func TestExecute_SecondFailureIsReported(t *testing.T) {
	chat := fakes.NewChatModel(`{"cypher": "MATCH (c) RETURN c.x"}`)
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return nil, errors.New("boom")
	}}

	out, err := newGenerator(chat, graph).Execute(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, errx.IsUnsafe(err))
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Contains(t, err.Error(), "MATCH (c) RETURN c.x")
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, graph.QueryCount())
}

func TestAnswer_LargeResultIsPreviewedWithoutModel(t *testing.T) {
	chat := fakes.NewChatModel(`{"cypher": "MATCH (e:EmpresaRAG) RETURN e.nombre, 1 AS total"}`)
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return rowsOf(20), nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "top empresas")
	require.NoError(t, err)
	assert.Equal(t, 1, chat.CallCount())
	assert.Contains(t, out.Answer, "**20 resultados**")
	assert.Contains(t, out.Answer, "⚠️")
	assert.Contains(t, out.Answer, "| e_nombre | total |")
	assert.Equal(t, 12, strings.Count(out.Answer, "\n| "))
}

func TestAnswer_TableKeepsReturnOrder(t *testing.T) {
	chat := fakes.NewChatModel(`{"cypher": "MATCH (e:EmpresaRAG)-[r:ADJUDICATARIA_DE]->(c) RETURN sum(r.importe) AS total, e.nombre, e.nif, e.provincia, e.municipio, e.cnae, e.web, e.email, e.telefono"}`)
	keys := []string{"total", "e.nombre", "e.nif", "e.provincia", "e.municipio", "e.cnae", "e.web", "e.email", "e.telefono"}
	graph := &fakes.GraphReader{Keys: keys, Handler: func(string, map[string]any) ([]map[string]any, error) {
		rows := make([]map[string]any, 20)
		for i := range rows {
			row := map[string]any{}
			for _, k := range keys {
				row[k] = "x"
			}
			row["total"] = float64(i)
			rows[i] = row
		}
		return rows, nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "ranking de empresas")
	require.NoError(t, err)
	assert.Equal(t, "total", out.Columns[0])
	assert.Contains(t, out.Answer, "| total | e_nombre | e_nif |")
	assert.NotContains(t, out.Answer, "e_telefono", "ninth column is cut, not the aggregate")
}

func TestAnswer_RawJSON(t *testing.T) {
	chat := fakes.NewChatModel(`{"cypher": "MATCH (e:EmpresaRAG) RETURN e.nombre"}`)
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return rowsOf(2), nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "empresas en json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Answer, "["))
	assert.Contains(t, out.Answer, `"e_nombre": "Empresa"`)
	assert.Equal(t, 1, chat.CallCount())
}

func TestAnswer_JSONNarrationFallsBackToTable(t *testing.T) {
	chat := fakes.NewChatModel(
		`{"cypher": "MATCH (e:EmpresaRAG) RETURN e.nombre"}`,
		`[{"e_nombre": "Empresa"}]`,
	)
	graph := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return rowsOf(2), nil
	}}

	out, err := newGenerator(chat, graph).Answer(context.Background(), "empresas")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Answer, "| e_nombre | total |"))
}

func TestSchemaCache_UsesLiveSchemaOnce(t *testing.T) {
	graph := &fakes.GraphReader{SchemaText: ":ContratoRAG(titulo)"}
	cache := NewSchemaCache(graph, 0)

	hint := cache.Hint(context.Background())
	assert.Contains(t, hint, "ESQUEMA INTROSPECTADO")
	assert.Contains(t, hint, ":ContratoRAG(titulo)")
}
