package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

func TestParseIntent_FencedAndLegacyFields(t *testing.T) {
	content := "Claro:\n```json\n{\"intent\": \"CYPHER_QA\", \"focus\": \"EMPRESA\", \"empresa_query\": \"Vodafone\", \"extracto_tipos\": [\"normativa\", 3], \"is_followup\": true}\n```"

	p, err := ParseIntent(content)
	require.NoError(t, err)
	assert.Equal(t, string(model.CategoryStructuredQuery), p.Category)
	assert.Equal(t, "EMPRESA", p.Focus)
	assert.Equal(t, "Vodafone", p.CompanyQuery)
	assert.Equal(t, []string{"normativa"}, p.ClauseTypes)
	assert.True(t, p.IsFollowUp)
}

func TestParseIntent_Garbage(t *testing.T) {
	_, err := ParseIntent("no puedo responder a eso")
	assert.Error(t, err)
}

func TestParseQueryPlan(t *testing.T) {
	q, params, err := ParseQueryPlan(`{"cypher": " MATCH (c:ContratoRAG) RETURN count(c) ", "params": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (c:ContratoRAG) RETURN count(c)", q)
	assert.Empty(t, params)

	_, params, err = ParseQueryPlan(`{"cypher": "MATCH (e) WHERE e.nif = $nif RETURN e", "params": {"nif": "B12345678"}}`)
	require.NoError(t, err)
	assert.Equal(t, "B12345678", params["nif"])
}

func TestParseDraftPlan_CapsQuestions(t *testing.T) {
	plan, err := ParseDraftPlan(`{"need_clarification": true, "normalized_request": "PPT vehículo 4x4",
		"questions": ["1","2","3","4","5","6","7","8","9"]}`)
	require.NoError(t, err)
	assert.True(t, plan.NeedClarification)
	assert.Len(t, plan.Questions, 7)
	assert.Equal(t, "PPT vehículo 4x4", plan.NormalizedRequest)
}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"array", `["Buscar contratos de Vodafone", " ", "Listar empresas"]`, []string{"Buscar contratos de Vodafone", "Listar empresas"}},
		{"object", `{"suggestions": ["Ver normativas asociadas"]}`, []string{"Ver normativas asociadas"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSuggestions(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLooksLikeJSON(t *testing.T) {
	assert.True(t, LooksLikeJSON(`[{"a": 1}]`))
	assert.True(t, LooksLikeJSON("Aquí tienes:\n```json\n{}\n```"))
	assert.False(t, LooksLikeJSON("Vodafone ha ganado 3 contratos."))
	assert.False(t, LooksLikeJSON("[nota] sin json"))
}
