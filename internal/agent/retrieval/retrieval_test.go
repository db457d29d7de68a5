package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techfriendly/xpider-huelva/internal/agent/fakes"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

type stubCatalog struct {
	byCompany  map[string][]model.Contract
	companies  map[string][]model.Company
	contracts  map[string]model.Contract
	keysAsked  [][]string
	companyQ   []string
	companyErr error
}

func (s *stubCatalog) ContractsByKeys(_ context.Context, keys []string) ([]model.Contract, error) {
	s.keysAsked = append(s.keysAsked, keys)
	var out []model.Contract
	for _, k := range keys {
		if c, ok := s.contracts[k]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubCatalog) ContractsByCompany(_ context.Context, q, _ string, _, _ int) ([]model.Contract, error) {
	s.companyQ = append(s.companyQ, q)
	if s.companyErr != nil {
		return nil, s.companyErr
	}
	return s.byCompany[q], nil
}

func (s *stubCatalog) Companies(_ context.Context, q, _ string, _ int) ([]model.Company, error) {
	return s.companies[q], nil
}

func contract(key string) model.Contract {
	return model.Contract{ID: key, Expediente: key, Title: "Contrato " + key}
}

func newFixture() (*fakes.Embedder, *fakes.VectorSearcher, *stubCatalog) {
	emb := &fakes.Embedder{Vector: []float64{0.1, 0.2}}
	vs := &fakes.VectorSearcher{Hits: map[string][]model.VectorHit{
		model.IndexContracts: {
			{ContractID: "A", Expediente: "A", Score: 0.70},
			{ContractID: "B", Expediente: "B", Score: 0.60},
		},
		model.IndexChapters: {
			{ID: "cap-b", ContractID: "B", Expediente: "B", DocType: "PPT", Heading: "Objeto", Score: 0.90},
			{ID: "cap-c", ContractID: "C", Expediente: "C", DocType: "PCAP", Heading: "Garantías", Score: 0.50},
		},
		model.IndexExtracts: {
			{ID: "ex-a", ContractID: "A", Expediente: "A", DocType: "PPT", ClauseType: "normativa", Score: 0.65},
			{ID: "ex-v", ContractID: "V1", Expediente: "V1", DocType: "PPT", ClauseType: "normativa", Score: 0.40},
		},
	}}
	cat := &stubCatalog{
		contracts: map[string]model.Contract{"A": contract("A"), "B": contract("B"), "C": contract("C"), "V1": contract("V1")},
		byCompany: map[string][]model.Contract{
			"Techfriendly": {contract("A"), contract("B")},
			"Vodafone":     {contract("V1")},
		},
		companies: map[string][]model.Company{
			"Techfriendly": {{Name: "TECHFRIENDLY SL", TaxID: "B12345678", MatchRank: 2}},
			"Vodafone":     {{Name: "VODAFONE ESPAÑA SAU", TaxID: "A80907397", MatchRank: 2}},
		},
	}
	return emb, vs, cat
}

func TestRetrieve_FreshUnionKeepsMaxScore(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "contratos de vehículos",
		Intent:   model.IntentResult{Category: model.CategoryRetrieval, Focus: model.FocusContract},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, res.Mode)
	assert.False(t, res.Insufficient)

	require.Len(t, res.Bundle.Contracts, 4)
	// B scores 0.90 through its chapter, above A's 0.70
	assert.Equal(t, "B", res.Bundle.Contracts[0].Key())
	assert.InDelta(t, 0.90, res.Bundle.Contracts[0].Score, 1e-9)
	assert.Equal(t, "A", res.Bundle.Contracts[1].Key())
	assert.Equal(t, "C", res.Bundle.Contracts[2].Key())
	assert.Equal(t, "V1", res.Bundle.Contracts[3].Key())

	assert.Len(t, res.Bundle.Chapters, 2)
	assert.Len(t, res.Bundle.Extracts, 2)
	assert.Equal(t, []int{5}, vs.Ks[model.IndexContracts])
	assert.Equal(t, []int{25}, vs.Ks[model.IndexChapters])
	assert.Equal(t, []int{50}, vs.Ks[model.IndexExtracts])

	assert.Equal(t, model.FocusContract, res.Memory.LastFocus)
	assert.Equal(t, model.CategoryRetrieval, res.Memory.LastCategory)
	assert.Len(t, res.Memory.LastContracts, 4)
}

func TestRetrieve_FreshAppliesFilters(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "normativa en pliegos técnicos",
		Intent:   model.IntentResult{Focus: model.FocusContract, DocType: "PPT", ClauseTypes: []string{"normativa"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Bundle.Chapters, 1)
	assert.Equal(t, "cap-b", res.Bundle.Chapters[0].ID)
	assert.Equal(t, "PPT", vs.Filters[model.IndexExtracts][0].DocType)
	assert.Equal(t, []string{"normativa"}, vs.Filters[model.IndexExtracts][0].ClauseTypes)
	assert.Equal(t, "PPT", res.Memory.LastDocType)
	assert.Equal(t, []string{"normativa"}, res.Memory.LastClauseTypes)
}

func TestRetrieve_EmptyEmbeddingIsInsufficient(t *testing.T) {
	_, vs, cat := newFixture()
	o := NewOrchestrator(&fakes.Embedder{}, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{Question: "algo", Intent: model.IntentResult{Focus: model.FocusContract}})
	require.NoError(t, err)
	assert.True(t, res.Insufficient)
	assert.True(t, res.Bundle.Empty())
	assert.Empty(t, vs.Ks)
}

func TestRetrieve_EmbeddingFailureIsUpstream(t *testing.T) {
	_, vs, cat := newFixture()
	o := NewOrchestrator(&fakes.Embedder{Err: errors.New("quota")}, vs, cat, model.DefaultRetrievalConfig())

	_, err := o.Retrieve(context.Background(), Request{Question: "algo", Intent: model.IntentResult{Focus: model.FocusContract}})
	require.Error(t, err)
}

func TestRetrieve_VectorSearchFailureIsGraphError(t *testing.T) {
	emb, _, cat := newFixture()
	vs := &fakes.VectorSearcher{Err: errors.New("neo4j: connection refused")}
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	_, err := o.Retrieve(context.Background(), Request{Question: "contratos de limpieza", Intent: model.IntentResult{Focus: model.FocusContract}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Contains(t, err.Error(), "connection refused")

	_, err = o.Retrieve(context.Background(), Request{
		Question: "¿y el plazo de ejecución?",
		Intent:   model.IntentResult{Focus: model.FocusCompany, IsFollowUp: true},
		Memory:   companyMemory(),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
}

func TestRetrieve_CompanyNarrowsWithWidenedCounts(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "qué contratos ha ganado Techfriendly",
		Intent:   model.IntentResult{Focus: model.FocusCompany, CompanyQuery: "Techfriendly"},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeCompany, res.Mode)
	assert.Equal(t, "B12345678", res.CompanyTaxID)
	assert.Equal(t, []int{150}, vs.Ks[model.IndexChapters])
	assert.Equal(t, []int{300}, vs.Ks[model.IndexExtracts])
	assert.Equal(t, []string{"A", "B"}, vs.Filters[model.IndexChapters][0].ContractIDs)

	require.Len(t, res.Bundle.Contracts, 2)
	require.Len(t, res.Bundle.Chapters, 1)
	assert.Equal(t, "B", res.Bundle.Chapters[0].Expediente)
	require.Len(t, res.Bundle.Extracts, 1)
	assert.Equal(t, "A", res.Bundle.Extracts[0].Expediente)
	assert.Empty(t, vs.Ks[model.IndexContracts])

	assert.Equal(t, model.FocusCompany, res.Memory.LastFocus)
	assert.Equal(t, "Techfriendly", res.Memory.LastCompanyQuery)
	assert.Equal(t, "B12345678", res.Memory.LastCompanyTaxID)
}

func TestRetrieve_CompanyTruncatesToCaps(t *testing.T) {
	emb, vs, cat := newFixture()
	var many []model.VectorHit
	for i := 0; i < 40; i++ {
		many = append(many, model.VectorHit{ID: fmt.Sprintf("c%d", i), Expediente: "A", ContractID: "A", Score: 1 - float64(i)/100})
	}
	vs.Hits[model.IndexChapters] = many
	cfg := model.DefaultRetrievalConfig()
	cfg.KChapters = 10
	o := NewOrchestrator(emb, vs, cat, cfg)

	res, err := o.Retrieve(context.Background(), Request{
		Question: "capítulos",
		Intent:   model.IntentResult{Focus: model.FocusCompany, CompanyQuery: "Techfriendly"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Bundle.Chapters, 10)
	assert.Equal(t, "c0", res.Bundle.Chapters[0].ID)
}

func TestRetrieve_CompanyWithoutContractsFallsBack(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "contratos de Desconocida",
		Intent:   model.IntentResult{Focus: model.FocusCompany, CompanyQuery: "Desconocida"},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, res.Mode)
	assert.Equal(t, model.FocusContract, res.Memory.LastFocus)
	assert.NotEmpty(t, res.Bundle.Contracts)
	assert.Equal(t, []string{"Desconocida"}, cat.companyQ)
}

func TestRetrieve_CompanyLookupFailure(t *testing.T) {
	emb, vs, cat := newFixture()
	cat.companyErr = errors.New("graph down")
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	_, err := o.Retrieve(context.Background(), Request{
		Question: "contratos de Techfriendly",
		Intent:   model.IntentResult{Focus: model.FocusCompany, CompanyQuery: "Techfriendly"},
	})
	assert.Error(t, err)
}

func companyMemory() model.RouterMemory {
	return model.RouterMemory{
		LastCategory:     model.CategoryRetrieval,
		LastFocus:        model.FocusCompany,
		LastCompanyQuery: "Techfriendly",
		LastCompanyTaxID: "B12345678",
		LastContracts:    []model.Contract{contract("A"), contract("B")},
		LastChapters:     []model.Chapter{{ID: "old", Expediente: "A"}},
	}
}

func TestRetrieve_EntitySwitchClearsCache(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "y Vodafone?",
		Intent:   model.IntentResult{Focus: model.FocusCompany, CompanyQuery: "Vodafone", IsFollowUp: true},
		Memory:   companyMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeCompany, res.Mode)
	assert.Equal(t, []string{"Vodafone"}, cat.companyQ)
	require.Len(t, res.Memory.LastContracts, 1)
	assert.Equal(t, "V1", res.Memory.LastContracts[0].Key())
	assert.Equal(t, "Vodafone", res.Memory.LastCompanyQuery)
	assert.Equal(t, "A80907397", res.Memory.LastCompanyTaxID)
	for _, ch := range res.Memory.LastChapters {
		assert.NotEqual(t, "old", ch.ID)
	}
}

func TestRetrieve_CompanyFollowUpReusesContracts(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "y el importe?",
		Intent:   model.IntentResult{Focus: model.FocusCompany, IsFollowUp: true},
		Memory:   companyMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFollowUp, res.Mode)
	assert.Empty(t, cat.companyQ)
	assert.Len(t, res.Bundle.Contracts, 2)
	assert.Equal(t, "Techfriendly", res.Memory.LastCompanyQuery)
}

func TestRetrieve_CachedCompanyAggregationNeedsStructuredQuery(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())

	res, err := o.Retrieve(context.Background(), Request{
		Question: "¿y el ranking de adjudicatarias?",
		Intent:   model.IntentResult{Focus: model.FocusCompany, IsFollowUp: true},
		Memory:   companyMemory(),
	})
	require.NoError(t, err)
	assert.True(t, res.NeedsAggregation)
	assert.Empty(t, vs.Ks)
	assert.Empty(t, emb.Texts)
}

func TestRetrieve_ContractFollowUpUsesRememberedFilters(t *testing.T) {
	emb, vs, cat := newFixture()
	o := NewOrchestrator(emb, vs, cat, model.DefaultRetrievalConfig())
	mem := model.RouterMemory{
		LastFocus:       model.FocusContract,
		LastContracts:   []model.Contract{contract("B")},
		LastDocType:     "PPT",
		LastClauseTypes: []string{"normativa"},
	}

	res, err := o.Retrieve(context.Background(), Request{
		Question: "¿y qué plazo tiene ese contrato?",
		Intent:   model.IntentResult{Focus: model.FocusContract, IsFollowUp: true},
		Memory:   mem,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFollowUp, res.Mode)
	assert.Empty(t, vs.Ks[model.IndexContracts])
	f := vs.Filters[model.IndexExtracts][0]
	assert.Equal(t, "PPT", f.DocType)
	assert.Equal(t, []string{"normativa"}, f.ClauseTypes)
	assert.Equal(t, []string{"B"}, f.ContractIDs)
	require.Len(t, res.Bundle.Chapters, 1)
	assert.Equal(t, "cap-b", res.Bundle.Chapters[0].ID)
}

func TestCompanyLookupPriority(t *testing.T) {
	mem := model.RouterMemory{LastCompanyQuery: "Techfriendly", LastCompanyTaxID: "B12345678"}

	q, tax := CompanyLookup(model.IntentResult{CompanyTaxID: "A80907397", CompanyQuery: "Vodafone"}, mem)
	assert.Equal(t, "A80907397", q)
	assert.Equal(t, "A80907397", tax)

	q, tax = CompanyLookup(model.IntentResult{CompanyQuery: "Vodafone"}, mem)
	assert.Equal(t, "Vodafone", q)
	assert.Empty(t, tax)

	q, _ = CompanyLookup(model.IntentResult{}, mem)
	assert.Equal(t, "B12345678", q)

	q, _ = CompanyLookup(model.IntentResult{}, model.RouterMemory{LastCompanyQuery: "Techfriendly"})
	assert.Equal(t, "Techfriendly", q)
}

func TestIsAggregationRequest(t *testing.T) {
	assert.True(t, IsAggregationRequest("Dame el TOP 10 de empresas"))
	assert.True(t, IsAggregationRequest("¿quién ganó más?"))
	assert.True(t, IsAggregationRequest("el de mayor importe"))
	assert.False(t, IsAggregationRequest("¿y el importe?"))
}

func TestTopKeysDeterministic(t *testing.T) {
	keys := TopKeys(map[string]float64{"b": 0.5, "a": 0.5, "c": 0.9}, 2)
	assert.Equal(t, []string{"c", "a"}, keys)
}

func TestSortContractsTiesByCompanyRank(t *testing.T) {
	cs := []model.Contract{
		{Expediente: "X", Score: 0.5, CompanyMatchRank: 3},
		{Expediente: "Y", Score: 0.5, CompanyMatchRank: 1},
		{Expediente: "Z", Score: 0.8, CompanyMatchRank: 3},
	}
	SortContracts(cs)
	assert.Equal(t, "Z", cs[0].Expediente)
	assert.Equal(t, "Y", cs[1].Expediente)
	assert.Equal(t, "X", cs[2].Expediente)
}
