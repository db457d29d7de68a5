package repo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techfriendly/xpider-huelva/internal/agent/fakes"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

func TestCatalog_ContractsByKeysKeepsKeyOrder(t *testing.T) {
	g := &fakes.GraphReader{Handler: func(q string, p map[string]any) ([]map[string]any, error) {
		assert.Equal(t, []string{"EXP-2", "EXP-1", "missing"}, p["keys"])
		return []map[string]any{
			{"key": "EXP-1", "contract_id": "EXP-1", "expediente": "EXP-1", "titulo": "Uno", "importe_adjudicado": int64(1000)},
			{"key": "EXP-2", "contract_id": "EXP-2", "expediente": "EXP-2", "titulo": "Dos", "importe_adjudicado": nil},
			{"key": "EXP-2", "contract_id": "EXP-2", "expediente": "EXP-2", "titulo": "Dos (UTE)"},
		}, nil
	}}
	out, err := NewCatalog(g).ContractsByKeys(context.Background(), []string{"EXP-2", "EXP-1", "missing"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Dos", out[0].Title)
	assert.Nil(t, out[0].AwardedAmount)
	assert.Equal(t, "Uno", out[1].Title)
	require.NotNil(t, out[1].AwardedAmount)
	assert.InDelta(t, 1000.0, *out[1].AwardedAmount, 0.001)
}

func TestCatalog_ContractsByKeysEmptySkipsQuery(t *testing.T) {
	g := &fakes.GraphReader{}
	out, err := NewCatalog(g).ContractsByKeys(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, g.QueryCount())
}

func TestCatalog_ContractsByCompany(t *testing.T) {
	var params map[string]any
	g := &fakes.GraphReader{Handler: func(q string, p map[string]any) ([]map[string]any, error) {
		params = p
		return []map[string]any{
			{"contract_id": "A", "expediente": "A", "empresa_match_rank": int64(1), "adjudicataria_nombre": "Techfriendly SL"},
			{"contract_id": "A", "expediente": "A", "empresa_match_rank": int64(1), "adjudicataria_nombre": "Otra SL"},
			{"contract_id": "B", "expediente": "B", "empresa_match_rank": int64(2)},
		}, nil
	}}
	out, err := NewCatalog(g).ContractsByCompany(context.Background(), " Techfriendly? ", "", 3, 25)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].CompanyMatchRank)
	assert.Equal(t, "B", out[1].Key())
	assert.Equal(t, "Techfriendly", params["q"])
	assert.Equal(t, false, params["has_tax_id"])
	assert.Equal(t, 3, params["k_companies"])
	assert.Equal(t, 25, params["k_contracts"])
}

func TestCatalog_TaxIDQuery(t *testing.T) {
	var params map[string]any
	g := &fakes.GraphReader{Handler: func(q string, p map[string]any) ([]map[string]any, error) {
		params = p
		return nil, nil
	}}
	_, err := NewCatalog(g).Companies(context.Background(), "b12345678", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "B12345678", params["tax_id"])
	assert.Equal(t, true, params["has_tax_id"])
}

func TestCatalog_EmptyCompanyQuery(t *testing.T) {
	g := &fakes.GraphReader{}
	out, err := NewCatalog(g).ContractsByCompany(context.Background(), " ?¿ ", "", 3, 25)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, g.QueryCount())
}

func TestCatalog_CompanyStats(t *testing.T) {
	g := &fakes.GraphReader{Handler: func(q string, p map[string]any) ([]map[string]any, error) {
		return []map[string]any{
			{"nombre": "TECHFRIENDLY SL", "nif": "B12345678", "match_rank": int64(2), "adjudicaciones_count": int64(4), "adjudicaciones_total": 152340.5},
			{"nombre": "TECHFRIENDLY IBERIA SL", "nif": "B87654321", "match_rank": int64(2), "adjudicaciones_count": int64(1), "adjudicaciones_total": 10.0},
		}, nil
	}}
	st, err := NewCatalog(g).CompanyStats(context.Background(), "Techfriendly", "")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "TECHFRIENDLY SL", st.Name)
	assert.Equal(t, 4, st.ContractsWon)
	assert.InDelta(t, 152340.5, st.TotalAwarded, 0.001)
}

func TestCatalog_CompanyStatsNotFound(t *testing.T) {
	st, err := NewCatalog(&fakes.GraphReader{}).CompanyStats(context.Background(), "Nadie", "")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCatalog_GraphFailureIsWrapped(t *testing.T) {
	g := &fakes.GraphReader{Handler: func(string, map[string]any) ([]map[string]any, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := NewCatalog(g).ContractsByKeys(context.Background(), []string{"A"})
	require.Error(t, err)
	assert.Equal(t, 502, errx.StatusOf(err))
}

func TestCatalog_PPTReference(t *testing.T) {
	g := &fakes.GraphReader{Handler: func(q string, p map[string]any) ([]map[string]any, error) {
		assert.Equal(t, "EXP-9", p["key"])
		if strings.Contains(q, "TIENE_CAPITULO") {
			return []map[string]any{
				{"cap_id": "c1", "heading": "Objeto", "orden": int64(1), "texto": "El objeto..."},
				{"cap_id": "c2", "heading": "  ", "orden": int64(2)},
				{"cap_id": "c3", "heading": "Alcance", "orden": int64(3), "texto": "..."},
			}, nil
		}
		return []map[string]any{{"contract_id": "EXP-9", "expediente": "EXP-9", "titulo": "Vehículos", "doc_id": "d1"}}, nil
	}}
	ref, err := NewCatalog(g).PPTReference(context.Background(), "EXP-9")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "Vehículos", ref.Title)
	require.Len(t, ref.Chapters, 2)
	assert.Equal(t, "Objeto", ref.Chapters[0].Heading)
	assert.Equal(t, 3, ref.Chapters[1].Order)
	assert.Equal(t, model.DocTypePPT, ref.Chapters[1].DocType)
}

func TestCatalog_PPTReferenceWithoutPPT(t *testing.T) {
	g := &fakes.GraphReader{}
	ref, err := NewCatalog(g).PPTReference(context.Background(), "EXP-1")
	require.NoError(t, err)
	assert.Nil(t, ref)
	assert.Equal(t, 1, g.QueryCount())
}

func testSessionRepository(t *testing.T, repo model.SessionRepository) {
	ctx := context.Background()
	id := "test-" + time.Now().Format("150405.000000000")

	s, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Empty(t, s.History)

	s.AppendExchange("hola", "¡Hola!", 12)
	s.Memory.LastFocus = model.FocusCompany
	s.Memory.LastCompanyQuery = "Techfriendly"
	s.Memory.LastContracts = []model.Contract{{ID: "A", Expediente: "A"}}
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
	assert.Equal(t, "Techfriendly", got.Memory.LastCompanyQuery)
	assert.True(t, got.Memory.HasContracts())

	release, err := repo.Lock(ctx, id, time.Minute)
	require.NoError(t, err)
	_, err = repo.Lock(ctx, id, time.Minute)
	require.Error(t, err)
	assert.Equal(t, 409, errx.StatusOf(err))
	release()
	release2, err := repo.Lock(ctx, id, time.Minute)
	require.NoError(t, err)
	release2()

	require.NoError(t, repo.Delete(ctx, id))
	got, err = repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.History)
}

func TestMemorySessionRepository(t *testing.T) {
	testSessionRepository(t, NewMemorySessionRepository(time.Hour))
}

func TestMemorySessionRepository_LoadReturnsCopy(t *testing.T) {
	repo := NewMemorySessionRepository(0)
	ctx := context.Background()
	s := model.NewSession("x")
	s.AppendExchange("a", "b", 12)
	require.NoError(t, repo.Save(ctx, s))

	got, _ := repo.Load(ctx, "x")
	got.History[0].Text = "mutated"
	again, _ := repo.Load(ctx, "x")
	assert.Equal(t, "a", again.History[0].Text)
}

func TestMemorySessionRepository_SaveRequiresID(t *testing.T) {
	err := NewMemorySessionRepository(0).Save(context.Background(), &model.Session{})
	assert.Error(t, err)
}

func TestRedisSessionRepository(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	testSessionRepository(t, NewRedisSessionRepository(rdb, time.Hour))
}
