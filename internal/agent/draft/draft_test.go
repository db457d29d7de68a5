package draft

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techfriendly/xpider-huelva/internal/agent/fakes"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

const wantsDetails = `{"need_clarification": true, "questions": ["¿Tracción permanente?", "¿Plazo de entrega?", "¿Presupuesto?"], "normalized_request": "PPT vehículo 4x4 forestal"}`

func TestPlanner_FreshRequestAlwaysAsks(t *testing.T) {
	chat := fakes.NewChatModel(`{"need_clarification": false, "questions": [], "normalized_request": "PPT para un vehículo 4x4"}`)
	p := NewPlanner(providers.NewCompleter(chat, "m"))

	d, err := p.Assess(context.Background(), "Generar PPT vehículo 4x4", model.RouterMemory{})
	require.NoError(t, err)
	assert.Equal(t, model.DraftAwaitingClarification, d.State)
	assert.GreaterOrEqual(t, len(d.Plan.Questions), 3)
	assert.LessOrEqual(t, len(d.Plan.Questions), 7)
	assert.Equal(t, DefaultQuestions, d.Plan.Questions)
	assert.True(t, d.Memory.DraftPending)
	assert.Equal(t, "PPT para un vehículo 4x4", d.Memory.DraftRequest)
	assert.Equal(t, 1, d.Memory.DraftRounds)
	assert.Contains(t, d.Message, "1. ¿Podrías especificar")
}

func TestPlanner_QuestionsCappedAtSeven(t *testing.T) {
	chat := fakes.NewChatModel(`{"need_clarification": true, "questions": ["1","2","3","4","5","6","7","8","9"]}`)
	p := NewPlanner(providers.NewCompleter(chat, "m"))

	d, err := p.Assess(context.Background(), "Generar PPT vehículo 4x4", model.RouterMemory{})
	require.NoError(t, err)
	assert.Len(t, d.Plan.Questions, 7)
	assert.Equal(t, "Generar PPT vehículo 4x4", d.Memory.DraftRequest)
}

func TestPlanner_ReadyWithinThreeInvocations(t *testing.T) {
	chat := fakes.NewChatModel(wantsDetails)
	p := NewPlanner(providers.NewCompleter(chat, "m"))
	ctx := context.Background()

	mem := model.RouterMemory{}
	replies := []string{"Generar PPT vehículo 4x4", "Para el servicio forestal", "No lo sé"}
	var states []model.DraftState
	for _, r := range replies {
		d, err := p.Assess(ctx, r, mem)
		require.NoError(t, err)
		states = append(states, d.State)
		mem = d.Memory
		if d.State == model.DraftReady {
			break
		}
	}
	assert.Equal(t, []model.DraftState{
		model.DraftAwaitingClarification,
		model.DraftAwaitingClarification,
		model.DraftReady,
	}, states)
	assert.False(t, mem.DraftPending)
	assert.Zero(t, mem.DraftRounds)
	assert.Empty(t, mem.DraftRequest)
}

func TestPlanner_PendingMergesDetails(t *testing.T) {
	chat := fakes.NewChatModel(`{"need_clarification": false, "normalized_request": ""}`)
	p := NewPlanner(providers.NewCompleter(chat, "m"))
	mem := model.RouterMemory{DraftPending: true, DraftRequest: "PPT vehículo 4x4", DraftRounds: 1}

	d, err := p.Assess(context.Background(), "1. Uso forestal\n2. 5 plazas", mem)
	require.NoError(t, err)
	assert.Equal(t, model.DraftReady, d.State)
	assert.Equal(t, "PPT vehículo 4x4\n\nNuevos detalles/petición: 1. Uso forestal\n2. 5 plazas", d.Request)
	assert.Contains(t, chat.LastUserContent(), "Nuevos detalles/petición: 1. Uso forestal")
}

func TestPlanner_UnparsableVerdict(t *testing.T) {
	chat := fakes.NewChatModel("no sé")
	p := NewPlanner(providers.NewCompleter(chat, "m"))

	d, err := p.Assess(context.Background(), "Generar PPT vehículo 4x4", model.RouterMemory{})
	require.NoError(t, err)
	assert.Equal(t, model.DraftAwaitingClarification, d.State)
	assert.Len(t, d.Plan.Questions, 3)

	d, err = p.Assess(context.Background(), "sin más detalles", d.Memory)
	require.NoError(t, err)
	assert.Equal(t, model.DraftReady, d.State)
}

func TestPlanner_ModelFailureIsUpstream(t *testing.T) {
	chat := fakes.NewChatModel()
	chat.Err = errors.New("503")
	p := NewPlanner(providers.NewCompleter(chat, "m"))

	_, err := p.Assess(context.Background(), "Generar PPT vehículo 4x4", model.RouterMemory{})
	require.Error(t, err)
	assert.True(t, errx.IsUpstream(err))
}

func TestIsStructuredReply(t *testing.T) {
	cases := map[string]bool{
		"1. Uso forestal":                 true,
		"- cinco plazas":                  true,
		"• diésel":                        true,
		"uno\ndos\ntres":                  true,
		"uno\n\ndos":                      false,
		"¿cuántos contratos hay?":         false,
		strings.Repeat("palabra ", 31):    true,
		"Para el servicio forestal, 4x4.": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsStructuredReply(in), in)
	}
}

type stubReferences struct {
	refs  map[string]*model.ReferenceDocument
	asked []string
}

func (s *stubReferences) PPTReference(_ context.Context, key string) (*model.ReferenceDocument, error) {
	s.asked = append(s.asked, key)
	return s.refs[key], nil
}

func draftFixture() (*fakes.VectorSearcher, *stubReferences) {
	vs := &fakes.VectorSearcher{Hits: map[string][]model.VectorHit{
		model.IndexChapters: {
			{ContractID: "X", Expediente: "X", DocType: "PPT", Score: 0.9},
			{ContractID: "X", Expediente: "X", DocType: "PPT", Score: 0.85},
			{ContractID: "Y", Expediente: "Y", DocType: "PPT", Score: 0.8},
		},
		model.IndexExtracts: {
			{ID: "e1", Expediente: "Y", ContractID: "Y", DocType: "PPT", ClauseType: "normativa", Text: "Reglamento"},
		},
	}}
	refs := &stubReferences{refs: map[string]*model.ReferenceDocument{
		"Y": {
			ContractID: "Y", Expediente: "Y", Title: "Suministro de todoterreno",
			Chapters: []model.Chapter{
				{Heading: "Objeto", Order: 1, Text: "El presente pliego tiene por objeto"},
				{Heading: "Características", Order: 2, Text: strings.Repeat("a", 300)},
			},
		},
	}}
	return vs, refs
}

func TestGenerator_StreamsAndRenders(t *testing.T) {
	vs, refs := draftFixture()
	chat := fakes.NewChatModel("# Pliego: Vehículo 4x4 forestal\n\n## 1. Objeto\nSuministro de un vehículo.")
	g := NewGenerator(providers.NewCompleter(chat, "m"), &fakes.Embedder{Vector: []float64{1}}, vs, refs, fakes.Renderer{}, 8000, 50)

	var chunks []string
	d, err := g.Generate(context.Background(), "PPT vehículo 4x4", func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, refs.asked)
	require.NotNil(t, d.Reference)
	assert.Equal(t, "Y", d.Reference.Expediente)
	assert.Equal(t, "Pliego: Vehículo 4x4 forestal", d.Title)
	require.NotNil(t, d.Attachment)
	assert.Equal(t, "pliego-vehículo-4x4-forestal.md", d.Attachment.Filename)
	assert.Equal(t, d.Markdown, strings.Join(chunks, ""))
	assert.Equal(t, []int{20}, vs.Ks[model.IndexExtracts])
	assert.Equal(t, []int{10}, vs.Ks[model.IndexChapters])

	prompt := chat.LastUserContent()
	assert.Contains(t, prompt, "### 1. Objeto\n(Inicio: El presente pliego tiene por objeto...)")
	assert.Contains(t, prompt, "Suministro de todoterreno")

	ev := d.Evidence()
	assert.Equal(t, "REF PPT", ev.Contracts[0].AwardeeName)
	assert.Len(t, ev.Chapters, 2)
	assert.Len(t, ev.Extracts, 1)
}

func TestGenerator_NoReference(t *testing.T) {
	vs, _ := draftFixture()
	chat := fakes.NewChatModel("# Nada")
	g := NewGenerator(providers.NewCompleter(chat, "m"), &fakes.Embedder{Vector: []float64{1}}, vs, &stubReferences{}, nil, 8000, 50)

	d, err := g.Generate(context.Background(), "PPT vehículo 4x4", nil)
	require.NoError(t, err)
	assert.Equal(t, noReferenceAnswer, d.Answer)
	assert.Zero(t, chat.CallCount())
}

func TestGenerator_EmptyEmbedding(t *testing.T) {
	vs, refs := draftFixture()
	chat := fakes.NewChatModel("# Nada")
	g := NewGenerator(providers.NewCompleter(chat, "m"), &fakes.Embedder{}, vs, refs, nil, 8000, 50)

	d, err := g.Generate(context.Background(), "PPT", nil)
	require.NoError(t, err)
	assert.Equal(t, noReferenceAnswer, d.Answer)
	assert.Empty(t, vs.Ks)
}

func TestGenerator_VectorSearchFailureIsGraphError(t *testing.T) {
	_, refs := draftFixture()
	chat := fakes.NewChatModel("# Nada")
	vs := &fakes.VectorSearcher{Err: errors.New("neo4j: connection refused")}
	g := NewGenerator(providers.NewCompleter(chat, "m"), &fakes.Embedder{Vector: []float64{1}}, vs, refs, nil, 8000, 50)

	_, err := g.Generate(context.Background(), "PPT vehículo 4x4", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Zero(t, chat.CallCount())

	_, err = g.FindReference(context.Background(), []float64{1})
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
}

func TestTitleAndSlug(t *testing.T) {
	assert.Equal(t, "Pliego técnico", Title("Intro\n#  \n# Pliego técnico\n## 1"))
	assert.Equal(t, DefaultTitle, Title("## Sin título"))

	assert.Equal(t, "pliego-suministro-de-vehículo-4x4", Slug("Pliego: Suministro de vehículo 4x4!"))
	assert.Equal(t, "ppt", Slug(""))
	assert.Equal(t, "ppt-generado", Slug("!!!"))
	long := Slug(strings.Repeat("palabra ", 30))
	assert.LessOrEqual(t, len([]rune(long)), 80)
	assert.False(t, strings.HasSuffix(long, "-"))
}

func TestChapterOutline(t *testing.T) {
	assert.Equal(t, "N/D", ChapterOutline(nil))

	var chapters []model.Chapter
	for i := 1; i <= 10; i++ {
		chapters = append(chapters, model.Chapter{Heading: "Cap", Order: i})
	}
	out := ChapterOutline(chapters)
	assert.Equal(t, 8, strings.Count(out, "### "))
	assert.NotContains(t, out, "### 9.")
}
