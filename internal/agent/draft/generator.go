package draft

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/errgroup"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	DefaultTitle    = "Pliego de Prescripciones Técnicas"
	defaultSlug     = "ppt-generado"
	maxSlugRunes    = 80
	referenceTopK   = 10
	promptChapters  = 8
	excerptRunes    = 200
	evidenceItems   = 12
	maxExtraExtract = 20

	draftTemperature = float32(0.2)

	noReferenceAnswer = "No he encontrado un PPT de referencia similar en el grafo para redactar el pliego."
	emptyDraftAnswer  = "No he podido redactar el pliego. Por favor, inténtalo de nuevo con más detalle."
)

var (
	slugStripRe = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugSpaceRe = regexp.MustCompile(`\s+`)
)

// ReferenceCatalog loads a candidate reference PPT.
type ReferenceCatalog interface {
	PPTReference(ctx context.Context, key string) (*model.ReferenceDocument, error)
}

// Draft is a generated document with the evidence it was modelled on.
type Draft struct {
	Markdown   string
	Title      string
	Filename   string
	Reference  *model.ReferenceDocument
	Extracts   []model.Extract
	Attachment *model.Attachment
	// Answer is set instead of Markdown when nothing could be drafted.
	Answer string
}

// Evidence returns the reference contract, its chapters and the extra extracts for the sidebar.
func (d *Draft) Evidence() *model.EvidenceBundle {
	if d == nil || d.Reference == nil {
		return &model.EvidenceBundle{}
	}
	ref := d.Reference
	b := &model.EvidenceBundle{
		Contracts: []model.Contract{{
			ID:          ref.ContractID,
			Expediente:  ref.Expediente,
			Title:       ref.Title,
			Link:        ref.Link,
			AwardeeName: "REF PPT",
		}},
	}
	b.Chapters = append(b.Chapters, ref.Chapters[:min(evidenceItems, len(ref.Chapters))]...)
	b.Extracts = append(b.Extracts, d.Extracts[:min(evidenceItems, len(d.Extracts))]...)
	return b
}

type Generator struct {
	completer *providers.Completer
	embedder  embedding.Embedder
	vectors   model.VectorSearcher
	catalog   ReferenceCatalog
	renderer  model.DocumentRenderer
	maxTokens int
	kExtracts int
}

func NewGenerator(completer *providers.Completer, embedder embedding.Embedder, vectors model.VectorSearcher,
	catalog ReferenceCatalog, renderer model.DocumentRenderer, maxTokens, kExtracts int) *Generator {
	return &Generator{
		completer: completer,
		embedder:  embedder,
		vectors:   vectors,
		catalog:   catalog,
		renderer:  renderer,
		maxTokens: maxTokens,
		kExtracts: kExtracts,
	}
}

// Generate finds a reference PPT, streams a new document to sink and renders it as an attachment.
func (g *Generator) Generate(ctx context.Context, request string, sink model.StreamSink) (*Draft, error) {
	vec, err := providers.EmbedQuery(ctx, g.embedder, request)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return &Draft{Answer: noReferenceAnswer}, nil
	}

	var (
		ref      *model.ReferenceDocument
		extracts []model.Extract
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		ref, err = g.FindReference(egctx, vec)
		return err
	})
	eg.Go(func() error {
		hits, err := g.vectors.SearchIndex(egctx, model.IndexExtracts, vec, min(maxExtraExtract, max(g.kExtracts, 1)),
			model.VectorFilter{DocType: model.DocTypePPT})
		if err != nil {
			return err
		}
		for _, h := range hits {
			extracts = append(extracts, model.Extract{
				ID: h.ID, ClauseType: h.ClauseType, ContractID: h.ContractID, Expediente: h.Expediente,
				ContractTitle: h.ContractTitle, DocType: h.DocType, Text: h.Text, Score: h.Score,
			})
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, errx.WrapGraph(err)
	}
	if ref == nil {
		return &Draft{Answer: noReferenceAnswer, Extracts: extracts}, nil
	}

	msgs, err := prompts.DraftGeneration(ctx, request, orNA(ref.Expediente), orNA(ref.Title), ChapterOutline(ref.Chapters))
	if err != nil {
		return nil, err
	}
	text, err := g.completer.Stream(ctx, msgs, sink,
		einomodel.WithTemperature(draftTemperature),
		einomodel.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return nil, err
	}
	d := &Draft{Reference: ref, Extracts: extracts}
	if strings.TrimSpace(text) == "" {
		d.Answer = emptyDraftAnswer
		return d, nil
	}

	d.Markdown = text
	d.Title = Title(text)
	d.Filename = Slug(d.Title)
	if g.renderer != nil {
		data, err := g.renderer.Render(ctx, d.Title, text)
		if err != nil {
			// the streamed text is still useful without the file
			logx.Warn().Err(err).Str("title", d.Title).Msg("Draft rendering failed")
		} else {
			d.Filename += g.renderer.Extension()
			d.Attachment = &model.Attachment{Filename: d.Filename, ContentType: g.renderer.ContentType(), Data: data}
		}
	}
	return d, nil
}

// FindReference returns the first PPT among the contracts owning the chapters
// closest to vec.
func (g *Generator) FindReference(ctx context.Context, vec []float64) (*model.ReferenceDocument, error) {
	hits, err := g.vectors.SearchIndex(ctx, model.IndexChapters, vec, referenceTopK, model.VectorFilter{DocType: model.DocTypePPT})
	if err != nil {
		return nil, errx.WrapGraph(err)
	}
	seen := map[string]bool{}
	for _, h := range hits {
		key := h.ContractID
		if key == "" {
			key = h.Expediente
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		ref, err := g.catalog.PPTReference(ctx, key)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			logx.Debug().Str("expediente", ref.Expediente).Int("chapters", len(ref.Chapters)).Msg("Reference PPT found")
			return ref, nil
		}
	}
	return nil, nil
}

// ChapterOutline renders up to eight reference chapters with the start of their text.
func ChapterOutline(chapters []model.Chapter) string {
	if len(chapters) == 0 {
		return "N/D"
	}
	blocks := make([]string, 0, promptChapters)
	for _, c := range chapters[:min(promptChapters, len(chapters))] {
		blocks = append(blocks, fmt.Sprintf("### %d. %s\n(Inicio: %s...)", c.Order, orNA(c.Heading), clipRunes(c.Text, excerptRunes)))
	}
	return strings.Join(blocks, "\n")
}

// Title returns the first level-one heading of the draft, or DefaultTitle.
func Title(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			if t := strings.TrimSpace(strings.TrimPrefix(line, "# ")); t != "" {
				return t
			}
		}
	}
	return DefaultTitle
}

// Slug turns a title into a file name stem: lower case, word characters and
// hyphens only, at most 80 runes.
func Slug(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		t = "ppt"
	}
	t = slugStripRe.ReplaceAllString(t, "")
	t = strings.Trim(slugSpaceRe.ReplaceAllString(t, "-"), "-")
	if r := []rune(t); len(r) > maxSlugRunes {
		t = strings.TrimRight(string(r[:maxSlugRunes]), "-")
	}
	if t == "" {
		return defaultSlug
	}
	return t
}

func clipRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/D"
	}
	return s
}
