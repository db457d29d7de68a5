// Package retrieval gathers evidence for a question from the three semantic
// indices, optionally narrowed to the contracts of one company.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/errgroup"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	"github.com/techfriendly/xpider-huelva/internal/agent/providers"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// Modes reported in the sidebar.
const (
	ModeFresh    = "RAG"
	ModeCompany  = "RAG_EMPRESA"
	ModeFollowUp = "RAG_FOLLOWUP"
)

// minCompanyContracts is the floor for contracts fetched for a company.
const minCompanyContracts = 25

var aggregationMarkers = []string{
	"ranking", "top 10", "top 5", "quién ganó más", "quien gano mas", "quién ganó mas", "mayor importe",
}

// Catalog is the subset of the graph catalog retrieval needs.
type Catalog interface {
	ContractsByKeys(ctx context.Context, keys []string) ([]model.Contract, error)
	ContractsByCompany(ctx context.Context, query, taxID string, kCompanies, kContracts int) ([]model.Contract, error)
	Companies(ctx context.Context, query, taxID string, k int) ([]model.Company, error)
}

// Request is one retrieval turn.
type Request struct {
	Question string
	Intent   model.IntentResult
	Memory   model.RouterMemory
}

// Result carries the evidence plus the router memory to commit.
type Result struct {
	Bundle *model.EvidenceBundle
	Memory model.RouterMemory
	Mode   string

	CompanyQuery string
	CompanyTaxID string

	// NeedsAggregation asks the state machine to re-route to a structured query.
	NeedsAggregation bool
	// Insufficient is set when nothing usable was found; callers answer negatively.
	Insufficient bool
}

type Orchestrator struct {
	embedder embedding.Embedder
	vectors  model.VectorSearcher
	catalog  Catalog
	cfg      model.RetrievalConfig
}

func NewOrchestrator(embedder embedding.Embedder, vectors model.VectorSearcher, catalog Catalog, cfg model.RetrievalConfig) *Orchestrator {
	if cfg.FilterWiden <= 0 {
		cfg.FilterWiden = 1
	}
	if cfg.CompanyMatches <= 0 {
		cfg.CompanyMatches = 3
	}
	return &Orchestrator{embedder: embedder, vectors: vectors, catalog: catalog, cfg: cfg}
}

// IsAggregationRequest reports questions that single-company cached evidence cannot answer.
func IsAggregationRequest(question string) bool {
	q := strings.ToLower(question)
	for _, m := range aggregationMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}

// EntitySwitch reports whether the intent names a different company than the remembered one.
func EntitySwitch(in model.IntentResult, mem model.RouterMemory) bool {
	return in.CompanyQuery != "" && mem.LastCompanyQuery != "" &&
		!strings.EqualFold(in.CompanyQuery, mem.LastCompanyQuery)
}

// CompanyLookup picks the best company search string: explicit tax id, explicit
// name, then the remembered tax id and name.
func CompanyLookup(in model.IntentResult, mem model.RouterMemory) (query, taxID string) {
	switch {
	case in.CompanyTaxID != "":
		return in.CompanyTaxID, in.CompanyTaxID
	case in.CompanyQuery != "":
		return in.CompanyQuery, ""
	case mem.LastCompanyTaxID != "":
		return mem.LastCompanyTaxID, mem.LastCompanyTaxID
	}
	return mem.LastCompanyQuery, ""
}

// Retrieve runs the retrieval strategy selected by focus, follow-up status and memory.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	in := req.Intent
	mem := req.Memory
	switched := EntitySwitch(in, mem)
	if switched {
		mem.ClearEvidence()
	}
	useCache := in.IsFollowUp && mem.HasContracts() && !switched

	logx.Debug().
		Str("focus", string(in.Focus)).
		Bool("followup", in.IsFollowUp).
		Bool("entity_switch", switched).
		Bool("use_cache", useCache).
		Msg("Retrieval strategy")

	res := &Result{Memory: mem}
	res.Memory.LastCategory = model.CategoryRetrieval

	if in.Focus == model.FocusCompany {
		if useCache {
			if IsAggregationRequest(req.Question) {
				res.NeedsAggregation = true
				res.Memory.LastFocus = model.FocusCompany
				return res, nil
			}
			return o.narrowed(ctx, req.Question, in, res, mem.LastContracts, model.FocusCompany, ModeFollowUp)
		}
		done, err := o.company(ctx, req.Question, in, res)
		if err != nil || done {
			return res, err
		}
		// no contracts for the company: fall through to an open search
		logx.Debug().Str("company", res.CompanyQuery).Msg("Company has no contracts, falling back to contract search")
		in.Focus = model.FocusContract
	}

	if in.Focus != model.FocusCompany && useCache {
		if in.DocType == "" {
			in.DocType = mem.LastDocType
		}
		if len(in.ClauseTypes) == 0 {
			in.ClauseTypes = mem.LastClauseTypes
		}
		return o.narrowed(ctx, req.Question, in, res, mem.LastContracts, model.FocusContract, ModeFollowUp)
	}
	return o.fresh(ctx, req.Question, in, res)
}

// company resolves the company and narrows chapter/extract search to its contracts.
// done is false when the company has no contracts.
func (o *Orchestrator) company(ctx context.Context, question string, in model.IntentResult, res *Result) (done bool, err error) {
	query, taxID := CompanyLookup(in, res.Memory)
	if strings.TrimSpace(query) == "" {
		return false, nil
	}
	res.CompanyQuery = query

	var (
		companies []model.Company
		contracts []model.Contract
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		companies, err = o.catalog.Companies(gctx, query, taxID, 5)
		return err
	})
	g.Go(func() error {
		var err error
		contracts, err = o.catalog.ContractsByCompany(gctx, query, taxID, o.cfg.CompanyMatches, max(minCompanyContracts, o.cfg.KContracts))
		return err
	})
	if err := g.Wait(); err != nil {
		return false, errx.WrapGraph(err)
	}

	res.CompanyTaxID = in.CompanyTaxID
	if len(companies) > 0 && companies[0].TaxID != "" {
		res.CompanyTaxID = companies[0].TaxID
	}
	res.Memory.LastCompanyQuery = query
	res.Memory.LastCompanyTaxID = res.CompanyTaxID
	if len(contracts) == 0 {
		return false, nil
	}
	_, err = o.narrowed(ctx, question, in, res, contracts, model.FocusCompany, ModeCompany)
	return true, err
}

// narrowed keeps contracts and searches chapters and extracts among them only,
// with candidate counts widened before truncating to the normal caps.
func (o *Orchestrator) narrowed(ctx context.Context, question string, in model.IntentResult, res *Result, contracts []model.Contract, focus model.Focus, mode string) (*Result, error) {
	res.Mode = mode
	res.Memory.LastFocus = focus
	res.Memory.LastContracts = contracts
	res.Memory.LastDocType = in.DocType
	res.Memory.LastClauseTypes = in.ClauseTypes
	bundle := &model.EvidenceBundle{Contracts: contracts}
	res.Bundle = bundle

	vec, err := providers.EmbedQuery(ctx, o.embedder, question)
	if err != nil {
		return res, err
	}
	if len(vec) == 0 {
		// the contract set alone still answers company questions
		res.Insufficient = len(contracts) == 0
		return res, nil
	}

	keys := model.ContractKeys(contracts)
	base := model.VectorFilter{DocType: in.DocType, ContractIDs: keys}
	var chapterHits, extractHits []model.VectorHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chapterHits, err = o.vectors.SearchIndex(gctx, model.IndexChapters, vec, o.cfg.KChapters*o.cfg.FilterWiden, base)
		return err
	})
	g.Go(func() error {
		f := base
		f.ClauseTypes = in.ClauseTypes
		var err error
		extractHits, err = o.vectors.SearchIndex(gctx, model.IndexExtracts, vec, o.cfg.KExtracts*o.cfg.FilterWiden, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return res, errx.WrapGraph(err)
	}

	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	bundle.Chapters = truncate(toChapters(keepAllowed(chapterHits, allowed)), o.cfg.KChapters)
	bundle.Extracts = truncate(toExtracts(keepAllowed(extractHits, allowed)), o.cfg.KExtracts)
	res.Memory.LastChapters = bundle.Chapters
	res.Memory.LastExtracts = bundle.Extracts
	res.Insufficient = bundle.Empty()
	return res, nil
}

// fresh queries the three indices concurrently and ranks contracts by the best
// score of any of their hits.
func (o *Orchestrator) fresh(ctx context.Context, question string, in model.IntentResult, res *Result) (*Result, error) {
	res.Mode = ModeFresh
	res.Memory.LastFocus = model.FocusContract
	res.Memory.LastDocType = in.DocType
	res.Memory.LastClauseTypes = in.ClauseTypes
	res.Memory.ClearEvidence()
	res.Bundle = &model.EvidenceBundle{}

	vec, err := providers.EmbedQuery(ctx, o.embedder, question)
	if err != nil {
		return res, err
	}
	if len(vec) == 0 {
		res.Insufficient = true
		return res, nil
	}

	var contractHits, chapterHits, extractHits []model.VectorHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contractHits, err = o.vectors.SearchIndex(gctx, model.IndexContracts, vec, o.cfg.KContracts, model.VectorFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		chapterHits, err = o.vectors.SearchIndex(gctx, model.IndexChapters, vec, o.cfg.KChapters, model.VectorFilter{DocType: in.DocType})
		return err
	})
	g.Go(func() error {
		var err error
		extractHits, err = o.vectors.SearchIndex(gctx, model.IndexExtracts, vec, o.cfg.KExtracts,
			model.VectorFilter{DocType: in.DocType, ClauseTypes: in.ClauseTypes})
		return err
	})
	if err := g.Wait(); err != nil {
		return res, errx.WrapGraph(err)
	}

	scores := UnionScores(contractHits, chapterHits, extractHits)
	keys := TopKeys(scores, o.cfg.KContracts)
	contracts, err := o.catalog.ContractsByKeys(ctx, keys)
	if err != nil {
		return res, err
	}
	for i := range contracts {
		contracts[i].Score = scores[contracts[i].Key()]
		if s, ok := scores[contracts[i].ID]; ok && s > contracts[i].Score {
			contracts[i].Score = s
		}
	}
	SortContracts(contracts)

	res.Bundle.Contracts = contracts
	res.Bundle.Chapters = toChapters(chapterHits)
	res.Bundle.Extracts = toExtracts(extractHits)
	res.Memory.LastContracts = res.Bundle.Contracts
	res.Memory.LastChapters = res.Bundle.Chapters
	res.Memory.LastExtracts = res.Bundle.Extracts
	res.Insufficient = res.Bundle.Empty()
	return res, nil
}

// UnionScores merges hits from every index by parent contract, keeping the max score.
func UnionScores(groups ...[]model.VectorHit) map[string]float64 {
	out := map[string]float64{}
	for _, hits := range groups {
		for _, h := range hits {
			k := hitKey(h)
			if k == "" {
				continue
			}
			if s, ok := out[k]; !ok || h.Score > s {
				out[k] = h.Score
			}
		}
	}
	return out
}

// TopKeys returns the k best scored keys, ties broken by key.
func TopKeys(scores map[string]float64, k int) []string {
	keys := make([]string, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if k > 0 && len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

// SortContracts orders by score desc, then company match rank, then key.
func SortContracts(cs []model.Contract) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		if cs[i].CompanyMatchRank != cs[j].CompanyMatchRank {
			return cs[i].CompanyMatchRank < cs[j].CompanyMatchRank
		}
		return cs[i].Key() < cs[j].Key()
	})
}

func hitKey(h model.VectorHit) string {
	if h.Expediente != "" {
		return h.Expediente
	}
	return h.ContractID
}

func keepAllowed(hits []model.VectorHit, allowed map[string]bool) []model.VectorHit {
	out := hits[:0:0]
	for _, h := range hits {
		if allowed[h.Expediente] || allowed[h.ContractID] {
			out = append(out, h)
		}
	}
	return out
}

func toChapters(hits []model.VectorHit) []model.Chapter {
	out := make([]model.Chapter, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.Chapter{
			ID:            h.ID,
			Heading:       h.Heading,
			ContractID:    h.ContractID,
			Expediente:    h.Expediente,
			ContractTitle: h.ContractTitle,
			DocType:       h.DocType,
			Order:         h.Order,
			Text:          h.Text,
			Score:         h.Score,
		})
	}
	return out
}

func toExtracts(hits []model.VectorHit) []model.Extract {
	out := make([]model.Extract, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.Extract{
			ID:            h.ID,
			ClauseType:    h.ClauseType,
			ContractID:    h.ContractID,
			Expediente:    h.Expediente,
			ContractTitle: h.ContractTitle,
			DocType:       h.DocType,
			Text:          h.Text,
			Score:         h.Score,
		})
	}
	return out
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
