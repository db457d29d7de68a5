package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const contractColumns = `
  coalesce(c.contract_id, c.expediente, '') AS contract_id,
  coalesce(c.expediente, '')                AS expediente,
  coalesce(c.titulo, '')                    AS titulo,
  coalesce(c.abstract, '')                  AS abstract,
  coalesce(c.estado, '')                    AS estado,
  toString(coalesce(c.cpv_principal, ''))   AS cpv_principal,
  coalesce(c.contract_uri, '')              AS link_contrato,
  e.nif                                     AS adjudicataria_nif,
  e.nombre                                  AS adjudicataria_nombre,
  c.presupuesto_sin_iva                     AS presupuesto_sin_iva,
  c.valor_estimado                          AS valor_estimado,
  r.importe_adjudicado                      AS importe_adjudicado`

// companyMatch ranks EmpresaRAG nodes against $q: 0 exact tax id, 1 exact
// name, 2 name prefix, 3 name substring. Shorter names win ties.
const companyMatch = `
MATCH (e:EmpresaRAG)
WHERE ($has_tax_id AND e.nif = $tax_id)
   OR toLower(e.nombre) CONTAINS toLower($q)
WITH e,
  CASE
    WHEN $has_tax_id AND e.nif = $tax_id THEN 0
    WHEN toLower(e.nombre) = toLower($q) THEN 1
    WHEN toLower(e.nombre) STARTS WITH toLower($q) THEN 2
    ELSE 3
  END AS match_rank
ORDER BY match_rank ASC, size(coalesce(e.nombre, '')) ASC
LIMIT $k_companies`

const contractsByKeysQuery = `
UNWIND $keys AS key
MATCH (c:ContratoRAG)
WHERE c.contract_id = key OR c.expediente = key
OPTIONAL MATCH (e:EmpresaRAG)-[r:ADJUDICATARIA_RAG]->(c)
RETURN key,` + contractColumns

const contractsByCompanyQuery = companyMatch + `
MATCH (e)-[r:ADJUDICATARIA_RAG]->(c:ContratoRAG)
RETURN match_rank AS empresa_match_rank,` + contractColumns + `
ORDER BY empresa_match_rank ASC, coalesce(r.importe_adjudicado, 0) DESC
LIMIT $k_contracts`

const companiesQuery = companyMatch + `
OPTIONAL MATCH (e)-[r:ADJUDICATARIA_RAG]->(c:ContratoRAG)
WITH e, match_rank, count(DISTINCT c) AS awards, sum(coalesce(r.importe_adjudicado, 0)) AS total
RETURN coalesce(e.nombre, '') AS nombre, coalesce(e.nif, '') AS nif, match_rank,
       awards AS adjudicaciones_count, total AS adjudicaciones_total
ORDER BY match_rank ASC, adjudicaciones_count DESC, adjudicaciones_total DESC`

const pptCheckQuery = `
MATCH (c:ContratoRAG)-[td:TIENE_DOC]->(d:DocumentoRAG)
WHERE (c.contract_id = $key OR c.expediente = $key) AND td.tipo_doc = 'PPT'
RETURN coalesce(c.contract_id, c.expediente, '') AS contract_id,
       coalesce(c.expediente, '') AS expediente,
       coalesce(c.titulo, '') AS titulo,
       coalesce(c.contract_uri, '') AS link_contrato,
       coalesce(d.doc_id, elementId(d)) AS doc_id
LIMIT 1`

const pptChaptersQuery = `
MATCH (c:ContratoRAG)-[td:TIENE_DOC]->(d:DocumentoRAG)-[:TIENE_CAPITULO]->(cap)
WHERE (c.contract_id = $key OR c.expediente = $key) AND td.tipo_doc = 'PPT'
  AND cap.heading IS NOT NULL
RETURN coalesce(cap.cap_id, '') AS cap_id,
       cap.heading AS heading,
       coalesce(cap.orden, 0) AS orden,
       coalesce(cap.texto, '') AS texto
ORDER BY orden ASC`

// Catalog runs the fixed lookups of the orchestration engine against the graph.
type Catalog struct {
	graph model.GraphReader
}

func NewCatalog(graph model.GraphReader) *Catalog {
	return &Catalog{graph: graph}
}

// ContractsByKeys loads full contract records for contract ids or expedientes.
// The result follows the order of keys; unknown keys are skipped.
func (c *Catalog) ContractsByKeys(ctx context.Context, keys []string) ([]model.Contract, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := c.read(ctx, "contracts_by_keys", contractsByKeysQuery, map[string]any{"keys": keys})
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]model.Contract, len(rows))
	for _, row := range rows {
		k := str(row["key"])
		if _, dup := byKey[k]; dup {
			continue
		}
		byKey[k] = decodeContract(row)
	}
	out := make([]model.Contract, 0, len(keys))
	for _, k := range keys {
		if ct, ok := byKey[k]; ok {
			out = append(out, ct)
		}
	}
	return out, nil
}

// ContractsByCompany returns the contracts won by the best matching companies.
func (c *Catalog) ContractsByCompany(ctx context.Context, query, taxID string, kCompanies, kContracts int) ([]model.Contract, error) {
	params, ok := companyParams(query, taxID, kCompanies)
	if !ok {
		return nil, nil
	}
	params["k_contracts"] = kContracts
	rows, err := c.read(ctx, "contracts_by_company", contractsByCompanyQuery, params)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]model.Contract, 0, len(rows))
	for _, row := range rows {
		ct := decodeContract(row)
		ct.CompanyMatchRank = integer(row["empresa_match_rank"])
		// UTE awards repeat the contract once per member
		if seen[ct.Key()] {
			continue
		}
		seen[ct.Key()] = true
		out = append(out, ct)
	}
	return out, nil
}

// Companies resolves a company query to ranked candidates with their award totals.
func (c *Catalog) Companies(ctx context.Context, query, taxID string, k int) ([]model.Company, error) {
	params, ok := companyParams(query, taxID, k)
	if !ok {
		return nil, nil
	}
	rows, err := c.read(ctx, "companies", companiesQuery, params)
	if err != nil {
		return nil, err
	}
	out := make([]model.Company, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.Company{
			Name:        str(row["nombre"]),
			TaxID:       str(row["nif"]),
			MatchRank:   integer(row["match_rank"]),
			AwardsCount: integer(row["adjudicaciones_count"]),
			AwardsTotal: float(row["adjudicaciones_total"]),
		})
	}
	return out, nil
}

// CompanyStats returns the award totals of the best matching company, or nil when none matches.
func (c *Catalog) CompanyStats(ctx context.Context, query, taxID string) (*model.CompanyStats, error) {
	companies, err := c.Companies(ctx, query, taxID, 3)
	if err != nil || len(companies) == 0 {
		return nil, err
	}
	best := companies[0]
	return &model.CompanyStats{
		Name:         best.Name,
		TaxID:        best.TaxID,
		MatchRank:    best.MatchRank,
		ContractsWon: best.AwardsCount,
		TotalAwarded: best.AwardsTotal,
	}, nil
}

// PPTReference loads the PPT of a contract with its chapters in document order.
// It returns nil when the contract has no PPT document.
func (c *Catalog) PPTReference(ctx context.Context, key string) (*model.ReferenceDocument, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	params := map[string]any{"key": key}
	rows, err := c.read(ctx, "ppt_check", pptCheckQuery, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	ref := &model.ReferenceDocument{
		ContractID: str(rows[0]["contract_id"]),
		Expediente: str(rows[0]["expediente"]),
		Title:      str(rows[0]["titulo"]),
		Link:       str(rows[0]["link_contrato"]),
		DocID:      str(rows[0]["doc_id"]),
	}
	chapters, err := c.read(ctx, "ppt_chapters", pptChaptersQuery, params)
	if err != nil {
		return nil, err
	}
	for _, row := range chapters {
		heading := strings.TrimSpace(str(row["heading"]))
		if heading == "" {
			continue
		}
		ref.Chapters = append(ref.Chapters, model.Chapter{
			ID:            str(row["cap_id"]),
			Heading:       heading,
			ContractID:    ref.ContractID,
			Expediente:    ref.Expediente,
			ContractTitle: ref.Title,
			DocType:       model.DocTypePPT,
			Order:         integer(row["orden"]),
			Text:          str(row["texto"]),
		})
	}
	return ref, nil
}

func (c *Catalog) read(ctx context.Context, name, query string, params map[string]any) ([]map[string]any, error) {
	rows, err := c.graph.Read(ctx, query, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logx.Error().Err(err).Str("lookup", name).Msg("Graph lookup failed")
		return nil, errx.WrapGraph(fmt.Errorf("%s: %w", name, err))
	}
	logx.Debug().Str("lookup", name).Int("rows", len(rows)).Msg("Graph lookup")
	return rows, nil
}

// companyParams normalises the company lookup; ok is false when there is nothing to search for.
func companyParams(query, taxID string, k int) (map[string]any, bool) {
	q := strings.Join(strings.Fields(strings.Trim(query, " ?¿!.,;:")), " ")
	taxID = strings.ToUpper(strings.TrimSpace(taxID))
	if taxID == "" && isTaxID(q) {
		taxID = strings.ToUpper(q)
	}
	if q == "" && taxID == "" {
		return nil, false
	}
	if q == "" {
		q = taxID
	}
	if k <= 0 {
		k = 3
	}
	return map[string]any{
		"q":           q,
		"tax_id":      taxID,
		"has_tax_id":  taxID != "",
		"k_companies": k,
	}, true
}

func isTaxID(s string) bool {
	if len(s) != 9 {
		return false
	}
	first := s[0] | 0x20
	if first < 'a' || first > 'z' {
		return false
	}
	for i := 1; i < 9; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func decodeContract(row map[string]any) model.Contract {
	return model.Contract{
		ID:             str(row["contract_id"]),
		Expediente:     str(row["expediente"]),
		Title:          str(row["titulo"]),
		Status:         str(row["estado"]),
		CPV:            str(row["cpv_principal"]),
		Link:           str(row["link_contrato"]),
		AwardeeName:    str(row["adjudicataria_nombre"]),
		AwardeeTaxID:   str(row["adjudicataria_nif"]),
		BudgetNoVAT:    optFloat(row["presupuesto_sin_iva"]),
		EstimatedValue: optFloat(row["valor_estimado"]),
		AwardedAmount:  optFloat(row["importe_adjudicado"]),
		Abstract:       str(row["abstract"]),
	}
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func optFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case float32:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

func float(v any) float64 {
	if f := optFloat(v); f != nil {
		return *f
	}
	return 0
}

func integer(v any) int {
	return int(float(v))
}
