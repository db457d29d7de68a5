package model

// Contract is a ContratoRAG record with its awardee, if any.
type Contract struct {
	ID               string   `json:"contract_id"`
	Expediente       string   `json:"expediente"`
	Title            string   `json:"titulo"`
	Status           string   `json:"estado,omitempty"`
	CPV              string   `json:"cpv_principal,omitempty"`
	Link             string   `json:"link_contrato,omitempty"`
	AwardeeName      string   `json:"adjudicataria_nombre,omitempty"`
	AwardeeTaxID     string   `json:"adjudicataria_nif,omitempty"`
	BudgetNoVAT      *float64 `json:"presupuesto_sin_iva,omitempty"`
	EstimatedValue   *float64 `json:"valor_estimado,omitempty"`
	AwardedAmount    *float64 `json:"importe_adjudicado,omitempty"`
	Abstract         string   `json:"abstract,omitempty"`
	Score            float64  `json:"score"`
	CompanyMatchRank int      `json:"empresa_match_rank,omitempty"`
}

// Key is the identifier used to filter chapters and extracts.
func (c Contract) Key() string {
	if c.Expediente != "" {
		return c.Expediente
	}
	return c.ID
}

// Chapter is a chapter section of a source document.
type Chapter struct {
	ID            string  `json:"cap_id"`
	Heading       string  `json:"heading"`
	ContractID    string  `json:"contract_id"`
	Expediente    string  `json:"expediente,omitempty"`
	ContractTitle string  `json:"contrato_titulo,omitempty"`
	DocType       string  `json:"fuente_doc,omitempty"`
	Order         int     `json:"orden,omitempty"`
	Text          string  `json:"texto"`
	Score         float64 `json:"score"`
}

// Extract is a classified clause (ExtractoRAG) of a source document.
type Extract struct {
	ID            string  `json:"extracto_id"`
	ClauseType    string  `json:"tipo"`
	ContractID    string  `json:"contract_id"`
	Expediente    string  `json:"expediente,omitempty"`
	ContractTitle string  `json:"contrato_titulo,omitempty"`
	DocType       string  `json:"fuente_doc,omitempty"`
	Text          string  `json:"texto"`
	Score         float64 `json:"score"`
}

// EvidenceBundle is the retrieval output of one turn.
type EvidenceBundle struct {
	Contracts []Contract `json:"contracts,omitempty"`
	Chapters  []Chapter  `json:"chapters,omitempty"`
	Extracts  []Extract  `json:"extracts,omitempty"`
}

// Size returns the number of evidence items.
func (b *EvidenceBundle) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Contracts) + len(b.Chapters) + len(b.Extracts)
}

// Empty reports whether nothing was retrieved.
func (b *EvidenceBundle) Empty() bool {
	return b.Size() == 0
}

// ContractKeys returns the distinct filter keys of the bundle's contracts in order.
func (b *EvidenceBundle) ContractKeys() []string {
	if b == nil {
		return nil
	}
	return ContractKeys(b.Contracts)
}

// ContractKeys returns the distinct, non-empty filter keys of contracts in order.
func ContractKeys(contracts []Contract) []string {
	seen := make(map[string]bool, len(contracts))
	keys := make([]string, 0, len(contracts))
	for _, c := range contracts {
		k := c.Key()
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// Company is a resolved EmpresaRAG candidate.
type Company struct {
	Name        string  `json:"nombre"`
	TaxID       string  `json:"nif"`
	MatchRank   int     `json:"match_rank"`
	AwardsCount int     `json:"adjudicaciones_count"`
	AwardsTotal float64 `json:"adjudicaciones_total"`
}

// CompanyStats aggregates awards of the best matching company.
type CompanyStats struct {
	Name         string  `json:"nombre"`
	TaxID        string  `json:"nif"`
	MatchRank    int     `json:"match_rank"`
	ContractsWon int     `json:"contratos_ganados"`
	TotalAwarded float64 `json:"importe_total"`
}

// VectorHit is one (record, score) pair returned by a semantic index.
type VectorHit struct {
	ID            string
	ContractID    string
	Expediente    string
	ContractTitle string
	DocType       string
	Heading       string
	ClauseType    string
	Text          string
	Order         int
	Score         float64
}

// VectorFilter narrows a semantic lookup. Empty fields do not filter.
type VectorFilter struct {
	DocType     string
	ClauseTypes []string
	ContractIDs []string
}

// Names of the semantic indices in the graph store.
const (
	IndexContracts = "contrato_rag_embedding"
	IndexChapters  = "capitulo_embedding"
	IndexExtracts  = "extracto_embedding"
)

// ReferenceDocument is a past PPT used as structural reference for a draft.
type ReferenceDocument struct {
	ContractID string    `json:"contract_id"`
	Expediente string    `json:"expediente"`
	Title      string    `json:"titulo"`
	Link       string    `json:"link_contrato,omitempty"`
	DocID      string    `json:"doc_id,omitempty"`
	Chapters   []Chapter `json:"chapters"`
}
