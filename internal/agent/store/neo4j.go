// Package store adapts the graph database and the vector index to the
// capability interfaces consumed by the orchestration engine.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const contractVectorQuery = `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
WHERE $ids IS NULL OR node.contract_id IN $ids OR node.expediente IN $ids
RETURN coalesce(node.contract_id, node.expediente, '') AS contract_id,
       coalesce(node.expediente, '') AS expediente,
       coalesce(node.titulo, '') AS contrato_titulo,
       score
ORDER BY score DESC
LIMIT $k`

const chapterVectorQuery = `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
MATCH (c:ContratoRAG)-[td:TIENE_DOC]->(:DocumentoRAG)-[:TIENE_CAPITULO]->(node)
WHERE ($doc_type IS NULL OR td.tipo_doc = $doc_type)
  AND ($ids IS NULL OR c.contract_id IN $ids OR c.expediente IN $ids)
RETURN coalesce(node.cap_id, elementId(node)) AS id,
       coalesce(node.heading, '') AS heading,
       coalesce(node.texto, '') AS texto,
       coalesce(node.orden, 0) AS orden,
       coalesce(td.tipo_doc, node.fuente_doc, '') AS fuente_doc,
       coalesce(c.contract_id, c.expediente, '') AS contract_id,
       coalesce(c.expediente, '') AS expediente,
       coalesce(c.titulo, '') AS contrato_titulo,
       score
ORDER BY score DESC
LIMIT $k`

const extractVectorQuery = `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
WHERE $types IS NULL OR node.tipo IN $types
MATCH (c:ContratoRAG)-[td:TIENE_DOC]->(:DocumentoRAG)-[:TIENE_EXTRACTO]->(node)
WHERE ($doc_type IS NULL OR td.tipo_doc = $doc_type)
  AND ($ids IS NULL OR c.contract_id IN $ids OR c.expediente IN $ids)
RETURN coalesce(node.extracto_id, elementId(node)) AS id,
       coalesce(node.tipo, '') AS tipo,
       coalesce(node.texto, '') AS texto,
       coalesce(td.tipo_doc, node.fuente_doc, '') AS fuente_doc,
       coalesce(c.contract_id, c.expediente, '') AS contract_id,
       coalesce(c.expediente, '') AS expediente,
       coalesce(c.titulo, '') AS contrato_titulo,
       score
ORDER BY score DESC
LIMIT $k`

const (
	nodeSchemaQuery = `CALL db.schema.nodeTypeProperties() YIELD nodeLabels, propertyName RETURN nodeLabels, propertyName`
	relSchemaQuery  = `CALL db.schema.relTypeProperties() YIELD relType, propertyName RETURN relType, propertyName`
)

// Neo4jStore serves read queries and the three vector indices from one database.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{driver: driver, database: database}
}

type result struct {
	keys []string
	rows []map[string]any
}

// Read runs query in a read transaction on a read-mode session and returns every record as a map.
func (s *Neo4jStore) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	_, rows, err := s.ReadColumns(ctx, query, params)
	return rows, err
}

// ReadColumns is Read plus the RETURN column order.
func (s *Neo4jStore) ReadColumns(ctx context.Context, query string, params map[string]any) ([]string, []map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	out, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (result, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return result{}, err
		}
		keys, err := res.Keys()
		if err != nil {
			return result{}, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return result{}, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return result{keys: keys, rows: rows}, nil
	})
	if err != nil {
		logx.Debug().Err(err).Str("database", s.database).Msg("neo4j read failed")
		return nil, nil, errx.WrapGraph(err)
	}
	return out.keys, out.rows, nil
}

// Schema describes labels and relationship types with their property names.
func (s *Neo4jStore) Schema(ctx context.Context) (string, error) {
	nodes, err := s.Read(ctx, nodeSchemaQuery, nil)
	if err != nil {
		return "", fmt.Errorf("introspect node properties: %w", err)
	}
	rels, err := s.Read(ctx, relSchemaQuery, nil)
	if err != nil {
		return "", fmt.Errorf("introspect relationship properties: %w", err)
	}
	return FormatSchema(nodes, rels), nil
}

// SearchIndex queries one vector index, joining hits to their parent contract.
func (s *Neo4jStore) SearchIndex(ctx context.Context, index string, vector []float64, k int, filter model.VectorFilter) ([]model.VectorHit, error) {
	query, err := vectorQuery(index)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := s.Read(ctx, query, VectorParams(index, vector, k, filter))
	if err != nil {
		return nil, errx.WrapGraph(fmt.Errorf("vector search %s: %w", index, err))
	}
	hits := make([]model.VectorHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, DecodeHit(row))
	}
	return hits, nil
}

func vectorQuery(index string) (string, error) {
	switch index {
	case model.IndexContracts:
		return contractVectorQuery, nil
	case model.IndexChapters:
		return chapterVectorQuery, nil
	case model.IndexExtracts:
		return extractVectorQuery, nil
	}
	return "", fmt.Errorf("unknown vector index %q", index)
}

// VectorParams builds the query parameters; empty filters are sent as null.
func VectorParams(index string, vector []float64, k int, f model.VectorFilter) map[string]any {
	p := map[string]any{
		"index":    index,
		"k":        k,
		"vector":   vector,
		"ids":      nil,
		"doc_type": nil,
		"types":    nil,
	}
	if len(f.ContractIDs) > 0 {
		p["ids"] = f.ContractIDs
	}
	if f.DocType != "" {
		p["doc_type"] = f.DocType
	}
	if len(f.ClauseTypes) > 0 {
		p["types"] = f.ClauseTypes
	}
	return p
}

// DecodeHit maps a vector query row onto a VectorHit.
func DecodeHit(row map[string]any) model.VectorHit {
	return model.VectorHit{
		ID:            text(row["id"]),
		ContractID:    text(row["contract_id"]),
		Expediente:    text(row["expediente"]),
		ContractTitle: text(row["contrato_titulo"]),
		DocType:       text(row["fuente_doc"]),
		Heading:       text(row["heading"]),
		ClauseType:    text(row["tipo"]),
		Text:          text(row["texto"]),
		Order:         int(number(row["orden"])),
		Score:         number(row["score"]),
	}
}

// FormatSchema renders introspection rows as "Label: prop, prop" lines.
func FormatSchema(nodeRows, relRows []map[string]any) string {
	nodes := groupProps(nodeRows, func(row map[string]any) string {
		var labels []string
		if ls, ok := row["nodeLabels"].([]any); ok {
			for _, l := range ls {
				labels = append(labels, text(l))
			}
		}
		return strings.Join(labels, ":")
	})
	rels := groupProps(relRows, func(row map[string]any) string {
		// relType comes back as ":`NAME`"
		return strings.Trim(text(row["relType"]), ":`")
	})

	var sb strings.Builder
	sb.WriteString("Nodos:\n")
	writeGroups(&sb, nodes, "(:%s)")
	sb.WriteString("Relaciones:\n")
	writeGroups(&sb, rels, "[:%s]")
	return sb.String()
}

func groupProps(rows []map[string]any, key func(map[string]any) string) map[string][]string {
	out := map[string][]string{}
	for _, row := range rows {
		k := key(row)
		if k == "" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = nil
		}
		if p := text(row["propertyName"]); p != "" && p != "embedding" {
			out[k] = append(out[k], p)
		}
	}
	return out
}

func writeGroups(sb *strings.Builder, groups map[string][]string, format string) {
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		props := groups[n]
		sort.Strings(props)
		fmt.Fprintf(sb, "- "+format+": %s\n", n, strings.Join(props, ", "))
	}
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}

var (
	_ model.GraphReader    = (*Neo4jStore)(nil)
	_ model.VectorSearcher = (*Neo4jStore)(nil)
)
