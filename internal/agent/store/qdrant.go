package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

// QdrantSearcher serves the three semantic indices from Qdrant collections
// named prefix+index, with the parent contract denormalised into the payload.
type QdrantSearcher struct {
	client *qdrant.Client
	prefix string
}

func NewQdrantSearcher(client *qdrant.Client, collectionPrefix string) *QdrantSearcher {
	return &QdrantSearcher{client: client, prefix: collectionPrefix}
}

// SearchIndex implements model.VectorSearcher.
func (q *QdrantSearcher) SearchIndex(ctx context.Context, index string, vector []float64, k int, filter model.VectorFilter) ([]model.VectorHit, error) {
	if _, err := vectorQuery(index); err != nil {
		return nil, err
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	vec := make([]float32, len(vector))
	for i, v := range vector {
		vec[i] = float32(v)
	}
	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.prefix + index,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		Filter:         BuildQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errx.WrapGraph(fmt.Errorf("qdrant search %s: %w", index, err))
	}

	hits := make([]model.VectorHit, 0, len(points))
	for _, p := range points {
		row := make(map[string]any, len(p.Payload)+2)
		for key, v := range p.Payload {
			row[key] = payloadValue(v)
		}
		if _, ok := row["id"]; !ok && p.Id != nil {
			if u := p.Id.GetUuid(); u != "" {
				row["id"] = u
			} else {
				row["id"] = fmt.Sprintf("%d", p.Id.GetNum())
			}
		}
		row["score"] = float64(p.Score)
		hits = append(hits, DecodeHit(row))
	}
	return hits, nil
}

// BuildQdrantFilter converts a VectorFilter into payload conditions. Contract
// ids match either contract_id or expediente.
func BuildQdrantFilter(f model.VectorFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.DocType != "" {
		must = append(must, keywordCondition("fuente_doc", f.DocType))
	}
	if len(f.ClauseTypes) > 0 {
		must = append(must, keywordsCondition("tipo", f.ClauseTypes))
	}
	if len(f.ContractIDs) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{Should: []*qdrant.Condition{
					keywordsCondition("contract_id", f.ContractIDs),
					keywordsCondition("expediente", f.ContractIDs),
				}},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *qdrant.Condition {
	if len(values) == 1 {
		return keywordCondition(key, values[0])
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: append([]string(nil), values...)},
					},
				},
			},
		},
	}
}

func payloadValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	}
	return nil
}

var _ model.VectorSearcher = (*QdrantSearcher)(nil)
