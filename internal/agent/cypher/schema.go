package cypher

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph/prompts"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

const (
	schemaKey      = "schema:live"
	maxSchemaChars = 7000
)

// SchemaCache combines the curated schema hint with live introspection,
// caching the live part for ttl.
type SchemaCache struct {
	graph model.GraphReader
	cache *gocache.Cache
}

func NewSchemaCache(graph model.GraphReader, ttl time.Duration) *SchemaCache {
	return &SchemaCache{graph: graph, cache: gocache.New(ttl, 2*ttl)}
}

// Hint returns the schema text for query generation. Introspection failures
// degrade to the curated hint alone.
func (s *SchemaCache) Hint(ctx context.Context) string {
	hint := prompts.SchemaHint()
	live := s.live(ctx)
	if live == "" {
		return hint
	}
	return model.Clip(hint+"\n\nESQUEMA INTROSPECTADO:\n"+live, maxSchemaChars)
}

func (s *SchemaCache) live(ctx context.Context) string {
	if s == nil || s.graph == nil {
		return ""
	}
	if v, ok := s.cache.Get(schemaKey); ok {
		return v.(string)
	}
	text, err := s.graph.Schema(ctx)
	if err != nil {
		logx.Warn().Err(err).Msg("Schema introspection failed, using curated hint")
		return ""
	}
	s.cache.Set(schemaKey, text, gocache.DefaultExpiration)
	return text
}
