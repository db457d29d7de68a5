package model

import (
	"context"
	"time"
)

// SessionRepository persists sessions between turns for the outer service.
type SessionRepository interface {
	// Load returns the stored session or a fresh one when none exists.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Save stores the session and refreshes its TTL.
	Save(ctx context.Context, session *Session) error

	// Delete drops the session.
	Delete(ctx context.Context, sessionID string) error

	// Lock guarantees a single in-flight turn per session. The returned func releases it.
	Lock(ctx context.Context, sessionID string, ttl time.Duration) (func(), error)
}

// GraphReader runs read-only declarative queries against the knowledge graph.
type GraphReader interface {
	Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// Schema returns a compact textual description of labels, relationships and properties.
	Schema(ctx context.Context) (string, error)
}

// ColumnReader is implemented by graph readers that also report the RETURN
// column order, which row maps lose.
type ColumnReader interface {
	ReadColumns(ctx context.Context, query string, params map[string]any) ([]string, []map[string]any, error)
}

// VectorSearcher queries one of the named semantic indices.
type VectorSearcher interface {
	SearchIndex(ctx context.Context, index string, vector []float64, k int, filter VectorFilter) ([]VectorHit, error)
}

// DocumentRenderer turns Markdown-like draft text into an office document.
type DocumentRenderer interface {
	Render(ctx context.Context, title, markdown string) ([]byte, error)
	ContentType() string
	Extension() string
}
