// Package fakes provides scripted capability implementations for tests.
package fakes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

// ChatModel answers from a queue of scripted replies, or from Reply when set.
type ChatModel struct {
	mu      sync.Mutex
	replies []string
	Reply   func(msgs []*schema.Message) (string, error)
	Err     error
	Calls   [][]*schema.Message
}

// NewChatModel returns a ChatModel that pops replies in order and repeats the last one.
func NewChatModel(replies ...string) *ChatModel {
	return &ChatModel{replies: replies}
}

func (c *ChatModel) next(msgs []*schema.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, msgs)
	if c.Err != nil {
		return "", c.Err
	}
	if c.Reply != nil {
		return c.Reply(msgs)
	}
	if len(c.replies) == 0 {
		return "", nil
	}
	out := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return out, nil
}

// CallCount returns the number of Generate and Stream calls.
func (c *ChatModel) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

func (c *ChatModel) Generate(_ context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	text, err := c.next(msgs)
	if err != nil {
		return nil, err
	}
	out := schema.AssistantMessage(text, nil)
	out.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	return out, nil
}

func (c *ChatModel) Stream(_ context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	text, err := c.next(msgs)
	if err != nil {
		return nil, err
	}
	var chunks []*schema.Message
	for _, w := range strings.SplitAfter(text, " ") {
		if w != "" {
			chunks = append(chunks, schema.AssistantMessage(w, nil))
		}
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// LastUserContent returns the content of the last user message of the last call.
func (c *ChatModel) LastUserContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return ""
	}
	msgs := c.Calls[len(c.Calls)-1]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			return msgs[i].Content
		}
	}
	return ""
}

// Embedder returns the same vector for every text.
type Embedder struct {
	mu     sync.Mutex
	Vector []float64
	Err    error
	Texts  []string
}

func (e *Embedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Texts = append(e.Texts, texts...)
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = append([]float64(nil), e.Vector...)
	}
	return out, nil
}

// GraphReader answers read queries through Handler and records every query.
type GraphReader struct {
	mu         sync.Mutex
	Handler    func(query string, params map[string]any) ([]map[string]any, error)
	SchemaText string
	// Keys is returned by ReadColumns as the column order.
	Keys    []string
	Queries []string
}

func (g *GraphReader) ReadColumns(ctx context.Context, query string, params map[string]any) ([]string, []map[string]any, error) {
	rows, err := g.Read(ctx, query, params)
	if err != nil {
		return nil, nil, err
	}
	return g.Keys, rows, nil
}

func (g *GraphReader) Read(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	g.mu.Lock()
	g.Queries = append(g.Queries, query)
	h := g.Handler
	g.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(query, params)
}

func (g *GraphReader) Schema(context.Context) (string, error) {
	return g.SchemaText, nil
}

// QueryCount returns the number of executed queries.
func (g *GraphReader) QueryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Queries)
}

// VectorSearcher serves canned hits per index, applying filters like the real stores do.
type VectorSearcher struct {
	mu      sync.Mutex
	Hits    map[string][]model.VectorHit
	Err     error
	Filters map[string][]model.VectorFilter
	Ks      map[string][]int
}

func (v *VectorSearcher) SearchIndex(_ context.Context, index string, _ []float64, k int, f model.VectorFilter) ([]model.VectorHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Filters == nil {
		v.Filters = map[string][]model.VectorFilter{}
		v.Ks = map[string][]int{}
	}
	v.Filters[index] = append(v.Filters[index], f)
	v.Ks[index] = append(v.Ks[index], k)
	if v.Err != nil {
		return nil, v.Err
	}
	allowed := make(map[string]bool, len(f.ContractIDs))
	for _, id := range f.ContractIDs {
		allowed[id] = true
	}
	var out []model.VectorHit
	for _, h := range v.Hits[index] {
		if f.DocType != "" && h.DocType != f.DocType {
			continue
		}
		if len(allowed) > 0 && !allowed[h.Expediente] && !allowed[h.ContractID] {
			continue
		}
		if len(f.ClauseTypes) > 0 && !contains(f.ClauseTypes, h.ClauseType) {
			continue
		}
		out = append(out, h)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Renderer produces a fixed payload.
type Renderer struct{}

func (Renderer) Render(_ context.Context, title, markdown string) ([]byte, error) {
	return []byte(fmt.Sprintf("%s\n%s", title, markdown)), nil
}

func (Renderer) ContentType() string { return "text/markdown" }

func (Renderer) Extension() string { return ".md" }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
