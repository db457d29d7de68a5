// Package render turns generated Markdown drafts into downloadable documents.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

// New returns the renderer for a format name.
func New(format string) (model.DocumentRenderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "docx", "word":
		return NewDocx(), nil
	case "md", "markdown":
		return &MarkdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format: %s (supported: docx, md)", format)
	}
}

// MarkdownRenderer returns the draft as-is under a title heading.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(ctx context.Context, title, markdown string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" && !strings.HasPrefix(strings.TrimSpace(markdown), "# ") {
		fmt.Fprintf(&b, "# %s\n\n", t)
	}
	b.WriteString(strings.TrimSpace(markdown))
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func (r *MarkdownRenderer) ContentType() string { return "text/markdown; charset=utf-8" }

func (r *MarkdownRenderer) Extension() string { return ".md" }
