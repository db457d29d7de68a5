package render

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDraft = `## 1. Objeto

El presente pliego tiene por objeto el **suministro** de un vehículo *4x4* & equipamiento.

- Tracción total
- Cabrestante

1. Plazo de entrega
2. Garantía

| Concepto | Importe |
|---|---|
| Vehículo | 45.000 € |

` + "```\nCPV 34113000\n```\n"

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	parts := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		parts[f.Name] = string(b)
	}
	return parts
}

func TestNew(t *testing.T) {
	r, err := New("docx")
	require.NoError(t, err)
	assert.Equal(t, ".docx", r.Extension())

	r, err = New("Markdown")
	require.NoError(t, err)
	assert.Equal(t, ".md", r.Extension())

	_, err = New("pdf")
	assert.Error(t, err)
}

func TestDocxRenderer_Render(t *testing.T) {
	r := NewDocx()
	r.Now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

	data, err := r.Render(context.Background(), "Pliego vehículo 4x4", sampleDraft)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", r.ContentType())

	parts := unzip(t, data)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "docProps/core.xml", "word/styles.xml", "word/document.xml", "word/_rels/document.xml.rels"} {
		assert.Contains(t, parts, name)
	}
	assert.Contains(t, parts["docProps/core.xml"], "<dc:title>Pliego vehículo 4x4</dc:title>")
	assert.Contains(t, parts["docProps/core.xml"], "2025-03-01T10:00:00Z")

	doc := parts["word/document.xml"]
	assert.Contains(t, doc, `<w:pStyle w:val="Title"/>`)
	assert.Contains(t, doc, `<w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t xml:space="preserve">1. Objeto</w:t></w:r>`)
	assert.Contains(t, doc, `<w:rPr><w:b/></w:rPr><w:t xml:space="preserve">suministro</w:t>`)
	assert.Contains(t, doc, `<w:rPr><w:i/></w:rPr><w:t xml:space="preserve">4x4</w:t>`)
	assert.Contains(t, doc, "&amp;")
	assert.NotContains(t, doc, " & ")
	assert.Contains(t, doc, `<w:t xml:space="preserve">• </w:t>`)
	assert.Contains(t, doc, `<w:t xml:space="preserve">2. </w:t>`)
	assert.Contains(t, doc, "<w:tbl>")
	assert.Contains(t, doc, `<w:rPr><w:b/></w:rPr><w:t xml:space="preserve">Concepto</w:t>`)
	assert.Contains(t, doc, `<w:t xml:space="preserve">45.000 €</w:t>`)
	assert.Contains(t, doc, `<w:pStyle w:val="Code"/>`)
	assert.Contains(t, doc, "CPV 34113000")
}

func TestDocxRenderer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDocx().Render(ctx, "t", "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkdownRenderer_Render(t *testing.T) {
	r := &MarkdownRenderer{}
	out, err := r.Render(context.Background(), "Pliego", "## 1. Objeto\n\nTexto")
	require.NoError(t, err)
	assert.Equal(t, "# Pliego\n\n## 1. Objeto\n\nTexto\n", string(out))

	out, err = r.Render(context.Background(), "Pliego", "# Ya titulado\n")
	require.NoError(t, err)
	assert.Equal(t, "# Ya titulado\n", string(out))
}
