package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	codeFont        = "Consolas"
)

// DocxRenderer writes a minimal WordprocessingML package: headings, paragraphs,
// lists, tables, code blocks and inline bold/italic/code.
type DocxRenderer struct {
	md goldmark.Markdown
	// Now stamps docProps; tests pin it.
	Now func() time.Time
}

func NewDocx() *DocxRenderer {
	return &DocxRenderer{
		md:  goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		Now: time.Now,
	}
}

func (r *DocxRenderer) ContentType() string { return docxContentType }

func (r *DocxRenderer) Extension() string { return ".docx" }

func (r *DocxRenderer) Render(ctx context.Context, title, markdown string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(src))

	w := &bodyWriter{src: src}
	if t := strings.TrimSpace(title); t != "" {
		w.paragraph("Title", []run{{text: t}})
	}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n, "")
	}

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"docProps/core.xml", fmt.Sprintf(coreXML, escape(title), r.Now().UTC().Format(time.RFC3339))},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/document.xml", documentHead + w.buf.String() + documentTail},
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, p := range parts {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("docx %s: %w", p.name, err)
		}
		if _, err := f.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("docx %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("docx close: %w", err)
	}
	return out.Bytes(), nil
}

type run struct {
	text   string
	bold   bool
	italic bool
	strike bool
	code   bool
	brk    bool
}

type bodyWriter struct {
	src []byte
	buf strings.Builder
}

func (w *bodyWriter) block(n ast.Node, style string) {
	switch n := n.(type) {
	case *ast.Heading:
		level := n.Level
		if level > 3 {
			level = 3
		}
		w.paragraph(fmt.Sprintf("Heading%d", level), w.inline(n, run{}))
	case *ast.Paragraph, *ast.TextBlock:
		w.paragraph(style, w.inline(n, run{}))
	case *ast.List:
		w.list(n)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			line := strings.TrimRight(string(seg.Value(w.src)), "\r\n")
			w.paragraph("Code", []run{{text: line, code: true}})
		}
	case *ast.Blockquote:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, "Quote")
		}
	case *ast.ThematicBreak:
		w.paragraph("", nil)
	case *east.Table:
		w.table(n)
	case *ast.HTMLBlock:
		// dropped
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, style)
		}
	}
}

func (w *bodyWriter) list(l *ast.List) {
	idx := l.Start
	if idx == 0 {
		idx = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", idx)
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				runs := w.inline(c, run{})
				if first {
					runs = append([]run{{text: marker}}, runs...)
				}
				w.paragraph("ListParagraph", runs)
			default:
				w.block(c, "ListParagraph")
			}
			first = false
		}
		idx++
	}
}

func (w *bodyWriter) table(t *east.Table) {
	cols := 0
	if h := t.FirstChild(); h != nil {
		cols = h.ChildCount()
	}
	w.buf.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr><w:tblGrid>`)
	for i := 0; i < cols; i++ {
		w.buf.WriteString(`<w:gridCol/>`)
	}
	w.buf.WriteString(`</w:tblGrid>`)
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		_, header := row.(*east.TableHeader)
		w.buf.WriteString(`<w:tr>`)
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			w.buf.WriteString(`<w:tc>`)
			w.paragraph("", w.inline(cell, run{bold: header}))
			w.buf.WriteString(`</w:tc>`)
		}
		w.buf.WriteString(`</w:tr>`)
	}
	w.buf.WriteString(`</w:tbl>`)
}

// inline flattens the inline children of n into styled runs.
func (w *bodyWriter) inline(n ast.Node, f run) []run {
	var out []run
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			r := f
			r.text = string(c.Segment.Value(w.src))
			out = append(out, r)
			if c.HardLineBreak() {
				out = append(out, run{brk: true})
			} else if c.SoftLineBreak() {
				s := f
				s.text = " "
				out = append(out, s)
			}
		case *ast.String:
			r := f
			r.text = string(c.Value)
			out = append(out, r)
		case *ast.Emphasis:
			g := f
			if c.Level >= 2 {
				g.bold = true
			} else {
				g.italic = true
			}
			out = append(out, w.inline(c, g)...)
		case *east.Strikethrough:
			g := f
			g.strike = true
			out = append(out, w.inline(c, g)...)
		case *ast.CodeSpan:
			g := f
			g.code = true
			out = append(out, w.inline(c, g)...)
		case *ast.AutoLink:
			r := f
			r.text = string(c.URL(w.src))
			out = append(out, r)
		case *ast.RawHTML:
		default:
			out = append(out, w.inline(c, f)...)
		}
	}
	return out
}

func (w *bodyWriter) paragraph(style string, runs []run) {
	w.buf.WriteString(`<w:p>`)
	if style != "" {
		fmt.Fprintf(&w.buf, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
	}
	for _, r := range runs {
		if r.brk {
			w.buf.WriteString(`<w:r><w:br/></w:r>`)
			continue
		}
		if r.text == "" {
			continue
		}
		w.buf.WriteString(`<w:r>`)
		if r.bold || r.italic || r.strike || r.code {
			w.buf.WriteString(`<w:rPr>`)
			if r.code {
				fmt.Fprintf(&w.buf, `<w:rFonts w:ascii="%s" w:hAnsi="%s"/>`, codeFont, codeFont)
			}
			if r.bold {
				w.buf.WriteString(`<w:b/>`)
			}
			if r.italic {
				w.buf.WriteString(`<w:i/>`)
			}
			if r.strike {
				w.buf.WriteString(`<w:strike/>`)
			}
			w.buf.WriteString(`</w:rPr>`)
		}
		fmt.Fprintf(&w.buf, `<w:t xml:space="preserve">%s</w:t></w:r>`, escape(r.text))
	}
	w.buf.WriteString(`</w:p>`)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>
</Relationships>`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>`

const coreXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
<dc:title>%s</dc:title>
<dc:creator>xpider</dc:creator>
<dcterms:created xsi:type="dcterms:W3CDTF">%s</dcterms:created>
</cp:coreProperties>`

const stylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:rPr><w:sz w:val="22"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:after="240"/></w:pPr><w:rPr><w:b/><w:sz w:val="40"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:spacing w:before="240" w:after="120"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:spacing w:before="200" w:after="100"/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/><w:sz w:val="28"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:outlineLvl w:val="2"/></w:pPr><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="ListParagraph"><w:name w:val="List Paragraph"/><w:basedOn w:val="Normal"/><w:pPr><w:ind w:left="720"/></w:pPr></w:style>
<w:style w:type="paragraph" w:styleId="Quote"><w:name w:val="Quote"/><w:basedOn w:val="Normal"/><w:pPr><w:ind w:left="567"/></w:pPr><w:rPr><w:i/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Code"><w:name w:val="Code"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:after="0"/></w:pPr><w:rPr><w:rFonts w:ascii="Consolas" w:hAnsi="Consolas"/><w:sz w:val="18"/></w:rPr></w:style>
<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders><w:top w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:left w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:bottom w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:right w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:insideH w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:insideV w:val="single" w:sz="4" w:space="0" w:color="auto"/></w:tblBorders></w:tblPr></w:style>
</w:styles>`

const documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const documentTail = `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1417" w:right="1701" w:bottom="1417" w:left="1701" w:header="708" w:footer="708" w:gutter="0"/></w:sectPr></w:body></w:document>`
