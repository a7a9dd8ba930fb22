// Package render turns report markdown into HTML for the report endpoint.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Heading is one entry of a report's table of contents.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	ID    string `json:"id"`
}

// Document is a rendered report body.
type Document struct {
	HTML     string    `json:"html"`
	Headings []Heading `json:"headings"`
}

// Renderer converts GitHub-flavoured markdown. Raw HTML in the source is
// escaped.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// Render converts body and collects its h1-h3 headings.
func (r *Renderer) Render(body string) (Document, error) {
	src := []byte(body)
	doc := r.md.Parser().Parse(text.NewReader(src))

	var headings []Heading
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !ok || !entering || h.Level > 3 {
			return ast.WalkContinue, nil
		}
		var id string
		if v, ok := h.AttributeString("id"); ok {
			if b, ok := v.([]byte); ok {
				id = string(b)
			}
		}
		headings = append(headings, Heading{
			Level: h.Level,
			Text:  strings.TrimSpace(string(h.Text(src))),
			ID:    id,
		})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("walking markdown: %w", err)
	}

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, src, doc); err != nil {
		return Document{}, fmt.Errorf("rendering markdown: %w", err)
	}
	return Document{HTML: buf.String(), Headings: headings}, nil
}
