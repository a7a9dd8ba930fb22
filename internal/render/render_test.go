package render

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	r := New()
	doc, err := r.Render("# Overview\n\nSee https://example.com\n\n## 背景\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n#### deep\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(doc.HTML, `<h1 id="overview">Overview</h1>`) {
		t.Errorf("missing heading id in %q", doc.HTML)
	}
	if !strings.Contains(doc.HTML, "<table>") {
		t.Error("tables are not rendered")
	}
	if !strings.Contains(doc.HTML, `<a href="https://example.com">`) {
		t.Error("bare URLs are not linked")
	}
	if len(doc.Headings) != 2 {
		t.Fatalf("got %d headings, want 2: %+v", len(doc.Headings), doc.Headings)
	}
	if doc.Headings[0] != (Heading{Level: 1, Text: "Overview", ID: "overview"}) {
		t.Errorf("first heading = %+v", doc.Headings[0])
	}
	if doc.Headings[1].Level != 2 || doc.Headings[1].Text != "背景" {
		t.Errorf("second heading = %+v", doc.Headings[1])
	}
}

func TestRenderEscapesRawHTML(t *testing.T) {
	doc, err := New().Render("hello <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(doc.HTML, "<script>") {
		t.Errorf("raw HTML leaked into output: %q", doc.HTML)
	}
}
