package highlight

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHighlight(t *testing.T) {
	h := Default()
	tests := []struct {
		text  string
		terms []string
		want  string
	}{
		{"2025年AI发展趋势深度分析报告", []string{"ai"}, "2025年<mark>AI</mark>发展趋势深度分析报告"},
		{"Ai ai AI", []string{"ai"}, "<mark>Ai</mark> <mark>ai</mark> <mark>AI</mark>"},
		{"banana", []string{"ana"}, "b<mark>anana</mark>"},
		{"search engine", []string{"search", "arch"}, "<mark>search</mark> engine"},
		{"no hit", []string{"zz"}, "no hit"},
		{"", []string{"a"}, ""},
		{"plain", nil, "plain"},
	}
	for _, tt := range tests {
		if got := h.Highlight(tt.text, tt.terms); got != tt.want {
			t.Errorf("Highlight(%q, %q) = %q, want %q", tt.text, tt.terms, got, tt.want)
		}
	}
}

func TestCustomMarkers(t *testing.T) {
	h := Highlighter{Open: "**", Close: "**"}
	if got := h.Highlight("全球AI", []string{"ai"}); got != "全球**AI**" {
		t.Errorf("got %q", got)
	}
}

func TestFindMatches(t *testing.T) {
	text := strings.Repeat("甲", 60) + "AI" + strings.Repeat("乙", 60)
	m := FindMatches(text, "ai", MatchContent)
	if len(m) != 1 {
		t.Fatalf("expected 1 match, got %d", len(m))
	}
	if m[0].StartIndex != 60 || m[0].EndIndex != 62 {
		t.Errorf("offsets = %d..%d", m[0].StartIndex, m[0].EndIndex)
	}
	if n := utf8.RuneCountInString(m[0].Content); n != 102 {
		t.Errorf("context length = %d runes, want 102", n)
	}
	if m[0].Type != MatchContent || m[0].Term != "ai" {
		t.Errorf("unexpected match %+v", m[0])
	}

	many := FindMatches(strings.Repeat("ai ", 20), "ai", MatchTitle)
	if len(many) != MaxMatchesPerTerm {
		t.Errorf("expected cap of %d, got %d", MaxMatchesPerTerm, len(many))
	}

	overlapping := FindMatches("aaaa", "aa", MatchTitle)
	if len(overlapping) != 3 {
		t.Errorf("expected 3 overlapping matches, got %d", len(overlapping))
	}

	if got := FindMatches("text", "", MatchTitle); len(got) != 0 {
		t.Errorf("empty term should not match, got %d", len(got))
	}
}

func TestIndexAndContains(t *testing.T) {
	if got := Index("发展AI", "ai"); got != 2 {
		t.Errorf("Index = %d, want 2 (runes)", got)
	}
	if !Contains("Hello World", "world") || Contains("Hello", "xyz") {
		t.Error("Contains is wrong")
	}
}

func TestExcerpt(t *testing.T) {
	h := Default()

	short := "AI 改变世界"
	if got := h.Excerpt(short, []string{"ai"}); got != "<mark>AI</mark> 改变世界" {
		t.Errorf("short excerpt = %q", got)
	}

	long := strings.Repeat("前", 300) + "AI" + strings.Repeat("后", 300)
	got := h.Excerpt(long, []string{"missing", "ai"})
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt should be cut on both sides: %q", got)
	}
	plain := strings.NewReplacer("<mark>", "", "</mark>", "").Replace(strings.Trim(got, "."))
	if n := utf8.RuneCountInString(plain); n != 200 {
		t.Errorf("window = %d runes, want 200", n)
	}
	if !strings.Contains(got, "<mark>AI</mark>") {
		t.Errorf("term not highlighted: %q", got)
	}
	if strings.Index(plain, "AI") != utf8.RuneLen('前')*100 {
		t.Errorf("term should sit 100 runes into the window")
	}

	head := strings.Repeat("字", 500)
	got = h.Excerpt(head, []string{"zz"})
	if strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("no hit should start at the beginning: %q", got[:20])
	}
}
