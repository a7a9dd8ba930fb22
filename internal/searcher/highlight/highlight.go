// Package highlight finds query terms in report text and renders marked-up
// titles and excerpts. All offsets are rune offsets into the original text.
// Matching folds ASCII case only, the same folding the tokenizer applies.
package highlight

import (
	"sort"
	"strings"
)

// MatchType tells which field a Match was found in.
type MatchType string

const (
	MatchTitle   MatchType = "title"
	MatchContent MatchType = "content"
)

// ContextRunes is how much surrounding text a Match carries on each side.
const ContextRunes = 50

// MaxMatchesPerTerm caps the occurrences collected for one term in one field.
const MaxMatchesPerTerm = 5

// Match is one occurrence of a query term.
type Match struct {
	Type       MatchType `json:"type"`
	Term       string    `json:"term"`
	Content    string    `json:"content"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
}

// Highlighter wraps term occurrences in Open/Close markers.
type Highlighter struct {
	Open  string
	Close string
	// ExcerptLength is the excerpt window in runes.
	ExcerptLength int
}

// Default uses <mark> tags and a 200-rune excerpt.
func Default() Highlighter {
	return Highlighter{Open: "<mark>", Close: "</mark>", ExcerptLength: 200}
}

func fold(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

func foldRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = fold(r)
	}
	return rs
}

// indexFrom returns the first position >= from where needle occurs in hay.
func indexFrom(hay, needle []rune, from int) int {
	n := len(needle)
	if n == 0 {
		return -1
	}
outer:
	for i := from; i+n <= len(hay); i++ {
		for j := 0; j < n; j++ {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// Index returns the rune offset of the first case-folded occurrence of term
// in text, or -1.
func Index(text, term string) int {
	return indexFrom(foldRunes(text), foldRunes(term), 0)
}

// Contains reports whether term occurs in text under case folding.
func Contains(text, term string) bool {
	return Index(text, term) >= 0
}

// FindMatches collects up to MaxMatchesPerTerm occurrences of term in text.
// Occurrences may overlap; the search resumes one rune after each hit.
func FindMatches(text, term string, typ MatchType) []Match {
	orig := []rune(text)
	hay := foldRunes(text)
	needle := foldRunes(term)
	matches := make([]Match, 0)
	for i := indexFrom(hay, needle, 0); i >= 0 && len(matches) < MaxMatchesPerTerm; i = indexFrom(hay, needle, i+1) {
		lo := max(0, i-ContextRunes)
		hi := min(len(orig), i+len(needle)+ContextRunes)
		matches = append(matches, Match{
			Type:       typ,
			Term:       term,
			Content:    string(orig[lo:hi]),
			StartIndex: i,
			EndIndex:   i + len(needle),
		})
	}
	return matches
}

type span struct{ start, end int }

// spans returns the merged occurrence intervals of every term in hay.
func spans(hay []rune, terms []string) []span {
	var out []span
	for _, t := range terms {
		needle := foldRunes(t)
		for i := indexFrom(hay, needle, 0); i >= 0; i = indexFrom(hay, needle, i+1) {
			out = append(out, span{i, i + len(needle)})
		}
	}
	if len(out) < 2 {
		return out
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].end > out[j].end
	})
	merged := out[:1]
	for _, s := range out[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Highlight wraps every occurrence of every term in text. Overlapping
// occurrences share one marker pair.
func (h Highlighter) Highlight(text string, terms []string) string {
	if text == "" || len(terms) == 0 {
		return text
	}
	orig := []rune(text)
	ss := spans(foldRunes(text), terms)
	if len(ss) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(ss)*(len(h.Open)+len(h.Close)))
	prev := 0
	for _, s := range ss {
		b.WriteString(string(orig[prev:s.start]))
		b.WriteString(h.Open)
		b.WriteString(string(orig[s.start:s.end]))
		b.WriteString(h.Close)
		prev = s.end
	}
	b.WriteString(string(orig[prev:]))
	return b.String()
}

// Excerpt cuts an ExcerptLength window out of content starting 100 runes
// before the first occurrence of the first term that occurs at all, adds
// "..." on each side that was cut and highlights terms inside the window.
// Without any occurrence the window starts at the beginning.
func (h Highlighter) Excerpt(content string, terms []string) string {
	length := h.ExcerptLength
	if length <= 0 {
		length = 200
	}
	orig := []rune(content)
	hay := foldRunes(content)

	pos := 0
	for _, t := range terms {
		if i := indexFrom(hay, foldRunes(t), 0); i >= 0 {
			pos = i
			break
		}
	}
	start := max(0, pos-length/2)
	end := min(len(orig), start+length)

	excerpt := h.Highlight(string(orig[start:end]), terms)
	if start > 0 {
		excerpt = "..." + excerpt
	}
	if end < len(orig) {
		excerpt += "..."
	}
	return excerpt
}
