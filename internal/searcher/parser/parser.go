// Package parser turns a raw search query into a QueryPlan.
package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/tokenizer"
)

// QueryPlan is a tokenized query. Terms are distinct and keep query order,
// which decides where an excerpt is centred.
type QueryPlan struct {
	Terms    []string
	RawQuery string
}

// Empty reports whether the query produced no searchable terms.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	plan.Terms = tokenizer.Unique(query)
	return plan
}

// NormalizePrefix lower-cases a suggestion prefix the way the tokenizer
// folds case. ok is false when the prefix is shorter than two runes.
func NormalizePrefix(prefix string) (string, bool) {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) < 2 {
		return "", false
	}
	b := []byte(prefix)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b), true
}
