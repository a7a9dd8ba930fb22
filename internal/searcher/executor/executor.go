// Package executor runs a query plan against the live index: candidate
// lookup, filters, matching, scoring, ordering, truncation and highlighting.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/index"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/highlight"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/parser"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/ranker"
)

// DefaultMaxResults is the hard ceiling on returned results.
const DefaultMaxResults = 50

// DateRange is an inclusive range of YYYY-MM-DD dates. An empty bound is
// open.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Contains reports whether date lies inside the range. Undated reports are
// never inside.
func (d DateRange) Contains(date string) bool {
	if _, ok := report.ParseDate(date); !ok {
		return false
	}
	if d.Start != "" && date < d.Start {
		return false
	}
	if d.End != "" && date > d.End {
		return false
	}
	return true
}

// Options narrow and order a search. Categories distinguishes nil (no
// filter) from an empty list (match nothing). When Categories is set the
// DateRange is ignored.
type Options struct {
	Categories []string      `json:"categories"`
	DateRange  *DateRange    `json:"date_range,omitempty"`
	Versions   []string      `json:"versions,omitempty"`
	SortBy     ranker.SortBy `json:"sort_by,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// Result is one search result entry.
type Result struct {
	Report           report.Report     `json:"report"`
	Score            int               `json:"score"`
	Matches          []highlight.Match `json:"matches"`
	HighlightedTitle string            `json:"highlighted_title"`
	Excerpt          string            `json:"excerpt"`
}

type SearchResult struct {
	Query     string   `json:"query"`
	Terms     []string `json:"terms"`
	TotalHits int      `json:"total_hits"`
	Results   []Result `json:"results"`
}

// Empty returns the result for a query without terms.
func Empty(query string) *SearchResult {
	return &SearchResult{Query: query, Terms: []string{}, Results: []Result{}}
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxResults overrides DefaultMaxResults.
func WithMaxResults(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// WithHighlighter replaces the default markers and excerpt length.
func WithHighlighter(h highlight.Highlighter) Option {
	return func(e *Executor) { e.highlighter = h }
}

// WithClock replaces time.Now for the recency bonus.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type Executor struct {
	engine      *indexer.Engine
	maxResults  int
	highlighter highlight.Highlighter
	now         func() time.Time
	logger      *slog.Logger
}

func New(engine *indexer.Engine, opts ...Option) *Executor {
	e := &Executor{
		engine:      engine,
		maxResults:  DefaultMaxResults,
		highlighter: highlight.Default(),
		now:         time.Now,
		logger:      slog.Default().With("component", "query-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxResults returns the configured result ceiling.
func (e *Executor) MaxResults() int {
	return e.maxResults
}

// Limit resolves a requested limit against the ceiling; n <= 0 asks for
// the ceiling.
func (e *Executor) Limit(n int) int {
	if n <= 0 || n > e.maxResults {
		return e.maxResults
	}
	return n
}

func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, opts Options) (*SearchResult, error) {
	if plan.Empty() {
		return Empty(plan.RawQuery), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	idx := e.engine.Index()
	candidates := idx.Union([]index.Field{index.FieldTitle, index.FieldContent}, plan.Terms)
	if opts.Categories != nil {
		candidates = intersect(candidates, idx.Union([]index.Field{index.FieldCategory}, opts.Categories))
	}
	reports := idx.GetAll(candidates)
	if opts.Categories == nil && opts.DateRange != nil {
		reports = filter(reports, func(r report.Report) bool { return opts.DateRange.Contains(r.Date) })
	}
	if len(opts.Versions) > 0 {
		allowed := toSet(opts.Versions)
		reports = filter(reports, func(r report.Report) bool {
			_, ok := allowed[r.Version]
			return ok
		})
	}

	now := e.now()
	scored := make([]ranker.ScoredReport, 0, len(reports))
	for i, r := range reports {
		if i%256 == 255 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("scoring candidates: %w", err)
			}
		}
		matches := ranker.FindMatches(r, plan.Terms)
		score := ranker.Score(r, plan.Terms, matches, now)
		if score == 0 {
			continue
		}
		scored = append(scored, ranker.ScoredReport{Report: r, Score: score, Matches: matches})
	}

	ranker.Sort(scored, opts.SortBy)
	total := len(scored)
	if limit := e.Limit(opts.Limit); len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		results[i] = Result{
			Report:           s.Report,
			Score:            s.Score,
			Matches:          s.Matches,
			HighlightedTitle: e.highlighter.Highlight(s.Report.Title, plan.Terms),
			Excerpt:          e.highlighter.Excerpt(s.Report.Content, plan.Terms),
		}
	}

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"candidates", len(candidates),
		"results", len(results),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		Terms:     plan.Terms,
		TotalHits: total,
		Results:   results,
	}, nil
}

func toSet(keys []string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// intersect keeps the elements of ordered that are also in other, preserving
// the order of ordered.
func intersect(ordered, other []string) []string {
	keep := toSet(other)
	out := make([]string, 0, len(ordered))
	for _, p := range ordered {
		if _, ok := keep[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func filter(reports []report.Report, keep func(report.Report) bool) []report.Report {
	out := reports[:0]
	for _, r := range reports {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
