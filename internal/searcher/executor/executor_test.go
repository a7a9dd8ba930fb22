package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/parser"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/ranker"
)

var fixedNow = time.Date(2025, 1, 30, 9, 0, 0, 0, time.UTC)

func rep(path, title, content, slug, date, version string) report.Report {
	return report.Report{
		Path:     path,
		Title:    title,
		Content:  content,
		Category: report.Category{Slug: slug, Display: report.DisplayFor(slug)},
		Date:     date,
		Version:  version,
	}
}

func newExecutor(t *testing.T, reports ...report.Report) *Executor {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := indexer.NewEngine(indexer.WithLogger(quiet))
	eng.Build(reports)
	e := New(eng, WithClock(func() time.Time { return fixedNow }))
	e.logger = quiet
	return e
}

func run(t *testing.T, e *Executor, query string, opts Options) *SearchResult {
	t.Helper()
	res, err := e.Execute(context.Background(), parser.Parse(query), opts)
	if err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
	return res
}

func resultPaths(res *SearchResult) []string {
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.Report.Path
	}
	return out
}

func TestSearchAIScenario(t *testing.T) {
	e := newExecutor(t,
		rep("AI_Reports/shi-zheng-yu-guo-ji/ai-trends-2025-01-28--v1.md",
			"2025年AI发展趋势深度分析报告", "人工智能正在重塑全球产业格局。", "shi-zheng-yu-guo-ji", "2025-01-28", "v1"),
		rep("AI_Reports/lu-you-yu-chu-xing/smart-travel-2025-01-26--v1.md",
			"智慧旅行", "出行方式的变化", "lu-you-yu-chu-xing", "2025-01-26", "v1"),
	)
	res := run(t, e, "AI", Options{})
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	got := res.Results[0]
	if got.Score <= 0 {
		t.Errorf("score = %d", got.Score)
	}
	if !strings.Contains(got.HighlightedTitle, "<mark>AI</mark>") {
		t.Errorf("highlighted title = %q", got.HighlightedTitle)
	}
	if len(got.Matches) == 0 || got.Matches[0].Type != "title" {
		t.Errorf("matches = %+v", got.Matches)
	}
}

func TestEmptyQuery(t *testing.T) {
	e := newExecutor(t, rep("a", "alpha", "", "x", "", ""))
	for _, q := range []string{"", "  ", "a", "!!"} {
		res := run(t, e, q, Options{})
		if len(res.Results) != 0 || res.Results == nil {
			t.Errorf("query %q: expected empty non-nil results", q)
		}
	}
}

func TestCategoryFilterIsIntersection(t *testing.T) {
	e := newExecutor(t,
		rep("A", "market report", "", "cat1", "", "v1"),
		rep("B", "market report", "", "cat2", "", "v1"),
	)

	res := run(t, e, "market", Options{Categories: []string{"cat1"}})
	if got := resultPaths(res); len(got) != 1 || got[0] != "A" {
		t.Errorf("categories [cat1] = %v", got)
	}

	res = run(t, e, "market", Options{Categories: []string{"cat1", "missing"}})
	if got := resultPaths(res); len(got) != 1 {
		t.Errorf("categories [cat1 missing] = %v", got)
	}

	res = run(t, e, "market", Options{Categories: []string{}})
	if len(res.Results) != 0 {
		t.Errorf("empty category list must match nothing, got %v", resultPaths(res))
	}

	res = run(t, e, "market", Options{Categories: nil})
	if len(res.Results) != 2 {
		t.Errorf("nil categories is no filter, got %v", resultPaths(res))
	}
}

func TestCategoryDisplayNameFilter(t *testing.T) {
	e := newExecutor(t,
		rep("A", "全球 market", "", "shi-zheng-yu-guo-ji", "", ""),
		rep("B", "market", "", "lu-you-yu-chu-xing", "", ""),
	)
	res := run(t, e, "market", Options{Categories: []string{"时政与国际"}})
	if got := resultPaths(res); len(got) != 1 || got[0] != "A" {
		t.Errorf("display name filter = %v", got)
	}
}

func TestDateRangeFilter(t *testing.T) {
	e := newExecutor(t,
		rep("jan01", "market", "", "x", "2025-01-01", ""),
		rep("jan15", "market", "", "x", "2025-01-15", ""),
		rep("jan31", "market", "", "x", "2025-01-31", ""),
		rep("undated", "market", "", "x", "", ""),
	)
	res := run(t, e, "market", Options{DateRange: &DateRange{Start: "2025-01-01", End: "2025-01-15"}, SortBy: ranker.SortDate})
	if got := fmt.Sprint(resultPaths(res)); got != "[jan15 jan01]" {
		t.Errorf("inclusive range = %s", got)
	}

	res = run(t, e, "market", Options{DateRange: &DateRange{Start: "2025-01-10"}, SortBy: ranker.SortDate})
	if got := fmt.Sprint(resultPaths(res)); got != "[jan31 jan15]" {
		t.Errorf("open-ended range = %s", got)
	}

	// A category filter takes precedence over the date range.
	res = run(t, e, "market", Options{Categories: []string{"x"}, DateRange: &DateRange{Start: "2030-01-01"}})
	if len(res.Results) != 4 {
		t.Errorf("date range should be ignored with categories, got %v", resultPaths(res))
	}
}

func TestVersionFilter(t *testing.T) {
	e := newExecutor(t,
		rep("a", "market", "", "x", "", "v1"),
		rep("b", "market", "", "x", "", "v2"),
	)
	res := run(t, e, "market", Options{Versions: []string{"v2"}})
	if got := resultPaths(res); len(got) != 1 || got[0] != "b" {
		t.Errorf("versions = %v", got)
	}
}

func TestResultCeiling(t *testing.T) {
	var reports []report.Report
	for i := 0; i < 80; i++ {
		reports = append(reports, rep(fmt.Sprintf("r%d", i), "market outlook", "", "x", "", ""))
	}
	e := newExecutor(t, reports...)

	for _, tt := range []struct{ limit, want int }{
		{1000, DefaultMaxResults},
		{0, DefaultMaxResults},
		{-3, DefaultMaxResults},
		{7, 7},
	} {
		res := run(t, e, "market", Options{Limit: tt.limit})
		if len(res.Results) != tt.want {
			t.Errorf("limit %d: got %d results, want %d", tt.limit, len(res.Results), tt.want)
		}
		if res.TotalHits != 80 {
			t.Errorf("limit %d: total hits = %d", tt.limit, res.TotalHits)
		}
	}

	small := New(e.engine, WithMaxResults(10))
	res, err := small.Execute(context.Background(), parser.Parse("market"), Options{Limit: 25})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 10 {
		t.Errorf("custom ceiling: got %d", len(res.Results))
	}
}

func TestRelevanceTiesKeepIndexOrder(t *testing.T) {
	e := newExecutor(t,
		rep("first", "market", "", "x", "", ""),
		rep("second", "market", "", "x", "", ""),
		rep("third", "market", "", "x", "", ""),
	)
	res := run(t, e, "market", Options{})
	if got := fmt.Sprint(resultPaths(res)); got != "[first second third]" {
		t.Errorf("order = %s", got)
	}
}

func TestScoreWithoutRecency(t *testing.T) {
	e := newExecutor(t, rep("a", "market", "", "x", "2020-01-01", ""))
	res := run(t, e, "market", Options{})
	if len(res.Results) != 1 || res.Results[0].Score != 10+5 {
		t.Errorf("unexpected results %+v", res.Results)
	}
}

func TestExcerptCentredOnFirstTerm(t *testing.T) {
	content := strings.Repeat("前", 150) + "market" + strings.Repeat("后", 150)
	e := newExecutor(t, rep("a", "报告", content, "x", "", ""))
	res := run(t, e, "market", Options{})
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result")
	}
	ex := res.Results[0].Excerpt
	if !strings.HasPrefix(ex, "...") || !strings.HasSuffix(ex, "...") || !strings.Contains(ex, "<mark>market</mark>") {
		t.Errorf("excerpt = %q", ex)
	}
}

func TestCancelledContext(t *testing.T) {
	e := newExecutor(t, rep("a", "market", "", "x", "", ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Execute(ctx, parser.Parse("market"), Options{}); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestDateRangeContains(t *testing.T) {
	r := DateRange{Start: "2025-01-01", End: "2025-01-31"}
	for date, want := range map[string]bool{
		"2025-01-01": true,
		"2025-01-31": true,
		"2024-12-31": false,
		"2025-02-01": false,
		"":           false,
		"2025-1-5":   false,
	} {
		if got := r.Contains(date); got != want {
			t.Errorf("Contains(%q) = %v", date, got)
		}
	}
}
