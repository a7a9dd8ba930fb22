package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/render"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/cache"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

const aiPath = "AI_Reports/shi-zheng-yu-guo-ji/ai-trends-2025-01-28--v1.md"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T) (*httptest.Server, *archive.MemorySource) {
	t.Helper()
	slog.SetDefault(quiet)

	src := archive.NewMemorySource(map[string]string{
		archive.DigestPath:     "# 今日\n\n- [AI趋势](" + aiPath + ")\n",
		archive.NavigationPath: "# 导航\n\n## 时政与国际\n- [AI趋势](" + aiPath + ")\n",
		aiPath:                 "# 2025年AI发展趋势\n\n## Overview\n\n人工智能正在重塑产业。",
		archive.CategoryIndexPath("shi-zheng-yu-guo-ji"): "# 时政与国际 Reports\n\n- [AI趋势](ai-trends-2025-01-28--v1.md)\n",
	})
	lib := archive.NewLibrary(src, archive.WithLogger(quiet))

	eng := indexer.NewEngine(indexer.WithLogger(quiet))
	eng.Build([]report.Report{
		{Path: aiPath, Title: "2025年AI发展趋势", Content: "人工智能正在重塑产业。", Category: report.Category{Slug: "shi-zheng-yu-guo-ji", Display: "时政与国际"}, Date: "2025-01-28", Version: "v1"},
		{Path: "AI_Reports/xing-ye-yu-gong-si/chip-2024-12-01--v1.md", Title: "AI芯片市场", Content: "算力需求", Category: report.Category{Slug: "xing-ye-yu-gong-si", Display: "行业与公司"}, Date: "2024-12-01", Version: "v1"},
	})
	qc := cache.New(cache.NewMemoryBackend(time.Minute), nil)
	svc := searcher.New(eng, executor.New(eng, executor.WithMaxResults(20)), searcher.WithCache(qc), searcher.WithLogger(quiet))

	mux := http.NewServeMux()
	New(svc, lib, render.New(), WithEngine(eng)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, src
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", path, err)
		}
	}
	return resp
}

func TestSearch(t *testing.T) {
	srv, _ := newServer(t)

	var res executor.SearchResult
	resp := getJSON(t, srv, "/api/v1/search?q=AI", &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if res.TotalHits != 2 {
		t.Errorf("total hits = %d, want 2", res.TotalHits)
	}

	resp = getJSON(t, srv, "/api/v1/search?q=AI&category=xing-ye-yu-gong-si", &res)
	if resp.StatusCode != http.StatusOK || res.TotalHits != 1 || res.Results[0].Report.Category.Slug != "xing-ye-yu-gong-si" {
		t.Errorf("category filter: status=%d result=%+v", resp.StatusCode, res)
	}

	resp = getJSON(t, srv, "/api/v1/search?q=AI&from=2025-01-01&sort=date&limit=5", &res)
	if resp.StatusCode != http.StatusOK || res.TotalHits != 1 || res.Results[0].Report.Path != aiPath {
		t.Errorf("date filter: status=%d result=%+v", resp.StatusCode, res)
	}
}

func TestSearchValidation(t *testing.T) {
	srv, _ := newServer(t)
	tests := []struct {
		name  string
		query string
		field string
	}{
		{"long query", "q=" + url.QueryEscape(strings.Repeat("字", 257)), "q"},
		{"negative limit", "q=a&limit=-1", "limit"},
		{"bad limit", "q=a&limit=ten", "limit"},
		{"bad sort", "q=a&sort=random", "sort"},
		{"bad date", "q=a&from=2025-13-01", "from"},
		{"inverted range", "q=a&from=2025-02-01&to=2025-01-01", "from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Fields map[string]string `json:"fields"`
			}
			resp := getJSON(t, srv, "/api/v1/search?"+tt.query, &body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body.Fields[tt.field] == "" {
				t.Errorf("no error for field %q: %v", tt.field, body.Fields)
			}
		})
	}
}

func TestParseSearchRequestLists(t *testing.T) {
	q := url.Values{"q": {"ai"}, "category": {"a,b", "", "c"}, "version": {"v1"}}
	req, err := ParseSearchRequest(q, 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(req.Options.Categories, "|"); got != "a|b|c" {
		t.Errorf("categories = %q", got)
	}
	if req.Options.DateRange != nil {
		t.Errorf("unexpected date range %+v", req.Options.DateRange)
	}

	req, err = ParseSearchRequest(url.Values{"q": {"ai"}, "category": {""}}, 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	if req.Options.Categories != nil {
		t.Errorf("an empty category parameter must not filter, got %#v", req.Options.Categories)
	}
}

func TestLimitAboveCeilingIsClamped(t *testing.T) {
	req, err := ParseSearchRequest(url.Values{"q": {"ai"}, "limit": {"1000"}}, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if req.Options.Limit != 20 {
		t.Errorf("limit = %d, want 20", req.Options.Limit)
	}

	srv, _ := newServer(t)
	var res executor.SearchResult
	resp := getJSON(t, srv, "/api/v1/search?q=AI&limit=21", &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if res.TotalHits != 2 || len(res.Results) != 2 {
		t.Errorf("clamped search: hits=%d results=%d", res.TotalHits, len(res.Results))
	}
}

func TestSuggestionsAndTrending(t *testing.T) {
	srv, _ := newServer(t)

	var sug struct {
		Suggestions []string `json:"suggestions"`
	}
	getJSON(t, srv, "/api/v1/suggestions?q=A", &sug)
	if len(sug.Suggestions) != 0 {
		t.Errorf("single rune prefix returned %v", sug.Suggestions)
	}

	var trending struct {
		Queries []string `json:"queries"`
	}
	getJSON(t, srv, "/api/v1/trending?n=3", &trending)
	if strings.Join(trending.Queries, ",") != "国际政治,经济分析,社会热点" {
		t.Errorf("trending = %v", trending.Queries)
	}
	if resp := getJSON(t, srv, "/api/v1/trending?n=0", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("n=0 status = %d", resp.StatusCode)
	}
}

func TestArchiveViews(t *testing.T) {
	srv, _ := newServer(t)

	var digest archive.Digest
	getJSON(t, srv, "/api/v1/today", &digest)
	if len(digest.Reports) != 1 || digest.Reports[0].Path != aiPath {
		t.Errorf("today = %+v", digest)
	}

	var nav struct {
		Sections []report.Section `json:"sections"`
	}
	getJSON(t, srv, "/api/v1/navigation", &nav)
	if len(nav.Sections) != 1 || nav.Sections[0].Slug != "shi-zheng-yu-guo-ji" {
		t.Errorf("navigation = %+v", nav)
	}

	var stats archive.Stats
	getJSON(t, srv, "/api/v1/categories", &stats)
	if stats.Total != 1 || len(stats.Categories) != len(report.Categories) {
		t.Errorf("categories = %+v", stats)
	}

	var cat struct {
		Category report.CategoryInfo `json:"category"`
		Reports  []report.Reference  `json:"reports"`
	}
	getJSON(t, srv, "/api/v1/categories/shi-zheng-yu-guo-ji", &cat)
	if cat.Category.Display != "时政与国际" || len(cat.Reports) != 1 || cat.Reports[0].Date != "2025-01-28" {
		t.Errorf("category = %+v", cat)
	}
	if resp := getJSON(t, srv, "/api/v1/categories/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown category status = %d", resp.StatusCode)
	}

	var tl struct {
		Groups []report.DateGroup `json:"groups"`
	}
	getJSON(t, srv, "/api/v1/timeline?year=2025", &tl)
	if len(tl.Groups) != 1 || tl.Groups[0].Date != "2025-01-28" {
		t.Errorf("timeline = %+v", tl)
	}
	if resp := getJSON(t, srv, "/api/v1/timeline?year=25", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad year status = %d", resp.StatusCode)
	}
}

func TestMissingDigestServesEmptyView(t *testing.T) {
	srv, src := newServer(t)
	src.Fail(archive.DigestPath, apperrors.ErrReportNotFound)

	var digest archive.Digest
	resp := getJSON(t, srv, "/api/v1/today", &digest)
	if resp.StatusCode != http.StatusOK || len(digest.Reports) != 0 {
		t.Errorf("status=%d digest=%+v", resp.StatusCode, digest)
	}
}

func TestRateLimitedArchive(t *testing.T) {
	srv, src := newServer(t)
	reset := time.Now().Add(90 * time.Second)
	src.Fail(archive.NavigationPath, &archive.RateLimitError{ResetAt: reset, Err: errors.New("403")})

	resp := getJSON(t, srv, "/api/v1/navigation", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if ra := resp.Header.Get("Retry-After"); ra != "90" && ra != "89" {
		t.Errorf("Retry-After = %q", ra)
	}

	limited := "AI_Reports/x/busy-2025-01-01--v1.md"
	src.Fail(limited, &archive.RateLimitError{ResetAt: reset, Err: errors.New("403")})
	var body reportResponse
	resp = getJSON(t, srv, "/api/v1/reports/"+limited, &body)
	if resp.StatusCode != http.StatusTooManyRequests || body.Placeholder != report.PlaceholderRateLimited {
		t.Errorf("status=%d placeholder=%q", resp.StatusCode, body.Placeholder)
	}
}

func TestUnavailableArchive(t *testing.T) {
	srv, src := newServer(t)
	src.Fail(archive.NavigationPath, apperrors.ErrUnavailable)
	if resp := getJSON(t, srv, "/api/v1/navigation", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestArchiveRoot(t *testing.T) {
	srv, _ := newServer(t)

	var root struct {
		Entries []archive.Entry `json:"entries"`
	}
	resp := getJSON(t, srv, "/api/v1/archive", &root)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := make(map[string]string, len(root.Entries))
	for _, e := range root.Entries {
		got[e.Name] = e.Type
	}
	want := map[string]string{"AI_Reports": archive.EntryDir, "NAVIGATION.md": archive.EntryFile, "README.md": archive.EntryFile}
	if len(got) != len(want) {
		t.Fatalf("entries = %+v", root.Entries)
	}
	for name, typ := range want {
		if got[name] != typ {
			t.Errorf("%s: type = %q, want %q", name, got[name], typ)
		}
	}
}

func TestUninterpretableArchiveRoot(t *testing.T) {
	srv, src := newServer(t)
	src.Fail("", fmt.Errorf("%w: root is a file", apperrors.ErrMalformedDocument))

	if resp := getJSON(t, srv, "/api/v1/archive", nil); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestReport(t *testing.T) {
	srv, _ := newServer(t)

	var body reportResponse
	resp := getJSON(t, srv, "/api/v1/reports/"+aiPath, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Title != "2025年AI发展趋势" || !strings.Contains(body.HTML, `id="overview"`) {
		t.Errorf("report = %+v", body)
	}
	if len(body.Headings) == 0 {
		t.Error("no headings collected")
	}

	resp = getJSON(t, srv, "/api/v1/reports/AI_Reports/x/none-2025-01-01--v1.md", &body)
	if resp.StatusCode != http.StatusNotFound || body.Title != "报告未找到" {
		t.Errorf("missing report: status=%d title=%q", resp.StatusCode, body.Title)
	}

	if resp := getJSON(t, srv, "/api/v1/reports/README.md", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("path outside reports root: status = %d", resp.StatusCode)
	}
}

func TestCacheAdmin(t *testing.T) {
	srv, _ := newServer(t)
	getJSON(t, srv, "/api/v1/search?q=AI", nil)
	getJSON(t, srv, "/api/v1/search?q=AI", nil)

	var stats cache.Stats
	getJSON(t, srv, "/api/v1/cache/stats", &stats)
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v", stats)
	}

	resp, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invalidate status = %d", resp.StatusCode)
	}
	getJSON(t, srv, "/api/v1/cache/stats", &stats)
	if stats.Entries != 0 {
		t.Errorf("entries after invalidate = %d", stats.Entries)
	}
}

func TestIndexStatus(t *testing.T) {
	srv, _ := newServer(t)
	var status struct {
		State   string `json:"state"`
		Reports int    `json:"reports"`
	}
	getJSON(t, srv, "/api/v1/index", &status)
	if status.State != string(indexer.StateIndexed) || status.Reports != 2 {
		t.Errorf("status = %+v", status)
	}
}
