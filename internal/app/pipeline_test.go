package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/crawler"
	"github.com/OnlineMo/DeepResearch-Web/internal/render"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/handler"
	"github.com/OnlineMo/DeepResearch-Web/internal/store"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
)

const (
	aiPath  = "AI_Reports/shi-zheng-yu-guo-ji/ai-trends-2025-01-28--v1.md"
	lawPath = "AI_Reports/she-hui-yu-fa-zhi/new-law-2024-12-30--v2.md"
)

func writeArchive(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, text := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type searchBody struct {
	TotalHits int `json:"total_hits"`
	Results   []struct {
		Report struct {
			Path  string `json:"path"`
			Title string `json:"title"`
		} `json:"report"`
		HighlightedTitle string `json:"highlighted_title"`
	} `json:"results"`
}

func search(t *testing.T, base, q string) searchBody {
	t.Helper()
	resp, err := http.Get(base + "/api/v1/search?q=" + url.QueryEscape(q))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search %q: status %d", q, resp.StatusCode)
	}
	var body searchBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

// TestPipeline crawls a local archive into a SQLite store, serves it over
// HTTP and follows a file edit through Refresh.
func TestPipeline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeArchive(t, dir, map[string]string{
		archive.NavigationPath: "# 导航\n\n## 时政与国际\n- [AI趋势](" + aiPath + ")\n\n## 社会与法治\n- [新法](" + lawPath + ")\n",
		archive.DigestPath:     "# 今日报告\n\n- [AI趋势](" + aiPath + ")\n",
		aiPath:                 "# 2025年AI发展趋势\n\n来源: https://example.com/ai\n\n人工智能，正在重塑产业。",
		lawPath:                "---\nreadTime: 3\n---\n# 新法解读\n\n数据安全法规更新。",
	})

	cfg := &config.Config{
		Archive: config.ArchiveConfig{Kind: "local", BatchSize: 3, ContentTTL: time.Minute, Timeout: time.Second},
		Local:   config.LocalConfig{Dir: dir},
		Store:   config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reports.db")},
		Search:  config.SearchConfig{MaxResults: 50, ExcerptLength: 80, MaxQueryLength: 256, HighlightOpen: "<mark>", HighlightClose: "</mark>"},
		Cache:   config.CacheConfig{Backend: "memory", TTL: time.Minute},
	}

	p, err := NewParser(cfg.Parser, nil)
	if err != nil {
		t.Fatal(err)
	}
	src, _, err := OpenSource(ctx, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	library := NewLibrary(src, cfg, p, nil)
	st, err := store.Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	engine := NewEngine(nil)
	c := crawler.New(library, st, crawler.WithEngine(engine))
	rev, err := library.Revision(ctx)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Run(ctx, rev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reports != 2 {
		t.Fatalf("crawled %d reports, want 2", res.Reports)
	}

	qc := NewCache(cfg, nil)
	service := searcher.New(engine, NewExecutor(engine, cfg.Search), searcher.WithCache(qc.QueryCache))
	mux := http.NewServeMux()
	handler.New(service, library, render.New(), handler.WithEngine(engine)).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got := search(t, srv.URL, "人工智能")
	if got.TotalHits != 1 || got.Results[0].Report.Path != aiPath {
		t.Fatalf("search = %+v", got)
	}
	if got := search(t, srv.URL, "AI"); got.TotalHits == 0 || got.Results[0].HighlightedTitle == got.Results[0].Report.Title {
		t.Errorf("title not highlighted: %+v", got)
	}

	// The edit must reach the index and flush cached results.
	writeArchive(t, dir, map[string]string{lawPath: "# 新法解读 修订版\n\n人工智能，监管条例。"})
	if err := c.Refresh(ctx, []string{lawPath}); err != nil {
		t.Fatal(err)
	}
	got = search(t, srv.URL, "人工智能")
	if got.TotalHits != 2 {
		t.Fatalf("after refresh: %+v", got)
	}

	// A fresh engine warm-started from the store sees the same reports.
	reports, err := st.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	warm := NewEngine(nil)
	warm.Build(reports)
	if r, ok := warm.Index().Get(lawPath); !ok || r.Title != "新法解读 修订版" {
		t.Errorf("stored report = %+v", r)
	}
	if stored, _ := st.Revision(ctx); stored.ID != rev.ID {
		t.Errorf("stored revision %q, want %q", stored.ID, rev.ID)
	}

	resp, err := http.Get(srv.URL + "/api/v1/reports/" + aiPath)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view struct {
		Title string `json:"title"`
		HTML  string `json:"html"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || view.Title != "2025年AI发展趋势" || view.HTML == "" {
		t.Errorf("report view = %d %+v", resp.StatusCode, view)
	}
}
