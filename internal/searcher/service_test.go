package searcher

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/cache"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type eventLog struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (l *eventLog) RecordSearch(e analytics.SearchEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func rep(path, title, content string) report.Report {
	return report.Report{Path: path, Title: title, Content: content, Category: report.Category{Slug: "x", Display: "x"}}
}

func newService(t *testing.T, opts ...Option) (*Service, *indexer.Engine) {
	t.Helper()
	eng := indexer.NewEngine(indexer.WithLogger(quiet))
	eng.Build([]report.Report{
		rep("a", "market outlook", "markets and marketing"),
		rep("b", "market report", ""),
		rep("c", "bond market", ""),
		rep("d", "supermarket chains", ""),
	})
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(eng, executor.New(eng), opts...), eng
}

func TestSearchRecordsEvent(t *testing.T) {
	events := &eventLog{}
	svc, _ := newService(t, WithRecorder(events))

	res, err := svc.Search(context.Background(), "market", executor.Options{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalHits != 3 || len(res.Results) != 2 {
		t.Fatalf("total=%d returned=%d", res.TotalHits, len(res.Results))
	}
	if len(events.events) != 1 {
		t.Fatalf("recorded %d events", len(events.events))
	}
	e := events.events[0]
	if e.Query != "market" || e.TotalHits != 3 || e.Returned != 2 || e.Filters.Limit != 2 || e.CacheHit {
		t.Errorf("event = %+v", e)
	}
}

func TestEmptyQuerySkipsEverything(t *testing.T) {
	events := &eventLog{}
	svc, _ := newService(t, WithRecorder(events))
	res, err := svc.Search(context.Background(), " ", executor.Options{})
	if err != nil || len(res.Results) != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if len(events.events) != 0 {
		t.Errorf("empty query was recorded")
	}
}

func TestCacheFlushedOnIndexChange(t *testing.T) {
	qc := cache.New(cache.NewMemoryBackend(cache.DefaultTTL), nil)
	reg := prometheus.NewRegistry()
	svc, eng := newService(t, WithCache(qc), WithMetrics(metrics.NewWithRegistry(reg)))
	ctx := context.Background()

	first, _ := svc.Search(ctx, "bond", executor.Options{})
	if first.TotalHits != 1 {
		t.Fatalf("total hits = %d", first.TotalHits)
	}
	if _, hit := qc.Get(ctx, "bond", executor.Options{}); !hit {
		t.Fatal("result was not cached")
	}

	eng.Update([]report.Report{rep("e", "bond yields", "")})
	second, _ := svc.Search(ctx, "bond", executor.Options{})
	if second.TotalHits != 2 {
		t.Errorf("stale result after update: total hits = %d", second.TotalHits)
	}
}

func TestSuggestions(t *testing.T) {
	svc, _ := newService(t)
	got := svc.Suggestions("MARK")
	want := []string{"market", "supermarket"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Suggestions(MARK) = %v, want %v", got, want)
	}
	if got := svc.Suggestions("m"); len(got) != 0 {
		t.Errorf("one-rune prefix returned %v", got)
	}
}

func TestSuggestionsCapped(t *testing.T) {
	eng := indexer.NewEngine(indexer.WithLogger(quiet))
	var reports []report.Report
	for _, w := range []string{"aa1", "aa2", "aa3", "aa4", "aa5", "aa6", "aa7", "aa8", "aa9", "aa10", "aa11", "aa12"} {
		reports = append(reports, rep(w, w, ""))
	}
	reports = append(reports, rep("dup", "aa9", ""))
	eng.Build(reports)
	svc := New(eng, executor.New(eng), WithLogger(quiet))

	got := svc.Suggestions("aa")
	if len(got) != MaxSuggestions || got[0] != "aa9" || got[1] != "aa1" || got[2] != "aa10" {
		t.Errorf("Suggestions(aa) = %v", got)
	}
}

type fixedTrending []analytics.QueryCount

func (f fixedTrending) Trending(n int) []analytics.QueryCount {
	if len(f) > n {
		return f[:n]
	}
	return f
}

func TestTrending(t *testing.T) {
	svc, _ := newService(t)
	if got := svc.Trending(0); !reflect.DeepEqual(got, FallbackTrending) {
		t.Errorf("fallback = %v", got)
	}
	if got := svc.Trending(2); len(got) != 2 {
		t.Errorf("Trending(2) = %v", got)
	}

	svc, _ = newService(t, WithTrending(fixedTrending{{Query: "ai", Count: 3}}))
	if got := svc.Trending(5); !reflect.DeepEqual(got, []string{"ai"}) {
		t.Errorf("recorded trending = %v", got)
	}

	svc, _ = newService(t, WithTrending(fixedTrending{}))
	if got := svc.Trending(5); len(got) != 5 {
		t.Errorf("empty source should fall back, got %v", got)
	}
}
