package indexer

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/index"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

func quietEngine(opts ...Option) *Engine {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewEngine(opts...)
}

func TestEngineLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	e := quietEngine(WithMetrics(m))

	var changes []string
	e.OnChange(func(kind string, n int) { changes = append(changes, kind) })

	if e.State() != StateEmpty || !e.UpdatedAt().IsZero() {
		t.Fatalf("new engine should be empty")
	}

	e.Build([]report.Report{
		{Path: "a", Title: "alpha report"},
		{Path: "b", Title: "beta report"},
	})
	if e.State() != StateIndexed || e.Len() != 2 {
		t.Fatalf("after build: state=%s len=%d", e.State(), e.Len())
	}
	before := e.Index()

	e.Update([]report.Report{{Path: "c", Title: "gamma report"}})
	if e.Len() != 3 || e.Index() != before {
		t.Errorf("update should extend the live index in place")
	}

	e.Update(nil)
	e.Build([]report.Report{{Path: "z", Title: "zeta"}})
	if e.Len() != 1 {
		t.Errorf("build should replace everything, len=%d", e.Len())
	}
	if _, ok := e.Index().Get("a"); ok {
		t.Error("old report survived a rebuild")
	}
	if got := e.Index().Lookup(index.FieldTitle, "zeta"); len(got) != 1 {
		t.Errorf("zeta lookup = %v", got)
	}

	want := []string{"build", "update", "build"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes = %v, want %v", changes, want)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "index_reports":
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
				t.Errorf("index_reports = %v", got)
			}
		case "index_builds_total":
			for _, metric := range mf.GetMetric() {
				if metric.GetLabel()[0].GetValue() == "build" && metric.GetCounter().GetValue() != 2 {
					t.Errorf("builds = %v", metric.GetCounter().GetValue())
				}
			}
		}
	}
}
