package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewJSONDurationsInMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("crawled", "duration", 1500*time.Millisecond)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding %q: %v", buf.String(), err)
	}
	if rec["duration_ms"] != 1500.0 {
		t.Errorf("duration_ms = %v in %s", rec["duration_ms"], buf.String())
	}
	if _, ok := rec["source"]; ok {
		t.Error("source added at info level")
	}
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	New(&buf, "DEBUG", "text").Debug("traced")
	if !strings.Contains(buf.String(), "source=") {
		t.Errorf("debug output has no source: %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	defer slog.SetDefault(prev)

	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Fatalf("RequestID = %q", got)
	}
	FromContext(ctx).Info("search completed")
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("output = %q", buf.String())
	}
	if RequestID(context.Background()) != "" {
		t.Error("empty context has a request ID")
	}
}
