// Package tracing times the phases of long operations such as an archive
// crawl. Spans nest through the context and the finished tree is written to
// slog, one record per span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// Span is one timed phase. Children are the phases started under it.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	attrs    []any
	children []*Span
	failed   error
}

// Start begins a span named name. Inside an existing span it becomes a
// child sharing the parent's trace ID; otherwise it is a root with a fresh
// one.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else {
		s.TraceID = uuid.NewString()
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration. Calling it again has no effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Duration == 0 {
		s.Duration = time.Since(s.Start)
	}
}

// SetAttr attaches a key/value pair logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Fail records err on the span.
func (s *Span) Fail(err error) {
	s.mu.Lock()
	s.failed = err
	s.mu.Unlock()
}

// Children returns the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the span and its descendants, depth first.
func (s *Span) Log(logger *slog.Logger) {
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}, s.attrs...)
	failed := s.failed
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	if failed != nil {
		logger.Warn("span", append(attrs, "error", failed)...)
	} else {
		logger.Debug("span", attrs...)
	}
	for _, child := range children {
		child.log(logger, depth+1)
	}
}

// Phase runs fn inside a child span of ctx's span, ending it and recording
// any error.
func Phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, s := Start(ctx, name)
	defer s.End()
	err := fn(ctx)
	if err != nil {
		s.Fail(err)
	}
	return err
}
