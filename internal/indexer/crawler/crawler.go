// Package crawler turns archive changes into index changes: it reads every
// report the navigation lists, saves them to the report store, rebuilds the
// local index and announces the new revision to other services.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/store"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
	"github.com/OnlineMo/DeepResearch-Web/pkg/tracing"
)

// Publisher announces index events. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithEngine rebuilds engine after every crawl.
func WithEngine(e *indexer.Engine) Option {
	return func(c *Crawler) { c.engine = e }
}

// WithPublisher sends an IndexEvent after every crawl or refresh.
func WithPublisher(p Publisher) Option {
	return func(c *Crawler) { c.publisher = p }
}

// WithPrune deletes stored reports the navigation no longer lists. The
// engine is rebuilt from the store, so pruned reports leave the index too.
func WithPrune(prune bool) Option {
	return func(c *Crawler) { c.prune = prune }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

type Crawler struct {
	library   *archive.Library
	store     store.Store
	engine    *indexer.Engine
	publisher Publisher
	prune     bool
	logger    *slog.Logger
}

func New(library *archive.Library, st store.Store, opts ...Option) *Crawler {
	c := &Crawler{
		library: library,
		store:   st,
		logger:  slog.Default().With("component", "crawler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result summarises one crawl.
type Result struct {
	Revision archive.Revision `json:"revision"`
	Reports  int              `json:"reports"`
	Pruned   int              `json:"pruned"`
	Duration time.Duration    `json:"duration"`
}

// Crawl reads the whole archive at rev. It matches archive.ChangeHandler so
// a Poller can drive it. The revision is recorded only after the reports are
// saved, so an interrupted crawl is repeated on the next poll.
func (c *Crawler) Crawl(ctx context.Context, rev archive.Revision) error {
	_, err := c.Run(ctx, rev)
	return err
}

// Run is Crawl returning a summary. Each phase is traced; the span tree is
// logged at debug level, or as a warning when a phase fails.
func (c *Crawler) Run(ctx context.Context, rev archive.Revision) (Result, error) {
	ctx, span := tracing.Start(ctx, "crawl")
	span.SetAttr("revision", rev.ID)
	defer func() {
		span.End()
		span.Log(c.logger)
	}()

	// Contents cached under the previous revision may be stale.
	c.library.Invalidate()

	var reports []report.Report
	err := tracing.Phase(ctx, "read_archive", func(ctx context.Context) error {
		var err error
		reports, err = c.library.AllReports(ctx)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("crawling archive: %w", err)
	}
	err = tracing.Phase(ctx, "save", func(ctx context.Context) error {
		if err := c.store.Save(ctx, reports); err != nil {
			return fmt.Errorf("saving crawl: %w", err)
		}
		return c.store.SetRevision(ctx, rev)
	})
	if err != nil {
		return Result{}, err
	}
	var pruned int
	if c.prune {
		err = tracing.Phase(ctx, "prune", func(ctx context.Context) error {
			var err error
			pruned, err = c.pruneUnlisted(ctx)
			return err
		})
		if err != nil {
			return Result{}, err
		}
	}
	if c.engine != nil {
		err = tracing.Phase(ctx, "build_index", func(ctx context.Context) error {
			all, err := c.store.All(ctx)
			if err != nil {
				return fmt.Errorf("loading snapshot: %w", err)
			}
			c.engine.Build(all)
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}
	// No paths: subscribers rebuild from the whole store.
	event := analytics.NewIndexEvent(rev.ID, nil)
	event.Reports = len(reports)
	c.publish(ctx, event)

	span.SetAttr("reports", len(reports))
	res := Result{Revision: rev, Reports: len(reports), Pruned: pruned, Duration: time.Since(span.Start)}
	c.logger.Info("archive crawled",
		"revision", rev.ID,
		"reports", res.Reports,
		"pruned", res.Pruned,
		"duration", res.Duration,
	)
	return res, nil
}

// Refresh re-reads paths, typically reported by a file watcher, and applies
// them as an index update. Unreadable paths are skipped.
func (c *Crawler) Refresh(ctx context.Context, paths []string) error {
	var wanted []string
	for _, p := range paths {
		if report.IsReportPath(p) {
			wanted = append(wanted, p)
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	for _, p := range wanted {
		c.library.Forget(p)
	}

	var reports []report.Report
	var saved []string
	for _, content := range c.library.Reports(ctx, wanted) {
		if content.IsPlaceholder() {
			continue
		}
		r := content.Report()
		r.LastModified = time.Now().UTC()
		reports = append(reports, r)
		saved = append(saved, r.Path)
	}
	if len(reports) == 0 {
		return nil
	}
	if err := c.store.Save(ctx, reports); err != nil {
		return fmt.Errorf("saving refreshed reports: %w", err)
	}
	if c.engine != nil {
		c.engine.Update(reports)
	}
	rev, err := c.library.Revision(ctx)
	if err != nil {
		c.logger.Warn("reading revision after refresh failed", "error", err)
	}
	c.publish(ctx, analytics.NewIndexEvent(rev.ID, saved))
	c.logger.Info("reports refreshed", "count", len(reports))
	return nil
}

// pruneUnlisted compares the store against the navigation rather than
// against the reports just read, so a report that failed to load keeps its
// last good copy.
func (c *Crawler) pruneUnlisted(ctx context.Context) (int, error) {
	sections, err := c.library.Navigation(ctx)
	if err != nil {
		return 0, err
	}
	listed := make(map[string]struct{})
	for _, ref := range report.Flatten(sections) {
		listed[ref.Path] = struct{}{}
	}
	stored, err := c.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}
	var stale []string
	for _, r := range stored {
		if _, ok := listed[r.Path]; !ok {
			stale = append(stale, r.Path)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, stale...); err != nil {
		return 0, fmt.Errorf("pruning %d reports: %w", len(stale), err)
	}
	return len(stale), nil
}

func (c *Crawler) publish(ctx context.Context, event analytics.IndexEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, kafka.Event{Key: event.Revision, Value: event}); err != nil {
		c.logger.Error("publishing index event failed", "revision", event.Revision, "error", err)
	}
}
