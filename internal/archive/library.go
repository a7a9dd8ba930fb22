package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/parser"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/ttlcache"
)

const (
	DefaultBatchSize  = 3
	DefaultContentTTL = 5 * time.Minute
	DefaultTimeout    = 15 * time.Second
	// DefaultRetryAfter is suggested to clients when the upstream did not
	// say when its quota resets.
	DefaultRetryAfter = time.Minute
	// FallbackVersion is the version given to references whose report could
	// not be read.
	FallbackVersion = "v1"
)

// Digest is the parsed daily digest.
type Digest struct {
	Date    string             `json:"date"`
	Raw     string             `json:"raw_content"`
	Reports []report.Reference `json:"reports"`
}

// CategoryCount is a category table entry with the number of reports the
// navigation document lists under it.
type CategoryCount struct {
	report.CategoryInfo
	Count int `json:"count"`
}

type Stats struct {
	Categories []CategoryCount `json:"categories"`
	Total      int             `json:"total"`
}

// Option configures a Library.
type Option func(*Library)

// WithBatchSize sets how many reports are fetched concurrently.
func WithBatchSize(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithContentTTL sets how long raw file contents are cached.
func WithContentTTL(ttl time.Duration) Option {
	return func(l *Library) {
		if ttl > 0 {
			l.contentTTL = ttl
		}
	}
}

// WithTimeout bounds every source read.
func WithTimeout(d time.Duration) Option {
	return func(l *Library) { l.timeout = d }
}

func WithParser(p *parser.Parser) Option {
	return func(l *Library) { l.parser = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Library) { l.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Library) { l.logger = log }
}

// WithClock replaces time.Now for the digest date and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.now = now }
}

type Library struct {
	source     Source
	parser     *parser.Parser
	content    *ttlcache.Cache[string, string]
	listings   *ttlcache.Cache[string, []Entry]
	contentTTL time.Duration
	batchSize  int
	timeout    time.Duration
	now        func() time.Time

	// rateLimitedUntil is the last reset time reported by the source, in
	// unix nanoseconds.
	rateLimitedUntil atomic.Int64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewLibrary(source Source, opts ...Option) *Library {
	l := &Library{
		source:     source,
		contentTTL: DefaultContentTTL,
		batchSize:  DefaultBatchSize,
		timeout:    DefaultTimeout,
		now:        time.Now,
		logger:     slog.Default().With("component", "archive-library"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.parser == nil {
		l.parser = parser.New(parser.WithLogger(l.logger))
	}
	l.content = ttlcache.New[string, string](l.contentTTL)
	l.content.SetClock(l.now)
	l.listings = ttlcache.New[string, []Entry](l.contentTTL)
	l.listings.SetClock(l.now)
	return l
}

// Source returns the underlying archive source.
func (l *Library) Source() Source { return l.source }

// RunSweeper drops expired file contents every interval until ctx is done.
func (l *Library) RunSweeper(ctx context.Context, interval time.Duration) {
	l.content.RunSweeper(ctx, interval)
}

// Invalidate forgets every cached file and directory listing.
func (l *Library) Invalidate() int {
	return l.content.Clear() + l.listings.Clear()
}

// Forget drops the cached contents of path.
func (l *Library) Forget(path string) {
	l.content.Delete(path)
}

// RetryAfter suggests how long clients should wait after a rate-limited
// read.
func (l *Library) RetryAfter() time.Duration {
	if until := l.rateLimitedUntil.Load(); until > 0 {
		if d := time.Unix(0, until).Sub(l.now()); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

// ReadFile returns the contents of path, from the cache when fresh.
func (l *Library) ReadFile(ctx context.Context, path string) (string, error) {
	if text, ok := l.content.Get(path); ok {
		l.count("cached")
		return text, nil
	}

	readCtx, cancel := l.readContext(ctx)
	defer cancel()
	text, err := l.source.ReadFile(readCtx, path)
	if err != nil {
		return "", l.failed(ctx, "reading "+path, err)
	}
	l.count("ok")
	l.content.Set(path, text)
	return text, nil
}

// Root lists the top level of the archive, from the cache when fresh. A
// listing the source cannot interpret is a hard error wrapping
// errors.ErrMalformedDocument; unlike report bodies it never degrades to a
// placeholder.
func (l *Library) Root(ctx context.Context) ([]Entry, error) {
	const key = ""
	if entries, ok := l.listings.Get(key); ok {
		l.count("cached")
		return entries, nil
	}
	lister, ok := l.source.(Lister)
	if !ok {
		return nil, fmt.Errorf("%w: archive source cannot list directories", apperrors.ErrUnavailable)
	}

	readCtx, cancel := l.readContext(ctx)
	defer cancel()
	entries, err := lister.List(readCtx, key)
	if err != nil {
		return nil, fmt.Errorf("listing archive root: %w", l.failed(ctx, "listing root", err))
	}
	if err := checkListing(entries); err != nil {
		l.count("error")
		return nil, fmt.Errorf("listing archive root: %w", err)
	}
	l.count("ok")
	l.listings.Set(key, entries)
	return entries, nil
}

// checkListing rejects entries without a name, path or type.
func checkListing(entries []Entry) error {
	for i, e := range entries {
		if e.Name == "" || e.Path == "" || e.Type == "" {
			return fmt.Errorf("%w: entry %d is incomplete: %+v", apperrors.ErrMalformedDocument, i, e)
		}
		if strings.Contains(e.Name, "/") {
			return fmt.Errorf("%w: entry name %q contains a slash", apperrors.ErrMalformedDocument, e.Name)
		}
	}
	return nil
}

func (l *Library) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(ctx, l.timeout)
	}
	return ctx, func() {}
}

// failed counts a failed source call and remembers a rate limit reset. A
// deadline hit by the per-read timeout, not by ctx, becomes ErrTimeout.
func (l *Library) failed(ctx context.Context, op string, err error) error {
	switch {
	case apperrors.IsNotFound(err):
		l.count("not_found")
	case apperrors.IsRateLimited(err):
		l.count("rate_limited")
		if l.metrics != nil {
			l.metrics.ArchiveRateLimited.Inc()
		}
		if reset, ok := ResetTime(err); ok {
			l.rateLimitedUntil.Store(reset.UnixNano())
		}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		l.count("error")
		err = fmt.Errorf("%w: %s: %v", apperrors.ErrTimeout, op, err)
	default:
		l.count("error")
	}
	return err
}

// Today returns the parsed digest, dated with today's date.
func (l *Library) Today(ctx context.Context) (Digest, error) {
	text, err := l.ReadFile(ctx, DigestPath)
	if err != nil {
		return Digest{}, fmt.Errorf("reading digest: %w", err)
	}
	refs, err := l.parser.ParseDigest(text)
	if err != nil {
		return Digest{}, err
	}
	return Digest{
		Date:    l.now().UTC().Format(time.DateOnly),
		Raw:     text,
		Reports: refs,
	}, nil
}

func (l *Library) Navigation(ctx context.Context) ([]report.Section, error) {
	text, err := l.ReadFile(ctx, NavigationPath)
	if err != nil {
		return nil, fmt.Errorf("reading navigation: %w", err)
	}
	return l.parser.ParseNavigation(text)
}

// EmptyCategoryIndex is the document used for a category without an index
// file.
func EmptyCategoryIndex(slug string) string {
	return "# " + report.DisplayFor(slug) + " Reports\n\n## 报告总数：0\n\n暂无报告。\n"
}

// CategoryIndex lists the references of a category's index document. A
// missing index file reads as an empty index.
func (l *Library) CategoryIndex(ctx context.Context, slug string) ([]report.Reference, error) {
	text, err := l.ReadFile(ctx, CategoryIndexPath(slug))
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("reading category index %s: %w", slug, err)
		}
		l.logger.Warn("category index missing", "category", slug)
		text = EmptyCategoryIndex(slug)
	}
	return l.parser.ParseCategoryIndex(text, slug)
}

// CategoryReports lists a category with each reference completed from its
// report. Reports that cannot be read keep the index title, no date and
// version FallbackVersion.
func (l *Library) CategoryReports(ctx context.Context, slug string) ([]report.Reference, error) {
	refs, err := l.CategoryIndex(ctx, slug)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(refs))
	for i, ref := range refs {
		paths[i] = ref.Path
	}
	contents := l.Reports(ctx, paths)

	out := make([]report.Reference, len(refs))
	for i, ref := range refs {
		c := contents[i]
		if c.IsPlaceholder() {
			out[i] = report.Reference{
				Title:    ref.Title,
				Path:     ref.Path,
				Version:  FallbackVersion,
				Category: slug,
			}
			continue
		}
		out[i] = report.Reference{
			Title:     c.Title,
			Date:      c.Metadata.Date,
			Path:      ref.Path,
			Version:   c.Metadata.Version,
			Category:  slug,
			SourceURL: c.Metadata.Source,
		}
	}
	return out, nil
}

// Report reads and parses one report. It never fails: a rate-limited read
// yields the rate-limit placeholder and any other failure the not-found
// placeholder.
func (l *Library) Report(ctx context.Context, path string) report.Content {
	text, err := l.ReadFile(ctx, path)
	if err != nil {
		if apperrors.IsRateLimited(err) {
			l.logger.Warn("report read rate limited", "path", path)
			return report.RateLimited(path)
		}
		if !apperrors.IsNotFound(err) {
			l.logger.Error("report read failed", "path", path, "error", err)
		}
		return report.NotFound(path)
	}
	content, err := l.parser.ParseReport(text, path)
	if err != nil {
		l.logger.Warn("report unparseable", "path", path, "error", err)
		return report.NotFound(path)
	}
	return content
}

// Reports reads paths in batches of the configured width. Batch k+1 starts
// once batch k has finished; the result is in input order. Report turns
// every failure into a placeholder, so one item never cancels its siblings.
func (l *Library) Reports(ctx context.Context, paths []string) []report.Content {
	out := make([]report.Content, len(paths))
	for start := 0; start < len(paths); start += l.batchSize {
		end := min(start+l.batchSize, len(paths))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Go(func() {
				out[i] = l.Report(ctx, paths[i])
			})
		}
		wg.Wait()
	}
	return out
}

// AllReports reads every report listed in the navigation document.
// Placeholders are left out. LastModified is the archive revision time when
// the source knows it.
func (l *Library) AllReports(ctx context.Context) ([]report.Report, error) {
	sections, err := l.Navigation(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var paths []string
	for _, ref := range report.Flatten(sections) {
		if _, dup := seen[ref.Path]; dup {
			continue
		}
		seen[ref.Path] = struct{}{}
		paths = append(paths, ref.Path)
	}

	var modified time.Time
	if rev, err := l.source.Revision(ctx); err == nil {
		modified = rev.Time
	} else {
		l.logger.Warn("archive revision unavailable", "error", err)
	}

	start := time.Now()
	reports := make([]report.Report, 0, len(paths))
	skipped := 0
	for _, c := range l.Reports(ctx, paths) {
		if c.IsPlaceholder() {
			skipped++
			continue
		}
		r := c.Report()
		r.LastModified = modified
		reports = append(reports, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawling archive: %w", err)
	}
	l.logger.Info("archive crawled",
		"listed", len(paths),
		"read", len(reports),
		"skipped", skipped,
		"duration", time.Since(start),
	)
	return reports, nil
}

// Stats counts navigation entries per category. Categories from the fixed
// table come first in table order, then any other navigation section.
func (l *Library) Stats(ctx context.Context) (Stats, error) {
	sections, err := l.Navigation(ctx)
	if err != nil {
		return Stats{}, err
	}
	counts := make(map[string]int)
	var extra []string
	for _, s := range sections {
		if _, ok := counts[s.Slug]; !ok {
			if _, known := report.LookupCategory(s.Slug); !known {
				extra = append(extra, s.Slug)
			}
		}
		counts[s.Slug] += len(s.Reports)
	}

	stats := Stats{Categories: make([]CategoryCount, 0, len(report.Categories)+len(extra))}
	for _, c := range report.Categories {
		stats.Categories = append(stats.Categories, CategoryCount{CategoryInfo: c, Count: counts[c.Slug]})
		stats.Total += counts[c.Slug]
	}
	for _, slug := range extra {
		info := report.CategoryInfo{Category: report.Category{Slug: slug, Display: report.DisplayFor(slug)}}
		stats.Categories = append(stats.Categories, CategoryCount{CategoryInfo: info, Count: counts[slug]})
		stats.Total += counts[slug]
	}
	return stats, nil
}

// Timeline groups the navigation's references by date, newest first.
func (l *Library) Timeline(ctx context.Context, filter report.TimelineFilter) ([]report.DateGroup, error) {
	sections, err := l.Navigation(ctx)
	if err != nil {
		return nil, err
	}
	return report.Timeline(report.Flatten(sections), filter), nil
}

func (l *Library) Revision(ctx context.Context) (Revision, error) {
	return l.source.Revision(ctx)
}

func (l *Library) count(outcome string) {
	if l.metrics != nil {
		l.metrics.ArchiveFetchesTotal.WithLabelValues(outcome).Inc()
	}
}
