// Package report defines the records produced by the content parser and
// consumed by the search index, the archive library and the HTTP API, along
// with the archive's fixed category table and filename convention.
package report

import (
	"strings"
	"time"
)

// ReportsRoot is the top-level archive directory that holds every report.
const ReportsRoot = "AI_Reports"

// Category pairs a stable slug with its display name.
type Category struct {
	Slug    string `json:"slug"`
	Display string `json:"display"`
}

// Report is a fully parsed research report. Path is the primary key.
type Report struct {
	Path         string    `json:"path"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     Category  `json:"category"`
	Date         string    `json:"date"`
	Version      string    `json:"version"`
	SourceURL    string    `json:"source_url"`
	ReadTime     int       `json:"read_time"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// ParsedDate returns Date as a UTC midnight time. ok is false when the date
// is empty or not in YYYY-MM-DD form.
func (r *Report) ParsedDate() (time.Time, bool) {
	return ParseDate(r.Date)
}

// Reference is a lightweight listing entry from a digest, navigation or
// category index document.
type Reference struct {
	Title     string `json:"title"`
	Date      string `json:"date"`
	Path      string `json:"path"`
	Version   string `json:"version"`
	Category  string `json:"category,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// Section is a named group of references from the navigation document.
type Section struct {
	Name    string      `json:"name"`
	Slug    string      `json:"slug"`
	Reports []Reference `json:"reports"`
}

// Metadata is derived from the report path, front-matter and body.
type Metadata struct {
	Date            string `json:"date"`
	Version         string `json:"version"`
	CategorySlug    string `json:"category_slug"`
	CategoryDisplay string `json:"category_display"`
	Source          string `json:"source"`
	ReadTime        int    `json:"read_time"`
}

// PlaceholderKind marks content that stands in for a report that could not
// be read.
type PlaceholderKind string

const (
	PlaceholderNone        PlaceholderKind = ""
	PlaceholderNotFound    PlaceholderKind = "not_found"
	PlaceholderRateLimited PlaceholderKind = "rate_limited"
)

// Content is a parsed report body.
type Content struct {
	Path        string          `json:"path"`
	Raw         string          `json:"raw"`
	Title       string          `json:"title"`
	Body        string          `json:"content"`
	Metadata    Metadata        `json:"metadata"`
	Placeholder PlaceholderKind `json:"placeholder,omitempty"`
}

// IsPlaceholder reports whether c stands in for an unreadable report.
func (c *Content) IsPlaceholder() bool {
	return c.Placeholder != PlaceholderNone
}

// Report converts parsed content into an indexable record.
func (c *Content) Report() Report {
	return Report{
		Path:    c.Path,
		Title:   c.Title,
		Content: c.Body,
		Category: Category{
			Slug:    c.Metadata.CategorySlug,
			Display: c.Metadata.CategoryDisplay,
		},
		Date:      c.Metadata.Date,
		Version:   c.Metadata.Version,
		SourceURL: c.Metadata.Source,
		ReadTime:  c.Metadata.ReadTime,
	}
}

const (
	notFoundTitle    = "报告未找到"
	notFoundBody     = "# 报告未找到\n\n抱歉，您请求的报告不存在或暂时无法访问。"
	rateLimitedTitle = "API速率限制"
	rateLimitedBody  = "# API速率限制\n\n报告仓库的访问次数已达上限，请稍后再试。"
)

// NotFound returns the placeholder shown for a missing or unreadable report.
func NotFound(path string) Content {
	return placeholder(path, PlaceholderNotFound, notFoundTitle, notFoundBody)
}

// RateLimited returns the placeholder shown while the archive rejects reads.
func RateLimited(path string) Content {
	return placeholder(path, PlaceholderRateLimited, rateLimitedTitle, rateLimitedBody)
}

func placeholder(path string, kind PlaceholderKind, title, body string) Content {
	slug := CategoryFromPath(path)
	return Content{
		Path:  path,
		Title: title,
		Body:  body,
		Metadata: Metadata{
			CategorySlug:    slug,
			CategoryDisplay: DisplayFor(slug),
		},
		Placeholder: kind,
	}
}

// CategoryFromPath returns the parent directory name of a report path.
func CategoryFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// IsReportPath reports whether path names a report file:
// AI_Reports/<category>/<stem>-YYYY-MM-DD--vN.md.
func IsReportPath(path string) bool {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != ReportsRoot || parts[1] == "" {
		return false
	}
	_, ok := ParseFilename(parts[2])
	return ok
}

// Filename returns the last segment of a report path.
func Filename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParseDate parses a YYYY-MM-DD string as UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
