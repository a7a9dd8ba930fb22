// Package parser turns the archive's semi-structured Markdown documents into
// report records: the daily digest list (README), the navigation document,
// per-category index files and individual report bodies.
//
// List documents are read line by line through LineMatchers. A line that does
// not match is skipped with a recorded reason and never fails the document;
// only input that is not text at all is rejected with
// errors.ErrMalformedDocument.
package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

// Document names a kind of archive document, used in logs, metrics and traces.
type Document string

const (
	DocDigest        Document = "digest"
	DocNavigation    Document = "navigation"
	DocCategoryIndex Document = "category_index"
	DocReport        Document = "report"
)

// DuplicatePolicy decides what happens when a list document names the same
// path more than once.
type DuplicatePolicy int

const (
	// KeepAll keeps every occurrence in input order.
	KeepAll DuplicatePolicy = iota
	// FirstWins keeps the first occurrence and drops later ones.
	FirstWins
	// LastWins keeps the position of the first occurrence but the content of
	// the last one.
	LastWins
)

// ParseDuplicatePolicy accepts "keep-all", "first-wins" and "last-wins".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "keep-all":
		return KeepAll, nil
	case "first-wins":
		return FirstWins, nil
	case "last-wins":
		return LastWins, nil
	default:
		return KeepAll, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// SkipFunc observes skipped lines. Line numbers start at 1.
type SkipFunc func(doc Document, line int, reason SkipReason)

// Option configures a Parser.
type Option func(*Parser)

// WithDuplicatePolicy sets how repeated paths are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(ps *Parser) { ps.duplicates = p }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(ps *Parser) { ps.logger = l }
}

// WithSkipHook registers fn to be called for every skipped line that looked
// like a link.
func WithSkipHook(fn SkipFunc) Option {
	return func(ps *Parser) { ps.onSkip = fn }
}

// Parser is stateless apart from its configuration and safe for concurrent use.
type Parser struct {
	duplicates DuplicatePolicy
	logger     *slog.Logger
	onSkip     SkipFunc
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		duplicates: KeepAll,
		logger:     slog.Default().With("component", "parser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TraceLine records how one input line was handled.
type TraceLine struct {
	Number  int       `json:"line"`
	Text    string    `json:"text"`
	Heading string    `json:"heading,omitempty"`
	Match   LineMatch `json:"match"`
}

// ParseDigest extracts report references from the daily digest. The source
// URL of each entry is the first bare URL found on a line containing the
// entry's title or on the four lines after it.
func (p *Parser) ParseDigest(text string) ([]report.Reference, error) {
	if err := checkText(DocDigest, text); err != nil {
		return nil, err
	}
	lines := splitLines(text)
	refs := make([]report.Reference, 0)
	for i, line := range lines {
		m := DigestLine(line)
		if m.Outcome == Skipped {
			p.skip(DocDigest, i+1, m.Reason)
			continue
		}
		m.Ref.SourceURL = sourceNearTitle(lines, m.Ref.Title)
		refs = append(refs, m.Ref)
	}
	return p.dedupe(DocDigest, refs), nil
}

// ParseNavigation splits the navigation document into sections at each
// level-two heading. Link lines before the first heading are skipped.
func (p *Parser) ParseNavigation(text string) ([]report.Section, error) {
	if err := checkText(DocNavigation, text); err != nil {
		return nil, err
	}
	sections := make([]report.Section, 0)
	for i, line := range splitLines(text) {
		if name, ok := Heading(line); ok {
			sections = append(sections, report.Section{
				Name:    name,
				Slug:    report.SlugFor(name),
				Reports: make([]report.Reference, 0),
			})
			continue
		}
		m := NavigationLine(line)
		if m.Outcome == Skipped {
			p.skip(DocNavigation, i+1, m.Reason)
			continue
		}
		if len(sections) == 0 {
			p.skip(DocNavigation, i+1, ReasonOutsideSection)
			continue
		}
		cur := &sections[len(sections)-1]
		cur.Reports = append(cur.Reports, m.Ref)
	}
	for i := range sections {
		sections[i].Reports = p.dedupe(DocNavigation, sections[i].Reports)
	}
	return sections, nil
}

// ParseCategoryIndex extracts `- [title](path)` items from a category's
// Reports.md, resolving each path against slug.
func (p *Parser) ParseCategoryIndex(text, slug string) ([]report.Reference, error) {
	if err := checkText(DocCategoryIndex, text); err != nil {
		return nil, err
	}
	match := CategoryIndexLine(slug)
	refs := make([]report.Reference, 0)
	for i, line := range splitLines(text) {
		m := match(line)
		if m.Outcome == Skipped {
			p.skip(DocCategoryIndex, i+1, m.Reason)
			continue
		}
		refs = append(refs, m.Ref)
	}
	return p.dedupe(DocCategoryIndex, refs), nil
}

// Trace reports the outcome of every line of a list document without
// applying the duplicate policy. slug is only used for category indexes.
func (p *Parser) Trace(doc Document, text, slug string) ([]TraceLine, error) {
	if err := checkText(doc, text); err != nil {
		return nil, err
	}
	var matcher LineMatcher
	switch doc {
	case DocDigest:
		matcher = DigestLine
	case DocNavigation:
		matcher = NavigationLine
	case DocCategoryIndex:
		matcher = CategoryIndexLine(slug)
	default:
		return nil, fmt.Errorf("trace: %w: unsupported document %q", apperrors.ErrInvalidInput, doc)
	}

	lines := splitLines(text)
	trace := make([]TraceLine, 0, len(lines))
	inSection := false
	for i, line := range lines {
		tl := TraceLine{Number: i + 1, Text: line}
		if doc == DocNavigation {
			if name, ok := Heading(line); ok {
				inSection = true
				tl.Heading = name
				tl.Match = skipped(ReasonNone)
				trace = append(trace, tl)
				continue
			}
		}
		tl.Match = matcher(line)
		if doc == DocNavigation && !inSection && tl.Match.Outcome == Matched {
			tl.Match = skipped(ReasonOutsideSection)
		}
		trace = append(trace, tl)
	}
	return trace, nil
}

func (p *Parser) skip(doc Document, line int, reason SkipReason) {
	if reason == ReasonNoLink {
		return
	}
	p.logger.Debug("line skipped", "document", doc, "line", line, "reason", reason)
	if p.onSkip != nil {
		p.onSkip(doc, line, reason)
	}
}

func (p *Parser) dedupe(doc Document, refs []report.Reference) []report.Reference {
	if p.duplicates == KeepAll || len(refs) < 2 {
		return refs
	}
	seen := make(map[string]int, len(refs))
	out := make([]report.Reference, 0, len(refs))
	for _, ref := range refs {
		idx, dup := seen[ref.Path]
		if !dup {
			seen[ref.Path] = len(out)
			out = append(out, ref)
			continue
		}
		p.logger.Debug("duplicate path", "document", doc, "path", ref.Path)
		if p.onSkip != nil {
			p.onSkip(doc, 0, ReasonDuplicate)
		}
		if p.duplicates == LastWins {
			out[idx] = ref
		}
	}
	return out
}

func checkText(doc Document, text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%s: %w: input is not valid UTF-8", doc, apperrors.ErrMalformedDocument)
	}
	if strings.IndexByte(text, 0) >= 0 {
		return fmt.Errorf("%s: %w: input contains NUL bytes", doc, apperrors.ErrMalformedDocument)
	}
	return nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
