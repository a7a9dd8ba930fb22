package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
)

// Outcome tags the result of matching one line.
type Outcome int

const (
	Skipped Outcome = iota
	Matched
)

func (o Outcome) String() string {
	if o == Matched {
		return "matched"
	}
	return "skipped"
}

// MarshalText renders the outcome by name in traces.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "matched":
		*o = Matched
	case "skipped":
		*o = Skipped
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// SkipReason explains why a line produced no reference.
type SkipReason string

const (
	ReasonNone           SkipReason = ""
	ReasonNoLink         SkipReason = "no_link"
	ReasonBadPath        SkipReason = "bad_path"
	ReasonBadFilename    SkipReason = "bad_filename"
	ReasonOutsideSection SkipReason = "outside_section"
	ReasonDuplicate      SkipReason = "duplicate"
)

// LineMatch is the tagged result of a line matcher: either Matched with a
// reference or Skipped with a reason.
type LineMatch struct {
	Outcome Outcome          `json:"outcome"`
	Ref     report.Reference `json:"ref,omitempty"`
	Reason  SkipReason       `json:"reason,omitempty"`
}

func matched(ref report.Reference) LineMatch {
	return LineMatch{Outcome: Matched, Ref: ref}
}

func skipped(reason SkipReason) LineMatch {
	return LineMatch{Outcome: Skipped, Reason: reason}
}

// LineMatcher turns a single line into a LineMatch.
type LineMatcher func(line string) LineMatch

var (
	linkPattern     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	listLinkPattern = regexp.MustCompile(`-\s*\[([^\]]+)\]\(([^)]+)\)`)
	headingPattern  = regexp.MustCompile(`^##\s+(.+)`)
)

// DigestLine matches `[title](AI_Reports/<category>/<name>-<date>--<version>.md)`.
func DigestLine(line string) LineMatch {
	m := linkPattern.FindStringSubmatch(line)
	if m == nil {
		return skipped(ReasonNoLink)
	}
	title, path := m[1], m[2]
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != report.ReportsRoot {
		return skipped(ReasonBadPath)
	}
	info, ok := report.ParseFilename(parts[2])
	if !ok {
		return skipped(ReasonBadFilename)
	}
	return matched(report.Reference{
		Title:    title,
		Date:     info.Date,
		Path:     path,
		Version:  info.Version,
		Category: parts[1],
	})
}

// NavigationLine matches a link whose path has at least three segments and
// whose last segment follows the filename convention.
func NavigationLine(line string) LineMatch {
	m := linkPattern.FindStringSubmatch(line)
	if m == nil {
		return skipped(ReasonNoLink)
	}
	title, path := m[1], m[2]
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return skipped(ReasonBadPath)
	}
	info, ok := report.ParseFilename(parts[len(parts)-1])
	if !ok {
		return skipped(ReasonBadFilename)
	}
	return matched(report.Reference{
		Title:    title,
		Date:     info.Date,
		Path:     path,
		Version:  info.Version,
		Category: parts[len(parts)-2],
	})
}

// CategoryIndexLine returns a matcher for `- [title](path)` items of the
// given category's index. Paths are normalized with NormalizeIndexPath; the
// filename convention is optional here.
func CategoryIndexLine(slug string) LineMatcher {
	return func(line string) LineMatch {
		m := listLinkPattern.FindStringSubmatch(line)
		if m == nil {
			return skipped(ReasonNoLink)
		}
		path, ok := NormalizeIndexPath(m[2], slug)
		if !ok {
			return skipped(ReasonBadPath)
		}
		ref := report.Reference{
			Title:    m[1],
			Path:     path,
			Category: slug,
		}
		if info, ok := report.ParseFilename(report.Filename(path)); ok {
			ref.Date = info.Date
			ref.Version = info.Version
		}
		return matched(ref)
	}
}

// Heading returns the section name of a level-two heading.
func Heading(line string) (string, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// NormalizeIndexPath resolves a category index link to a full archive path.
// A leading "./" and any leading slashes are stripped. Paths already under
// AI_Reports/ are kept, "<slug>/..." gets the root prefixed, and anything
// else is treated as a file inside the category directory.
func NormalizeIndexPath(raw, slug string) (string, bool) {
	p := strings.TrimPrefix(strings.TrimSpace(raw), "./")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(p, report.ReportsRoot+"/"):
		return p, true
	case strings.HasPrefix(p, slug+"/"):
		return report.ReportsRoot + "/" + p, true
	default:
		return report.ReportsRoot + "/" + slug + "/" + p, true
	}
}
