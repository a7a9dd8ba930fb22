package parser

import (
	"regexp"
	"strings"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
)

var (
	headingTitlePattern = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+(.+?)[ \t]*$`)
	subjectTitlePattern = regexp.MustCompile(`(?m)^[ \t]*(?:主题|Title)[ \t]*[:：][ \t]*(.+)$`)
	metadataLinePattern = regexp.MustCompile(`^(版次|日期|来源)\s*[:：]`)
	leadingBulletChars  = regexp.MustCompile(`^[-*\s]+`)

	sourceLinePattern = regexp.MustCompile(`(?m)^[ \t]*(?:来源|Source)[ \t]*[:：][ \t]*(?:\[[^\]]*\]\((https?://[^)\s]+)\)|(https?://[^\s)]+))`)
	bodyURLPattern    = regexp.MustCompile(`https?://[^\s)\]]+`)
	digestURLPattern  = regexp.MustCompile(`https?://[^\s)]+`)
)

// ParseReport parses one report file. The title comes from the first
// Markdown heading, then a `主题:`/`Title:` line, then the first non-empty
// line that is not a 版次/日期/来源 metadata line, then the filename. Date,
// version and category come from the path; source and read time from the
// front-matter when present, otherwise from the body.
//
// A front-matter block that cannot be decoded is ignored and the whole text
// is treated as the body.
func (p *Parser) ParseReport(raw, path string) (report.Content, error) {
	if err := checkText(DocReport, raw); err != nil {
		return report.Content{}, err
	}
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	meta, body, found, err := splitFrontMatter(text)
	if err != nil {
		p.logger.Warn("ignoring unreadable front-matter", "path", path, "error", err)
		meta, body = nil, text
	} else if found && strings.TrimSpace(body) == "" {
		body = text
	}

	filename := report.Filename(path)
	slug := report.CategoryFromPath(path)
	md := report.Metadata{
		CategorySlug:    slug,
		CategoryDisplay: report.DisplayFor(slug),
		Source:          metaString(meta, "source"),
	}
	if info, ok := report.ParseFilename(filename); ok {
		md.Date = info.Date
		md.Version = info.Version
	}
	if md.Source == "" {
		md.Source = SourceFromBody(body)
	}
	if n, ok := metaInt(meta, "readTime"); ok {
		md.ReadTime = n
	} else {
		md.ReadTime = report.EstimateReadTime(body)
	}

	title := TitleFromBody(body)
	if title == "" {
		title = report.TitleFromFilename(filename)
	}

	return report.Content{
		Path:     path,
		Raw:      raw,
		Title:    title,
		Body:     body,
		Metadata: md,
	}, nil
}

// TitleFromBody applies the body title rules and returns "" when none apply.
func TitleFromBody(body string) string {
	if m := headingTitlePattern.FindStringSubmatch(body); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	if m := subjectTitlePattern.FindStringSubmatch(body); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || metadataLinePattern.MatchString(t) {
			continue
		}
		return strings.TrimSpace(leadingBulletChars.ReplaceAllString(t, ""))
	}
	return ""
}

// SourceFromBody returns the link on a `来源:`/`Source:` line, or else the
// first bare URL anywhere in body.
func SourceFromBody(body string) string {
	if m := sourceLinePattern.FindStringSubmatch(body); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return bodyURLPattern.FindString(body)
}

// sourceNearTitle scans every line containing title plus the four lines
// after it for a URL, returning the first one found.
func sourceNearTitle(lines []string, title string) string {
	for i, line := range lines {
		if !strings.Contains(line, title) {
			continue
		}
		for j := i; j < len(lines) && j < i+5; j++ {
			if url := digestURLPattern.FindString(lines[j]); url != "" {
				return url
			}
		}
	}
	return ""
}
