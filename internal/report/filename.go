package report

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var filenamePattern = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2})--(.+)\.md$`)

// FileInfo holds the parts of a report filename.
type FileInfo struct {
	Stem    string
	Date    string
	Version string
}

// ParseFilename splits `<stem>-<YYYY-MM-DD>--<version>.md`.
func ParseFilename(name string) (FileInfo, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileInfo{}, false
	}
	return FileInfo{Stem: m[1], Date: m[2], Version: m[3]}, true
}

// BuildFilename is the inverse of ParseFilename.
func BuildFilename(stem, date, version string) string {
	return stem + "-" + date + "--" + version + ".md"
}

// TitleFromFilename derives a fallback title: the stem when the name follows
// the convention, otherwise the name without its .md suffix.
func TitleFromFilename(name string) string {
	if info, ok := ParseFilename(name); ok {
		return info.Stem
	}
	return strings.TrimSuffix(name, ".md")
}

// ReadingSpeed is the characters-per-minute rate used to estimate read time.
// It is tuned for CJK text, where one character carries roughly one word.
const ReadingSpeed = 200

// EstimateReadTime returns ceil(characters / ReadingSpeed) in minutes.
func EstimateReadTime(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + ReadingSpeed - 1) / ReadingSpeed
}

// RecentWithin reports whether date lies less than window before now. Future
// dates count as recent; an unparseable date never does.
func RecentWithin(date string, now time.Time, window time.Duration) bool {
	t, ok := ParseDate(date)
	if !ok {
		return false
	}
	return now.Sub(t) < window
}
