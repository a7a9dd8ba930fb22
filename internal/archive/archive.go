// Package archive reads the report archive: the daily digest, the navigation
// document, per-category indices and the reports themselves. A Source does
// the raw reads (GitHub API or a local checkout); Library caches them, parses
// them and turns failures into placeholders.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

// Well-known archive paths.
const (
	DigestPath        = "README.md"
	NavigationPath    = "NAVIGATION.md"
	CategoryIndexName = "Reports.md"
)

// Revision identifies a state of the archive.
type Revision struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

// IsZero reports whether the revision is unknown.
func (r Revision) IsZero() bool {
	return r.ID == "" && r.Time.IsZero()
}

// Source reads files from the archive. ReadFile returns an error wrapping
// errors.ErrReportNotFound for a missing file and errors.ErrRateLimited when
// the upstream refuses reads.
type Source interface {
	ReadFile(ctx context.Context, path string) (string, error)
	Revision(ctx context.Context) (Revision, error)
}

// Entry types in a directory listing.
const (
	EntryFile = "file"
	EntryDir  = "dir"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	SHA         string `json:"sha,omitempty"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Lister is implemented by sources that can list a directory; dir "" is the
// archive root. A listing that cannot be interpreted returns an error
// wrapping errors.ErrMalformedDocument.
type Lister interface {
	List(ctx context.Context, dir string) ([]Entry, error)
}

// RateLimitError is returned when the upstream quota is exhausted. It
// matches errors.ErrRateLimited.
type RateLimitError struct {
	ResetAt time.Time
	Err     error
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("archive rate limited: %v", e.Err)
	}
	return fmt.Sprintf("archive rate limited until %s: %v", e.ResetAt.Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	return []error{apperrors.ErrRateLimited, e.Err}
}

// ResetTime extracts the quota reset time from err, if it carries one.
func ResetTime(err error) (time.Time, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && !rl.ResetAt.IsZero() {
		return rl.ResetAt, true
	}
	return time.Time{}, false
}

// CategoryIndexPath returns the path of a category's index document.
func CategoryIndexPath(slug string) string {
	return report.ReportsRoot + "/" + slug + "/" + CategoryIndexName
}
