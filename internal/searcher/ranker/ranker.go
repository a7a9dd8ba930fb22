// Package ranker scores candidate reports against query terms and orders
// the scored results.
package ranker

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/highlight"
)

// Score weights.
const (
	TitleMatchWeight   = 10
	ContentMatchWeight = 2
	TitleTermBonus     = 5
	ContentTermBonus   = 1
	RecentBonus        = 2
)

// RecentWindow is how young a report must be to earn RecentBonus.
const RecentWindow = 7 * 24 * time.Hour

// ContentMatchesPerTerm caps the content matches a single term contributes.
const ContentMatchesPerTerm = 3

// SortBy selects the result order.
type SortBy string

const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
	SortTitle     SortBy = "title"
)

// ParseSortBy accepts the three orders; "" means relevance.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(s) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortDate, SortTitle:
		return SortBy(s), nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

type ScoredReport struct {
	Report  report.Report     `json:"report"`
	Score   int               `json:"score"`
	Matches []highlight.Match `json:"matches"`
}

// FindMatches collects title matches and the first ContentMatchesPerTerm
// content matches for each term, titles first.
func FindMatches(r report.Report, terms []string) []highlight.Match {
	matches := make([]highlight.Match, 0)
	for _, t := range terms {
		matches = append(matches, highlight.FindMatches(r.Title, t, highlight.MatchTitle)...)
	}
	for _, t := range terms {
		cm := highlight.FindMatches(r.Content, t, highlight.MatchContent)
		if len(cm) > ContentMatchesPerTerm {
			cm = cm[:ContentMatchesPerTerm]
		}
		matches = append(matches, cm...)
	}
	return matches
}

// Score computes the relevance of r for terms given its matches, relative
// to now.
func Score(r report.Report, terms []string, matches []highlight.Match, now time.Time) int {
	score := 0
	for _, m := range matches {
		switch m.Type {
		case highlight.MatchTitle:
			score += TitleMatchWeight
		case highlight.MatchContent:
			score += ContentMatchWeight
		}
	}
	for _, t := range terms {
		if highlight.Contains(r.Title, t) {
			score += TitleTermBonus
		}
		if highlight.Contains(r.Content, t) {
			score += ContentTermBonus
		}
	}
	if report.RecentWithin(r.Date, now, RecentWindow) {
		score += RecentBonus
	}
	return score
}

// Sort orders results in place. All orders are stable, so equal elements
// keep their candidate order. Date order puts undated reports last; title
// order uses Chinese collation.
func Sort(results []ScoredReport, by SortBy) {
	switch by {
	case SortDate:
		sort.SliceStable(results, func(i, j int) bool {
			a, b := results[i].Report.Date, results[j].Report.Date
			if a == "" || b == "" {
				return b == "" && a != ""
			}
			return a > b
		})
	case SortTitle:
		c := collate.New(language.Chinese)
		sort.SliceStable(results, func(i, j int) bool {
			return c.CompareString(results[i].Report.Title, results[j].Report.Title) < 0
		})
	default:
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}
}
