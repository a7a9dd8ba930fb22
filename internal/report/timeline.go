package report

import (
	"sort"
	"strings"
)

// DateGroup collects the references published on one date.
type DateGroup struct {
	Date    string      `json:"date"`
	Reports []Reference `json:"reports"`
}

// TimelineFilter narrows a timeline. Zero values match everything.
type TimelineFilter struct {
	Category string
	Year     string
}

// Timeline groups refs by date, newest first, keeping input order inside a
// group. Undated references form a final group with an empty date.
func Timeline(refs []Reference, filter TimelineFilter) []DateGroup {
	byDate := make(map[string][]Reference)
	for _, ref := range refs {
		if filter.Category != "" && ref.Category != filter.Category {
			continue
		}
		if filter.Year != "" && !strings.HasPrefix(ref.Date, filter.Year+"-") {
			continue
		}
		byDate[ref.Date] = append(byDate[ref.Date], ref)
	}

	groups := make([]DateGroup, 0, len(byDate))
	for date, reports := range byDate {
		groups = append(groups, DateGroup{Date: date, Reports: reports})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Date, groups[j].Date
		if a == "" || b == "" {
			return b == "" && a != ""
		}
		return a > b
	})
	return groups
}

// Flatten returns every reference across sections, tagging each with its
// section slug.
func Flatten(sections []Section) []Reference {
	var out []Reference
	for _, s := range sections {
		for _, ref := range s.Reports {
			if ref.Category == "" {
				ref.Category = s.Slug
			}
			out = append(out, ref)
		}
	}
	return out
}
