package handler

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/ranker"
)

// DefaultMaxQueryLength caps the q parameter, in runes.
const DefaultMaxQueryLength = 256

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// SearchRequest is a validated search query string.
type SearchRequest struct {
	Query   string
	Options executor.Options
}

// ParseSearchRequest validates the search parameters: q, category, from,
// to, version, sort and limit. category and version may repeat or hold
// comma separated lists; empty values are ignored. A limit above maxResults
// is clamped to it.
func ParseSearchRequest(q url.Values, maxQueryLength, maxResults int) (SearchRequest, error) {
	errs := make(map[string]string)
	req := SearchRequest{Query: q.Get("q")}

	if maxQueryLength <= 0 {
		maxQueryLength = DefaultMaxQueryLength
	}
	if n := utf8.RuneCountInString(req.Query); n > maxQueryLength {
		errs["q"] = fmt.Sprintf("query must be at most %d characters", maxQueryLength)
	}

	req.Options.Categories = listParam(q["category"])
	req.Options.Versions = listParam(q["version"])

	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from != "" {
		if _, ok := report.ParseDate(from); !ok {
			errs["from"] = "from must be a date in YYYY-MM-DD form"
		}
	}
	if to != "" {
		if _, ok := report.ParseDate(to); !ok {
			errs["to"] = "to must be a date in YYYY-MM-DD form"
		}
	}
	if errs["from"] == "" && errs["to"] == "" && from != "" && to != "" && from > to {
		errs["from"] = "from must not be after to"
	}
	if from != "" || to != "" {
		req.Options.DateRange = &executor.DateRange{Start: from, End: to}
	}

	sortBy, err := ranker.ParseSortBy(q.Get("sort"))
	if err != nil {
		errs["sort"] = "sort must be one of relevance, date, title"
	}
	req.Options.SortBy = sortBy

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			errs["limit"] = "limit must be an integer"
		case limit < 0:
			errs["limit"] = "limit must not be negative"
		case maxResults > 0 && limit > maxResults:
			req.Options.Limit = maxResults
		default:
			req.Options.Limit = limit
		}
	}

	if len(errs) > 0 {
		return SearchRequest{}, &ValidationError{Fields: errs}
	}
	return req, nil
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
