package analytics

import "time"

type EventType string

const (
	EventSearch         EventType = "search"
	EventReportsIndexed EventType = "reports_indexed"
)

// Filters mirrors the search options that narrowed a query.
type Filters struct {
	Categories []string `json:"categories,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Versions   []string `json:"versions,omitempty"`
	SortBy     string   `json:"sort_by,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Filters   Filters   `json:"filters"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexEvent announces that the indexer wrote reports to the store. Paths is
// empty after a full crawl; Reports counts what was written either way.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Revision  string    `json:"revision"`
	Paths     []string  `json:"paths"`
	Reports   int       `json:"reports"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSearchEvent stamps the event type and time.
func NewSearchEvent(query string, terms []string) SearchEvent {
	return SearchEvent{
		Type:      EventSearch,
		Query:     query,
		Terms:     terms,
		Timestamp: time.Now().UTC(),
	}
}

func NewIndexEvent(revision string, paths []string) IndexEvent {
	return IndexEvent{
		Type:      EventReportsIndexed,
		Revision:  revision,
		Paths:     paths,
		Reports:   len(paths),
		Timestamp: time.Now().UTC(),
	}
}
