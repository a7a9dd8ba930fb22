// Package index holds the in-memory inverted index over parsed reports:
// the report records keyed by path plus four inverted indices (title
// tokens, content tokens, category keys, date keys). Every path that
// appears in an inverted index is also a key of the report map; a report's
// four index entries are written under one lock.
package index

import (
	"sort"
	"sync"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/tokenizer"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
)

type entry struct {
	report report.Report
	seq    int
	keys   map[Field][]string
}

// MemoryIndex is safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	reports map[string]*entry
	fields  map[Field]map[string]postings
	nextSeq int
}

func NewMemoryIndex() *MemoryIndex {
	m := &MemoryIndex{reports: make(map[string]*entry)}
	m.fields = make(map[Field]map[string]postings, len(Fields))
	for _, f := range Fields {
		m.fields[f] = make(map[string]postings)
	}
	return m
}

// Add indexes r. Adding a path that is already present replaces its record
// and its index entries but keeps its original insertion position.
func (m *MemoryIndex) Add(r report.Report) {
	terms := extract(r)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(r, terms)
}

// AddAll indexes reports in order under a single write lock.
func (m *MemoryIndex) AddAll(reports []report.Report) {
	extracted := make([]map[Field]map[string]int, len(reports))
	for i, r := range reports {
		extracted[i] = extract(r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range reports {
		m.addLocked(r, extracted[i])
	}
}

func (m *MemoryIndex) addLocked(r report.Report, terms map[Field]map[string]int) {
	e, exists := m.reports[r.Path]
	if exists {
		m.unlinkLocked(e)
	} else {
		e = &entry{seq: m.nextSeq}
		m.nextSeq++
		m.reports[r.Path] = e
	}
	e.report = r
	e.keys = make(map[Field][]string, len(terms))
	for field, freqs := range terms {
		idx := m.fields[field]
		keys := make([]string, 0, len(freqs))
		for term, n := range freqs {
			p, ok := idx[term]
			if !ok {
				p = make(postings)
				idx[term] = p
			}
			p[r.Path] = n
			keys = append(keys, term)
		}
		e.keys[field] = keys
	}
}

func (m *MemoryIndex) unlinkLocked(e *entry) {
	for field, keys := range e.keys {
		idx := m.fields[field]
		for _, term := range keys {
			p := idx[term]
			delete(p, e.report.Path)
			if len(p) == 0 {
				delete(idx, term)
			}
		}
	}
}

// extract computes the per-field term frequencies of r.
func extract(r report.Report) map[Field]map[string]int {
	out := map[Field]map[string]int{
		FieldTitle:    frequencies(r.Title),
		FieldContent:  frequencies(r.Content),
		FieldCategory: make(map[string]int, 2),
		FieldDate:     make(map[string]int, 1),
	}
	if r.Category.Slug != "" {
		out[FieldCategory][r.Category.Slug]++
	}
	if r.Category.Display != "" {
		out[FieldCategory][r.Category.Display]++
	}
	if r.Date != "" {
		out[FieldDate][r.Date] = 1
	}
	return out
}

func frequencies(text string) map[string]int {
	tokens := tokenizer.Tokenize(text)
	freqs := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freqs[t.Term]++
	}
	return freqs
}

// Lookup returns the postings for key in field, in insertion order.
func (m *MemoryIndex) Lookup(field Field, key string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.fields[field][key]
	if !ok {
		return nil
	}
	result := make(PostingList, 0, len(p))
	for path, n := range p {
		result = append(result, Posting{Path: path, Frequency: n})
	}
	sort.Slice(result, func(i, j int) bool {
		return m.reports[result[i].Path].seq < m.reports[result[j].Path].seq
	})
	return result
}

// Union returns the paths found under any of keys in any of fields,
// deduplicated and in insertion order.
func (m *MemoryIndex) Union(fields []Field, keys []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]int)
	for _, f := range fields {
		idx := m.fields[f]
		for _, k := range keys {
			for path := range idx[k] {
				seen[path] = m.reports[path].seq
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return seen[paths[i]] < seen[paths[j]] })
	return paths
}

// Get returns the record stored under path.
func (m *MemoryIndex) Get(path string) (report.Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.reports[path]
	if !ok {
		return report.Report{}, false
	}
	return e.report, true
}

// GetAll returns the records for paths, skipping unknown ones, in the order
// given.
func (m *MemoryIndex) GetAll(paths []string) []report.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]report.Report, 0, len(paths))
	for _, p := range paths {
		if e, ok := m.reports[p]; ok {
			out = append(out, e.report)
		}
	}
	return out
}

// Reports returns every record in insertion order.
func (m *MemoryIndex) Reports() []report.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*entry, 0, len(m.reports))
	for _, e := range m.reports {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]report.Report, len(entries))
	for i, e := range entries {
		out[i] = e.report
	}
	return out
}

// Terms returns every key of field with the size of its posting set, sorted
// by term.
func (m *MemoryIndex) Terms(field Field) []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.fields[field]
	entries := make([]TermEntry, 0, len(idx))
	for term, p := range idx {
		entries = append(entries, TermEntry{Term: term, Reports: len(p)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	return entries
}

// Len returns the number of indexed reports.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reports)
}

func (m *MemoryIndex) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Reports: len(m.reports), Terms: make(map[Field]int, len(Fields))}
	for _, f := range Fields {
		s.Terms[f] = len(m.fields[f])
	}
	return s
}

// Reset removes everything from the index.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = make(map[string]*entry)
	for _, f := range Fields {
		m.fields[f] = make(map[string]postings)
	}
	m.nextSeq = 0
}
