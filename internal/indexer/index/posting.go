package index

// Field names one of the four inverted indices.
type Field string

const (
	FieldTitle    Field = "title"
	FieldContent  Field = "content"
	FieldCategory Field = "category"
	FieldDate     Field = "date"
)

// Fields lists every inverted index in a fixed order.
var Fields = []Field{FieldTitle, FieldContent, FieldCategory, FieldDate}

// Posting is one report's entry under a term.
type Posting struct {
	Path      string
	Frequency int
}

// PostingList is ordered by report insertion order.
type PostingList []Posting

// TermEntry is a term together with the number of reports containing it.
type TermEntry struct {
	Term    string
	Reports int
}

// postings maps a report path to the term frequency in one field.
type postings map[string]int

// Stats summarises the index for health and metrics output.
type Stats struct {
	Reports int           `json:"reports"`
	Terms   map[Field]int `json:"terms"`
}
