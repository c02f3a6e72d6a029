// Package listing defines the records and fetch outcomes shared by the scraper,
// the stores, and the exporter.
package listing

import "time"

// FetchTarget describes a single page request.
type FetchTarget struct {
	URL string
}

// OutcomeKind tags the result of a fetch.
type OutcomeKind int

// Fetch outcome values.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeBlocked
	OutcomeExhausted
)

// String returns the lowercase name used in logs and metric labels.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the result of one logical fetch. Body is only set for
// OutcomeSuccess and Err only for OutcomeExhausted.
type Outcome struct {
	Kind     OutcomeKind
	Body     []byte
	Err      error
	Attempts int
}

// Success builds a successful outcome.
func Success(body []byte, attempts int) Outcome {
	return Outcome{Kind: OutcomeSuccess, Body: body, Attempts: attempts}
}

// Blocked builds a terminal block outcome.
func Blocked(attempts int) Outcome {
	return Outcome{Kind: OutcomeBlocked, Attempts: attempts}
}

// Exhausted builds an outcome for a fetch that ran out of attempts.
func Exhausted(lastErr error, attempts int) Outcome {
	return Outcome{Kind: OutcomeExhausted, Err: lastErr, Attempts: attempts}
}

// Record is a single property listing. Link is the natural key; the other
// fields are nil when the page did not carry them.
type Record struct {
	Price       *string `json:"price"`
	Address     *string `json:"address"`
	Description *string `json:"description"`
	Bedrooms    *string `json:"bedrooms"`
	Link        string  `json:"link"`
}

// HasLink reports whether the record can be deduplicated.
func (r Record) HasLink() bool {
	return r.Link != ""
}

// StoredRecord is a Record persisted by a store.
type StoredRecord struct {
	Record
	ID        int64     `json:"id"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Text returns a pointer to s, or nil when s is empty.
func Text(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences an optional field, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
