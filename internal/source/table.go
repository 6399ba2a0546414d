package source

import "time"

// Record is one raw row from a source, reduced to the declared columns.
// Identity holds the raw identity cell: a company id for direct sources,
// the chain's starting key for indirect ones. Immutable once loaded.
type Record struct {
	Key        string
	Identity   string
	OccurredAt time.Time
	Payload    map[string]string
}

// Table is one fully materialized source: the declaration, the surviving
// records, and the load counters that feed run diagnostics.
type Table struct {
	Spec      *Spec
	Records   []Record
	RowsRead  int64
	Malformed int64
}

// Name returns the declared source name.
func (t *Table) Name() string {
	return t.Spec.Name
}

// Value returns a record's cell for a declared column, whichever of the
// key, identity, or payload columns it landed in.
func (t *Table) Value(rec Record, col string) string {
	n := NormCol(col)
	if n == NormCol(t.Spec.Key) {
		return rec.Key
	}
	if id := t.Spec.IdentityColumn(); id != "" && n == NormCol(id) {
		return rec.Identity
	}
	return rec.Payload[n]
}

// Set holds every materialized table for one run, keyed by source name.
type Set map[string]*Table

// Get returns a table by source name, nil when the extract was missing.
func (s Set) Get(name string) *Table {
	return s[name]
}
