package source

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Hop is one link in an indirect source's identity chain. From and To name
// columns in the hop's own mapping source: a dependent key equal to From's
// value maps to To's value, which feeds the next hop (or is the company id
// at the end of the chain).
type Hop struct {
	Source string `yaml:"source"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

// Category declares one categorical column and the values worth counting.
// Cell values are normalized (case, float-formatted integers) before
// matching; unrecognized values still count toward the row total. Labels
// rename raw values to bucket names (node-type ids to node names); Contains
// switches Values to substring matching (product lines embedded in plan
// names).
type Category struct {
	Column   string            `yaml:"column"`
	Values   []string          `yaml:"values,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
	Contains bool              `yaml:"contains,omitempty"`
}

// Buckets lists the count buckets this category can produce, in a stable
// order: declared values first, then labels sorted by name. Bucket order
// fixes output column order, so it must not depend on map iteration.
func (c Category) Buckets() []string {
	out := make([]string, 0, len(c.Values)+len(c.Labels))
	out = append(out, c.Values...)
	labels := make([]string, 0, len(c.Labels))
	for _, label := range c.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return append(out, labels...)
}

// Marker declares a row-level conjunction counted per company, for
// predicates that must hold within one row (a bot that is both active and
// in production) rather than across column aggregates.
type Marker struct {
	Name string     `yaml:"name"`
	When []ColumnIs `yaml:"when"`
}

// ColumnIs is one equality clause of a Marker, matched after cell
// normalization.
type ColumnIs struct {
	Column string `yaml:"column"`
	Equals string `yaml:"equals"`
}

// Spec is the declared contract for one source: how rows are keyed, how
// identity resolves, which column dates the row, and which fields the
// aggregator reduces. Everything the engine knows about a source comes
// from here — no column names are inferred from data.
type Spec struct {
	Name     string `yaml:"name"`
	Base     bool   `yaml:"base,omitempty"`
	Mapping  bool   `yaml:"mapping,omitempty"`
	Activity bool   `yaml:"activity,omitempty"`

	// Complete marks an export that carries every event of its kind, so a
	// company absent from a loaded extract is a confirmed zero rather
	// than missing coverage. Snapshot exports from the separate event
	// store only carry companies they know about and stay unmarked:
	// absence there is unknown, never a confirmed "did not reach stage".
	Complete bool `yaml:"complete,omitempty"`


	// Key names the dedupe primary key. Exports whose logical key spans
	// several columns join them with "+" (nodes_used keys on
	// company_id+nodeTypeId); every part must be present for a row to
	// survive loading.
	Key        string            `yaml:"key"`
	Identity   string            `yaml:"identity,omitempty"`
	NativeKey  string            `yaml:"native_key,omitempty"`
	Chain      []Hop             `yaml:"chain,omitempty"`
	OccurredAt string            `yaml:"occurred_at,omitempty"`
	Categories []Category        `yaml:"categories,omitempty"`
	Markers    []Marker          `yaml:"markers,omitempty"`
	Distinct   []string          `yaml:"distinct,omitempty"`
	Sums       []string          `yaml:"sums,omitempty"`
	Maxes      []string          `yaml:"maxes,omitempty"`
	Attributes []string          `yaml:"attributes,omitempty"`
	Rename     map[string]string `yaml:"rename,omitempty"`
}

// Direct reports whether the source carries the company id itself.
func (s *Spec) Direct() bool {
	return len(s.Chain) == 0
}

// Dated reports whether the source declares an occurred-at column.
// Undated sources are snapshots and exempt from window filtering.
func (s *Spec) Dated() bool {
	return s.OccurredAt != ""
}

// IdentityColumn is the column whose value enters identity resolution:
// the company id column for direct sources, the chain's starting key for
// indirect ones.
func (s *Spec) IdentityColumn() string {
	if s.Direct() {
		return s.Identity
	}
	return s.NativeKey
}

// PayloadColumns lists every declared column the aggregator reads beyond
// key/identity/timestamp.
func (s *Spec) PayloadColumns() []string {
	var cols []string
	for _, c := range s.Categories {
		cols = append(cols, c.Column)
	}
	for _, m := range s.Markers {
		for _, w := range m.When {
			cols = append(cols, w.Column)
		}
	}
	cols = append(cols, s.Distinct...)
	cols = append(cols, s.Sums...)
	cols = append(cols, s.Maxes...)
	cols = append(cols, s.Attributes...)
	return cols
}

// KeyColumns splits the declared primary key into its columns.
func (s *Spec) KeyColumns() []string {
	parts := strings.Split(s.Key, "+")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// RequiredColumns lists the columns the extract header must contain after
// renames. A missing one is a schema violation.
func (s *Spec) RequiredColumns() []string {
	cols := append([]string{}, s.KeyColumns()...)
	if c := s.IdentityColumn(); c != "" {
		cols = append(cols, c)
	}
	if s.Dated() {
		cols = append(cols, s.OccurredAt)
	}
	cols = append(cols, s.PayloadColumns()...)
	return dedupeStrings(cols)
}

// Validate checks the declaration is internally coherent.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return eris.New("source: spec missing name")
	}
	if s.Key == "" {
		return eris.Errorf("source: %s missing primary key column", s.Name)
	}
	for _, k := range s.KeyColumns() {
		if k == "" {
			return eris.Errorf("source: %s has an empty primary key part", s.Name)
		}
	}
	if s.Mapping {
		if s.Base || s.Activity {
			return eris.Errorf("source: mapping source %s cannot be base or activity", s.Name)
		}
		if len(s.Chain) > 0 {
			return eris.Errorf("source: mapping source %s cannot chain", s.Name)
		}
		return nil
	}
	direct := s.Identity != ""
	indirect := len(s.Chain) > 0
	if direct == indirect {
		return eris.Errorf("source: %s must declare exactly one of identity or chain", s.Name)
	}
	if indirect && s.NativeKey == "" {
		return eris.Errorf("source: %s declares a chain but no native_key column", s.Name)
	}
	if s.Base && !direct {
		return eris.Errorf("source: base source %s cannot resolve through a chain", s.Name)
	}
	if (s.Base || s.Activity) && !s.Dated() {
		return eris.Errorf("source: %s must declare occurred_at", s.Name)
	}
	for _, h := range s.Chain {
		if h.Source == "" || h.From == "" || h.To == "" {
			return eris.Errorf("source: %s has an incomplete chain hop", s.Name)
		}
	}
	return s.validateBuckets()
}

// validateBuckets rejects category/marker declarations whose count buckets
// collide, since summaries address buckets by name alone.
func (s *Spec) validateBuckets() error {
	seen := make(map[string]struct{})
	claim := func(name string) error {
		if _, ok := seen[name]; ok {
			return eris.Errorf("source: %s declares bucket %q twice", s.Name, name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, c := range s.Categories {
		for _, b := range c.Buckets() {
			if err := claim(b); err != nil {
				return err
			}
		}
	}
	for _, m := range s.Markers {
		if m.Name == "" || len(m.When) == 0 {
			return eris.Errorf("source: %s has an incomplete marker", s.Name)
		}
	}
	markers := make(map[string]struct{})
	for _, m := range s.Markers {
		if _, ok := markers[m.Name]; ok {
			return eris.Errorf("source: %s declares marker %q twice", s.Name, m.Name)
		}
		markers[m.Name] = struct{}{}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
