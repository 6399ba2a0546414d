package source

import (
	"github.com/rotisserie/eris"
)

// Registry maps source names to their declarations, preserving insertion
// order for deterministic iteration.
type Registry struct {
	specs map[string]*Spec
	order []string
}

// NewRegistry builds a registry from the given declarations and
// cross-validates them: names unique, exactly one base source, every chain
// hop pointing at a registered source.
func NewRegistry(specs []*Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if err := r.register(s); err != nil {
			return nil, err
		}
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(s *Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := r.specs[s.Name]; ok {
		return eris.Errorf("source: duplicate source %q", s.Name)
	}
	r.specs[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

func (r *Registry) validate() error {
	var base int
	for _, name := range r.order {
		s := r.specs[name]
		if s.Base {
			base++
		}
		for _, h := range s.Chain {
			hop, ok := r.specs[h.Source]
			if !ok {
				return eris.Errorf("source: %s chains through unknown source %q", s.Name, h.Source)
			}
			declared := make(map[string]struct{})
			for _, col := range hop.RequiredColumns() {
				declared[col] = struct{}{}
			}
			for _, col := range []string{h.From, h.To} {
				if _, ok := declared[col]; !ok {
					return eris.Errorf("source: %s hop column %q not declared by %s", s.Name, col, hop.Name)
				}
			}
		}
	}
	if base != 1 {
		return eris.Errorf("source: expected exactly one base source, found %d", base)
	}
	return nil
}

// Get returns a source declaration by name.
func (r *Registry) Get(name string) (*Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// Base returns the signup base source.
func (r *Registry) Base() *Spec {
	for _, name := range r.order {
		if r.specs[name].Base {
			return r.specs[name]
		}
	}
	return nil
}

// All returns every declaration in registration order.
func (r *Registry) All() []*Spec {
	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Aggregated returns the sources that produce summaries, in registration
// order. Mapping-only sources feed the resolver and are skipped.
func (r *Registry) Aggregated() []*Spec {
	var out []*Spec
	for _, name := range r.order {
		if s := r.specs[name]; !s.Mapping {
			out = append(out, s)
		}
	}
	return out
}

// AllNames returns registered source names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
