// Package resolve maps source-native keys to canonical company identities.
// Direct sources carry the company id themselves; indirect sources walk a
// declared chain of mapping tables. All resolution is exact-match — no
// fuzzy fallback — and the chain caches are built once per run so per-row
// cost stays constant.
package resolve

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
)

// Resolver holds the per-run identity caches. Read-only after Build, safe
// for concurrent use by the per-source aggregators.
type Resolver struct {
	chains map[string]map[string]model.CompanyID
}

// Build constructs the chain caches for every indirect source in the
// registry. A native key whose chain reaches two distinct company ids
// fails the build with AmbiguousIdentityError: picking a side would
// misattribute usage, so the run must not proceed.
func Build(tables source.Set, reg *source.Registry) (*Resolver, error) {
	r := &Resolver{chains: make(map[string]map[string]model.CompanyID)}

	for _, spec := range reg.All() {
		if spec.Direct() || spec.Mapping {
			continue
		}
		t := tables.Get(spec.Name)
		if t == nil {
			continue
		}
		cache, err := buildChain(tables, spec, t)
		if err != nil {
			return nil, err
		}
		r.chains[spec.Name] = cache
	}
	return r, nil
}

// buildChain resolves every distinct native key in the dependent table
// through the declared hops. Keys with no path stay out of the cache
// (unresolved, counted later per row); keys with multiple final ids abort.
func buildChain(tables source.Set, spec *source.Spec, dependent *source.Table) (map[string]model.CompanyID, error) {
	log := zap.L().With(
		zap.String("component", "resolve"),
		zap.String("source", spec.Name),
	)

	hops := make([]map[string][]string, len(spec.Chain))
	for i, h := range spec.Chain {
		mt := tables.Get(h.Source)
		if mt == nil {
			log.Warn("mapping source missing, all keys will be unresolved",
				zap.String("mapping", h.Source),
			)
			return map[string]model.CompanyID{}, nil
		}
		hops[i] = hopLookup(mt, h)
	}

	keys := make(map[string]struct{})
	for _, rec := range dependent.Records {
		if rec.Identity != "" {
			keys[rec.Identity] = struct{}{}
		}
	}

	cache := make(map[string]model.CompanyID, len(keys))
	ambiguous := make(map[string][]model.CompanyID)
	var unresolved int

	for key := range keys {
		finals := walkChain(hops, key)
		ids := parseFinals(finals)
		switch len(ids) {
		case 0:
			unresolved++
		case 1:
			cache[key] = ids[0]
		default:
			ambiguous[key] = ids
		}
	}

	if len(ambiguous) > 0 {
		return nil, eris.Wrap(
			&model.AmbiguousIdentityError{Source: spec.Name, Keys: ambiguous},
			"resolve: build chain cache",
		)
	}

	log.Debug("chain cache built",
		zap.Int("keys", len(keys)),
		zap.Int("resolved", len(cache)),
		zap.Int("unresolved", unresolved),
	)
	return cache, nil
}

// hopLookup builds from-value → to-values for one mapping hop, deduping
// repeated identical rows.
func hopLookup(t *source.Table, h source.Hop) map[string][]string {
	m := make(map[string][]string)
	for _, rec := range t.Records {
		from := t.Value(rec, h.From)
		to := t.Value(rec, h.To)
		if from == "" || to == "" {
			continue
		}
		if !contains(m[from], to) {
			m[from] = append(m[from], to)
		}
	}
	return m
}

// walkChain follows a key through every hop, carrying the full set of
// reachable values so conflicting mapping rows surface as multiple finals
// instead of an arbitrary pick.
func walkChain(hops []map[string][]string, key string) []string {
	current := []string{key}
	for _, hop := range hops {
		var next []string
		for _, v := range current {
			for _, to := range hop[v] {
				if !contains(next, to) {
					next = append(next, to)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// parseFinals converts chain endpoints to company ids, dropping junk
// values (an unparsable endpoint is an unresolved key, not an ambiguity).
func parseFinals(finals []string) []model.CompanyID {
	var ids []model.CompanyID
	for _, f := range finals {
		id, err := model.ParseCompanyID(f)
		if err != nil {
			continue
		}
		dup := false
		for _, seen := range ids {
			if seen == id {
				dup = true
				break
			}
		}
		if !dup {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve maps one record of the given source to its company identity.
// The second return is false for unresolved keys; the caller counts them.
func (r *Resolver) Resolve(spec *source.Spec, rec source.Record) (model.CompanyID, bool) {
	if spec.Direct() {
		id, err := model.ParseCompanyID(rec.Identity)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	id, ok := r.chains[spec.Name][rec.Identity]
	return id, ok
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
