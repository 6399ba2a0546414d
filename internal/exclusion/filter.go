// Package exclusion removes internal and test accounts before any
// aggregation runs, so excluded companies never leak partial counts into
// shared aggregates through joins.
package exclusion

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/chatlift/funnel-cli/internal/model"
)

// Rules is the external deny-set shape. All string matching is Unicode
// case-folded: the extracts carry Spanish-language company names where
// ASCII lowercasing is not enough.
type Rules struct {
	CompanyIDs    []int64  `yaml:"company_ids,omitempty"`
	EmailDomains  []string `yaml:"email_domains,omitempty"`
	EmailContains []string `yaml:"email_contains,omitempty"`
	SlugContains  []string `yaml:"slug_contains,omitempty"`
	CompanyNames  []string `yaml:"company_names,omitempty"`
}

type rulesFile struct {
	Exclusions Rules `yaml:"exclusions"`
}

// LoadRules reads exclusions.yaml. An empty path yields an empty deny-set.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "exclusion: read %s", path)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, eris.Wrapf(err, "exclusion: parse %s", path)
	}
	return f.Exclusions, nil
}

// Filter is the compiled deny-set. Immutable after New, safe for
// concurrent use.
type Filter struct {
	ids           map[model.CompanyID]struct{}
	emailDomains  []string
	emailContains []string
	slugContains  []string
	names         map[string]struct{}
}

// New compiles rules into a filter, folding every pattern once up front.
func New(r Rules) *Filter {
	f := &Filter{
		ids:   make(map[model.CompanyID]struct{}, len(r.CompanyIDs)),
		names: make(map[string]struct{}, len(r.CompanyNames)),
	}
	for _, id := range r.CompanyIDs {
		f.ids[model.CompanyID(id)] = struct{}{}
	}
	for _, d := range r.EmailDomains {
		f.emailDomains = append(f.emailDomains, fold(d))
	}
	for _, s := range r.EmailContains {
		f.emailContains = append(f.emailContains, fold(s))
	}
	for _, s := range r.SlugContains {
		f.slugContains = append(f.slugContains, fold(s))
	}
	for _, n := range r.CompanyNames {
		f.names[fold(n)] = struct{}{}
	}
	return f
}

// Empty reports whether the filter denies nothing.
func (f *Filter) Empty() bool {
	return len(f.ids) == 0 && len(f.emailDomains) == 0 &&
		len(f.emailContains) == 0 && len(f.slugContains) == 0 && len(f.names) == 0
}

// Excluded reports whether the company matches any deny rule.
func (f *Filter) Excluded(id model.CompanyID, attrs model.SignupAttrs) bool {
	if _, ok := f.ids[id]; ok {
		return true
	}

	email := fold(attrs.Email)
	if domain := emailDomain(email); domain != "" {
		for _, d := range f.emailDomains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return true
			}
		}
	}
	for _, s := range f.emailContains {
		if s != "" && strings.Contains(email, s) {
			return true
		}
	}

	slug := fold(attrs.Slug)
	for _, s := range f.slugContains {
		if s != "" && strings.Contains(slug, s) {
			return true
		}
	}

	if _, ok := f.names[fold(attrs.CompanyName)]; ok {
		return true
	}
	return false
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// fold trims and case-folds for caseless comparison. cases.Fold carries
// transformer state, so a fresh caser per call keeps this goroutine-safe.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
