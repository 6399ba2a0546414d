package model

import "time"

// StageResult is one evaluated funnel stage for one company.
type StageResult struct {
	Name string    `json:"name"`
	Flag Flag      `json:"flag"`
	At   time.Time `json:"at,omitzero"`
}

// FunnelRecord is the reconciled per-company row: signup identity, one
// summary block per source that observed the company, the ordered stage
// results, and the retention cohort. Records exist only for companies seen
// in the base signup source; anomalies are carried on the record instead
// of blocking it.
type FunnelRecord struct {
	CompanyID    CompanyID                 `json:"company_id"`
	Signup       SignupAttrs               `json:"signup"`
	Summaries    map[string]*SourceSummary `json:"summaries"`
	Stages       []StageResult             `json:"stages"`
	Inconsistent []string                  `json:"inconsistent,omitempty"`
	Retention    RetentionCohort           `json:"retention"`
}

// Summary returns the summary block for a source, nil when the source
// never observed this company.
func (r *FunnelRecord) Summary(source string) *SourceSummary {
	return r.Summaries[source]
}

// Count resolves a source metric to a tagged Count: Absent when the source
// has no summary for this company, an observed value otherwise. Metric
// addresses the summary does not track also come back Absent so a config
// typo cannot masquerade as a zero.
func (r *FunnelRecord) Count(source, metric string) Count {
	s := r.Summary(source)
	if s == nil {
		return Absent()
	}
	v, ok := s.Metric(metric)
	if !ok {
		return Absent()
	}
	return CountOf(int64(v))
}

// Stage returns the named stage result.
func (r *FunnelRecord) Stage(name string) (StageResult, bool) {
	for _, st := range r.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return StageResult{}, false
}
