// Package funnel merges per-source summaries into one funnel record per
// signup company, evaluates the ordered stage predicates under
// three-valued logic, and orchestrates the whole reconciliation run.
package funnel

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
)

// Comparison operators a stage condition may use.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
)

// Condition compares one summary metric against a constant. A condition
// evaluated against a company the source never observed yields Unknown,
// never False: no data is not the same as confirmed drop-off.
type Condition struct {
	Source string  `yaml:"source"`
	Metric string  `yaml:"metric"`
	Op     string  `yaml:"op"`
	Value  float64 `yaml:"value"`
}

// Stage is one ordered funnel milestone. All conditions must hold (Kleene
// And). At names the source whose earliest in-window timestamp dates the
// stage; empty for stages over snapshot sources.
type Stage struct {
	Name string      `yaml:"name"`
	All  []Condition `yaml:"all"`
	At   string      `yaml:"at,omitempty"`
}

type stagesFile struct {
	Stages []Stage `yaml:"stages"`
}

// LoadStages reads the ordered stage definitions from a yaml file. An
// empty path falls back to the built-in product funnel.
func LoadStages(path string) ([]Stage, error) {
	if path == "" {
		return BuiltinStages(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: read %s", path)
	}
	var f stagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "funnel: parse %s", path)
	}
	if len(f.Stages) == 0 {
		return nil, eris.Errorf("funnel: %s declares no stages", path)
	}
	return f.Stages, nil
}

// BuiltinStages is the default conversion journey for the platform:
// signup → bot → execution → sandbox → production → conversations →
// free-tier breach → payment.
func BuiltinStages() []Stage {
	return []Stage{
		{
			Name: "signed_up",
			All:  []Condition{{Source: "signups", Metric: "total", Op: OpGTE, Value: 1}},
			At:   "signups",
		},
		{
			Name: "created_bot",
			All:  []Condition{{Source: "bots", Metric: "total", Op: OpGTE, Value: 1}},
			At:   "bots",
		},
		{
			Name: "executed_workflow",
			All:  []Condition{{Source: "workflow_executions", Metric: "total", Op: OpGTE, Value: 1}},
			At:   "workflow_executions",
		},
		{
			Name: "tested_sandbox",
			All:  []Condition{{Source: "workflow_executions", Metric: "marker:sandbox", Op: OpGTE, Value: 1}},
			At:   "workflow_executions",
		},
		{
			Name: "went_to_production",
			All:  []Condition{{Source: "workflow_executions", Metric: "marker:production", Op: OpGTE, Value: 1}},
			At:   "workflow_executions",
		},
		{
			Name: "used_conversations",
			All:  []Condition{{Source: "credit_wallet", Metric: "max:total_used", Op: OpGT, Value: 0}},
		},
		{
			Name: "exceeded_free_tier",
			All:  []Condition{{Source: "credit_wallet", Metric: "marker:exceeded_free_tier", Op: OpGTE, Value: 1}},
		},
		{
			Name: "paid",
			All:  []Condition{{Source: "invoices", Metric: "sum:amount_paid", Op: OpGT, Value: 0}},
			At:   "invoices",
		},
	}
}

// ValidateStages cross-checks stage definitions against the source
// registry: names unique and non-empty, conditions present, operators
// known, every referenced source registered and aggregated.
func ValidateStages(stages []Stage, reg *source.Registry) error {
	if len(stages) == 0 {
		return eris.New("funnel: no stages defined")
	}
	seen := make(map[string]struct{}, len(stages))
	for _, st := range stages {
		if st.Name == "" {
			return eris.New("funnel: stage missing name")
		}
		if _, dup := seen[st.Name]; dup {
			return eris.Errorf("funnel: duplicate stage %q", st.Name)
		}
		seen[st.Name] = struct{}{}
		if len(st.All) == 0 {
			return eris.Errorf("funnel: stage %q has no conditions", st.Name)
		}
		for _, c := range st.All {
			if err := validateCondition(st.Name, c, reg); err != nil {
				return err
			}
		}
		if st.At != "" {
			spec, err := reg.Get(st.At)
			if err != nil {
				return eris.Wrapf(err, "funnel: stage %q timestamp source", st.Name)
			}
			if !spec.Dated() {
				return eris.Errorf("funnel: stage %q dates itself from undated source %q", st.Name, st.At)
			}
		}
	}
	return nil
}

func validateCondition(stage string, c Condition, reg *source.Registry) error {
	spec, err := reg.Get(c.Source)
	if err != nil {
		return eris.Wrapf(err, "funnel: stage %q condition", stage)
	}
	if spec.Mapping {
		return eris.Errorf("funnel: stage %q reads mapping source %q", stage, c.Source)
	}
	if c.Metric == "" {
		return eris.Errorf("funnel: stage %q condition on %q missing metric", stage, c.Source)
	}
	switch c.Op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		return nil
	default:
		return eris.Errorf("funnel: stage %q has unknown operator %q", stage, c.Op)
	}
}

// Eval evaluates one condition for a record under three-valued logic.
// zeroAbsent names the sources whose loaded extract is a complete export:
// a company absent from one of those is a confirmed zero and the metric
// evaluates as 0. Absence anywhere else is Unknown — no data reached us,
// which must never read as confirmed drop-off.
func (c Condition) Eval(rec *model.FunnelRecord, zeroAbsent map[string]bool) model.Flag {
	s := rec.Summary(c.Source)
	var v float64
	switch {
	case s != nil:
		var ok bool
		v, ok = s.Metric(c.Metric)
		if !ok {
			// The summary exists but does not track this metric: a stage
			// config mistake, surfaced as Unknown rather than a silent
			// False.
			return model.FlagUnknown
		}
	case zeroAbsent[c.Source]:
		v = 0
	default:
		return model.FlagUnknown
	}
	switch c.Op {
	case OpGT:
		return model.FlagOf(v > c.Value)
	case OpGTE:
		return model.FlagOf(v >= c.Value)
	case OpLT:
		return model.FlagOf(v < c.Value)
	case OpLTE:
		return model.FlagOf(v <= c.Value)
	case OpEQ:
		return model.FlagOf(v == c.Value)
	default:
		return model.FlagUnknown
	}
}

// Eval evaluates the stage for a record: Kleene And over all conditions.
func (st Stage) Eval(rec *model.FunnelRecord, zeroAbsent map[string]bool) model.Flag {
	flag := model.FlagTrue
	for _, c := range st.All {
		flag = flag.And(c.Eval(rec, zeroAbsent))
		if flag == model.FlagFalse {
			return flag
		}
	}
	return flag
}
