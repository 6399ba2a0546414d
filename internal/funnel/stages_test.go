package funnel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
)

func builtinRegistry(t *testing.T) *source.Registry {
	t.Helper()
	reg, err := source.NewRegistry(source.BuiltinSpecs())
	require.NoError(t, err)
	return reg
}

func TestBuiltinStagesValidate(t *testing.T) {
	require.NoError(t, ValidateStages(BuiltinStages(), builtinRegistry(t)))
}

func TestLoadStagesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stages:
  - name: signed_up
    at: signups
    all:
      - {source: signups, metric: total, op: gte, value: 1}
  - name: paid
    at: invoices
    all:
      - {source: invoices, metric: "sum:amount_paid", op: gt, value: 0}
`), 0o644))

	stages, err := LoadStages(path)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "paid", stages[1].Name)
	assert.Equal(t, "sum:amount_paid", stages[1].All[0].Metric)
	require.NoError(t, ValidateStages(stages, builtinRegistry(t)))
}

func TestLoadStagesEmptyPathUsesBuiltin(t *testing.T) {
	stages, err := LoadStages("")
	require.NoError(t, err)
	assert.Equal(t, BuiltinStages(), stages)
}

func TestValidateStagesRejections(t *testing.T) {
	reg := builtinRegistry(t)
	cond := Condition{Source: "signups", Metric: "total", Op: OpGTE, Value: 1}

	cases := map[string][]Stage{
		"empty":          {},
		"no name":        {{All: []Condition{cond}}},
		"duplicate":      {{Name: "a", All: []Condition{cond}}, {Name: "a", All: []Condition{cond}}},
		"no conditions":  {{Name: "a"}},
		"unknown source": {{Name: "a", All: []Condition{{Source: "nope", Metric: "total", Op: OpGT}}}},
		"mapping source": {{Name: "a", All: []Condition{{Source: "workflows", Metric: "total", Op: OpGT}}}},
		"bad operator":   {{Name: "a", All: []Condition{{Source: "signups", Metric: "total", Op: "between"}}}},
		"undated at":     {{Name: "a", At: "credit_wallet", All: []Condition{cond}}},
	}
	for name, stages := range cases {
		assert.Error(t, ValidateStages(stages, reg), name)
	}
}

func TestConditionEvalThreeValued(t *testing.T) {
	rec := &model.FunnelRecord{Summaries: map[string]*model.SourceSummary{
		"invoices": {Source: "invoices", Total: 2, Sums: map[string]float64{"amount_paid": 0}},
	}}
	zeroAbsent := map[string]bool{"invoices": true, "bots": true}

	// Present summary, observed zero: confirmed False.
	c := Condition{Source: "invoices", Metric: "sum:amount_paid", Op: OpGT, Value: 0}
	assert.Equal(t, model.FlagFalse, c.Eval(rec, zeroAbsent))

	// Absent company in a loaded complete export: confirmed zero.
	c = Condition{Source: "bots", Metric: "total", Op: OpGTE, Value: 1}
	assert.Equal(t, model.FlagFalse, c.Eval(rec, zeroAbsent))

	// Absent company in a snapshot source: Unknown, never False.
	c = Condition{Source: "credit_wallet", Metric: "max:total_used", Op: OpGT, Value: 0}
	assert.Equal(t, model.FlagUnknown, c.Eval(rec, zeroAbsent))

	// Untracked metric on a present summary: config mistake, Unknown.
	c = Condition{Source: "invoices", Metric: "max:nope", Op: OpGT, Value: 0}
	assert.Equal(t, model.FlagUnknown, c.Eval(rec, zeroAbsent))
}

func TestStageEvalKleeneAnd(t *testing.T) {
	rec := &model.FunnelRecord{Summaries: map[string]*model.SourceSummary{
		"invoices": {Source: "invoices", Total: 1},
	}}

	st := Stage{Name: "x", All: []Condition{
		{Source: "invoices", Metric: "total", Op: OpGTE, Value: 1},
		{Source: "credit_wallet", Metric: "max:total_used", Op: OpGT, Value: 0},
	}}
	// True AND Unknown = Unknown.
	assert.Equal(t, model.FlagUnknown, st.Eval(rec, nil))

	// False dominates Unknown.
	st.All[0].Value = 5
	assert.Equal(t, model.FlagFalse, st.Eval(rec, nil))
}
