package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/funnel-cli/internal/model"
)

func mergeStages() []Stage {
	return []Stage{
		{Name: "signed_up", At: "signups",
			All: []Condition{{Source: "signups", Metric: "total", Op: OpGTE, Value: 1}}},
		{Name: "created_bot", At: "bots",
			All: []Condition{{Source: "bots", Metric: "total", Op: OpGTE, Value: 1}}},
		{Name: "paid", At: "invoices",
			All: []Condition{{Source: "invoices", Metric: "sum:amount_paid", Op: OpGT, Value: 0}}},
	}
}

func TestMergeRestrictsToBaseAndReportsOrphans(t *testing.T) {
	signupAt := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	summaries := map[string]map[model.CompanyID]*model.SourceSummary{
		"signups": {
			7: {Source: "signups", Total: 1, FirstAt: signupAt},
		},
		"bots": {
			7:  {Source: "bots", Total: 2, FirstAt: signupAt.AddDate(0, 0, 1)},
			42: {Source: "bots", Total: 1}, // no signup row: referential anomaly
			43: {Source: "bots", Total: 1},
		},
	}
	attrs := map[model.CompanyID]model.SignupAttrs{
		7: {CompanyName: "Acme", SignupAt: signupAt},
	}

	diag := model.NewDiagnostics()
	records := Merge(summaries, attrs, "signups", mergeStages(), nil, diag)

	require.Len(t, records, 1)
	assert.Equal(t, model.CompanyID(7), records[0].CompanyID)
	assert.Equal(t, "Acme", records[0].Signup.CompanyName)

	assert.Equal(t, int64(2), diag.ReferentialCount)
	assert.Equal(t, []model.CompanyID{42, 43}, diag.ReferentialSample)
}

func TestMergeStageResultsAndTimestamps(t *testing.T) {
	signupAt := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	botAt := signupAt.AddDate(0, 0, 2)
	summaries := map[string]map[model.CompanyID]*model.SourceSummary{
		"signups": {7: {Source: "signups", Total: 1, FirstAt: signupAt}},
		"bots":    {7: {Source: "bots", Total: 1, FirstAt: botAt}},
	}

	diag := model.NewDiagnostics()
	zeroAbsent := map[string]bool{"signups": true, "bots": true}
	records := Merge(summaries, map[model.CompanyID]model.SignupAttrs{7: {SignupAt: signupAt}},
		"signups", mergeStages(), zeroAbsent, diag)

	rec := records[0]
	signedUp, _ := rec.Stage("signed_up")
	assert.Equal(t, model.FlagTrue, signedUp.Flag)
	assert.Equal(t, signupAt, signedUp.At)

	createdBot, _ := rec.Stage("created_bot")
	assert.Equal(t, model.FlagTrue, createdBot.Flag)
	assert.Equal(t, botAt, createdBot.At)

	// Invoices never loaded: paid is Unknown with no timestamp.
	paid, _ := rec.Stage("paid")
	assert.Equal(t, model.FlagUnknown, paid.Flag)
	assert.True(t, paid.At.IsZero())
	assert.Equal(t, int64(1), diag.UnknownByStage["paid"])
	assert.Empty(t, rec.Inconsistent)
}

func TestMergeFlagsInconsistentFunnel(t *testing.T) {
	// Paid is confirmed true while created_bot has no evidence either
	// way: the record still comes out, carrying the violation.
	signupAt := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	summaries := map[string]map[model.CompanyID]*model.SourceSummary{
		"signups":  {7: {Source: "signups", Total: 1, FirstAt: signupAt}},
		"invoices": {7: {Source: "invoices", Total: 1, Sums: map[string]float64{"amount_paid": 99}}},
	}

	diag := model.NewDiagnostics()
	zeroAbsent := map[string]bool{"signups": true, "invoices": true}
	records := Merge(summaries, map[model.CompanyID]model.SignupAttrs{7: {SignupAt: signupAt}},
		"signups", mergeStages(), zeroAbsent, diag)

	rec := records[0]
	paid, _ := rec.Stage("paid")
	assert.Equal(t, model.FlagTrue, paid.Flag)
	require.Len(t, rec.Inconsistent, 1)
	assert.Contains(t, rec.Inconsistent[0], "paid is true but created_bot is unknown")
	assert.Equal(t, int64(1), diag.InconsistentFunnels)
}

func TestMergeMonotonicityHoldsForCleanFunnels(t *testing.T) {
	// Property: wherever stage k is true, stage k-1 is true or unknown.
	signupAt := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	summaries := map[string]map[model.CompanyID]*model.SourceSummary{
		"signups": {
			1: {Source: "signups", Total: 1, FirstAt: signupAt},
			2: {Source: "signups", Total: 1, FirstAt: signupAt},
		},
		"bots": {
			1: {Source: "bots", Total: 1, FirstAt: signupAt},
		},
		"invoices": {
			1: {Source: "invoices", Total: 1, Sums: map[string]float64{"amount_paid": 10}},
		},
	}

	diag := model.NewDiagnostics()
	records := Merge(summaries, map[model.CompanyID]model.SignupAttrs{1: {SignupAt: signupAt}, 2: {SignupAt: signupAt}},
		"signups", mergeStages(), map[string]bool{"signups": true, "bots": true, "invoices": true}, diag)

	for _, rec := range records {
		for i := 1; i < len(rec.Stages); i++ {
			if rec.Stages[i].Flag == model.FlagTrue && len(rec.Inconsistent) == 0 {
				assert.NotEqual(t, model.FlagFalse, rec.Stages[i-1].Flag)
			}
		}
	}
	assert.Equal(t, int64(0), diag.InconsistentFunnels)
}
