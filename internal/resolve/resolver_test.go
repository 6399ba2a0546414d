package resolve

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
)

func chainSpecs() (*source.Spec, *source.Spec, *source.Spec) {
	workflows := &source.Spec{
		Name:       "workflows",
		Mapping:    true,
		Key:        "workflow_id",
		Attributes: []string{"bot_id"},
	}
	bots := &source.Spec{
		Name:     "bots",
		Key:      "id",
		Identity: "company_id",
	}
	execs := &source.Spec{
		Name:      "workflow_executions",
		Key:       "execution_id",
		NativeKey: "workflow_id",
		Chain: []source.Hop{
			{Source: "workflows", From: "workflow_id", To: "bot_id"},
			{Source: "bots", From: "id", To: "company_id"},
		},
	}
	return workflows, bots, execs
}

func registryWith(t *testing.T, specs ...*source.Spec) *source.Registry {
	t.Helper()
	all := append([]*source.Spec{
		{Name: "signups", Base: true, Key: "id", Identity: "company_id", OccurredAt: "created_at"},
	}, specs...)
	reg, err := source.NewRegistry(all)
	require.NoError(t, err)
	return reg
}

func mappingTable(spec *source.Spec, rows ...[2]string) *source.Table {
	t := &source.Table{Spec: spec}
	for _, row := range rows {
		t.Records = append(t.Records, source.Record{
			Key:     row[0],
			Payload: map[string]string{"bot_id": row[1]},
		})
	}
	return t
}

func botTable(spec *source.Spec, rows ...[2]string) *source.Table {
	t := &source.Table{Spec: spec}
	for _, row := range rows {
		t.Records = append(t.Records, source.Record{Key: row[0], Identity: row[1]})
	}
	return t
}

func execTable(spec *source.Spec, workflowIDs ...string) *source.Table {
	t := &source.Table{Spec: spec}
	for i, wf := range workflowIDs {
		t.Records = append(t.Records, source.Record{
			Key:      fmt.Sprintf("e%d", i+1),
			Identity: wf,
		})
	}
	return t
}

func TestResolveThroughChain(t *testing.T) {
	t.Parallel()

	workflows, bots, execs := chainSpecs()
	reg := registryWith(t, workflows, bots, execs)

	tables := source.Set{
		"workflows":           mappingTable(workflows, [2]string{"wf-1", "b-1"}, [2]string{"wf-2", "b-2"}),
		"bots":                botTable(bots, [2]string{"b-1", "870"}, [2]string{"b-2", "871"}),
		"workflow_executions": execTable(execs, "wf-1", "wf-2", "wf-unmapped"),
	}

	r, err := Build(tables, reg)
	require.NoError(t, err)

	spec := execs
	id, ok := r.Resolve(spec, tables["workflow_executions"].Records[0])
	require.True(t, ok)
	assert.Equal(t, model.CompanyID(870), id)

	id, ok = r.Resolve(spec, tables["workflow_executions"].Records[1])
	require.True(t, ok)
	assert.Equal(t, model.CompanyID(871), id)

	_, ok = r.Resolve(spec, tables["workflow_executions"].Records[2])
	assert.False(t, ok, "unmapped workflow stays unresolved")
}

func TestResolveAmbiguousChainFails(t *testing.T) {
	t.Parallel()

	workflows, bots, execs := chainSpecs()
	reg := registryWith(t, workflows, bots, execs)

	// wf-1 claims membership in two bots owned by different companies.
	tables := source.Set{
		"workflows":           mappingTable(workflows, [2]string{"wf-1", "b-1"}, [2]string{"wf-1", "b-2"}),
		"bots":                botTable(bots, [2]string{"b-1", "870"}, [2]string{"b-2", "912"}),
		"workflow_executions": execTable(execs, "wf-1"),
	}

	_, err := Build(tables, reg)
	require.Error(t, err)
	assert.True(t, model.IsAmbiguousIdentity(err))

	var ae *model.AmbiguousIdentityError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []model.CompanyID{870, 912}, ae.Keys["wf-1"])
}

func TestResolveConvergingDuplicatesAreFine(t *testing.T) {
	t.Parallel()

	workflows, bots, execs := chainSpecs()
	reg := registryWith(t, workflows, bots, execs)

	// Duplicate mapping rows through different bots that land on the same
	// company are retries, not conflicts.
	tables := source.Set{
		"workflows":           mappingTable(workflows, [2]string{"wf-1", "b-1"}, [2]string{"wf-1", "b-2"}),
		"bots":                botTable(bots, [2]string{"b-1", "870"}, [2]string{"b-2", "870"}),
		"workflow_executions": execTable(execs, "wf-1"),
	}

	r, err := Build(tables, reg)
	require.NoError(t, err)

	id, ok := r.Resolve(execs, tables["workflow_executions"].Records[0])
	require.True(t, ok)
	assert.Equal(t, model.CompanyID(870), id)
}

func TestResolveMissingMappingSource(t *testing.T) {
	t.Parallel()

	workflows, bots, execs := chainSpecs()
	reg := registryWith(t, workflows, bots, execs)

	tables := source.Set{
		"bots":                botTable(bots, [2]string{"b-1", "870"}),
		"workflow_executions": execTable(execs, "wf-1"),
	}

	r, err := Build(tables, reg)
	require.NoError(t, err, "a missing mapping extract degrades to unresolved keys")

	_, ok := r.Resolve(execs, tables["workflow_executions"].Records[0])
	assert.False(t, ok)
}

func TestResolveDirect(t *testing.T) {
	t.Parallel()

	r := &Resolver{}
	spec := &source.Spec{Name: "invoices", Key: "id", Identity: "company_id"}

	id, ok := r.Resolve(spec, source.Record{Identity: "870.0"})
	require.True(t, ok)
	assert.Equal(t, model.CompanyID(870), id)

	_, ok = r.Resolve(spec, source.Record{Identity: "acme"})
	assert.False(t, ok)
}
