package model

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	amb := &AmbiguousIdentityError{
		Source: "workflows",
		Keys:   map[string][]CompanyID{"wf-9": {870, 912}},
	}
	wrapped := eris.Wrap(amb, "resolve: build cache")

	assert.True(t, IsAmbiguousIdentity(wrapped))
	assert.False(t, IsSchemaViolation(wrapped))
	assert.Contains(t, amb.Error(), "wf-9")
	assert.Contains(t, amb.Error(), "870")

	schema := &SchemaViolationError{Source: "signups", Missing: []string{"company_id", "created_at"}}
	assert.True(t, IsSchemaViolation(eris.Wrap(schema, "source: load signups")))
	assert.Contains(t, schema.Error(), "company_id")
}

func TestDiagnosticsCounters(t *testing.T) {
	t.Parallel()

	d := NewDiagnostics()

	s := d.Source("workflow_executions")
	s.RowsRead = 10
	for i := 0; i < 7; i++ {
		s.NoteUnresolved("wf-unknown")
	}
	assert.Equal(t, int64(7), d.TotalUnresolved())
	assert.Len(t, s.UnresolvedSample, 5, "sample is bounded")

	for id := CompanyID(1); id <= 8; id++ {
		d.NoteReferential(id)
	}
	assert.Equal(t, int64(8), d.ReferentialCount)
	assert.Len(t, d.ReferentialSample, 5)

	d.NoteUnknownStage("paid")
	d.NoteUnknownStage("paid")
	assert.Equal(t, int64(2), d.UnknownByStage["paid"])

	d.Source("signups")
	assert.Equal(t, []string{"signups", "workflow_executions"}, d.SourceNames())
}
