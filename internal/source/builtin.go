package source

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// specFile is the sources.yaml shape: declarations under one wrapper key.
type specFile struct {
	Sources []*Spec `yaml:"sources"`
}

// LoadSpecs reads source declarations from a yaml file. An empty path
// falls back to the built-in declarations mirroring the upstream extracts.
func LoadSpecs(path string) ([]*Spec, error) {
	if path == "" {
		return BuiltinSpecs(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", path)
	}
	if len(f.Sources) == 0 {
		return nil, eris.Errorf("source: %s declares no sources", path)
	}
	return f.Sources, nil
}

// BuiltinSpecs returns the default declarations for the platform's extract
// drop. The column names follow the upstream export jobs; deployments with
// different extracts override them with a sources.yaml.
func BuiltinSpecs() []*Spec {
	workflowChain := []Hop{
		{Source: "workflows", From: "workflow_id", To: "bot_id"},
		{Source: "bots", From: "id", To: "company_id"},
	}

	return []*Spec{
		{
			Name:       "signups",
			Complete:   true,
			Base:       true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "created_at",
			Attributes: []string{"email", "company_name", "slug", "plan"},
		},
		{
			Name:       "subscriptions",
			Complete:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "created_at",
			Categories: []Category{
				{Column: "status", Values: []string{"active", "trialing", "canceled"}},
				{Column: "product_name", Values: []string{"brain", "connect"}, Contains: true},
			},
		},
		{
			Name:       "bots",
			Complete:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "created_at",
			Markers: []Marker{
				{Name: "active", When: []ColumnIs{{Column: "state", Equals: "1"}}},
				{Name: "production", When: []ColumnIs{
					{Column: "state", Equals: "1"},
					{Column: "in_production", Equals: "1"},
				}},
			},
		},
		{
			Name:       "workflows",
			Mapping:    true,
			Key:        "workflow_id",
			Attributes: []string{"bot_id"},
		},
		{
			Name:       "workflow_executions",
			Complete:   true,
			Key:        "execution_id",
			NativeKey:  "workflow_id",
			Chain:      workflowChain,
			OccurredAt: "created_at",
			Markers: []Marker{
				{Name: "sandbox", When: []ColumnIs{{Column: "is_debug", Equals: "true"}}},
				{Name: "production", When: []ColumnIs{{Column: "is_debug", Equals: "false"}}},
			},
		},
		{
			Name:     "node_usage",
			Complete: true,
			Key:      "company_id+nodeTypeId",
			Identity: "company_id",
			Sums:     []string{"nodes_created"},
			Categories: []Category{
				{Column: "nodeTypeId", Labels: map[string]string{
					"3":  "message",
					"5":  "code",
					"14": "conditional",
					"16": "skill",
					"18": "memory",
				}},
			},
		},
		{
			Name:     "credit_wallet",
			Key:      "company_id",
			Identity: "company_id",
			Maxes:    []string{"total_used", "free_conversations"},
			Markers: []Marker{
				// The wallet export writes the flag as 1/0.
				{Name: "exceeded_free_tier", When: []ColumnIs{{Column: "exceeded_free_tier", Equals: "1"}}},
			},
		},
		{
			Name:       "invoices",
			Complete:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "paid_at",
			Sums:       []string{"amount_paid"},
			Categories: []Category{
				{Column: "status", Values: []string{"paid", "open", "void"}},
			},
		},
		{
			Name:       "wallet_transactions",
			Complete:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "created_at",
			Sums:       []string{"amount"},
			Categories: []Category{
				{Column: "type", Values: []string{"credit", "debit"}},
			},
		},
		{
			Name:     "sessions",
			Key:      "company_id",
			Identity: "company_id",
			Maxes:    []string{"total_minutes", "avg_session_minutes", "total_sessions"},
			Rename: map[string]string{
				"_id":                   "company_id",
				"tiempototalminutos":    "total_minutes",
				"promediosesionminutos": "avg_session_minutes",
				"totalsesiones":         "total_sessions",
			},
		},
		{
			Name:     "engagement",
			Key:      "company_id",
			Identity: "company_id",
			Maxes:    []string{"sandbox_executions", "prod_executions"},
		},
		{
			Name:       "builder_activity",
			Complete:   true,
			Activity:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "occurred_at",
			Distinct:   []string{"user_email"},
		},
		{
			Name:       "template_usage",
			Complete:   true,
			Key:        "id",
			Identity:   "company_id",
			OccurredAt: "used_at",
			Distinct:   []string{"template_name"},
		},
	}
}
