package model

import (
	"errors"
	"fmt"
	"strings"
)

// AmbiguousIdentityError reports native keys that resolve to more than one
// company through conflicting mapping rows. Picking either side would
// misattribute every downstream metric, so this aborts the whole run.
type AmbiguousIdentityError struct {
	Source string
	Keys   map[string][]CompanyID
}

func (e *AmbiguousIdentityError) Error() string {
	parts := make([]string, 0, len(e.Keys))
	for key, ids := range e.Keys {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = id.String()
		}
		parts = append(parts, fmt.Sprintf("%s→{%s}", key, strings.Join(strs, ",")))
	}
	return fmt.Sprintf("ambiguous identity in %s: %s", e.Source, strings.Join(parts, "; "))
}

// IsAmbiguousIdentity reports whether the chain contains an
// AmbiguousIdentityError.
func IsAmbiguousIdentity(err error) bool {
	var ae *AmbiguousIdentityError
	return errors.As(err, &ae)
}

// SchemaViolationError reports declared columns missing from a loaded
// extract. Fatal for the source; fatal for the run when the source is the
// signup base.
type SchemaViolationError struct {
	Source  string
	Missing []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation in %s: missing columns %s", e.Source, strings.Join(e.Missing, ", "))
}

// IsSchemaViolation reports whether the chain contains a
// SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var se *SchemaViolationError
	return errors.As(err, &se)
}
