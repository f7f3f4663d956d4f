package identity

import (
	"fmt"

	"github.com/toolgate/toolgate/internal/model"
)

// Report is the outcome of identity validation.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks a parsed identity record. Missing descriptive fields are
// warnings. An unrecognized role is also only a warning: the identity can
// still be loaded, inspected and audited — the permission checker is what
// hard-denies every operation for a role it does not know.
func Validate(id *AgentIdentity) Report {
	r := Report{Valid: true}
	if id == nil {
		return Report{Valid: false, Errors: []string{"identity record is nil"}}
	}

	if id.Name == "" {
		r.Valid = false
		r.Errors = append(r.Errors, "name is required")
	}
	if id.Role == "" {
		r.Valid = false
		r.Errors = append(r.Errors, "role is required")
	} else if !model.IsKnownRole(id.Role) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("role %q is not a recognized role; no operation will be authorized for it", id.Role))
	}

	if id.AgentID == "" {
		r.Warnings = append(r.Warnings, "agent_id is absent; treating as system-scoped identity")
	}
	if len(id.CapabilityTags) == 0 {
		r.Warnings = append(r.Warnings, "no capability_tags declared")
	}

	return r
}
