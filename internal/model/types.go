package model

import (
	"encoding/json"
	"time"
)

// Tool is an enumerated tool identifier. Tool names are matched exactly;
// anything not in the lookup table maps to ToolUnknown. There is deliberately
// no substring or fuzzy matching here: a partial match is not a match.
type Tool string

const (
	ToolRead      Tool = "Read"
	ToolWrite     Tool = "Write"
	ToolEdit      Tool = "Edit"
	ToolBash      Tool = "Bash"
	ToolGlob      Tool = "Glob"
	ToolGrep      Tool = "Grep"
	ToolWebFetch  Tool = "WebFetch"
	ToolWebSearch Tool = "WebSearch"
	ToolTask      Tool = "Task"
	ToolKillShell Tool = "KillShell"

	// ToolUnknown is the bucket for every unrecognized tool name.
	ToolUnknown Tool = "Unknown"
)

var toolTable = map[string]Tool{
	"Read":      ToolRead,
	"Write":     ToolWrite,
	"Edit":      ToolEdit,
	"Bash":      ToolBash,
	"Glob":      ToolGlob,
	"Grep":      ToolGrep,
	"WebFetch":  ToolWebFetch,
	"WebSearch": ToolWebSearch,
	"Task":      ToolTask,
	"KillShell": ToolKillShell,
}

// ParseTool maps a tool name to its enumerated identifier.
// Unknown names return ToolUnknown, never an error.
func ParseTool(name string) Tool {
	if t, ok := toolTable[name]; ok {
		return t
	}
	return ToolUnknown
}

// Tools returns all known tool identifiers in stable order.
func Tools() []Tool {
	return []Tool{
		ToolRead, ToolWrite, ToolEdit, ToolBash, ToolGlob,
		ToolGrep, ToolWebFetch, ToolWebSearch, ToolTask, ToolKillShell,
	}
}

// Operation classifies what kind of action a tool performs.
type Operation string

const (
	OpFileRead    Operation = "file_read"
	OpFileWrite   Operation = "file_write"
	OpShellExec   Operation = "shell_exec"
	OpProcessKill Operation = "process_kill"
	OpAPICall     Operation = "api_call"
	OpAgentSpawn  Operation = "agent_spawn"
	OpUnknown     Operation = "unknown"
)

// Operation returns the operation kind for the tool.
func (t Tool) Operation() Operation {
	switch t {
	case ToolRead, ToolGlob, ToolGrep:
		return OpFileRead
	case ToolWrite, ToolEdit:
		return OpFileWrite
	case ToolBash:
		return OpShellExec
	case ToolKillShell:
		return OpProcessKill
	case ToolWebFetch, ToolWebSearch:
		return OpAPICall
	case ToolTask:
		return OpAgentSpawn
	default:
		return OpUnknown
	}
}

// IsAPICall reports whether the tool denotes an external API call.
func (t Tool) IsAPICall() bool {
	return t.Operation() == OpAPICall
}

// Role is one of the ten fixed agent roles.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleDeveloper   Role = "developer"
	RoleReviewer    Role = "reviewer"
	RoleSecurity    Role = "security"
	RoleDatabase    Role = "database"
	RoleFrontend    Role = "frontend"
	RoleBackend     Role = "backend"
	RoleTester      Role = "tester"
	RoleAnalyst     Role = "analyst"
	RoleCoordinator Role = "coordinator"
)

// KnownRoles lists every role the rule table recognizes.
var KnownRoles = []Role{
	RoleAdmin, RoleDeveloper, RoleReviewer, RoleSecurity, RoleDatabase,
	RoleFrontend, RoleBackend, RoleTester, RoleAnalyst, RoleCoordinator,
}

// IsKnownRole reports whether the role is one of the ten fixed roles.
func IsKnownRole(r Role) bool {
	for _, k := range KnownRoles {
		if r == k {
			return true
		}
	}
	return false
}

// Decision is the synchronous outcome of a governance check.
// It is returned to the caller and never persisted itself.
type Decision struct {
	Allowed          bool          `json:"allowed"`
	Reason           string        `json:"reason"`
	BudgetImpact     float64       `json:"budget_impact"`
	RequiresApproval bool          `json:"requires_approval"`
	Approvers        []string      `json:"approvers,omitempty"`
	CheckTime        time.Duration `json:"-"`
}

// Deny builds a denied Decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// MarshalJSON reports check_time_ms in milliseconds. CheckTime stays a
// Duration in memory; its nanosecond count never goes on the wire.
func (d Decision) MarshalJSON() ([]byte, error) {
	type decision Decision
	return json.Marshal(struct {
		decision
		CheckTime float64 `json:"check_time_ms"`
	}{decision(d), float64(d.CheckTime) / float64(time.Millisecond)})
}

// UnmarshalJSON accepts check_time_ms in milliseconds.
func (d *Decision) UnmarshalJSON(data []byte) error {
	type decision Decision
	aux := struct {
		*decision
		CheckTime float64 `json:"check_time_ms"`
	}{decision: (*decision)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.CheckTime = time.Duration(aux.CheckTime * float64(time.Millisecond))
	return nil
}
