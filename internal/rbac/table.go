package rbac

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/model"
)

// Limits are the budget ceilings a role grants its agents.
type Limits struct {
	MaxTokensPerSession int64   `yaml:"max_tokens_per_session"`
	MaxCostPerDay       float64 `yaml:"max_cost_per_day"`
}

// RoleRule is the permission set for one role. A "*" entry in Tools, Paths
// or APIs grants the whole dimension.
type RoleRule struct {
	Tools             []string `yaml:"tools"`
	Paths             []string `yaml:"paths"`
	APIs              []string `yaml:"api_access"`
	RequiresApproval  []string `yaml:"requires_approval"`
	ApprovalThreshold float64  `yaml:"approval_threshold"`
	Budget            Limits   `yaml:"budget"`
}

// AllowsTool reports whether the rule's tool set covers the tool.
func (r RoleRule) AllowsTool(t model.Tool) bool {
	for _, name := range r.Tools {
		if name == "*" || model.Tool(name) == t {
			return true
		}
	}
	return false
}

// AllowsAPI reports whether the rule's API set covers the API name.
func (r RoleRule) AllowsAPI(api string) bool {
	for _, name := range r.APIs {
		if name == "*" || name == api {
			return true
		}
	}
	return false
}

// AllowsPath reports whether any path glob covers the path.
func (r RoleRule) AllowsPath(path string) bool {
	for _, pattern := range r.Paths {
		if MatchPath(pattern, path) {
			return true
		}
	}
	return false
}

// NeedsApproval reports whether the operation is in the rule's
// requires_approval set.
func (r RoleRule) NeedsApproval(op model.Operation) bool {
	for _, name := range r.RequiresApproval {
		if model.Operation(name) == op {
			return true
		}
	}
	return false
}

// Table is the immutable role→rule map, loaded once per process.
type Table struct {
	roles map[model.Role]RoleRule
	hash  string
}

// Rule returns the rule for a role. Unknown roles return ok=false; the
// caller denies, it does not guess.
func (t *Table) Rule(role model.Role) (RoleRule, bool) {
	r, ok := t.roles[role]
	return r, ok
}

// Hash is the SHA-256 of the rule source, recorded with every decision
// so audits can be replayed against the exact table that produced them.
func (t *Table) Hash() string {
	return t.hash
}

// DefaultTable returns the built-in rule table for the ten fixed roles.
func DefaultTable() *Table {
	h := sha256.Sum256(nil)
	return &Table{roles: defaultRoles(), hash: "sha256:" + hex.EncodeToString(h[:])}
}

// LoadTable loads the rule table from a YAML file. A missing file returns
// the defaults; invalid YAML or an unknown role key is an error. Roles
// absent from the file keep their built-in rules.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTable(), nil
		}
		return nil, fmt.Errorf("rbac: read rule table: %w", err)
	}

	var override map[string]RoleRule
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("rbac: parse rule table: %w", err)
	}

	roles := defaultRoles()
	for name, rule := range override {
		role := model.Role(name)
		if !model.IsKnownRole(role) {
			return nil, fmt.Errorf("rbac: unknown role %q in rule table", name)
		}
		roles[role] = rule
	}

	h := sha256.Sum256(data)
	return &Table{roles: roles, hash: "sha256:" + hex.EncodeToString(h[:])}, nil
}

func defaultRoles() map[model.Role]RoleRule {
	return map[model.Role]RoleRule{
		model.RoleAdmin: {
			Tools:             []string{"*"},
			Paths:             []string{"*"},
			APIs:              []string{"*"},
			RequiresApproval:  []string{string(model.OpProcessKill), string(model.OpAgentSpawn)},
			ApprovalThreshold: 500,
			Budget:            Limits{MaxTokensPerSession: 1_000_000, MaxCostPerDay: 500},
		},
		model.RoleDeveloper: {
			Tools:             []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "Task"},
			Paths:             []string{"src/**", "lib/**", "pkg/**", "cmd/**", "internal/**", "tests/**", "docs/**", "*.md", "*.json", "*.yaml"},
			APIs:              []string{"github", "npm"},
			RequiresApproval:  []string{string(model.OpAgentSpawn)},
			ApprovalThreshold: 100,
			Budget:            Limits{MaxTokensPerSession: 500_000, MaxCostPerDay: 100},
		},
		model.RoleReviewer: {
			Tools:             []string{"Read", "Glob", "Grep"},
			Paths:             []string{"*"},
			APIs:              []string{"github"},
			ApprovalThreshold: 50,
			Budget:            Limits{MaxTokensPerSession: 200_000, MaxCostPerDay: 20},
		},
		model.RoleSecurity: {
			Tools:             []string{"Read", "Glob", "Grep", "Bash"},
			Paths:             []string{"*"},
			APIs:              []string{"vault"},
			RequiresApproval:  []string{string(model.OpShellExec)},
			ApprovalThreshold: 200,
			Budget:            Limits{MaxTokensPerSession: 300_000, MaxCostPerDay: 50},
		},
		model.RoleDatabase: {
			Tools:             []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
			Paths:             []string{"db/**", "migrations/**", "schema/**", "*.sql"},
			APIs:              []string{"postgres", "redis"},
			RequiresApproval:  []string{string(model.OpShellExec)},
			ApprovalThreshold: 150,
			Budget:            Limits{MaxTokensPerSession: 300_000, MaxCostPerDay: 50},
		},
		model.RoleFrontend: {
			Tools:             []string{"Read", "Write", "Edit", "Glob", "Grep"},
			Paths:             []string{"frontend/**", "ui/**", "shared/**", "public/**", "*.md"},
			APIs:              []string{"figma", "npm"},
			ApprovalThreshold: 60,
			Budget:            Limits{MaxTokensPerSession: 400_000, MaxCostPerDay: 60},
		},
		model.RoleBackend: {
			Tools:             []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
			Paths:             []string{"backend/**", "api/**", "internal/**", "shared/**", "*.md"},
			APIs:              []string{"postgres", "redis", "github"},
			ApprovalThreshold: 60,
			Budget:            Limits{MaxTokensPerSession: 400_000, MaxCostPerDay: 60},
		},
		model.RoleTester: {
			Tools:             []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
			Paths:             []string{"tests/**", "testdata/**", "spec/**", "*.md"},
			APIs:              []string{},
			ApprovalThreshold: 40,
			Budget:            Limits{MaxTokensPerSession: 300_000, MaxCostPerDay: 40},
		},
		model.RoleAnalyst: {
			Tools:             []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch"},
			Paths:             []string{"docs/**", "reports/**", "data/**", "*.md", "*.csv"},
			APIs:              []string{"analytics"},
			ApprovalThreshold: 30,
			Budget:            Limits{MaxTokensPerSession: 200_000, MaxCostPerDay: 30},
		},
		model.RoleCoordinator: {
			Tools:             []string{"Read", "Glob", "Grep", "Task"},
			Paths:             []string{"*"},
			APIs:              []string{},
			RequiresApproval:  []string{string(model.OpAgentSpawn)},
			ApprovalThreshold: 80,
			Budget:            Limits{MaxTokensPerSession: 250_000, MaxCostPerDay: 40},
		},
	}
}
