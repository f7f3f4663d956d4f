package rbac

import (
	"fmt"
	"time"

	"github.com/toolgate/toolgate/internal/model"
)

// Request carries the dimensions of one permission check.
type Request struct {
	Role            model.Role
	Tool            model.Tool
	FilePath        string
	APIName         string
	EstimatedTokens int64
}

// Checker evaluates permission requests against an immutable rule table.
// It is a pure function over the table: no locks, fully parallelizable.
type Checker struct {
	table *Table
}

// NewChecker creates a Checker over the given table.
func NewChecker(table *Table) *Checker {
	return &Checker{table: table}
}

// Table returns the checker's rule table.
func (c *Checker) Table() *Table {
	return c.table
}

// CheckPermission evaluates all dimensions short-circuit, in order: role,
// tool, path, API, approval, budget impact. Denial reasons are short and
// name only the offending dimension.
func (c *Checker) CheckPermission(req Request) model.Decision {
	start := time.Now()
	d := c.check(req)
	d.CheckTime = time.Since(start)
	return d
}

func (c *Checker) check(req Request) model.Decision {
	rule, ok := c.table.Rule(req.Role)
	if !ok {
		return model.Deny(fmt.Sprintf("unknown role: %q", req.Role))
	}

	if !rule.AllowsTool(req.Tool) {
		return model.Deny(fmt.Sprintf("Tool %q is not in role's allowed tools (role: %s)", req.Tool, req.Role))
	}

	if req.FilePath != "" && !rule.AllowsPath(req.FilePath) {
		return model.Deny(fmt.Sprintf("Path access denied: %s (role: %s)", NormalizePath(req.FilePath), req.Role))
	}

	if req.APIName != "" && !rule.AllowsAPI(req.APIName) {
		return model.Deny(fmt.Sprintf("API access denied: %s (role: %s)", req.APIName, req.Role))
	}

	d := model.Decision{
		Allowed:      true,
		Reason:       "permitted",
		BudgetImpact: EstimateImpact(req.Tool, req.EstimatedTokens),
	}

	// Approval is advisory metadata for the human-in-the-loop gate,
	// never a denial at this layer.
	if rule.NeedsApproval(req.Tool.Operation()) {
		d.RequiresApproval = true
		d.Approvers = []string{"human"}
		d.Reason = fmt.Sprintf("permitted, requires approval for %s", req.Tool.Operation())
	}

	return d
}

// CheckToolPermission checks only the tool dimension.
func (c *Checker) CheckToolPermission(role model.Role, tool model.Tool) model.Decision {
	start := time.Now()
	d := c.checkTool(role, tool)
	d.CheckTime = time.Since(start)
	return d
}

func (c *Checker) checkTool(role model.Role, tool model.Tool) model.Decision {
	rule, ok := c.table.Rule(role)
	if !ok {
		return model.Deny(fmt.Sprintf("unknown role: %q", role))
	}
	if !rule.AllowsTool(tool) {
		return model.Deny(fmt.Sprintf("Tool %q is not in role's allowed tools (role: %s)", tool, role))
	}
	return model.Decision{Allowed: true, Reason: "permitted"}
}

// CheckPathPermission checks only the path dimension.
func (c *Checker) CheckPathPermission(role model.Role, filePath string) model.Decision {
	start := time.Now()
	d := c.checkPath(role, filePath)
	d.CheckTime = time.Since(start)
	return d
}

func (c *Checker) checkPath(role model.Role, filePath string) model.Decision {
	rule, ok := c.table.Rule(role)
	if !ok {
		return model.Deny(fmt.Sprintf("unknown role: %q", role))
	}
	if !rule.AllowsPath(filePath) {
		return model.Deny(fmt.Sprintf("Path access denied: %s (role: %s)", NormalizePath(filePath), role))
	}
	return model.Decision{Allowed: true, Reason: "permitted"}
}

// CheckAPIPermission checks only the API dimension.
func (c *Checker) CheckAPIPermission(role model.Role, apiName string) model.Decision {
	start := time.Now()
	d := c.checkAPI(role, apiName)
	d.CheckTime = time.Since(start)
	return d
}

func (c *Checker) checkAPI(role model.Role, apiName string) model.Decision {
	rule, ok := c.table.Rule(role)
	if !ok {
		return model.Deny(fmt.Sprintf("unknown role: %q", role))
	}
	if !rule.AllowsAPI(apiName) {
		return model.Deny(fmt.Sprintf("API access denied: %s (role: %s)", apiName, role))
	}
	return model.Decision{Allowed: true, Reason: "permitted"}
}
