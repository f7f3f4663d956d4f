package rbac

import (
	"github.com/toolgate/toolgate/internal/budget"
	"github.com/toolgate/toolgate/internal/model"
)

// toolTokenOverhead is the fixed per-tool token cost added to the caller's
// estimate when projecting budget impact. Rough by design: the budget
// tracker deducts actual counts after execution.
var toolTokenOverhead = map[model.Tool]int64{
	model.ToolRead:      200,
	model.ToolWrite:     300,
	model.ToolEdit:      250,
	model.ToolBash:      150,
	model.ToolGlob:      100,
	model.ToolGrep:      100,
	model.ToolWebFetch:  500,
	model.ToolWebSearch: 600,
	model.ToolTask:      1000,
	model.ToolKillShell: 50,
	model.ToolUnknown:   250,
}

// EstimateImpact returns the informational dollar impact of an operation:
// the estimate plus the tool's fixed overhead, priced as input tokens.
// The budget tracker enforces independently; this is advisory metadata.
func EstimateImpact(tool model.Tool, estimatedTokens int64) float64 {
	return budget.CalculateCost(estimatedTokens+toolTokenOverhead[tool], 0)
}
