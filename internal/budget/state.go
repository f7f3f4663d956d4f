package budget

import "time"

// BudgetState is a point-in-time snapshot of one agent's counters.
// Session tokens and daily cost reset independently: ResetSession touches
// only the token counter, the daily rollover touches only cost and blocks.
type BudgetState struct {
	AgentID           string    `json:"agent_id"`
	SessionTokensUsed int64     `json:"session_tokens_used"`
	SessionTokenLimit int64     `json:"session_token_limit"`
	DailyCostUsed     float64   `json:"daily_cost_used"`
	DailyCostLimit    float64   `json:"daily_cost_limit"`
	OperationsBlocked int64     `json:"operations_blocked"`
	LastDailyReset    time.Time `json:"last_daily_reset"`
}

// CheckResult is the outcome of a pre-flight budget check.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
