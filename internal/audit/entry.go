package audit

import "time"

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one governance decision record. Append-only: entries are never
// updated or deleted.
type Entry struct {
	Timestamp    string            `json:"ts"`
	AgentID      string            `json:"agent_id"`
	AgentRole    string            `json:"agent_role"`
	Operation    string            `json:"operation"`
	Tool         string            `json:"tool_name"`
	FilePath     string            `json:"file_path,omitempty"`
	APIName      string            `json:"api_name,omitempty"`
	Allowed      bool              `json:"allowed"`
	DeniedReason string            `json:"denied_reason,omitempty"`
	BudgetImpact float64           `json:"budget_impact"`
	SessionID    string            `json:"session_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// PrevHash links entries in the fallback chain log. Unset for rows in
	// the primary store.
	PrevHash string `json:"prev_hash,omitempty"`
}

// Now returns the current UTC time in the audit timestamp layout.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}
