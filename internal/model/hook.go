package model

// HookContext is the per-invocation context each pipeline stage receives.
// Field names follow the hook invocation contract of the host agent runtime.
type HookContext struct {
	ToolName        string            `json:"toolName"`
	Command         string            `json:"command,omitempty"`
	FilePath        string            `json:"file_path,omitempty"`
	APIName         string            `json:"api_name,omitempty"`
	AgentID         string            `json:"agentId,omitempty"`
	AgentName       string            `json:"agent_name,omitempty"`
	AgentRole       string            `json:"agentRole"`
	SessionID       string            `json:"session_id,omitempty"`
	EstimatedTokens int64             `json:"estimated_tokens,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Tool returns the enumerated tool for the context's tool name.
func (h *HookContext) Tool() Tool {
	return ParseTool(h.ToolName)
}

// HookResult is what a stage reports back to the host runtime.
// A blocking stage returning Allowed=false prevents the tool call.
// A non-blocking stage always reports Success=true and carries any
// internal error in Error for observability only.
type HookResult struct {
	Success       bool    `json:"success"`
	Allowed       bool    `json:"allowed"`
	Blocking      bool    `json:"blocking,omitempty"`
	Reason        string  `json:"reason"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"execution_time,omitempty"`
}
