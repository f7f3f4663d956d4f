package rbac

// DefaultTableYAML returns a commented YAML skeleton for init-rules.
// Roles omitted from the file keep their built-in rules.
func DefaultTableYAML() string {
	return `# toolgate rule table
# Generated by: toolgate init-rules
#
# Ten fixed roles: admin, developer, reviewer, security, database,
# frontend, backend, tester, analyst, coordinator. Each role carries
# allow-lists for tools, paths and APIs, an approval set keyed by
# operation, and budget ceilings.
#
# Matching:
#   tools / api_access: exact names, or "*" for the whole dimension
#   paths: glob list. "**" matches any segment sequence, "*" exactly one
#          segment, and a bare "*" entry allows all paths.
#   requires_approval: operations (file_read, file_write, shell_exec,
#          process_kill, api_call, agent_spawn) flagged for human sign-off.
#          Advisory — the operation is marked, not denied.

analyst:
  tools: [Read, Glob, Grep, WebFetch, WebSearch]
  paths: ["docs/**", "reports/**", "data/**", "*.md", "*.csv"]
  api_access: [analytics]
  requires_approval: []
  approval_threshold: 30
  budget:
    max_tokens_per_session: 200000
    max_cost_per_day: 30.0

frontend:
  tools: [Read, Write, Edit, Glob, Grep]
  paths: ["frontend/**", "ui/**", "shared/**", "public/**", "*.md"]
  api_access: [figma, npm]
  requires_approval: []
  approval_threshold: 60
  budget:
    max_tokens_per_session: 400000
    max_cost_per_day: 60.0
`
}
