package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	agent_id      TEXT NOT NULL DEFAULT '',
	agent_role    TEXT NOT NULL DEFAULT '',
	operation     TEXT NOT NULL DEFAULT '',
	tool_name     TEXT NOT NULL DEFAULT '',
	file_path     TEXT NOT NULL DEFAULT '',
	api_name      TEXT NOT NULL DEFAULT '',
	allowed       INTEGER NOT NULL,
	denied_reason TEXT NOT NULL DEFAULT '',
	budget_impact REAL NOT NULL DEFAULT 0,
	session_id    TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
CREATE VIEW IF NOT EXISTS audit_denials AS
	SELECT * FROM audit_entries WHERE allowed = 0;
`

// SQLStore is the primary durable audit sink, backed by SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the audit database and applies the schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("audit: open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Append inserts one entry. Timestamp is filled if empty.
func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = Now()
	}
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
		meta = string(b)
	}

	allowed := 0
	if e.Allowed {
		allowed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(ts, agent_id, agent_role, operation, tool_name, file_path, api_name,
			 allowed, denied_reason, budget_impact, session_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.AgentID, e.AgentRole, e.Operation, e.Tool, e.FilePath, e.APIName,
		allowed, e.DeniedReason, e.BudgetImpact, e.SessionID, meta)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// ByAgent returns the most recent entries for an agent, newest first.
func (s *SQLStore) ByAgent(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, agent_id, agent_role, operation, tool_name, file_path, api_name,
		       allowed, denied_reason, budget_impact, session_id, metadata
		FROM audit_entries WHERE agent_id = ?
		ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by agent: %w", err)
	}
	return scanEntries(rows)
}

// Denials returns the most recent denied entries, newest first.
func (s *SQLStore) Denials(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, agent_id, agent_role, operation, tool_name, file_path, api_name,
		       allowed, denied_reason, budget_impact, session_id, metadata
		FROM audit_denials ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query denials: %w", err)
	}
	return scanEntries(rows)
}

// AgentBudget aggregates budget impact for one agent.
type AgentBudget struct {
	AgentID     string  `json:"agent_id"`
	TotalImpact float64 `json:"total_impact"`
	Entries     int64   `json:"entries"`
}

// BudgetSummary aggregates budget impact per agent, largest first.
func (s *SQLStore) BudgetSummary(ctx context.Context) ([]AgentBudget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, SUM(budget_impact), COUNT(*)
		FROM audit_entries
		GROUP BY agent_id
		ORDER BY SUM(budget_impact) DESC`)
	if err != nil {
		return nil, fmt.Errorf("audit: budget summary: %w", err)
	}
	defer rows.Close()

	var out []AgentBudget
	for rows.Next() {
		var b AgentBudget
		if err := rows.Scan(&b.AgentID, &b.TotalImpact, &b.Entries); err != nil {
			return nil, fmt.Errorf("audit: scan budget summary: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// OpCount is one row of the operation frequency report.
type OpCount struct {
	Operation string `json:"operation"`
	Tool      string `json:"tool_name"`
	Count     int64  `json:"count"`
}

// OperationFrequency counts operations over a trailing window, most
// frequent first.
func (s *SQLStore) OperationFrequency(ctx context.Context, window time.Duration) ([]OpCount, error) {
	since := time.Now().UTC().Add(-window).Format(TimestampFormat)
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation, tool_name, COUNT(*)
		FROM audit_entries
		WHERE ts >= ?
		GROUP BY operation, tool_name
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("audit: operation frequency: %w", err)
	}
	defer rows.Close()

	var out []OpCount
	for rows.Next() {
		var c OpCount
		if err := rows.Scan(&c.Operation, &c.Tool, &c.Count); err != nil {
			return nil, fmt.Errorf("audit: scan operation frequency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var allowed int
		var meta string
		if err := rows.Scan(&e.Timestamp, &e.AgentID, &e.AgentRole, &e.Operation,
			&e.Tool, &e.FilePath, &e.APIName, &allowed, &e.DeniedReason,
			&e.BudgetImpact, &e.SessionID, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Allowed = allowed == 1
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
