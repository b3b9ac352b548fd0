package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrRunNotFound = errors.New("agent run not found")

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type AgentRunRecord struct {
	ID         string
	UserID     int64
	Profile    string
	Status     string
	FinalText  string
	Steps      int
	CreatedAt  time.Time
	FinishedAt time.Time
}

func (s *Store) CreateAgentRun(ctx context.Context, userID int64, profile string) (AgentRunRecord, error) {
	id := "run_" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO agent_runs (id, user_id, profile, status, created_at_unix)
		 VALUES (?, ?, ?, 'running', ?)`,
		id,
		userID,
		strings.TrimSpace(profile),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return AgentRunRecord{}, fmt.Errorf("insert agent run: %w", err)
	}
	return s.LookupAgentRun(ctx, id)
}

func (s *Store) FinishAgentRun(ctx context.Context, id, status, finalText string, steps int) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE agent_runs
		 SET status = ?, final_text = ?, steps = ?, finished_at_unix = ?
		 WHERE id = ?`,
		status,
		nullIfEmpty(finalText),
		steps,
		time.Now().UTC().Unix(),
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("finish agent run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) LookupAgentRun(ctx context.Context, id string) (AgentRunRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, profile, status, COALESCE(final_text, ''), steps,
		        created_at_unix, COALESCE(finished_at_unix, 0)
		 FROM agent_runs WHERE id = ?`,
		strings.TrimSpace(id),
	)
	var record AgentRunRecord
	var createdUnix, finishedUnix int64
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Profile,
		&record.Status,
		&record.FinalText,
		&record.Steps,
		&createdUnix,
		&finishedUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentRunRecord{}, ErrRunNotFound
		}
		return AgentRunRecord{}, fmt.Errorf("scan agent run row: %w", err)
	}
	record.CreatedAt = time.Unix(createdUnix, 0).UTC()
	if finishedUnix > 0 {
		record.FinishedAt = time.Unix(finishedUnix, 0).UTC()
	}
	return record, nil
}

type ToolCallAudit struct {
	RunID    string
	UserID   int64
	ToolName string
	ArgsJSON string
	OK       bool
	Error    string
}

// RecordToolCall appends one audit row per tool invocation.
func (s *Store) RecordToolCall(ctx context.Context, audit ToolCallAudit) error {
	args := strings.TrimSpace(audit.ArgsJSON)
	if args == "" {
		args = "{}"
	}
	okInt := 0
	if audit.OK {
		okInt = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tool_audit (run_id, user_id, tool_name, args_json, ok, error_message, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(audit.RunID),
		audit.UserID,
		strings.TrimSpace(audit.ToolName),
		args,
		okInt,
		nullIfEmpty(strings.TrimSpace(audit.Error)),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert tool audit: %w", err)
	}
	return nil
}

// ListToolCalls returns the audit rows for a run, oldest first.
func (s *Store) ListToolCalls(ctx context.Context, runID string) ([]ToolCallAudit, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, user_id, tool_name, args_json, ok, COALESCE(error_message, '')
		 FROM tool_audit WHERE run_id = ? ORDER BY id ASC`,
		strings.TrimSpace(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	results := []ToolCallAudit{}
	for rows.Next() {
		var audit ToolCallAudit
		var okInt int
		if err := rows.Scan(&audit.RunID, &audit.UserID, &audit.ToolName, &audit.ArgsJSON, &okInt, &audit.Error); err != nil {
			return nil, fmt.Errorf("scan tool audit row: %w", err)
		}
		audit.OK = okInt != 0
		results = append(results, audit)
	}
	return results, nil
}

type TokenUsage struct {
	RunID        string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// RecordTokenUsage appends one usage row per model call.
func (s *Store) RecordTokenUsage(ctx context.Context, usage TokenUsage) error {
	total := usage.TotalTokens
	if total == 0 {
		total = usage.InputTokens + usage.OutputTokens
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO token_usage_events (run_id, model, input_tokens, output_tokens, total_tokens, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(usage.RunID),
		strings.TrimSpace(usage.Model),
		usage.InputTokens,
		usage.OutputTokens,
		total,
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}
	return nil
}
