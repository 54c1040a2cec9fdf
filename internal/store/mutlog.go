package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxLoggedParamsSize bounds the serialized params stored per log
// entry. Oversized payloads are truncated, not rejected: the log must
// accept every entry.
const maxLoggedParamsSize = 10 * 1024 // 10KB

// MutationLogEntry is an immutable audit record. Every invocation of a
// mutation action, successful or not, produces exactly one entry.
type MutationLogEntry struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	TargetID    string `json:"target_id,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Params      string `json:"params"`
	Reason      string `json:"reason,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"timestamp"`
}

// AppendMutation stores one audit record. Params larger than 10KB are
// truncated.
func (q *Queries) AppendMutation(ctx context.Context, e *MutationLogEntry) error {
	if len(e.Params) > maxLoggedParamsSize {
		e.Params = e.Params[:maxLoggedParamsSize]
	}
	if e.Params == "" {
		e.Params = "{}"
	}
	now := time.Now().UnixMilli()

	success := 0
	if e.Success {
		success = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mutation_log (id, action, target_id, source_id, params,
			reason, triggered_by, session_id, success, error, created_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)
	`, e.ID, e.Action, e.TargetID, e.SourceID, e.Params,
		e.Reason, e.TriggeredBy, e.SessionID, success, e.Error, now)
	if err != nil {
		return fmt.Errorf("append mutation: %w", err)
	}
	e.CreatedAt = now
	return nil
}

// ListMutations returns up to limit log entries in (created_at, id)
// order, oldest first. That pair is the only global ordering the
// engine guarantees across nodes.
func (q *Queries) ListMutations(ctx context.Context, limit int) ([]MutationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, action, target_id, source_id, params, reason,
			triggered_by, session_id, success, error, created_at
		FROM mutation_log ORDER BY created_at ASC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()
	return scanMutations(rows)
}

// ListMutationsForTarget returns all log entries touching a node,
// oldest first.
func (q *Queries) ListMutationsForTarget(ctx context.Context, targetID string) ([]MutationLogEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, action, target_id, source_id, params, reason,
			triggered_by, session_id, success, error, created_at
		FROM mutation_log WHERE target_id = ?
		ORDER BY created_at ASC, id ASC
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list mutations for target: %w", err)
	}
	defer rows.Close()
	return scanMutations(rows)
}

// CountMutations returns the total number of log entries.
func (q *Queries) CountMutations(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutation_log").Scan(&count)
	return count, err
}

func scanMutations(rows *sql.Rows) ([]MutationLogEntry, error) {
	var entries []MutationLogEntry
	for rows.Next() {
		var e MutationLogEntry
		var targetID, sourceID, reason, triggeredBy, sessionID, errMsg sql.NullString
		var success int
		if err := rows.Scan(&e.ID, &e.Action, &targetID, &sourceID, &e.Params,
			&reason, &triggeredBy, &sessionID, &success, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		e.TargetID = targetID.String
		e.SourceID = sourceID.String
		e.Reason = reason.String
		e.TriggeredBy = triggeredBy.String
		e.SessionID = sessionID.String
		e.Error = errMsg.String
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
