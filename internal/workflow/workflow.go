// Package workflow is C2: the durable journal that lets dispatcher (C8)
// steps survive a crash. Grounded on the same Postgres transaction shape as
// the teacher's stock reservation store (BeginTx / defer Rollback / explicit
// Commit, atomic conditional UPDATE guarded by RowsAffected).
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// StaleThreshold is how long a workflow may go without a heartbeat before
// the recovery worker considers it stuck.
const StaleThreshold = 2 * time.Minute

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal { return &Journal{db: db} }

// Begin starts a new workflow at its zero step.
func (j *Journal) Begin(ctx context.Context, wfType domain.WorkflowType, orderID *string) (string, error) {
	id := uuid.New().String()
	const query = `
		INSERT INTO workflow_states (id, order_id, type, current_step, step_state, status, heartbeat_at, started_at, attempts)
		VALUES ($1, $2, $3, '', '{}', 'IN_PROGRESS', NOW(), NOW(), 0)
	`
	if _, err := j.db.ExecContext(ctx, query, id, orderID, wfType); err != nil {
		return "", fmt.Errorf("workflow: begin: %w", err)
	}
	return id, nil
}

// Advance atomically sets the current step and step_state and refreshes the
// heartbeat. It is idempotent: advancing to the step the workflow is
// already at is a no-op success, not an error, satisfying the journal's
// duplicate-advance invariant.
func (j *Journal) Advance(ctx context.Context, wfID, step string, stepState map[string]any) error {
	encoded, err := json.Marshal(stepState)
	if err != nil {
		return fmt.Errorf("workflow: encode step_state: %w", err)
	}

	const query = `
		UPDATE workflow_states
		SET current_step = $2, step_state = $3, heartbeat_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`
	result, err := j.db.ExecContext(ctx, query, wfID, step, encoded)
	if err != nil {
		return fmt.Errorf("workflow: advance %s to %s: %w", wfID, step, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("workflow: %s is not IN_PROGRESS, cannot advance", wfID)
	}
	return nil
}

// Complete marks a workflow COMPLETED. Completed workflows are never
// resumed by scan_stale or scan_incomplete.
func (j *Journal) Complete(ctx context.Context, wfID string) error {
	const query = `UPDATE workflow_states SET status = 'COMPLETED', heartbeat_at = NOW() WHERE id = $1`
	if _, err := j.db.ExecContext(ctx, query, wfID); err != nil {
		return fmt.Errorf("workflow: complete %s: %w", wfID, err)
	}
	return nil
}

// Fail marks a workflow FAILED, incrementing its attempt counter.
func (j *Journal) Fail(ctx context.Context, wfID string, cause error) error {
	const query = `
		UPDATE workflow_states
		SET status = 'FAILED', attempts = attempts + 1, last_error = $2, heartbeat_at = NOW()
		WHERE id = $1
	`
	if _, err := j.db.ExecContext(ctx, query, wfID, cause.Error()); err != nil {
		return fmt.Errorf("workflow: fail %s: %w", wfID, err)
	}
	return nil
}

// Get loads a workflow by id, decoding step_state back into a map.
func (j *Journal) Get(ctx context.Context, wfID string) (domain.WorkflowState, error) {
	const query = `
		SELECT id, order_id, type, current_step, step_state, status, heartbeat_at, started_at, attempts, last_error
		FROM workflow_states WHERE id = $1
	`
	return j.scanOne(j.db.QueryRowContext(ctx, query, wfID))
}

func (j *Journal) scanOne(row *sql.Row) (domain.WorkflowState, error) {
	var wf domain.WorkflowState
	var orderID sql.NullString
	var rawState []byte
	var lastError sql.NullString
	if err := row.Scan(&wf.ID, &orderID, &wf.Type, &wf.CurrentStep, &rawState, &wf.Status,
		&wf.HeartbeatAt, &wf.StartedAt, &wf.Attempts, &lastError); err != nil {
		return domain.WorkflowState{}, fmt.Errorf("workflow: scan: %w", err)
	}
	if orderID.Valid {
		wf.OrderID = &orderID.String
	}
	wf.LastError = lastError.String
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &wf.StepState); err != nil {
			return domain.WorkflowState{}, fmt.Errorf("workflow: decode step_state: %w", err)
		}
	}
	return wf, nil
}

// ScanStale returns IN_PROGRESS workflows whose heartbeat is older than
// StaleThreshold. The recovery worker surfaces them to the admin queue;
// nothing resumes them from their stored step.
func (j *Journal) ScanStale(ctx context.Context, now time.Time) ([]domain.WorkflowState, error) {
	const query = `
		SELECT id, order_id, type, current_step, step_state, status, heartbeat_at, started_at, attempts, last_error
		FROM workflow_states
		WHERE status = 'IN_PROGRESS' AND heartbeat_at < $1
		ORDER BY heartbeat_at
	`
	return j.scanMany(ctx, query, now.Add(-StaleThreshold))
}

// ScanIncomplete returns every IN_PROGRESS workflow, used once at process
// startup to reclaim anything orphaned by a prior crash.
func (j *Journal) ScanIncomplete(ctx context.Context) ([]domain.WorkflowState, error) {
	const query = `
		SELECT id, order_id, type, current_step, step_state, status, heartbeat_at, started_at, attempts, last_error
		FROM workflow_states
		WHERE status = 'IN_PROGRESS'
		ORDER BY started_at
	`
	return j.scanMany(ctx, query)
}

func (j *Journal) scanMany(ctx context.Context, query string, args ...any) ([]domain.WorkflowState, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workflow: scan query: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowState
	for rows.Next() {
		var wf domain.WorkflowState
		var orderID sql.NullString
		var rawState []byte
		var lastError sql.NullString
		if err := rows.Scan(&wf.ID, &orderID, &wf.Type, &wf.CurrentStep, &rawState, &wf.Status,
			&wf.HeartbeatAt, &wf.StartedAt, &wf.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("workflow: scan row: %w", err)
		}
		if orderID.Valid {
			wf.OrderID = &orderID.String
		}
		wf.LastError = lastError.String
		if len(rawState) > 0 {
			if err := json.Unmarshal(rawState, &wf.StepState); err != nil {
				return nil, fmt.Errorf("workflow: decode step_state: %w", err)
			}
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}
