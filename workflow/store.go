// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists execution state and the step log. The store is the
// system of record; the executor's active-run registry is a per-process
// cache over it.
type Store interface {
	SaveExecution(ctx context.Context, state *ExecutionState) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionState, error)
	InsertStep(ctx context.Context, step StepRecord) error
	ListSteps(ctx context.Context, executionID string) ([]StepRecord, error)
}

// PostgresStore implements Store. Variables and messages are stored as
// JSONB documents; the queryable fields get their own columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema returns the DDL for the store's tables. The caller owns
// migration execution.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS workflow_executions (
    execution_id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    lead_id TEXT NOT NULL DEFAULT '',
    current_node TEXT NOT NULL DEFAULT '',
    variables JSONB NOT NULL DEFAULT '{}',
    messages JSONB NOT NULL DEFAULT '[]',
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow
    ON workflow_executions (workflow_id, created_at);

CREATE TABLE IF NOT EXISTS workflow_steps (
    id BIGSERIAL PRIMARY KEY,
    execution_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    step_type TEXT NOT NULL,
    data JSONB,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_execution
    ON workflow_steps (execution_id, id);
`
}

// SaveExecution upserts the full execution state.
func (s *PostgresStore) SaveExecution(ctx context.Context, state *ExecutionState) error {
	variables, err := json.Marshal(state.Variables)
	if err != nil {
		return fmt.Errorf("marshaling variables: %w", err)
	}
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(execution_id, workflow_id, lead_id, current_node, variables,
			 messages, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id) DO UPDATE
		SET current_node = EXCLUDED.current_node,
		    variables = EXCLUDED.variables,
		    messages = EXCLUDED.messages,
		    status = EXCLUDED.status,
		    error = EXCLUDED.error,
		    updated_at = EXCLUDED.updated_at`,
		state.ExecutionID, state.WorkflowID, state.LeadID, state.CurrentNode,
		variables, messages, string(state.Status), state.Error,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving execution %s: %w", state.ExecutionID, err)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*ExecutionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, lead_id, current_node, variables,
		       messages, status, error, created_at, updated_at
		FROM workflow_executions WHERE execution_id = $1`, executionID)

	var state ExecutionState
	var variables, messages []byte
	var status string
	err := row.Scan(
		&state.ExecutionID, &state.WorkflowID, &state.LeadID, &state.CurrentNode,
		&variables, &messages, &status, &state.Error,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning execution %s: %w", executionID, err)
	}
	state.Status = Status(status)

	if err := json.Unmarshal(variables, &state.Variables); err != nil {
		return nil, fmt.Errorf("unmarshaling variables for %s: %w", executionID, err)
	}
	if err := json.Unmarshal(messages, &state.Messages); err != nil {
		return nil, fmt.Errorf("unmarshaling messages for %s: %w", executionID, err)
	}
	return &state, nil
}

// InsertStep appends one step record.
func (s *PostgresStore) InsertStep(ctx context.Context, step StepRecord) error {
	var data []byte
	if step.Data != nil {
		b, err := json.Marshal(step.Data)
		if err != nil {
			return fmt.Errorf("marshaling step data: %w", err)
		}
		data = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (execution_id, node_id, step_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		step.ExecutionID, step.NodeID, string(step.StepType), data, step.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting step for %s: %w", step.ExecutionID, err)
	}
	return nil
}

// ListSteps returns an execution's step log in insertion order.
func (s *PostgresStore) ListSteps(ctx context.Context, executionID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, node_id, step_type, data, created_at
		FROM workflow_steps
		WHERE execution_id = $1
		ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing steps for %s: %w", executionID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []StepRecord
	for rows.Next() {
		var step StepRecord
		var stepType string
		var data []byte
		if err := rows.Scan(&step.ExecutionID, &step.NodeID, &stepType,
			&data, &step.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		step.StepType = NodeType(stepType)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &step.Data); err != nil {
				return nil, fmt.Errorf("unmarshaling step data: %w", err)
			}
		}
		out = append(out, step)
	}
	return out, rows.Err()
}
