// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrRuleSetNotFound is returned when a rule set id has no row.
var ErrRuleSetNotFound = fmt.Errorf("rule set not found")

// PostgresStore persists rule sets and usage events. Rules are stored as
// a JSONB document per set; the set-level columns carry the queryable
// metadata.
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
CREATE TABLE IF NOT EXISTS rule_sets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rules JSONB NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    applies_to_models TEXT[] NOT NULL DEFAULT '{}',
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    usage_count BIGINT NOT NULL DEFAULT 0,
    last_used TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rule_usage_events (
    id BIGSERIAL PRIMARY KEY,
    rule_set_id TEXT NOT NULL,
    rule_ids TEXT[] NOT NULL,
    phase TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_usage_events_set
    ON rule_usage_events (rule_set_id, created_at);
`
}

// InsertRuleSet persists a new rule set.
func (s *PostgresStore) InsertRuleSet(ctx context.Context, rs *RuleSet) error {
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_sets
			(id, name, description, rules, is_active, applies_to_models,
			 created_by, created_at, updated_at, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)`,
		rs.ID, rs.Name, rs.Description, rulesJSON, rs.IsActive,
		pq.Array(rs.AppliesToModels), rs.CreatedBy, rs.CreatedAt, rs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rule set %s: %w", rs.ID, err)
	}
	return nil
}

// GetRuleSet loads one rule set by id.
func (s *PostgresStore) GetRuleSet(ctx context.Context, id string) (*RuleSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rules, is_active, applies_to_models,
		       created_by, created_at, updated_at, usage_count, last_used
		FROM rule_sets WHERE id = $1`, id)
	return scanRuleSet(row)
}

// ListRuleSets returns all rule sets, optionally filtered by creator,
// newest first.
func (s *PostgresStore) ListRuleSets(ctx context.Context, createdBy string) ([]*RuleSet, error) {
	query := `
		SELECT id, name, description, rules, is_active, applies_to_models,
		       created_by, created_at, updated_at, usage_count, last_used
		FROM rule_sets`
	args := []any{}
	if createdBy != "" {
		query += ` WHERE created_by = $1`
		args = append(args, createdBy)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing rule sets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// UpdateRuleSet replaces the mutable columns of an existing set.
func (s *PostgresStore) UpdateRuleSet(ctx context.Context, rs *RuleSet) error {
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE rule_sets
		SET name = $2, description = $3, rules = $4, is_active = $5,
		    applies_to_models = $6, updated_at = $7
		WHERE id = $1`,
		rs.ID, rs.Name, rs.Description, rulesJSON, rs.IsActive,
		pq.Array(rs.AppliesToModels), rs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating rule set %s: %w", rs.ID, err)
	}
	return requireOneRow(res, rs.ID)
}

// DeleteRuleSet removes a rule set.
func (s *PostgresStore) DeleteRuleSet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rule_sets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting rule set %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// IncrementUsage atomically bumps the usage counter and last-used stamp.
func (s *PostgresStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rule_sets
		SET usage_count = usage_count + 1, last_used = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", id, err)
	}
	return nil
}

// InsertUsageEvent appends one usage event row.
func (s *PostgresStore) InsertUsageEvent(ctx context.Context, event UsageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_usage_events (rule_set_id, rule_ids, phase, created_at)
		VALUES ($1, $2, $3, $4)`,
		event.RuleSetID, pq.Array(event.RuleIDs), event.Phase, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*RuleSet, error) {
	var rs RuleSet
	var rulesJSON []byte
	var appliesTo pq.StringArray
	var lastUsed sql.NullTime

	err := row.Scan(
		&rs.ID, &rs.Name, &rs.Description, &rulesJSON, &rs.IsActive,
		&appliesTo, &rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt,
		&rs.UsageCount, &lastUsed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRuleSetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning rule set: %w", err)
	}

	if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules for %s: %w", rs.ID, err)
	}
	rs.AppliesToModels = appliesTo
	if lastUsed.Valid {
		t := lastUsed.Time
		rs.LastUsed = &t
	}
	return &rs, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleSetNotFound
	}
	return nil
}
