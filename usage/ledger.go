// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"leadrelay/platform/orchestrator"
)

// Ledger persists usage records in Postgres and aggregates them into
// reports. Aggregation happens read-side in Go so new report shapes do
// not require schema changes.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a Ledger over an open database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Schema returns the DDL for the ledger table.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS usage_records (
    id BIGSERIAL PRIMARY KEY,
    request_id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    model_id TEXT NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    estimated_cost DOUBLE PRECISION NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    context JSONB,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_records_user
    ON usage_records (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_records_model
    ON usage_records (model_id, created_at);
`
}

// Append writes one record. The ledger is append-only; there is no
// update or delete path.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	var contextJSON []byte
	if rec.Context != nil {
		b, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("marshaling record context: %w", err)
		}
		contextJSON = b
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(request_id, user_id, model_id, input_tokens, output_tokens,
			 total_tokens, estimated_cost, currency, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.RequestID, rec.UserID, rec.ModelID, rec.InputTokens, rec.OutputTokens,
		rec.TotalTokens, rec.EstimatedCost, rec.Currency, contextJSON, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("appending usage record: %w", err)
	}
	return nil
}

// TrackGeneration implements orchestrator.UsageTracker.
func (l *Ledger) TrackGeneration(ctx context.Context, resp *orchestrator.GenerationResponse, userID string, reqContext map[string]any) error {
	return l.Append(ctx, Record{
		RequestID:     resp.RequestID,
		UserID:        userID,
		ModelID:       resp.ModelUsed,
		InputTokens:   resp.Usage.InputTokens,
		OutputTokens:  resp.Usage.OutputTokens,
		TotalTokens:   resp.Usage.TotalTokens,
		EstimatedCost: resp.EstimatedCost,
		Currency:      resp.Currency,
		Context:       reqContext,
		Timestamp:     resp.Timestamp,
	})
}

// UserReport aggregates one user's records over [from, to).
func (l *Ledger) UserReport(ctx context.Context, userID string, from, to time.Time) (*Report, error) {
	records, err := l.queryRecords(ctx, `
		SELECT user_id, model_id, input_tokens, output_tokens, total_tokens,
		       estimated_cost, currency, created_at
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`, userID, from, to)
	if err != nil {
		return nil, err
	}
	report := aggregate(records, from, to, false)
	report.UserID = userID
	return report, nil
}

// SystemReport aggregates all records over [from, to), including the
// top-spenders list.
func (l *Ledger) SystemReport(ctx context.Context, from, to time.Time) (*Report, error) {
	records, err := l.queryRecords(ctx, `
		SELECT user_id, model_id, input_tokens, output_tokens, total_tokens,
		       estimated_cost, currency, created_at
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`, from, to)
	if err != nil {
		return nil, err
	}
	return aggregate(records, from, to, true), nil
}

// ModelReport aggregates one model's records over [from, to).
func (l *Ledger) ModelReport(ctx context.Context, modelID string, from, to time.Time) (*ModelBreakdown, error) {
	records, err := l.queryRecords(ctx, `
		SELECT user_id, model_id, input_tokens, output_tokens, total_tokens,
		       estimated_cost, currency, created_at
		FROM usage_records
		WHERE model_id = $1 AND created_at >= $2 AND created_at < $3`, modelID, from, to)
	if err != nil {
		return nil, err
	}

	out := &ModelBreakdown{ModelID: modelID}
	for _, r := range records {
		out.RequestCount++
		out.InputTokens += int64(r.InputTokens)
		out.OutputTokens += int64(r.OutputTokens)
		out.TotalTokens += int64(r.TotalTokens)
		out.TotalCost += r.EstimatedCost
	}
	return out, nil
}

func (l *Ledger) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.UserID, &r.ModelID, &r.InputTokens, &r.OutputTokens,
			&r.TotalTokens, &r.EstimatedCost, &r.Currency, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// topUserLimit caps the top-spenders list in system reports.
const topUserLimit = 10

// aggregate folds records into a report: totals, per-model breakdown,
// daily rollups, and optionally top spenders.
func aggregate(records []Record, from, to time.Time, withTopUsers bool) *Report {
	report := &Report{From: from, To: to}
	byModel := make(map[string]*ModelBreakdown)
	byDay := make(map[string]*DailyRollup)
	byUser := make(map[string]*UserSpend)

	for _, r := range records {
		report.RequestCount++
		report.TotalTokens += int64(r.TotalTokens)
		report.TotalCost += r.EstimatedCost
		if report.Currency == "" {
			report.Currency = r.Currency
		}

		m, ok := byModel[r.ModelID]
		if !ok {
			m = &ModelBreakdown{ModelID: r.ModelID}
			byModel[r.ModelID] = m
		}
		m.RequestCount++
		m.InputTokens += int64(r.InputTokens)
		m.OutputTokens += int64(r.OutputTokens)
		m.TotalTokens += int64(r.TotalTokens)
		m.TotalCost += r.EstimatedCost

		day := r.Timestamp.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DailyRollup{Date: day}
			byDay[day] = d
		}
		d.RequestCount++
		d.TotalTokens += int64(r.TotalTokens)
		d.TotalCost += r.EstimatedCost

		if withTopUsers && r.UserID != "" {
			u, ok := byUser[r.UserID]
			if !ok {
				u = &UserSpend{UserID: r.UserID}
				byUser[r.UserID] = u
			}
			u.TotalTokens += int64(r.TotalTokens)
			u.TotalCost += r.EstimatedCost
		}
	}

	for _, m := range byModel {
		report.ByModel = append(report.ByModel, *m)
	}
	sort.Slice(report.ByModel, func(i, j int) bool {
		return report.ByModel[i].TotalCost > report.ByModel[j].TotalCost
	})

	for _, d := range byDay {
		report.Daily = append(report.Daily, *d)
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		return report.Daily[i].Date < report.Daily[j].Date
	})

	if withTopUsers {
		for _, u := range byUser {
			report.TopUsers = append(report.TopUsers, *u)
		}
		sort.Slice(report.TopUsers, func(i, j int) bool {
			return report.TopUsers[i].TotalCost > report.TopUsers[j].TotalCost
		})
		if len(report.TopUsers) > topUserLimit {
			report.TopUsers = report.TopUsers[:topUserLimit]
		}
	}
	return report
}
