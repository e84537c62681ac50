// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadrelay/platform/orchestrator"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLedger(db), mock
}

func TestAppend(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO usage_records`).
		WithArgs("req_1", "user-1", "gpt-4o", 100, 50, 150, 0.002, "USD",
			sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := ledger.Append(context.Background(), Record{
		RequestID:     "req_1",
		UserID:        "user-1",
		ModelID:       "gpt-4o",
		InputTokens:   100,
		OutputTokens:  50,
		TotalTokens:   150,
		EstimatedCost: 0.002,
		Currency:      "USD",
		Context:       map[string]any{"channel": "email"},
		Timestamp:     now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackGeneration(t *testing.T) {
	ledger, mock := newMockLedger(t)
	ts := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO usage_records`).
		WithArgs("req_9", "user-2", "claude-sonnet", 10, 20, 30, 0.0005, "USD",
			sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := ledger.TrackGeneration(context.Background(), &orchestrator.GenerationResponse{
		RequestID:     "req_9",
		ModelUsed:     "claude-sonnet",
		Usage:         orchestrator.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		EstimatedCost: 0.0005,
		Currency:      "USD",
		Timestamp:     ts,
	}, "user-2", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func recordRows(records ...Record) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"user_id", "model_id", "input_tokens", "output_tokens", "total_tokens",
		"estimated_cost", "currency", "created_at",
	})
	for _, r := range records {
		rows.AddRow(r.UserID, r.ModelID, r.InputTokens, r.OutputTokens,
			r.TotalTokens, r.EstimatedCost, r.Currency, r.Timestamp)
	}
	return rows
}

func TestUserReportAggregation(t *testing.T) {
	ledger, mock := newMockLedger(t)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	day1 := from.Add(10 * time.Hour)
	day2 := from.AddDate(0, 0, 1).Add(9 * time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM usage_records\s+WHERE user_id = \$1`).
		WithArgs("user-1", from, to).
		WillReturnRows(recordRows(
			Record{UserID: "user-1", ModelID: "gpt-4o", InputTokens: 100, OutputTokens: 50, TotalTokens: 150, EstimatedCost: 0.01, Currency: "USD", Timestamp: day1},
			Record{UserID: "user-1", ModelID: "gpt-4o", InputTokens: 200, OutputTokens: 100, TotalTokens: 300, EstimatedCost: 0.02, Currency: "USD", Timestamp: day1},
			Record{UserID: "user-1", ModelID: "llama3", InputTokens: 50, OutputTokens: 25, TotalTokens: 75, EstimatedCost: 0, Timestamp: day2},
		))

	report, err := ledger.UserReport(context.Background(), "user-1", from, to)
	require.NoError(t, err)

	assert.Equal(t, "user-1", report.UserID)
	assert.Equal(t, int64(3), report.RequestCount)
	assert.Equal(t, int64(525), report.TotalTokens)
	assert.InDelta(t, 0.03, report.TotalCost, 1e-12)
	assert.Equal(t, "USD", report.Currency)

	require.Len(t, report.ByModel, 2)
	assert.Equal(t, "gpt-4o", report.ByModel[0].ModelID, "breakdown is sorted by cost descending")
	assert.Equal(t, int64(2), report.ByModel[0].RequestCount)
	assert.Equal(t, int64(450), report.ByModel[0].TotalTokens)

	require.Len(t, report.Daily, 2)
	assert.Equal(t, "2026-08-01", report.Daily[0].Date)
	assert.Equal(t, int64(2), report.Daily[0].RequestCount)
	assert.Equal(t, "2026-08-02", report.Daily[1].Date)

	assert.Empty(t, report.TopUsers, "user reports carry no top-spenders list")
}

func TestSystemReportTopUsers(t *testing.T) {
	ledger, mock := newMockLedger(t)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	ts := from.Add(time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM usage_records\s+WHERE created_at >= \$1`).
		WithArgs(from, to).
		WillReturnRows(recordRows(
			Record{UserID: "big", ModelID: "gpt-4o", TotalTokens: 1000, EstimatedCost: 1.0, Timestamp: ts},
			Record{UserID: "small", ModelID: "gpt-4o", TotalTokens: 10, EstimatedCost: 0.01, Timestamp: ts},
			Record{UserID: "", ModelID: "llama3", TotalTokens: 5, Timestamp: ts},
		))

	report, err := ledger.SystemReport(context.Background(), from, to)
	require.NoError(t, err)

	require.Len(t, report.TopUsers, 2, "anonymous records stay out of the spender list")
	assert.Equal(t, "big", report.TopUsers[0].UserID)
	assert.Equal(t, "small", report.TopUsers[1].UserID)
}

func TestModelReport(t *testing.T) {
	ledger, mock := newMockLedger(t)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery(`SELECT .+ FROM usage_records\s+WHERE model_id = \$1`).
		WithArgs("gpt-4o", from, to).
		WillReturnRows(recordRows(
			Record{UserID: "u", ModelID: "gpt-4o", InputTokens: 10, OutputTokens: 5, TotalTokens: 15, EstimatedCost: 0.001, Timestamp: from},
			Record{UserID: "u", ModelID: "gpt-4o", InputTokens: 20, OutputTokens: 10, TotalTokens: 30, EstimatedCost: 0.002, Timestamp: from},
		))

	breakdown, err := ledger.ModelReport(context.Background(), "gpt-4o", from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(2), breakdown.RequestCount)
	assert.Equal(t, int64(30), breakdown.InputTokens)
	assert.Equal(t, int64(45), breakdown.TotalTokens)
	assert.InDelta(t, 0.003, breakdown.TotalCost, 1e-12)
}

func TestReportEmptyRange(t *testing.T) {
	ledger, mock := newMockLedger(t)
	from := time.Now().UTC()
	to := from.Add(time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM usage_records\s+WHERE user_id = \$1`).
		WithArgs("nobody", from, to).
		WillReturnRows(recordRows())

	report, err := ledger.UserReport(context.Background(), "nobody", from, to)
	require.NoError(t, err)
	assert.Zero(t, report.RequestCount)
	assert.Empty(t, report.ByModel)
	assert.Empty(t, report.Daily)
}
