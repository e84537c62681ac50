// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package usage is the append-only ledger of model consumption: one
// record per completed generation, with read-side aggregation into user,
// model, and system reports.
package usage

import "time"

// Record is one ledger entry. Records are immutable once written.
type Record struct {
	ID            int64          `json:"id,omitempty"`
	RequestID     string         `json:"request_id"`
	UserID        string         `json:"user_id,omitempty"`
	ModelID       string         `json:"model_id"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	TotalTokens   int            `json:"total_tokens"`
	EstimatedCost float64        `json:"estimated_cost"`
	Currency      string         `json:"currency,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ModelBreakdown aggregates one model's share of a report period.
type ModelBreakdown struct {
	ModelID      string  `json:"model_id"`
	RequestCount int64   `json:"request_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// DailyRollup aggregates one calendar day (UTC).
type DailyRollup struct {
	Date         string  `json:"date"`
	RequestCount int64   `json:"request_count"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// UserSpend is one entry in the top-spenders list.
type UserSpend struct {
	UserID      string  `json:"user_id"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// Report is the aggregated view over a period, for one user or the whole
// system.
type Report struct {
	UserID       string           `json:"user_id,omitempty"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	RequestCount int64            `json:"request_count"`
	TotalTokens  int64            `json:"total_tokens"`
	TotalCost    float64          `json:"total_cost"`
	Currency     string           `json:"currency,omitempty"`
	ByModel      []ModelBreakdown `json:"by_model"`
	Daily        []DailyRollup    `json:"daily"`
	TopUsers     []UserSpend      `json:"top_users,omitempty"`
}
