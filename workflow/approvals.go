// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ApprovalRecord is one pending human-approval gate, keyed by
// (execution id, node id). It exists from the moment the execution
// suspends until the decision lands or the execution is cancelled.
type ApprovalRecord struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	LeadID      string         `json:"lead_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Approvals stores pending approval records.
type Approvals interface {
	Create(ctx context.Context, rec ApprovalRecord) error
	Get(ctx context.Context, executionID, nodeID string) (*ApprovalRecord, error)
	Resolve(ctx context.Context, executionID, nodeID string) error
	InvalidateExecution(ctx context.Context, executionID string) error
}

// ErrApprovalNotFound is returned when no pending record exists for the
// (execution id, node id) key.
var ErrApprovalNotFound = errors.New("pending approval not found")

// DefaultApprovalTTL expires unanswered approval gates. An expired
// record makes later decisions stale, same as a cancelled execution.
const DefaultApprovalTTL = 72 * time.Hour

// RedisApprovals keeps pending approvals in Redis so any process behind
// the load balancer can answer them.
type RedisApprovals struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisApprovals creates a store with the default TTL.
func NewRedisApprovals(client *redis.Client) *RedisApprovals {
	return &RedisApprovals{client: client, ttl: DefaultApprovalTTL}
}

func approvalKey(executionID, nodeID string) string {
	return fmt.Sprintf("approval:%s:%s", executionID, nodeID)
}

// Create persists a pending record.
func (s *RedisApprovals) Create(ctx context.Context, rec ApprovalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling approval record: %w", err)
	}
	key := approvalKey(rec.ExecutionID, rec.NodeID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing approval %s: %w", key, err)
	}
	return nil
}

// Get fetches a pending record, or ErrApprovalNotFound.
func (s *RedisApprovals) Get(ctx context.Context, executionID, nodeID string) (*ApprovalRecord, error) {
	key := approvalKey(executionID, nodeID)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching approval %s: %w", key, err)
	}
	var rec ApprovalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding approval %s: %w", key, err)
	}
	return &rec, nil
}

// Resolve removes a record once the decision landed.
func (s *RedisApprovals) Resolve(ctx context.Context, executionID, nodeID string) error {
	return s.client.Del(ctx, approvalKey(executionID, nodeID)).Err()
}

// InvalidateExecution removes every pending record of one execution,
// so decisions arriving after cancellation are rejected as stale.
func (s *RedisApprovals) InvalidateExecution(ctx context.Context, executionID string) error {
	pattern := approvalKey(executionID, "*")
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidating approval %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}
