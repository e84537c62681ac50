// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package events provides best-effort pub/sub fan-out over Redis.
// Consumers (dashboards, the CRM frontend) subscribe to the channels;
// the platform publishes and never blocks on them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Well-known channels.
const (
	// ChannelWorkflowCompleted carries exactly one event per finished
	// workflow execution.
	ChannelWorkflowCompleted = "workflow_completed"

	// ChannelApprovalRequired fires when an execution suspends on a
	// human approval gate.
	ChannelApprovalRequired = "approval_required"

	// ChannelExecutionStep streams per-node progress events.
	ChannelExecutionStep = "execution_step"
)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// RedisBus publishes JSON-encoded events over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg Config) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisBus{client: client}, nil
}

// NewRedisBusFromClient wraps an existing client, for tests.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish JSON-encodes the payload and publishes it. The caller decides
// whether a publish failure matters; workflow bookkeeping treats it as
// best-effort.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a subscription for the given channels. Used by tests
// and by operational tooling; the platform itself only publishes.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return b.client.Subscribe(ctx, channels...)
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
