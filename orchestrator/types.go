// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator provides the model registry, scoring-based model
// selection, fallback chaining, and generation entry points for the
// LeadRelay AI platform. Provider adapters plug into the registry through
// the ProviderAdapter interface; everything above them speaks the unified
// request/response types defined here.
package orchestrator

import (
	"strings"
	"time"
)

// ProviderKind identifies the family of backend serving a model.
// Standard kinds are defined as constants; "custom" covers config-driven
// descriptors with no built-in adapter.
type ProviderKind string

const (
	// ProviderOpenAI represents OpenAI's hosted chat models.
	ProviderOpenAI ProviderKind = "openai"

	// ProviderAnthropic represents Anthropic's Claude models.
	ProviderAnthropic ProviderKind = "anthropic"

	// ProviderOllama represents self-hosted Ollama models.
	ProviderOllama ProviderKind = "ollama"

	// ProviderCustom represents a custom or third-party provider.
	ProviderCustom ProviderKind = "custom"
)

// HealthStatus represents the probed health state of a model.
type HealthStatus string

const (
	// HealthHealthy indicates the model answered its last probe.
	HealthHealthy HealthStatus = "healthy"

	// HealthUnhealthy indicates the model failed its last probe.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthUnknown indicates the model has not been probed yet.
	HealthUnknown HealthStatus = "unknown"
)

// PricingKind tags a PricingPolicy variant.
type PricingKind string

const (
	// PricingFree marks models with no usage cost (local Ollama models).
	PricingFree PricingKind = "free"

	// PricingPerToken bills per input and output token.
	PricingPerToken PricingKind = "per_token"

	// PricingPerRequest bills a flat amount per request.
	PricingPerRequest PricingKind = "per_request"

	// PricingSubscription marks models covered by a flat subscription;
	// per-request cost is zero.
	PricingSubscription PricingKind = "subscription"
)

// PricingPolicy describes how usage of a model is billed. Token costs are
// expressed in currency units per single token.
type PricingPolicy struct {
	Kind PricingKind `json:"kind"`

	// InputTokenCost is the cost per input token (PricingPerToken only).
	InputTokenCost float64 `json:"input_token_cost,omitempty"`

	// OutputTokenCost is the cost per output token (PricingPerToken only).
	OutputTokenCost float64 `json:"output_token_cost,omitempty"`

	// RequestCost is the flat cost per request (PricingPerRequest only).
	RequestCost float64 `json:"request_cost,omitempty"`

	Currency string `json:"currency,omitempty"`
}

// ModelDescriptor is the registry's view of a single model: identity,
// capabilities, pricing, and current health.
type ModelDescriptor struct {
	// ModelID is the globally unique identifier used in requests.
	ModelID string `json:"model_id"`

	// Provider is the adapter family that serves this model.
	Provider ProviderKind `json:"provider"`

	// Name is a human-readable display name.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// MaxContextTokens is the model's context window size.
	MaxContextTokens int `json:"max_context_tokens"`

	SupportsStreaming bool `json:"supports_streaming"`
	SupportsFunctions bool `json:"supports_functions"`
	SupportsVision    bool `json:"supports_vision"`

	Pricing PricingPolicy `json:"pricing"`

	// IsActive gates selection; inactive models are never chosen.
	IsActive bool `json:"is_active"`

	Health          HealthStatus `json:"health"`
	LastHealthCheck time.Time    `json:"last_health_check,omitempty"`
}

// GenerationRequest is the unified request accepted by the orchestrator.
type GenerationRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// UserID attributes usage and appears in logs.
	UserID string `json:"user_id,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	// PreferredModel short-circuits scoring when the named model is
	// registered, active, and healthy.
	PreferredModel string `json:"preferred_model,omitempty"`

	// FallbackModels are tried in order after the primary model fails.
	FallbackModels []string `json:"fallback_models,omitempty"`

	// MaxTokens limits the response length. Zero means the default of 1000.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Zero means the default of 0.7.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter. Zero means the default of 1.0.
	TopP float64 `json:"top_p,omitempty"`

	// TopK limits sampling to the top K tokens (Anthropic, Ollama).
	TopK int `json:"top_k,omitempty"`

	// Priority orders queued work; lower values run first. Zero means the
	// default of 100.
	Priority int `json:"priority,omitempty"`

	// Context carries free-form request context. Rule actions and
	// retrieval enrichment write into it.
	Context map[string]any `json:"context,omitempty"`

	// RuleSetID names the rule set applied around this request.
	RuleSetID string `json:"rule_set_id,omitempty"`

	Stream bool `json:"stream,omitempty"`
}

// withDefaults returns a copy with unset tuning fields replaced by the
// platform defaults.
func (r GenerationRequest) withDefaults() GenerationRequest {
	if r.MaxTokens == 0 {
		r.MaxTokens = 1000
	}
	if r.Temperature == 0 {
		r.Temperature = 0.7
	}
	if r.TopP == 0 {
		r.TopP = 1.0
	}
	if r.Priority == 0 {
		r.Priority = 100
	}
	return r
}

// Clone returns a deep copy. Rule actions operate on clones so a request
// is never mutated in place.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.FallbackModels != nil {
		out.FallbackModels = make([]string, len(r.FallbackModels))
		copy(out.FallbackModels, r.FallbackModels)
	}
	if r.Context != nil {
		out.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			out.Context[k] = v
		}
	}
	return out
}

// TokenUsage tracks token consumption for billing.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// GenerationResponse is the unified response returned by the orchestrator.
type GenerationResponse struct {
	Content string `json:"content"`

	// ModelUsed is the model that actually produced the content; it may
	// differ from the preferred model after fallback.
	ModelUsed string `json:"model_used"`

	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// ProcessingTimeMS is wall-clock latency measured by the orchestrator.
	ProcessingTimeMS float64 `json:"processing_time_ms"`

	Usage TokenUsage `json:"usage"`

	// EstimatedCost is derived from the model's pricing policy.
	EstimatedCost float64 `json:"estimated_cost"`
	Currency      string  `json:"currency,omitempty"`

	// Confidence is the model's self-reported confidence, when available.
	// Nil means the model did not report one.
	Confidence *float64 `json:"confidence_score,omitempty"`

	// RulesApplied lists the ids of rules that fired on this request.
	RulesApplied []string `json:"rules_applied,omitempty"`

	// Metadata carries provider- and pipeline-specific annotations,
	// including block markers set by moderation rules.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy for copy-on-write rule actions.
func (r *GenerationResponse) Clone() *GenerationResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	if r.RulesApplied != nil {
		out.RulesApplied = make([]string, len(r.RulesApplied))
		copy(out.RulesApplied, r.RulesApplied)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// StreamChunk is a single unit of a streaming response. Chunk ids are
// assigned by the orchestrator, sequential from zero; the terminal chunk
// has IsFinal set and carries the total token estimate.
type StreamChunk struct {
	ChunkID     int    `json:"chunk_id"`
	Content     string `json:"content,omitempty"`
	IsFinal     bool   `json:"is_final"`
	TokenCount  int    `json:"token_count,omitempty"`
	TotalTokens int    `json:"total_tokens,omitempty"`
	ModelUsed   string `json:"model_used,omitempty"`

	// Error is set on the terminal chunk when the stream failed mid-flight.
	Error string `json:"error,omitempty"`
}

// StreamHandler is the callback adapters invoke per chunk. Returning an
// error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// EstimateTokens approximates the token count of a text for models that do
// not report usage. Four characters per token is the conventional rough cut.
func EstimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	est := n / 4
	if est == 0 {
		est = 1
	}
	return est
}
