// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadrelay/platform/shared/logger"
)

// RulePipeline mutates requests before dispatch and responses after. The
// rules package provides the implementation; the orchestrator only sees
// this interface so the dependency points one way.
type RulePipeline interface {
	// ApplyInputRules returns a possibly rewritten request. The input is
	// never mutated.
	ApplyInputRules(ctx context.Context, req GenerationRequest) (GenerationRequest, error)

	// ApplyOutputRules returns a possibly rewritten response. The input is
	// never mutated.
	ApplyOutputRules(ctx context.Context, ruleSetID string, resp *GenerationResponse) (*GenerationResponse, error)
}

// UsageTracker records completed generations in the usage ledger.
type UsageTracker interface {
	TrackGeneration(ctx context.Context, resp *GenerationResponse, userID string, context map[string]any) error
}

// ContextRetriever supplies semantic context for prompt enrichment.
type ContextRetriever interface {
	SimilaritySearch(ctx context.Context, query string, topK int, threshold float64) ([]RetrievedDocument, error)
}

// RetrievedDocument is one semantic search hit.
type RetrievedDocument struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

// Orchestrator is the generation entry point: it applies rules, selects a
// model, dispatches with fallback, prices the result, and records usage.
type Orchestrator struct {
	registry  *Registry
	rules     RulePipeline
	usage     UsageTracker
	retriever ContextRetriever
	metrics   *Metrics
	log       *logger.Logger

	generateTimeout time.Duration
	streamTimeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRules attaches the rule pipeline.
func WithRules(p RulePipeline) Option {
	return func(o *Orchestrator) { o.rules = p }
}

// WithUsageTracker attaches the usage ledger.
func WithUsageTracker(t UsageTracker) Option {
	return func(o *Orchestrator) { o.usage = t }
}

// WithRetriever attaches semantic prompt enrichment.
func WithRetriever(r ContextRetriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithGenerateTimeout overrides the per-attempt generation timeout.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.generateTimeout = d
		}
	}
}

// WithStreamTimeout overrides the whole-stream timeout.
func WithStreamTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.streamTimeout = d
		}
	}
}

// New creates an Orchestrator over the given registry.
func New(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:        registry,
		log:             logger.New("orchestrator"),
		generateTimeout: 60 * time.Second,
		streamTimeout:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the underlying registry for the API layer.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Generate runs the full pipeline for one request: defaults, input rules,
// retrieval enrichment, model selection, dispatch with fallback, pricing,
// output rules, usage recording.
//
// Rule and retrieval failures degrade: the request proceeds unmodified
// and the failure is logged. Selection and pricing failures propagate.
func (o *Orchestrator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	req = req.withDefaults()
	requestID := "req_" + uuid.NewString()

	req = o.applyInputRules(ctx, req, requestID)
	o.enrichFromRetrieval(ctx, &req, requestID)

	start := time.Now()
	resp, modelID, err := o.dispatch(ctx, req, requestID)
	if err != nil {
		o.metrics.observeGeneration(modelID, "error", time.Since(start).Seconds())
		return nil, err
	}

	elapsed := time.Since(start)
	resp.RequestID = requestID
	resp.ModelUsed = modelID
	resp.Timestamp = time.Now().UTC()
	resp.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000

	if d, ok := o.registry.GetModel(modelID); ok {
		cost, err := Cost(d.Pricing, resp.Usage)
		if err != nil {
			return nil, err
		}
		resp.EstimatedCost = cost
		if resp.Currency == "" {
			resp.Currency = d.Pricing.Currency
		}
	}

	o.registry.RecordLatency(modelID, resp.ProcessingTimeMS)
	o.metrics.observeGeneration(modelID, "success", elapsed.Seconds())
	o.metrics.observeUsage(modelID, resp.Usage)

	resp = o.applyOutputRules(ctx, req.RuleSetID, resp, requestID)
	o.trackUsage(ctx, resp, req, requestID)

	o.log.InfoWithDuration(req.UserID, requestID, "generation completed", resp.ProcessingTimeMS, map[string]interface{}{
		"model_used":   modelID,
		"total_tokens": resp.Usage.TotalTokens,
	})
	return resp, nil
}

// dispatch tries the selected model, then walks the fallback chain. The
// returned model id names the model that answered (or the last one tried).
func (o *Orchestrator) dispatch(ctx context.Context, req GenerationRequest, requestID string) (*GenerationResponse, string, error) {
	primary, err := o.registry.SelectModel(req)
	if err != nil {
		return nil, "", err
	}

	attempted := map[string]bool{primary: true}
	resp, firstErr := o.attempt(ctx, primary, req)
	if firstErr == nil {
		return resp, primary, nil
	}

	o.log.Warn(req.UserID, requestID, "primary model failed, trying fallbacks", map[string]interface{}{
		"model": primary,
		"error": firstErr.Error(),
	})

	order := []string{primary}
	lastErr := firstErr
	for _, id := range o.registry.FallbackChain(req, attempted) {
		o.metrics.observeFallback()
		order = append(order, id)
		resp, err := o.attempt(ctx, id, req)
		if err == nil {
			return resp, id, nil
		}
		lastErr = err
		o.log.Warn(req.UserID, requestID, "fallback model failed", map[string]interface{}{
			"model": id,
			"error": err.Error(),
		})
	}

	return nil, primary, &FallbackError{Attempted: order, Last: lastErr}
}

// attempt runs one generation against one model under the per-attempt
// timeout.
func (o *Orchestrator) attempt(ctx context.Context, modelID string, req GenerationRequest) (*GenerationResponse, error) {
	adapter, err := o.registry.adapterFor(modelID)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()
	return adapter.Generate(attemptCtx, modelID, req)
}

func (o *Orchestrator) applyInputRules(ctx context.Context, req GenerationRequest, requestID string) GenerationRequest {
	if o.rules == nil || req.RuleSetID == "" {
		return req
	}
	rewritten, err := o.rules.ApplyInputRules(ctx, req)
	if err != nil {
		o.log.ErrorWithCause(req.UserID, requestID, "input rules failed, proceeding without", err, map[string]interface{}{
			"rule_set_id": req.RuleSetID,
		})
		return req
	}
	return rewritten
}

func (o *Orchestrator) applyOutputRules(ctx context.Context, ruleSetID string, resp *GenerationResponse, requestID string) *GenerationResponse {
	if o.rules == nil || ruleSetID == "" {
		return resp
	}
	rewritten, err := o.rules.ApplyOutputRules(ctx, ruleSetID, resp)
	if err != nil {
		o.log.ErrorWithCause("", requestID, "output rules failed, returning raw response", err, map[string]interface{}{
			"rule_set_id": ruleSetID,
		})
		return resp
	}
	return rewritten
}

// enrichFromRetrieval adds semantic context to the request when a
// retriever is configured. Failures degrade to no enrichment.
func (o *Orchestrator) enrichFromRetrieval(ctx context.Context, req *GenerationRequest, requestID string) {
	if o.retriever == nil {
		return
	}
	docs, err := o.retriever.SimilaritySearch(ctx, req.Prompt, 3, 0.7)
	if err != nil {
		o.log.Warn(req.UserID, requestID, "retrieval enrichment failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(docs) == 0 {
		return
	}
	if req.Context == nil {
		req.Context = make(map[string]any)
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	req.Context["retrieved_context"] = parts
}

func (o *Orchestrator) trackUsage(ctx context.Context, resp *GenerationResponse, req GenerationRequest, requestID string) {
	if o.usage == nil {
		return
	}
	if err := o.usage.TrackGeneration(ctx, resp, req.UserID, req.Context); err != nil {
		o.log.ErrorWithCause(req.UserID, requestID, "usage tracking failed", err, nil)
	}
}
