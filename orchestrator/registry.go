// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultHealthCheckInterval is how often the background loop re-probes
// every registered model.
const DefaultHealthCheckInterval = 5 * time.Minute

// Registry holds the model catalog across all registered provider
// adapters. Model ids are globally unique; registration fails on a
// duplicate. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ProviderKind]ProviderAdapter
	models   map[string]*ModelDescriptor
	order    []string // insertion order, drives deterministic tie-breaks
	stats    *statsTable

	healthInterval time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthCheckInterval overrides the background probe interval.
func WithHealthCheckInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.healthInterval = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters:       make(map[ProviderKind]ProviderAdapter),
		models:         make(map[string]*ModelDescriptor),
		stats:          newStatsTable(),
		healthInterval: DefaultHealthCheckInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAdapter initializes the adapter, lists its models, and adds them
// to the catalog. A duplicate adapter kind or model id fails the whole
// registration without partial effects.
func (r *Registry) RegisterAdapter(ctx context.Context, adapter ProviderAdapter) error {
	kind := adapter.Kind()

	r.mu.RLock()
	_, exists := r.adapters[kind]
	r.mu.RUnlock()
	if exists {
		return &RegistryError{
			Code:    ErrCodeAlreadyRegistered,
			Message: fmt.Sprintf("adapter for provider %q already registered", kind),
		}
	}

	if err := adapter.Initialize(ctx); err != nil {
		return &RegistryError{
			Code:    ErrCodeAdapterFailure,
			Message: fmt.Sprintf("initializing %q adapter", kind),
			Cause:   err,
		}
	}

	descriptors, err := adapter.ListModels(ctx)
	if err != nil {
		return &RegistryError{
			Code:    ErrCodeAdapterFailure,
			Message: fmt.Sprintf("listing models for %q adapter", kind),
			Cause:   err,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range descriptors {
		if _, dup := r.models[d.ModelID]; dup {
			return &RegistryError{
				Code:    ErrCodeDuplicateModel,
				Message: fmt.Sprintf("model id %q already registered", d.ModelID),
			}
		}
	}

	r.adapters[kind] = adapter
	for i := range descriptors {
		d := descriptors[i]
		if d.Health == "" {
			d.Health = HealthUnknown
		}
		r.models[d.ModelID] = &d
		r.order = append(r.order, d.ModelID)
	}
	return nil
}

// RegisterModel adds a single descriptor without an adapter, for
// config-driven "custom" models that are catalogued but served elsewhere.
func (r *Registry) RegisterModel(d ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.models[d.ModelID]; dup {
		return &RegistryError{
			Code:    ErrCodeDuplicateModel,
			Message: fmt.Sprintf("model id %q already registered", d.ModelID),
		}
	}
	if d.Health == "" {
		d.Health = HealthUnknown
	}
	r.models[d.ModelID] = &d
	r.order = append(r.order, d.ModelID)
	return nil
}

// GetModel returns a copy of the named descriptor.
func (r *Registry) GetModel(modelID string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[modelID]
	if !ok {
		return ModelDescriptor{}, false
	}
	return *d, true
}

// ListModels returns copies of all descriptors in registration order.
func (r *Registry) ListModels() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.models[id])
	}
	return out
}

// adapterFor resolves the adapter serving the named model.
func (r *Registry) adapterFor(modelID string) (ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[modelID]
	if !ok {
		return nil, &RegistryError{
			Code:    ErrCodeUnknownModel,
			Message: fmt.Sprintf("model %q is not registered", modelID),
		}
	}
	adapter, ok := r.adapters[d.Provider]
	if !ok {
		return nil, &RegistryError{
			Code:    ErrCodeUnknownModel,
			Message: fmt.Sprintf("no adapter registered for provider %q", d.Provider),
		}
	}
	return adapter, nil
}

// ConfigureModel forwards options to the model's adapter and applies the
// catalog-level "is_active" option locally.
func (r *Registry) ConfigureModel(ctx context.Context, modelID string, options map[string]any) (map[string]any, error) {
	adapter, err := r.adapterFor(modelID)
	if err != nil {
		return nil, err
	}

	applied, err := adapter.Configure(ctx, modelID, options)
	if err != nil {
		return nil, err
	}

	if active, ok := options["is_active"].(bool); ok {
		r.SetActive(modelID, active)
	}
	return applied, nil
}

// SetActive toggles a model's selection eligibility.
func (r *Registry) SetActive(modelID string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.models[modelID]
	if !ok {
		return false
	}
	d.IsActive = active
	return true
}

// setHealth records a probe result.
func (r *Registry) setHealth(modelID string, status HealthStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.models[modelID]; ok {
		d.Health = status
		d.LastHealthCheck = at
	}
}

// CheckHealthAll probes every model once. Probe failures mark the model
// unhealthy and are logged, never propagated; a sick backend must not take
// the registry down with it.
func (r *Registry) CheckHealthAll(ctx context.Context) {
	for _, d := range r.ListModels() {
		adapter, err := r.adapterFor(d.ModelID)
		if err != nil {
			// Catalog-only models stay at their configured health.
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		healthy, err := adapter.CheckHealth(probeCtx, d.ModelID)
		cancel()

		status := HealthHealthy
		if err != nil || !healthy {
			status = HealthUnhealthy
			if err != nil {
				log.Printf("[registry] health check failed for %s: %v", d.ModelID, err)
			}
		}
		r.setHealth(d.ModelID, status, time.Now().UTC())
	}
}

// StartHealthLoop launches the periodic health checker. It runs an
// immediate pass, then ticks until the context is cancelled.
func (r *Registry) StartHealthLoop(ctx context.Context) {
	go func() {
		r.CheckHealthAll(ctx)

		ticker := time.NewTicker(r.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CheckHealthAll(ctx)
			}
		}
	}()
}

// RecordLatency feeds a request latency into the model's rolling window.
func (r *Registry) RecordLatency(modelID string, latencyMS float64) {
	r.stats.forModel(modelID).record(latencyMS)
}

// AverageLatency returns the rolling mean latency for a model, with ok
// false when no requests have been observed yet.
func (r *Registry) AverageLatency(modelID string) (float64, bool) {
	return r.stats.forModel(modelID).average()
}

// UsageSnapshots returns rolling stats for every model with traffic.
func (r *Registry) UsageSnapshots() []ModelUsageSnapshot {
	return r.stats.snapshot()
}
