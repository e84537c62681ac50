// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// fakeAdapter is an in-memory ProviderAdapter for tests. Per-model
// behavior is scripted through the fail and content maps.
type fakeAdapter struct {
	kind   ProviderKind
	models []ModelDescriptor

	mu      sync.Mutex
	fail    map[string]error
	content map[string]string
	chunks  map[string][]string
	calls   []string
}

func newFakeAdapter(kind ProviderKind, models ...ModelDescriptor) *fakeAdapter {
	return &fakeAdapter{
		kind:    kind,
		models:  models,
		fail:    make(map[string]error),
		content: make(map[string]string),
		chunks:  make(map[string][]string),
	}
}

func (f *fakeAdapter) Kind() ProviderKind { return f.kind }

func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }

func (f *fakeAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	return f.models, nil
}

func (f *fakeAdapter) Generate(ctx context.Context, modelID string, req GenerationRequest) (*GenerationResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, modelID)
	err := f.fail[modelID]
	content := f.content[modelID]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if content == "" {
		content = "ok from " + modelID
	}
	return &GenerationResponse{
		Content: content,
		Usage: TokenUsage{
			InputTokens:  100,
			OutputTokens: 50,
			TotalTokens:  150,
		},
	}, nil
}

func (f *fakeAdapter) CheckHealth(ctx context.Context, modelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[modelID]; err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeAdapter) Configure(ctx context.Context, modelID string, options map[string]any) (map[string]any, error) {
	return options, nil
}

func (f *fakeAdapter) GenerateStream(ctx context.Context, modelID string, req GenerationRequest, handler StreamHandler) error {
	f.mu.Lock()
	err := f.fail[modelID]
	parts := f.chunks[modelID]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, p := range parts {
		// Adapters emit provisional ids; the orchestrator renumbers.
		if err := handler(StreamChunk{ChunkID: 999, Content: p}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAdapter) setFail(modelID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[modelID] = err
}

func (f *fakeAdapter) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func descriptor(id string, kind ProviderKind, pricing PricingPolicy) ModelDescriptor {
	return ModelDescriptor{
		ModelID:           id,
		Provider:          kind,
		Name:              id,
		MaxContextTokens:  8192,
		SupportsStreaming: true,
		Pricing:           pricing,
		IsActive:          true,
		Health:            HealthHealthy,
	}
}

func mustRegister(reg *Registry, adapters ...*fakeAdapter) error {
	for _, a := range adapters {
		if err := reg.RegisterAdapter(context.Background(), a); err != nil {
			return fmt.Errorf("register %s: %w", a.kind, err)
		}
	}
	return nil
}
