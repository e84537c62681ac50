// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadrelay/platform/orchestrator"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestListModels(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3:8b", "details": map[string]string{"parameter_size": "8B"}},
				{"name": "mistral:7b", "details": map[string]string{"parameter_size": "7B"}},
			},
		})
	})

	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b", models[0].ModelID)
	assert.Equal(t, orchestrator.PricingFree, models[0].Pricing.Kind)
	assert.True(t, models[0].SupportsStreaming)
}

func TestListModelsNoInstance(t *testing.T) {
	a := New(Config{BaseURL: "http://127.0.0.1:1"})
	models, err := a.ListModels(context.Background())
	assert.NoError(t, err, "an absent instance must not fail registration")
	assert.Empty(t, models)
}

func TestGenerate(t *testing.T) {
	var gotReq generateRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:           "llama3:8b",
			Response:        "HOT lead",
			Done:            true,
			PromptEvalCount: 30,
			EvalCount:       3,
		})
	})

	resp, err := a.Generate(context.Background(), "llama3:8b", orchestrator.GenerationRequest{
		Prompt:      "classify",
		MaxTokens:   128,
		Temperature: 0.5,
		TopK:        40,
	})
	require.NoError(t, err)
	assert.Equal(t, "HOT lead", resp.Content)
	assert.Equal(t, 33, resp.Usage.TotalTokens)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 128, gotReq.Options.NumPredict)
	assert.Equal(t, 40, gotReq.Options.TopK)
}

func TestGenerateStreamNDJSON(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		lines := []generateResponse{
			{Response: "HOT"},
			{Response: " lead"},
			{Done: true, PromptEvalCount: 10, EvalCount: 2},
		}
		enc := json.NewEncoder(w)
		for _, l := range lines {
			_ = enc.Encode(l)
		}
	})

	var chunks []orchestrator.StreamChunk
	err := a.GenerateStream(context.Background(), "llama3:8b", orchestrator.GenerationRequest{Prompt: "classify"},
		func(chunk orchestrator.StreamChunk) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "HOT", chunks[0].Content)
	assert.Equal(t, " lead", chunks[1].Content)
	assert.True(t, chunks[2].IsFinal)
	assert.Equal(t, 12, chunks[2].TotalTokens)
}

func TestGenerateModelNotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `model "ghost" not found`, http.StatusNotFound)
	})

	_, err := a.Generate(context.Background(), "ghost", orchestrator.GenerationRequest{Prompt: "x"})
	var pe *orchestrator.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, orchestrator.ErrCodeModelNotFound, pe.Code)
}

func TestGenerateUnreachable(t *testing.T) {
	a := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := a.Generate(context.Background(), "llama3:8b", orchestrator.GenerationRequest{Prompt: "x"})
	var pe *orchestrator.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, orchestrator.ErrCodeUnavailable, pe.Code)
	assert.True(t, pe.Retryable)
}

func TestCheckHealth(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	healthy, err := a.CheckHealth(context.Background(), "llama3:8b")
	require.NoError(t, err)
	assert.True(t, healthy)
}
