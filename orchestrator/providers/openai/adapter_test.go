// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package openai

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

	a, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return a
}

func TestGenerate(t *testing.T) {
	var gotReq chatRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]string{"content": "scored 85"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 20, "completion_tokens": 5, "total_tokens": 25},
		})
	})

	resp, err := a.Generate(context.Background(), "gpt-4o-mini", orchestrator.GenerationRequest{
		Prompt:      "score this lead",
		MaxTokens:   256,
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "scored 85", resp.Content)
	assert.Equal(t, 25, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.False(t, gotReq.Stream)
}

func TestGenerateEmptyChoices(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := a.Generate(context.Background(), "gpt-4o", orchestrator.GenerationRequest{Prompt: "x"})
	require.Error(t, err)

	var pe *orchestrator.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, orchestrator.ErrCodeServerError, pe.Code)
}

func TestGenerateStreamParsesSSE(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var gotReq chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.True(t, gotReq.Stream)
		require.NotNil(t, gotReq.StreamOptions)
		assert.True(t, gotReq.StreamOptions.IncludeUsage)

		lines := []string{
			`data: {"choices":[{"delta":{"content":"Dear"}}]}`,
			`data: {"choices":[{"delta":{"content":" lead"}}]}`,
			`data: {"choices":[],"usage":{"total_tokens":9}}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	})

	var chunks []orchestrator.StreamChunk
	err := a.GenerateStream(context.Background(), "gpt-4o", orchestrator.GenerationRequest{Prompt: "draft"},
		func(chunk orchestrator.StreamChunk) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Dear", chunks[0].Content)
	assert.Equal(t, " lead", chunks[1].Content)
	assert.True(t, chunks[2].IsFinal)
	assert.Equal(t, 9, chunks[2].TotalTokens)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		wantCode string
	}{
		{"rate limit", http.StatusTooManyRequests, "", orchestrator.ErrCodeRateLimit},
		{"auth", http.StatusUnauthorized, "", orchestrator.ErrCodeAuth},
		{"missing model", http.StatusNotFound, "model_not_found", orchestrator.ErrCodeModelNotFound},
		{"context length", http.StatusBadRequest, "context_length_exceeded", orchestrator.ErrCodeContextLength},
		{"bad request", http.StatusBadRequest, "", orchestrator.ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"code": tt.code, "message": "refused"},
				})
			})

			_, err := a.Generate(context.Background(), "gpt-4o", orchestrator.GenerationRequest{Prompt: "x"})
			var pe *orchestrator.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantCode, pe.Code)
		})
	}
}

func TestCheckHealth(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusTeapot)
	})

	healthy, err := a.CheckHealth(context.Background(), "gpt-4o")
	require.NoError(t, err)
	assert.True(t, healthy)
}
