// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package anthropic

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

	a, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return a
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var gotReq messagesRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": "Hello "},
				{"type": "text", "text": "lead"},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 4},
		})
	})

	resp, err := a.Generate(context.Background(), "claude-sonnet-4-20250514", orchestrator.GenerationRequest{
		Prompt:      "greet the lead",
		MaxTokens:   500,
		Temperature: 0.2,
		TopP:        0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello lead", resp.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Equal(t, "claude-sonnet-4-20250514", gotReq.Model)
	assert.Equal(t, 500, gotReq.MaxTokens)
	require.NotNil(t, gotReq.Temperature)
	assert.InDelta(t, 0.2, *gotReq.Temperature, 1e-9)
	require.NotNil(t, gotReq.TopP)
	assert.InDelta(t, 0.9, *gotReq.TopP, 1e-9)
}

func TestGeneratePrependsRetrievedContext(t *testing.T) {
	var gotReq messagesRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	})

	_, err := a.Generate(context.Background(), "claude-sonnet-4-20250514", orchestrator.GenerationRequest{
		Prompt:  "qualify",
		Context: map[string]any{"retrieved_context": []string{"past deal: won"}},
	})
	require.NoError(t, err)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "past deal: won")
	assert.Contains(t, gotReq.Messages[0].Content, "qualify")
}

func TestGenerateAPIErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		errType  string
		wantCode string
		retry    bool
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit_error", orchestrator.ErrCodeRateLimit, true},
		{"bad key", http.StatusUnauthorized, "authentication_error", orchestrator.ErrCodeAuth, false},
		{"unknown model", http.StatusNotFound, "not_found_error", orchestrator.ErrCodeModelNotFound, false},
		{"overloaded", http.StatusServiceUnavailable, "overloaded_error", orchestrator.ErrCodeUnavailable, true},
		{"server error", http.StatusInternalServerError, "api_error", orchestrator.ErrCodeServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"type": tt.errType, "message": "nope"},
				})
			})

			_, err := a.Generate(context.Background(), "claude-sonnet-4-20250514", orchestrator.GenerationRequest{Prompt: "x"})
			require.Error(t, err)

			var pe *orchestrator.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.Equal(t, tt.retry, pe.Retryable)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, "nope", pe.Message)
		})
	}
}

func TestGenerateStreamParsesSSE(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"type":"message_start","message":{"model":"claude-sonnet-4-20250514","usage":{"input_tokens":10}}}`,
			``,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			``,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			``,
			`data: {"type":"message_delta","usage":{"output_tokens":2}}`,
			``,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	})

	var chunks []orchestrator.StreamChunk
	err := a.GenerateStream(context.Background(), "claude-sonnet-4-20250514", orchestrator.GenerationRequest{Prompt: "hi"},
		func(chunk orchestrator.StreamChunk) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].IsFinal)
	assert.Equal(t, 12, chunks[2].TotalTokens)
}

func TestGenerateStreamHandlerAbort(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}` + "\n"))
	})

	abort := errors.New("consumer gone")
	err := a.GenerateStream(context.Background(), "claude-sonnet-4-20250514", orchestrator.GenerationRequest{Prompt: "hi"},
		func(chunk orchestrator.StreamChunk) error { return abort })
	require.Error(t, err)
	assert.ErrorIs(t, err, abort)
}

func TestCheckHealth(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	healthy, err := a.CheckHealth(context.Background(), "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.True(t, healthy)
}

func TestListModels(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	require.NoError(t, err)

	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, orchestrator.ProviderAnthropic, m.Provider)
		assert.Equal(t, orchestrator.PricingPerToken, m.Pricing.Kind)
		assert.True(t, m.SupportsStreaming)
		assert.True(t, m.IsActive)
	}
}
