// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package openai implements the provider adapter for OpenAI's chat models
// over the chat completions API, with SSE streaming support.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadrelay/platform/orchestrator"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI adapter
type Config struct {
	APIKey  string        // Required: OpenAI API key
	BaseURL string        // Optional: API base URL
	OrgID   string        // Optional: organization header
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// Adapter implements orchestrator.ProviderAdapter for OpenAI.
type Adapter struct {
	apiKey  string
	baseURL string
	orgID   string
	client  HTTPClient
}

// New creates an OpenAI adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		orgID:   cfg.OrgID,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient swaps the HTTP client, for tests.
func (a *Adapter) SetHTTPClient(c HTTPClient) {
	a.client = c
}

// Kind returns the adapter's provider family.
func (a *Adapter) Kind() orchestrator.ProviderKind {
	return orchestrator.ProviderOpenAI
}

// Initialize validates configuration.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.apiKey == "" {
		return orchestrator.NewProviderError(orchestrator.ProviderOpenAI, "", orchestrator.ErrCodeAuth, "missing API key")
	}
	return nil
}

// ListModels returns the GPT catalog with per-token pricing in USD.
func (a *Adapter) ListModels(ctx context.Context) ([]orchestrator.ModelDescriptor, error) {
	perToken := func(in, out float64) orchestrator.PricingPolicy {
		return orchestrator.PricingPolicy{
			Kind:            orchestrator.PricingPerToken,
			InputTokenCost:  in,
			OutputTokenCost: out,
			Currency:        "USD",
		}
	}
	return []orchestrator.ModelDescriptor{
		{
			ModelID:           "gpt-4o",
			Provider:          orchestrator.ProviderOpenAI,
			Name:              "GPT-4o",
			Description:       "Flagship multimodal model",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Pricing:           perToken(0.0000025, 0.00001),
			IsActive:          true,
		},
		{
			ModelID:           "gpt-4o-mini",
			Provider:          orchestrator.ProviderOpenAI,
			Name:              "GPT-4o mini",
			Description:       "Low-cost workhorse for drafting and scoring",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Pricing:           perToken(0.00000015, 0.0000006),
			IsActive:          true,
		},
	}, nil
}

// Generate produces a completion through the chat completions API.
func (a *Adapter) Generate(ctx context.Context, modelID string, req orchestrator.GenerationRequest) (*orchestrator.GenerationResponse, error) {
	body, err := a.doRequest(ctx, modelID, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = body.Close()
	}()

	var apiResp chatResponse
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, orchestrator.NewProviderError(orchestrator.ProviderOpenAI, modelID, orchestrator.ErrCodeServerError, "empty choices in response")
	}

	return &orchestrator.GenerationResponse{
		Content: apiResp.Choices[0].Message.Content,
		Usage: orchestrator.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Currency: "USD",
	}, nil
}

// GenerateStream produces a streaming completion, forwarding content
// deltas to the handler until the [DONE] sentinel.
func (a *Adapter) GenerateStream(ctx context.Context, modelID string, req orchestrator.GenerationRequest, handler orchestrator.StreamHandler) error {
	body, err := a.doRequest(ctx, modelID, req, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	total := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Usage != nil {
			total = event.Usage.TotalTokens
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := handler(orchestrator.StreamChunk{Content: delta}); err != nil {
			return fmt.Errorf("handler error: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}

	return handler(orchestrator.StreamChunk{IsFinal: true, TotalTokens: total})
}

// CheckHealth probes the models endpoint.
func (a *Adapter) CheckHealth(ctx context.Context, modelID string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return false, err
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK, nil
}

// Configure echoes the applied options.
func (a *Adapter) Configure(ctx context.Context, modelID string, options map[string]any) (map[string]any, error) {
	applied := make(map[string]any, len(options))
	for k, v := range options {
		applied[k] = v
	}
	return applied, nil
}

// doRequest builds and executes a chat completions call, returning the
// response body on HTTP 200.
func (a *Adapter) doRequest(ctx context.Context, modelID string, req orchestrator.GenerationRequest, stream bool) (io.ReadCloser, error) {
	apiReq := chatRequest{
		Model:       modelID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &orchestrator.ProviderError{
			Provider:  orchestrator.ProviderOpenAI,
			ModelID:   modelID,
			Code:      orchestrator.ErrCodeUnavailable,
			Message:   "request failed",
			Retryable: true,
			Cause:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, a.parseAPIError(modelID, resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.orgID != "" {
		req.Header.Set("OpenAI-Organization", a.orgID)
	}
}

// parseAPIError maps an upstream error body onto the platform error type.
func (a *Adapter) parseAPIError(modelID string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	code := orchestrator.ErrCodeServerError
	switch {
	case statusCode == http.StatusTooManyRequests:
		code = orchestrator.ErrCodeRateLimit
	case statusCode == http.StatusUnauthorized:
		code = orchestrator.ErrCodeAuth
	case statusCode == http.StatusNotFound || errResp.Error.Code == "model_not_found":
		code = orchestrator.ErrCodeModelNotFound
	case statusCode == http.StatusBadRequest && errResp.Error.Code == "context_length_exceeded":
		code = orchestrator.ErrCodeContextLength
	case statusCode == http.StatusBadRequest:
		code = orchestrator.ErrCodeInvalidRequest
	case statusCode == http.StatusServiceUnavailable:
		code = orchestrator.ErrCodeUnavailable
	}

	pe := orchestrator.NewProviderError(orchestrator.ProviderOpenAI, modelID, code, message)
	pe.StatusCode = statusCode
	return pe
}

// Internal API types

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	TopP          float64        `json:"top_p,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}
