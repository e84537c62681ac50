// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package anthropic implements the provider adapter for Anthropic's Claude
// models, with both blocking and SSE streaming generation.
package anthropic

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
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic adapter
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// Adapter implements orchestrator.ProviderAdapter for Anthropic Claude.
type Adapter struct {
	apiKey     string
	baseURL    string
	apiVersion string
	timeout    time.Duration
	client     HTTPClient
}

// New creates an Anthropic adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		timeout:    cfg.Timeout,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient swaps the HTTP client, for tests.
func (a *Adapter) SetHTTPClient(c HTTPClient) {
	a.client = c
}

// Kind returns the adapter's provider family.
func (a *Adapter) Kind() orchestrator.ProviderKind {
	return orchestrator.ProviderAnthropic
}

// Initialize validates configuration. Network reachability is left to the
// health loop.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.apiKey == "" {
		return orchestrator.NewProviderError(orchestrator.ProviderAnthropic, "", orchestrator.ErrCodeAuth, "missing API key")
	}
	return nil
}

// ListModels returns the Claude catalog with per-token pricing.
// Token costs are USD per token (Sonnet: $3/M in, $15/M out).
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
			ModelID:           "claude-sonnet-4-20250514",
			Provider:          orchestrator.ProviderAnthropic,
			Name:              "Claude Sonnet 4",
			Description:       "Balanced quality and latency, the default for lead workflows",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Pricing:           perToken(0.000003, 0.000015),
			IsActive:          true,
		},
		{
			ModelID:           "claude-opus-4-20250514",
			Provider:          orchestrator.ProviderAnthropic,
			Name:              "Claude Opus 4",
			Description:       "Highest quality for complex qualification reasoning",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    true,
			Pricing:           perToken(0.000015, 0.000075),
			IsActive:          true,
		},
		{
			ModelID:           "claude-3-5-haiku-20241022",
			Provider:          orchestrator.ProviderAnthropic,
			Name:              "Claude 3.5 Haiku",
			Description:       "Fast and cheap for message drafting",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
			SupportsFunctions: true,
			SupportsVision:    false,
			Pricing:           perToken(0.0000008, 0.000004),
			IsActive:          true,
		},
	}, nil
}

// Generate produces a completion through the messages API.
func (a *Adapter) Generate(ctx context.Context, modelID string, req orchestrator.GenerationRequest) (*orchestrator.GenerationResponse, error) {
	apiResp, err := a.complete(ctx, modelID, req, false, nil)
	if err != nil {
		return nil, err
	}
	return apiResp, nil
}

// GenerateStream produces a streaming completion, invoking the handler per
// content delta. Chunk ids are provisional; the orchestrator renumbers.
func (a *Adapter) GenerateStream(ctx context.Context, modelID string, req orchestrator.GenerationRequest, handler orchestrator.StreamHandler) error {
	_, err := a.complete(ctx, modelID, req, true, handler)
	return err
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

// Configure echoes the applied options; Anthropic models have no remote
// per-model settings to push.
func (a *Adapter) Configure(ctx context.Context, modelID string, options map[string]any) (map[string]any, error) {
	applied := make(map[string]any, len(options))
	for k, v := range options {
		applied[k] = v
	}
	return applied, nil
}

// complete sends one messages-API call, optionally streaming.
func (a *Adapter) complete(ctx context.Context, modelID string, req orchestrator.GenerationRequest, stream bool, handler orchestrator.StreamHandler) (*orchestrator.GenerationResponse, error) {
	temperature := req.Temperature
	apiReq := messagesRequest{
		Model:     modelID,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		Messages: []message{
			{Role: "user", Content: a.composePrompt(req)},
		},
		Temperature: &temperature,
	}
	if req.TopP > 0 {
		apiReq.TopP = &req.TopP
	}
	if req.TopK > 0 {
		apiReq.TopK = &req.TopK
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &orchestrator.ProviderError{
			Provider:  orchestrator.ProviderAnthropic,
			ModelID:   modelID,
			Code:      orchestrator.ErrCodeUnavailable,
			Message:   "request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, a.parseAPIError(modelID, resp.StatusCode, body)
	}

	if stream {
		return a.processStream(resp.Body, handler)
	}

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &orchestrator.GenerationResponse{
		Content: content.String(),
		Usage: orchestrator.TokenUsage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Currency: "USD",
	}, nil
}

// composePrompt folds retrieved context into the user prompt when present.
func (a *Adapter) composePrompt(req orchestrator.GenerationRequest) string {
	parts, ok := req.Context["retrieved_context"].([]string)
	if !ok || len(parts) == 0 {
		return req.Prompt
	}
	return "Relevant context:\n" + strings.Join(parts, "\n---\n") + "\n\n" + req.Prompt
}

// processStream parses the SSE stream, forwarding text deltas.
func (a *Adapter) processStream(body io.Reader, handler orchestrator.StreamHandler) (*orchestrator.GenerationResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var usage orchestrator.TokenUsage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				content.WriteString(event.Delta.Text)
				if handler != nil {
					if err := handler(orchestrator.StreamChunk{Content: event.Delta.Text}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if handler != nil {
				if err := handler(orchestrator.StreamChunk{
					IsFinal:     true,
					TotalTokens: usage.InputTokens + usage.OutputTokens,
				}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &orchestrator.GenerationResponse{
		Content:  content.String(),
		Usage:    usage,
		Currency: "USD",
	}, nil
}

// setHeaders sets the required headers for Anthropic API requests
func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", a.apiVersion)
}

// parseAPIError maps an upstream error body onto the platform error type.
func (a *Adapter) parseAPIError(modelID string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	code := orchestrator.ErrCodeServerError
	switch {
	case statusCode == http.StatusTooManyRequests || errResp.Error.Type == "rate_limit_error":
		code = orchestrator.ErrCodeRateLimit
	case statusCode == http.StatusUnauthorized || errResp.Error.Type == "authentication_error":
		code = orchestrator.ErrCodeAuth
	case statusCode == http.StatusNotFound || errResp.Error.Type == "not_found_error":
		code = orchestrator.ErrCodeModelNotFound
	case statusCode == http.StatusBadRequest:
		code = orchestrator.ErrCodeInvalidRequest
	case statusCode == http.StatusServiceUnavailable || errResp.Error.Type == "overloaded_error":
		code = orchestrator.ErrCodeUnavailable
	}

	pe := orchestrator.NewProviderError(orchestrator.ProviderAnthropic, modelID, code, message)
	pe.StatusCode = statusCode
	return pe
}

// Internal API types

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}
