// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package ollama implements the provider adapter for self-hosted Ollama
// models. Local models are free to run and discovered dynamically from
// the Ollama instance.
package ollama

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
	// DefaultBaseURL is the default local Ollama endpoint
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout is generous: local models on modest hardware are slow
	DefaultTimeout = 5 * time.Minute
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Ollama adapter
type Config struct {
	BaseURL string        // Optional: Ollama endpoint (default: http://localhost:11434)
	Timeout time.Duration // Optional: HTTP timeout (default: 5m)
}

// Adapter implements orchestrator.ProviderAdapter for Ollama.
type Adapter struct {
	baseURL string
	client  HTTPClient
}

// New creates an Ollama adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient swaps the HTTP client, for tests.
func (a *Adapter) SetHTTPClient(c HTTPClient) {
	a.client = c
}

// Kind returns the adapter's provider family.
func (a *Adapter) Kind() orchestrator.ProviderKind {
	return orchestrator.ProviderOllama
}

// Initialize is a no-op; a missing Ollama instance surfaces through the
// health loop instead of failing startup.
func (a *Adapter) Initialize(ctx context.Context) error {
	return nil
}

// ListModels discovers installed models from the local instance. All
// Ollama models are free.
func (a *Adapter) ListModels(ctx context.Context) ([]orchestrator.ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// No local instance: expose nothing rather than fail registration.
		return nil, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var tags struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	out := make([]orchestrator.ModelDescriptor, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, orchestrator.ModelDescriptor{
			ModelID:           m.Name,
			Provider:          orchestrator.ProviderOllama,
			Name:              m.Name,
			Description:       fmt.Sprintf("Local model (%s)", m.Details.ParameterSize),
			MaxContextTokens:  8192,
			SupportsStreaming: true,
			Pricing:           orchestrator.PricingPolicy{Kind: orchestrator.PricingFree},
			IsActive:          true,
		})
	}
	return out, nil
}

// Generate produces a completion through the generate API.
func (a *Adapter) Generate(ctx context.Context, modelID string, req orchestrator.GenerationRequest) (*orchestrator.GenerationResponse, error) {
	body, err := a.doGenerate(ctx, modelID, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = body.Close()
	}()

	var apiResp generateResponse
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &orchestrator.GenerationResponse{
		Content: apiResp.Response,
		Usage: orchestrator.TokenUsage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
			TotalTokens:  apiResp.PromptEvalCount + apiResp.EvalCount,
		},
	}, nil
}

// GenerateStream produces a streaming completion. Ollama streams JSON
// objects one per line rather than SSE.
func (a *Adapter) GenerateStream(ctx context.Context, modelID string, req orchestrator.GenerationRequest, handler orchestrator.StreamHandler) error {
	body, err := a.doGenerate(ctx, modelID, req, true)
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
		var event generateResponse
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Done {
			total = event.PromptEvalCount + event.EvalCount
			break
		}
		if event.Response == "" {
			continue
		}
		if err := handler(orchestrator.StreamChunk{Content: event.Response}); err != nil {
			return fmt.Errorf("handler error: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}

	return handler(orchestrator.StreamChunk{IsFinal: true, TotalTokens: total})
}

// CheckHealth probes the instance root.
func (a *Adapter) CheckHealth(ctx context.Context, modelID string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
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

func (a *Adapter) doGenerate(ctx context.Context, modelID string, req orchestrator.GenerationRequest, stream bool) (io.ReadCloser, error) {
	apiReq := generateRequest{
		Model:  modelID,
		Prompt: req.Prompt,
		Stream: stream,
		Options: generateOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			TopK:        req.TopK,
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &orchestrator.ProviderError{
			Provider:  orchestrator.ProviderOllama,
			ModelID:   modelID,
			Code:      orchestrator.ErrCodeUnavailable,
			Message:   "ollama instance unreachable",
			Retryable: true,
			Cause:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		code := orchestrator.ErrCodeServerError
		if resp.StatusCode == http.StatusNotFound {
			code = orchestrator.ErrCodeModelNotFound
		}
		pe := orchestrator.NewProviderError(orchestrator.ProviderOllama, modelID, code, strings.TrimSpace(string(body)))
		pe.StatusCode = resp.StatusCode
		return nil, pe
	}
	return resp.Body, nil
}

// Internal API types

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
