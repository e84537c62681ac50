// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package crm is the HTTP client for the CRM backend: lead data, message
// delivery, and workflow definitions. Lead payloads stay loosely typed
// because their schema is owned by the CRM service.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the interface the workflow engine and agents depend on.
type Client interface {
	GetLead(ctx context.Context, leadID string) (map[string]any, error)
	UpdateLead(ctx context.Context, leadID string, patch map[string]any) error
	SendMessage(ctx context.Context, leadID, content, messageType string) (string, error)
	GetWorkflowDefinition(ctx context.Context, workflowID string) (json.RawMessage, error)
	GetLeadInteractions(ctx context.Context, leadID string) ([]map[string]any, error)
	GetLeadMessages(ctx context.Context, leadID string) ([]map[string]any, error)
}

// DefaultTimeout bounds every CRM call.
const DefaultTimeout = 30 * time.Second

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds CRM connection settings.
type Config struct {
	BaseURL string        // Required: CRM backend base URL
	APIKey  string        // Required: bearer token
	Timeout time.Duration // Optional (default: 30s)
}

// HTTPCRM implements Client over the CRM backend's REST API.
type HTTPCRM struct {
	baseURL string
	apiKey  string
	client  HTTPClient
}

// TransportError is a non-2xx response from the CRM backend.
type TransportError struct {
	StatusCode int    `json:"status_code"`
	Endpoint   string `json:"endpoint"`
	Body       string `json:"body,omitempty"`
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("crm %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NotFound reports whether the CRM answered 404.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// New creates an HTTPCRM client.
func New(cfg Config) (*HTTPCRM, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("crm API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPCRM{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient swaps the HTTP client, for tests.
func (c *HTTPCRM) SetHTTPClient(client HTTPClient) {
	c.client = client
}

// GetLead fetches one lead by id.
func (c *HTTPCRM) GetLead(ctx context.Context, leadID string) (map[string]any, error) {
	var lead map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/leads/"+leadID, nil, &lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// UpdateLead patches lead fields.
func (c *HTTPCRM) UpdateLead(ctx context.Context, leadID string, patch map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/api/leads/"+leadID, patch, nil)
}

// SendMessage delivers a message to the lead through the CRM and returns
// the created message id.
func (c *HTTPCRM) SendMessage(ctx context.Context, leadID, content, messageType string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages/send", map[string]any{
		"lead_id":      leadID,
		"content":      content,
		"message_type": messageType,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// GetWorkflowDefinition returns the raw workflow document; the workflow
// package owns its parsing.
func (c *HTTPCRM) GetWorkflowDefinition(ctx context.Context, workflowID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/workflows/"+workflowID, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetLeadInteractions returns the lead's interaction history.
func (c *HTTPCRM) GetLeadInteractions(ctx context.Context, leadID string) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/leads/"+leadID+"/interactions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLeadMessages returns the lead's message history.
func (c *HTTPCRM) GetLeadMessages(ctx context.Context, leadID string) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/leads/"+leadID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do executes one authenticated round-trip, decoding JSON into out when
// non-nil.
func (c *HTTPCRM) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
