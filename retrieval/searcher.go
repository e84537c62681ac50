// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package retrieval talks to the embedding search service that backs
// prompt enrichment. Generation must keep working when the service is
// down, so callers treat search failures as soft.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadrelay/platform/orchestrator"
	"leadrelay/platform/shared/logger"
)

// DefaultTimeout bounds a similarity search round-trip. Enrichment sits
// on the generation hot path, so this stays short.
const DefaultTimeout = 10 * time.Second

// Config holds search service connection settings.
type Config struct {
	BaseURL string        // Required: search service base URL
	APIKey  string        // Optional: bearer token
	Timeout time.Duration // Optional (default: 10s)
}

// HTTPSearcher implements orchestrator.ContextRetriever over the search
// service's REST API.
type HTTPSearcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSearcher creates a searcher.
func NewHTTPSearcher(cfg Config) (*HTTPSearcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search service base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPSearcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type searchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

type searchResponse struct {
	Results []orchestrator.RetrievedDocument `json:"results"`
}

// SimilaritySearch implements orchestrator.ContextRetriever. Hits below
// the threshold are filtered service-side; the threshold is passed
// through as-is.
func (s *HTTPSearcher) SimilaritySearch(ctx context.Context, query string, topK int, threshold float64) ([]orchestrator.RetrievedDocument, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK, Threshold: threshold})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("search service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return out.Results, nil
}

// Noop is a retriever that never returns documents. Deployments without
// a search service wire this in so enrichment code paths stay uniform.
type Noop struct{}

// SimilaritySearch implements orchestrator.ContextRetriever.
func (Noop) SimilaritySearch(ctx context.Context, query string, topK int, threshold float64) ([]orchestrator.RetrievedDocument, error) {
	return nil, nil
}

// Resilient wraps a retriever so search failures degrade to an empty
// result instead of an error. The failure is logged and counted by the
// caller's metrics, not re-raised.
type Resilient struct {
	inner orchestrator.ContextRetriever
	log   *logger.Logger
}

// NewResilient wraps inner with log-and-continue failure handling.
func NewResilient(inner orchestrator.ContextRetriever, log *logger.Logger) *Resilient {
	return &Resilient{inner: inner, log: log}
}

// SimilaritySearch implements orchestrator.ContextRetriever.
func (r *Resilient) SimilaritySearch(ctx context.Context, query string, topK int, threshold float64) ([]orchestrator.RetrievedDocument, error) {
	docs, err := r.inner.SimilaritySearch(ctx, query, topK, threshold)
	if err != nil {
		if r.log != nil {
			r.log.Warn("", "", "similarity search failed, continuing without context",
				map[string]interface{}{"error": err.Error()})
		}
		return nil, nil
	}
	return docs, nil
}
