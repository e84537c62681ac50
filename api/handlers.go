// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"leadrelay/platform/orchestrator"
	"leadrelay/platform/rules"
	"leadrelay/platform/workflow"
)

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"models": len(s.orc.Registry().ListModels()),
	})
}

// Generate handles POST /api/v1/generate.
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		writeError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	resp, err := s.orc.Generate(r.Context(), req)
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GenerateStream handles POST /api/v1/generate/stream as Server-Sent
// Events: one data frame per chunk, terminated by the final chunk.
func (s *Server) GenerateStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		writeError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming unsupported by connection", http.StatusInternalServerError)
		return
	}

	stream, err := s.orc.GenerateStream(r.Context(), req)
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range stream.Chunks() {
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	var capErr *orchestrator.CapabilityError
	var fallbackErr *orchestrator.FallbackError
	switch {
	case errors.Is(err, orchestrator.ErrNoAvailableModel):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &capErr):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &fallbackErr):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// ListModels handles GET /api/v1/models.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.orc.Registry().ListModels(),
	})
}

// ModelScores handles GET /api/v1/models/scores: the selector's current
// view of the candidate pool, useful for debugging routing decisions.
func (s *Server) ModelScores(w http.ResponseWriter, r *http.Request) {
	req := orchestrator.GenerationRequest{}
	if raw := r.URL.Query().Get("max_tokens"); raw != "" {
		var maxTokens int
		if _, err := fmt.Sscanf(raw, "%d", &maxTokens); err == nil {
			req.MaxTokens = maxTokens
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": s.orc.Registry().ScoreCandidates(req),
	})
}

// ModelUsage handles GET /api/v1/models/usage: rolling per-model stats.
func (s *Server) ModelUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"usage": s.orc.Registry().UsageSnapshots(),
	})
}

func (s *Server) requireRules(w http.ResponseWriter) bool {
	if s.rules == nil {
		writeError(w, "rule engine not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// CreateRuleSet handles POST /api/v1/rulesets.
func (s *Server) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	if !s.requireRules(w) {
		return
	}
	var rs rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.rules.CreateRuleSet(r.Context(), &rs); err != nil {
		s.writeRulesError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &rs)
}

// ListRuleSets handles GET /api/v1/rulesets.
func (s *Server) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	if !s.requireRules(w) {
		return
	}
	sets, err := s.rules.ListRuleSets(r.Context(), r.URL.Query().Get("created_by"))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_sets": sets})
}

// GetRuleSet handles GET /api/v1/rulesets/{id}.
func (s *Server) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	if !s.requireRules(w) {
		return
	}
	rs, err := s.rules.GetRuleSet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeRulesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// UpdateRuleSet handles PUT /api/v1/rulesets/{id}.
func (s *Server) UpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	if !s.requireRules(w) {
		return
	}
	var rs rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rs.ID = mux.Vars(r)["id"]
	if err := s.rules.UpdateRuleSet(r.Context(), &rs); err != nil {
		s.writeRulesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &rs)
}

// DeleteRuleSet handles DELETE /api/v1/rulesets/{id}.
func (s *Server) DeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	if !s.requireRules(w) {
		return
	}
	if err := s.rules.DeleteRuleSet(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeRulesError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRulesError(w http.ResponseWriter, err error) {
	var verr *rules.ValidationError
	switch {
	case errors.Is(err, rules.ErrRuleSetNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verr):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) requireReports(w http.ResponseWriter) bool {
	if s.reports == nil {
		writeError(w, "usage reports not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// SystemUsage handles GET /api/v1/usage/system.
func (s *Server) SystemUsage(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, "invalid time range", http.StatusBadRequest)
		return
	}
	report, err := s.reports.SystemReport(r.Context(), from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// UserUsage handles GET /api/v1/usage/users/{id}.
func (s *Server) UserUsage(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, "invalid time range", http.StatusBadRequest)
		return
	}
	report, err := s.reports.UserReport(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ModelUsageReport handles GET /api/v1/usage/models/{id}.
func (s *Server) ModelUsageReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireReports(w) {
		return
	}
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, "invalid time range", http.StatusBadRequest)
		return
	}
	breakdown, err := s.reports.ModelReport(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) requireWorkflows(w http.ResponseWriter) bool {
	if s.workflows == nil {
		writeError(w, "workflow executor not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

type executeWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
	LeadID      string         `json:"lead_id"`
}

// ExecuteWorkflow handles POST /api/v1/workflows/{id}/execute.
func (s *Server) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkflows(w) {
		return
	}
	var req executeWorkflowRequest
	// An empty body means no trigger data.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	state, err := s.workflows.Execute(r.Context(), mux.Vars(r)["id"], req.TriggerData, req.LeadID)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

type approveRequest struct {
	NodeID   string `json:"node_id"`
	Approved bool   `json:"approved"`
}

// ApproveExecution handles POST /api/v1/executions/{id}/approve.
func (s *Server) ApproveExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkflows(w) {
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NodeID == "" {
		writeError(w, "node_id is required", http.StatusBadRequest)
		return
	}

	state, err := s.workflows.Approve(r.Context(), mux.Vars(r)["id"], req.NodeID, req.Approved)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CancelExecution handles POST /api/v1/executions/{id}/cancel.
func (s *Server) CancelExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkflows(w) {
		return
	}
	if err := s.workflows.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetExecution handles GET /api/v1/executions/{id}.
func (s *Server) GetExecution(w http.ResponseWriter, r *http.Request) {
	if !s.requireWorkflows(w) {
		return
	}
	state, err := s.workflows.GetExecution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeWorkflowError(w http.ResponseWriter, err error) {
	var gerr *workflow.GraphError
	switch {
	case errors.Is(err, workflow.ErrExecutionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, workflow.ErrStaleApproval):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &gerr):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
