// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package api is the HTTP surface over the platform: generation,
// streaming, the model catalog, rule-set management, usage reports, and
// workflow control. It is thin glue; all decision logic lives in the
// domain packages.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"leadrelay/platform/orchestrator"
	"leadrelay/platform/rules"
	"leadrelay/platform/shared/logger"
	"leadrelay/platform/usage"
	"leadrelay/platform/workflow"
)

// UsageReports is the read side of the usage ledger.
type UsageReports interface {
	UserReport(ctx context.Context, userID string, from, to time.Time) (*usage.Report, error)
	SystemReport(ctx context.Context, from, to time.Time) (*usage.Report, error)
	ModelReport(ctx context.Context, modelID string, from, to time.Time) (*usage.ModelBreakdown, error)
}

// WorkflowService is the executor surface the API exposes.
type WorkflowService interface {
	Execute(ctx context.Context, workflowID string, triggerData map[string]any, leadID string) (*workflow.ExecutionState, error)
	Approve(ctx context.Context, executionID, nodeID string, approved bool) (*workflow.ExecutionState, error)
	Cancel(ctx context.Context, executionID string) error
	GetExecution(ctx context.Context, executionID string) (*workflow.ExecutionState, error)
}

// Server holds the wired services. Rule management, usage reports, and
// workflows are optional; their endpoints answer 503 when absent.
type Server struct {
	orc       *orchestrator.Orchestrator
	rules     *rules.Engine
	reports   UsageReports
	workflows WorkflowService
	log       *logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRules enables the rule-set management endpoints.
func WithRules(engine *rules.Engine) Option {
	return func(s *Server) { s.rules = engine }
}

// WithUsageReports enables the usage report endpoints.
func WithUsageReports(reports UsageReports) Option {
	return func(s *Server) { s.reports = reports }
}

// WithWorkflows enables the workflow endpoints.
func WithWorkflows(svc WorkflowService) Option {
	return func(s *Server) { s.workflows = svc }
}

// NewServer creates a Server around the orchestrator.
func NewServer(orc *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orc: orc,
		log: logger.New("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers all endpoints on a gorilla/mux router.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.Health).Methods("GET")

	r.HandleFunc("/api/v1/generate", s.Generate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/generate/stream", s.GenerateStream).Methods("POST", "OPTIONS")

	r.HandleFunc("/api/v1/models", s.ListModels).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/models/scores", s.ModelScores).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/models/usage", s.ModelUsage).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/rulesets", s.CreateRuleSet).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/rulesets", s.ListRuleSets).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/rulesets/{id}", s.GetRuleSet).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/rulesets/{id}", s.UpdateRuleSet).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/v1/rulesets/{id}", s.DeleteRuleSet).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/v1/usage/system", s.SystemUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/users/{id}", s.UserUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/models/{id}", s.ModelUsageReport).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/workflows/{id}/execute", s.ExecuteWorkflow).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/executions/{id}", s.GetExecution).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/executions/{id}/approve", s.ApproveExecution).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/executions/{id}/cancel", s.CancelExecution).Methods("POST", "OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// timeRange parses from/to query parameters (RFC 3339), defaulting to
// the last 30 days.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}
