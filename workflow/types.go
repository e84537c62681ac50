// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package workflow executes directed graphs of typed nodes over a shared
// mutable state: AI agent calls, conditionals, human approval gates, and
// CRM side effects. One execution owns one state and one graph instance;
// nothing is shared across concurrent runs of the same workflow.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of one execution. Transitions move only
// forward: PENDING → RUNNING → {COMPLETED, FAILED, CANCELLED}.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// canTransition enforces the forward-only state machine.
func (s Status) canTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// NodeType identifies a node handler.
type NodeType string

const (
	NodeTrigger       NodeType = "trigger"
	NodeAIAgent       NodeType = "ai_agent"
	NodeCondition     NodeType = "condition"
	NodeHumanApproval NodeType = "human_approval"
	NodeSendMessage   NodeType = "send_message"
	NodeUpdateLead    NodeType = "update_lead"
	NodeDelay         NodeType = "delay"
)

var nodeTypes = map[NodeType]bool{
	NodeTrigger:       true,
	NodeAIAgent:       true,
	NodeCondition:     true,
	NodeHumanApproval: true,
	NodeSendMessage:   true,
	NodeUpdateLead:    true,
	NodeDelay:         true,
}

// Node is one vertex of a workflow definition. Connections route the
// execution: a "next" key is an unconditional edge; "true"/"false" keys
// form a two-outcome edge driven by the node's last condition result. A
// node with no connections is a sink wired to the terminal state.
type Node struct {
	ID          string            `json:"id"`
	Type        NodeType          `json:"type"`
	Config      map[string]any    `json:"config,omitempty"`
	Connections map[string]string `json:"connections,omitempty"`
}

// Definition is the persisted workflow document, fetched from the CRM.
type Definition struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
}

// ParseDefinition decodes a raw workflow document.
func ParseDefinition(raw json.RawMessage) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &def, nil
}

// StepRecord is one entry in an execution's ordered step log.
type StepRecord struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	StepType    NodeType       `json:"step_type"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// MessageRecord is an AI response accumulated on the state.
type MessageRecord struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// ExecutionState is the mutable state of one workflow run. It is created
// at execution start, mutated by each node handler in turn, persisted at
// start and at every suspension or terminal transition.
type ExecutionState struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	LeadID      string          `json:"lead_id,omitempty"`
	CurrentNode string          `json:"current_node"`
	Variables   map[string]any  `json:"variables"`
	Messages    []MessageRecord `json:"messages,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// transition moves the status forward, or fails if the move would
// resurrect a terminal execution.
func (s *ExecutionState) transition(to Status) error {
	if !s.Status.canTransition(to) {
		return fmt.Errorf("workflow: invalid status transition %s -> %s for execution %s",
			s.Status, to, s.ExecutionID)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a copy with its own variable map and message slice,
// safe to hand to another goroutine.
func (s *ExecutionState) Clone() *ExecutionState {
	out := *s
	out.Variables = make(map[string]any, len(s.Variables))
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	out.Messages = append([]MessageRecord(nil), s.Messages...)
	return &out
}

// GraphError is a structural defect in a workflow definition; it fails
// graph construction before any node runs.
type GraphError struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Message    string `json:"message"`
}

func (e *GraphError) Error() string {
	if e.WorkflowID != "" {
		return fmt.Sprintf("workflow %s: invalid graph: %s", e.WorkflowID, e.Message)
	}
	return "invalid workflow graph: " + e.Message
}

var (
	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrStaleApproval rejects approval decisions whose execution is
	// terminal or whose pending record no longer exists.
	ErrStaleApproval = errors.New("approval request is stale")

	// ErrStepBudgetExceeded fails runs whose traversal (typically a
	// cycle) exceeds the per-run node execution budget.
	ErrStepBudgetExceeded = errors.New("workflow step budget exceeded")
)
