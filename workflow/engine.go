// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadrelay/platform/crm"
	"leadrelay/platform/events"
	"leadrelay/platform/shared/logger"
)

// DefaultStepBudget bounds node executions per run. Cycles are legal in
// definitions (follow-up loops), so the budget is what terminates them.
const DefaultStepBudget = 256

// Executor runs workflow executions: one state, one graph, one active
// node at a time per execution. Executions suspend on human approval
// gates and resume through Approve; Cancel stops them externally.
type Executor struct {
	crm       crm.Client
	agents    *AgentRunner
	store     Store
	approvals Approvals
	bus       events.Publisher
	metrics   *Metrics
	log       *logger.Logger

	stepBudget int

	// mu guards the active map, status transitions, and every state
	// mutation a concurrent Cancel or GetExecution could observe.
	mu     sync.Mutex
	active map[string]*run
}

// run is one in-flight execution: its state, its private graph
// instance, and the node execution count against the step budget.
type run struct {
	state *ExecutionState
	graph *graph
	steps int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEventBus attaches best-effort event publishing.
func WithEventBus(bus events.Publisher) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithStepBudget overrides the per-run node execution budget.
func WithStepBudget(n int) ExecutorOption {
	return func(e *Executor) { e.stepBudget = n }
}

// NewExecutor creates an Executor.
func NewExecutor(crmClient crm.Client, agents *AgentRunner, store Store, approvals Approvals, opts ...ExecutorOption) *Executor {
	e := &Executor{
		crm:        crmClient,
		agents:     agents,
		store:      store,
		approvals:  approvals,
		log:        logger.New("workflow-executor"),
		stepBudget: DefaultStepBudget,
		active:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute fetches the workflow definition, validates it, and runs it to
// completion, failure, or approval suspension. The returned state is
// terminal unless the run is waiting on an approval, in which case it
// is still RUNNING with an approval_pending variable set.
func (e *Executor) Execute(ctx context.Context, workflowID string, triggerData map[string]any, leadID string) (*ExecutionState, error) {
	raw, err := e.crm.GetWorkflowDefinition(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("fetching workflow %s: %w", workflowID, err)
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	g, err := buildGraph(workflowID, def)
	if err != nil {
		return nil, err
	}

	variables := make(map[string]any, len(triggerData))
	for k, v := range triggerData {
		variables[k] = v
	}

	now := time.Now().UTC()
	state := &ExecutionState{
		ExecutionID: "exec_" + uuid.NewString(),
		WorkflowID:  workflowID,
		LeadID:      leadID,
		Variables:   variables,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.SaveExecution(ctx, state); err != nil {
		return nil, err
	}

	r := &run{state: state, graph: g}
	e.mu.Lock()
	if err := state.transition(StatusRunning); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.active[state.ExecutionID] = r
	e.mu.Unlock()

	e.log.Info("", state.ExecutionID, "workflow execution started",
		map[string]interface{}{"workflow_id": workflowID, "lead_id": leadID})

	return e.resume(ctx, r, g.entry)
}

// Approve pushes a human decision back into a suspended execution and
// resumes traversal from the approval node's outgoing edge. Decisions
// with no pending record, or whose execution has since reached a
// terminal state, are rejected as stale.
func (e *Executor) Approve(ctx context.Context, executionID, nodeID string, approved bool) (*ExecutionState, error) {
	if _, err := e.approvals.Get(ctx, executionID, nodeID); err != nil {
		if err == ErrApprovalNotFound {
			return nil, ErrStaleApproval
		}
		return nil, err
	}

	r, err := e.loadRun(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if r.state.Status != StatusRunning {
		return nil, ErrStaleApproval
	}
	node, ok := r.graph.nodes[nodeID]
	if !ok || node.Type != NodeHumanApproval {
		return nil, ErrStaleApproval
	}

	if err := e.approvals.Resolve(ctx, executionID, nodeID); err != nil {
		return nil, err
	}
	e.metrics.observeSuspend(-1)

	e.mu.Lock()
	r.state.Variables["approval_pending"] = false
	r.state.Variables["approved"] = approved
	// Conditional edges off the gate route on the decision.
	r.state.Variables["condition_result"] = approved
	e.mu.Unlock()

	e.log.Info("", executionID, "approval decision received",
		map[string]interface{}{"node_id": nodeID, "approved": approved})

	return e.resume(ctx, r, r.graph.next(node, r.state))
}

// Cancel stops an execution externally. Terminal executions cannot be
// cancelled; pending approval records become stale immediately.
func (e *Executor) Cancel(ctx context.Context, executionID string) error {
	r, err := e.loadRun(ctx, executionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	suspended, _ := r.state.Variables["approval_pending"].(bool)
	e.mu.Unlock()
	if suspended {
		e.metrics.observeSuspend(-1)
	}
	if err := e.finish(ctx, r, StatusCancelled, ""); err != nil {
		return err
	}
	if err := e.approvals.InvalidateExecution(ctx, executionID); err != nil {
		e.log.Warn("", executionID, "approval invalidation failed",
			map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// GetExecution returns the current state of an execution, preferring
// the live in-process copy over the persisted one. Live state is
// returned as a snapshot: the run keeps mutating its own copy.
func (e *Executor) GetExecution(ctx context.Context, executionID string) (*ExecutionState, error) {
	e.mu.Lock()
	r, ok := e.active[executionID]
	var snap *ExecutionState
	if ok {
		snap = r.state.Clone()
	}
	e.mu.Unlock()
	if ok {
		return snap, nil
	}
	return e.store.GetExecution(ctx, executionID)
}

// loadRun resolves an execution id to a live run, rehydrating from the
// store (and refetching the definition) after a process restart.
func (e *Executor) loadRun(ctx context.Context, executionID string) (*run, error) {
	e.mu.Lock()
	r, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		return r, nil
	}

	state, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, fmt.Errorf("execution %s is already %s", executionID, state.Status)
	}

	raw, err := e.crm.GetWorkflowDefinition(ctx, state.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("refetching workflow %s: %w", state.WorkflowID, err)
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	g, err := buildGraph(state.WorkflowID, def)
	if err != nil {
		return nil, err
	}

	r = &run{state: state, graph: g}
	e.mu.Lock()
	e.active[executionID] = r
	e.mu.Unlock()
	return r, nil
}

// resume drives the traversal loop from nodeID until the terminal
// state, a failure, or an approval suspension. Panics in node handlers
// are converted to a FAILED terminal transition with the same
// completion bookkeeping as a clean finish.
func (e *Executor) resume(ctx context.Context, r *run, nodeID string) (state *ExecutionState, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ferr := e.finish(ctx, r, StatusFailed, fmt.Sprintf("panic in node %s: %v", r.state.CurrentNode, rec))
			state, err = r.state, ferr
		}
	}()

	for nodeID != "" {
		e.mu.Lock()
		status := r.state.Status
		e.mu.Unlock()
		if status != StatusRunning {
			// Cancelled mid-run; bookkeeping already happened there.
			return r.state, nil
		}

		if r.steps >= e.stepBudget {
			if err := e.finish(ctx, r, StatusFailed, ErrStepBudgetExceeded.Error()); err != nil {
				return r.state, err
			}
			return r.state, nil
		}
		r.steps++

		node := r.graph.nodes[nodeID]
		e.mu.Lock()
		r.state.CurrentNode = nodeID
		e.mu.Unlock()

		data, nodeErr := e.executeNode(ctx, r.state, node)
		e.recordStep(ctx, r.state, node, data)
		if nodeErr != nil {
			e.metrics.observeNode(node.Type, "error")
			if err := e.finish(ctx, r, StatusFailed,
				fmt.Sprintf("node %s: %v", nodeID, nodeErr)); err != nil {
				return r.state, err
			}
			return r.state, nil
		}
		e.metrics.observeNode(node.Type, "success")

		if node.Type == NodeHumanApproval {
			// Suspend. Resumption re-enters through Approve.
			e.mu.Lock()
			r.state.UpdatedAt = time.Now().UTC()
			e.mu.Unlock()
			if err := e.store.SaveExecution(ctx, r.state); err != nil {
				return r.state, err
			}
			e.metrics.observeSuspend(1)
			return r.state, nil
		}

		nodeID = r.graph.next(node, r.state)
	}

	if err := e.finish(ctx, r, StatusCompleted, ""); err != nil {
		return r.state, err
	}
	return r.state, nil
}

// finish performs the terminal transition and its bookkeeping: persist
// final state, publish the completion event, drop the active-run entry.
// The forward-only transition makes the completion event exactly-once
// even when a cancel races a finishing run.
func (e *Executor) finish(ctx context.Context, r *run, status Status, errMsg string) error {
	e.mu.Lock()
	terr := r.state.transition(status)
	if terr == nil && errMsg != "" {
		r.state.Error = errMsg
	}
	e.mu.Unlock()
	if terr != nil {
		return terr
	}

	if err := e.store.SaveExecution(ctx, r.state); err != nil {
		e.log.ErrorWithCause("", r.state.ExecutionID, "persisting terminal state failed", err, nil)
	}

	e.publish(ctx, events.ChannelWorkflowCompleted, map[string]any{
		"execution_id": r.state.ExecutionID,
		"workflow_id":  r.state.WorkflowID,
		"status":       string(r.state.Status),
		"lead_id":      r.state.LeadID,
		"error":        r.state.Error,
	})
	e.metrics.observeTerminal(status)

	e.mu.Lock()
	delete(e.active, r.state.ExecutionID)
	e.mu.Unlock()

	e.log.Info("", r.state.ExecutionID, "workflow execution finished",
		map[string]interface{}{"status": string(status), "error": errMsg})
	return nil
}

// executeNode runs one node handler. A returned error fails the whole
// execution; handlers that should degrade instead (conditions, agents)
// record their failure on the state and return nil.
func (e *Executor) executeNode(ctx context.Context, state *ExecutionState, node *Node) (map[string]any, error) {
	switch node.Type {
	case NodeTrigger:
		return map[string]any{"triggered": true}, nil

	case NodeAIAgent:
		agentType := cfgString(node.Config, "agentType", AgentGeneral)
		prompt := cfgString(node.Config, "prompt", "")
		result := e.agents.Run(ctx, agentType, state.LeadID, prompt, state.Variables)
		content, _ := result["response"].(string)
		if content == "" {
			content, _ = result["message"].(string)
		}
		confidence, _ := result["confidence"].(float64)
		e.mu.Lock()
		for k, v := range result {
			state.Variables[k] = v
		}
		state.Messages = append(state.Messages, MessageRecord{
			Type:       "ai_response",
			Content:    content,
			Confidence: confidence,
		})
		e.mu.Unlock()
		return result, nil

	case NodeCondition:
		template := cfgString(node.Config, "condition", "true")
		result, err := evaluateCondition(template, state.Variables)
		e.mu.Lock()
		if err != nil {
			// Non-fatal: fall through to the false branch.
			result = false
			state.Error = fmt.Sprintf("condition evaluation error: %v", err)
		}
		state.Variables["condition_result"] = result
		e.mu.Unlock()
		return map[string]any{"result": result}, nil

	case NodeHumanApproval:
		message := cfgString(node.Config, "message", "Approval required")
		// The record gets its own copy so it never aliases the live map.
		e.mu.Lock()
		vars := make(map[string]any, len(state.Variables))
		for k, v := range state.Variables {
			vars[k] = v
		}
		e.mu.Unlock()
		rec := ApprovalRecord{
			ExecutionID: state.ExecutionID,
			NodeID:      node.ID,
			Message:     message,
			Context:     vars,
			LeadID:      state.LeadID,
			CreatedAt:   time.Now().UTC(),
		}
		// Without the record, resumption is impossible; this one must
		// not degrade.
		if err := e.approvals.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating approval record: %w", err)
		}
		e.mu.Lock()
		state.Variables["approval_pending"] = true
		e.mu.Unlock()
		e.publish(ctx, events.ChannelApprovalRequired, rec)
		return map[string]any{"approval_requested": true, "message": message}, nil

	case NodeSendMessage:
		template := cfgString(node.Config, "message", "")
		message := substituteVariablesPlain(template, state.Variables)
		data := map[string]any{"message": message}
		if state.LeadID != "" {
			messageType := cfgString(node.Config, "message_type", "workflow")
			id, err := e.crm.SendMessage(ctx, state.LeadID, message, messageType)
			if err != nil {
				return data, err
			}
			e.mu.Lock()
			state.Variables["message_sent"] = true
			state.Variables["message_id"] = id
			e.mu.Unlock()
			data["message_id"] = id
		}
		return data, nil

	case NodeUpdateLead:
		patch := map[string]any{}
		for _, field := range []string{"status", "priority", "aiScore"} {
			if v, ok := node.Config[field]; ok {
				patch[field] = v
			}
		}
		if state.LeadID != "" && len(patch) > 0 {
			if err := e.crm.UpdateLead(ctx, state.LeadID, patch); err != nil {
				return patch, err
			}
			e.mu.Lock()
			state.Variables["lead_updated"] = true
			state.Variables["updates"] = patch
			e.mu.Unlock()
		}
		return patch, nil

	case NodeDelay:
		seconds := 1.0
		if v, ok := node.Config["delay"]; ok {
			if f, ok := toFloat(v); ok {
				seconds = f
			}
		}
		// The executor only marks intent; a scheduler collaborator owns
		// the actual suspension.
		e.mu.Lock()
		state.Variables["delay_applied"] = seconds
		e.mu.Unlock()
		return map[string]any{"delay": seconds}, nil

	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

// recordStep appends the step to the persistent log and streams it on
// the event bus. Both are best-effort observability, never fatal.
func (e *Executor) recordStep(ctx context.Context, state *ExecutionState, node *Node, data map[string]any) {
	step := StepRecord{
		ExecutionID: state.ExecutionID,
		NodeID:      node.ID,
		StepType:    node.Type,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
	if err := e.store.InsertStep(ctx, step); err != nil {
		e.log.Warn("", state.ExecutionID, "step persistence failed",
			map[string]interface{}{"node_id": node.ID, "error": err.Error()})
	}
	e.publish(ctx, events.ChannelExecutionStep, step)
}

func (e *Executor) publish(ctx context.Context, channel string, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.log.Warn("", "", "event publish failed",
			map[string]interface{}{"channel": channel, "error": err.Error()})
	}
}

func cfgString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
