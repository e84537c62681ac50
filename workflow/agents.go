// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadrelay/platform/crm"
	"leadrelay/platform/orchestrator"
	"leadrelay/platform/shared/logger"
)

// Generator is the slice of the orchestrator the agents need.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.GenerationRequest) (*orchestrator.GenerationResponse, error)
}

// Agent type names accepted in ai_agent node configs.
const (
	AgentLeadQualifier     = "lead_qualifier"
	AgentMessageGenerator  = "message_generator"
	AgentFollowUpScheduler = "follow_up_scheduler"
	AgentGeneral           = "general"
)

// fallbackConfidence is attached when a model answers in prose instead
// of the requested JSON shape.
const fallbackConfidence = 0.7

// AgentRunner dispatches ai_agent nodes to the specialized agents. Each
// agent composes a role prompt with CRM-sourced lead context, runs one
// generation, and parses the structured result. Agent failures never
// abort the workflow: they come back as a result map carrying an
// "error" key and zero confidence, and traversal continues.
type AgentRunner struct {
	gen Generator
	crm crm.Client
	log *logger.Logger
}

// NewAgentRunner creates an AgentRunner.
func NewAgentRunner(gen Generator, crmClient crm.Client, log *logger.Logger) *AgentRunner {
	if log == nil {
		log = logger.New("workflow-agents")
	}
	return &AgentRunner{gen: gen, crm: crmClient, log: log}
}

// Run executes one agent and returns its structured result. The map
// always carries "agent_type" and "confidence"; on failure it carries
// "error" instead of the agent-specific fields.
func (r *AgentRunner) Run(ctx context.Context, agentType, leadID, prompt string, vars map[string]any) map[string]any {
	var (
		result map[string]any
		err    error
	)
	switch agentType {
	case AgentLeadQualifier:
		result, err = r.qualifyLead(ctx, leadID, prompt)
	case AgentMessageGenerator:
		result, err = r.generateMessage(ctx, leadID, prompt, vars)
	case AgentFollowUpScheduler:
		result, err = r.scheduleFollowUp(ctx, leadID, prompt, vars)
	default:
		result, err = r.general(ctx, prompt, vars)
		agentType = AgentGeneral
	}
	if err != nil {
		r.log.Warn("", "", "agent execution failed",
			map[string]interface{}{"agent_type": agentType, "lead_id": leadID, "error": err.Error()})
		return map[string]any{
			"agent_type": agentType,
			"lead_id":    leadID,
			"error":      err.Error(),
			"confidence": 0.0,
		}
	}
	result["agent_type"] = agentType
	if leadID != "" {
		result["lead_id"] = leadID
	}
	result["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return result
}

const leadQualifierPrompt = `You are an expert lead qualification agent for a CRM system.
Analyze the lead based on communication responsiveness, business fit,
urgency signals, budget indicators, and decision-making authority.
Provide a score from 0-100 and a classification (COLD, WARM, HOT), plus
suggested next actions and a priority level.

Respond in JSON format:
{"score": 85, "classification": "HOT", "priority": "HIGH", "reasoning": "...", "next_actions": ["..."], "confidence": 0.9}`

func (r *AgentRunner) qualifyLead(ctx context.Context, leadID, customPrompt string) (map[string]any, error) {
	lead, interactions := r.leadContext(ctx, leadID)

	if customPrompt == "" {
		customPrompt = "Standard lead qualification analysis"
	}
	prompt := fmt.Sprintf("%s\n\n%s\n\nLead Information:\n%s\n\nRecent Interactions:\n%s\n\nQualify this lead:",
		leadQualifierPrompt, customPrompt, formatLead(lead), formatInteractions(interactions))

	result, err := r.generateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	// Write the score back so reps see it without waiting for the run
	// to finish. Best-effort: a CRM hiccup must not fail qualification.
	if leadID != "" {
		if score, ok := result["score"]; ok {
			patch := map[string]any{"aiScore": score}
			if class, ok := result["classification"].(string); ok {
				patch["status"] = class
			}
			if err := r.crm.UpdateLead(ctx, leadID, patch); err != nil {
				r.log.Warn("", "", "lead score write-back failed",
					map[string]interface{}{"lead_id": leadID, "error": err.Error()})
			}
		}
	}
	return result, nil
}

const messageGeneratorPrompt = `You are an expert message generation agent for a CRM system.
Create a personalized, contextual message for the lead: professional but
conversational, referencing previous interactions when relevant, with a
clear call-to-action. Message types: welcome, follow_up, nurture,
promotion, re_engagement.

Respond in JSON format:
{"message": "...", "subject": "...", "message_type": "follow_up", "tone": "professional", "call_to_action": "...", "confidence": 0.9}`

func (r *AgentRunner) generateMessage(ctx context.Context, leadID, customPrompt string, vars map[string]any) (map[string]any, error) {
	lead, _ := r.leadContext(ctx, leadID)

	var recent []map[string]any
	if leadID != "" {
		recent, _ = r.crm.GetLeadMessages(ctx, leadID)
	}

	messageType := "follow_up"
	if mt, ok := vars["message_type"].(string); ok && mt != "" {
		messageType = mt
	}
	if customPrompt == "" {
		customPrompt = "Generate a contextual message for this lead"
	}

	prompt := fmt.Sprintf("%s\n\nContext: %s\n\nLead Information:\n%s\n\nRecent Messages:\n%s\n\nMessage Type: %s\n\nGenerate an appropriate message:",
		messageGeneratorPrompt, customPrompt, formatLead(lead), formatMessages(recent), messageType)

	return r.generateJSON(ctx, prompt)
}

const followUpSchedulerPrompt = `You are a follow-up scheduling agent for a CRM system.
Given the lead's state and recent activity, decide when and how to
follow up next.

Respond in JSON format:
{"follow_up_in_days": 3, "channel": "email", "reasoning": "...", "confidence": 0.9}`

func (r *AgentRunner) scheduleFollowUp(ctx context.Context, leadID, customPrompt string, vars map[string]any) (map[string]any, error) {
	lead, interactions := r.leadContext(ctx, leadID)

	if customPrompt == "" {
		customPrompt = "Determine the next follow-up for this lead"
	}
	prompt := fmt.Sprintf("%s\n\n%s\n\nLead Information:\n%s\n\nRecent Interactions:\n%s\n\nSchedule the follow-up:",
		followUpSchedulerPrompt, customPrompt, formatLead(lead), formatInteractions(interactions))

	return r.generateJSON(ctx, prompt)
}

func (r *AgentRunner) general(ctx context.Context, prompt string, vars map[string]any) (map[string]any, error) {
	resp, err := r.gen.Generate(ctx, orchestrator.GenerationRequest{
		Prompt: substituteVariablesPlain(prompt, vars),
	})
	if err != nil {
		return nil, err
	}
	// Structured answers merge into the run's variables downstream, so
	// parse them out the same way the specialized agents do.
	if result, ok := extractJSONObject(resp.Content); ok {
		result["model_used"] = resp.ModelUsed
		return result, nil
	}
	confidence := 0.8
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}
	return map[string]any{
		"response":   resp.Content,
		"confidence": confidence,
		"model_used": resp.ModelUsed,
	}, nil
}

// generateJSON runs one generation and parses the JSON object out of
// the response. Models occasionally wrap the object in prose; the
// parser tolerates that, and a response with no object at all degrades
// to {"response": content} with a conservative confidence.
func (r *AgentRunner) generateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	resp, err := r.gen.Generate(ctx, orchestrator.GenerationRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if result, ok := extractJSONObject(resp.Content); ok {
		result["model_used"] = resp.ModelUsed
		return result, nil
	}
	return map[string]any{
		"response":   resp.Content,
		"confidence": fallbackConfidence,
		"model_used": resp.ModelUsed,
	}, nil
}

// leadContext fetches lead data and interactions, tolerating CRM
// failures: the agent works from whatever context is available.
func (r *AgentRunner) leadContext(ctx context.Context, leadID string) (map[string]any, []map[string]any) {
	if leadID == "" {
		return nil, nil
	}
	lead, err := r.crm.GetLead(ctx, leadID)
	if err != nil {
		r.log.Warn("", "", "lead fetch failed, continuing without lead data",
			map[string]interface{}{"lead_id": leadID, "error": err.Error()})
		lead = nil
	}
	interactions, err := r.crm.GetLeadInteractions(ctx, leadID)
	if err != nil {
		interactions = nil
	}
	return lead, interactions
}

func extractJSONObject(content string) (map[string]any, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, false
	}
	return result, true
}

func formatLead(lead map[string]any) string {
	if len(lead) == 0 {
		return "No lead data available"
	}
	var b strings.Builder
	for _, field := range []string{"name", "phone", "email", "source", "status", "priority", "businessProfile", "aiScore"} {
		if v, ok := lead[field]; ok {
			fmt.Fprintf(&b, "%s: %v\n", field, v)
		}
	}
	if b.Len() == 0 {
		data, _ := json.Marshal(lead)
		return string(data)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInteractions(interactions []map[string]any) string {
	if len(interactions) == 0 {
		return "No recent interactions"
	}
	// Last 5 only; older history adds tokens without adding signal.
	if len(interactions) > 5 {
		interactions = interactions[:5]
	}
	parts := make([]string, 0, len(interactions))
	for _, it := range interactions {
		parts = append(parts, fmt.Sprintf("Type: %v\nDescription: %v\nOutcome: %v",
			it["type"], it["description"], it["outcome"]))
	}
	return strings.Join(parts, "\n---\n")
}

func formatMessages(messages []map[string]any) string {
	if len(messages) == 0 {
		return "No previous messages"
	}
	if len(messages) > 3 {
		messages = messages[:3]
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		direction := "Received"
		if d, ok := m["direction"].(string); ok && strings.EqualFold(d, "outbound") {
			direction = "Sent"
		}
		parts = append(parts, fmt.Sprintf("%s: %v", direction, m["content"]))
	}
	return strings.Join(parts, "\n---\n")
}

// substituteVariablesPlain renders {name} placeholders as plain text,
// for prompts and message templates (no quoting, unlike conditions).
func substituteVariablesPlain(template string, vars map[string]any) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return out
}
