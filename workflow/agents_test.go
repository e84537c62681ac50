// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadrelay/platform/orchestrator"
)

func TestExtractJSONObject(t *testing.T) {
	result, ok := extractJSONObject(`{"score": 85, "classification": "HOT"}`)
	require.True(t, ok)
	assert.Equal(t, float64(85), result["score"])

	result, ok = extractJSONObject("Here is my analysis:\n{\"score\": 40}\nLet me know.")
	require.True(t, ok, "objects wrapped in prose still parse")
	assert.Equal(t, float64(40), result["score"])

	_, ok = extractJSONObject("no json here")
	assert.False(t, ok)

	_, ok = extractJSONObject("{broken")
	assert.False(t, ok)
}

func TestAgentRunnerLeadQualifierWritesBackScore(t *testing.T) {
	crmClient := &fakeCRM{lead: map[string]any{"name": "Ada", "status": "NEW"}}
	runner := NewAgentRunner(fakeGenerator{
		content: `{"score": 85, "classification": "HOT", "priority": "HIGH", "confidence": 0.9}`,
	}, crmClient, nil)

	result := runner.Run(context.Background(), AgentLeadQualifier, "lead-1", "", nil)

	assert.Equal(t, AgentLeadQualifier, result["agent_type"])
	assert.Equal(t, float64(85), result["score"])
	assert.Equal(t, "lead-1", result["lead_id"])

	require.Len(t, crmClient.leadPatches, 1)
	assert.Equal(t, float64(85), crmClient.leadPatches[0]["aiScore"])
	assert.Equal(t, "HOT", crmClient.leadPatches[0]["status"])
}

func TestAgentRunnerProseFallback(t *testing.T) {
	crmClient := &fakeCRM{}
	runner := NewAgentRunner(fakeGenerator{content: "Sounds like a promising lead."}, crmClient, nil)

	result := runner.Run(context.Background(), AgentMessageGenerator, "", "", nil)

	assert.Equal(t, "Sounds like a promising lead.", result["response"])
	assert.Equal(t, fallbackConfidence, result["confidence"])
	assert.Equal(t, "fake-model", result["model_used"])
}

func TestAgentRunnerGeneratorFailure(t *testing.T) {
	runner := NewAgentRunner(failingGenerator{}, &fakeCRM{}, nil)

	result := runner.Run(context.Background(), AgentGeneral, "lead-1", "summarize", nil)

	assert.Contains(t, result["error"], "model down")
	assert.Equal(t, 0.0, result["confidence"])
	assert.Equal(t, AgentGeneral, result["agent_type"])
}

func TestAgentRunnerGeneralParsesStructuredAnswer(t *testing.T) {
	runner := NewAgentRunner(fakeGenerator{
		content: `{"score": 85, "confidence": 0.9}`,
	}, &fakeCRM{}, nil)

	result := runner.Run(context.Background(), AgentGeneral, "", "score this", nil)

	assert.Equal(t, float64(85), result["score"], "structured fields must survive into the result")
	assert.Equal(t, 0.9, result["confidence"])
	assert.Equal(t, "fake-model", result["model_used"])
}

func TestAgentRunnerGeneralSubstitutesVariables(t *testing.T) {
	gen := &recordingGenerator{content: "ok"}
	runner := NewAgentRunner(gen, &fakeCRM{}, nil)

	runner.Run(context.Background(), AgentGeneral, "", "Summarize {topic}",
		map[string]any{"topic": "pricing"})

	assert.Equal(t, "Summarize pricing", gen.lastPrompt)
}

func TestFormatLead(t *testing.T) {
	out := formatLead(map[string]any{"name": "Ada", "status": "HOT", "aiScore": 85})
	assert.Contains(t, out, "name: Ada")
	assert.Contains(t, out, "aiScore: 85")

	assert.Equal(t, "No lead data available", formatLead(nil))
}

type recordingGenerator struct {
	content    string
	lastPrompt string
}

func (r *recordingGenerator) Generate(ctx context.Context, req orchestrator.GenerationRequest) (*orchestrator.GenerationResponse, error) {
	r.lastPrompt = req.Prompt
	return &orchestrator.GenerationResponse{Content: r.content, ModelUsed: "fake-model"}, nil
}
