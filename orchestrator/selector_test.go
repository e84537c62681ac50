// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perToken(in, out float64) PricingPolicy {
	return PricingPolicy{
		Kind:            PricingPerToken,
		InputTokenCost:  in,
		OutputTokenCost: out,
		Currency:        "USD",
	}
}

func free() PricingPolicy {
	return PricingPolicy{Kind: PricingFree}
}

func TestSelectModelPreferredWins(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderAnthropic,
		descriptor("claude-sonnet", ProviderAnthropic, perToken(0.000003, 0.000015)))
	o := newFakeAdapter(ProviderOllama,
		descriptor("llama3", ProviderOllama, free()))
	require.NoError(t, mustRegister(reg, a, o))

	got, err := reg.SelectModel(GenerationRequest{Prompt: "hi", PreferredModel: "claude-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", got)
}

func TestSelectModelPreferredUnhealthyFallsThrough(t *testing.T) {
	reg := NewRegistry()
	sick := descriptor("claude-sonnet", ProviderAnthropic, perToken(0.000003, 0.000015))
	sick.Health = HealthUnhealthy
	a := newFakeAdapter(ProviderAnthropic, sick)
	o := newFakeAdapter(ProviderOllama, descriptor("llama3", ProviderOllama, free()))
	require.NoError(t, mustRegister(reg, a, o))

	got, err := reg.SelectModel(GenerationRequest{Prompt: "hi", PreferredModel: "claude-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", got, "an unhealthy preferred model must not be chosen")
}

func TestSelectModelNoCandidates(t *testing.T) {
	reg := NewRegistry()
	inactive := descriptor("m1", ProviderOpenAI, free())
	inactive.IsActive = false
	unhealthy := descriptor("m2", ProviderOpenAI, free())
	unhealthy.Health = HealthUnhealthy
	a := newFakeAdapter(ProviderOpenAI, inactive, unhealthy)
	require.NoError(t, mustRegister(reg, a))

	_, err := reg.SelectModel(GenerationRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNoAvailableModel)
}

func TestScoreModelComponents(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOllama, descriptor("llama3", ProviderOllama, free()))
	require.NoError(t, mustRegister(reg, a))

	d, _ := reg.GetModel("llama3")

	// No traffic yet: 50 health + 25 new-model + 30 free + 20 capability + 15 bias.
	req := GenerationRequest{MaxTokens: 1000}
	assert.InDelta(t, 140.0, reg.scoreModel(d, req), 1e-9)

	// 2000ms average latency: term becomes 50 - 2000/100 = 30.
	reg.RecordLatency("llama3", 2000)
	assert.InDelta(t, 145.0, reg.scoreModel(d, req), 1e-9)

	// Very slow model: latency term clamps at zero, never negative.
	for i := 0; i < maxLatencySamples; i++ {
		reg.RecordLatency("llama3", 100000)
	}
	assert.InDelta(t, 115.0, reg.scoreModel(d, req), 1e-9)
}

func TestScoreModelCapabilityBonus(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("gpt", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))
	d, _ := reg.GetModel("gpt")

	within := reg.scoreModel(d, GenerationRequest{MaxTokens: 4096})
	beyond := reg.scoreModel(d, GenerationRequest{MaxTokens: 4_000_000})
	assert.InDelta(t, 20.0, within-beyond, 1e-9, "context fit is worth exactly 20 points")
}

func TestCostEfficiencyScore(t *testing.T) {
	tests := []struct {
		name   string
		policy PricingPolicy
		want   float64
	}{
		{"free takes the full band", free(), 30},
		{"cheap per-token keeps most of it", perToken(0.000003, 0.000015), 30 - 0.000009*3000},
		{"expensive per-token clamps to zero", perToken(0.05, 0.1), 0},
		{"per-request is neutral", PricingPolicy{Kind: PricingPerRequest, RequestCost: 0.01}, 15},
		{"subscription is neutral", PricingPolicy{Kind: PricingSubscription}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, costEfficiencyScore(tt.policy), 1e-9)
		})
	}
}

func TestSelectModelDeterministicTieBreak(t *testing.T) {
	reg := NewRegistry()
	// Two identical models from the same family: the first registered wins.
	a := newFakeAdapter(ProviderOpenAI,
		descriptor("first", ProviderOpenAI, free()),
		descriptor("second", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	for i := 0; i < 10; i++ {
		got, err := reg.SelectModel(GenerationRequest{Prompt: "hi", MaxTokens: 100})
		require.NoError(t, err)
		assert.Equal(t, "first", got)
	}
}

func TestFallbackChainSkipsUnhealthyAndAttempted(t *testing.T) {
	reg := NewRegistry()
	sick := descriptor("sick", ProviderOpenAI, free())
	sick.Health = HealthUnhealthy
	a := newFakeAdapter(ProviderOpenAI,
		descriptor("primary", ProviderOpenAI, free()),
		sick,
		descriptor("spare", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	chain := reg.FallbackChain(GenerationRequest{
		FallbackModels: []string{"sick", "spare", "spare", "missing"},
	}, map[string]bool{"primary": true})

	assert.Equal(t, []string{"spare"}, chain)
}

func TestFallbackChainEmptyWithoutRequestedFallbacks(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI,
		descriptor("primary", ProviderOpenAI, free()),
		descriptor("spare", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	// Healthy models that were not requested as fallbacks are never
	// candidates.
	chain := reg.FallbackChain(GenerationRequest{}, map[string]bool{"primary": true})
	assert.Empty(t, chain)
}
