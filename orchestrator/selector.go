// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

// familyBias gives hosted-vs-local preference a thumb on the scale. Local
// models score highest since they cost nothing to run; among hosted
// providers the weighting reflects observed answer quality on CRM tasks.
var familyBias = map[ProviderKind]float64{
	ProviderAnthropic: 10,
	ProviderOpenAI:    8,
	ProviderOllama:    15,
}

// ScoredModel pairs a candidate with its selection score, for diagnostics.
type ScoredModel struct {
	ModelID string  `json:"model_id"`
	Score   float64 `json:"score"`
}

// SelectModel picks the model for a request. A preferred model that is
// registered, active, and healthy wins outright. Otherwise every active,
// healthy model is scored and the best one is chosen; ties break toward
// the earlier-registered model, which keeps selection deterministic.
func (r *Registry) SelectModel(req GenerationRequest) (string, error) {
	if req.PreferredModel != "" {
		if d, ok := r.GetModel(req.PreferredModel); ok && d.IsActive && d.Health == HealthHealthy {
			return d.ModelID, nil
		}
	}

	best := ""
	bestScore := 0.0
	for _, d := range r.ListModels() {
		if !d.IsActive || d.Health != HealthHealthy {
			continue
		}
		score := r.scoreModel(d, req)
		if best == "" || score > bestScore {
			best = d.ModelID
			bestScore = score
		}
	}
	if best == "" {
		return "", ErrNoAvailableModel
	}
	return best, nil
}

// ScoreCandidates returns the scored, eligible candidates for a request.
// Exposed for the models API so operators can see why a model wins.
func (r *Registry) ScoreCandidates(req GenerationRequest) []ScoredModel {
	var out []ScoredModel
	for _, d := range r.ListModels() {
		if !d.IsActive || d.Health != HealthHealthy {
			continue
		}
		out = append(out, ScoredModel{ModelID: d.ModelID, Score: r.scoreModel(d, req)})
	}
	return out
}

// scoreModel computes the additive selection score:
//
//	+50 for being healthy (all scored candidates are)
//	latency: max(0, 50 - avgMs/100), or a flat 25 for models with no traffic
//	cost efficiency: 0-30 from the pricing policy
//	+20 when the model's context window covers the requested max tokens
//	provider-family bias constant
func (r *Registry) scoreModel(d ModelDescriptor, req GenerationRequest) float64 {
	score := 50.0

	if avg, ok := r.AverageLatency(d.ModelID); ok {
		latency := 50 - avg/100
		if latency > 0 {
			score += latency
		}
	} else {
		// New models get the benefit of the doubt.
		score += 25
	}

	score += costEfficiencyScore(d.Pricing)

	if req.MaxTokens > 0 && req.MaxTokens <= d.MaxContextTokens {
		score += 20
	}

	score += familyBias[d.Provider]
	return score
}

// FallbackChain resolves the ordered fallback candidates after a failed
// primary. Only the request's explicitly listed fallback models are
// candidates, in their listed order; unhealthy, inactive, unknown, and
// already-attempted ids are skipped. A request without fallback models
// gets no second attempt.
func (r *Registry) FallbackChain(req GenerationRequest, attempted map[string]bool) []string {
	var chain []string
	seen := make(map[string]bool, len(attempted))
	for id := range attempted {
		seen[id] = true
	}

	for _, id := range req.FallbackModels {
		if seen[id] {
			continue
		}
		d, ok := r.GetModel(id)
		if !ok || !d.IsActive || d.Health != HealthHealthy {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}
