// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

// Cost computes the billed amount for a completed generation under the
// given pricing policy. It is a pure function: same policy and usage, same
// result. Unknown policy kinds are an explicit error, never silently zero.
func Cost(policy PricingPolicy, usage TokenUsage) (float64, error) {
	switch policy.Kind {
	case PricingFree, PricingSubscription:
		return 0, nil
	case PricingPerToken:
		in := float64(usage.InputTokens) * policy.InputTokenCost
		out := float64(usage.OutputTokens) * policy.OutputTokenCost
		return in + out, nil
	case PricingPerRequest:
		return policy.RequestCost, nil
	default:
		return 0, &PricingError{Kind: policy.Kind}
	}
}

// costEfficiencyScore maps a pricing policy onto the 0-30 band used by
// model selection. Free models take the full 30; per-token models lose
// ground linearly with the average of their token costs; everything else
// sits at the neutral midpoint.
func costEfficiencyScore(policy PricingPolicy) float64 {
	switch policy.Kind {
	case PricingFree:
		return 30
	case PricingPerToken:
		avg := (policy.InputTokenCost + policy.OutputTokenCost) / 2
		score := 30 - avg*3000
		if score < 0 {
			return 0
		}
		return score
	default:
		return 15
	}
}
