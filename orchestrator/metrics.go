// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the generation path.
type Metrics struct {
	GenerationsTotal  *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	FallbackAttempts  prometheus.Counter
	StreamChunksTotal prometheus.Counter
	TokensTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers the orchestrator instruments. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GenerationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "orchestrator",
			Name:      "generations_total",
			Help:      "Generation requests by model and outcome.",
		}, []string{"model", "outcome"}),
		GenerationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadrelay",
			Subsystem: "orchestrator",
			Name:      "generation_latency_seconds",
			Help:      "End-to-end generation latency by model.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model"}),
		FallbackAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "orchestrator",
			Name:      "fallback_attempts_total",
			Help:      "Fallback model attempts after a failed primary.",
		}),
		StreamChunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "orchestrator",
			Name:      "stream_chunks_total",
			Help:      "Streaming chunks delivered to consumers.",
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "orchestrator",
			Name:      "tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.GenerationsTotal,
			m.GenerationLatency,
			m.FallbackAttempts,
			m.StreamChunksTotal,
			m.TokensTotal,
		)
	}
	return m
}

func (m *Metrics) observeGeneration(model, outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(model, outcome).Inc()
	m.GenerationLatency.WithLabelValues(model).Observe(latencySeconds)
}

func (m *Metrics) observeUsage(model string, usage TokenUsage) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	m.TokensTotal.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
}

func (m *Metrics) observeFallback() {
	if m == nil {
		return
	}
	m.FallbackAttempts.Inc()
}

func (m *Metrics) observeChunk() {
	if m == nil {
		return
	}
	m.StreamChunksTotal.Inc()
}
