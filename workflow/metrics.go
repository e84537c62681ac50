// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the executor.
type Metrics struct {
	NodeExecutionsTotal *prometheus.CounterVec
	ExecutionsTotal     *prometheus.CounterVec
	ApprovalsPending    prometheus.Gauge
}

// NewMetrics creates and registers the executor instruments. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "workflow",
			Name:      "node_executions_total",
			Help:      "Node handler executions by node type and outcome.",
		}, []string{"node_type", "outcome"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrelay",
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Finished workflow executions by terminal status.",
		}, []string{"status"}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadrelay",
			Subsystem: "workflow",
			Name:      "approvals_pending",
			Help:      "Executions currently suspended on a human approval gate.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodeExecutionsTotal, m.ExecutionsTotal, m.ApprovalsPending)
	}
	return m
}

func (m *Metrics) observeNode(nodeType NodeType, outcome string) {
	if m == nil {
		return
	}
	m.NodeExecutionsTotal.WithLabelValues(string(nodeType), outcome).Inc()
}

func (m *Metrics) observeTerminal(status Status) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeSuspend(delta float64) {
	if m == nil {
		return
	}
	m.ApprovalsPending.Add(delta)
}
